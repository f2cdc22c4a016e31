// Package client talks to a remote debug console over TCP.
//
// The console protocol has no response framing: a response is whatever the
// console prints before the next prompt. The client therefore reads until a
// prompt appears at the start of a line and hands everything before it back
// as the Response. Output that arrives while no command is in flight, such
// as forwarded debug messages, goes to the OutputHandler instead.
package client

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/crazyhappygame/axmol/console"
)

// Timeouts.
const (
	// CommandTimeout is the default timeout for Send when ctx has no deadline.
	CommandTimeout = 30 * time.Second

	// ConnectionTimeout bounds dialing and waiting for the first prompt.
	ConnectionTimeout = 5 * time.Second
)

// OutputHandler receives unsolicited output, one complete line at a time.
type OutputHandler func(line string)

// DisconnectHandler is called when the console drops the connection.
type DisconnectHandler func(err error)

// Option configures a Client.
type Option func(*Client)

// WithPrompt sets the prompt the console uses. The default is
// console.DefaultPrompt.
func WithPrompt(prompt string) Option {
	return func(c *Client) {
		if prompt != "" {
			c.prompt = prompt
		}
	}
}

// WithOutputHandler sets the handler for unsolicited output.
func WithOutputHandler(h OutputHandler) Option {
	return func(c *Client) { c.outputHandler = h }
}

// WithDisconnectHandler sets the handler called when the console drops the
// connection.
func WithDisconnectHandler(h DisconnectHandler) Option {
	return func(c *Client) { c.disconnectHandler = h }
}

// Client is a console connection.
//
// Thread Safety:
// The client uses a mutex to protect its state and is safe for concurrent
// use, but commands are answered in order, so concurrent Sends are
// serialized.
type Client struct {
	mu sync.Mutex

	conn        net.Conn
	addr        string
	isConnected bool
	banner      string
	prompt      string

	// pending holds bytes read but not yet delivered.
	pending strings.Builder

	// inflight counts Sends waiting for their prompt.
	inflight  int
	responses chan responseResult

	// sendMu serializes Sends so responses pair with their lines.
	sendMu sync.Mutex

	outputHandler     OutputHandler
	disconnectHandler DisconnectHandler

	readerDone chan struct{}
}

type responseResult struct {
	response Response
	err      error
}

// New creates an unconnected client.
func New(opts ...Option) *Client {
	c := &Client{prompt: console.DefaultPrompt}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dial creates a client and connects it to addr.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	c := New(opts...)
	if err := c.Connect(ctx, addr); err != nil {
		return nil, err
	}
	return c, nil
}

// IsConnected returns true if the client is currently connected.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isConnected
}

// Addr returns the address of the connected console, or "" when not
// connected.
func (c *Client) Addr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addr
}

// Banner returns what the console printed before its first prompt.
func (c *Client) Banner() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.banner
}

// Connect dials addr and waits for the console's first prompt.
func (c *Client) Connect(ctx context.Context, addr string) error {
	c.mu.Lock()
	if c.isConnected {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	c.mu.Unlock()

	connectCtx, cancel := context.WithTimeout(ctx, ConnectionTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(connectCtx, "tcp", addr)
	if err != nil {
		return NewConnectionError("failed to connect", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.addr = addr
	c.isConnected = true
	c.pending.Reset()
	c.inflight = 1 // the greeting counts as a response
	c.responses = make(chan responseResult, 1)
	c.readerDone = make(chan struct{})
	responses := c.responses
	go c.readerLoop(conn, c.readerDone)
	c.mu.Unlock()

	select {
	case result := <-responses:
		if result.err != nil {
			c.Close()
			return NewConnectionError("no prompt", result.err)
		}
		c.mu.Lock()
		c.banner = result.response.Text
		c.mu.Unlock()
		return nil
	case <-connectCtx.Done():
		c.Close()
		return NewConnectionError("no prompt", ErrTimeout)
	}
}

// Close disconnects from the console. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	done := c.readerDone
	c.isConnected = false
	c.conn = nil
	c.addr = ""
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	err := conn.Close()
	<-done
	return err
}

// Send writes line and returns the console's response. A ctx without a
// deadline gets CommandTimeout. When the console closes the connection
// while answering (exit does), the partial response is returned with
// ErrClosed.
func (c *Client) Send(ctx context.Context, line string) (Response, error) {
	if strings.ContainsAny(line, "\r\n") {
		line = strings.NewReplacer("\r", " ", "\n", " ").Replace(line)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, CommandTimeout)
		defer cancel()
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	c.mu.Lock()
	if !c.isConnected {
		c.mu.Unlock()
		return Response{}, ErrNotConnected
	}
	conn := c.conn
	responses := c.responses
	c.inflight++
	c.mu.Unlock()

	if _, err := conn.Write([]byte(line + "\n")); err != nil {
		c.settle()
		return Response{}, NewConnectionError("failed to send command", err)
	}

	select {
	case result := <-responses:
		return result.response, result.err
	case <-ctx.Done():
		// The late prompt must not be paired with the next command, so the
		// connection is abandoned.
		c.Close()
		return Response{}, ErrTimeout
	}
}

func (c *Client) settle() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflight > 0 {
		c.inflight--
	}
}

// readerLoop reads from conn until it fails and turns the byte stream into
// responses and unsolicited output.
func (c *Client) readerLoop(conn net.Conn, done chan struct{}) {
	defer close(done)

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			c.processData(string(buf[:n]))
		}
		if err != nil {
			c.handleDisconnect(err)
			return
		}
	}
}

// processData appends data to the pending output and delivers every
// response it completes.
func (c *Client) processData(data string) {
	var lines []string

	c.mu.Lock()
	c.pending.WriteString(data)
	text := c.pending.String()
	for {
		i := promptIndex(text, c.prompt)
		if i < 0 {
			break
		}
		c.deliver(responseResult{response: Response{Text: text[:i]}})
		text = text[i+len(c.prompt):]
	}
	if c.inflight == 0 {
		if j := strings.LastIndexByte(text, '\n'); j >= 0 {
			lines = strings.Split(text[:j], "\n")
			text = text[j+1:]
		}
	}
	c.pending.Reset()
	c.pending.WriteString(text)
	handler := c.outputHandler
	c.mu.Unlock()

	if handler != nil {
		for _, line := range lines {
			handler(line)
		}
	}
}

// deliver hands a response to the waiting Send. Prompts nobody waits for
// are dropped. c.mu must be held.
func (c *Client) deliver(result responseResult) {
	if c.inflight == 0 {
		return
	}
	c.inflight--
	select {
	case c.responses <- result:
	default:
	}
}

// handleDisconnect handles an unexpected disconnection.
func (c *Client) handleDisconnect(err error) {
	c.mu.Lock()
	wasConnected := c.isConnected
	c.isConnected = false
	c.deliverClosed()
	handler := c.disconnectHandler
	c.mu.Unlock()

	if wasConnected && handler != nil {
		handler(err)
	}
}

// deliverClosed fails the waiting Send, passing along what was read. c.mu
// must be held.
func (c *Client) deliverClosed() {
	if c.inflight == 0 {
		return
	}
	c.inflight = 0
	select {
	case c.responses <- responseResult{response: Response{Text: c.pending.String()}, err: ErrClosed}:
	default:
	}
	c.pending.Reset()
}

// promptIndex finds prompt at the start of a line in text.
func promptIndex(text, prompt string) int {
	from := 0
	for {
		i := strings.Index(text[from:], prompt)
		if i < 0 {
			return -1
		}
		i += from
		if i == 0 || text[i-1] == '\n' {
			return i
		}
		from = i + 1
	}
}
