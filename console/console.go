package console

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/netutil"
	"golang.org/x/time/rate"
)

// Option configures a Console.
type Option func(*Console)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Console) {
		if logger != nil {
			c.log = logger
		}
	}
}

// WithScheduler sets the main-thread scheduler used by built-in commands.
func WithScheduler(s Scheduler) Option {
	return func(c *Console) {
		if s != nil {
			c.scheduler = s
		}
	}
}

// WithDebugBuffer shares buf with the engine's logging.
func WithDebugBuffer(buf *DebugBuffer) Option {
	return func(c *Console) {
		if buf != nil {
			c.debug = buf
		}
	}
}

// WithBindAddress sets the address ListenOnTCP binds.
func WithBindAddress(addr string) Option {
	return func(c *Console) { c.bindAddress = addr }
}

// WithPrompt sets the prompt string.
func WithPrompt(prompt string) Option {
	return func(c *Console) { c.prompt = prompt }
}

// WithWelcome sets a banner sent to every new session before the prompt.
func WithWelcome(banner string) Option {
	return func(c *Console) { c.welcome = banner }
}

// WithCommandSeparator sets the separator joining commands on one line.
func WithCommandSeparator(sep rune) Option {
	return func(c *Console) { c.dispatcher.SetSeparator(sep) }
}

// WithMaxLineLength caps the bytes buffered for one unterminated line.
func WithMaxLineLength(n int) Option {
	return func(c *Console) {
		if n > 0 {
			c.maxLineLength = n
		}
	}
}

// WithReadChunkSize bounds a single socket read.
func WithReadChunkSize(n int) Option {
	return func(c *Console) {
		if n > 0 {
			c.readChunkSize = n
		}
	}
}

// WithFlushInterval sets how often pending debug strings are broadcast.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Console) {
		if d > 0 {
			c.flushInterval = d
		}
	}
}

// WithWriteTimeout bounds a single write to a client.
func WithWriteTimeout(d time.Duration) Option {
	return func(c *Console) { c.writeTimeout = d }
}

// WithViolationLimit sets how many protocol violations a session may make
// (burst) and how quickly that allowance refills (one per interval).
func WithViolationLimit(burst int, interval time.Duration) Option {
	return func(c *Console) {
		if burst > 0 {
			c.violationBurst = burst
		}
		if interval > 0 {
			c.violationInterval = interval
		}
	}
}

// WithMaxSessions caps the number of simultaneous sessions. Connections
// beyond the cap wait in the listen backlog until a session ends. Zero
// means unlimited.
func WithMaxSessions(n int) Option {
	return func(c *Console) {
		if n >= 0 {
			c.maxSessions = n
		}
	}
}

// WithCommandHook sets a function called on the console goroutine before
// every resolved command runs.
func WithCommandHook(h CommandHook) Option {
	return func(c *Console) { c.hook = h }
}

type state int

const (
	stateIdle state = iota
	stateListening
	stateStopping
	stateStopped
)

// run holds the goroutines of one Idle→Listening→Stopped cycle.
type run struct {
	listener net.Listener
	quit     chan struct{}
	events   chan event
	wg       sync.WaitGroup
}

type eventKind int

const (
	eventAccepted eventKind = iota
	eventData
	eventClosed
)

type event struct {
	kind    eventKind
	conn    net.Conn
	session *Session
	data    []byte
	err     error
}

// Console is the remote debug console. The zero value is not usable; use
// New.
//
// Thread Safety:
// All exported methods are safe for concurrent use. Command callbacks run
// on the console goroutine, one at a time.
type Console struct {
	log        *zap.Logger
	registry   *Registry
	dispatcher *Dispatcher
	scheduler  Scheduler
	debug      *DebugBuffer

	maxLineLength     int
	readChunkSize     int
	flushInterval     time.Duration
	writeTimeout      time.Duration
	violationBurst    int
	violationInterval time.Duration
	maxSessions       int
	hook              CommandHook

	mu          sync.Mutex
	state       state
	bindAddress string
	prompt      string
	welcome     string
	isIPv6      bool
	run         *run
	sessions    map[string]*Session
}

// New creates an idle console with an empty registry. Register the
// built-in commands with RegisterBuiltins.
func New(opts ...Option) *Console {
	registry := NewRegistry()
	c := &Console{
		log:               zap.NewNop(),
		registry:          registry,
		scheduler:         inlineScheduler,
		debug:             NewDebugBuffer(),
		maxLineLength:     MaxLineLength,
		readChunkSize:     DefaultReadChunkSize,
		flushInterval:     DefaultFlushInterval,
		writeTimeout:      DefaultWriteTimeout,
		violationBurst:    DefaultViolationBurst,
		violationInterval: DefaultViolationInterval,
		bindAddress:       DefaultBindAddress,
		prompt:            DefaultPrompt,
		sessions:          make(map[string]*Session),
	}
	c.dispatcher = NewDispatcher(registry, nil)
	for _, opt := range opts {
		opt(c)
	}
	c.dispatcher.log = c.log
	c.dispatcher.hook = c.hook
	return c
}

// Registry returns the command registry.
func (c *Console) Registry() *Registry {
	return c.registry
}

// Dispatcher returns the dispatcher used for every session.
func (c *Console) Dispatcher() *Dispatcher {
	return c.dispatcher
}

// Scheduler returns the main-thread scheduler.
func (c *Console) Scheduler() Scheduler {
	return c.scheduler
}

// DebugBuffer returns the buffer of pending debug strings.
func (c *Console) DebugBuffer() *DebugBuffer {
	return c.debug
}

// Log queues msg for every session when debug messages are enabled. It is
// safe to call from the main thread.
func (c *Console) Log(msg string) {
	c.debug.Append(msg)
}

// AddCommand registers cmd; the last registration of a name wins.
func (c *Console) AddCommand(cmd *Command) error {
	return c.registry.Add(cmd)
}

// AddSubCommand registers sub under the command named cmdName.
func (c *Console) AddSubCommand(cmdName string, sub *Command) error {
	return c.registry.AddSubCommand(cmdName, sub)
}

// GetCommand returns a copy of the named command.
func (c *Console) GetCommand(name string) (*Command, bool) {
	return c.registry.Get(name)
}

// GetSubCommand returns a copy of a sub-command.
func (c *Console) GetSubCommand(cmdName, subName string) (*Command, bool) {
	return c.registry.GetSubCommand(cmdName, subName)
}

// DelCommand removes a command; absent names are ignored.
func (c *Console) DelCommand(name string) {
	c.registry.Remove(name)
}

// DelSubCommand removes a sub-command; absent names are ignored.
func (c *Console) DelSubCommand(cmdName, subName string) {
	c.registry.RemoveSubCommand(cmdName, subName)
}

// SetBindAddress sets the address used by the next ListenOnTCP call.
func (c *Console) SetBindAddress(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindAddress = addr
}

// IsIPv6Server reports whether the active listener is bound to an IPv6
// address.
func (c *Console) IsIPv6Server() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isIPv6
}

// SetPrompt changes the prompt for subsequent lines.
func (c *Console) SetPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompt = prompt
}

// Prompt returns the current prompt.
func (c *Console) Prompt() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prompt
}

// SetCommandSeparator changes the command separator. Zero disables it.
func (c *Console) SetCommandSeparator(sep rune) {
	c.dispatcher.SetSeparator(sep)
}

// CommandSeparator returns the command separator.
func (c *Console) CommandSeparator() rune {
	return c.dispatcher.Separator()
}

// Addr returns the listener address, or nil when not listening.
func (c *Console) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.run == nil {
		return nil
	}
	return c.run.listener.Addr()
}

// Listening reports whether the console is accepting connections.
func (c *Console) Listening() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateListening
}

// Sessions returns the number of connected sessions.
func (c *Console) Sessions() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// ListenOnTCP binds the configured bind address on port and starts the
// console goroutine. IPv6 is used when the bind address is an IPv6
// literal.
func (c *Console) ListenOnTCP(port int) error {
	c.mu.Lock()
	bind := c.bindAddress
	busy := c.run != nil
	c.mu.Unlock()

	if busy {
		return ErrAlreadyListening
	}

	addr := net.JoinHostPort(bind, strconv.Itoa(port))
	if port < 0 || port > 65535 {
		return &ListenError{Op: "listen", Address: addr, Cause: fmt.Errorf("port %d out of range", port)}
	}

	l, err := net.Listen(tcpNetwork(bind), addr)
	if err != nil {
		return &ListenError{Op: "listen", Address: addr, Cause: err}
	}
	if err := c.Listen(l); err != nil {
		l.Close()
		return err
	}
	return nil
}

// ListenOnFileDescriptor adopts a listening socket opened by the caller,
// e.g. one inherited from a parent process. The console takes ownership
// of the descriptor.
func (c *Console) ListenOnFileDescriptor(fd uintptr) error {
	addr := "fd:" + strconv.FormatUint(uint64(fd), 10)

	f := os.NewFile(fd, addr)
	if f == nil {
		return &ListenError{Op: "adopt", Address: addr, Cause: ErrInvalidDescriptor}
	}
	l, err := net.FileListener(f)
	f.Close()
	if err != nil {
		return &ListenError{Op: "adopt", Address: addr, Cause: errors.Join(ErrInvalidDescriptor, err)}
	}
	if err := c.Listen(l); err != nil {
		l.Close()
		return err
	}
	return nil
}

// Listen starts the console goroutine on an existing listener. The
// console owns l from now on.
func (c *Console) Listen(l net.Listener) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.run != nil {
		return ErrAlreadyListening
	}
	if c.maxSessions > 0 {
		l = netutil.LimitListener(l, c.maxSessions)
	}

	r := &run{
		listener: l,
		quit:     make(chan struct{}),
		events:   make(chan event, 16),
	}
	c.run = r
	c.state = stateListening
	c.isIPv6 = isIPv6Addr(l.Addr())
	c.sessions = make(map[string]*Session)

	r.wg.Add(2)
	go c.acceptLoop(r)
	go c.loop(r)

	c.log.Info("console listening", zap.Stringer("addr", l.Addr()))
	return nil
}

// Stop closes the listener and every session and returns once all console
// goroutines have exited. It is idempotent and may be called concurrently
// and while a command is running. It must not be called from a command
// callback.
func (c *Console) Stop() {
	c.mu.Lock()
	r := c.run
	if r != nil && c.state == stateListening {
		c.state = stateStopping
		close(r.quit)
		r.listener.Close()
		for _, s := range c.sessions {
			s.Close()
		}
	}
	c.mu.Unlock()

	if r == nil {
		return
	}
	r.wg.Wait()

	c.mu.Lock()
	if c.run == r {
		c.run = nil
		c.state = stateStopped
		c.sessions = make(map[string]*Session)
		c.log.Info("console stopped")
	}
	c.mu.Unlock()
}

// acceptLoop hands accepted connections to the console goroutine.
func (c *Console) acceptLoop(r *run) {
	defer r.wg.Done()

	for {
		conn, err := r.listener.Accept()
		if err != nil {
			select {
			case <-r.quit:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			c.log.Warn("accept failed", zap.Error(err))
			select {
			case <-r.quit:
				return
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		select {
		case r.events <- event{kind: eventAccepted, conn: conn}:
		case <-r.quit:
			conn.Close()
			return
		}
	}
}

// readLoop performs bounded reads for one session and forwards the bytes.
// It never dispatches.
func (c *Console) readLoop(r *run, s *Session) {
	defer r.wg.Done()

	buf := make([]byte, c.readChunkSize)
	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case r.events <- event{kind: eventData, session: s, data: data}:
			case <-r.quit:
				return
			}
		}
		if err != nil {
			select {
			case r.events <- event{kind: eventClosed, session: s, err: err}:
			case <-r.quit:
			}
			return
		}
	}
}

// loop is the console goroutine: the only place lines are framed and
// dispatched.
func (c *Console) loop(r *run) {
	defer r.wg.Done()

	ticker := time.NewTicker(c.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.quit:
			c.closeAll()
			return
		case ev := <-r.events:
			switch ev.kind {
			case eventAccepted:
				c.accept(r, ev.conn)
			case eventData:
				c.handleData(ev.session, ev.data)
			case eventClosed:
				c.drop(ev.session, ev.err)
			}
		case <-ticker.C:
			c.flushDebug()
		}
	}
}

func (c *Console) accept(r *run, conn net.Conn) {
	violations := rate.NewLimiter(rate.Every(c.violationInterval), c.violationBurst)
	s := newConnSession(conn, c.maxLineLength, c.writeTimeout, violations)

	c.mu.Lock()
	if c.state != stateListening {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.sessions[s.id] = s
	welcome, prompt := c.welcome, c.prompt
	c.mu.Unlock()

	c.log.Info("session connected",
		zap.String("session", s.id),
		zap.String("remote", s.remote))

	if welcome != "" {
		s.WriteString(welcome)
	}
	s.WriteString(prompt)

	r.wg.Add(1)
	go c.readLoop(r, s)
}

func (c *Console) handleData(s *Session, data []byte) {
	if s.Closed() {
		return
	}

	for line, err := range s.framer.Feed(data) {
		if err != nil {
			c.protocolViolation(s, err)
		} else {
			c.dispatcher.Dispatch(s, line)
		}
		if s.Closed() {
			break
		}
		s.WriteString(c.Prompt())
	}

	if s.Closed() {
		c.drop(s, nil)
	}
}

// protocolViolation answers an over-long line. Repeated violations beyond
// the session's allowance disconnect it.
func (c *Console) protocolViolation(s *Session, err error) {
	c.log.Warn("protocol violation",
		zap.String("session", s.id),
		zap.String("remote", s.remote),
		zap.Error(err))

	if !s.violations.Allow() {
		s.WriteString(tooManyErrorsMessage)
		s.Close()
		return
	}
	s.Printf(lineTooLongFormat, s.framer.max)
}

func (c *Console) drop(s *Session, err error) {
	c.mu.Lock()
	_, known := c.sessions[s.id]
	delete(c.sessions, s.id)
	c.mu.Unlock()

	s.Close()
	if !known {
		return
	}
	fields := []zap.Field{zap.String("session", s.id), zap.String("remote", s.remote)}
	if err != nil && !isDisconnect(err) {
		fields = append(fields, zap.Error(err))
	}
	c.log.Info("session disconnected", fields...)
}

func (c *Console) closeAll() {
	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}

// flushDebug broadcasts pending debug strings to every session.
func (c *Console) flushDebug() {
	msgs := c.debug.Drain()
	if len(msgs) == 0 {
		return
	}

	c.mu.Lock()
	sessions := make([]*Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		for _, msg := range msgs {
			if _, err := s.WriteString(msg); err != nil {
				break
			}
		}
	}
}

// tcpNetwork picks the network for a bind address: IPv6 literals use tcp6,
// IPv4 literals tcp4, anything else (host names, "") lets the resolver
// decide.
func tcpNetwork(bind string) string {
	ip := net.ParseIP(bind)
	switch {
	case ip == nil:
		return "tcp"
	case ip.To4() == nil:
		return "tcp6"
	default:
		return "tcp4"
	}
}

func isIPv6Addr(addr net.Addr) bool {
	tcp, ok := addr.(*net.TCPAddr)
	return ok && tcp.IP != nil && tcp.IP.To4() == nil
}

func isDisconnect(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
