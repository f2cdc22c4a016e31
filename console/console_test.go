package console

import (
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

// testClient is a raw TCP client that reads up to the prompt.
type testClient struct {
	t       *testing.T
	conn    net.Conn
	pending string
}

func startConsole(t *testing.T, opts ...Option) *Console {
	t.Helper()
	c := New(opts...)
	RegisterBuiltins(c, nil)
	require.NoError(t, c.AddCommand(NewCommand("echo", "Echo the arguments", func(s *Session, args string) {
		s.Printf("%s\n", args)
	})))

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, c.Listen(l))
	t.Cleanup(c.Stop)
	return c
}

func dialConsole(t *testing.T, c *Console) *testClient {
	t.Helper()
	conn, err := net.DialTimeout("tcp", c.Addr().String(), testTimeout)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	tc := &testClient{t: t, conn: conn}
	tc.readUntil(c.Prompt())
	return tc
}

// readUntil returns everything up to and excluding suffix.
func (tc *testClient) readUntil(suffix string) string {
	tc.t.Helper()
	out, err := tc.tryReadUntil(suffix, testTimeout)
	require.NoError(tc.t, err, "waiting for %q, got %q", suffix, tc.pending)
	return out
}

func (tc *testClient) tryReadUntil(suffix string, timeout time.Duration) (string, error) {
	tc.conn.SetReadDeadline(time.Now().Add(timeout))
	buf := make([]byte, 256)
	for {
		if i := strings.Index(tc.pending, suffix); i >= 0 {
			out := tc.pending[:i]
			tc.pending = tc.pending[i+len(suffix):]
			return out, nil
		}
		n, err := tc.conn.Read(buf)
		tc.pending += string(buf[:n])
		if err != nil {
			return "", err
		}
	}
}

// readToEOF returns what arrives before the server closes the connection.
func (tc *testClient) readToEOF() string {
	tc.t.Helper()
	tc.conn.SetReadDeadline(time.Now().Add(testTimeout))
	rest, err := io.ReadAll(tc.conn)
	require.NoError(tc.t, err)
	out := tc.pending + string(rest)
	tc.pending = ""
	return out
}

func (tc *testClient) write(line string) {
	tc.t.Helper()
	_, err := tc.conn.Write([]byte(line + "\n"))
	require.NoError(tc.t, err)
}

func (tc *testClient) send(line string) string {
	tc.t.Helper()
	tc.write(line)
	return tc.readUntil(DefaultPrompt)
}

func TestConsoleHelpAndExit(t *testing.T) {
	c := startConsole(t)
	tc := dialConsole(t, c)

	help := tc.send("help")
	assert.True(t, strings.HasPrefix(help, "Available commands:\n"))
	for _, name := range []string{"debugmsg", "echo", "exit", "help", "version"} {
		assert.Contains(t, help, "\t"+name)
	}
	assert.NotContains(t, help, "director")

	assert.Equal(t, "Close connection to the console\n", tc.send("help exit"))
	assert.Equal(t, "console "+Version+"\n", tc.send("version"))

	tc.write("exit")
	assert.Equal(t, "Bye!\n", tc.readToEOF())
	require.Eventually(t, func() bool { return c.Sessions() == 0 }, testTimeout, 10*time.Millisecond)
}

func TestConsoleEmptyLineResendsPrompt(t *testing.T) {
	c := startConsole(t)
	tc := dialConsole(t, c)

	assert.Empty(t, tc.send(""))
	assert.Empty(t, tc.send("   \r"))
	assert.Equal(t, "Unknown command: nope. Type 'help' for options\n", tc.send("nope"))
}

func TestConsoleWelcomeAndPrompt(t *testing.T) {
	c := startConsole(t, WithWelcome("axmol console\n"), WithPrompt("$ "))

	conn, err := net.Dial("tcp", c.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	tc := &testClient{t: t, conn: conn}
	assert.Equal(t, "axmol console\n", tc.readUntil("$ "))

	c.SetPrompt("# ")
	tc.write("echo hi")
	assert.Equal(t, "hi\n", tc.readUntil("# "))
}

func TestConsoleCommandSeparator(t *testing.T) {
	c := startConsole(t)
	tc := dialConsole(t, c)

	assert.Equal(t, "a\nb\n", tc.send("echo a | echo b"))

	c.SetCommandSeparator(';')
	assert.Equal(t, ';', c.CommandSeparator())
	assert.Equal(t, "a | b\nc\n", tc.send("echo a | b;echo c"))
}

func TestConsoleSessionsSeeOnlyTheirOwnOutput(t *testing.T) {
	c := startConsole(t)
	clients := []*testClient{dialConsole(t, c), dialConsole(t, c)}
	require.Eventually(t, func() bool { return c.Sessions() == 2 }, testTimeout, 10*time.Millisecond)

	var wg sync.WaitGroup
	results := make([][]string, len(clients))
	for i, tc := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := range 20 {
				line := strings.Repeat(string(rune('a'+i)), n+1)
				if _, err := tc.conn.Write([]byte("echo " + line + "\n")); err != nil {
					return
				}
				out, err := tc.tryReadUntil(DefaultPrompt, testTimeout)
				if err != nil {
					return
				}
				results[i] = append(results[i], strings.TrimSuffix(out, "\n"))
			}
		}()
	}
	wg.Wait()

	for i := range clients {
		require.Len(t, results[i], 20)
		for n, got := range results[i] {
			assert.Equal(t, strings.Repeat(string(rune('a'+i)), n+1), got)
		}
	}
}

func TestConsoleSlowCallbackBlocksOtherSessions(t *testing.T) {
	c := startConsole(t)
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, c.AddCommand(NewCommand("slow", "", func(s *Session, _ string) {
		close(started)
		<-release
		s.WriteString("done\n")
	})))

	a := dialConsole(t, c)
	b := dialConsole(t, c)

	a.write("slow")
	<-started

	b.write("echo waiting")
	_, err := b.tryReadUntil(DefaultPrompt, 200*time.Millisecond)
	var nerr net.Error
	require.True(t, errors.As(err, &nerr) && nerr.Timeout(), "expected timeout, got %v", err)

	close(release)
	assert.Equal(t, "done\n", a.readUntil(DefaultPrompt))
	assert.Equal(t, "waiting\n", b.readUntil(DefaultPrompt))
}

func TestConsoleOverLongLines(t *testing.T) {
	c := startConsole(t, WithMaxLineLength(16), WithViolationLimit(2, time.Hour))
	tc := dialConsole(t, c)
	long := strings.Repeat("x", 40)

	assert.Equal(t, "error: line exceeds 16 bytes\n", tc.send(long))
	assert.Equal(t, "ok\n", tc.send("echo ok"))
	assert.Equal(t, "error: line exceeds 16 bytes\n", tc.send(long))

	tc.write(long)
	assert.Equal(t, "error: too many protocol errors, closing connection\n", tc.readToEOF())
	require.Eventually(t, func() bool { return c.Sessions() == 0 }, testTimeout, 10*time.Millisecond)
}

func TestConsoleDebugBroadcast(t *testing.T) {
	c := startConsole(t, WithFlushInterval(10*time.Millisecond))
	a := dialConsole(t, c)
	b := dialConsole(t, c)

	c.Log("dropped while disabled")
	assert.Empty(t, a.send("debugmsg on"))
	assert.Equal(t, "Debug message is: on\n", a.send("debugmsg"))

	c.Log("frame 42 took 3ms")
	for _, tc := range []*testClient{a, b} {
		out := tc.readUntil("frame 42 took 3ms\n")
		assert.NotContains(t, out, "dropped")
	}

	assert.Empty(t, b.send("debugmsg off"))
	assert.False(t, c.DebugBuffer().Enabled())
}

func TestConsoleStopIsIdempotent(t *testing.T) {
	c := New()
	c.Stop()
	assert.False(t, c.Listening())
	assert.Nil(t, c.Addr())

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, c.Listen(l))
	require.True(t, c.Listening())

	tc := dialConsole(t, c)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Stop()
		}()
	}
	wg.Wait()
	c.Stop()

	assert.False(t, c.Listening())
	assert.Zero(t, c.Sessions())
	assert.Empty(t, tc.readToEOF())

	// A stopped console may listen again.
	l, err = net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, c.Listen(l))
	RegisterBuiltins(c, nil)
	assert.Contains(t, dialConsole(t, c).send("help"), "exit")
	c.Stop()
}

func TestConsoleStopDuringDispatch(t *testing.T) {
	c := New()
	started := make(chan struct{})
	release := make(chan struct{})
	require.NoError(t, c.AddCommand(NewCommand("slow", "", func(*Session, string) {
		close(started)
		<-release
	})))
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, c.Listen(l))

	tc := dialConsole(t, c)
	tc.write("slow")
	<-started

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a command was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)

	select {
	case <-stopped:
	case <-time.After(testTimeout):
		t.Fatal("Stop did not return")
	}
}

func TestConsoleListenErrors(t *testing.T) {
	c := startConsole(t)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	assert.ErrorIs(t, c.Listen(l), ErrAlreadyListening)
	assert.ErrorIs(t, c.ListenOnTCP(0), ErrAlreadyListening)

	idle := New()
	err = idle.ListenOnTCP(70000)
	var lerr *ListenError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "listen", lerr.Op)
	assert.False(t, idle.Listening())

	// Occupied port.
	port := c.Addr().(*net.TCPAddr).Port
	err = idle.ListenOnTCP(port)
	require.ErrorAs(t, err, &lerr)
	assert.False(t, idle.Listening())
}

func TestConsoleListenOnTCP(t *testing.T) {
	c := New()
	c.SetBindAddress("127.0.0.1")
	require.NoError(t, c.ListenOnTCP(0))
	t.Cleanup(c.Stop)

	addr, ok := c.Addr().(*net.TCPAddr)
	require.True(t, ok)
	assert.NotZero(t, addr.Port)
	assert.False(t, c.IsIPv6Server())
}

func TestConsoleListenOnTCPv6(t *testing.T) {
	probe, err := net.Listen("tcp6", "[::1]:0")
	if err != nil {
		t.Skip("IPv6 loopback unavailable")
	}
	probe.Close()

	c := New(WithBindAddress("::1"))
	require.NoError(t, c.ListenOnTCP(0))
	t.Cleanup(c.Stop)
	assert.True(t, c.IsIPv6Server())
}

func TestTCPNetwork(t *testing.T) {
	assert.Equal(t, "tcp4", tcpNetwork("127.0.0.1"))
	assert.Equal(t, "tcp6", tcpNetwork("::1"))
	assert.Equal(t, "tcp", tcpNetwork("localhost"))
	assert.Equal(t, "tcp", tcpNetwork(""))
}

func TestConsoleMaxSessions(t *testing.T) {
	c := startConsole(t, WithMaxSessions(1))
	first := dialConsole(t, c)

	conn, err := net.DialTimeout("tcp", c.Addr().String(), testTimeout)
	require.NoError(t, err)
	defer conn.Close()
	second := &testClient{t: t, conn: conn}

	_, err = second.tryReadUntil(DefaultPrompt, 200*time.Millisecond)
	var nerr net.Error
	require.True(t, errors.As(err, &nerr) && nerr.Timeout(), "expected timeout, got %v", err)
	assert.Equal(t, 1, c.Sessions())

	first.write("exit")
	first.readToEOF()

	second.readUntil(DefaultPrompt)
	assert.Equal(t, "hi\n", second.send("echo hi"))
}

func TestConsoleCommandHook(t *testing.T) {
	type call struct{ command, args string }
	var mu sync.Mutex
	var calls []call
	c := startConsole(t, WithCommandHook(func(s *Session, command, args string) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, call{command, args})
	}))
	require.NoError(t, c.AddCommand(NewCommand("net", "", nil)))
	require.NoError(t, c.AddSubCommand("net", NewCommand("ping", "", func(s *Session, args string) {})))

	tc := dialConsole(t, c)
	tc.send("echo one two | nosuch | net ping host")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []call{{"echo", "one two"}, {"net ping", "host"}}, calls)
}
