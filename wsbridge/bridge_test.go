package wsbridge

import (
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/crazyhappygame/axmol/console"
)

const testTimeout = 5 * time.Second

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startConsole(t *testing.T) *console.Console {
	t.Helper()
	c := console.New()
	console.RegisterBuiltins(c, nil)
	require.NoError(t, c.AddCommand(console.NewCommand("echo", "Echo the arguments", func(s *console.Session, args string) {
		s.Printf("%s\n", args)
	})))
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, c.Listen(l))
	t.Cleanup(c.Stop)
	return c
}

// wsClient accumulates text messages so tests can wait for a prompt.
type wsClient struct {
	t       *testing.T
	conn    *websocket.Conn
	pending string
}

func dialBridge(t *testing.T, target string) *wsClient {
	t.Helper()
	srv := httptest.NewServer(New(target, nil))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) readUntil(suffix string) string {
	c.t.Helper()
	c.conn.SetReadDeadline(time.Now().Add(testTimeout))
	for {
		if i := strings.Index(c.pending, suffix); i >= 0 {
			out := c.pending[:i]
			c.pending = c.pending[i+len(suffix):]
			return out
		}
		_, msg, err := c.conn.ReadMessage()
		require.NoError(c.t, err, "waiting for %q, got %q", suffix, c.pending)
		c.pending += string(msg)
	}
}

func (c *wsClient) send(line string) string {
	c.t.Helper()
	require.NoError(c.t, c.conn.WriteMessage(websocket.TextMessage, []byte(line)))
	return c.readUntil(console.DefaultPrompt)
}

func TestBridgeRelaysCommands(t *testing.T) {
	c := startConsole(t)
	ws := dialBridge(t, c.Addr().String())

	ws.readUntil(console.DefaultPrompt)
	assert.Equal(t, "hello\n", ws.send("echo hello"))
	assert.Equal(t, "console "+console.Version+"\n", ws.send("version\n"))
	assert.Equal(t, "a\nb\n", ws.send("echo a | echo b"))
	require.Eventually(t, func() bool { return c.Sessions() == 1 }, testTimeout, 10*time.Millisecond)
}

func TestBridgeExitClosesWebSocket(t *testing.T) {
	c := startConsole(t)
	ws := dialBridge(t, c.Addr().String())
	ws.readUntil(console.DefaultPrompt)

	require.NoError(t, ws.conn.WriteMessage(websocket.TextMessage, []byte("exit")))
	assert.Equal(t, "", ws.readUntil("Bye!\n"))

	ws.conn.SetReadDeadline(time.Now().Add(testTimeout))
	_, _, err := ws.conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "got %v", err)
	require.Eventually(t, func() bool { return c.Sessions() == 0 }, testTimeout, 10*time.Millisecond)
}

func TestBridgeBrowserCloseEndsSession(t *testing.T) {
	c := startConsole(t)
	ws := dialBridge(t, c.Addr().String())
	ws.readUntil(console.DefaultPrompt)
	require.Equal(t, 1, c.Sessions())

	require.NoError(t, ws.conn.Close())
	require.Eventually(t, func() bool { return c.Sessions() == 0 }, testTimeout, 10*time.Millisecond)
}

func TestBridgeConsoleUnavailable(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	target := l.Addr().String()
	require.NoError(t, l.Close())

	ws := dialBridge(t, target)
	ws.conn.SetReadDeadline(time.Now().Add(testTimeout))
	_, _, err = ws.conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseTryAgainLater), "got %v", err)
}

func TestCompleteUTF8(t *testing.T) {
	euro := []byte("€") // 3 bytes
	tests := []struct {
		name string
		in   []byte
		want int
	}{
		{"empty", nil, 0},
		{"ascii", []byte("abc"), 3},
		{"full rune", append([]byte("a"), euro...), 4},
		{"one byte of three", append([]byte("a"), euro[0]), 1},
		{"two bytes of three", append([]byte("a"), euro[:2]...), 1},
		{"stray continuation", []byte{'a', 0x80}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, completeUTF8(tt.in))
		})
	}
}
