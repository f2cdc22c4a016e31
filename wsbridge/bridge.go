// Package wsbridge lets browsers reach the debug console. Every WebSocket
// connection is relayed to a TCP session of its own, so the console sees an
// ordinary client: text messages from the browser become command lines and
// console output comes back as text messages.
package wsbridge

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/crazyhappygame/axmol/console"
)

const (
	// Time allowed to write a message to the browser.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the browser.
	pongWait = 60 * time.Second

	// Send pings with this period. Must be less than pongWait.
	pingPeriod = 15 * time.Second

	// Maximum message size allowed from the browser.
	maxMessageSize = console.MaxLineLength

	// Time allowed to dial the console.
	dialTimeout = 5 * time.Second
)

// Bridge is an http.Handler relaying WebSocket connections to a console.
type Bridge struct {
	target   string
	log      *zap.Logger
	upgrader websocket.Upgrader
}

// New creates a bridge to the console listening on target (host:port).
func New(target string, logger *zap.Logger) *Bridge {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bridge{
		target: target,
		log:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The console has no authentication of its own either; exposure
			// is controlled by the bind address.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and relays until either side closes.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered with an HTTP error.
		b.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithTimeout(r.Context(), dialTimeout)
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", b.target)
	cancel()
	if err != nil {
		b.log.Warn("console unavailable", zap.String("target", b.target), zap.Error(err))
		ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "console unavailable"),
			time.Now().Add(writeWait))
		return
	}
	defer conn.Close()

	remote := r.RemoteAddr
	b.log.Info("websocket session opened", zap.String("remote", remote))

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		b.browserToConsole(ws, conn)
	}()
	go func() {
		defer wg.Done()
		ping(ws, done)
	}()

	b.consoleToBrowser(ws, conn)
	close(done)
	wg.Wait()
	b.log.Info("websocket session closed", zap.String("remote", remote))
}

// browserToConsole forwards each text message as one command line. It
// closes conn when the browser goes away so consoleToBrowser returns.
func (b *Bridge) browserToConsole(ws *websocket.Conn, conn net.Conn) {
	defer conn.Close()

	ws.SetReadLimit(maxMessageSize)
	ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				b.log.Debug("websocket read failed", zap.Error(err))
			}
			return
		}
		line := string(msg)
		if !strings.HasSuffix(line, "\n") {
			line += "\n"
		}
		if _, err := conn.Write([]byte(line)); err != nil {
			return
		}
	}
}

// consoleToBrowser forwards console output. Messages always end on a rune
// boundary so each one is valid UTF-8 on its own.
func (b *Bridge) consoleToBrowser(ws *websocket.Conn, conn net.Conn) {
	defer ws.Close()

	buf := make([]byte, 4096)
	var carry []byte
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			cut := completeUTF8(data)
			if cut > 0 {
				ws.SetWriteDeadline(time.Now().Add(writeWait))
				if werr := ws.WriteMessage(websocket.TextMessage, data[:cut]); werr != nil {
					return
				}
			}
			carry = append([]byte(nil), data[cut:]...)
		}
		if err != nil {
			ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "console closed the session"),
				time.Now().Add(writeWait))
			return
		}
	}
}

// ping keeps the browser connection alive until done is closed.
// WriteControl may run concurrently with the data writer.
func ping(ws *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// completeUTF8 returns the length of the longest prefix of p that does not
// end inside a multi-byte rune.
func completeUTF8(p []byte) int {
	for i := len(p) - 1; i >= 0 && i >= len(p)-utf8.UTFMax; i-- {
		if utf8.RuneStart(p[i]) {
			if utf8.FullRune(p[i:]) {
				return len(p)
			}
			return i
		}
	}
	return len(p)
}
