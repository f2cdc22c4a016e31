package console

import (
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// Session is one connected client.
//
// Writes are serialized by a mutex and may come from any goroutine, which
// lets main-thread closures answer the client directly. Framing state is
// only touched by the console goroutine.
type Session struct {
	id     string
	remote string

	conn   net.Conn // nil for sessions not backed by a socket
	out    io.Writer
	closer io.Closer

	writeMu      sync.Mutex
	writeTimeout time.Duration

	closed    atomic.Bool
	closeOnce sync.Once

	framer     *LineFramer
	violations *rate.Limiter
}

// NewSession wraps w as a session not backed by a socket, e.g. to drive a
// Dispatcher from standard input or from tests. Closing the session closes
// w.
func NewSession(w io.WriteCloser) *Session {
	return &Session{
		id:         uuid.NewString(),
		out:        w,
		closer:     w,
		framer:     NewLineFramer(MaxLineLength),
		violations: rate.NewLimiter(rate.Every(DefaultViolationInterval), DefaultViolationBurst),
	}
}

func newConnSession(conn net.Conn, maxLine int, writeTimeout time.Duration, violations *rate.Limiter) *Session {
	return &Session{
		id:           uuid.NewString(),
		remote:       conn.RemoteAddr().String(),
		conn:         conn,
		out:          conn,
		closer:       conn,
		writeTimeout: writeTimeout,
		framer:       NewLineFramer(maxLine),
		violations:   violations,
	}
}

// ID returns the unique session identifier.
func (s *Session) ID() string {
	return s.id
}

// RemoteAddr returns the peer address, or "" for sessions without a socket.
func (s *Session) RemoteAddr() string {
	return s.remote
}

// Write implements io.Writer. It fails with ErrSessionClosed once the
// session is closed.
func (s *Session) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, ErrSessionClosed
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn != nil && s.writeTimeout > 0 {
		s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	}
	return s.out.Write(p)
}

// WriteString writes str to the session.
func (s *Session) WriteString(str string) (int, error) {
	return s.Write([]byte(str))
}

// Printf formats and writes to the session. Write errors are dropped; a
// broken connection is noticed by the reader.
func (s *Session) Printf(format string, args ...any) {
	fmt.Fprintf(s, format, args...)
}

// Close closes the session. It is safe to call more than once and from any
// goroutine.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.closer != nil {
			err = s.closer.Close()
		}
	})
	return err
}

// Closed reports whether the session has been closed.
func (s *Session) Closed() bool {
	return s.closed.Load()
}
