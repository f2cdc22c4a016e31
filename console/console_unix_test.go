//go:build unix

package console

import (
	"net"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dupFd returns a descriptor owned by the caller, independent of f.
func dupFd(t *testing.T, f *os.File) uintptr {
	t.Helper()
	fd, err := syscall.Dup(int(f.Fd()))
	require.NoError(t, err)
	require.NoError(t, f.Close())
	return uintptr(fd)
}

func TestConsoleListenOnFileDescriptor(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f, err := l.(*net.TCPListener).File()
	require.NoError(t, err)
	addr := l.Addr().String()
	require.NoError(t, l.Close())

	c := New()
	RegisterBuiltins(c, nil)
	require.NoError(t, c.ListenOnFileDescriptor(dupFd(t, f)))
	t.Cleanup(c.Stop)

	assert.Equal(t, addr, c.Addr().String())
	assert.Contains(t, dialConsole(t, c).send("help"), "exit")
}

func TestConsoleListenOnInvalidDescriptor(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "not-a-socket")
	require.NoError(t, err)

	c := New()
	err = c.ListenOnFileDescriptor(dupFd(t, f))
	assert.ErrorIs(t, err, ErrInvalidDescriptor)

	var lerr *ListenError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "adopt", lerr.Op)
	assert.False(t, c.Listening())
}
