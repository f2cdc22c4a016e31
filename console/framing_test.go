package console

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// collect feeds every chunk and records lines, with "!toolong" standing in
// for an over-long-line error.
func collect(t *testing.T, f *LineFramer, chunks ...[]byte) []string {
	t.Helper()
	var out []string
	for _, chunk := range chunks {
		for line, err := range f.Feed(chunk) {
			if err != nil {
				require.ErrorIs(t, err, ErrLineTooLong)
				out = append(out, "!toolong")
				continue
			}
			out = append(out, line)
		}
	}
	return out
}

func TestLineFramerBasic(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{"single line", "help\n", []string{"help"}},
		{"crlf", "help\r\n", []string{"help"}},
		{"two lines", "help\nexit\n", []string{"help", "exit"}},
		{"empty line", "\n", []string{""}},
		{"partial only", "hel", nil},
		{"inner cr kept", "a\rb\n", []string{"a\rb"}},
		{"exact limit", "12345678\n", []string{"12345678"}},
		{"exact limit crlf", "12345678\r\n", []string{"12345678"}},
		{"over limit", "123456789\nok\n", []string{"!toolong", "ok"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewLineFramer(8)
			assert.Equal(t, tt.want, collect(t, f, []byte(tt.input)))
		})
	}
}

func TestLineFramerSplitInvariance(t *testing.T) {
	input := "help\r\nfoo bar baz\n\nabcdefghijkl\nabcdefgh\r\nabcdefgh\rx\nversion\n"
	want := collect(t, NewLineFramer(8), []byte(input))
	require.Equal(t, []string{"help", "foo bar baz", "", "!toolong", "abcdefgh", "!toolong", "version"}, want)

	for i := 0; i <= len(input); i++ {
		got := collect(t, NewLineFramer(8), []byte(input[:i]), []byte(input[i:]))
		assert.Equal(t, want, got, "split at %d", i)
	}

	chunks := make([][]byte, 0, len(input))
	for i := range len(input) {
		chunks = append(chunks, []byte{input[i]})
	}
	assert.Equal(t, want, collect(t, NewLineFramer(8), chunks...), "byte at a time")
}

func TestLineFramerOverflowWithoutTerminator(t *testing.T) {
	f := NewLineFramer(4)

	assert.Equal(t, []string{"!toolong"}, collect(t, f, []byte("abcdefgh")))
	assert.Zero(t, f.Pending())

	// The tail of the over-long line is skipped, not reported again.
	assert.Empty(t, collect(t, f, []byte("ijkl")))
	assert.Equal(t, []string{"ok"}, collect(t, f, []byte("mn\nok\n")))
}

func TestLineFramerPendingAndReset(t *testing.T) {
	f := NewLineFramer(0)
	assert.Equal(t, MaxLineLength, f.max)

	collect(t, f, []byte("partial"))
	assert.Equal(t, 7, f.Pending())

	f.Reset()
	assert.Zero(t, f.Pending())
	assert.Equal(t, []string{"fresh"}, collect(t, f, []byte("fresh\n")))
}

func TestLineFramerEarlyStop(t *testing.T) {
	f := NewLineFramer(16)
	for line := range f.Feed([]byte("one\ntwo\n")) {
		assert.Equal(t, "one", line)
		break
	}
	assert.Zero(t, f.Pending())
}

func TestLineTooLongError(t *testing.T) {
	err := NewLineFramer(16).tooLong()
	assert.True(t, errors.Is(err, ErrLineTooLong))
	assert.True(t, strings.Contains(err.Error(), "16"))

	var perr *ProtocolError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, ErrKindLineTooLong, perr.Kind)
}
