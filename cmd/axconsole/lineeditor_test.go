package main

import (
	"bufio"
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineEditorPlain(t *testing.T) {
	var out bytes.Buffer
	le := newLineEditor(false, strings.NewReader("fps on\n  spaced  \n"), &out)
	defer le.Close()
	assert.False(t, le.IsInteractive(), "a strings.Reader is never a terminal")

	line, err := le.GetLine("p1> ")
	require.NoError(t, err)
	assert.Equal(t, "fps on", line)

	line, err = le.GetLine("p2> ")
	require.NoError(t, err)
	assert.Equal(t, "  spaced  ", line)

	_, err = le.GetLine("p3> ")
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, "p1> p2> p3> ", out.String())
}

func TestLineEditorPlainFlag(t *testing.T) {
	le := newLineEditor(true, strings.NewReader(""), io.Discard)
	assert.False(t, le.IsInteractive())
	le.Close()
	le.Close()
}

func TestLineEditorReadError(t *testing.T) {
	long := strings.Repeat("x", bufio.MaxScanTokenSize+1)
	le := newPlainLineEditor(strings.NewReader(long), io.Discard)

	_, err := le.GetLine("")
	assert.ErrorIs(t, err, bufio.ErrTooLong)
}
