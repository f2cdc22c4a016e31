package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResponseLines(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"empty", "", nil},
		{"newline only", "\n", nil},
		{"one line", "FPS is: on\n", []string{"FPS is: on"}},
		{"no terminator", "a\nb", []string{"a", "b"}},
		{"blank line kept", "a\n\nb\n", []string{"a", "", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Response{Text: tt.text}.Lines())
		})
	}
}

func TestResponseIsError(t *testing.T) {
	assert.True(t, Response{Text: "Unknown command: x. Type 'help' for options\n"}.IsError())
	assert.True(t, Response{Text: "error: command boom failed\n"}.IsError())
	assert.False(t, Response{Text: "Debug message is: off\n"}.IsError())
	assert.Equal(t, "raw\n", Response{Text: "raw\n"}.String())
}

func TestPromptIndex(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"> ", 0},
		{"help\n> ", 5},
		{"a > b\n> ", 6},
		{"a > b", -1},
		{"", -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, promptIndex(tt.text, "> "), tt.text)
	}
}
