package console

import (
	"strconv"
	"strings"
	"time"
)

// Protocol constants and defaults.
const (
	// DefaultPrompt is the string sent after connect and after every line.
	DefaultPrompt = "> "

	// DefaultBindAddress is the address ListenOnTCP binds when none is set.
	DefaultBindAddress = "127.0.0.1"

	// DefaultPort is the conventional console port.
	DefaultPort = 5678

	// DefaultCommandSeparator joins several commands on one line.
	DefaultCommandSeparator = '|'

	// MaxLineLength is the default maximum length of a single line in bytes,
	// excluding the terminator.
	MaxLineLength = 4096

	// DefaultReadChunkSize bounds a single read from a client socket.
	DefaultReadChunkSize = 512

	// DefaultFlushInterval is how often pending debug strings are broadcast.
	DefaultFlushInterval = 100 * time.Millisecond

	// DefaultWriteTimeout bounds a single write to a client socket so a
	// stalled client cannot hold the console goroutine indefinitely.
	DefaultWriteTimeout = 5 * time.Second

	// DefaultViolationBurst is how many protocol violations a session may
	// commit in a burst before it is disconnected.
	DefaultViolationBurst = 3

	// DefaultViolationInterval is the refill period of one violation token.
	DefaultViolationInterval = 10 * time.Second

	// Version is the console protocol version.
	Version = "1.0"
)

// Response strings shared by the dispatcher and the built-in commands.
const (
	unknownCommandFormat = "Unknown command: %s. Type 'help' for options\n"
	commandFailedFormat  = "error: command %s failed\n"
	lineTooLongFormat    = "error: line exceeds %d bytes\n"
	tooManyErrorsMessage = "error: too many protocol errors, closing connection\n"
)

// IsFloat reports whether s parses as a floating-point number.
func IsFloat(s string) bool {
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}

// SplitArgs splits s on delim, trimming whitespace from every element and
// dropping empty elements.
func SplitArgs(s string, delim rune) []string {
	var out []string
	for _, part := range strings.Split(s, string(delim)) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseFloats parses exactly n whitespace-separated floats from args.
func parseFloats(args string, n int) ([]float64, error) {
	fields := strings.Fields(args)
	if len(fields) != n {
		return nil, newMissingArgumentError("expected " + strconv.Itoa(n) + " numbers")
	}
	out := make([]float64, n)
	for i, f := range fields {
		if !IsFloat(f) {
			return nil, newInvalidNumberError(f)
		}
		out[i], _ = strconv.ParseFloat(f, 64)
	}
	return out, nil
}
