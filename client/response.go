package client

import "strings"

// Response is the text a console printed for one line, without the
// trailing prompt.
type Response struct {
	Text string
}

// Lines returns the response split into lines, without terminators.
func (r Response) Lines() []string {
	text := strings.TrimSuffix(r.Text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// IsError reports whether the console rejected the line: an unknown
// command, a usage error or a failed command.
func (r Response) IsError() bool {
	for _, line := range r.Lines() {
		if strings.HasPrefix(line, "error:") || strings.HasPrefix(line, "Unknown command:") {
			return true
		}
	}
	return false
}

// String returns the raw text.
func (r Response) String() string {
	return r.Text
}
