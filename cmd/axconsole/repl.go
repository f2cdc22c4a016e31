// =============================================================================
// repl.go - REPL Loop
// =============================================================================
//
// Reads lines from the LineEditor, handles dot-commands locally and sends
// everything else to the console. The console's answer is whatever it
// printed before its next prompt; it is shown as is.
//
// =============================================================================

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/crazyhappygame/axmol/client"
)

const (
	// connectedPrompt is shown while the connection is up.
	connectedPrompt = "axconsole> "

	// disconnectedPrompt is shown after the console went away.
	disconnectedPrompt = "[disconnected]> "
)

// lineReader is the part of LineEditor the REPL needs.
type lineReader interface {
	GetLine(prompt string) (string, error)
}

// REPL is the read-eval-print loop of axconsole.
type REPL struct {
	client  *client.Client
	addr    string
	editor  lineReader
	out     io.Writer
	errOut  io.Writer
	timeout time.Duration
}

func (r *REPL) prompt() string {
	if r.client.IsConnected() {
		return connectedPrompt
	}
	return disconnectedPrompt
}

// Run loops until .quit, the end of input or ctx is done.
func (r *REPL) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		line, err := r.editor.GetLine(r.prompt())
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(r.out)
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ".") {
			if quit := r.handleLocal(ctx, line); quit {
				return nil
			}
			continue
		}
		r.send(ctx, line)
	}
	return nil
}

// GO CONCEPT: strings.Cut
// -----------------------
// strings.Cut splits around the first separator and reports whether it was
// found, which is all a "verb argument" command line needs.

// handleLocal runs a dot-command and reports whether the REPL should exit.
func (r *REPL) handleLocal(ctx context.Context, line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case ".quit", ".exit":
		return true
	case ".help":
		printHelp(r.out, arg)
	case ".reconnect":
		r.reconnect(ctx)
	case ".status":
		if r.client.IsConnected() {
			fmt.Fprintf(r.out, "Connected to %s\n", r.addr)
		} else {
			fmt.Fprintf(r.out, "Not connected (%s)\n", r.addr)
		}
	default:
		fmt.Fprintf(r.errOut, "Unknown command: %s. Type .help for local commands.\n", name)
	}
	return false
}

// send forwards line to the console and prints the answer.
func (r *REPL) send(ctx context.Context, line string) {
	if !r.client.IsConnected() {
		fmt.Fprintln(r.errOut, "Not connected. Type .reconnect or .quit.")
		return
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	resp, err := r.client.Send(ctx, line)
	fmt.Fprint(r.out, resp.Text)

	switch {
	case err == nil:
	case errors.Is(err, client.ErrClosed):
		fmt.Fprintln(r.errOut, "Connection closed by console. Type .reconnect or .quit.")
	case errors.Is(err, client.ErrTimeout):
		fmt.Fprintln(r.errOut, "Command timed out; connection dropped. Type .reconnect or .quit.")
	default:
		fmt.Fprintf(r.errOut, "Error: %v\n", err)
	}
}

// reconnect drops the current connection and dials r.addr again.
func (r *REPL) reconnect(ctx context.Context) {
	r.client.Close()
	if err := r.client.Connect(ctx, r.addr); err != nil {
		fmt.Fprintf(r.errOut, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "Reconnected to %s\n", r.addr)
	if banner := r.client.Banner(); banner != "" {
		fmt.Fprint(r.out, banner)
	}
}
