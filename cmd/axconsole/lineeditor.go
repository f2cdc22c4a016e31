// =============================================================================
// lineeditor.go - Line Editor with Dual-Mode Operation
// =============================================================================
//
// The REPL reads lines through a LineEditor, which picks its input method
// at startup:
//
//   - Interactive mode: ergochat/readline with Emacs keybindings,
//     persistent history in ~/.axconsole_history and Ctrl-R search.
//   - Plain mode: bufio.Scanner over the input, printing the prompt itself.
//     Used for pipes, under Emacs (INSIDE_EMACS) and with --plain.
//
// =============================================================================

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ergochat/readline"
	"golang.org/x/term"
)

const (
	// historyFileName is the history file in the user's home directory.
	historyFileName = ".axconsole_history"

	// historySize is the maximum number of history entries to retain.
	historySize = 500
)

// LineEditor reads REPL input lines.
type LineEditor struct {
	// interactive is true when readline drives the terminal.
	interactive bool

	// rl is the readline instance in interactive mode, nil otherwise.
	rl *readline.Instance

	// scanner and out are used in plain mode.
	scanner *bufio.Scanner
	out     io.Writer
}

// GO CONCEPT: TTY Detection
// -------------------------
// golang.org/x/term.IsTerminal reports whether a file descriptor is a
// terminal. Only *os.File has a descriptor, so any other reader (a test's
// strings.Reader, a pipe wrapped by cobra) is plain input by definition.

// newLineEditor creates a LineEditor reading from in. Readline is used only
// when in is a terminal, plain is false and we are not running under Emacs.
func newLineEditor(plain bool, in io.Reader, out io.Writer) *LineEditor {
	if plain || !isTerminal(in) || os.Getenv("INSIDE_EMACS") != "" {
		return newPlainLineEditor(in, out)
	}

	rl, err := readline.NewFromConfig(&readline.Config{
		HistoryFile:            filepath.Join(homeDir(), historyFileName),
		HistoryLimit:           historySize,
		DisableAutoSaveHistory: true,
		Prompt:                 "",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: readline init failed (%v), using basic input\n", err)
		return newPlainLineEditor(in, out)
	}
	return &LineEditor{interactive: true, rl: rl}
}

// newPlainLineEditor creates a non-interactive LineEditor.
func newPlainLineEditor(in io.Reader, out io.Writer) *LineEditor {
	return &LineEditor{scanner: bufio.NewScanner(in), out: out}
}

func isTerminal(in io.Reader) bool {
	f, ok := in.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// GetLine reads one line, showing prompt. It returns io.EOF at the end of
// input, on Ctrl-D and on Ctrl-C.
func (le *LineEditor) GetLine(prompt string) (string, error) {
	if le.interactive {
		return le.getInteractiveLine(prompt)
	}
	return le.getPlainLine(prompt)
}

func (le *LineEditor) getInteractiveLine(prompt string) (string, error) {
	le.rl.SetPrompt(prompt)
	line, err := le.rl.Readline()
	if err != nil {
		if errors.Is(err, readline.ErrInterrupt) {
			return "", io.EOF
		}
		return "", err
	}
	if trimmed := strings.TrimSpace(line); trimmed != "" {
		le.rl.SaveToHistory(trimmed)
	}
	return line, nil
}

func (le *LineEditor) getPlainLine(prompt string) (string, error) {
	// Emacs comint matches on the prompt, so it is printed even without a
	// terminal.
	fmt.Fprint(le.out, prompt)
	if !le.scanner.Scan() {
		if err := le.scanner.Err(); err != nil {
			return "", err
		}
		return "", io.EOF
	}
	return le.scanner.Text(), nil
}

// Close saves history and releases the terminal. It is safe to call more
// than once.
func (le *LineEditor) Close() {
	if le.rl != nil {
		le.rl.Close()
		le.rl = nil
	}
}

// IsInteractive reports whether readline is in use.
func (le *LineEditor) IsInteractive() bool {
	return le.interactive
}
