// =============================================================================
// main.go - axconsole Entry Point
// =============================================================================
//
// axconsole is an interactive client for the remote debug console. It
// connects to a running axconsoled (or any engine exposing the console),
// reads lines with history and editing, and prints the console's answers.
//
// Usage:
//
//	axconsole                          Connect to 127.0.0.1:5678
//	axconsole --addr host:6010         Connect to a specific console
//	axconsole --launch                 Start axconsoled if nothing listens
//	axconsole --plain                  No line editing (pipes, Emacs)
//
// Lines starting with '.' are handled locally (.help, .quit, .reconnect,
// .status); everything else is sent to the console verbatim.
//
// =============================================================================

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crazyhappygame/axmol/client"
	"github.com/crazyhappygame/axmol/console"
)

// =============================================================================
// Version Information
// =============================================================================

const (
	// version is the version of the axconsole client.
	version = "1.0.0"

	// appName is the application name.
	appName = "axconsole"
)

// fullTitle returns the application name with version.
func fullTitle() string {
	return fmt.Sprintf("%s v%s (console protocol %s)", appName, version, console.Version)
}

// welcomeBanner returns the banner displayed when the REPL starts.
func welcomeBanner(addr string) string {
	return fmt.Sprintf(`%s
Connected to %s

Type 'help' for console commands, '.help' for local ones.
Type '.quit' to exit.
`, fullTitle(), addr)
}

// =============================================================================
// Command-Line Arguments
// =============================================================================

// GO CONCEPT: Zero Values
// -----------------------
// Every Go type has a zero value: "" for strings, false for bools, 0 for
// numbers. The arguments struct relies on that, so an unset flag needs no
// special "missing" marker.

// arguments holds the parsed command-line arguments.
type arguments struct {
	// addr is the host:port of the console.
	addr string

	// launch starts axconsoled when nothing is listening on addr.
	launch bool

	// plain disables readline even on a terminal.
	plain bool

	// timeout bounds each command.
	timeout time.Duration
}

// GO CONCEPT: Closures Capturing Locals
// -------------------------------------
// newRootCmd declares args as a local and hands pointers to its fields to
// the flag set. RunE is a closure over the same variable, so by the time
// cobra calls it the flags have been parsed into args.

// newRootCmd builds the cobra command.
func newRootCmd() *cobra.Command {
	var args arguments

	cmd := &cobra.Command{
		Use:          "axconsole",
		Short:        "Interactive client for the remote debug console",
		Version:      version,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runClient(cmd.Context(), args, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	defaultAddr := net.JoinHostPort(console.DefaultBindAddress, strconv.Itoa(console.DefaultPort))
	cmd.Flags().StringVarP(&args.addr, "addr", "a", defaultAddr, "console address (host:port)")
	cmd.Flags().BoolVar(&args.launch, "launch", false, "start axconsoled when no console is listening")
	cmd.Flags().BoolVar(&args.plain, "plain", false, "plain line input without editing or history")
	cmd.Flags().DurationVar(&args.timeout, "timeout", client.CommandTimeout, "per-command timeout")
	return cmd
}

// =============================================================================
// Connection
// =============================================================================

// connect dials the console, launching a daemon first when asked to and
// nothing answers. The returned process is non-nil only when this call
// started it.
func connect(ctx context.Context, args arguments, opts []client.Option, errOut io.Writer) (*client.Client, *exec.Cmd, error) {
	cl, err := client.Dial(ctx, args.addr, opts...)
	if err == nil {
		return cl, nil, nil
	}
	if !args.launch {
		return nil, nil, err
	}

	fmt.Fprintf(errOut, "No console at %s. Launching %s...\n", args.addr, daemonExecutableName)
	proc, err := launchDaemon(args.addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start %s: %w", daemonExecutableName, err)
	}
	fmt.Fprintf(errOut, "%s started (PID: %d)\n", daemonExecutableName, proc.Process.Pid)

	cl, err = client.Dial(ctx, args.addr, opts...)
	if err != nil {
		stopDaemon(proc)
		return nil, nil, err
	}
	return cl, proc, nil
}

// =============================================================================
// Main
// =============================================================================

// GO CONCEPT: Signal Channels
// ---------------------------
// signal.Notify delivers SIGINT and SIGTERM to a buffered channel instead of
// killing the process. A goroutine waits on it and runs the cleanup, so a
// daemon started with --launch does not outlive the client. The returned
// stop function unregisters the channel and ends the goroutine.

// setupSignalHandler runs cleanup and exits when SIGINT or SIGTERM arrives.
func setupSignalHandler(out io.Writer, cleanup func()) (stop func()) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(out)
			cleanup()
			os.Exit(0)
		case <-done:
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(done)
		})
	}
}

// runClient connects, runs the REPL until .quit, EOF or ctx is done, and
// cleans up.
func runClient(ctx context.Context, args arguments, in io.Reader, stdout, stderr io.Writer) error {
	out := &syncWriter{w: stdout}
	errOut := &syncWriter{w: stderr}
	opts := []client.Option{
		client.WithOutputHandler(func(line string) { fmt.Fprintf(out, "\r%s\n", line) }),
		client.WithDisconnectHandler(func(err error) {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				fmt.Fprintf(errOut, "\nDisconnected from console: %v\n", err)
			}
		}),
	}

	cl, proc, err := connect(ctx, args, opts, errOut)
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return err
	}

	editor := newLineEditor(args.plain, in, out)

	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			editor.Close()
			cl.Close()
			if proc != nil {
				stopDaemon(proc)
			}
		})
	}
	defer cleanup()

	stop := setupSignalHandler(out, cleanup)
	defer stop()

	fmt.Fprint(out, welcomeBanner(args.addr))
	if banner := cl.Banner(); banner != "" {
		fmt.Fprint(out, banner)
	}

	repl := &REPL{
		client:  cl,
		addr:    args.addr,
		editor:  editor,
		out:     out,
		errOut:  errOut,
		timeout: args.timeout,
	}
	return repl.Run(ctx)
}

// GO CONCEPT: Mutex-Guarded Writers
// ---------------------------------
// Console output arrives on the client's reader goroutine while the REPL
// writes from the main goroutine. Wrapping the writer with a mutex keeps
// each write whole.

// syncWriter serializes writes to w.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
