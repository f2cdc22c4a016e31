// =============================================================================
// server.go - axconsoled Discovery and Launch
// =============================================================================
//
// With --launch, axconsole starts axconsoled when nothing is listening on
// the requested address. The daemon is searched for in:
//
//  1. the directory of the axconsole binary
//  2. PATH
//  3. /usr/local/bin and ~/.local/bin
//
// A daemon launched this way is sent SIGTERM when axconsole exits. A daemon
// that was already running is left alone.
//
// =============================================================================

package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

const (
	// daemonExecutableName is the name of the console daemon binary.
	daemonExecutableName = "axconsoled"

	// daemonStartTimeout is how long to wait for the daemon's port.
	daemonStartTimeout = 4 * time.Second

	// daemonPollInterval is how often the port is probed while waiting.
	daemonPollInterval = 100 * time.Millisecond

	// daemonStopTimeout bounds the wait after SIGTERM.
	daemonStopTimeout = 2 * time.Second
)

// launchDaemon starts axconsoled bound to addr and waits until the port
// accepts connections.
func launchDaemon(addr string) (*exec.Cmd, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("invalid address %q: %w", addr, err)
	}

	exePath, err := findDaemonExecutable()
	if err != nil {
		return nil, fmt.Errorf("could not find %s executable: %w", daemonExecutableName, err)
	}

	cmd := exec.Command(exePath, daemonArgs(host, port)...)
	// Daemon output would interleave with the REPL.
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to launch %s: %w", daemonExecutableName, err)
	}

	if err := waitForPort(addr, daemonStartTimeout); err != nil {
		stopDaemon(cmd)
		return nil, fmt.Errorf("%s started (PID: %d) but %w", daemonExecutableName, cmd.Process.Pid, err)
	}
	return cmd, nil
}

// daemonArgs builds the daemon command line for host and port.
func daemonArgs(host, port string) []string {
	args := []string{"--port", port}
	if host != "" {
		args = append(args, "--bind", host)
	}
	return args
}

// stopDaemon sends SIGTERM and reaps the process, killing it if it does not
// exit in time.
func stopDaemon(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		cmd.Process.Kill()
	}
	select {
	case <-done:
	case <-time.After(daemonStopTimeout):
		cmd.Process.Kill()
		<-done
	}
}

// findDaemonExecutable searches for the axconsoled binary in standard
// locations and returns its full path.
func findDaemonExecutable() (string, error) {
	if selfPath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(selfPath), daemonExecutableName)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}

	if path, err := exec.LookPath(daemonExecutableName); err == nil {
		return path, nil
	}

	return findInDirs(daemonExecutableName, []string{
		"/usr/local/bin",
		filepath.Join(homeDir(), ".local", "bin"),
	})
}

// findInDirs returns the first executable named name in dirs.
func findInDirs(name string, dirs []string) (string, error) {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		candidate := filepath.Join(dir, name)
		if isExecutable(candidate) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%s not found in PATH or common locations", name)
}

// waitForPort polls addr until it accepts a TCP connection or timeout
// passes.
func waitForPort(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		conn, err := net.DialTimeout("tcp", addr, daemonPollInterval)
		if err == nil {
			conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for %s: %w", addr, err)
		}
		time.Sleep(daemonPollInterval)
	}
}

// isExecutable checks if a file exists and is executable.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir() && info.Mode().Perm()&0111 != 0
}

// homeDir returns the current user's home directory.
func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return home
}
