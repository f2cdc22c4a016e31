// =============================================================================
// axconsoled - Debug Console Daemon
// =============================================================================
//
// Hosts a headless engine and exposes its remote debug console over TCP (or
// over a listening socket inherited from a parent process).
//
// Usage:
//
//	axconsoled                          Listen on 127.0.0.1:5678
//	axconsoled --port 6010 --bind ::1   Listen on [::1]:6010
//	axconsoled --fd 3                   Adopt an inherited listening socket
//	axconsoled --config axconsole.yaml  Load settings from a file
//	axconsoled config                   Print the effective configuration
//
// Connect with axconsole, telnet or nc and type 'help'. With
// websocket_address set, browsers can connect to ws://<address>/console.
// With audit_path set, every command is recorded and 'history' lists them.
// Changes to the --config file are applied live where possible (prompt,
// separator, debug messages, log level).
//
// =============================================================================

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/crazyhappygame/axmol/audit"
	"github.com/crazyhappygame/axmol/config"
	"github.com/crazyhappygame/axmol/console"
	"github.com/crazyhappygame/axmol/headless"
	"github.com/crazyhappygame/axmol/logging"
	"github.com/crazyhappygame/axmol/wsbridge"
)

const (
	// noDescriptor marks --fd as unset.
	noDescriptor = -1

	// websocketPath is where the WebSocket bridge is served.
	websocketPath = "/console"

	// shutdownTimeout bounds the WebSocket bridge shutdown.
	shutdownTimeout = 5 * time.Second
)

// flags holds the command-line overrides applied on top of the loaded
// configuration.
type flags struct {
	configPath string
	port       int
	bind       string
	fd         int
	verbose    bool
	debugMsgs  bool
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var f flags

	root := &cobra.Command{
		Use:   "axconsoled",
		Short: "Run a headless engine with a remote debug console",
		Long: `axconsoled runs a headless engine and serves its debug console.

Every connection gets a prompt; commands are plain text lines such as
'help', 'fps on' or 'director pause'. Several commands can be joined on one
line with the command separator ('|' by default).`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg, f, nil)
		},
	}

	root.PersistentFlags().StringVarP(&f.configPath, "config", "c", "", "YAML configuration file")
	root.Flags().IntVarP(&f.port, "port", "p", console.DefaultPort, "TCP port to listen on")
	root.Flags().StringVar(&f.bind, "bind", console.DefaultBindAddress, "address to bind")
	root.Flags().IntVar(&f.fd, "fd", noDescriptor, "adopt this inherited listening socket instead of binding")
	root.Flags().BoolVarP(&f.verbose, "verbose", "v", false, "log at debug level")
	root.Flags().BoolVar(&f.debugMsgs, "debug-messages", false, "forward engine logs to sessions from the start")

	root.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			return cfg.Write(cmd.OutOrStdout())
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s (console protocol %s)\n", headless.Version, console.Version)
		},
	})

	return root
}

// loadConfig loads the configuration and applies flags the user set
// explicitly, so unset flags do not mask the file or the environment.
func loadConfig(cmd *cobra.Command, f flags) (*config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return nil, err
	}

	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}
	if changed("port") {
		cfg.Port = f.port
	}
	if changed("bind") {
		cfg.BindAddress = f.bind
	}
	if changed("verbose") && f.verbose {
		cfg.LogLevel = zapcore.DebugLevel.String()
	}
	if changed("debug-messages") {
		cfg.DebugMessages = f.debugMsgs
	}
	return cfg, cfg.Validate()
}

// run wires the engine and the console together and blocks until ctx is
// done or the engine ends. ready, when set, receives the console address.
func run(ctx context.Context, cfg *config.Config, f flags, ready func(net.Addr)) error {
	logger, level, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync()

	debug := console.NewDebugBuffer()
	debug.Enable(cfg.DebugMessages)

	engine := headless.New(
		headless.WithLogger(logging.Tee(logger.Named("engine"), console.NewDebugCore(debug, zapcore.InfoLevel))),
		headless.WithFrameInterval(cfg.FrameInterval),
		headless.WithWritablePath(cfg.WritablePath),
	)

	opts := append(cfg.ConsoleOptions(logger.Named("console")),
		console.WithScheduler(engine.Scheduler()),
		console.WithDebugBuffer(debug),
	)

	var trail *audit.Store
	if cfg.AuditPath != "" {
		trail, err = audit.Open(cfg.AuditPath, logger.Named("audit"))
		if err != nil {
			return err
		}
		defer trail.Close()
		opts = append(opts, console.WithCommandHook(trail.Hook()))
	}

	c := console.New(opts...)
	console.RegisterBuiltins(c, engine)
	if trail != nil {
		c.AddCommand(trail.Command())
	}

	if f.fd != noDescriptor {
		err = c.ListenOnFileDescriptor(uintptr(f.fd))
	} else {
		err = c.ListenOnTCP(cfg.Port)
	}
	if err != nil {
		return err
	}
	logger.Info("debug console ready",
		zap.Stringer("addr", c.Addr()),
		zap.Bool("ipv6", c.IsIPv6Server()))

	// From here on the console is listening; every early return stops it.
	var watcher *config.Watcher
	if f.configPath != "" {
		if watcher, err = config.NewWatcher(f.configPath, logger.Named("config")); err != nil {
			c.Stop()
			return err
		}
	}

	var bridge *http.Server
	var bridgeListener net.Listener
	if cfg.WebSocketAddress != "" {
		if bridgeListener, err = net.Listen("tcp", cfg.WebSocketAddress); err != nil {
			if watcher != nil {
				watcher.Close()
			}
			c.Stop()
			return fmt.Errorf("websocket listen: %w", err)
		}
		mux := http.NewServeMux()
		mux.Handle(websocketPath, wsbridge.New(c.Addr().String(), logger.Named("websocket")))
		bridge = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		logger.Info("websocket bridge ready",
			zap.Stringer("addr", bridgeListener.Addr()),
			zap.String("path", websocketPath))
	}

	if ready != nil {
		ready(c.Addr())
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// The engine ending (director end) shuts everything down.
		defer cancel()
		return engine.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		c.Stop()
		if bridge != nil {
			shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
			defer done()
			return bridge.Shutdown(shutdownCtx)
		}
		return nil
	})
	if bridge != nil {
		g.Go(func() error {
			if err := bridge.Serve(bridgeListener); !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("websocket bridge: %w", err)
			}
			return nil
		})
	}
	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx, reloader(c, debug, level))
		})
	}
	return g.Wait()
}

// reloader applies the settings that can change without a restart.
func reloader(c *console.Console, debug *console.DebugBuffer, level zap.AtomicLevel) func(*config.Config) {
	return func(cfg *config.Config) {
		c.SetPrompt(cfg.Prompt)
		c.SetCommandSeparator(cfg.Separator())
		debug.Enable(cfg.DebugMessages)
		if l, err := zapcore.ParseLevel(cfg.LogLevel); err == nil {
			level.SetLevel(l)
		}
	}
}
