// Package config loads the console daemon configuration from defaults, an
// optional YAML file, an optional .env file and AXCONSOLE_* environment
// variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
	"unicode/utf8"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/crazyhappygame/axmol/console"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "AXCONSOLE_"

// DefaultEnvFile is loaded when Load is given no env files.
const DefaultEnvFile = ".env"

// Config holds the daemon settings.
type Config struct {
	// Listener
	BindAddress string `yaml:"bind_address" env:"BIND_ADDRESS"`
	Port        int    `yaml:"port" env:"PORT"`

	// Protocol
	Prompt            string        `yaml:"prompt" env:"PROMPT"`
	Welcome           string        `yaml:"welcome" env:"WELCOME"`
	CommandSeparator  string        `yaml:"command_separator" env:"COMMAND_SEPARATOR"`
	MaxLineLength     int           `yaml:"max_line_length" env:"MAX_LINE_LENGTH"`
	ReadChunkSize     int           `yaml:"read_chunk_size" env:"READ_CHUNK_SIZE"`
	FlushInterval     time.Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ViolationBurst    int           `yaml:"violation_burst" env:"VIOLATION_BURST"`
	ViolationInterval time.Duration `yaml:"violation_interval" env:"VIOLATION_INTERVAL"`
	DebugMessages     bool          `yaml:"debug_messages" env:"DEBUG_MESSAGES"`
	MaxSessions       int           `yaml:"max_sessions" env:"MAX_SESSIONS"`

	// Audit trail; empty disables it.
	AuditPath string `yaml:"audit_path" env:"AUDIT_PATH"`

	// WebSocket bridge; empty disables it.
	WebSocketAddress string `yaml:"websocket_address" env:"WEBSOCKET_ADDRESS"`

	// Logging
	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`

	// Engine
	FrameInterval time.Duration `yaml:"frame_interval" env:"FRAME_INTERVAL"`
	WritablePath  string        `yaml:"writable_path" env:"WRITABLE_PATH"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		BindAddress:       console.DefaultBindAddress,
		Port:              console.DefaultPort,
		Prompt:            console.DefaultPrompt,
		CommandSeparator:  string(console.DefaultCommandSeparator),
		MaxLineLength:     console.MaxLineLength,
		ReadChunkSize:     console.DefaultReadChunkSize,
		FlushInterval:     console.DefaultFlushInterval,
		WriteTimeout:      console.DefaultWriteTimeout,
		ViolationBurst:    console.DefaultViolationBurst,
		ViolationInterval: console.DefaultViolationInterval,
		LogLevel:          "info",
		LogFormat:         "console",
		FrameInterval:     time.Second / 60,
		WritablePath:      os.TempDir(),
	}
}

// Load builds the configuration. path names an optional YAML file; an
// empty path skips it. envFiles are loaded into the process environment
// without overriding variables that are already set; with none given,
// DefaultEnvFile is used when present.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := loadEnvFiles(envFiles); err != nil {
		return nil, err
	}

	if err := env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFiles(files []string) error {
	if len(files) == 0 {
		if _, err := os.Stat(DefaultEnvFile); err != nil {
			return nil
		}
		files = []string{DefaultEnvFile}
	}
	if err := godotenv.Load(files...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Validate checks the configuration for values the console cannot use.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if utf8.RuneCountInString(c.CommandSeparator) > 1 {
		errs = append(errs, fmt.Errorf("command_separator %q must be a single character", c.CommandSeparator))
	}
	if c.MaxLineLength <= 0 {
		errs = append(errs, errors.New("max_line_length must be positive"))
	}
	if c.ReadChunkSize <= 0 {
		errs = append(errs, errors.New("read_chunk_size must be positive"))
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, errors.New("flush_interval must be positive"))
	}
	if c.WriteTimeout < 0 {
		errs = append(errs, errors.New("write_timeout must not be negative"))
	}
	if c.ViolationBurst <= 0 || c.ViolationInterval <= 0 {
		errs = append(errs, errors.New("violation_burst and violation_interval must be positive"))
	}
	if c.MaxSessions < 0 {
		errs = append(errs, errors.New("max_sessions must not be negative"))
	}
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		errs = append(errs, fmt.Errorf("log_format %q must be console or json", c.LogFormat))
	}
	if c.FrameInterval <= 0 {
		errs = append(errs, errors.New("frame_interval must be positive"))
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Separator returns the command separator, or 0 when splitting is off.
func (c *Config) Separator() rune {
	r, _ := utf8.DecodeRuneInString(c.CommandSeparator)
	if r == utf8.RuneError {
		return 0
	}
	return r
}

// ConsoleOptions translates the configuration into console options.
func (c *Config) ConsoleOptions(logger *zap.Logger) []console.Option {
	return []console.Option{
		console.WithLogger(logger),
		console.WithBindAddress(c.BindAddress),
		console.WithPrompt(c.Prompt),
		console.WithWelcome(c.Welcome),
		console.WithCommandSeparator(c.Separator()),
		console.WithMaxLineLength(c.MaxLineLength),
		console.WithReadChunkSize(c.ReadChunkSize),
		console.WithFlushInterval(c.FlushInterval),
		console.WithWriteTimeout(c.WriteTimeout),
		console.WithViolationLimit(c.ViolationBurst, c.ViolationInterval),
		console.WithMaxSessions(c.MaxSessions),
	}
}

// Write encodes the configuration as YAML.
func (c *Config) Write(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return enc.Close()
}
