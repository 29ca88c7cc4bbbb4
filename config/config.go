package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the arena server configuration, read from ARENA_* variables.
type Config struct {
	Addr         string        `env:"ARENA_ADDR" envDefault:":3000"`
	MaxPlayers   int           `env:"ARENA_MAX_PLAYERS" envDefault:"8"`
	RespawnDelay time.Duration `env:"ARENA_RESPAWN_DELAY" envDefault:"3s"`
	SendBuffer   int           `env:"ARENA_SEND_BUFFER" envDefault:"64"`
	ReadTimeout  time.Duration `env:"ARENA_READ_TIMEOUT" envDefault:"60s"`
	PingInterval time.Duration `env:"ARENA_PING_INTERVAL" envDefault:"25s"`
	LogLevel     string        `env:"ARENA_LOG_LEVEL" envDefault:"info"`
	LogFormat    string        `env:"ARENA_LOG_FORMAT" envDefault:"text"`
	StaticDir    string        `env:"ARENA_STATIC_DIR"`
	OTelEndpoint string        `env:"ARENA_OTEL_ENDPOINT"` // OTLP/HTTP collector; tracing is off when empty
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("config: addr is required")
	case c.MaxPlayers < 1:
		return fmt.Errorf("config: max players must be at least 1, got %d", c.MaxPlayers)
	case c.RespawnDelay < 0:
		return fmt.Errorf("config: respawn delay must not be negative")
	case c.SendBuffer < 1:
		return fmt.Errorf("config: send buffer must be at least 1, got %d", c.SendBuffer)
	case c.PingInterval <= 0 || c.ReadTimeout <= c.PingInterval:
		return fmt.Errorf("config: read timeout (%s) must exceed ping interval (%s)", c.ReadTimeout, c.PingInterval)
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// NewLogger builds the process logger described by the config.
func (c Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("config: log level %q: %w", s, err)
	}
	return level, nil
}

// Exitf writes a formatted error message to stderr and exits with code 1.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
