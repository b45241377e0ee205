package boundary

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"go.trai.ch/zerr"

	_ "github.com/git-pkgs/cargolock/all"
	"github.com/git-pkgs/cargolock/internal/core"
)

// Environment variables read by LoadConfig.
const (
	EnvLog       = "CARGOLOCK_LOG"
	EnvLogFormat = "CARGOLOCK_LOG_FORMAT"
	EnvFormat    = "CARGOLOCK_FORMAT"
	EnvMaxBytes  = "CARGOLOCK_MAX_BYTES"
	EnvIndent    = "CARGOLOCK_INDENT"
	EnvPURL      = "CARGOLOCK_PURL"
)

const (
	defaultFormat = "cargo"
	indentUnit    = "  "
)

// Config holds the settings of the shared library. The C ABI takes no
// options, so they come from the environment of the host process.
type Config struct {
	LogLevel  string // "" disables logging
	LogFormat string // "text" or "json"
	Format    string
	MaxBytes  int64
	Indent    bool
	PURL      bool
}

// DefaultConfig returns the configuration used when no variable is set.
func DefaultConfig() Config {
	return Config{
		LogFormat: "text",
		Format:    defaultFormat,
		MaxBytes:  core.DefaultMaxBytes,
	}
}

// LoadConfig reads configuration with lookup, typically os.LookupEnv.
func LoadConfig(lookup func(string) (string, bool)) (Config, error) {
	cfg := DefaultConfig()

	if v, ok := lookup(EnvLog); ok {
		cfg.LogLevel = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(EnvLogFormat); ok && v != "" {
		cfg.LogFormat = strings.ToLower(strings.TrimSpace(v))
	}
	if v, ok := lookup(EnvFormat); ok && v != "" {
		cfg.Format = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvMaxBytes); ok && v != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || n <= 0 {
			return Config{}, zerr.With(fmt.Errorf("invalid %s: %q", EnvMaxBytes, v), "env", EnvMaxBytes)
		}
		cfg.MaxBytes = n
	}

	var err error
	if cfg.Indent, err = boolEnv(lookup, EnvIndent); err != nil {
		return Config{}, err
	}
	if cfg.PURL, err = boolEnv(lookup, EnvPURL); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func boolEnv(lookup func(string) (string, bool), key string) (bool, error) {
	v, ok := lookup(key)
	if !ok || v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return false, zerr.With(fmt.Errorf("invalid %s: %q", key, v), "env", key)
	}
	return b, nil
}

// NewLogger builds the logger described by cfg, writing to w.
// An empty LogLevel yields a logger that discards everything.
func NewLogger(cfg Config, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	switch cfg.LogLevel {
	case "", "off", "none":
		return slog.New(slog.DiscardHandler), nil
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, zerr.With(fmt.Errorf("invalid %s: %q", EnvLog, cfg.LogLevel), "env", EnvLog)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch cfg.LogFormat {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, zerr.With(fmt.Errorf("invalid %s: %q", EnvLogFormat, cfg.LogFormat), "env", EnvLogFormat)
	}
}

// NewFromConfig builds an Adapter from cfg.
func NewFromConfig(cfg Config, logOutput io.Writer) (*Adapter, error) {
	logger, err := NewLogger(cfg, logOutput)
	if err != nil {
		return nil, err
	}

	parser, err := core.NewParser(cfg.Format, core.WithMaxBytes(cfg.MaxBytes))
	if err != nil {
		return nil, zerr.With(err, "format", cfg.Format)
	}

	serializer := core.JSONSerializer{}
	if cfg.Indent {
		serializer.Indent = indentUnit
	}

	return New(
		WithParser(parser),
		WithSerializer(serializer),
		WithLogger(logger),
		WithPURL(cfg.PURL),
	)
}

// FromEnv builds an Adapter from the process environment, logging to
// stderr. Invalid settings fall back to the defaults, and the error is
// returned alongside the working Adapter.
func FromEnv() (*Adapter, error) {
	cfg, cfgErr := LoadConfig(os.LookupEnv)
	if cfgErr != nil {
		cfg = DefaultConfig()
	}

	a, err := NewFromConfig(cfg, os.Stderr)
	if err != nil {
		cfgErr = err
		a, err = NewFromConfig(DefaultConfig(), os.Stderr)
		if err != nil {
			return nil, err
		}
	}
	return a, cfgErr
}
