package core

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
)

// Parser is the lockfile parsing capability.
type Parser interface {
	// Format returns the format name (e.g., "cargo").
	Format() string

	// ParseFile reads and parses the lockfile at path.
	ParseFile(path string) (*Lockfile, error)

	// Parse parses lockfile content that was already read.
	Parse(data []byte) (*Lockfile, error)
}

// ParserOption configures a parser created through the format registry.
type ParserOption func(*ParserConfig)

// ParserConfig holds settings shared by all parser implementations.
type ParserConfig struct {
	MaxBytes int64 // upper bound on lockfile size, 0 means DefaultMaxBytes
}

// DefaultMaxBytes bounds how much of a lockfile is read.
const DefaultMaxBytes = 64 << 20

// WithMaxBytes limits the size of lockfiles a parser will read.
func WithMaxBytes(n int64) ParserOption {
	return func(c *ParserConfig) {
		c.MaxBytes = n
	}
}

// NewParserConfig applies opts over the defaults.
func NewParserConfig(opts ...ParserOption) ParserConfig {
	cfg := ParserConfig{MaxBytes: DefaultMaxBytes}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return cfg
}

// Factory creates a parser instance.
type Factory func(cfg ParserConfig) Parser

var (
	factories = make(map[string]Factory)
	filenames = make(map[string]string) // lockfile basename -> format
	mu        sync.RWMutex
)

// Register adds a parser factory to the global registry.
// format is the format name (e.g., "cargo") and filename the conventional
// lockfile basename (e.g., "Cargo.lock").
func Register(format string, filename string, factory Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[format] = factory
	if filename != "" {
		filenames[filename] = format
	}
}

// NewParser creates a parser for the given format.
func NewParser(format string, opts ...ParserOption) (Parser, error) {
	mu.RLock()
	factory, ok := factories[format]
	mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFormat, format)
	}

	return factory(NewParserConfig(opts...)), nil
}

// FormatForPath returns the format registered for path's basename.
func FormatForPath(path string) (string, bool) {
	mu.RLock()
	defer mu.RUnlock()
	format, ok := filenames[filepath.Base(path)]
	return format, ok
}

// SupportedFormats returns all registered format names, sorted.
func SupportedFormats() []string {
	mu.RLock()
	defer mu.RUnlock()

	formats := make([]string, 0, len(factories))
	for f := range factories {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	return formats
}
