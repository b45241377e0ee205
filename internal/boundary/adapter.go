// Package boundary holds the Go side of the C ABI: it turns a caller's path
// bytes into a JSON package list, remembers the last failure per OS thread,
// and counts buffers that have been handed out but not yet reclaimed.
//
// Nothing here touches C memory. cmd/cargo_c_lock copies bytes in and out.
package boundary

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"unicode/utf8"

	"go.trai.ch/zerr"

	"github.com/git-pkgs/cargolock/internal/core"
)

// Version is reported by CargoLockVersion.
const Version = "0.1.0"

var errNoParser = errors.New("no lockfile parser configured")

// Adapter connects a lockfile parser to a serializer.
type Adapter struct {
	parser     core.Parser
	serializer core.Serializer
	logger     *slog.Logger
	annotate   bool

	mu       sync.Mutex
	failures map[uint64]error

	live atomic.Int64
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithParser sets the lockfile parser.
func WithParser(p core.Parser) Option {
	return func(a *Adapter) {
		a.parser = p
	}
}

// WithSerializer sets the package list serializer.
func WithSerializer(s core.Serializer) Option {
	return func(a *Adapter) {
		a.serializer = s
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = l
	}
}

// WithPURL adds a purl field to every serialized package.
func WithPURL(enabled bool) Option {
	return func(a *Adapter) {
		a.annotate = enabled
	}
}

// New returns an Adapter. A parser must be supplied with WithParser.
func New(opts ...Option) (*Adapter, error) {
	a := &Adapter{
		serializer: core.JSONSerializer{},
		logger:     slog.New(slog.DiscardHandler),
		failures:   make(map[uint64]error),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.parser == nil {
		return nil, errNoParser
	}
	return a, nil
}

// Produce renders the lockfile at path and records the outcome for thread.
// A successful call clears the thread's previous failure.
func (a *Adapter) Produce(thread uint64, path []byte) ([]byte, error) {
	data, err := a.Render(path)
	a.Record(thread, err)
	return data, err
}

// Render parses the lockfile named by path and serializes its packages.
// Panics below Render are returned as KindInternal errors.
func (a *Adapter) Render(path []byte) (out []byte, err error) {
	defer zerr.Defer(func(perr error) {
		out = nil
		err = &core.Error{Kind: core.KindInternal, Err: perr}
		a.logFailure(err)
	})

	p, err := checkPath(path)
	if err != nil {
		a.logFailure(err)
		return nil, err
	}

	lf, err := a.parser.ParseFile(p)
	if err != nil {
		a.logFailure(err)
		return nil, err
	}

	if a.annotate {
		core.Annotate(lf.Packages)
	}

	out, err = a.serializer.Serialize(lf.Packages)
	if err != nil {
		if core.KindOf(err) == core.KindInternal {
			err = &core.Error{Kind: core.KindSerialization, Path: p, Err: err}
		}
		a.logFailure(err)
		return nil, err
	}

	a.logger.Debug("rendered lockfile",
		slog.String("path", p),
		slog.Int("lock_version", lf.Version),
		slog.Int("packages", len(lf.Packages)),
		slog.Int("bytes", len(out)))
	return out, nil
}

// checkPath validates caller supplied path bytes.
func checkPath(path []byte) (string, error) {
	switch {
	case path == nil:
		return "", core.InvalidInput(core.ErrNullPath)
	case len(path) == 0:
		return "", core.InvalidInput(core.ErrEmptyPath)
	case bytes.IndexByte(path, 0) >= 0:
		return "", core.InvalidInput(core.ErrNULInPath)
	case !utf8.Valid(path):
		return "", core.InvalidInput(core.ErrInvalidUTF8)
	}
	return string(path), nil
}

// Record stores err as thread's last failure. A nil err clears it.
func (a *Adapter) Record(thread uint64, err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err == nil {
		delete(a.failures, thread)
		return
	}
	a.failures[thread] = err
}

// LastFailure returns thread's last recorded failure, or nil.
func (a *Adapter) LastFailure(thread uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.failures[thread]
}

// Clear drops thread's failure. Thread ids are reused once a thread exits,
// so callers that fail on short-lived threads clear before the thread ends.
func (a *Adapter) Clear(thread uint64) {
	a.Record(thread, nil)
}

// Failures returns how many threads have a failure recorded.
func (a *Adapter) Failures() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.failures)
}

// Acquired notes that a buffer was handed to the caller.
func (a *Adapter) Acquired() {
	a.live.Add(1)
}

// Released notes that the caller returned a buffer.
func (a *Adapter) Released() {
	a.live.Add(-1)
}

// Live returns the number of buffers handed out and not yet reclaimed.
func (a *Adapter) Live() int64 {
	return a.live.Load()
}

func (a *Adapter) logFailure(err error) {
	zerr.Log(context.Background(), a.logger,
		zerr.With(err, "kind", core.KindOf(err).String()))
}
