package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/git-pkgs/cargolock/internal/core"
)

// Status is the outcome of verifying one package.
type Status string

const (
	StatusVerified Status = "verified" // artifact hash matches the lockfile
	StatusMismatch Status = "mismatch" // artifact hash differs
	StatusSkipped  Status = "skipped"  // no checksum or no artifact to check
	StatusFailed   Status = "failed"   // artifact could not be downloaded
)

const defaultVerifyConcurrency = 8

// Result reports the verification of a single package.
type Result struct {
	Package core.Package
	URL     string
	Status  Status
	Actual  string // hex SHA-256 of the downloaded artifact
	Err     error
}

// Verifier downloads artifacts and compares their SHA-256 with the lockfile.
type Verifier struct {
	fetcher     FetcherInterface
	resolver    *Resolver
	concurrency int
	maxBytes    int64
	logger      *slog.Logger
}

// VerifierOption configures a Verifier.
type VerifierOption func(*Verifier)

// WithConcurrency limits how many artifacts are downloaded at once.
func WithConcurrency(n int) VerifierOption {
	return func(v *Verifier) {
		v.concurrency = n
	}
}

// WithMaxArtifactBytes stops hashing an artifact after n bytes and reports
// it as failed. Zero means no limit.
func WithMaxArtifactBytes(n int64) VerifierOption {
	return func(v *Verifier) {
		v.maxBytes = n
	}
}

// WithVerifyLogger sets the logger used for per-package outcomes.
func WithVerifyLogger(l *slog.Logger) VerifierOption {
	return func(v *Verifier) {
		v.logger = l
	}
}

var errArtifactTooLarge = errors.New("artifact exceeds size limit")

// NewVerifier creates a Verifier. A nil resolver means NewResolver().
func NewVerifier(f FetcherInterface, r *Resolver, opts ...VerifierOption) *Verifier {
	if r == nil {
		r = NewResolver()
	}
	v := &Verifier{
		fetcher:     f,
		resolver:    r,
		concurrency: defaultVerifyConcurrency,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(v)
	}
	if v.concurrency <= 0 {
		v.concurrency = defaultVerifyConcurrency
	}
	return v
}

// Verify checks every package and returns one Result per package, in input
// order. The error is non-nil only when ctx ends before all work is done.
func (v *Verifier) Verify(ctx context.Context, packages []core.Package) ([]Result, error) {
	results := make([]Result, len(packages))

	var g errgroup.Group
	g.SetLimit(v.concurrency)

	for i, pkg := range packages {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			results[i] = v.verify(ctx, pkg)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		for i := range results {
			if results[i].Status == "" {
				results[i] = Result{Package: packages[i], Status: StatusFailed, Err: err}
			}
		}
		return results, err
	}
	return results, nil
}

func (v *Verifier) verify(ctx context.Context, pkg core.Package) Result {
	res := Result{Package: pkg}

	if pkg.Checksum == "" {
		res.Status = StatusSkipped
		return res
	}

	info, err := v.resolver.Resolve(pkg)
	if err != nil {
		res.Err = err
		res.Status = StatusFailed
		if errors.Is(err, ErrNoDownloadURL) {
			res.Status = StatusSkipped
		}
		return res
	}
	res.URL = info.URL

	sum, err := v.hash(ctx, info.URL)
	if err != nil {
		res.Status = StatusFailed
		res.Err = err
		v.logger.Warn("artifact download failed",
			slog.String("package", pkg.Ref().String()),
			slog.String("url", info.URL),
			slog.String("error", err.Error()))
		return res
	}

	res.Actual = sum
	if sum == info.Checksum {
		res.Status = StatusVerified
	} else {
		res.Status = StatusMismatch
		v.logger.Warn("checksum mismatch",
			slog.String("package", pkg.Ref().String()),
			slog.String("want", info.Checksum),
			slog.String("got", sum))
	}
	return res
}

func (v *Verifier) hash(ctx context.Context, url string) (string, error) {
	artifact, err := v.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	defer func() { _ = artifact.Body.Close() }()

	var body io.Reader = artifact.Body
	if v.maxBytes > 0 {
		body = io.LimitReader(artifact.Body, v.maxBytes+1)
	}

	h := sha256.New()
	n, err := io.Copy(h, body)
	if err != nil {
		return "", fmt.Errorf("reading artifact: %w", err)
	}
	if v.maxBytes > 0 && n > v.maxBytes {
		return "", fmt.Errorf("%w: %s", errArtifactTooLarge, url)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Failed returns the results that are not verified or skipped.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Status == StatusMismatch || r.Status == StatusFailed {
			out = append(out, r)
		}
	}
	return out
}
