// Package cargolock parses Cargo.lock files into package lists and renders
// them as JSON. The same code backs the C shared library built from
// cmd/cargo_c_lock.
//
// Basic usage:
//
//	import (
//		"fmt"
//		"log"
//
//		"github.com/git-pkgs/cargolock"
//	)
//
//	lf, err := cargolock.Load("Cargo.lock")
//	if err != nil {
//		log.Fatal(err)
//	}
//	for _, p := range lf.Packages {
//		fmt.Println(p.Name, p.Version)
//	}
//
// Registry metadata and artifact checks go over the network:
//
//	n := cargolock.Enrich(ctx, lf.Packages, cargolock.NewCratesIO("", nil))
//	results, err := cargolock.Verify(ctx, lf.Packages)
package cargolock

import (
	"context"

	"github.com/git-pkgs/purl"

	"github.com/git-pkgs/cargolock/client"
	"github.com/git-pkgs/cargolock/fetch"
	"github.com/git-pkgs/cargolock/internal/cargo"
	"github.com/git-pkgs/cargolock/internal/core"
)

// Re-export types from internal/core
type (
	// Lockfile is a parsed lockfile.
	Lockfile = core.Lockfile

	// Package is a single locked package.
	Package = core.Package

	// Dependency references another package in the same lockfile.
	Dependency = core.Dependency

	// Version is registry metadata for one published version.
	Version = core.Version

	// Registry fetches published version metadata.
	Registry = core.Registry

	// Parser is implemented by every lockfile format.
	Parser = core.Parser

	// ParserOption configures a parser.
	ParserOption = core.ParserOption

	// Error is a classified lockfile failure.
	Error = core.Error

	// Kind classifies an Error.
	Kind = core.Kind
)

// Re-export types from client
type (
	// Client is an HTTP client with retry logic for registry APIs.
	Client = client.Client

	// Option configures a Client.
	Option = client.Option
)

// Error kinds, matching the codes returned by CargoLockLastErrorKind.
const (
	KindNone          = core.KindNone
	KindInvalidInput  = core.KindInvalidInput
	KindUnavailable   = core.KindUnavailable
	KindMalformed     = core.KindMalformed
	KindSerialization = core.KindSerialization
	KindInternal      = core.KindInternal
)

// Re-export errors
var (
	ErrNotFound      = client.ErrNotFound
	ErrUnknownFormat = core.ErrUnknownFormat
)

// WithMaxBytes limits the size of lockfiles a parser will read.
var WithMaxBytes = core.WithMaxBytes

// DefaultClient returns a client with sensible defaults.
func DefaultClient() *Client {
	return client.DefaultClient()
}

// NewParser returns the parser registered for format ("cargo").
func NewParser(format string, opts ...ParserOption) (Parser, error) {
	return core.NewParser(format, opts...)
}

// SupportedFormats returns all registered lockfile formats.
func SupportedFormats() []string {
	return core.SupportedFormats()
}

// Load parses the Cargo.lock at path.
func Load(path string, opts ...ParserOption) (*Lockfile, error) {
	return cargo.NewParser(core.NewParserConfig(opts...)).ParseFile(path)
}

// Parse parses Cargo.lock content.
func Parse(data []byte, opts ...ParserOption) (*Lockfile, error) {
	return cargo.NewParser(core.NewParserConfig(opts...)).Parse(data)
}

// JSON returns the JSON array the C library would return for packages.
func JSON(packages []Package) ([]byte, error) {
	return core.JSONSerializer{}.Serialize(packages)
}

// KindOf classifies err. Errors from this package carry a Kind; anything
// else is KindInternal.
func KindOf(err error) Kind {
	return core.KindOf(err)
}

// PURLOf returns the Package URL for a locked package.
func PURLOf(p Package) string {
	return core.PURL(p)
}

// Annotate sets the PURL field of every package.
func Annotate(packages []Package) {
	core.Annotate(packages)
}

// PURL represents a parsed Package URL.
type PURL = purl.PURL

// ParsePURL parses a Package URL string into its components.
func ParsePURL(purlStr string) (*PURL, error) {
	return purl.Parse(purlStr)
}

// NewCratesIO returns a crates.io registry client. An empty baseURL means
// https://crates.io and a nil client means DefaultClient().
func NewCratesIO(baseURL string, c *Client) Registry {
	return cargo.NewRegistry(baseURL, c)
}

// Enrich fills in License, Licenses and Yanked for crates.io packages and
// returns how many were updated. Fetch errors leave packages untouched.
func Enrich(ctx context.Context, packages []Package, reg Registry) int {
	return core.Enrich(ctx, packages, reg)
}

// Verify downloads every crates.io artifact and compares it with the
// lockfile checksum using a circuit-broken fetcher.
// Use fetch.NewVerifier directly for private registries.
func Verify(ctx context.Context, packages []Package) ([]fetch.Result, error) {
	f := fetch.NewFetcher()
	defer f.Close()
	return fetch.NewVerifier(fetch.NewCircuitBreakerFetcher(f), nil).Verify(ctx, packages)
}
