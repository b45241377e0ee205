// Package core provides shared lockfile types, the format registry and the
// parser/serializer capabilities used by the FFI boundary.
package core

import (
	"strings"
	"time"
)

// Lockfile is the parsed form of a dependency lockfile.
type Lockfile struct {
	Version  int               // lockfile format version (Cargo: 1 to 4)
	Packages []Package         // in file order, duplicates removed
	Metadata map[string]string // v1 [metadata] table, nil otherwise
}

// Package is a single resolved package record.
type Package struct {
	Name         string       `json:"name"`
	Version      string       `json:"version"`
	Source       string       `json:"source,omitempty"`
	Checksum     string       `json:"checksum,omitempty"`
	Dependencies []Dependency `json:"dependencies,omitempty"`
	Replace      *Dependency  `json:"replace,omitempty"`

	// Set by annotation and enrichment, never by the parser.
	PURL     string   `json:"purl,omitempty"`
	License  string   `json:"license,omitempty"`
	Licenses []string `json:"licenses,omitempty"`
	Yanked   bool     `json:"yanked,omitempty"`
}

// Dependency references another package in the same lockfile.
type Dependency struct {
	Name    string
	Version string
	Source  string
}

// String renders the dependency the way Cargo.lock v1 writes it:
// "name version (source)", omitting empty parts.
func (d Dependency) String() string {
	var b strings.Builder
	b.WriteString(d.Name)
	if d.Version != "" {
		b.WriteByte(' ')
		b.WriteString(d.Version)
	}
	if d.Source != "" {
		b.WriteString(" (")
		b.WriteString(d.Source)
		b.WriteByte(')')
	}
	return b.String()
}

// MarshalText encodes the dependency as its string form.
func (d Dependency) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Ref returns a dependency reference pointing at p.
func (p Package) Ref() Dependency {
	return Dependency{Name: p.Name, Version: p.Version, Source: p.Source}
}

// Same reports whether two records describe the same package.
// Version comparison ignores case, as Cargo does for build metadata.
func (p Package) Same(o Package) bool {
	return p.Name == o.Name &&
		strings.EqualFold(p.Version, o.Version) &&
		p.Source == o.Source &&
		p.Checksum == o.Checksum
}

// IsLocal reports whether the package lives in the workspace (no source).
func (p Package) IsLocal() bool {
	return p.Source == ""
}

// Known source kinds.
const (
	SourceRegistry = "registry"
	SourceSparse   = "sparse"
	SourceGit      = "git"
)

// Well known crates.io index locations.
const (
	CratesIOIndex       = "registry+https://github.com/rust-lang/crates.io-index"
	CratesIOSparseIndex = "sparse+https://index.crates.io/"
)

// SourceKind splits a source id into its kind and location.
// "registry+https://x" returns ("registry", "https://x").
func SourceKind(source string) (kind, location string) {
	kind, location, ok := strings.Cut(source, "+")
	if !ok {
		return "", source
	}
	return kind, location
}

// IsCratesIO reports whether source is the public crates.io index.
func IsCratesIO(source string) bool {
	return source == CratesIOIndex || source == CratesIOSparseIndex
}

// Version represents a specific version of a package as reported by a registry.
type Version struct {
	Number      string
	PublishedAt time.Time
	Licenses    string
	Integrity   string        // sha256-...
	Status      VersionStatus // "", "yanked"
	Metadata    map[string]any
}

// VersionStatus represents the status of a package version.
type VersionStatus string

const (
	StatusNone   VersionStatus = ""
	StatusYanked VersionStatus = "yanked"
)
