// Package cargo parses Cargo.lock files and queries crates.io for the
// packages they pin.
package cargo

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"go.trai.ch/zerr"
	"golang.org/x/mod/semver"

	"github.com/git-pkgs/cargolock/internal/core"
)

const (
	format   = "cargo"
	filename = "Cargo.lock"

	maxLockVersion  = 4
	checksumPrefix  = "checksum "
	checksumMissing = "<none>"
)

func init() {
	core.Register(format, filename, func(cfg core.ParserConfig) core.Parser {
		return NewParser(cfg)
	})
}

var (
	errIsDirectory      = errors.New("is a directory")
	errTooLarge         = errors.New("lockfile exceeds size limit")
	errLockVersion      = errors.New("unsupported lockfile version")
	errMissingName      = errors.New("package has no name")
	errBadVersion       = errors.New("invalid package version")
	errBadSource        = errors.New("invalid package source")
	errBadChecksum      = errors.New("invalid checksum")
	errChecksumConflict = errors.New("conflicting checksums")
	errDuplicatePackage = errors.New("conflicting duplicate package")
	errBadMetadataKey   = errors.New("invalid metadata checksum key")
)

var sourceKinds = map[string]bool{
	core.SourceRegistry: true,
	core.SourceSparse:   true,
	core.SourceGit:      true,
	"path":              true,
	"local-registry":    true,
	"directory":         true,
}

// Parser reads Cargo.lock files.
type Parser struct {
	maxBytes int64
}

// NewParser returns a Cargo.lock parser using cfg.
func NewParser(cfg core.ParserConfig) *Parser {
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = core.DefaultMaxBytes
	}
	return &Parser{maxBytes: cfg.MaxBytes}
}

func (p *Parser) Format() string {
	return format
}

// ParseFile reads the lockfile at path. Errors are *core.Error values
// classified as unavailable (cannot read) or malformed (cannot parse).
func (p *Parser) ParseFile(path string) (*core.Lockfile, error) {
	data, err := p.read(path)
	if err != nil {
		return nil, core.Unavailable(path, zerr.With(err, "path", path))
	}

	lf, err := decode(data)
	if err != nil {
		return nil, core.Malformed(path, zerr.With(err, "path", path))
	}
	return lf, nil
}

// Parse parses Cargo.lock content.
func (p *Parser) Parse(data []byte) (*core.Lockfile, error) {
	if int64(len(data)) > p.maxBytes {
		return nil, core.Malformed("", errTooLarge)
	}
	lf, err := decode(data)
	if err != nil {
		return nil, core.Malformed("", err)
	}
	return lf, nil
}

func (p *Parser) read(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, &fs.PathError{Op: "read", Path: path, Err: errIsDirectory}
	}

	data, err := io.ReadAll(io.LimitReader(f, p.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > p.maxBytes {
		return nil, fmt.Errorf("%w: %d bytes", errTooLarge, p.maxBytes)
	}
	return data, nil
}

type lockfileTOML struct {
	Version  *int              `toml:"version"`
	Packages []packageTOML     `toml:"package"`
	Metadata map[string]string `toml:"metadata"`
}

type packageTOML struct {
	Name         string   `toml:"name"`
	Version      string   `toml:"version"`
	Source       string   `toml:"source"`
	Checksum     string   `toml:"checksum"`
	Dependencies []string `toml:"dependencies"`
	Replace      string   `toml:"replace"`
}

func decode(data []byte) (*core.Lockfile, error) {
	var raw lockfileTOML
	md, err := toml.Decode(string(data), &raw)
	if err != nil {
		return nil, zerr.Wrap(err, "decoding toml")
	}

	version, err := lockVersion(raw.Version, md.IsDefined("metadata"))
	if err != nil {
		return nil, err
	}

	packages := make([]core.Package, 0, len(raw.Packages))
	seen := make(map[string]int, len(raw.Packages))
	for i, rp := range raw.Packages {
		pkg, err := convertPackage(rp)
		if err != nil {
			return nil, zerr.With(err, "package", i)
		}

		key := pkg.Ref().String()
		if j, ok := seen[key]; ok {
			if !packages[j].Same(pkg) {
				return nil, fmt.Errorf("%w: %q", errDuplicatePackage, key)
			}
			continue
		}
		seen[key] = len(packages)
		packages = append(packages, pkg)
	}

	if err := applyMetadataChecksums(packages, raw.Metadata); err != nil {
		return nil, err
	}

	idx := newIndex(packages)
	for i := range packages {
		deps := packages[i].Dependencies
		for j, d := range deps {
			resolved, err := idx.resolve(packages, d)
			if err != nil {
				return nil, zerr.With(err, "package", packages[i].Name)
			}
			deps[j] = resolved
		}
	}

	var metadata map[string]string
	if len(raw.Metadata) > 0 {
		metadata = raw.Metadata
	}

	return &core.Lockfile{
		Version:  version,
		Packages: packages,
		Metadata: metadata,
	}, nil
}

// lockVersion determines the format version. Files without a version key
// are v1 when they carry a [metadata] table and v2 otherwise.
func lockVersion(explicit *int, hasMetadata bool) (int, error) {
	switch {
	case explicit != nil:
		if *explicit < 1 || *explicit > maxLockVersion {
			return 0, fmt.Errorf("%w: %d", errLockVersion, *explicit)
		}
		return *explicit, nil
	case hasMetadata:
		return 1, nil
	default:
		return 2, nil
	}
}

func convertPackage(rp packageTOML) (core.Package, error) {
	if rp.Name == "" {
		return core.Package{}, errMissingName
	}
	if !validVersion(rp.Version) {
		return core.Package{}, fmt.Errorf("%w: %q for %s", errBadVersion, rp.Version, rp.Name)
	}
	if rp.Source != "" && !validSource(rp.Source) {
		return core.Package{}, fmt.Errorf("%w: %q for %s", errBadSource, rp.Source, rp.Name)
	}
	if rp.Checksum != "" && !validChecksum(rp.Checksum) {
		return core.Package{}, fmt.Errorf("%w: %q for %s", errBadChecksum, rp.Checksum, rp.Name)
	}

	pkg := core.Package{
		Name:     rp.Name,
		Version:  rp.Version,
		Source:   rp.Source,
		Checksum: strings.ToLower(rp.Checksum),
	}

	if len(rp.Dependencies) > 0 {
		pkg.Dependencies = make([]core.Dependency, len(rp.Dependencies))
		for i, s := range rp.Dependencies {
			d, err := ParseDependency(s)
			if err != nil {
				return core.Package{}, err
			}
			pkg.Dependencies[i] = d
		}
	}

	if rp.Replace != "" {
		r, err := ParseDependency(rp.Replace)
		if err != nil {
			return core.Package{}, err
		}
		pkg.Replace = &r
	}

	return pkg, nil
}

// applyMetadataChecksums copies v1 "checksum name version (source)" entries
// onto the matching packages.
func applyMetadataChecksums(packages []core.Package, metadata map[string]string) error {
	if len(metadata) == 0 {
		return nil
	}

	byRef := make(map[string]int, len(packages))
	for i, p := range packages {
		byRef[p.Ref().String()] = i
	}

	for key, value := range metadata {
		rest, ok := strings.CutPrefix(key, checksumPrefix)
		if !ok {
			continue
		}
		ref, err := ParseDependency(rest)
		if err != nil || ref.Version == "" {
			return fmt.Errorf("%w: %q", errBadMetadataKey, key)
		}
		if value == checksumMissing {
			continue
		}
		if !validChecksum(value) {
			return fmt.Errorf("%w: %q for %s", errBadChecksum, value, ref.Name)
		}

		i, ok := byRef[ref.String()]
		if !ok {
			// Cargo tolerates stale metadata entries.
			continue
		}
		value = strings.ToLower(value)
		if packages[i].Checksum != "" && packages[i].Checksum != value {
			return fmt.Errorf("%w: %s", errChecksumConflict, ref.String())
		}
		packages[i].Checksum = value
	}
	return nil
}

// validVersion accepts full SemVer 2.0 versions. Shorthands such as "1.2"
// that semver.IsValid tolerates are rejected.
func validVersion(v string) bool {
	if v == "" {
		return false
	}
	sv := "v" + v
	if !semver.IsValid(sv) {
		return false
	}
	withoutBuild, _, _ := strings.Cut(sv, "+")
	return semver.Canonical(sv) == withoutBuild
}

func validSource(source string) bool {
	kind, location := core.SourceKind(source)
	return sourceKinds[kind] && location != ""
}

func validChecksum(s string) bool {
	if len(s) != 64 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9', c >= 'a' && c <= 'f', c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}
