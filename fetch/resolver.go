package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/git-pkgs/cargolock/client"
	"github.com/git-pkgs/cargolock/internal/cargo"
	"github.com/git-pkgs/cargolock/internal/core"
)

var (
	ErrNoDownloadURL   = errors.New("no download URL available")
	ErrUnknownRegistry = errors.New("no download template for registry")
)

// Download template markers understood by Cargo registries.
const (
	markerCrate       = "{crate}"
	markerVersion     = "{version}"
	markerPrefix      = "{prefix}"
	markerLowerPrefix = "{lowerprefix}"
	markerChecksum    = "{sha256-checksum}"
)

// Resolver maps lockfile packages to the .crate artifacts their checksums
// cover. crates.io is known; other registries are added with
// RegisterRegistry or Discover.
type Resolver struct {
	mu        sync.RWMutex
	templates map[string]string // source id -> download template
}

// NewResolver creates a resolver that knows crates.io.
func NewResolver() *Resolver {
	return &Resolver{
		templates: make(map[string]string),
	}
}

// RegisterRegistry sets the download template for a registry source id such
// as "sparse+https://cargo.example.com/index/". The template is the "dl"
// value of the registry's config.json.
func (r *Resolver) RegisterRegistry(source, template string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[source] = template
}

type registryConfig struct {
	DL  string `json:"dl"`
	API string `json:"api"`
}

// Discover fetches config.json from a sparse registry and registers its
// download template.
func (r *Resolver) Discover(ctx context.Context, c *client.Client, source string) error {
	kind, location := core.SourceKind(source)
	if kind != core.SourceSparse {
		return fmt.Errorf("%w: only sparse registries publish config.json over HTTP: %s", ErrUnknownRegistry, source)
	}

	var cfg registryConfig
	if err := c.GetJSON(ctx, strings.TrimSuffix(location, "/")+"/config.json", &cfg); err != nil {
		return fmt.Errorf("fetching registry config: %w", err)
	}
	if cfg.DL == "" {
		return fmt.Errorf("%w: config.json for %s has no dl", ErrUnknownRegistry, source)
	}
	r.RegisterRegistry(source, cfg.DL)
	return nil
}

// ArtifactInfo describes a downloadable .crate file.
type ArtifactInfo struct {
	URL      string
	Filename string
	Checksum string // lowercase hex SHA-256 from the lockfile
}

// Resolve returns the artifact for pkg. Path and git packages have no
// artifact and yield ErrNoDownloadURL.
func (r *Resolver) Resolve(pkg core.Package) (*ArtifactInfo, error) {
	kind, _ := core.SourceKind(pkg.Source)
	if kind != core.SourceRegistry && kind != core.SourceSparse {
		return nil, fmt.Errorf("%w: %s", ErrNoDownloadURL, pkg.Ref())
	}

	info := &ArtifactInfo{
		Filename: fmt.Sprintf("%s-%s.crate", pkg.Name, pkg.Version),
		Checksum: pkg.Checksum,
	}

	if core.IsCratesIO(pkg.Source) {
		info.URL = cargo.DownloadURL(pkg.Name, pkg.Version)
		return info, nil
	}

	r.mu.RLock()
	template, ok := r.templates[pkg.Source]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRegistry, pkg.Source)
	}

	info.URL = expandTemplate(template, pkg)
	return info, nil
}

// expandTemplate fills a Cargo "dl" template. A template without markers
// gets "/{crate}/{version}/download" appended.
func expandTemplate(template string, pkg core.Package) string {
	if !strings.Contains(template, "{") {
		return fmt.Sprintf("%s/%s/%s/download", strings.TrimSuffix(template, "/"), pkg.Name, pkg.Version)
	}

	prefix := indexPrefix(pkg.Name)
	return strings.NewReplacer(
		markerCrate, pkg.Name,
		markerVersion, pkg.Version,
		markerPrefix, prefix,
		markerLowerPrefix, strings.ToLower(prefix),
		markerChecksum, pkg.Checksum,
	).Replace(template)
}

// indexPrefix is the directory a crate lives under in a registry index.
func indexPrefix(name string) string {
	switch len(name) {
	case 0:
		return ""
	case 1:
		return "1"
	case 2:
		return "2"
	case 3:
		return "3/" + name[:1]
	default:
		return name[:2] + "/" + name[2:4]
	}
}
