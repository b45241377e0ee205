package cargo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/git-pkgs/cargolock/internal/core"
)

const (
	DefaultURL = "https://crates.io"
	ecosystem  = "cargo"
)

// Registry queries the crates.io API.
type Registry struct {
	baseURL string
	client  *core.Client
	urls    *URLs
}

// NewRegistry returns a crates.io client rooted at baseURL.
// An empty baseURL means DefaultURL; a nil client means core.DefaultClient.
func NewRegistry(baseURL string, client *core.Client) *Registry {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	if client == nil {
		client = core.DefaultClient()
	}
	r := &Registry{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  client,
	}
	r.urls = &URLs{baseURL: r.baseURL}
	return r
}

func (r *Registry) Ecosystem() string {
	return ecosystem
}

func (r *Registry) URLs() core.URLBuilder {
	return r.urls
}

type crateResponse struct {
	Crate    crateInfo     `json:"crate"`
	Versions []versionInfo `json:"versions"`
}

type crateInfo struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Repository string `json:"repository"`
}

type versionInfo struct {
	ID          int    `json:"id"`
	Num         string `json:"num"`
	License     string `json:"license"`
	Checksum    string `json:"checksum"`
	Yanked      bool   `json:"yanked"`
	YankMessage string `json:"yank_message"`
	CreatedAt   string `json:"created_at"`
	Downloads   int    `json:"downloads"`
	RustVersion string `json:"rust_version"`
	CrateSize   int    `json:"crate_size"`
}

func (r *Registry) FetchVersions(ctx context.Context, name string) ([]core.Version, error) {
	url := fmt.Sprintf("%s/api/v1/crates/%s", r.baseURL, name)

	var resp crateResponse
	if err := r.client.GetJSON(ctx, url, &resp); err != nil {
		var httpErr *core.HTTPError
		if errors.As(err, &httpErr) && httpErr.IsNotFound() {
			return nil, &core.NotFoundError{Ecosystem: ecosystem, Name: name}
		}
		return nil, err
	}

	versions := make([]core.Version, len(resp.Versions))
	for i, v := range resp.Versions {
		var publishedAt time.Time
		if v.CreatedAt != "" {
			publishedAt, _ = time.Parse(time.RFC3339, v.CreatedAt)
		}

		var status core.VersionStatus
		if v.Yanked {
			status = core.StatusYanked
		}

		var integrity string
		if v.Checksum != "" {
			integrity = "sha256-" + v.Checksum
		}

		versions[i] = core.Version{
			Number:      v.Num,
			PublishedAt: publishedAt,
			Licenses:    v.License,
			Integrity:   integrity,
			Status:      status,
			Metadata: map[string]any{
				"id":           v.ID,
				"downloads":    v.Downloads,
				"rust_version": v.RustVersion,
				"crate_size":   v.CrateSize,
				"yank_message": v.YankMessage,
			},
		}
	}

	return versions, nil
}

// URLs builds crates.io, static.crates.io and docs.rs URLs.
type URLs struct {
	baseURL string
}

func (u *URLs) Registry(name, version string) string {
	if version != "" {
		return fmt.Sprintf("%s/crates/%s/%s", u.baseURL, name, version)
	}
	return fmt.Sprintf("%s/crates/%s", u.baseURL, name)
}

func (u *URLs) Download(name, version string) string {
	if version == "" {
		return ""
	}
	return DownloadURL(name, version)
}

func (u *URLs) Documentation(name, version string) string {
	if version != "" {
		return fmt.Sprintf("https://docs.rs/%s/%s", name, version)
	}
	return fmt.Sprintf("https://docs.rs/%s", name)
}

func (u *URLs) PURL(name, version string) string {
	return core.PURL(core.Package{Name: name, Version: version})
}

// DownloadURL returns the static.crates.io artifact URL for a crate.
func DownloadURL(name, version string) string {
	return fmt.Sprintf("https://static.crates.io/crates/%s/%s-%s.crate", name, name, version)
}
