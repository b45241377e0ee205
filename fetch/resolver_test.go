package fetch

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/git-pkgs/cargolock/client"
	"github.com/git-pkgs/cargolock/internal/core"
)

func TestResolveCratesIO(t *testing.T) {
	r := NewResolver()

	for _, source := range []string{core.CratesIOIndex, core.CratesIOSparseIndex} {
		info, err := r.Resolve(core.Package{Name: "serde", Version: "1.0.193", Source: source, Checksum: "abc"})
		if err != nil {
			t.Fatalf("Resolve failed: %v", err)
		}
		if info.URL != "https://static.crates.io/crates/serde/serde-1.0.193.crate" {
			t.Errorf("URL = %q", info.URL)
		}
		if info.Filename != "serde-1.0.193.crate" {
			t.Errorf("Filename = %q", info.Filename)
		}
		if info.Checksum != "abc" {
			t.Errorf("Checksum = %q", info.Checksum)
		}
	}
}

func TestResolveNoArtifact(t *testing.T) {
	r := NewResolver()

	tests := []core.Package{
		{Name: "app", Version: "0.1.0"},
		{Name: "forked", Version: "0.3.0", Source: "git+https://github.com/x/forked#abc123"},
		{Name: "vendored", Version: "1.0.0", Source: "path+file:///src/vendored"},
	}
	for _, pkg := range tests {
		_, err := r.Resolve(pkg)
		if !errors.Is(err, ErrNoDownloadURL) {
			t.Errorf("Resolve(%s) = %v, want ErrNoDownloadURL", pkg.Name, err)
		}
	}
}

func TestResolveUnknownRegistry(t *testing.T) {
	r := NewResolver()
	_, err := r.Resolve(core.Package{Name: "internal", Version: "1.0.0", Source: "sparse+https://cargo.example.com/index/"})
	if !errors.Is(err, ErrUnknownRegistry) {
		t.Errorf("Resolve = %v, want ErrUnknownRegistry", err)
	}
}

func TestExpandTemplate(t *testing.T) {
	pkg := core.Package{Name: "Serde", Version: "1.0.0", Checksum: "deadbeef"}

	tests := []struct {
		template string
		want     string
	}{
		{"https://dl.example.com/api/v1/crates", "https://dl.example.com/api/v1/crates/Serde/1.0.0/download"},
		{"https://dl.example.com/api/v1/crates/", "https://dl.example.com/api/v1/crates/Serde/1.0.0/download"},
		{"https://dl.example.com/{crate}/{crate}-{version}.crate", "https://dl.example.com/Serde/Serde-1.0.0.crate"},
		{"https://dl.example.com/{prefix}/{crate}", "https://dl.example.com/Se/rd/Serde"},
		{"https://dl.example.com/{lowerprefix}/{crate}", "https://dl.example.com/se/rd/Serde"},
		{"https://dl.example.com/by-hash/{sha256-checksum}", "https://dl.example.com/by-hash/deadbeef"},
	}

	for _, tt := range tests {
		if got := expandTemplate(tt.template, pkg); got != tt.want {
			t.Errorf("expandTemplate(%q) = %q, want %q", tt.template, got, tt.want)
		}
	}
}

func TestIndexPrefix(t *testing.T) {
	tests := map[string]string{
		"a":     "1",
		"ab":    "2",
		"abc":   "3/a",
		"serde": "se/rd",
		"cargo": "ca/rg",
	}
	for name, want := range tests {
		if got := indexPrefix(name); got != want {
			t.Errorf("indexPrefix(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestDiscover(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/index/config.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(registryConfig{
			DL:  "https://dl.example.com/{crate}/{version}",
			API: "https://api.example.com",
		})
	}))
	defer server.Close()

	source := "sparse+" + server.URL + "/index/"
	r := NewResolver()
	if err := r.Discover(context.Background(), client.NewClient(client.WithMaxRetries(0)), source); err != nil {
		t.Fatalf("Discover failed: %v", err)
	}

	info, err := r.Resolve(core.Package{Name: "internal", Version: "2.0.0", Source: source})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if info.URL != "https://dl.example.com/internal/2.0.0" {
		t.Errorf("URL = %q", info.URL)
	}
}

func TestDiscoverRejectsGitIndex(t *testing.T) {
	r := NewResolver()
	err := r.Discover(context.Background(), client.DefaultClient(), "registry+https://github.com/example/index")
	if !errors.Is(err, ErrUnknownRegistry) {
		t.Errorf("Discover = %v, want ErrUnknownRegistry", err)
	}
	if !strings.Contains(err.Error(), "sparse") {
		t.Errorf("error %q should mention sparse registries", err)
	}
}
