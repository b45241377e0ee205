package core

import "context"

// Registry is the interface implemented by package registry clients used to
// enrich lockfile packages with published metadata.
type Registry interface {
	// Ecosystem returns the PURL type for this registry (e.g., "cargo").
	Ecosystem() string

	// FetchVersions retrieves all published versions of a package.
	FetchVersions(ctx context.Context, name string) ([]Version, error)

	// URLs returns the URL builder for this registry.
	URLs() URLBuilder
}
