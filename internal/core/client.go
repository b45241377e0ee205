package core

import (
	"github.com/git-pkgs/cargolock/client"
)

// Type aliases so registry implementations only import core.
type (
	Client        = client.Client
	Option        = client.Option
	URLBuilder    = client.URLBuilder
	HTTPError     = client.HTTPError
	NotFoundError = client.NotFoundError
)

// Function aliases.
var (
	DefaultClient  = client.DefaultClient
	NewClient      = client.NewClient
	WithTimeout    = client.WithTimeout
	WithMaxRetries = client.WithMaxRetries
	BuildURLs      = client.BuildURLs
)

// ErrNotFound is returned when a package or version is not found.
var ErrNotFound = client.ErrNotFound
