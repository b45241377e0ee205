// Package all imports all supported lockfile formats.
//
// Import this package for its side effects to register every parser:
//
//	import (
//		"github.com/git-pkgs/cargolock"
//		_ "github.com/git-pkgs/cargolock/all"
//	)
//
//	// Now all formats are available
//	formats := cargolock.SupportedFormats()
//	// ["cargo"]
package all

import (
	_ "github.com/git-pkgs/cargolock/internal/cargo"
)
