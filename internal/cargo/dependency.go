package cargo

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/git-pkgs/cargolock/internal/core"
)

// name[ version][ (source)]
var dependencyFormat = regexp.MustCompile(`^([^ ()]+)(?: ([^ ()]+))?(?: \(([^()]*)\))?$`)

var (
	errBadDependency        = errors.New("invalid dependency reference")
	errUnresolvedDependency = errors.New("no package matches dependency")
	errAmbiguousDependency  = errors.New("dependency matches more than one package")
)

// ParseDependency parses a Cargo.lock dependency reference.
// Version and source are optional; v2+ lockfiles omit them when the name
// alone is unambiguous.
func ParseDependency(s string) (core.Dependency, error) {
	m := dependencyFormat.FindStringSubmatch(s)
	if m == nil {
		return core.Dependency{}, fmt.Errorf("%w: %q", errBadDependency, s)
	}
	return core.Dependency{Name: m[1], Version: m[2], Source: m[3]}, nil
}

// index looks up packages by name for dependency resolution.
type index map[string][]int

func newIndex(packages []core.Package) index {
	idx := make(index, len(packages))
	for i, p := range packages {
		idx[p.Name] = append(idx[p.Name], i)
	}
	return idx
}

// resolve expands a possibly short reference into the full reference of the
// single package it designates.
func (idx index) resolve(packages []core.Package, ref core.Dependency) (core.Dependency, error) {
	match := -1
	for _, i := range idx[ref.Name] {
		p := packages[i]
		if ref.Version != "" && p.Version != ref.Version {
			continue
		}
		if ref.Source != "" && p.Source != ref.Source {
			continue
		}
		if match >= 0 {
			return core.Dependency{}, fmt.Errorf("%w: %q", errAmbiguousDependency, ref.String())
		}
		match = i
	}

	if match < 0 {
		return core.Dependency{}, fmt.Errorf("%w: %q", errUnresolvedDependency, ref.String())
	}
	return packages[match].Ref(), nil
}
