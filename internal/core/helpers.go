package core

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/github/go-spdx/v2/spdxexp"
)

const defaultConcurrency = 15

// Enrich fetches registry metadata for every crates.io package and fills in
// License, Licenses and Yanked in place. Versions are fetched once per crate
// name. Individual fetch errors are silently ignored - those packages are left
// untouched. Returns the number of packages enriched.
func Enrich(ctx context.Context, packages []Package, reg Registry) int {
	return EnrichWithConcurrency(ctx, packages, reg, defaultConcurrency)
}

// EnrichWithConcurrency enriches packages with a custom concurrency limit.
func EnrichWithConcurrency(ctx context.Context, packages []Package, reg Registry, concurrency int) int {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}

	byName := make(map[string][]int)
	for i, p := range packages {
		if !IsCratesIO(p.Source) {
			continue
		}
		byName[p.Name] = append(byName[p.Name], i)
	}

	var enriched atomic.Int64
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for name, indexes := range byName {
		wg.Add(1)
		go func(name string, indexes []int) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			versions, err := reg.FetchVersions(ctx, name)
			if err != nil {
				return
			}

			for _, i := range indexes {
				if v := findVersion(versions, packages[i].Version); v != nil {
					applyVersion(&packages[i], v)
					enriched.Add(1)
				}
			}
		}(name, indexes)
	}

	wg.Wait()
	return int(enriched.Load())
}

func findVersion(versions []Version, number string) *Version {
	for i := range versions {
		if versions[i].Number == number {
			return &versions[i]
		}
	}
	return nil
}

func applyVersion(p *Package, v *Version) {
	p.License = v.Licenses
	p.Licenses = LicenseIDs(v.Licenses)
	p.Yanked = v.Status == StatusYanked
}

// LicenseIDs returns the SPDX license identifiers referenced by expr, or nil
// when expr is empty or not a valid SPDX expression.
func LicenseIDs(expr string) []string {
	if expr == "" {
		return nil
	}
	if ok, _ := spdxexp.ValidateLicenses([]string{expr}); !ok {
		return nil
	}
	ids, err := spdxexp.ExtractLicenses(expr)
	if err != nil {
		return nil
	}
	return ids
}
