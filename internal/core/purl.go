package core

import (
	packageurl "github.com/git-pkgs/packageurl-go"
)

// PURL returns the Package URL for a lockfile package.
// Packages from registries other than crates.io carry a repository_url
// qualifier, git packages a vcs_url qualifier. Local packages get no qualifiers.
func PURL(p Package) string {
	qualifiers := map[string]string{}

	kind, location := SourceKind(p.Source)
	switch {
	case p.Source == "" || IsCratesIO(p.Source):
	case kind == SourceGit:
		qualifiers["vcs_url"] = p.Source
	case kind == SourceRegistry || kind == SourceSparse:
		qualifiers["repository_url"] = location
	}

	var q packageurl.Qualifiers
	if len(qualifiers) > 0 {
		q = packageurl.QualifiersFromMap(qualifiers)
	}

	return packageurl.NewPackageURL(packageurl.TypeCargo, "", p.Name, p.Version, q, "").ToString()
}

// Annotate sets the PURL field of every package in place.
func Annotate(packages []Package) {
	for i := range packages {
		packages[i].PURL = PURL(packages[i])
	}
}
