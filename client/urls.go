package client

// URLBuilder constructs URLs for packages hosted by a registry.
// Methods return "" when the registry has no such URL.
type URLBuilder interface {
	Registry(name, version string) string
	Download(name, version string) string
	Documentation(name, version string) string
	PURL(name, version string) string
}

// BuildURLs returns a map of all non-empty URLs for a package.
// Keys are "registry", "download", "docs", and "purl".
func BuildURLs(urls URLBuilder, name, version string) map[string]string {
	result := make(map[string]string)
	add := func(key, value string) {
		if value != "" {
			result[key] = value
		}
	}
	add("registry", urls.Registry(name, version))
	add("download", urls.Download(name, version))
	add("docs", urls.Documentation(name, version))
	add("purl", urls.PURL(name, version))
	return result
}
