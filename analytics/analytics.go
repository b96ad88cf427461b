// Package analytics records page views and keeps the post and category index
// in SQLite. Schema changes ship as goose migrations embedded in the binary.
package analytics

import (
	"path"
	"strings"
)

// untrackedPrefixes are request paths that never count as page views.
var untrackedPrefixes = []string{
	"/static/",
	"/api/",
	"/metrics",
	"/healthz",
}

// untrackedFiles are well-known files requested by browsers and crawlers.
var untrackedFiles = map[string]bool{
	"/favicon.ico":   true,
	"/favicon.svg":   true,
	"/robots.txt":    true,
	"/sitemap.xml":   true,
	"/manifest.json": true,
}

// IsTracked reports whether a GET of urlPath should be recorded as a page view.
func IsTracked(urlPath string) bool {
	if untrackedFiles[urlPath] {
		return false
	}
	for _, p := range untrackedPrefixes {
		if strings.HasPrefix(urlPath, p) {
			return false
		}
	}
	ext := strings.ToLower(path.Ext(urlPath))
	return ext == "" || ext == ".html"
}

// PageName maps a request path to its logical page name: the first path
// segment, lower-cased, with ".html", a "_page" suffix and underscores
// removed. The root and "home" map to "index".
func PageName(urlPath string) string {
	name := strings.Trim(urlPath, "/")
	if i := strings.IndexByte(name, '/'); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)
	name = strings.TrimSuffix(name, ".html")
	name = strings.TrimSuffix(name, "_page")
	name = strings.ReplaceAll(name, "_", "")
	if name == "" || name == "home" {
		return "index"
	}
	return name
}
