package classify

import (
	"fmt"
	"net/url"
	"strings"
)

// EnsureScheme prepends the default scheme to rawURL when it lacks an
// explicit http:// or https:// prefix. Already-qualified URLs pass through
// unchanged, so the operation is idempotent.
func EnsureScheme(rawURL, defaultScheme string) string {
	trimmed := strings.TrimSpace(rawURL)
	lower := strings.ToLower(trimmed)
	if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
		return trimmed
	}
	return defaultScheme + "://" + trimmed
}

// CacheKey normalizes a scheme-qualified URL into the key the boundary uses
// for cache and store lookups. It lowercases the scheme and host, strips
// default ports and fragments, and sorts query parameters. Scheme remains
// part of the key, so the http and https forms of a site stay distinct.
func CacheKey(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not scheme-qualified", rawURL)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}
