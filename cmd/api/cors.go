package main

import (
	"net/url"
	"strings"
)

// matchCORSOrigin reports whether origin is allowed by any pattern. Patterns
// are "*", an exact origin, or a scheme with a wildcard subdomain such as
// "https://*.example.edu.in".
func matchCORSOrigin(origin string, patterns []string) bool {
	o, err := url.Parse(origin)
	if err != nil || o.Scheme == "" || o.Host == "" {
		return false
	}
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		switch {
		case p == "*":
			return true
		case p == origin:
			return true
		case strings.Contains(p, "://*."):
			u, err := url.Parse(strings.Replace(p, "://*.", "://wildcard.", 1))
			if err != nil || u.Scheme != o.Scheme || u.Port() != o.Port() {
				continue
			}
			suffix := "." + strings.TrimPrefix(u.Hostname(), "wildcard.")
			if strings.HasSuffix(o.Hostname(), suffix) && len(o.Hostname()) > len(suffix) {
				return true
			}
		}
	}
	return false
}
