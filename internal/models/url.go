package models

import "strings"

// IsURL reports whether s carries an http or https scheme.
func IsURL(s string) bool {
	lower := strings.ToLower(s)
	return strings.HasPrefix(lower, "https://") || strings.HasPrefix(lower, "http://")
}

// NormalizeArtifactURL prefixes https:// to a bare host or path.
// URLs that already carry a scheme are returned unchanged.
func NormalizeArtifactURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if strings.Contains(raw, "://") {
		return raw
	}
	return "https://" + strings.TrimLeft(raw, "/")
}
