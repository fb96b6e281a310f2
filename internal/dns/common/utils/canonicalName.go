package utils

import "strings"

// CanonicalDNSName returns a DNS name in canonical form:
// lowercased, trimmed of surrounding whitespace, and without trailing dots.
func CanonicalDNSName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ToLower(name)
	return strings.TrimRight(name, ".")
}

// IsWildcard reports whether name is a stored wildcard pattern ("*.suffix").
func IsWildcard(name string) bool {
	return strings.HasPrefix(name, "*.") && len(name) > 2
}
