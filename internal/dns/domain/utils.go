package domain

import "strings"

// StoreKey returns the key joining domain matching and record buckets:
// lowercase(domain) + ":" + type. Wildcards are stored literally ("*.example.com").
func StoreKey(name string, t RRType) string {
	return strings.ToLower(name) + ":" + t.String()
}

// SplitStoreKey returns the domain portion of a key built by StoreKey.
func SplitStoreKey(key string) (string, string) {
	i := strings.LastIndexByte(key, ':')
	if i < 0 {
		return key, ""
	}
	return key[:i], key[i+1:]
}

// WildcardCandidates returns the wildcard owner names that may answer name,
// most specific first: api.dev.example.com yields *.dev.example.com,
// *.example.com, *.com. Names with fewer than two labels yield nothing.
func WildcardCandidates(name string) []string {
	labels := strings.Split(name, ".")
	if len(labels) < 2 {
		return nil
	}
	out := make([]string, 0, len(labels)-1)
	for i := 0; i < len(labels)-1; i++ {
		out = append(out, "*."+strings.Join(labels[i+1:], "."))
	}
	return out
}
