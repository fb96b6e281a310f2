package utils

import (
	"strings"

	"golang.org/x/net/publicsuffix"
)

// GetApexDomain returns the registrable domain (eTLD+1) that name belongs to.
// Wildcard patterns resolve to the apex of their suffix. Names the public
// suffix list cannot classify are returned canonicalized.
func GetApexDomain(name string) string {
	name = CanonicalDNSName(name)
	name = strings.TrimPrefix(name, "*.")
	apexDomain, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		return name
	}
	return apexDomain
}
