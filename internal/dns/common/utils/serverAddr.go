package utils

import (
	"fmt"
	"net/netip"
	"strings"
)

// DNSPort is assumed for server addresses given as a bare IP literal.
const DNSPort = 53

// ParseServerAddr accepts an IP literal (port 53 implied) or an ip:port pair.
func ParseServerAddr(s string) (netip.AddrPort, error) {
	s = strings.TrimSpace(s)
	if addr, err := netip.ParseAddr(s); err == nil {
		return netip.AddrPortFrom(addr.Unmap(), DNSPort), nil
	}
	ap, err := netip.ParseAddrPort(s)
	if err != nil || ap.Port() == 0 {
		return netip.AddrPort{}, fmt.Errorf("invalid server address %q", s)
	}
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port()), nil
}
