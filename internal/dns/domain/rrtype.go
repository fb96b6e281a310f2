package domain

import (
	"fmt"
	"strings"
)

// RRType represents a DNS resource record type (e.g. A, AAAA, MX).
// Only the types the server models are enumerated; see IANA DNS Parameters for the codes.
type RRType uint16

// DNS Resource Record Type constants
const (
	RRTypeA     RRType = 1   // A - IPv4 address
	RRTypeNS    RRType = 2   // NS - Name server
	RRTypeCNAME RRType = 5   // CNAME - Canonical name
	RRTypeSOA   RRType = 6   // SOA - Start of authority
	RRTypePTR   RRType = 12  // PTR - Pointer
	RRTypeMX    RRType = 15  // MX - Mail exchange
	RRTypeTXT   RRType = 16  // TXT - Text
	RRTypeAAAA  RRType = 28  // AAAA - IPv6 address
	RRTypeSRV   RRType = 33  // SRV - Service
	RRTypeANY   RRType = 255 // ANY - Any type (query only)
)

// SupportedRRTypes lists every modeled record type in wire-code order.
var SupportedRRTypes = []RRType{
	RRTypeA, RRTypeNS, RRTypeCNAME, RRTypeSOA, RRTypePTR,
	RRTypeMX, RRTypeTXT, RRTypeAAAA, RRTypeSRV, RRTypeANY,
}

// IsValid returns true if the RRType is one of the supported types.
func (t RRType) IsValid() bool {
	switch t {
	case RRTypeA, RRTypeNS, RRTypeCNAME, RRTypeSOA, RRTypePTR,
		RRTypeMX, RRTypeTXT, RRTypeAAAA, RRTypeSRV, RRTypeANY:
		return true
	default:
		return false
	}
}

// String returns the textual representation of the RRType.
// For unknown types, it returns "UNKNOWN(<value>)".
func (t RRType) String() string {
	switch t {
	case RRTypeA:
		return "A"
	case RRTypeNS:
		return "NS"
	case RRTypeCNAME:
		return "CNAME"
	case RRTypeSOA:
		return "SOA"
	case RRTypePTR:
		return "PTR"
	case RRTypeMX:
		return "MX"
	case RRTypeTXT:
		return "TXT"
	case RRTypeAAAA:
		return "AAAA"
	case RRTypeSRV:
		return "SRV"
	case RRTypeANY:
		return "ANY"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint16(t))
	}
}

// ParseRRType converts a record type mnemonic (case-insensitive) to its RRType.
// Unknown mnemonics yield an error.
func ParseRRType(s string) (RRType, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A":
		return RRTypeA, nil
	case "NS":
		return RRTypeNS, nil
	case "CNAME":
		return RRTypeCNAME, nil
	case "SOA":
		return RRTypeSOA, nil
	case "PTR":
		return RRTypePTR, nil
	case "MX":
		return RRTypeMX, nil
	case "TXT":
		return RRTypeTXT, nil
	case "AAAA":
		return RRTypeAAAA, nil
	case "SRV":
		return RRTypeSRV, nil
	case "ANY":
		return RRTypeANY, nil
	default:
		return 0, fmt.Errorf("unsupported record type %q", s)
	}
}

// MarshalText encodes the type as its mnemonic so persisted records stay human readable.
func (t RRType) MarshalText() ([]byte, error) {
	if !t.IsValid() {
		return nil, fmt.Errorf("invalid RRType: %d", uint16(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText accepts a mnemonic such as "A" or "aaaa".
func (t *RRType) UnmarshalText(b []byte) error {
	parsed, err := ParseRRType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
