package wire

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/netip"
	"strconv"
	"strings"

	"github.com/haukened/dnscore/internal/dns/domain"
)

// encodeRData converts a record's presentation value into rdata bytes.
// Types without a dedicated encoder carry their value as hex (the form
// decodeRData produces for them); anything else encodes as empty rdata.
func encodeRData(t domain.RRType, value string) ([]byte, error) {
	switch t {
	case domain.RRTypeA:
		return encodeA(value)
	case domain.RRTypeAAAA:
		return encodeAAAA(value)
	case domain.RRTypeNS, domain.RRTypeCNAME, domain.RRTypePTR:
		return EncodeName(value)
	case domain.RRTypeTXT:
		return encodeTXT(value)
	case domain.RRTypeMX:
		return encodeMX(value)
	case domain.RRTypeSRV:
		return encodeSRV(value)
	case domain.RRTypeSOA:
		return encodeSOA(value)
	default:
		raw, err := hex.DecodeString(value)
		if err != nil {
			return []byte{}, nil
		}
		return raw, nil
	}
}

// ValidateValue reports whether value is a well-formed presentation value for t,
// i.e. whether BuildResponse could encode a record carrying it.
func ValidateValue(t domain.RRType, value string) error {
	_, err := encodeRData(t, value)
	return err
}

// decodeRData is the inverse of encodeRData. It reads rdLen bytes at off in
// msg; name-bearing types may follow compression pointers anywhere in msg.
func decodeRData(t domain.RRType, msg []byte, off, rdLen int) (string, error) {
	rd := msg[off : off+rdLen]
	switch t {
	case domain.RRTypeA:
		if len(rd) != 4 {
			return "", fmt.Errorf("%w: A rdata must be 4 bytes, got %d", domain.ErrMalformedMessage, len(rd))
		}
		return netip.AddrFrom4([4]byte(rd)).String(), nil
	case domain.RRTypeAAAA:
		if len(rd) != 16 {
			return "", fmt.Errorf("%w: AAAA rdata must be 16 bytes, got %d", domain.ErrMalformedMessage, len(rd))
		}
		return netip.AddrFrom16([16]byte(rd)).String(), nil
	case domain.RRTypeNS, domain.RRTypeCNAME, domain.RRTypePTR:
		name, _, err := DecodeName(msg, off)
		return name, err
	case domain.RRTypeTXT:
		return decodeTXT(rd)
	case domain.RRTypeMX:
		if len(rd) < 3 {
			return "", fmt.Errorf("%w: MX rdata too short", domain.ErrMalformedMessage)
		}
		exchange, _, err := DecodeName(msg, off+2)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %s", binary.BigEndian.Uint16(rd[0:2]), exchange), nil
	case domain.RRTypeSRV:
		if len(rd) < 7 {
			return "", fmt.Errorf("%w: SRV rdata too short", domain.ErrMalformedMessage)
		}
		target, _, err := DecodeName(msg, off+6)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %d %d %s",
			binary.BigEndian.Uint16(rd[0:2]),
			binary.BigEndian.Uint16(rd[2:4]),
			binary.BigEndian.Uint16(rd[4:6]),
			target), nil
	case domain.RRTypeSOA:
		return decodeSOA(msg, off, rdLen)
	default:
		return strings.ToUpper(hex.EncodeToString(rd)), nil
	}
}

func encodeA(value string) ([]byte, error) {
	addr, err := netip.ParseAddr(value)
	if err != nil || !addr.Is4() {
		return nil, fmt.Errorf("%w: invalid IPv4 address %q", ErrFormat, value)
	}
	b := addr.As4()
	return b[:], nil
}

func encodeAAAA(value string) ([]byte, error) {
	addr, err := netip.ParseAddr(value)
	if err != nil || !addr.Is6() {
		return nil, fmt.Errorf("%w: invalid IPv6 address %q", ErrFormat, value)
	}
	b := addr.As16()
	return b[:], nil
}

// encodeTXT writes the value as a single character-string.
func encodeTXT(value string) ([]byte, error) {
	if len(value) > 255 {
		return nil, fmt.Errorf("%w: TXT value is %d bytes, limit is 255", ErrFormat, len(value))
	}
	out := make([]byte, 0, len(value)+1)
	out = append(out, byte(len(value)))
	return append(out, value...), nil
}

// decodeTXT concatenates every character-string in rd.
func decodeTXT(rd []byte) (string, error) {
	var sb strings.Builder
	for i := 0; i < len(rd); {
		n := int(rd[i])
		i++
		if i+n > len(rd) {
			return "", fmt.Errorf("%w: TXT string overruns rdata", domain.ErrMalformedMessage)
		}
		sb.Write(rd[i : i+n])
		i += n
	}
	return sb.String(), nil
}

func encodeMX(value string) ([]byte, error) {
	// "10 mail.example.com"
	parts := strings.Fields(value)
	if len(parts) != 2 {
		return nil, fmt.Errorf("%w: MX value must be \"preference exchange\": %q", ErrFormat, value)
	}
	pref, err := parseUint16(parts[0], "MX preference")
	if err != nil {
		return nil, err
	}
	exchange, err := EncodeName(parts[1])
	if err != nil {
		return nil, err
	}
	return append(binary.BigEndian.AppendUint16(nil, pref), exchange...), nil
}

func encodeSRV(value string) ([]byte, error) {
	// "10 5 5060 sip.example.com"
	parts := strings.Fields(value)
	if len(parts) != 4 {
		return nil, fmt.Errorf("%w: SRV value must be \"priority weight port target\": %q", ErrFormat, value)
	}
	out := make([]byte, 0, 6+len(parts[3])+2)
	for i, field := range []string{"SRV priority", "SRV weight", "SRV port"} {
		v, err := parseUint16(parts[i], field)
		if err != nil {
			return nil, err
		}
		out = binary.BigEndian.AppendUint16(out, v)
	}
	target, err := EncodeName(parts[3])
	if err != nil {
		return nil, err
	}
	return append(out, target...), nil
}

func encodeSOA(value string) ([]byte, error) {
	// "mname rname serial refresh retry expire minimum"
	parts := strings.Fields(value)
	if len(parts) != 7 {
		return nil, fmt.Errorf("%w: SOA value needs 7 fields, got %d", ErrFormat, len(parts))
	}
	mname, err := EncodeName(parts[0])
	if err != nil {
		return nil, err
	}
	rname, err := EncodeName(parts[1])
	if err != nil {
		return nil, err
	}
	out := append(mname, rname...)
	for i := 2; i < 7; i++ {
		v, err := strconv.ParseUint(parts[i], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid SOA field %d: %q", ErrFormat, i+1, parts[i])
		}
		out = binary.BigEndian.AppendUint32(out, uint32(v))
	}
	return out, nil
}

func decodeSOA(msg []byte, off, rdLen int) (string, error) {
	end := off + rdLen
	mname, next, err := DecodeName(msg, off)
	if err != nil {
		return "", err
	}
	rname, next, err := DecodeName(msg, next)
	if err != nil {
		return "", err
	}
	if next+20 > end {
		return "", fmt.Errorf("%w: SOA rdata missing counters", domain.ErrMalformedMessage)
	}
	var n [5]uint32
	for i := range n {
		n[i] = binary.BigEndian.Uint32(msg[next+i*4:])
	}
	return fmt.Sprintf("%s %s %d %d %d %d %d", mname, rname, n[0], n[1], n[2], n[3], n[4]), nil
}

func parseUint16(s, field string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", ErrFormat, field, s)
	}
	return uint16(v), nil
}
