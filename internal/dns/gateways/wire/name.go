// Package wire encodes and decodes DNS messages in the RFC 1035 wire format.
// Names are written without compression; compressed names are accepted on read.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/haukened/dnscore/internal/dns/domain"
)

// maxPointerJumps bounds compression pointer follows while decoding one name.
// Six jumps are allowed; the seventh fails.
const maxPointerJumps = 6

const maxLabelLength = 63

var (
	// ErrFormat is returned when a value cannot be represented in wire format.
	ErrFormat = errors.New("format error")
	// ErrTooManyPointers is returned when a name follows more compression pointers than allowed.
	ErrTooManyPointers = fmt.Errorf("%w: too many compression pointers", domain.ErrMalformedMessage)
)

// EncodeName writes name as length-prefixed labels terminated by a zero byte.
// Empty labels (a trailing dot, or the empty root name) are skipped.
func EncodeName(name string) ([]byte, error) {
	out := make([]byte, 0, len(name)+2)
	for _, label := range strings.Split(name, ".") {
		if label == "" {
			continue
		}
		if len(label) > maxLabelLength {
			return nil, fmt.Errorf("%w: label %q exceeds %d bytes", ErrFormat, label, maxLabelLength)
		}
		out = append(out, byte(len(label)))
		out = append(out, label...)
	}
	return append(out, 0), nil
}

// DecodeName reads a possibly compressed name starting at off. It returns the
// dotted name and the offset just past it in the original byte stream, which
// is the byte after the first compression pointer when one was followed.
func DecodeName(msg []byte, off int) (string, int, error) {
	var labels []string
	resume := -1
	jumps := 0

	for {
		if off < 0 || off >= len(msg) {
			return "", 0, fmt.Errorf("%w: name offset %d out of range", domain.ErrMalformedMessage, off)
		}
		length := int(msg[off])

		switch length & 0xC0 {
		case 0x00:
			if length == 0 {
				if resume < 0 {
					resume = off + 1
				}
				return strings.Join(labels, "."), resume, nil
			}
			off++
			if off+length > len(msg) {
				return "", 0, fmt.Errorf("%w: label overruns message", domain.ErrMalformedMessage)
			}
			labels = append(labels, string(msg[off:off+length]))
			off += length
		case 0xC0:
			if off+1 >= len(msg) {
				return "", 0, fmt.Errorf("%w: truncated compression pointer", domain.ErrMalformedMessage)
			}
			if jumps >= maxPointerJumps {
				return "", 0, ErrTooManyPointers
			}
			jumps++
			if resume < 0 {
				resume = off + 2
			}
			off = int(binary.BigEndian.Uint16(msg[off:off+2]) & 0x3FFF)
		default:
			return "", 0, fmt.Errorf("%w: unsupported label type %#x", domain.ErrMalformedMessage, length&0xC0)
		}
	}
}
