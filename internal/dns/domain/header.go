package domain

import (
	"encoding/binary"
	"fmt"
)

// HeaderSize is the fixed length of a DNS message header (RFC 1035 §4.1.1).
const HeaderSize = 12

// Header flag bits.
const (
	FlagQR     uint16 = 0x8000 // query (0) or response (1)
	FlagAA     uint16 = 0x0400 // authoritative answer
	FlagTC     uint16 = 0x0200 // truncated
	FlagRD     uint16 = 0x0100 // recursion desired
	FlagRA     uint16 = 0x0080 // recursion available
	maskOpcode uint16 = 0x7800
	maskZ      uint16 = 0x0070
	maskRCode  uint16 = 0x000F
)

// Header is the 12-byte DNS message header. It is built per message, mutated
// in place while a response is assembled and discarded after serialization.
type Header struct {
	ID      uint16
	Flags   uint16
	QDCount uint16
	ANCount uint16
	NSCount uint16
	ARCount uint16
}

// ParseHeader decodes the first 12 bytes of data.
func ParseHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, fmt.Errorf("%w: header needs %d bytes, got %d", ErrMalformedMessage, HeaderSize, len(data))
	}
	return Header{
		ID:      binary.BigEndian.Uint16(data[0:2]),
		Flags:   binary.BigEndian.Uint16(data[2:4]),
		QDCount: binary.BigEndian.Uint16(data[4:6]),
		ANCount: binary.BigEndian.Uint16(data[6:8]),
		NSCount: binary.BigEndian.Uint16(data[8:10]),
		ARCount: binary.BigEndian.Uint16(data[10:12]),
	}, nil
}

// Bytes serializes the header in network byte order.
func (h Header) Bytes() []byte {
	b := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(b[0:2], h.ID)
	binary.BigEndian.PutUint16(b[2:4], h.Flags)
	binary.BigEndian.PutUint16(b[4:6], h.QDCount)
	binary.BigEndian.PutUint16(b[6:8], h.ANCount)
	binary.BigEndian.PutUint16(b[8:10], h.NSCount)
	binary.BigEndian.PutUint16(b[10:12], h.ARCount)
	return b
}

// IsQuery reports whether the QR bit is clear.
func (h Header) IsQuery() bool { return h.Flags&FlagQR == 0 }

// IsResponse reports whether the QR bit is set.
func (h Header) IsResponse() bool { return h.Flags&FlagQR != 0 }

// Opcode returns the 4-bit operation code.
func (h Header) Opcode() uint8 { return uint8((h.Flags & maskOpcode) >> 11) }

// RCode returns the 4-bit response code.
func (h Header) RCode() RCode {
	return RCode(h.Flags & maskRCode)
}

// Has reports whether every bit in flag is set.
func (h Header) Has(flag uint16) bool { return h.Flags&flag == flag }

// SetAsResponse marks the message as an authoritative response (QR and AA).
func (h *Header) SetAsResponse() {
	h.Flags |= FlagQR | FlagAA
}

// SetRecursionAvailable sets the RA bit.
func (h *Header) SetRecursionAvailable() {
	h.Flags |= FlagRA
}

// SetRCode replaces the response code bits with rc.
func (h *Header) SetRCode(rc RCode) {
	h.Flags = (h.Flags &^ maskRCode) | (uint16(rc) & maskRCode)
}
