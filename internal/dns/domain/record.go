package domain

import (
	"fmt"
	"strings"
)

// DefaultTTL is applied to records created without an explicit TTL.
const DefaultTTL = 3600

// Record is a resource record as the store, cache and API see it: the value is
// kept in its presentation form (dotted IPv4, colon IPv6, a domain name or text).
type Record struct {
	Domain string `json:"domain" validate:"required,max=253"`
	Type   RRType `json:"type" validate:"required"`
	Value  string `json:"value" validate:"required"`
	TTL    int    `json:"ttl" validate:"gt=0"`
}

// NewRecord builds a Record, substituting DefaultTTL for a non-positive ttl.
func NewRecord(name string, rrtype RRType, value string, ttl int) (Record, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := Record{
		Domain: strings.TrimSpace(name),
		Type:   rrtype,
		Value:  strings.TrimSpace(value),
		TTL:    ttl,
	}
	if err := r.Validate(); err != nil {
		return Record{}, err
	}
	return r, nil
}

// Validate checks whether the Record fields are valid for storage.
func (r Record) Validate() error {
	if r.Domain == "" {
		return fmt.Errorf("record domain must not be empty")
	}
	if !r.Type.IsValid() || r.Type == RRTypeANY {
		return fmt.Errorf("invalid record type: %s", r.Type)
	}
	if r.Value == "" {
		return fmt.Errorf("record value must not be empty")
	}
	if r.TTL <= 0 {
		return fmt.Errorf("record TTL must be positive, got %d", r.TTL)
	}
	return nil
}

// Equal reports whether two records are duplicates: domain and value compare
// case-insensitively, type and TTL exactly.
func (r Record) Equal(o Record) bool {
	return r.Type == o.Type &&
		r.TTL == o.TTL &&
		strings.EqualFold(r.Domain, o.Domain) &&
		strings.EqualFold(r.Value, o.Value)
}

// StoreKey returns the bucket key for the record.
func (r Record) StoreKey() string {
	return StoreKey(r.Domain, r.Type)
}

// WireTTL returns the TTL clamped to the unsigned 32-bit range carried on the wire.
func (r Record) WireTTL() uint32 {
	if r.TTL <= 0 {
		return 0
	}
	if uint64(r.TTL) > uint64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(r.TTL)
}

func (r Record) String() string {
	return fmt.Sprintf("%s %s %s (TTL: %d)", r.Domain, r.Type, r.Value, r.TTL)
}

// CloneRecords returns a copy of records that shares no backing array with the input.
func CloneRecords(records []Record) []Record {
	if records == nil {
		return nil
	}
	out := make([]Record, len(records))
	copy(out, records)
	return out
}
