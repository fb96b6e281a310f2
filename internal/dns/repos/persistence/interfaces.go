// Package persistence defines how custom records survive restarts. The record
// store owns the in-memory truth and pushes full snapshots through a
// Repository; backends only need to be safe for a single concurrent writer.
package persistence

import (
	"context"
	"fmt"
	"strings"

	"github.com/haukened/dnscore/internal/dns/domain"
)

// Repository is the storage contract for custom records.
type Repository interface {
	// LoadAll returns every stored record. A missing backing file or table is
	// an empty set, not an error.
	LoadAll(ctx context.Context) ([]domain.Record, error)
	// SaveAll replaces the stored set with records.
	SaveAll(ctx context.Context, records []domain.Record) error
	Add(ctx context.Context, record domain.Record) error
	// Delete removes every record for (name, t); name compares case-insensitively.
	Delete(ctx context.Context, name string, t domain.RRType) error
	Clear(ctx context.Context) error
	Close() error
}

// Provider names a backend.
type Provider string

const (
	ProviderJSON   Provider = "json"
	ProviderSQLite Provider = "sqlite"
	ProviderBolt   Provider = "bolt"
	ProviderNone   Provider = "none"
)

// ParseProvider accepts a provider name case-insensitively.
func ParseProvider(s string) (Provider, error) {
	switch p := Provider(strings.ToLower(strings.TrimSpace(s))); p {
	case ProviderJSON, ProviderSQLite, ProviderBolt, ProviderNone:
		return p, nil
	case "":
		return ProviderNone, nil
	default:
		return "", fmt.Errorf("unknown persistence provider %q", s)
	}
}

// Matches reports whether r belongs to the (name, t) bucket.
func Matches(r domain.Record, name string, t domain.RRType) bool {
	return r.Type == t && strings.EqualFold(r.Domain, name)
}
