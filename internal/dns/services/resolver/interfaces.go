package resolver

import (
	"context"

	"github.com/haukened/dnscore/internal/dns/domain"
)

// RecordStore answers from locally managed records.
type RecordStore interface {
	Query(name string, t domain.RRType) ([]domain.Record, bool)
}

// UpstreamClient forwards a raw query to recursive resolvers.
type UpstreamClient interface {
	Query(ctx context.Context, name string, t domain.RRType, raw []byte) ([]domain.Record, bool)
}
