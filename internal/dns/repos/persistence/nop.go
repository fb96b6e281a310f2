package persistence

import (
	"context"

	"github.com/haukened/dnscore/internal/dns/domain"
)

// nopRepository keeps nothing; used when persistence is disabled.
type nopRepository struct{}

// NewNop returns a Repository that stores nothing and loads an empty set.
func NewNop() Repository { return nopRepository{} }

func (nopRepository) LoadAll(context.Context) ([]domain.Record, error)    { return nil, nil }
func (nopRepository) SaveAll(context.Context, []domain.Record) error      { return nil }
func (nopRepository) Add(context.Context, domain.Record) error            { return nil }
func (nopRepository) Delete(context.Context, string, domain.RRType) error { return nil }
func (nopRepository) Clear(context.Context) error                         { return nil }
func (nopRepository) Close() error                                        { return nil }
