// Package recordstore holds the locally managed records and answers lookups by
// exact name, then wildcard, then (for ANY) every type of the name. Each bucket
// is an immutable slice replaced wholesale on mutation, so a slice handed to a
// reader can never change underneath it.
package recordstore

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haukened/dnscore/internal/dns/common/log"
	"github.com/haukened/dnscore/internal/dns/domain"
	"github.com/haukened/dnscore/internal/dns/repos/persistence"
	"github.com/haukened/dnscore/internal/dns/repos/recordstore/keyfilter"
)

// Options configures a Store.
type Options struct {
	// Repository receives the full record set after each change. Nil disables persistence.
	Repository persistence.Repository
	Logger     log.Logger
	// AutoSaveInterval > 0 defers saves to RunAutoSave; zero saves on every change.
	AutoSaveInterval time.Duration
}

// Store is safe for concurrent use.
type Store struct {
	mu      sync.RWMutex
	buckets map[string][]domain.Record
	order   []string // bucket keys in first-insertion order
	filter  *keyfilter.Filter

	repo      persistence.Repository
	persistMu sync.Mutex
	autoSave  time.Duration
	dirty     atomic.Bool

	logger log.Logger
}

// New returns an empty Store.
func New(opts Options) *Store {
	if opts.Repository == nil {
		opts.Repository = persistence.NewNop()
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	return &Store{
		buckets:  make(map[string][]domain.Record),
		filter:   keyfilter.New(nil, keyfilter.DefaultFalsePositiveRate),
		repo:     opts.Repository,
		autoSave: opts.AutoSaveInterval,
		logger:   opts.Logger,
	}
}

// Load replaces the in-memory set with the repository's contents, dropping
// duplicates. On error the store is left unchanged.
func (s *Store) Load(ctx context.Context) error {
	records, err := s.repo.LoadAll(ctx)
	if err != nil {
		s.logger.Error(map[string]any{"error": err}, "failed to load records from persistence")
		return err
	}

	buckets := make(map[string][]domain.Record)
	var order []string
	loaded := 0
	for _, r := range records {
		if err := r.Validate(); err != nil {
			s.logger.Warn(map[string]any{"record": r.String(), "error": err}, "skipping invalid persisted record")
			continue
		}
		key := r.StoreKey()
		existing, seen := buckets[key]
		if containsEqual(existing, r) {
			continue
		}
		if !seen {
			order = append(order, key)
		}
		buckets[key] = append(existing, r)
		loaded++
	}

	s.mu.Lock()
	s.buckets = buckets
	s.order = order
	s.rebuildFilterLocked()
	s.mu.Unlock()

	s.logger.Info(map[string]any{"count": loaded}, "loaded records from persistence")
	return nil
}

// AddRecord adds r unless an equal record already exists, and reports whether it was added.
func (s *Store) AddRecord(ctx context.Context, r domain.Record) bool {
	return s.AddRecords(ctx, []domain.Record{r}) == 1
}

// AddRecords adds every record not already present and returns how many were added.
// Invalid records are skipped with a warning.
func (s *Store) AddRecords(ctx context.Context, records []domain.Record) int {
	added := 0

	s.mu.Lock()
	for _, r := range records {
		if err := r.Validate(); err != nil {
			s.logger.Warn(map[string]any{"record": r.String(), "error": err}, "rejecting invalid record")
			continue
		}
		key := r.StoreKey()
		existing, seen := s.buckets[key]
		if containsEqual(existing, r) {
			s.logger.Debug(map[string]any{"record": r.String()}, "record already exists, skipped")
			continue
		}
		next := make([]domain.Record, len(existing), len(existing)+1)
		copy(next, existing)
		s.buckets[key] = append(next, r)
		if !seen {
			s.order = append(s.order, key)
		}
		added++
		s.logger.Info(map[string]any{"record": r.String()}, "added custom record")
	}
	if added > 0 {
		s.rebuildFilterLocked()
	}
	s.mu.Unlock()

	if added > 0 {
		s.changed(ctx)
	}
	return added
}

// Query returns a copy of the records answering (name, t), and false when
// nothing matches.
func (s *Store) Query(name string, t domain.RRType) ([]domain.Record, bool) {
	if name == "" {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if rs, ok := s.lookupLocked(domain.StoreKey(name, t)); ok {
		s.logger.Debug(map[string]any{"name": name, "type": t.String()}, "record found (exact)")
		return domain.CloneRecords(rs), true
	}

	for _, wildcard := range domain.WildcardCandidates(name) {
		if rs, ok := s.lookupLocked(domain.StoreKey(wildcard, t)); ok {
			s.logger.Debug(map[string]any{"name": name, "type": t.String(), "wildcard": wildcard}, "record found (wildcard)")
			return domain.CloneRecords(rs), true
		}
	}

	if t == domain.RRTypeANY {
		var all []domain.Record
		for _, rt := range domain.SupportedRRTypes {
			if rs, ok := s.lookupLocked(domain.StoreKey(name, rt)); ok {
				all = append(all, rs...)
			}
		}
		if len(all) > 0 {
			s.logger.Debug(map[string]any{"name": name}, "record found (ANY)")
			return all, true
		}
	}

	return nil, false
}

func (s *Store) lookupLocked(key string) ([]domain.Record, bool) {
	if !s.filter.MightContain(key) {
		return nil, false
	}
	rs, ok := s.buckets[key]
	return rs, ok && len(rs) > 0
}

// RemoveRecord deletes the whole (name, t) bucket and reports whether it existed.
func (s *Store) RemoveRecord(ctx context.Context, name string, t domain.RRType) bool {
	key := domain.StoreKey(name, t)

	s.mu.Lock()
	_, ok := s.buckets[key]
	if ok {
		delete(s.buckets, key)
		s.order = removeKey(s.order, key)
		s.rebuildFilterLocked()
	}
	s.mu.Unlock()

	if !ok {
		return false
	}
	s.logger.Info(map[string]any{"name": name, "type": t.String()}, "removed custom record")
	s.changed(ctx)
	return true
}

// Clear drops every record.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	hadRecords := len(s.buckets) > 0
	s.buckets = make(map[string][]domain.Record)
	s.order = nil
	s.rebuildFilterLocked()
	s.mu.Unlock()

	if hadRecords {
		s.logger.Info(nil, "cleared all custom records")
		s.changed(ctx)
	}
}

// GetAllRecords returns a copy of every record, grouped by bucket in the
// order buckets were first created.
func (s *Store) GetAllRecords() []domain.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Record, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.buckets[key]...)
	}
	return out
}

// Count returns the number of records held.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, rs := range s.buckets {
		n += len(rs)
	}
	return n
}

func (s *Store) rebuildFilterLocked() {
	s.filter = keyfilter.New(s.order, keyfilter.DefaultFalsePositiveRate)
}

func containsEqual(rs []domain.Record, r domain.Record) bool {
	for _, existing := range rs {
		if existing.Equal(r) {
			return true
		}
	}
	return false
}

func removeKey(keys []string, key string) []string {
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != key {
			out = append(out, k)
		}
	}
	return out
}
