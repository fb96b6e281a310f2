// Package jsonfile persists records as a single JSON array, rewriting the
// whole file on every save.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/haukened/dnscore/internal/dns/domain"
	"github.com/haukened/dnscore/internal/dns/repos/persistence"
)

type repository struct {
	mu   sync.Mutex
	path string
}

// New returns a Repository writing to path. The parent directory is created
// on first save.
func New(path string) (persistence.Repository, error) {
	if path == "" {
		return nil, errors.New("jsonfile: path must not be empty")
	}
	return &repository{path: path}, nil
}

func (r *repository) LoadAll(_ context.Context) ([]domain.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.load()
}

func (r *repository) SaveAll(_ context.Context, records []domain.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(records)
}

func (r *repository) Add(_ context.Context, record domain.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	records, err := r.load()
	if err != nil {
		return err
	}
	return r.save(append(records, record))
}

func (r *repository) Delete(_ context.Context, name string, t domain.RRType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	records, err := r.load()
	if err != nil {
		return err
	}
	kept := records[:0]
	for _, rec := range records {
		if !persistence.Matches(rec, name, t) {
			kept = append(kept, rec)
		}
	}
	return r.save(kept)
}

func (r *repository) Clear(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save(nil)
}

func (r *repository) Close() error { return nil }

func (r *repository) load() ([]domain.Record, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("jsonfile: read %s: %w", r.path, err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []domain.Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("jsonfile: decode %s: %w", r.path, err)
	}
	return records, nil
}

// save writes to a temp file in the same directory and renames it over the
// target so readers never observe a partial file.
func (r *repository) save(records []domain.Record) error {
	if records == nil {
		records = []domain.Record{}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile: encode: %w", err)
	}
	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("jsonfile: create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("jsonfile: temp file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("jsonfile: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("jsonfile: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), r.path); err != nil {
		return fmt.Errorf("jsonfile: rename: %w", err)
	}
	return nil
}
