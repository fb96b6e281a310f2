// Package boltstore persists records in an embedded bbolt database. Records
// are JSON documents in one bucket, keyed "<store key>/<sequence>" so a
// cursor prefix scan finds every record of one (domain, type) bucket.
package boltstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bbolt "go.etcd.io/bbolt"
	bberrors "go.etcd.io/bbolt/errors"

	"github.com/haukened/dnscore/internal/dns/domain"
	"github.com/haukened/dnscore/internal/dns/repos/persistence"
)

var (
	bucketRecords = []byte("records")
	bucketMeta    = []byte("meta")
	keyUpdated    = []byte("updated")
)

type boltStore struct {
	db *bbolt.DB
}

// New opens (or creates) a Bolt database at path and ensures buckets exist.
func New(path string) (persistence.Repository, error) {
	if path == "" {
		return nil, errors.New("boltstore: path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("boltstore: create directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketRecords); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltstore: init buckets: %w", err)
	}
	return &boltStore{db: db}, nil
}

func (s *boltStore) Close() error { return s.db.Close() }

func (s *boltStore) LoadAll(_ context.Context) ([]domain.Record, error) {
	var records []domain.Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketRecords).ForEach(func(k, v []byte) error {
			var rec domain.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode %q: %w", k, err)
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("boltstore: load: %w", err)
	}
	return records, nil
}

// SaveAll drops and recreates the records bucket in one transaction.
func (s *boltStore) SaveAll(_ context.Context, records []domain.Record) error {
	return s.update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketRecords); err != nil && !errors.Is(err, bberrors.ErrBucketNotFound) {
			return err
		}
		b, err := tx.CreateBucket(bucketRecords)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if err := put(b, rec); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *boltStore) Add(_ context.Context, rec domain.Record) error {
	return s.update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(bucketRecords), rec)
	})
}

// Delete removes the (name, t) bucket via a prefix scan over its store key.
func (s *boltStore) Delete(_ context.Context, name string, t domain.RRType) error {
	prefix := []byte(domain.StoreKey(name, t) + "/")
	return s.update(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Seek(prefix) {
			if err := c.Delete(); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *boltStore) Clear(ctx context.Context) error {
	return s.SaveAll(ctx, nil)
}

// update runs fn and stamps the modification time in the same transaction.
func (s *boltStore) update(fn func(tx *bbolt.Tx) error) error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := fn(tx); err != nil {
			return err
		}
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(time.Now().Unix()))
		return tx.Bucket(bucketMeta).Put(keyUpdated, buf)
	})
	if err != nil {
		return fmt.Errorf("boltstore: %w", err)
	}
	return nil
}

func put(b *bbolt.Bucket, rec domain.Record) error {
	seq, err := b.NextSequence()
	if err != nil {
		return err
	}
	v, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s/%016x", domain.StoreKey(rec.Domain, rec.Type), seq)
	return b.Put([]byte(key), v)
}
