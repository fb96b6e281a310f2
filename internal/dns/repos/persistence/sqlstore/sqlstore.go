// Package sqlstore persists records in a single SQLite table through
// database/sql and the pure-Go modernc.org/sqlite driver.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/haukened/dnscore/internal/dns/domain"
	"github.com/haukened/dnscore/internal/dns/repos/persistence"
)

// Several values may share one (domain, type) bucket, so the pair is indexed
// rather than used as the primary key.
const schema = `
CREATE TABLE IF NOT EXISTS dns_records (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	domain TEXT    NOT NULL,
	type   TEXT    NOT NULL,
	value  TEXT    NOT NULL,
	ttl    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_dns_records_domain_type ON dns_records (domain, type);`

const (
	selectAll   = `SELECT domain, type, value, ttl FROM dns_records ORDER BY id`
	insertOne   = `INSERT INTO dns_records (domain, type, value, ttl) VALUES (?, ?, ?, ?)`
	deleteAll   = `DELETE FROM dns_records`
	deleteByKey = `DELETE FROM dns_records WHERE lower(domain) = lower(?) AND type = ?`
)

type repository struct {
	db *sql.DB
}

// New opens (or creates) the database at path and ensures the schema exists.
func New(ctx context.Context, path string) (persistence.Repository, error) {
	if path == "" {
		return nil, errors.New("sqlstore: path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("sqlstore: create directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: open %s: %w", path, err)
	}
	// one writer; SQLite serializes anyway and this avoids SQLITE_BUSY
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: create schema: %w", err)
	}
	return &repository{db: db}, nil
}

func (r *repository) LoadAll(ctx context.Context) ([]domain.Record, error) {
	rows, err := r.db.QueryContext(ctx, selectAll)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: query: %w", err)
	}
	defer rows.Close()

	var records []domain.Record
	for rows.Next() {
		var (
			rec     domain.Record
			typeStr string
		)
		if err := rows.Scan(&rec.Domain, &typeStr, &rec.Value, &rec.TTL); err != nil {
			return nil, fmt.Errorf("sqlstore: scan: %w", err)
		}
		if rec.Type, err = domain.ParseRRType(typeStr); err != nil {
			return nil, fmt.Errorf("sqlstore: row for %s: %w", rec.Domain, err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SaveAll deletes and reinserts every row inside one transaction.
func (r *repository) SaveAll(ctx context.Context, records []domain.Record) error {
	return r.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, deleteAll); err != nil {
			return err
		}
		stmt, err := tx.PrepareContext(ctx, insertOne)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, rec := range records {
			if _, err := stmt.ExecContext(ctx, rec.Domain, rec.Type.String(), rec.Value, rec.TTL); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *repository) Add(ctx context.Context, rec domain.Record) error {
	if _, err := r.db.ExecContext(ctx, insertOne, rec.Domain, rec.Type.String(), rec.Value, rec.TTL); err != nil {
		return fmt.Errorf("sqlstore: insert: %w", err)
	}
	return nil
}

func (r *repository) Delete(ctx context.Context, name string, t domain.RRType) error {
	if _, err := r.db.ExecContext(ctx, deleteByKey, name, t.String()); err != nil {
		return fmt.Errorf("sqlstore: delete: %w", err)
	}
	return nil
}

func (r *repository) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, deleteAll); err != nil {
		return fmt.Errorf("sqlstore: clear: %w", err)
	}
	return nil
}

func (r *repository) Close() error { return r.db.Close() }

func (r *repository) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlstore: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("sqlstore: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlstore: commit: %w", err)
	}
	return nil
}
