package boltstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bbolt "go.etcd.io/bbolt"

	"github.com/haukened/dnscore/internal/dns/domain"
	"github.com/haukened/dnscore/internal/dns/repos/persistence"
)

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "state", "records.db")
}

func open(t *testing.T, path string) persistence.Repository {
	t.Helper()
	repo, err := New(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestNew_EmptyPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestSaveAllLoadAll(t *testing.T) {
	ctx := context.Background()
	repo := open(t, tempDB(t))

	records := []domain.Record{
		{Domain: "a.example.com", Type: domain.RRTypeA, Value: "192.0.2.1", TTL: 300},
		{Domain: "a.example.com", Type: domain.RRTypeA, Value: "192.0.2.2", TTL: 300},
		{Domain: "b.example.com", Type: domain.RRTypeTXT, Value: "hello", TTL: 60},
	}
	require.NoError(t, repo.SaveAll(ctx, records))

	got, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, records, got)

	require.NoError(t, repo.SaveAll(ctx, records[2:]))
	got, err = repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, records[2:], got)
}

func TestDelete_PrefixDoesNotSpillIntoOtherTypes(t *testing.T) {
	ctx := context.Background()
	repo := open(t, tempDB(t))

	a := domain.Record{Domain: "a.com", Type: domain.RRTypeA, Value: "192.0.2.1", TTL: 300}
	a2 := domain.Record{Domain: "A.com", Type: domain.RRTypeA, Value: "192.0.2.2", TTL: 300}
	aaaa := domain.Record{Domain: "a.com", Type: domain.RRTypeAAAA, Value: "2001:db8::1", TTL: 300}
	sub := domain.Record{Domain: "a.com.evil", Type: domain.RRTypeA, Value: "192.0.2.9", TTL: 300}
	for _, r := range []domain.Record{a, aaaa, a2, sub} {
		require.NoError(t, repo.Add(ctx, r))
	}

	require.NoError(t, repo.Delete(ctx, "a.COM", domain.RRTypeA))
	got, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []domain.Record{aaaa, sub}, got)

	require.NoError(t, repo.Clear(ctx))
	got, err = repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestUpdateStampsMeta(t *testing.T) {
	ctx := context.Background()
	path := tempDB(t)
	repo, err := New(path)
	require.NoError(t, err)
	require.NoError(t, repo.Add(ctx, domain.Record{Domain: "a.com", Type: domain.RRTypeA, Value: "1.2.3.4", TTL: 1}))
	require.NoError(t, repo.Close())

	db, err := bbolt.Open(path, 0o600, nil)
	require.NoError(t, err)
	defer db.Close()
	require.NoError(t, db.View(func(tx *bbolt.Tx) error {
		assert.Len(t, tx.Bucket(bucketMeta).Get(keyUpdated), 8)
		return nil
	}))
}
