package jsonfile

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haukened/dnscore/internal/dns/domain"
)

var sample = []domain.Record{
	{Domain: "example.com", Type: domain.RRTypeA, Value: "192.0.2.1", TTL: 300},
	{Domain: "example.com", Type: domain.RRTypeA, Value: "192.0.2.2", TTL: 300},
	{Domain: "*.example.com", Type: domain.RRTypeCNAME, Value: "example.com", TTL: 60},
}

func TestNew_EmptyPath(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestLoadAll_MissingFile(t *testing.T) {
	repo, err := New(filepath.Join(t.TempDir(), "nope.json"))
	require.NoError(t, err)
	got, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSaveAll_RoundTripCreatesDirectory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data", "nested", "records.json")
	repo, err := New(path)
	require.NoError(t, err)

	require.NoError(t, repo.SaveAll(ctx, sample))
	got, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, sample, got)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"type": "CNAME"`)
	assert.Contains(t, string(raw), `"domain": "*.example.com"`)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestAddDeleteClear(t *testing.T) {
	ctx := context.Background()
	repo, err := New(filepath.Join(t.TempDir(), "records.json"))
	require.NoError(t, err)

	for _, r := range sample {
		require.NoError(t, repo.Add(ctx, r))
	}
	require.NoError(t, repo.Delete(ctx, "EXAMPLE.com", domain.RRTypeA))
	got, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, sample[2:], got)

	require.NoError(t, repo.Clear(ctx))
	got, err = repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
	require.NoError(t, repo.Close())
}

func TestLoadAll_Corrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	repo, err := New(path)
	require.NoError(t, err)
	_, err = repo.LoadAll(context.Background())
	assert.Error(t, err)
}

func TestLoadAll_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(path, nil, 0o600))
	repo, err := New(path)
	require.NoError(t, err)
	got, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got)
}
