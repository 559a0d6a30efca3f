package tiledb

import (
	"path/filepath"
	"testing"

	"github.com/rotblauer/admintiles/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func openTemp(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "sub", params.TileDBFileName), Options{CacheSize: 2})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestTiles(t *testing.T) {
	db := openTemp(t)

	_, err := db.GetTile(14, 1, 2)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.PutTiles(14, []Tile{
		{X: 1, Y: 2, Doc: TileDoc{L2: ptr(int64(54224)), P: ptr(int64(80)), PLevel: ptr(8), Lon: 24.9, Lat: 60.1}},
		{X: 1, Y: 3, Doc: TileDoc{P: ptr(int64(81)), PLevel: ptr(8)}},
	}))
	doc, err := db.GetTile(14, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(80), *doc.P)
	assert.Nil(t, doc.R)
	assert.Nil(t, doc.RLevel)

	// Overwrites invalidate the cached copy.
	require.NoError(t, db.PutTiles(14, []Tile{
		{X: 1, Y: 2, Doc: TileDoc{P: ptr(int64(90)), PLevel: ptr(7), R: ptr(int64(4)), RLevel: ptr(4)}},
	}))
	doc, err = db.GetTile(14, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(90), *doc.P)
	assert.Nil(t, doc.L2)

	n, err := db.CountTiles(14)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	n, err = db.CountTiles(12)
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = db.GetTile(12, 1, 2)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestAdminsMerge(t *testing.T) {
	db := openTemp(t)

	require.NoError(t, db.PutAdmins(map[string]AdminDoc{
		AdminKey(8, 100): {Level: 8, ID: 100, DisplayName: "Helsinki", Names: map[string]string{"name": "Helsinki", "sv": "Helsingfors"}},
	}))
	require.NoError(t, db.PutAdmins(map[string]AdminDoc{
		AdminKey(8, 100): {Level: 8, ID: 100, Names: map[string]string{"en": "Helsinki", "sv": "Helsingfors stad"}},
	}))

	doc, err := db.GetAdmin(8, 100)
	require.NoError(t, err)
	assert.Equal(t, "Helsinki", doc.DisplayName)
	assert.Equal(t, map[string]string{"name": "Helsinki", "en": "Helsinki", "sv": "Helsingfors stad"}, doc.Names)

	_, err = db.GetAdmin(8, 101)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRunMeta(t *testing.T) {
	db := openTemp(t)

	cfg := params.DefaultRunConfig()
	cfg.Input = "a.geojsonseq"
	m, err := NewRunMeta(cfg)
	require.NoError(t, err)
	require.NotEmpty(t, m.RunID)

	// Ignored fields leave the fingerprint alone.
	cfg.Input = "b.geojsonseq"
	cfg.OutDir = "/tmp/elsewhere"
	m2, err := NewRunMeta(cfg)
	require.NoError(t, err)
	assert.Equal(t, m.Fingerprint, m2.Fingerprint)
	assert.NotEqual(t, m.RunID, m2.RunID)

	cfg.Zoom = 12
	m3, err := NewRunMeta(cfg)
	require.NoError(t, err)
	assert.NotEqual(t, m.Fingerprint, m3.Fingerprint)

	m.Country = "FI"
	m.Tiles = 42
	require.NoError(t, db.PutRunMeta(m))
	runs, err := db.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "FI", runs[0].Country)
	assert.Equal(t, int64(42), runs[0].Tiles)
}
