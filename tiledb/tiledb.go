// Package tiledb is a local key-value store for tile assignments and admin
// area names, shaped like the documents consumers look tiles up by.
package tiledb

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/rotblauer/admintiles/params"
	"go.etcd.io/bbolt"
)

// TileDoc is stored under "x_y" in the bucket for its zoom.
// Empty ids are null.
type TileDoc struct {
	L2     *int64  `json:"l2"`
	R      *int64  `json:"r"`
	RLevel *int    `json:"r_level"`
	P      *int64  `json:"p"`
	PLevel *int    `json:"p_level"`
	Lon    float64 `json:"lon"`
	Lat    float64 `json:"lat"`
}

// TileKey is the document key of a tile.
func TileKey(x, y uint32) string {
	return strconv.FormatUint(uint64(x), 10) + "_" + strconv.FormatUint(uint64(y), 10)
}

// Tile is a keyed document for PutTiles.
type Tile struct {
	X, Y uint32
	Doc  TileDoc
}

// AdminDoc is stored under "l{level}_{id}". Names are merged per language
// across writes; other fields are replaced when set.
type AdminDoc struct {
	Level       int               `json:"level"`
	ID          int64             `json:"id"`
	DisplayName string            `json:"displayName,omitempty"`
	Names       map[string]string `json:"names,omitempty"`

	// Extra holds any other fields of imported admin maps.
	Extra map[string]any `json:"extra,omitempty"`
}

// AdminKey is the document key of an admin area.
func AdminKey(level int, id int64) string {
	return fmt.Sprintf("l%d_%d", level, id)
}

// RunMeta records one build.
type RunMeta struct {
	RunID       string    `json:"run_id"`
	Fingerprint uint64    `json:"fingerprint"`
	Country     string    `json:"country"`
	Zoom        int       `json:"zoom"`
	Tiles       int64     `json:"tiles"`
	Plan        string    `json:"plan"`
	Started     time.Time `json:"started"`
	Finished    time.Time `json:"finished"`
}

var ErrNotFound = errors.New("not found")

type Options struct {
	ReadOnly bool
	// CacheSize bounds the tile read cache; zero uses the default.
	CacheSize int
}

type DB struct {
	db    *bbolt.DB
	cache *lru.Cache[string, TileDoc]
}

// Open opens or creates the database at path.
// A writable handle holds bbolt's file lock until Close.
func Open(path string, opts Options) (*DB, error) {
	if !opts.ReadOnly {
		if err := os.MkdirAll(filepath.Dir(path), 0770); err != nil {
			return nil, err
		}
	}
	db, err := bbolt.Open(path, 0600, &bbolt.Options{
		ReadOnly: opts.ReadOnly,
		Timeout:  10 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("open tile db %s: %w", path, err)
	}
	size := opts.CacheSize
	if size <= 0 {
		size = params.DefaultCacheSize
	}
	cache, err := lru.New[string, TileDoc](size)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &DB{db: db, cache: cache}, nil
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Path() string {
	return d.db.Path()
}

func cacheKey(zoom int, key string) string {
	return strconv.Itoa(zoom) + "/" + key
}

// PutTiles writes tiles in one transaction, replacing existing documents.
func (d *DB) PutTiles(zoom int, tiles []Tile) error {
	if len(tiles) == 0 {
		return nil
	}
	err := d.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(params.TileDBTilesBucket(zoom))
		if err != nil {
			return err
		}
		for _, t := range tiles {
			v, err := json.Marshal(t.Doc)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(TileKey(t.X, t.Y)), v); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, t := range tiles {
		d.cache.Remove(cacheKey(zoom, TileKey(t.X, t.Y)))
	}
	return nil
}

// GetTile returns the document of tile x/y at zoom, or ErrNotFound.
func (d *DB) GetTile(zoom int, x, y uint32) (TileDoc, error) {
	key := TileKey(x, y)
	if doc, ok := d.cache.Get(cacheKey(zoom, key)); ok {
		return doc, nil
	}
	var doc TileDoc
	err := d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(params.TileDBTilesBucket(zoom))
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &doc)
	})
	if err != nil {
		return doc, err
	}
	d.cache.Add(cacheKey(zoom, key), doc)
	return doc, nil
}

// CountTiles returns the number of tiles stored at zoom.
func (d *DB) CountTiles(zoom int) (int, error) {
	n := 0
	err := d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(params.TileDBTilesBucket(zoom))
		if b == nil {
			return nil
		}
		n = b.Stats().KeyN
		return nil
	})
	return n, err
}

// PutAdmins merges docs into the admin bucket in one transaction.
func (d *DB) PutAdmins(docs map[string]AdminDoc) error {
	if len(docs) == 0 {
		return nil
	}
	return d.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(params.TileDBAdminsBucket)
		if err != nil {
			return err
		}
		for key, doc := range docs {
			if old := b.Get([]byte(key)); old != nil {
				var prev AdminDoc
				if err := json.Unmarshal(old, &prev); err != nil {
					return fmt.Errorf("admin %s: %w", key, err)
				}
				doc = mergeAdmin(prev, doc)
			}
			v, err := json.Marshal(doc)
			if err != nil {
				return err
			}
			if err := b.Put([]byte(key), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func mergeAdmin(prev, next AdminDoc) AdminDoc {
	out := prev
	if next.Level != 0 {
		out.Level = next.Level
	}
	if next.ID != 0 {
		out.ID = next.ID
	}
	if next.DisplayName != "" {
		out.DisplayName = next.DisplayName
	}
	if len(next.Names) > 0 && out.Names == nil {
		out.Names = map[string]string{}
	}
	for k, v := range next.Names {
		out.Names[k] = v
	}
	if len(next.Extra) > 0 && out.Extra == nil {
		out.Extra = map[string]any{}
	}
	for k, v := range next.Extra {
		out.Extra[k] = v
	}
	return out
}

func (d *DB) GetAdmin(level int, id int64) (AdminDoc, error) {
	var doc AdminDoc
	err := d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(params.TileDBAdminsBucket)
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(AdminKey(level, id)))
		if v == nil {
			return ErrNotFound
		}
		return json.Unmarshal(v, &doc)
	})
	return doc, err
}

// NewRunMeta stamps a new run id and fingerprints cfg.
// Fields tagged hash:"ignore" do not change the fingerprint.
func NewRunMeta(cfg *params.RunConfig) (*RunMeta, error) {
	fp, err := hashstructure.Hash(cfg, hashstructure.FormatV2, nil)
	if err != nil {
		return nil, err
	}
	return &RunMeta{
		RunID:       uuid.NewString(),
		Fingerprint: fp,
		Zoom:        cfg.Zoom,
		Started:     time.Now().UTC(),
	}, nil
}

func (d *DB) PutRunMeta(m *RunMeta) error {
	v, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return d.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(params.TileDBRunsBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(m.RunID), v)
	})
}

// Runs returns all recorded runs in key order.
func (d *DB) Runs() ([]RunMeta, error) {
	var out []RunMeta
	err := d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(params.TileDBRunsBucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			var m RunMeta
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("run %s: %w", k, err)
			}
			out = append(out, m)
			return nil
		})
	})
	return out, err
}
