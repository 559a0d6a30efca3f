package sink

import (
	"github.com/rotblauer/admintiles/params"
	"github.com/rotblauer/admintiles/raster"
	"github.com/rotblauer/admintiles/tiledb"
)

// TileStore persists tile documents in batches.
// Both *tiledb.DB and *Postgres implement it.
type TileStore interface {
	PutTiles(zoom int, tiles []tiledb.Tile) error
}

// Batched buffers documents and writes them to a store batchSize at a time.
// It does not close the store.
type Batched struct {
	store TileStore
	zoom  int
	size  int
	buf   []tiledb.Tile
}

func NewBatched(store TileStore, zoom, batchSize int) *Batched {
	if batchSize <= 0 {
		batchSize = params.DefaultBatchSize
	}
	return &Batched{store: store, zoom: zoom, size: batchSize, buf: make([]tiledb.Tile, 0, batchSize)}
}

func (b *Batched) Write(a raster.Assignment) error {
	b.buf = append(b.buf, Doc(a))
	if len(b.buf) >= b.size {
		return b.Flush()
	}
	return nil
}

func (b *Batched) Flush() error {
	if len(b.buf) == 0 {
		return nil
	}
	err := b.store.PutTiles(b.zoom, b.buf)
	b.buf = b.buf[:0]
	return err
}

// Close flushes the final partial batch.
func (b *Batched) Close() error {
	return b.Flush()
}
