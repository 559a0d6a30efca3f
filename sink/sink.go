// Package sink receives accepted tile assignments and writes them out.
package sink

import (
	"errors"

	"github.com/rotblauer/admintiles/raster"
	"github.com/rotblauer/admintiles/tiledb"
)

type Sink interface {
	Write(a raster.Assignment) error
	Close() error
}

// Doc converts an assignment to its stored document.
func Doc(a raster.Assignment) tiledb.Tile {
	pLevel := int(a.PlaceLevel)
	placeID := a.PlaceID
	doc := tiledb.TileDoc{
		L2:     a.CountryID,
		R:      a.RegionID,
		P:      &placeID,
		PLevel: &pLevel,
		Lon:    a.Center.Lon(),
		Lat:    a.Center.Lat(),
	}
	if a.RegionID != nil && a.RegionLevel != nil {
		rLevel := int(*a.RegionLevel)
		doc.RLevel = &rLevel
	}
	return tiledb.Tile{X: a.Tile.X, Y: a.Tile.Y, Doc: doc}
}

// Multi writes every assignment to each sink in order.
type Multi []Sink

func (m Multi) Write(a raster.Assignment) error {
	for _, s := range m {
		if err := s.Write(a); err != nil {
			return err
		}
	}
	return nil
}

// Close closes all sinks, returning their errors joined.
func (m Multi) Close() error {
	var errs []error
	for _, s := range m {
		if err := s.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
