package sink

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/rotblauer/admintiles/raster"
	"github.com/rotblauer/admintiles/tilez"
)

// Header is the column order of tile CSVs.
var Header = []string{"z", "x", "y", "lon", "lat", "place_id", "region_id", "country_id", "p_level", "r_level"}

type CSV struct {
	f    io.WriteCloser
	w    *csv.Writer
	path string
	n    int64
}

// NewCSV creates path, gzipped when it ends in .gz, and writes the header.
func NewCSV(path string) (*CSV, error) {
	f, err := tilez.Create(path)
	if err != nil {
		return nil, err
	}
	c := &CSV{f: f, w: csv.NewWriter(f), path: path}
	if err := c.w.Write(Header); err != nil {
		_ = f.Close()
		return nil, err
	}
	return c, nil
}

func (c *CSV) Path() string { return c.path }

// Rows is the number of records written, not counting the header.
func (c *CSV) Rows() int64 { return c.n }

func (c *CSV) Write(a raster.Assignment) error {
	c.n++
	return c.w.Write(Record(a))
}

func (c *CSV) Close() error {
	c.w.Flush()
	if err := c.w.Error(); err != nil {
		_ = c.f.Close()
		return err
	}
	return c.f.Close()
}

// Record formats a as a CSV row. Absent ids are empty; r_level is written
// only alongside a region id.
func Record(a raster.Assignment) []string {
	rec := []string{
		strconv.Itoa(int(a.Tile.Z)),
		strconv.FormatUint(uint64(a.Tile.X), 10),
		strconv.FormatUint(uint64(a.Tile.Y), 10),
		strconv.FormatFloat(a.Center.Lon(), 'f', -1, 64),
		strconv.FormatFloat(a.Center.Lat(), 'f', -1, 64),
		strconv.FormatInt(a.PlaceID, 10),
		optInt(a.RegionID),
		optInt(a.CountryID),
		strconv.Itoa(int(a.PlaceLevel)),
		"",
	}
	if a.RegionID != nil && a.RegionLevel != nil {
		rec[9] = strconv.Itoa(int(*a.RegionLevel))
	}
	return rec
}

func optInt(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
