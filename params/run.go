package params

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/go-playground/validator/v10"

	"github.com/rotblauer/admintiles/admin"
)

// RunConfig configures one tile index build.
type RunConfig struct {
	// Input is the boundary export: .geojsonseq, .ndjson or .geojson, optionally gzipped.
	Input string `validate:"required" hash:"ignore"`

	Zoom int `validate:"gte=0,lte=22"`

	// PlaceLevel overrides the place tier when nonzero.
	PlaceLevel admin.Level `validate:"gte=0,lte=12"`

	// RegionLevel overrides the region tier when non-nil.
	// An explicit 0 means no region tier.
	RegionLevel *admin.Level `validate:"omitempty,gte=0,lte=12"`

	// CountryID replaces the derived country id when non-nil.
	CountryID *int64

	// ISO overrides the sniffed country key.
	ISO string `validate:"omitempty,len=2|len=5"`

	// InferCountry reverse-geocodes a representative point
	// when the input carries no country code.
	InferCountry bool

	AcceptedLevels []admin.Level `validate:"min=1"`

	OutDir    string `hash:"ignore"`
	OutPrefix string
	GzipCSV   bool

	// Workers > 1 rasterizes the units of a level in parallel.
	Workers int `validate:"gte=1"`

	EarlyAbortFloor int `validate:"gte=1"`
	EarlyAbortRatio int `validate:"gte=1"`

	// Optional extra sinks and post-run steps.
	TileDBPath  string `hash:"ignore"`
	PostgresDSN string `hash:"ignore"`
	S3Bucket    string `hash:"ignore"`
	Influx      bool   `hash:"ignore"`
}

func DefaultRunConfig() *RunConfig {
	return &RunConfig{
		Zoom:            DefaultZoom,
		AcceptedLevels:  append([]admin.Level{}, DefaultAcceptedLevels...),
		OutDir:          ".",
		Workers:         1,
		EarlyAbortFloor: DefaultEarlyAbortFloor,
		EarlyAbortRatio: DefaultEarlyAbortRatio,
	}
}

// OutputPrefix returns the configured prefix or the zoom default.
func (c *RunConfig) OutputPrefix() string {
	if c.OutPrefix != "" {
		return c.OutPrefix
	}
	return DefaultOutPrefix(c.Zoom)
}

// OutputPath is <dir>/<prefix>_<countryKey>.csv, with .gz appended when gzipping.
func (c *RunConfig) OutputPath(countryKey string) string {
	if countryKey == "" {
		countryKey = UnknownCountryKey
	}
	name := c.OutputPrefix() + "_" + countryKey + ".csv"
	if c.GzipCSV {
		name += ".gz"
	}
	return filepath.Join(c.OutDir, name)
}

var ErrInvalidRunConfig = errors.New("invalid run config")

// Validate checks field ranges. A region override must be coarser than a place override.
func (c *RunConfig) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRunConfig, err)
	}
	if c.PlaceLevel != 0 && c.RegionLevel != nil && *c.RegionLevel != 0 && *c.RegionLevel >= c.PlaceLevel {
		return fmt.Errorf("%w: region level %d is not coarser than place level %d",
			ErrInvalidRunConfig, *c.RegionLevel, c.PlaceLevel)
	}
	return nil
}
