package params

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/go-homedir"
	"github.com/rotblauer/admintiles/admin"
	"github.com/spf13/viper"
)

//go:embed countries.yaml
var defaultCountriesYAML []byte

// PlanEntry is a fixed place/region pair for a country.
// A nil Region means the country has no region tier.
type PlanEntry struct {
	Place  admin.Level  `mapstructure:"place" validate:"gte=2,lte=12"`
	Region *admin.Level `mapstructure:"region" validate:"omitempty,gte=2,lte=12"`
}

type CoverageRule struct {
	BaselineLevel admin.Level `mapstructure:"baseline_level" validate:"gte=0,lte=12"`
	MinCoverage   float64     `mapstructure:"min_coverage" validate:"gte=0,lte=1"`
}

// TileExpectation is the expected number of emitted tiles at a zoom.
// Tolerance is a fraction, 0.10 = 10%.
type TileExpectation struct {
	Zoom      int      `mapstructure:"zoom" validate:"gte=0,lte=22"`
	Expected  int      `mapstructure:"expected" validate:"gte=0"`
	Tolerance *float64 `mapstructure:"tolerance" validate:"omitempty,gte=0"`
}

func (e TileExpectation) Tol() float64 {
	if e.Tolerance == nil {
		return DefaultTolerance
	}
	return *e.Tolerance
}

type CountryConfig struct {
	Levels       *PlanEntry        `mapstructure:"levels"`
	Cascade      []admin.Level     `mapstructure:"cascade" validate:"dive,gte=2,lte=12"`
	Coverage     *CoverageRule     `mapstructure:"coverage"`
	Expectations []TileExpectation `mapstructure:"expectations" validate:"dive"`
}

// CountryTable maps country keys (ISO2 or subdivision codes like PT-20) to their configuration.
type CountryTable struct {
	Countries map[string]CountryConfig `mapstructure:"countries" validate:"dive,keys,min=2,max=6,endkeys"`
}

var ErrInvalidCountryTable = errors.New("invalid country table")

// DefaultCountryTable returns the built-in table.
func DefaultCountryTable() *CountryTable {
	t, err := LoadCountryTable("")
	if err != nil {
		panic(err)
	}
	return t
}

// LoadCountryTable reads the built-in table and merges the file at path,
// if any, on top of it. Entries in the file replace the fields they name.
func LoadCountryTable(path string) (*CountryTable, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(defaultCountriesYAML)); err != nil {
		return nil, fmt.Errorf("read built-in country table: %w", err)
	}
	if path != "" {
		p, err := homedir.Expand(path)
		if err != nil {
			return nil, err
		}
		v.SetConfigFile(p)
		if ext := strings.TrimPrefix(filepath.Ext(p), "."); ext != "" {
			v.SetConfigType(ext)
		}
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("merge country table %s: %w", p, err)
		}
	}
	return countryTableFromViper(v)
}

func countryTableFromViper(v *viper.Viper) (*CountryTable, error) {
	raw := &CountryTable{}
	if err := v.Unmarshal(raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCountryTable, err)
	}
	// Viper lowercases keys.
	t := &CountryTable{Countries: make(map[string]CountryConfig, len(raw.Countries))}
	for k, c := range raw.Countries {
		t.Countries[strings.ToUpper(k)] = c
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks field ranges and that cascades run finest first.
func (t *CountryTable) Validate() error {
	if err := validator.New().Struct(t); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCountryTable, err)
	}
	for k, c := range t.Countries {
		for i := 1; i < len(c.Cascade); i++ {
			if c.Cascade[i] >= c.Cascade[i-1] {
				return fmt.Errorf("%w: %s cascade %v is not finest first", ErrInvalidCountryTable, k, c.Cascade)
			}
		}
		if c.Levels != nil && c.Levels.Region != nil && *c.Levels.Region >= c.Levels.Place {
			return fmt.Errorf("%w: %s region level %d is not coarser than place level %d",
				ErrInvalidCountryTable, k, *c.Levels.Region, c.Levels.Place)
		}
	}
	return nil
}

func (t *CountryTable) Lookup(key string) (CountryConfig, bool) {
	if t == nil || key == "" {
		return CountryConfig{}, false
	}
	c, ok := t.Countries[strings.ToUpper(key)]
	return c, ok
}

// Plan returns the fixed plan of the first key that has one.
func (t *CountryTable) Plan(keys ...string) (PlanEntry, bool) {
	for _, k := range keys {
		if c, ok := t.Lookup(k); ok && c.Levels != nil {
			return *c.Levels, true
		}
	}
	return PlanEntry{}, false
}

func (t *CountryTable) Cascade(key string) []admin.Level {
	c, _ := t.Lookup(key)
	return slices.Clone(c.Cascade)
}

// Coverage returns the country's rule with unset fields defaulted.
func (t *CountryTable) Coverage(key string) CoverageRule {
	rule := CoverageRule{BaselineLevel: DefaultBaselineLevel, MinCoverage: DefaultMinCoverage}
	c, ok := t.Lookup(key)
	if !ok || c.Coverage == nil {
		return rule
	}
	if c.Coverage.BaselineLevel != 0 {
		rule.BaselineLevel = c.Coverage.BaselineLevel
	}
	if c.Coverage.MinCoverage != 0 {
		rule.MinCoverage = c.Coverage.MinCoverage
	}
	return rule
}

// Expectation returns the tile-count expectation for a key at a zoom.
func (t *CountryTable) Expectation(key string, zoom int) (TileExpectation, bool) {
	c, _ := t.Lookup(key)
	for _, e := range c.Expectations {
		if e.Zoom == zoom {
			return e, true
		}
	}
	return TileExpectation{}, false
}

// Keys returns the table keys, sorted.
func (t *CountryTable) Keys() []string {
	keys := make([]string, 0, len(t.Countries))
	for k := range t.Countries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
