package params

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rotblauer/admintiles/admin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCountryTable(t *testing.T) {
	table := DefaultCountryTable()

	p, ok := table.Plan("PT-20", "PT")
	require.True(t, ok)
	assert.Equal(t, admin.Level(7), p.Place)
	require.NotNil(t, p.Region)
	assert.Equal(t, admin.Level(6), *p.Region)

	p, ok = table.Plan("AD")
	require.True(t, ok)
	assert.Equal(t, admin.Level(7), p.Place)
	assert.Nil(t, p.Region, "AD has no region tier")

	p, ok = table.Plan("no")
	require.True(t, ok, "keys are case insensitive")
	assert.Equal(t, admin.Level(7), p.Place)

	_, ok = table.Plan("FI")
	assert.False(t, ok)

	assert.Equal(t, []admin.Level{8, 7, 6, 5, 4}, table.Cascade("DE"))
	assert.Equal(t, []admin.Level{10, 8, 6, 5}, table.Cascade("GB"))
	assert.Empty(t, table.Cascade("FI"))

	assert.Equal(t, CoverageRule{BaselineLevel: 6, MinCoverage: 0.95}, table.Coverage("CY"))
	assert.Equal(t, CoverageRule{BaselineLevel: 2, MinCoverage: 0.01}, table.Coverage("RU"))
	assert.Equal(t, CoverageRule{BaselineLevel: 2, MinCoverage: 0.95}, table.Coverage("FI"))

	e, ok := table.Expectation("IE", 14)
	require.True(t, ok)
	assert.Equal(t, 35900, e.Expected)
	assert.InDelta(t, 0.20, e.Tol(), 1e-9)

	e, ok = table.Expectation("DE", 14)
	require.True(t, ok)
	assert.Equal(t, 150750, e.Expected)
	assert.InDelta(t, DefaultTolerance, e.Tol(), 1e-9)

	_, ok = table.Expectation("DE", 13)
	assert.False(t, ok)
}

func TestLoadCountryTableMerge(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "countries.yaml")
	data := `
countries:
  FI:
    levels: {place: 8, region: 4}
    expectations:
      - {zoom: 12, expected: 500}
  DE:
    cascade: [8, 7]
`
	require.NoError(t, os.WriteFile(path, []byte(data), 0600))

	table, err := LoadCountryTable(path)
	require.NoError(t, err)

	p, ok := table.Plan("FI")
	require.True(t, ok)
	assert.Equal(t, admin.Level(8), p.Place)

	assert.Equal(t, []admin.Level{8, 7}, table.Cascade("DE"))
	// Untouched fields of a merged entry survive.
	_, ok = table.Expectation("DE", 14)
	assert.True(t, ok)
	_, ok = table.Plan("AL")
	assert.True(t, ok)
}

func TestLoadCountryTableInvalid(t *testing.T) {
	cases := map[string]string{
		"cascade not finest first": "countries:\n  XX:\n    cascade: [4, 8]\n",
		"coverage above one":       "countries:\n  XX:\n    coverage: {min_coverage: 1.5}\n",
		"region finer than place":  "countries:\n  XX:\n    levels: {place: 6, region: 8}\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "c.yaml")
			require.NoError(t, os.WriteFile(path, []byte(data), 0600))
			_, err := LoadCountryTable(path)
			require.ErrorIs(t, err, ErrInvalidCountryTable)
		})
	}
}

func TestRunConfigOutputPath(t *testing.T) {
	c := DefaultRunConfig()
	c.OutDir = "out"
	assert.Equal(t, filepath.Join("out", "z14_level248_ids_54224.csv"), c.OutputPath("54224"))
	assert.Equal(t, filepath.Join("out", "z14_level248_ids_unknown.csv"), c.OutputPath(""))
	c.OutPrefix = "fi"
	c.GzipCSV = true
	assert.Equal(t, filepath.Join("out", "fi_54224.csv.gz"), c.OutputPath("54224"))
}

func TestRunConfigValidate(t *testing.T) {
	cfg := DefaultRunConfig()
	require.ErrorIs(t, cfg.Validate(), ErrInvalidRunConfig, "input is required")

	cfg.Input = "fi.geojsonseq"
	require.NoError(t, cfg.Validate())

	cfg.ISO = "PT-20"
	require.NoError(t, cfg.Validate())
	cfg.ISO = "FIN"
	require.ErrorIs(t, cfg.Validate(), ErrInvalidRunConfig)
	cfg.ISO = ""

	cfg.PlaceLevel = 6
	r := admin.Level(8)
	cfg.RegionLevel = &r
	require.ErrorIs(t, cfg.Validate(), ErrInvalidRunConfig)
	r = 0
	require.NoError(t, cfg.Validate(), "region 0 means none")

	cfg.Workers = 0
	require.ErrorIs(t, cfg.Validate(), ErrInvalidRunConfig)
}
