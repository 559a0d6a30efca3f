package api

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/rotblauer/admintiles/admin"
	"github.com/rotblauer/admintiles/common"
	"github.com/rotblauer/admintiles/coverage"
	"github.com/rotblauer/admintiles/ingest"
	"github.com/rotblauer/admintiles/params"
	"github.com/rotblauer/admintiles/tiledb"
	"github.com/rotblauer/admintiles/tilez"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countryInput is a 2x2 degree country with one region and two places
// splitting it at the 1st meridian.
func countryInput(t *testing.T, extra ...string) string {
	fs := []string{
		feature(1, 2, square(0, 0, 2, 2), `"ISO3166-1:alpha2":"xx","name":"Testland"`),
		feature(40, 4, square(0, 0, 2, 2), `"name":"Region"`),
		feature(80, 8, square(0, 0, 1, 2), `"name":"West"`),
		feature(81, 8, square(1, 0, 2, 2), `"name":"East"`),
	}
	return writeInput(t, append(fs, extra...)...)
}

func testJob(t *testing.T, input string) *Job {
	cfg := params.DefaultRunConfig()
	cfg.Input = input
	cfg.Zoom = 10
	cfg.OutDir = t.TempDir()
	j := NewJob(cfg, params.DefaultCountryTable())
	j.TickInterval = 0
	return j
}

func readCSV(t *testing.T, path string) []string {
	t.Helper()
	r, err := tilez.Open(path)
	require.NoError(t, err)
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return strings.Split(strings.TrimSpace(string(b)), "\n")
}

func TestJobRun(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelWarn + 1)()

	j := testJob(t, countryInput(t))
	j.Config.TileDBPath = filepath.Join(t.TempDir(), "tiles.db")
	rep, err := j.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ExitOK, ExitCode(err))

	assert.Equal(t, "XX", rep.CountryKey)
	assert.Equal(t, "place=8, region=4, country=2", rep.Plan.String())
	assert.Equal(t, "auto", rep.Plan.Source)
	require.NotNil(t, rep.Coverage)
	assert.True(t, rep.Coverage.Pass())
	assert.InDelta(t, 1.0, rep.Coverage.Ratio, 1e-6)
	require.NotNil(t, rep.CountryID)
	assert.Equal(t, int64(1), *rep.CountryID)
	assert.Equal(t, filepath.Join(j.Config.OutDir, "z10_level248_ids_1.csv"), rep.CSVPath)
	assert.NotEmpty(t, rep.RunID)

	lines := readCSV(t, rep.CSVPath)
	assert.Equal(t, "z,x,y,lon,lat,place_id,region_id,country_id,p_level,r_level", lines[0])
	require.Equal(t, rep.Stats.Accepted, int64(len(lines)-1))
	require.Positive(t, rep.Stats.Accepted)
	seen := map[string]bool{}
	for _, l := range lines[1:] {
		cols := strings.Split(l, ",")
		require.Len(t, cols, 10)
		key := cols[1] + "_" + cols[2]
		require.False(t, seen[key], "duplicate tile %s", key)
		seen[key] = true
		assert.Equal(t, "10", cols[0])
		assert.Contains(t, []string{"80", "81"}, cols[5])
		assert.Equal(t, []string{"40", "1", "8", "4"}, cols[6:])
	}

	db, err := tiledb.Open(j.Config.TileDBPath, tiledb.Options{ReadOnly: true})
	require.NoError(t, err)
	defer db.Close()
	n, err := db.CountTiles(10)
	require.NoError(t, err)
	assert.Equal(t, len(seen), n)
	runs, err := db.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rep.RunID, runs[0].RunID)
	assert.Equal(t, "XX", runs[0].Country)
	assert.Equal(t, rep.Stats.Accepted, runs[0].Tiles)
}

func TestJobRunParallelGzip(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelWarn + 1)()

	seq := testJob(t, countryInput(t))
	seqRep, err := seq.Run(context.Background())
	require.NoError(t, err)

	par := testJob(t, countryInput(t))
	par.Config.Workers = 4
	par.Config.GzipCSV = true
	parRep, err := par.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(parRep.CSVPath, ".csv.gz"))
	assert.Equal(t, seqRep.Stats.Accepted, parRep.Stats.Accepted)
	assert.ElementsMatch(t, readCSV(t, seqRep.CSVPath), readCSV(t, parRep.CSVPath))
}

func TestJobCoverageFailure(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError + 1)()

	// Only the western half has a place.
	in := writeInput(t,
		feature(1, 2, square(0, 0, 2, 2), `"iso2":"xx"`),
		feature(80, 8, square(0, 0, 1, 2), ""),
	)
	j := testJob(t, in)
	rep, err := j.Run(context.Background())
	require.ErrorIs(t, err, coverage.ErrCoverageBelowMinimum)
	assert.Equal(t, ExitCoverage, ExitCode(err))
	require.NotNil(t, rep.Coverage)
	assert.InDelta(t, 0.5, rep.Coverage.Ratio, 0.01)
	assert.Nil(t, rep.Stats, "nothing rasterized")
	assert.Empty(t, rep.CSVPath)
}

func TestJobTileCountFailure(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError + 1)()

	table := &params.CountryTable{Countries: map[string]params.CountryConfig{
		"XX": {Expectations: []params.TileExpectation{{Zoom: 10, Expected: 1}}},
	}}
	j := testJob(t, countryInput(t))
	j.Countries = table
	rep, err := j.Run(context.Background())
	require.ErrorIs(t, err, coverage.ErrTileCountOutOfTolerance)
	assert.Equal(t, ExitTileCount, ExitCode(err))
	assert.Nil(t, rep.Coverage, "an expectation supersedes the area check")
	require.NotNil(t, rep.TileCount)
	assert.False(t, rep.TileCount.Pass())
}

func TestJobOverridesAndFallbacks(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError + 1)()

	// No country feature, no country code: the id comes from the config.
	in := writeInput(t,
		feature(40, 4, square(0, 0, 2, 2), ""),
		feature(70, 7, square(0, 0, 2, 2), ""),
	)
	j := testJob(t, in)
	id := int64(777)
	none := admin.Level(0)
	j.Config.CountryID = &id
	j.Config.PlaceLevel = 7
	j.Config.RegionLevel = &none
	rep, err := j.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "place=7, region=none, country=2", rep.Plan.String())
	assert.Equal(t, "", rep.CountryKey)
	require.NotNil(t, rep.Coverage)
	assert.True(t, rep.Coverage.Skipped, "no baseline")
	assert.True(t, strings.HasSuffix(rep.CSVPath, "_777.csv"))

	lines := readCSV(t, rep.CSVPath)
	require.Greater(t, len(lines), 1)
	assert.True(t, strings.HasSuffix(lines[1], ",70,,777,7,"), lines[1])
}

func TestJobInferCountry(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError + 1)()

	in := writeInput(t,
		feature(1, 2, square(0, 0, 2, 2), ""),
		feature(80, 8, square(0, 0, 2, 2), ""),
	)
	j := testJob(t, in)
	j.Config.Zoom = 14
	j.Config.InferCountry = true
	var asked orb.Point
	j.Geocode = func(pt orb.Point) (string, error) {
		asked = pt
		return "AL", nil
	}
	rep, _, err := j.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AL", rep.CountryKey)
	assert.NotEqual(t, orb.Point{}, asked)
	assert.Equal(t, "place=8, region=4, country=2", rep.Plan.String())
	assert.Equal(t, "table", rep.Plan.Source)
	require.NotNil(t, rep.Expectation)
	assert.Equal(t, 8500, rep.Expectation.Expected)
	assert.Nil(t, rep.Coverage)

	j.Geocode = func(orb.Point) (string, error) { return "", errors.New("ocean") }
	rep, _, err = j.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", rep.CountryKey)
}

func TestJobISOOverride(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError + 1)()

	j := testJob(t, countryInput(t))
	j.Config.ISO = "pt-20"
	rep, _, err := j.Plan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "PT", rep.CountryKey)
	assert.Equal(t, "PT-20", rep.Subdivision)
	assert.Equal(t, admin.Level(7), rep.Plan.Place)
}

func TestJobErrors(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError + 1)()

	j := testJob(t, filepath.Join(t.TempDir(), "missing.geojsonseq"))
	_, err := j.Run(context.Background())
	assert.Equal(t, ExitUsage, ExitCode(err))

	j = testJob(t, writeInput(t, `{"type":"Feature","geometry":null,"properties":{"@type":"way"}}`))
	_, err = j.Run(context.Background())
	require.ErrorIs(t, err, ingest.ErrNoFeatures)
	assert.Equal(t, ExitNoFeatures, ExitCode(err))

	j = testJob(t, "")
	_, err = j.Run(context.Background())
	assert.Equal(t, ExitUsage, ExitCode(err))

	assert.Equal(t, ExitOther, ExitCode(errors.New("boom")))
}
