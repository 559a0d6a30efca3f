package cmd

import (
	"bytes"
	"testing"

	"github.com/rotblauer/admintiles/admin"
	"github.com/rotblauer/admintiles/api"
	"github.com/rotblauer/admintiles/coverage"
	"github.com/rotblauer/admintiles/levels"
	"github.com/rotblauer/admintiles/params"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJob(t *testing.T) {
	t.Cleanup(viper.Reset)

	t.Run("defaults", func(t *testing.T) {
		viper.Reset()
		viper.Set("geojson", "in.geojsonseq")
		j, err := newJob()
		require.NoError(t, err)
		cfg := j.Config
		assert.Equal(t, "in.geojsonseq", cfg.Input)
		assert.Equal(t, params.DefaultZoom, cfg.Zoom)
		assert.Nil(t, cfg.RegionLevel)
		assert.Nil(t, cfg.CountryID)
		assert.Equal(t, params.DefaultAcceptedLevels, cfg.AcceptedLevels)
		assert.Equal(t, 1, cfg.Workers)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("overrides", func(t *testing.T) {
		viper.Reset()
		viper.Set("geojson", "in.geojsonseq")
		viper.Set("z", 12)
		viper.Set("place-level", 7)
		viper.Set("region-level", 0)
		viper.Set("country-id", 54224)
		viper.Set("iso", "pt-20")
		viper.Set("accepted-levels", []int{2, 4, 7})
		viper.Set("workers", 4)
		j, err := newJob()
		require.NoError(t, err)
		cfg := j.Config
		assert.Equal(t, 12, cfg.Zoom)
		assert.Equal(t, admin.Level(7), cfg.PlaceLevel)
		require.NotNil(t, cfg.RegionLevel)
		assert.Equal(t, admin.Level(0), *cfg.RegionLevel)
		require.NotNil(t, cfg.CountryID)
		assert.Equal(t, int64(54224), *cfg.CountryID)
		assert.Equal(t, []admin.Level{2, 4, 7}, cfg.AcceptedLevels)
		assert.Equal(t, 4, cfg.Workers)
		assert.NoError(t, cfg.Validate())
	})

	t.Run("missing countries file", func(t *testing.T) {
		viper.Reset()
		viper.Set("countries", "/nonexistent/countries.yaml")
		_, err := newJob()
		assert.Error(t, err)
	})
}

func TestPrintPlan(t *testing.T) {
	region := admin.Level(4)
	rep := &api.Report{
		Read:       5,
		Accepted:   4,
		Counts:     map[admin.Level]int{2: 1, 4: 1, 8: 2},
		Rejected:   map[string]int{"no id": 1},
		CountryKey: "FI",
		Plan:       levels.Plan{Place: 8, Region: &region, CountryLevel: 2, Source: "table"},
		Coverage:   &coverage.Result{PlaceLevel: 8, BaselineLevel: 2, Ratio: 0.99, Min: 0.95},
		CSVPath:    "z14_level248_ids_54224.csv",
	}
	var buf bytes.Buffer
	printPlan(&buf, rep)
	out := buf.String()
	assert.Contains(t, out, "country:  FI\n")
	assert.Contains(t, out, "  L8  2\n")
	assert.Contains(t, out, "rejected no id: 1")
	assert.Contains(t, out, "coverage: L8/L2 99.00% (min 95%)")
	assert.Contains(t, out, "output:   z14_level248_ids_54224.csv")
}
