package api

import (
	"errors"
	"os"
	"time"

	"github.com/rotblauer/admintiles/admin"
	"github.com/rotblauer/admintiles/coverage"
	"github.com/rotblauer/admintiles/importer"
	"github.com/rotblauer/admintiles/ingest"
	"github.com/rotblauer/admintiles/levels"
	"github.com/rotblauer/admintiles/metrics/influxdb"
	"github.com/rotblauer/admintiles/params"
	"github.com/rotblauer/admintiles/raster"
)

// Report describes one run. Fields are filled in as far as the run got.
type Report struct {
	RunID       string
	Fingerprint uint64

	Read     int
	Accepted int
	Rejected map[string]int
	Counts   map[admin.Level]int

	CountryKey  string
	Subdivision string
	CountryID   *int64

	Plan        levels.Plan
	Coverage    *coverage.Result
	Expectation *params.TileExpectation
	TileCount   *coverage.TileCountResult

	Stats    *raster.Stats
	Duration time.Duration

	CSVPath    string
	TileDBPath string
	Uploaded   bool
}

// InfluxRun summarizes the report for export.
func (r *Report) InfluxRun() influxdb.Run {
	run := influxdb.Run{
		Country:  r.CountryKey,
		Plan:     r.Plan.String(),
		Duration: r.Duration,
		Finished: time.Now(),
	}
	if r.Stats != nil {
		run.Zoom = r.Stats.Zoom
		run.Tiles = r.Stats.Accepted
		run.Candidates = r.Stats.Candidates
		for _, l := range r.Stats.Levels {
			run.Units += l.Units
			run.Aborted += l.Aborted
		}
	}
	return run
}

// Exit codes.
const (
	ExitOK         = 0
	ExitOther      = 1
	ExitUsage      = 2
	ExitNoFeatures = 3
	ExitCoverage   = 5
	ExitTileCount  = 6
)

// ExitCode maps a run error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, params.ErrInvalidRunConfig),
		errors.Is(err, params.ErrInvalidCountryTable),
		errors.Is(err, importer.ErrMissingColumns),
		errors.Is(err, os.ErrNotExist):
		return ExitUsage
	case errors.Is(err, ingest.ErrNoFeatures):
		return ExitNoFeatures
	case errors.Is(err, coverage.ErrCoverageBelowMinimum):
		return ExitCoverage
	case errors.Is(err, coverage.ErrTileCountOutOfTolerance):
		return ExitTileCount
	}
	return ExitOther
}
