// Package coverage gates a run on how much of the country its place tier covers,
// and checks emitted tile counts against known expectations.
package coverage

import (
	"errors"
	"fmt"
	"math"

	"github.com/rotblauer/admintiles/admin"
	"github.com/rotblauer/admintiles/geom"
	"github.com/rotblauer/admintiles/levels"
	"github.com/rotblauer/admintiles/params"
)

var (
	ErrCoverageBelowMinimum    = errors.New("place coverage below minimum")
	ErrTileCountOutOfTolerance = errors.New("tile count out of tolerance")
)

const (
	SkipCascade     = "cascade active"
	SkipExpectation = "tile-count expectation applies"
	SkipNoBaseline  = "baseline empty"
)

// ShouldValidate reports whether the area gate applies. A cascade or a
// tile-count expectation for the run's zoom supersedes it.
func ShouldValidate(plan levels.Plan, expectation *params.TileExpectation) (bool, string) {
	if plan.HasCascade() {
		return false, SkipCascade
	}
	if expectation != nil {
		return false, SkipExpectation
	}
	return true, ""
}

type Result struct {
	PlaceLevel    admin.Level
	BaselineLevel admin.Level
	// BaselineFallback is set when the configured baseline was empty and the country level was used.
	BaselineFallback bool

	PlaceArea    float64 // m²
	BaselineArea float64 // m²
	Ratio        float64
	Min          float64

	Skipped    bool
	SkipReason string
}

func (r Result) Pass() bool {
	return r.Skipped || r.Ratio >= r.Min
}

// UniqueArea sums the geodesic area of features, counting each id once
// (the first feature seen for it).
func UniqueArea(features []*admin.Feature) float64 {
	seen := make(map[int64]struct{}, len(features))
	var total float64
	for _, f := range features {
		if _, ok := seen[f.ID]; ok {
			continue
		}
		seen[f.ID] = struct{}{}
		total += geom.NewShape(f.Polygons()...).Area()
	}
	return total
}

// Validate compares the place tier's area to the baseline tier's.
// An empty baseline other than the country level falls back once to the country level;
// if that is empty too the check is skipped.
func Validate(groups *admin.Groups, placeLevel admin.Level, rule params.CoverageRule) (Result, error) {
	res := Result{
		PlaceLevel:    placeLevel,
		BaselineLevel: rule.BaselineLevel,
		Min:           rule.MinCoverage,
	}
	if res.BaselineLevel == 0 {
		res.BaselineLevel = admin.LevelCountry
	}
	res.PlaceArea = UniqueArea(groups.Features(placeLevel))
	res.BaselineArea = UniqueArea(groups.Features(res.BaselineLevel))

	if res.BaselineArea == 0 && res.BaselineLevel != admin.LevelCountry {
		res.BaselineLevel = admin.LevelCountry
		res.BaselineFallback = true
		res.BaselineArea = UniqueArea(groups.Features(admin.LevelCountry))
	}
	if res.BaselineArea == 0 {
		res.Skipped = true
		res.SkipReason = SkipNoBaseline
		return res, nil
	}

	res.Ratio = res.PlaceArea / res.BaselineArea
	if res.Ratio < res.Min {
		return res, fmt.Errorf("%w: L%d covers %.2f%% of L%d, need %.0f%%",
			ErrCoverageBelowMinimum, placeLevel, res.Ratio*100, res.BaselineLevel, res.Min*100)
	}
	return res, nil
}

type TileCountResult struct {
	Zoom      int
	Expected  int
	Emitted   int
	Diff      float64 // fraction of expected
	Tolerance float64
}

func (r TileCountResult) Pass() bool {
	return r.Diff <= r.Tolerance
}

// CheckTileCount compares the emitted count to an expectation.
// With zero expected tiles any other count is an infinite difference.
func CheckTileCount(exp params.TileExpectation, emitted int) (TileCountResult, error) {
	res := TileCountResult{
		Zoom:      exp.Zoom,
		Expected:  exp.Expected,
		Emitted:   emitted,
		Tolerance: exp.Tol(),
	}
	switch {
	case exp.Expected == emitted:
		res.Diff = 0
	case exp.Expected == 0:
		res.Diff = math.Inf(1)
	default:
		res.Diff = math.Abs(float64(emitted-exp.Expected)) / float64(exp.Expected)
	}
	if !res.Pass() {
		return res, fmt.Errorf("%w: emitted %d, expected %d ±%.0f%% (off by %.2f%%)",
			ErrTileCountOutOfTolerance, emitted, exp.Expected, res.Tolerance*100, res.Diff*100)
	}
	return res, nil
}
