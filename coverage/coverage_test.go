package coverage

import (
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/rotblauer/admintiles/admin"
	"github.com/rotblauer/admintiles/levels"
	"github.com/rotblauer/admintiles/params"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{orb.Ring{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

// country spans [0,1]x[0,1]; places cover the west half only.
func halfCovered() *admin.Groups {
	g := admin.NewGroups()
	g.Add(&admin.Feature{ID: 1, Level: 2, Geometry: square(0, 0, 1, 1)})
	g.Add(&admin.Feature{ID: 10, Level: 8, Geometry: square(0, 0, 0.5, 0.5)})
	g.Add(&admin.Feature{ID: 11, Level: 8, Geometry: square(0, 0.5, 0.5, 1)})
	// Repeated id counts once.
	g.Add(&admin.Feature{ID: 11, Level: 8, Geometry: square(0.5, 0.5, 1, 1)})
	return g
}

func TestValidateBelowMinimum(t *testing.T) {
	res, err := Validate(halfCovered(), 8, params.CoverageRule{BaselineLevel: 2, MinCoverage: 0.95})
	require.ErrorIs(t, err, ErrCoverageBelowMinimum)
	assert.InDelta(t, 0.5, res.Ratio, 0.01)
	assert.False(t, res.Pass())
}

func TestValidatePasses(t *testing.T) {
	res, err := Validate(halfCovered(), 8, params.CoverageRule{BaselineLevel: 2, MinCoverage: 0.4})
	require.NoError(t, err)
	assert.True(t, res.Pass())
	assert.False(t, res.Skipped)
}

func TestValidateBaselineFallback(t *testing.T) {
	res, err := Validate(halfCovered(), 8, params.CoverageRule{BaselineLevel: 6, MinCoverage: 0.4})
	require.NoError(t, err)
	assert.True(t, res.BaselineFallback)
	assert.Equal(t, admin.Level(2), res.BaselineLevel)
}

func TestValidateNoBaselineSkips(t *testing.T) {
	g := admin.NewGroups()
	g.Add(&admin.Feature{ID: 10, Level: 8, Geometry: square(0, 0, 0.5, 0.5)})
	res, err := Validate(g, 8, params.CoverageRule{BaselineLevel: 4, MinCoverage: 0.95})
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, SkipNoBaseline, res.SkipReason)
}

func TestShouldValidate(t *testing.T) {
	ok, _ := ShouldValidate(levels.Plan{Place: 8}, nil)
	assert.True(t, ok)

	ok, reason := ShouldValidate(levels.Plan{Place: 8, Cascade: []admin.Level{8, 7}}, nil)
	assert.False(t, ok)
	assert.Equal(t, SkipCascade, reason)

	ok, reason = ShouldValidate(levels.Plan{Place: 8}, &params.TileExpectation{Zoom: 14, Expected: 100})
	assert.False(t, ok)
	assert.Equal(t, SkipExpectation, reason)
}

func TestCheckTileCount(t *testing.T) {
	exp := params.TileExpectation{Zoom: 14, Expected: 100}
	cases := []struct {
		emitted int
		pass    bool
	}{
		{100, true},
		{95, true},
		{110, true},
		{90, true},
		{80, false},
		{111, false},
		{0, false},
	}
	for _, c := range cases {
		res, err := CheckTileCount(exp, c.emitted)
		assert.Equal(t, c.pass, res.Pass(), "emitted=%d", c.emitted)
		if c.pass {
			assert.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, ErrTileCountOutOfTolerance)
		}
	}

	tol := 0.2
	res, err := CheckTileCount(params.TileExpectation{Zoom: 14, Expected: 100, Tolerance: &tol}, 80)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, res.Diff, 1e-9)

	res, err = CheckTileCount(params.TileExpectation{Zoom: 14, Expected: 0}, 3)
	require.ErrorIs(t, err, ErrTileCountOutOfTolerance)
	assert.True(t, math.IsInf(res.Diff, 1))

	_, err = CheckTileCount(params.TileExpectation{Zoom: 14, Expected: 0}, 0)
	assert.NoError(t, err)
}
