package raster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"testing"

	"github.com/paulmach/orb"
	"github.com/rotblauer/admintiles/admin"
	"github.com/rotblauer/admintiles/common"
	"github.com/rotblauer/admintiles/geom"
	"github.com/rotblauer/admintiles/lookup"
	"github.com/rotblauer/admintiles/slippy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func square(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{orb.Ring{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

func testEngine(zoom int) *Engine {
	e := NewEngine(zoom)
	e.TickInterval = 0
	return e
}

func collect(out *[]Assignment) Emit {
	return func(a Assignment) error {
		*out = append(*out, a)
		return nil
	}
}

func cascadeGroups() *admin.Groups {
	g := admin.NewGroups()
	g.Add(&admin.Feature{ID: 1, Level: 2, Geometry: square(-1, -1, 2, 2)})
	g.Add(&admin.Feature{ID: 40, Level: 4, Geometry: square(-1, -1, 2, 2)})
	g.Add(&admin.Feature{ID: 80, Level: 8, Geometry: square(0, 0, 0.5, 1)})
	g.Add(&admin.Feature{ID: 70, Level: 7, Geometry: square(0, 0, 1, 1)})
	return g
}

func runInput(g *admin.Groups, levels ...admin.Level) RunInput {
	fallback := int64(999)
	return RunInput{
		Levels:    levels,
		Groups:    g,
		Regions:   lookup.NewTier(4, g.Features(4)),
		Countries: lookup.NewCountry(lookup.NewTier(2, g.Features(2)), &fallback),
	}
}

func TestRunSingleLevel(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelWarn + 1)()

	g := cascadeGroups()
	var got []Assignment
	st, err := testEngine(12).Run(context.Background(), runInput(g, 7), NewClaimSet(), collect(&got))
	require.NoError(t, err)
	require.NotEmpty(t, got)
	assert.Equal(t, int64(len(got)), st.Accepted)

	shape := geom.NewShape(square(0, 0, 1, 1))
	seen := map[slippy.Tile]bool{}
	for _, a := range got {
		require.True(t, slippy.Valid(a.Tile))
		require.False(t, seen[a.Tile], "duplicate tile %v", a.Tile)
		seen[a.Tile] = true
		assert.True(t, shape.ContainsExclusive(a.Center))
		assert.Equal(t, slippy.Center(a.Tile), a.Center)
		assert.Equal(t, int64(70), a.PlaceID)
		assert.Equal(t, admin.Level(7), a.PlaceLevel)
		require.NotNil(t, a.RegionID)
		assert.Equal(t, int64(40), *a.RegionID)
		require.NotNil(t, a.RegionLevel)
		assert.Equal(t, admin.Level(4), *a.RegionLevel)
		require.NotNil(t, a.CountryID)
		assert.Equal(t, int64(1), *a.CountryID)
	}

	// Every tile whose center is strictly inside the unit is emitted.
	want := 0
	slippy.RangeOf(shape.Bound(), 12).Each(func(tile slippy.Tile) bool {
		if shape.ContainsExclusive(slippy.Center(tile)) {
			want++
		}
		return true
	})
	assert.Equal(t, want, len(got))
}

func TestRunCascadePrecedence(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelWarn + 1)()

	g := cascadeGroups()
	var got []Assignment
	claims := NewClaimSet()
	st, err := testEngine(12).Run(context.Background(), runInput(g, 8, 7), claims, collect(&got))
	require.NoError(t, err)
	require.Len(t, st.Levels, 2)
	assert.Equal(t, len(got), claims.Len())

	fine := geom.NewShape(square(0, 0, 0.5, 1))
	seen := map[slippy.Tile]bool{}
	var n8, n7 int
	for _, a := range got {
		require.False(t, seen[a.Tile])
		seen[a.Tile] = true
		switch a.PlaceLevel {
		case 8:
			n8++
			assert.True(t, fine.ContainsExclusive(a.Center))
		case 7:
			n7++
			assert.False(t, fine.ContainsExclusive(a.Center), "tile %v should belong to level 8", a.Tile)
		}
	}
	assert.Positive(t, n8)
	assert.Positive(t, n7)
	assert.Equal(t, int64(n8), st.Levels[0].Accepted)
	assert.Equal(t, int64(n7), st.Levels[1].Accepted)

	// Same tile set as the coarse level alone.
	var single []Assignment
	_, err = testEngine(12).Run(context.Background(), runInput(g, 7), NewClaimSet(), collect(&single))
	require.NoError(t, err)
	assert.Equal(t, len(single), len(got))
}

func TestRunParallelMatchesSequential(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelWarn + 1)()

	g := admin.NewGroups()
	for i := 0; i < 8; i++ {
		x := float64(i) * 0.5
		g.Add(&admin.Feature{ID: int64(100 + i), Level: 8, Geometry: square(x, 0, x+0.5, 0.5)})
	}
	g.Add(&admin.Feature{ID: 7, Level: 7, Geometry: square(0, 0, 4, 1)})

	tiles := func(workers int) []string {
		e := testEngine(11)
		e.Workers = workers
		var claims ClaimSet = NewClaimSet()
		if workers > 1 {
			claims = NewSyncClaimSet()
		}
		var got []Assignment
		_, err := e.Run(context.Background(), runInput(g, 8, 7), claims, collect(&got))
		require.NoError(t, err)
		out := make([]string, 0, len(got))
		for _, a := range got {
			out = append(out, fmt.Sprintf("%d/%d/%d/%s", a.Tile.Z, a.Tile.X, a.Tile.Y, a.PlaceLevel))
		}
		sort.Strings(out)
		return out
	}
	assert.Equal(t, tiles(1), tiles(4))
}

func TestRunEarlyAbort(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError + 1)()

	// Two specks far apart: a huge bbox with almost nothing inside.
	g := admin.NewGroups()
	g.Add(&admin.Feature{ID: 5, Level: 8, Geometry: orb.MultiPolygon{
		square(0, 0, 0.1, 0.1),
		square(9.9, 9.9, 10, 10),
	}})
	e := testEngine(12)
	e.EarlyAbortFloor = 50
	e.EarlyAbortRatio = 10

	var got []Assignment
	st, err := e.Run(context.Background(), runInput(g, 8), NewClaimSet(), collect(&got))
	require.NoError(t, err)
	require.Len(t, st.Levels, 1)
	assert.Equal(t, 1, st.Levels[0].Aborted)
	assert.Equal(t, int64(51), st.Levels[0].Candidates)
	assert.Equal(t, int64(len(got)), st.Levels[0].Accepted, "tiles accepted before the abort are kept")
}

func TestRunNoRegionAndFallbackCountry(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelWarn + 1)()

	g := admin.NewGroups()
	g.Add(&admin.Feature{ID: 80, Level: 8, Geometry: square(0, 0, 0.5, 0.5)})
	fb := int64(42)
	in := RunInput{
		Levels:    []admin.Level{8},
		Groups:    g,
		Countries: lookup.NewCountry(lookup.NewTier(2, nil), &fb),
	}
	var got []Assignment
	_, err := testEngine(12).Run(context.Background(), in, NewClaimSet(), collect(&got))
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, a := range got {
		assert.Nil(t, a.RegionID)
		assert.Nil(t, a.RegionLevel)
		require.NotNil(t, a.CountryID)
		assert.Equal(t, int64(42), *a.CountryID)
	}
}

func TestRunMissingLevelIsEmpty(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelError + 1)()

	var got []Assignment
	st, err := testEngine(12).Run(context.Background(), runInput(cascadeGroups(), 9), NewClaimSet(), collect(&got))
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Equal(t, 0, st.Levels[0].Units)
}

func TestRunEmitError(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelWarn + 1)()

	boom := errors.New("boom")
	n := 0
	_, err := testEngine(12).Run(context.Background(), runInput(cascadeGroups(), 8, 7), NewClaimSet(), func(Assignment) error {
		n++
		if n == 3 {
			return boom
		}
		return nil
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 3, n)
}

func TestRunCanceled(t *testing.T) {
	defer common.SlogResetLevel(slog.LevelWarn + 1)()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var got []Assignment
	_, err := testEngine(12).Run(ctx, runInput(cascadeGroups(), 8, 7), NewClaimSet(), collect(&got))
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, got)

	_, err = testEngine(12).Run(context.Background(), runInput(cascadeGroups(), 8), nil, collect(&got))
	require.ErrorIs(t, err, ErrNilClaimSet)
}

func TestClaimSets(t *testing.T) {
	for name, cs := range map[string]ClaimSet{"plain": NewClaimSet(), "sync": NewSyncClaimSet()} {
		t.Run(name, func(t *testing.T) {
			tile := slippy.Tile{X: 1, Y: 2, Z: 14}
			assert.False(t, cs.Claimed(tile))
			assert.True(t, cs.Claim(tile))
			assert.False(t, cs.Claim(tile))
			assert.True(t, cs.Claimed(tile))
			assert.Equal(t, 1, cs.Len())
		})
	}
}
