// Package raster assigns fixed-zoom tiles to administrative units.
//
// Levels run in order, finest first. Within a level each unit scans the tile
// rectangle of its bounding box, accepting a tile when the tile center lies
// strictly inside the unit and no earlier unit has claimed it.
package raster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/paulmach/orb"
	"github.com/rotblauer/admintiles/admin"
	"github.com/rotblauer/admintiles/geom"
	"github.com/rotblauer/admintiles/lookup"
	"github.com/rotblauer/admintiles/params"
	"github.com/rotblauer/admintiles/slippy"
	"github.com/rotblauer/admintiles/stream"
)

// Assignment is one accepted tile and the units it belongs to.
type Assignment struct {
	Tile       slippy.Tile
	Center     orb.Point
	PlaceID    int64
	PlaceLevel admin.Level
	// RegionLevel is set only with RegionID.
	RegionID    *int64
	RegionLevel *admin.Level
	CountryID   *int64
}

type Engine struct {
	Zoom int

	// A unit stops scanning once it has tested more than EarlyAbortFloor
	// candidates and at least EarlyAbortRatio candidates per accepted tile.
	// Tiles accepted before that are kept.
	EarlyAbortFloor int
	EarlyAbortRatio int

	// Workers > 1 rasterizes the units of one level concurrently.
	// The ClaimSet must then be safe for concurrent use.
	Workers int

	// TickInterval is the progress log interval; zero disables it.
	TickInterval time.Duration

	Logger *slog.Logger
}

func NewEngine(zoom int) *Engine {
	return &Engine{
		Zoom:            zoom,
		EarlyAbortFloor: params.DefaultEarlyAbortFloor,
		EarlyAbortRatio: params.DefaultEarlyAbortRatio,
		Workers:         1,
		TickInterval:    10 * time.Second,
		Logger:          slog.With("component", "raster"),
	}
}

type RunInput struct {
	// Levels are the place levels to run, finest first.
	Levels []admin.Level
	Groups *admin.Groups
	// Regions is the region tier; nil when the plan has none.
	Regions   *lookup.Tier
	Countries *lookup.Country
}

// Emit receives accepted tiles. Calls are serialized by the engine.
type Emit func(Assignment) error

var ErrNilClaimSet = errors.New("nil claim set")

// Run rasterizes every unit of every level. A level finishes, and all its
// claims are committed, before the next level starts.
func (e *Engine) Run(ctx context.Context, in RunInput, claims ClaimSet, emit Emit) (*Stats, error) {
	if claims == nil {
		return nil, ErrNilClaimSet
	}
	log := e.logger()
	started := time.Now()
	st := &Stats{Zoom: e.Zoom}

	meter := stream.NewTickMeter("Rasterizing", e.TickInterval, log)
	defer meter.Stop()

	var emitMu sync.Mutex
	serialEmit := func(a Assignment) error {
		emitMu.Lock()
		defer emitMu.Unlock()
		meter.Mark("tiles", 1)
		return emit(a)
	}

	for _, level := range in.Levels {
		units := in.Groups.Units(level)
		if len(units) == 0 {
			log.Warn("No units at level", "level", level)
		}
		log.Info("Rasterizing level", "level", level, "units", len(units))

		unitStats, err := e.runLevel(ctx, level, units, in, claims, serialEmit, meter)
		ls := summarizeLevel(level, unitStats)
		st.add(ls)
		log.Info("Level done", "level", level,
			"units", ls.Units,
			"tiles", humanize.Comma(ls.Accepted),
			"candidates", humanize.Comma(ls.Candidates),
			"aborted", ls.Aborted,
			"tiles.median", ls.MedianTiles,
			"tiles.p95", ls.P95Tiles,
			"claimed", humanize.Comma(int64(claims.Len())))
		if err != nil {
			st.Duration = time.Since(started)
			return st, err
		}
	}
	st.Duration = time.Since(started)
	return st, nil
}

func (e *Engine) runLevel(ctx context.Context, level admin.Level, units []*admin.Unit,
	in RunInput, claims ClaimSet, emit Emit, meter *stream.TickMeter) ([]UnitStats, error) {

	out := make([]UnitStats, len(units))
	if e.Workers <= 1 {
		for i, u := range units {
			if err := ctx.Err(); err != nil {
				return out[:i], err
			}
			us, err := e.rasterizeUnit(u, in, claims, emit, meter)
			out[i] = us
			if err != nil {
				return out[:i+1], err
			}
		}
		return out, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	var wg sync.WaitGroup
	var errOnce sync.Once
	var firstErr error
	for w := 0; w < e.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				us, err := e.rasterizeUnit(units[i], in, claims, emit, meter)
				out[i] = us
				if err != nil {
					errOnce.Do(func() {
						firstErr = err
						cancel()
					})
				}
			}
		}()
	}
feed:
	for i := range units {
		select {
		case <-ctx.Done():
			break feed
		case jobs <- i:
		}
	}
	close(jobs)
	wg.Wait()

	if firstErr != nil {
		return out, firstErr
	}
	return out, ctx.Err()
}

func (e *Engine) rasterizeUnit(u *admin.Unit, in RunInput, claims ClaimSet, emit Emit, meter *stream.TickMeter) (UnitStats, error) {
	us := UnitStats{ID: u.ID}
	if len(u.Parts) == 0 {
		return us, nil
	}
	log := e.logger()
	meter.SetLabel(fmt.Sprintf("%s %d %s", u.Level, u.ID, u.Name()))

	shape := geom.NewShape(u.Parts...)
	regionID, regionLevel, countryID := e.resolve(u, shape, in, &us)

	bound := slippy.ClampBound(shape.Bound())
	rng := slippy.RangeOf(bound, e.Zoom)
	floor := int64(e.EarlyAbortFloor)
	ratio := int64(e.EarlyAbortRatio)

	var emitErr error
	rng.Each(func(t slippy.Tile) bool {
		us.Candidates++
		if ratio > 0 && us.Candidates > floor && us.Candidates >= ratio*us.Accepted {
			us.Aborted = true
			return false
		}
		if claims.Claimed(t) {
			return true
		}
		center := slippy.Center(t)
		if !shape.ContainsExclusive(center) {
			return true
		}
		if !claims.Claim(t) {
			return true
		}
		us.Accepted++
		emitErr = emit(Assignment{
			Tile:        t,
			Center:      center,
			PlaceID:     u.ID,
			PlaceLevel:  u.Level,
			RegionID:    regionID,
			RegionLevel: regionLevel,
			CountryID:   countryID,
		})
		return emitErr == nil
	})
	meter.Mark("candidates", us.Candidates)

	if us.Aborted {
		log.Warn("Early abort", "level", u.Level, "id", u.ID, "name", u.Name(),
			"candidates", humanize.Comma(us.Candidates), "tiles", humanize.Comma(us.Accepted),
			"bbox.tiles", humanize.Comma(int64(rng.Count())))
	}
	log.Debug("Unit done", "level", u.Level, "id", u.ID, "name", u.Name(),
		"tiles", us.Accepted, "candidates", us.Candidates)
	if emitErr != nil {
		return us, fmt.Errorf("emit tile for unit %d: %w", u.ID, emitErr)
	}
	return us, nil
}

// resolve looks up the unit's region and country once, from its representative point.
func (e *Engine) resolve(u *admin.Unit, shape geom.Shape, in RunInput, us *UnitStats) (regionID *int64, regionLevel *admin.Level, countryID *int64) {
	pt, ok := shape.RepresentativePoint()
	if !ok {
		us.NoPoint = true
		e.logger().Warn("No representative point, using fallback country",
			"level", u.Level, "id", u.ID, "name", u.Name())
		if id, ok := in.Countries.Fallback(); ok {
			countryID = &id
		}
		return nil, nil, countryID
	}
	if id, ok := in.Regions.Find(pt); ok {
		l := in.Regions.Level
		regionID, regionLevel = &id, &l
	}
	if id, ok := in.Countries.Find(pt); ok {
		countryID = &id
	}
	return regionID, regionLevel, countryID
}

func (e *Engine) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}
