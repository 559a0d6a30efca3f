package raster

import (
	"time"

	"github.com/montanaflynn/stats"
	"github.com/rotblauer/admintiles/admin"
)

// UnitStats describes the scan of one unit.
type UnitStats struct {
	ID         int64
	Candidates int64
	Accepted   int64
	Aborted    bool
	// NoPoint is set when no representative point was found;
	// region and country then resolve to the run fallback.
	NoPoint bool
}

type LevelStats struct {
	Level      admin.Level
	Units      int
	Candidates int64
	Accepted   int64
	Aborted    int
	NoPoint    int

	// Tiles per unit.
	MedianTiles float64
	P95Tiles    float64
	MaxTiles    float64
}

type Stats struct {
	Zoom       int
	Levels     []LevelStats
	Candidates int64
	Accepted   int64
	Duration   time.Duration
}

func summarizeLevel(level admin.Level, units []UnitStats) LevelStats {
	ls := LevelStats{Level: level, Units: len(units)}
	data := make(stats.Float64Data, 0, len(units))
	for _, u := range units {
		ls.Candidates += u.Candidates
		ls.Accepted += u.Accepted
		if u.Aborted {
			ls.Aborted++
		}
		if u.NoPoint {
			ls.NoPoint++
		}
		data = append(data, float64(u.Accepted))
	}
	if len(data) == 0 {
		return ls
	}
	ls.MedianTiles, _ = stats.Median(data)
	ls.P95Tiles, _ = stats.Percentile(data, 95)
	ls.MaxTiles, _ = stats.Max(data)
	return ls
}

func (s *Stats) add(ls LevelStats) {
	s.Levels = append(s.Levels, ls)
	s.Candidates += ls.Candidates
	s.Accepted += ls.Accepted
}
