// Package levels decides which admin levels a run rasterizes.
package levels

import (
	"fmt"
	"slices"
	"strings"

	"github.com/rotblauer/admintiles/admin"
	"github.com/rotblauer/admintiles/params"
)

const (
	SourceOverride = "override"
	SourceTable    = "table"
	SourceAuto     = "auto"
)

// Overrides are caller-supplied levels. Each one wins individually.
type Overrides struct {
	// Place is unset when zero.
	Place admin.Level
	// Region is unset when nil. A zero value means no region tier.
	Region *admin.Level
}

type Input struct {
	Counts map[admin.Level]int

	// CountryKey is the ISO2 code, if known.
	CountryKey string
	// SubdivisionKey (eg. PT-20) is tried before CountryKey for the level plan only.
	SubdivisionKey string

	Overrides Overrides
	Table     *params.CountryTable
}

// Plan is the level plan of one run.
type Plan struct {
	Place  admin.Level
	Region *admin.Level
	// Cascade lists place levels finest first. Empty means a single place level.
	Cascade      []admin.Level
	CountryLevel admin.Level
	Source       string
}

// RunLevels returns the place levels to rasterize, in order.
func (p Plan) RunLevels() []admin.Level {
	if len(p.Cascade) > 0 {
		return slices.Clone(p.Cascade)
	}
	return []admin.Level{p.Place}
}

func (p Plan) HasCascade() bool {
	return len(p.Cascade) > 0
}

// FirstPlaceLevel is the first level the engine runs.
func (p Plan) FirstPlaceLevel() admin.Level {
	return p.RunLevels()[0]
}

func (p Plan) String() string {
	var b strings.Builder
	if p.HasCascade() {
		parts := make([]string, len(p.Cascade))
		for i, l := range p.Cascade {
			parts[i] = fmt.Sprint(int(l))
		}
		fmt.Fprintf(&b, "place=cascade[%s]", strings.Join(parts, "→"))
	} else {
		fmt.Fprintf(&b, "place=%d", p.Place)
	}
	if p.Region != nil {
		fmt.Fprintf(&b, ", region=%d", *p.Region)
	} else {
		b.WriteString(", region=none")
	}
	fmt.Fprintf(&b, ", country=%d", p.CountryLevel)
	return b.String()
}

// Select resolves the plan: overrides, then the country table
// (subdivision key first), then inference from the populated levels.
func Select(in Input) Plan {
	plan := Plan{CountryLevel: admin.LevelCountry}

	if in.Overrides.Place != 0 && in.Overrides.Region != nil {
		plan.Place = in.Overrides.Place
		plan.Region = regionOverride(*in.Overrides.Region)
		plan.Source = SourceOverride
		return plan
	}

	if e, ok := in.Table.Plan(in.SubdivisionKey, in.CountryKey); ok {
		plan.Place = e.Place
		plan.Region = copyLevel(e.Region)
		plan.Source = SourceTable
	} else {
		plan.Place, plan.Region = Auto(in.Counts)
		plan.Source = SourceAuto
	}

	if in.Overrides.Place != 0 {
		plan.Place = in.Overrides.Place
		plan.Source = SourceOverride
	}
	if in.Overrides.Region != nil {
		plan.Region = regionOverride(*in.Overrides.Region)
		plan.Source = SourceOverride
	}

	// An explicit place level always means a single level.
	if in.Overrides.Place == 0 {
		plan.Cascade = populated(in.Table.Cascade(in.CountryKey), in.Counts)
	}
	return plan
}

// Auto infers levels from the populated ones.
// The place tier is 8 or 7, whichever has more features (8 on a tie, or when both are empty).
// The region tier prefers 4, then 6, then the lowest populated level between
// country and place, and must be populated.
func Auto(counts map[admin.Level]int) (place admin.Level, region *admin.Level) {
	has := func(l admin.Level) bool { return counts[l] > 0 }

	place = 8
	if counts[7] > counts[8] {
		place = 7
	}

	switch {
	case has(4) && 4 < place:
		return place, levelPtr(4)
	case has(6) && 6 < place:
		return place, levelPtr(6)
	}

	var candidates []admin.Level
	for l := range counts {
		if has(l) && l > admin.LevelCountry && l < place {
			candidates = append(candidates, l)
		}
	}
	if len(candidates) > 0 {
		return place, levelPtr(slices.Min(candidates))
	}

	fallback := admin.Level(6)
	if place > 4 {
		fallback = 4
	}
	if has(fallback) {
		return place, levelPtr(fallback)
	}
	return place, nil
}

func populated(cascade []admin.Level, counts map[admin.Level]int) []admin.Level {
	var out []admin.Level
	for _, l := range cascade {
		if counts[l] > 0 {
			out = append(out, l)
		}
	}
	return out
}

func regionOverride(l admin.Level) *admin.Level {
	if l == 0 {
		return nil
	}
	return levelPtr(l)
}

func levelPtr(l admin.Level) *admin.Level {
	return &l
}

func copyLevel(l *admin.Level) *admin.Level {
	if l == nil {
		return nil
	}
	return levelPtr(*l)
}
