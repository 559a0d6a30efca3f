package admin

import (
	"slices"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Unit is one administrative unit: all features of a level sharing an id.
// Exports split some units (eg. exclaves) across several features.
type Unit struct {
	ID         int64
	Level      Level
	Parts      []orb.Polygon
	Properties geojson.Properties
}

func (u *Unit) Name() string {
	return DisplayName(u.Properties, u.ID)
}

// Groups partitions features by level, preserving input order within a level.
type Groups struct {
	byLevel map[Level][]*Feature
	n       int
}

func NewGroups() *Groups {
	return &Groups{byLevel: map[Level][]*Feature{}}
}

func (g *Groups) Add(f *Feature) {
	g.byLevel[f.Level] = append(g.byLevel[f.Level], f)
	g.n++
}

// Len is the total number of features.
func (g *Groups) Len() int {
	return g.n
}

func (g *Groups) Features(l Level) []*Feature {
	return g.byLevel[l]
}

func (g *Groups) Count(l Level) int {
	return len(g.byLevel[l])
}

func (g *Groups) Counts() map[Level]int {
	out := make(map[Level]int, len(g.byLevel))
	for l, fs := range g.byLevel {
		out[l] = len(fs)
	}
	return out
}

// Levels returns the populated levels in ascending order.
func (g *Groups) Levels() []Level {
	out := make([]Level, 0, len(g.byLevel))
	for l, fs := range g.byLevel {
		if len(fs) > 0 {
			out = append(out, l)
		}
	}
	slices.Sort(out)
	return out
}

// Units groups the features of a level by id, in first-seen order.
// Properties are those of the first feature seen for the id.
func (g *Groups) Units(l Level) []*Unit {
	var units []*Unit
	index := map[int64]*Unit{}
	for _, f := range g.byLevel[l] {
		u, ok := index[f.ID]
		if !ok {
			u = &Unit{ID: f.ID, Level: l, Properties: f.Properties}
			index[f.ID] = u
			units = append(units, u)
		}
		u.Parts = append(u.Parts, f.Polygons()...)
	}
	return units
}
