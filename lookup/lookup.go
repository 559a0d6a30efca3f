// Package lookup resolves which region or country feature encloses a point.
// Lookups are boundary-inclusive; tile acceptance in the raster engine is not.
package lookup

import (
	"github.com/paulmach/orb"
	"github.com/rotblauer/admintiles/admin"
	"github.com/rotblauer/admintiles/geom"
)

type entry struct {
	id    int64
	shape geom.Shape
}

// Tier answers point queries over the features of one level.
// Features are tested in input order; the first containing feature wins.
type Tier struct {
	Level   admin.Level
	entries []entry
}

// NewTier indexes features. A nil or empty slice yields a tier that never matches.
func NewTier(level admin.Level, features []*admin.Feature) *Tier {
	t := &Tier{Level: level, entries: make([]entry, 0, len(features))}
	for _, f := range features {
		t.entries = append(t.entries, entry{id: f.ID, shape: geom.NewShape(f.Polygons()...)})
	}
	return t
}

func (t *Tier) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Find returns the id of the first feature containing pt, edges included.
func (t *Tier) Find(pt orb.Point) (int64, bool) {
	if t == nil {
		return 0, false
	}
	for _, e := range t.entries {
		if e.shape.ContainsInclusive(pt) {
			return e.id, true
		}
	}
	return 0, false
}

// Country resolves the country of a point, with a run-level fallback id.
type Country struct {
	tier     *Tier
	fallback *int64
}

func NewCountry(tier *Tier, fallback *int64) *Country {
	return &Country{tier: tier, fallback: fallback}
}

// Fallback is the id used when no country feature matches.
func (c *Country) Fallback() (int64, bool) {
	if c == nil || c.fallback == nil {
		return 0, false
	}
	return *c.fallback, true
}

// Find returns the first country feature containing pt.
// With no country features, or no match, it returns the fallback.
func (c *Country) Find(pt orb.Point) (int64, bool) {
	if c == nil {
		return 0, false
	}
	if c.tier.Len() > 0 {
		if id, ok := c.tier.Find(pt); ok {
			return id, true
		}
	}
	return c.Fallback()
}

// DeriveCountryID picks the run's country id: the country feature enclosing
// a representative point of the first place feature, or else the first country feature.
// It returns false when there are no country features or no place features.
func DeriveCountryID(groups *admin.Groups, placeLevel admin.Level) (int64, bool) {
	countries := groups.Features(admin.LevelCountry)
	if len(countries) == 0 {
		return 0, false
	}
	places := groups.Features(placeLevel)
	if len(places) == 0 {
		return 0, false
	}
	if pt, ok := geom.NewShape(places[0].Polygons()...).RepresentativePoint(); ok {
		if id, ok := NewTier(admin.LevelCountry, countries).Find(pt); ok {
			return id, true
		}
	}
	return countries[0].ID, true
}
