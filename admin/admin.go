// Package admin holds the administrative boundary data model:
// features as they come out of an OSM boundary export, grouped by level,
// and units (one id, possibly many geometry parts) within a level.
package admin

import (
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Level is an administrative level code, eg. 2 for countries,
// 4 for states or regions, 8 for municipalities.
type Level int

// LevelCountry is the level of national boundaries.
const LevelCountry Level = 2

func (l Level) String() string {
	return "L" + strconv.Itoa(int(l))
}

// KindRelation is the only accepted value of the @type marker.
const KindRelation = "relation"

const (
	PropKeyType  = "@type"
	PropKeyLevel = "admin_level"
)

var (
	ErrNotRelation      = errors.New("not a relation")
	ErrNotPolygonal     = errors.New("geometry is not a polygon or multipolygon")
	ErrLevelNotAccepted = errors.New("admin level not accepted")
	ErrMissingLevel     = errors.New("missing admin_level")
	ErrMissingID        = errors.New("missing numeric id (@id, osm_id, id)")
)

// Feature is one boundary polygon or multipolygon.
// It is immutable once ingested.
type Feature struct {
	ID         int64
	Level      Level
	Kind       string
	Geometry   orb.Geometry
	Properties geojson.Properties
}

// Polygons returns the polygonal parts of the feature geometry.
func (f *Feature) Polygons() []orb.Polygon {
	switch g := f.Geometry.(type) {
	case orb.Polygon:
		return []orb.Polygon{g}
	case orb.MultiPolygon:
		return []orb.Polygon(g)
	}
	return nil
}

// LevelSet is a set of accepted admin levels.
type LevelSet map[Level]struct{}

func NewLevelSet(levels ...Level) LevelSet {
	s := make(LevelSet, len(levels))
	for _, l := range levels {
		s[l] = struct{}{}
	}
	return s
}

func (s LevelSet) Has(l Level) bool {
	_, ok := s[l]
	return ok
}

// Sorted returns the levels in ascending order.
func (s LevelSet) Sorted() []Level {
	out := make([]Level, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	slices.Sort(out)
	return out
}

// FromGeoJSON converts a decoded GeoJSON feature into a Feature.
// Non-conforming features return one of the package errors,
// wrapped with detail, so callers can tally rejects by reason.
func FromGeoJSON(gf *geojson.Feature, accepted LevelSet) (*Feature, error) {
	if gf == nil || gf.Geometry == nil {
		return nil, ErrNotPolygonal
	}
	kind := gf.Properties.MustString(PropKeyType, "")
	if kind != KindRelation {
		return nil, fmt.Errorf("%w: %q", ErrNotRelation, kind)
	}
	switch gf.Geometry.(type) {
	case orb.Polygon, orb.MultiPolygon:
	default:
		return nil, fmt.Errorf("%w: %s", ErrNotPolygonal, gf.Geometry.GeoJSONType())
	}
	level, err := LevelFromProperties(gf.Properties)
	if err != nil {
		return nil, err
	}
	if accepted != nil && !accepted.Has(level) {
		return nil, fmt.Errorf("%w: %d", ErrLevelNotAccepted, level)
	}
	id, err := IDFromProperties(gf.Properties)
	if err != nil {
		return nil, err
	}
	return &Feature{
		ID:         id,
		Level:      level,
		Kind:       kind,
		Geometry:   gf.Geometry,
		Properties: gf.Properties,
	}, nil
}
