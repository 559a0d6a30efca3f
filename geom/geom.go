// Package geom provides the small set of geometry operations the tile engine
// needs, over orb polygons in lon/lat.
package geom

import (
	"math"
	"sort"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geo"
	"github.com/paulmach/orb/planar"
)

// Shape is a polygonal area made of one or more parts.
type Shape interface {
	Bound() orb.Bound
	// ContainsExclusive treats points on any edge, outer or hole, as outside.
	ContainsExclusive(orb.Point) bool
	// ContainsInclusive treats points on any edge, outer or hole, as inside.
	ContainsInclusive(orb.Point) bool
	// RepresentativePoint returns a point strictly inside some part.
	RepresentativePoint() (orb.Point, bool)
	// Area is the geodesic area in square meters.
	Area() float64
}

type shape struct {
	parts []orb.Polygon
	bound orb.Bound

	rpOnce sync.Once
	rp     orb.Point
	rpOK   bool
}

func NewShape(parts ...orb.Polygon) Shape {
	s := &shape{parts: parts}
	for i, p := range parts {
		if i == 0 {
			s.bound = p.Bound()
			continue
		}
		s.bound = s.bound.Union(p.Bound())
	}
	return s
}

func (s *shape) Bound() orb.Bound {
	return s.bound
}

func (s *shape) ContainsExclusive(pt orb.Point) bool {
	if !s.bound.Contains(pt) {
		return false
	}
	for _, p := range s.parts {
		if polygonContains(p, pt, false) {
			return true
		}
	}
	return false
}

func (s *shape) ContainsInclusive(pt orb.Point) bool {
	if !s.bound.Contains(pt) {
		return false
	}
	for _, p := range s.parts {
		if polygonContains(p, pt, true) {
			return true
		}
	}
	return false
}

func (s *shape) Area() float64 {
	var sum float64
	for _, p := range s.parts {
		sum += geo.Area(p)
	}
	return sum
}

func (s *shape) RepresentativePoint() (orb.Point, bool) {
	s.rpOnce.Do(func() {
		s.rp, s.rpOK = representativePoint(s.parts)
	})
	return s.rp, s.rpOK
}

// polygonContains runs an even-odd test on the outer ring and holes.
// Edges belong to the polygon when inclusive is set, otherwise to the outside.
func polygonContains(p orb.Polygon, pt orb.Point, inclusive bool) bool {
	if len(p) == 0 {
		return false
	}
	in, edge := ringContains(p[0], pt)
	if edge {
		return inclusive
	}
	if !in {
		return false
	}
	for _, hole := range p[1:] {
		in, edge := ringContains(hole, pt)
		if edge {
			return inclusive
		}
		if in {
			return false
		}
	}
	return true
}

// ringContains reports whether pt is strictly inside the ring, or on one of its edges.
// The ring may be open or closed.
func ringContains(r orb.Ring, pt orb.Point) (in bool, edge bool) {
	n := len(r)
	if n < 3 {
		return false, false
	}
	x, y := pt[0], pt[1]
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		a, b := r[i], r[j]
		if onSegment(pt, a, b) {
			return false, true
		}
		if (a[1] > y) != (b[1] > y) {
			xint := (b[0]-a[0])*(y-a[1])/(b[1]-a[1]) + a[0]
			if x < xint {
				in = !in
			}
		}
	}
	return in, false
}

func onSegment(p, a, b orb.Point) bool {
	cross := (b[0]-a[0])*(p[1]-a[1]) - (b[1]-a[1])*(p[0]-a[0])
	if cross != 0 {
		return false
	}
	return p[0] >= math.Min(a[0], b[0]) && p[0] <= math.Max(a[0], b[0]) &&
		p[1] >= math.Min(a[1], b[1]) && p[1] <= math.Max(a[1], b[1])
}

var scanFractions = []float64{0.5, 0.25, 0.75, 0.125, 0.375, 0.625, 0.875, 0.0625, 0.9375}

func representativePoint(parts []orb.Polygon) (orb.Point, bool) {
	if len(parts) == 0 {
		return orb.Point{}, false
	}
	c, area := planar.CentroidArea(orb.MultiPolygon(parts))
	if area != 0 {
		for _, p := range parts {
			if polygonContains(p, c, false) {
				return c, true
			}
		}
	}

	largest, largestArea := -1, -1.0
	for i, p := range parts {
		if len(p) == 0 {
			continue
		}
		if a := math.Abs(planar.Area(p)); a > largestArea {
			largest, largestArea = i, a
		}
	}
	if largest < 0 {
		return orb.Point{}, false
	}
	p := parts[largest]
	b := p.Bound()
	for _, f := range scanFractions {
		lat := b.Min[1] + f*(b.Max[1]-b.Min[1])
		if pt, ok := widestCrossing(p, lat); ok && polygonContains(p, pt, false) {
			return pt, true
		}
	}
	return orb.Point{}, false
}

// widestCrossing intersects the polygon with a horizontal line and returns
// the midpoint of the widest interior interval.
func widestCrossing(p orb.Polygon, lat float64) (orb.Point, bool) {
	var xs []float64
	for _, r := range p {
		n := len(r)
		for i, j := 0, n-1; i < n; j, i = i, i+1 {
			a, b := r[i], r[j]
			if (a[1] > lat) != (b[1] > lat) {
				xs = append(xs, (b[0]-a[0])*(lat-a[1])/(b[1]-a[1])+a[0])
			}
		}
	}
	if len(xs) < 2 {
		return orb.Point{}, false
	}
	sort.Float64s(xs)
	best, bestWidth := -1, 0.0
	for i := 0; i+1 < len(xs); i += 2 {
		if w := xs[i+1] - xs[i]; w > bestWidth {
			best, bestWidth = i, w
		}
	}
	if best < 0 {
		return orb.Point{}, false
	}
	return orb.Point{(xs[best] + xs[best+1]) / 2, lat}, true
}
