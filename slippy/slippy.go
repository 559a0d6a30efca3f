// Package slippy implements Web Mercator (XYZ) tile math at a fixed zoom.
package slippy

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MaxLatitude is the Web Mercator latitude limit.
const MaxLatitude = 85.0511287798

type Tile = maptile.Tile

func ClampLat(lat float64) float64 {
	return math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
}

func n(z int) float64 {
	return math.Exp2(float64(z))
}

func clampIndex(v float64, z int) uint32 {
	last := n(z) - 1
	if v < 0 {
		return 0
	}
	if v > last {
		return uint32(last)
	}
	return uint32(v)
}

// LonToX returns the tile column of a longitude.
// lon=180 would fall on column 2^z and is clamped into range.
func LonToX(lon float64, z int) uint32 {
	return clampIndex(math.Floor((lon+180)/360*n(z)), z)
}

// LatToY returns the tile row of a latitude, clamped to the Mercator limit first.
func LatToY(lat float64, z int) uint32 {
	r := ClampLat(lat) * math.Pi / 180
	y := (1 - math.Log(math.Tan(r)+1/math.Cos(r))/math.Pi) / 2 * n(z)
	return clampIndex(math.Floor(y), z)
}

// XToLon is the inverse of LonToX; fractional x addresses points inside a tile.
func XToLon(x float64, z int) float64 {
	return x/n(z)*360 - 180
}

// YToLat is the inverse of LatToY.
func YToLat(y float64, z int) float64 {
	return math.Atan(math.Sinh(math.Pi-2*math.Pi*y/n(z))) * 180 / math.Pi
}

// At returns the tile containing pt.
func At(pt orb.Point, z int) Tile {
	return Tile{X: LonToX(pt.Lon(), z), Y: LatToY(pt.Lat(), z), Z: maptile.Zoom(z)}
}

// Center returns the midpoint of a tile in lon/lat.
func Center(t Tile) orb.Point {
	z := int(t.Z)
	return orb.Point{XToLon(float64(t.X)+0.5, z), YToLat(float64(t.Y)+0.5, z)}
}

// Valid reports whether the tile indices are inside the zoom's grid.
func Valid(t Tile) bool {
	limit := uint64(1) << uint(t.Z)
	return uint64(t.X) < limit && uint64(t.Y) < limit
}

// Range is an inclusive rectangle of tiles at one zoom.
type Range struct {
	Z          int
	MinX, MaxX uint32
	MinY, MaxY uint32
}

// RangeOf returns the tiles covering a bound.
// Rows run from the north edge (MinY) to the south edge (MaxY).
func RangeOf(b orb.Bound, z int) Range {
	return Range{
		Z:    z,
		MinX: LonToX(b.Min.Lon(), z),
		MaxX: LonToX(b.Max.Lon(), z),
		MinY: LatToY(b.Max.Lat(), z),
		MaxY: LatToY(b.Min.Lat(), z),
	}
}

// Count is the number of tiles in the range.
func (r Range) Count() int {
	if r.MaxX < r.MinX || r.MaxY < r.MinY {
		return 0
	}
	return int(r.MaxX-r.MinX+1) * int(r.MaxY-r.MinY+1)
}

// Each calls fn for every tile, x ascending then y ascending,
// until fn returns false.
func (r Range) Each(fn func(Tile) bool) {
	for x := r.MinX; x <= r.MaxX; x++ {
		for y := r.MinY; y <= r.MaxY; y++ {
			if !fn(Tile{X: x, Y: y, Z: maptile.Zoom(r.Z)}) {
				return
			}
		}
	}
}

// ClampBound clamps the latitudes of a bound to the Mercator limit.
func ClampBound(b orb.Bound) orb.Bound {
	b.Min[1] = ClampLat(b.Min[1])
	b.Max[1] = ClampLat(b.Max[1])
	return b
}
