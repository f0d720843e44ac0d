package geom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// Convention fixes where a cell sits relative to its index. It is chosen
// once when the map is built and shared by both layers.
type Convention interface {
	// Name is the configuration spelling of the convention.
	Name() string
	// Shift is added to x/res before flooring to obtain an index. Ray
	// traversal works in these shifted grid units.
	Shift() float64
	// ToIndex maps a coordinate to its cell index at resolution res.
	ToIndex(x, res float64) int
	// ToWorld maps an index to its cell center.
	ToWorld(i int, res float64) float64
	// Coarsen maps a fine index to the coarse cell containing it.
	Coarsen(i, ratio int) int
	// Footprint returns the inclusive range of fine indices inside coarse
	// cell j.
	Footprint(j, ratio int) (lo, hi int)
	// Ratio adjusts an inflation ratio to one the convention can nest.
	Ratio(ratio int) int
	// PlaneIndex converts a virtual plane height to an inflation index.
	PlaneIndex(h, infRes float64, step int, ceiling bool) int
}

var (
	// Corner places the origin on a cell corner: cell i spans [i·r, (i+1)·r).
	Corner Convention = corner{}
	// Center places the origin on a cell center: cell i spans [(i-½)·r, (i+½)·r).
	Center Convention = center{}
)

// ParseConvention resolves the index_convention configuration value.
func ParseConvention(name string) (Convention, error) {
	switch name {
	case "corner":
		return Corner, nil
	case "center":
		return Center, nil
	case "":
		return nil, fmt.Errorf("index convention not set")
	default:
		return nil, fmt.Errorf("unknown index convention %q", name)
	}
}

type corner struct{}

func (corner) Name() string   { return "corner" }
func (corner) Shift() float64 { return 0 }

func (corner) ToIndex(x, res float64) int {
	return int(math.Floor(x / res))
}

func (corner) ToWorld(i int, res float64) float64 {
	return (float64(i) + 0.5) * res
}

func (corner) Coarsen(i, ratio int) int {
	return floorDiv(i, ratio)
}

func (corner) Footprint(j, ratio int) (int, int) {
	return j * ratio, j*ratio + ratio - 1
}

func (corner) Ratio(ratio int) int { return ratio }

// The plane cell is pulled inward by the inflation step so the inflated
// plane lands on the requested height.
func (corner) PlaneIndex(h, infRes float64, step int, ceiling bool) int {
	id := int(math.Floor(h / infRes))
	if ceiling {
		return id - step
	}
	return id + step
}

type center struct{}

func (center) Name() string   { return "center" }
func (center) Shift() float64 { return 0.5 }

func (center) ToIndex(x, res float64) int {
	return int(math.Floor(x/res + 0.5))
}

func (center) ToWorld(i int, res float64) float64 {
	return float64(i) * res
}

// Coarsen rounds i/ratio to the nearest integer; ratio is odd.
func (center) Coarsen(i, ratio int) int {
	return floorDiv(2*i+ratio, 2*ratio)
}

func (center) Footprint(j, ratio int) (int, int) {
	h := (ratio - 1) / 2
	return j*ratio - h, j*ratio + h
}

// Ratio bumps an even ratio to the next odd value so coarse cell centers
// coincide with fine cell centers.
func (center) Ratio(ratio int) int {
	if ratio%2 == 0 {
		return ratio + 1
	}
	return ratio
}

func (center) PlaneIndex(h, infRes float64, _ int, _ bool) int {
	sign := 1.0
	if h < 0 {
		sign = -1.0
	}
	return int(h/infRes + sign*0.5)
}

// LowerFace is the coordinate of the low face of cell i.
func LowerFace(c Convention, i int, res float64) float64 {
	return (float64(i) - c.Shift()) * res
}

// UpperFace is the coordinate of the high face of cell i.
func UpperFace(c Convention, i int, res float64) float64 {
	return (float64(i) + 1 - c.Shift()) * res
}

// IndexOf maps a world point to its global index at resolution res.
func IndexOf(c Convention, p r3.Vec, res float64) Index {
	return Index{c.ToIndex(p.X, res), c.ToIndex(p.Y, res), c.ToIndex(p.Z, res)}
}

// Finite reports whether every coordinate of p is a real number.
func Finite(p r3.Vec) bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) &&
		!math.IsNaN(p.Y) && !math.IsInf(p.Y, 0) &&
		!math.IsNaN(p.Z) && !math.IsInf(p.Z, 0)
}

// WorldOf returns the center of cell i.
func WorldOf(c Convention, i Index, res float64) r3.Vec {
	return r3.Vec{X: c.ToWorld(i.X, res), Y: c.ToWorld(i.Y, res), Z: c.ToWorld(i.Z, res)}
}

// CoarsenIndex maps a fine index to the coarse layer.
func CoarsenIndex(c Convention, i Index, ratio int) Index {
	return Index{c.Coarsen(i.X, ratio), c.Coarsen(i.Y, ratio), c.Coarsen(i.Z, ratio)}
}

// FootprintBox returns the fine cells covered by coarse cell j.
func FootprintBox(c Convention, j Index, ratio int) Box {
	var b Box
	b.Min.X, b.Max.X = c.Footprint(j.X, ratio)
	b.Min.Y, b.Max.Y = c.Footprint(j.Y, ratio)
	b.Min.Z, b.Max.Z = c.Footprint(j.Z, ratio)
	return b
}
