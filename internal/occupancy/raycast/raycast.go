// Package raycast walks the cells crossed by a ray segment.
//
// The walk is the Amanatides-Woo 3D DDA in grid units, where a world
// coordinate x maps to u = x/res + shift and the cell index is floor(u).
package raycast

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/slidemap/internal/occupancy/geom"
)

// Walk visits every cell crossed by the segment from -> to, starting with
// the cell containing from and ending with the cell containing to. last is
// true only for the final cell. Returning false from visit stops the walk.
// Consecutive cells always share a face.
func Walk(from, to r3.Vec, res, shift float64, visit func(idx geom.Index, last bool) bool) {
	u0 := [3]float64{from.X/res + shift, from.Y/res + shift, from.Z/res + shift}
	u1 := [3]float64{to.X/res + shift, to.Y/res + shift, to.Z/res + shift}

	var cur, end, step [3]int
	var tMax, tDelta [3]float64
	n := 0
	for a := 0; a < 3; a++ {
		cur[a] = int(math.Floor(u0[a]))
		end[a] = int(math.Floor(u1[a]))
		d := u1[a] - u0[a]
		switch {
		case end[a] > cur[a]:
			step[a] = 1
			tMax[a] = (float64(cur[a]) + 1 - u0[a]) / d
			tDelta[a] = 1 / d
		case end[a] < cur[a]:
			step[a] = -1
			tMax[a] = (u0[a] - float64(cur[a])) / -d
			tDelta[a] = -1 / d
		default:
			tMax[a] = math.Inf(1)
			tDelta[a] = math.Inf(1)
		}
		n += absInt(end[a] - cur[a])
	}

	for k := 0; k < n; k++ {
		if !visit(geom.Index{X: cur[0], Y: cur[1], Z: cur[2]}, false) {
			return
		}
		// Only axes that have not reached the end cell may advance.
		a := -1
		for b := 0; b < 3; b++ {
			if cur[b] == end[b] {
				continue
			}
			if a < 0 || tMax[b] < tMax[a] {
				a = b
			}
		}
		cur[a] += step[a]
		tMax[a] += tDelta[a]
	}
	visit(geom.Index{X: end[0], Y: end[1], Z: end[2]}, true)
}

// ClipToBox shortens the segment origin -> end so it stays inside the
// axis-aligned box [lo, hi]. origin must be inside the box. The clipped end
// is pulled slightly inside the exit face so it indexes a cell inside the
// box. clipped reports whether end moved.
func ClipToBox(origin, end, lo, hi r3.Vec) (r3.Vec, bool) {
	d := r3.Sub(end, origin)
	t := 1.0
	o := [3]float64{origin.X, origin.Y, origin.Z}
	dd := [3]float64{d.X, d.Y, d.Z}
	l := [3]float64{lo.X, lo.Y, lo.Z}
	h := [3]float64{hi.X, hi.Y, hi.Z}
	for a := 0; a < 3; a++ {
		switch {
		case dd[a] > 0:
			t = math.Min(t, (h[a]-o[a])/dd[a])
		case dd[a] < 0:
			t = math.Min(t, (l[a]-o[a])/dd[a])
		}
	}
	if t >= 1 {
		return end, false
	}
	if t < 0 {
		t = 0
	}
	const inset = 1e-6
	return r3.Add(origin, r3.Scale(t*(1-inset), d)), true
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
