// Package esdf computes a signed Euclidean distance field over a bounded
// box of grid cells.
//
// The transform is the separable exact squared EDT of Felzenszwalb and
// Huttenlocher: a 1D lower envelope of parabolas along X, then Y, then Z.
// Cost is linear in the box volume.
package esdf

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/slidemap/internal/occupancy/geom"
)

// inf stands in for infinity inside the transform; it must survive
// squaring of in-box distances without overflow.
const inf = 1e20

// Field is a signed distance field in meters. Free cells hold the distance
// to the nearest occupied cell; occupied cells hold minus the distance to
// the nearest free cell. A Field is not safe for concurrent use; the map
// swaps whole fields under its lock.
type Field struct {
	box   geom.Box
	res   float64
	nx    int
	ny    int
	nz    int
	dist  []float64
	valid bool

	// scratch
	out, in []float64
	f, d, z  []float64
	v        []int
}

// NewField allocates a field over box with cell size res.
func NewField(box geom.Box, res float64) *Field {
	f := &Field{res: res}
	f.Reset(box)
	return f
}

// Reset moves the field to box and invalidates it. Buffers are reused when
// the box size is unchanged.
func (f *Field) Reset(box geom.Box) {
	f.box = box
	f.valid = false
	nx := box.Max.X - box.Min.X + 1
	ny := box.Max.Y - box.Min.Y + 1
	nz := box.Max.Z - box.Min.Z + 1
	if nx == f.nx && ny == f.ny && nz == f.nz && f.dist != nil {
		return
	}
	f.nx, f.ny, f.nz = nx, ny, nz
	n := box.Volume()
	f.dist = make([]float64, n)
	f.out = make([]float64, n)
	f.in = make([]float64, n)
	m := max(nx, ny, nz)
	f.f = make([]float64, m)
	f.d = make([]float64, m)
	f.z = make([]float64, m+1)
	f.v = make([]int, m)
}

// Box is the index box the field covers.
func (f *Field) Box() geom.Box { return f.box }

// Len is the number of cells in the box.
func (f *Field) Len() int { return len(f.dist) }

// Valid reports whether Compute has run since the last Reset.
func (f *Field) Valid() bool { return f.valid }

// Offset returns the position of j in box order (X fastest).
func (f *Field) Offset(j geom.Index) int {
	return (j.X - f.box.Min.X) + f.nx*((j.Y-f.box.Min.Y)+f.ny*(j.Z-f.box.Min.Z))
}

// Compute fills the field from an occupancy mask in box order.
func (f *Field) Compute(occupied []bool) error {
	if len(occupied) != len(f.dist) {
		return fmt.Errorf("occupancy mask has %d cells, field has %d", len(occupied), len(f.dist))
	}
	for k, occ := range occupied {
		if occ {
			f.out[k], f.in[k] = 0, inf
		} else {
			f.out[k], f.in[k] = inf, 0
		}
	}
	f.transform(f.out)
	f.transform(f.in)
	for k := range f.dist {
		f.dist[k] = (root(f.out[k]) - root(f.in[k])) * f.res
	}
	f.valid = true
	return nil
}

func root(sq float64) float64 {
	if sq >= inf/2 {
		return math.Inf(1)
	}
	return math.Sqrt(sq)
}

// transform replaces g with its squared distance transform, one axis at a
// time.
func (f *Field) transform(g []float64) {
	nx, ny, nz := f.nx, f.ny, f.nz
	for z := 0; z < nz; z++ {
		for y := 0; y < ny; y++ {
			f.line(g, (y+ny*z)*nx, 1, nx)
		}
	}
	for z := 0; z < nz; z++ {
		for x := 0; x < nx; x++ {
			f.line(g, x+nx*ny*z, nx, ny)
		}
	}
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			f.line(g, x+nx*y, nx*ny, nz)
		}
	}
}

// line runs the 1D transform over n samples of g starting at base with the
// given stride.
func (f *Field) line(g []float64, base, stride, n int) {
	for q := 0; q < n; q++ {
		f.f[q] = g[base+q*stride]
	}
	edt1d(f.f[:n], f.d[:n], f.v[:n], f.z[:n+1])
	for q := 0; q < n; q++ {
		g[base+q*stride] = f.d[q]
	}
}

// edt1d computes d[q] = min_p (q-p)² + fn[p] via the lower envelope of
// parabolas rooted at each sample.
func edt1d(fn, d []float64, v []int, z []float64) {
	n := len(fn)
	if n == 0 {
		return
	}
	k := 0
	v[0] = 0
	z[0] = math.Inf(-1)
	z[1] = math.Inf(1)
	for q := 1; q < n; q++ {
		s := intersect(fn, q, v[k])
		// z[0] is -Inf, so k never drops below zero.
		for s <= z[k] {
			k--
			s = intersect(fn, q, v[k])
		}
		k++
		v[k] = q
		z[k] = s
		z[k+1] = math.Inf(1)
	}
	k = 0
	for q := 0; q < n; q++ {
		for k+1 < n && z[k+1] < float64(q) {
			k++
		}
		dq := float64(q - v[k])
		d[q] = dq*dq + fn[v[k]]
	}
}

// intersect is the abscissa where the parabolas rooted at q and p meet.
func intersect(fn []float64, q, p int) float64 {
	return ((fn[q] + float64(q*q)) - (fn[p] + float64(p*p))) / float64(2*q-2*p)
}

// At returns the signed distance at inflation cell j, false outside the
// box or before the first Compute.
func (f *Field) At(j geom.Index) (float64, bool) {
	if !f.valid || !f.box.Contains(j) {
		return 0, false
	}
	return f.dist[f.Offset(j)], true
}

// Gradient returns the distance gradient at j by central differences,
// one-sided at the box faces. It is false where the field or a
// neighbouring sample is undefined or infinite.
func (f *Field) Gradient(j geom.Index) (r3.Vec, bool) {
	if !f.valid || !f.box.Contains(j) {
		return r3.Vec{}, false
	}
	var g [3]float64
	axes := [3]geom.Index{{X: 1}, {Y: 1}, {Z: 1}}
	for a, step := range axes {
		lo, hi := j.Sub(step), j.Add(step)
		span := 2.0
		if !f.box.Contains(lo) {
			lo, span = j, 1
		}
		if !f.box.Contains(hi) {
			hi, span = j, span-1
		}
		if span == 0 {
			continue
		}
		dl, dh := f.dist[f.Offset(lo)], f.dist[f.Offset(hi)]
		if math.IsInf(dl, 0) || math.IsInf(dh, 0) {
			return r3.Vec{}, false
		}
		g[a] = (dh - dl) / (span * f.res)
	}
	return r3.Vec{X: g[0], Y: g[1], Z: g[2]}, true
}
