// Package geom maps between world coordinates and the integer cell indices
// of the map layers.
//
// Indices are global: a cell keeps its index as the window slides. Each layer
// is described by a Frame holding its resolution, half extent and window
// center. Storage for a layer is a fixed torus addressed with Frame.Addr, so
// re-centering the window never moves memory.
package geom

// Index is a global signed cell index in one layer's frame.
type Index struct {
	X, Y, Z int
}

// Add returns i + o.
func (i Index) Add(o Index) Index {
	return Index{i.X + o.X, i.Y + o.Y, i.Z + o.Z}
}

// Sub returns i - o.
func (i Index) Sub(o Index) Index {
	return Index{i.X - o.X, i.Y - o.Y, i.Z - o.Z}
}

// Scale multiplies every component by k.
func (i Index) Scale(k int) Index {
	return Index{i.X * k, i.Y * k, i.Z * k}
}

// Norm2 is the squared Euclidean norm.
func (i Index) Norm2() int {
	return i.X*i.X + i.Y*i.Y + i.Z*i.Z
}

// Splat returns an Index with all components set to v.
func Splat(v int) Index {
	return Index{v, v, v}
}

// floorDiv divides rounding toward negative infinity.
func floorDiv(a, b int) int {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

// mod returns a mod n in [0, n).
func mod(a, n int) int {
	m := a % n
	if m < 0 {
		m += n
	}
	return m
}
