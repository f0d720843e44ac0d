package geom

import "gonum.org/v1/gonum/spatial/r3"

// Frame describes one layer: its resolution, its half extent in cells and
// the global index of the window center. The window covers
// [center-half, center+half] on each axis.
type Frame struct {
	conv   Convention
	res    float64
	half   Index
	size   Index
	center Index
}

// NewFrame creates a frame centered on index zero.
func NewFrame(c Convention, res float64, half Index) Frame {
	return Frame{
		conv: c,
		res:  res,
		half: half,
		size: Index{2*half.X + 1, 2*half.Y + 1, 2*half.Z + 1},
	}
}

func (f *Frame) Convention() Convention { return f.conv }
func (f *Frame) Resolution() float64    { return f.res }
func (f *Frame) Half() Index            { return f.half }
func (f *Frame) Size() Index            { return f.size }
func (f *Frame) Center() Index          { return f.center }

// Len is the number of storage slots.
func (f *Frame) Len() int {
	return f.size.X * f.size.Y * f.size.Z
}

// SetCenter moves the window. Only the sliding path calls it.
func (f *Frame) SetCenter(c Index) {
	f.center = c
}

// Index returns the global index of p whether or not it is in the window.
func (f *Frame) Index(p r3.Vec) Index {
	return IndexOf(f.conv, p, f.res)
}

// ToIndex returns the global index of p and false when p is outside the
// window or has a non-finite coordinate.
func (f *Frame) ToIndex(p r3.Vec) (Index, bool) {
	if !Finite(p) {
		return Index{}, false
	}
	i := f.Index(p)
	return i, f.InWindow(i)
}

// ToWorld returns the center of cell i.
func (f *Frame) ToWorld(i Index) r3.Vec {
	return WorldOf(f.conv, i, f.res)
}

// InWindow reports whether i lies inside the current window. The bounds
// are compared directly so that extreme indices, such as those produced by
// flooring a NaN, cannot wrap around.
func (f *Frame) InWindow(i Index) bool {
	c, h := f.center, f.half
	return i.X >= c.X-h.X && i.X <= c.X+h.X &&
		i.Y >= c.Y-h.Y && i.Y <= c.Y+h.Y &&
		i.Z >= c.Z-h.Z && i.Z <= c.Z+h.Z
}

// Box is the window as an index box.
func (f *Frame) Box() Box {
	return BoxAround(f.center, f.half)
}

// WindowOrigin is the world position of the window's center cell.
func (f *Frame) WindowOrigin() r3.Vec {
	return f.ToWorld(f.center)
}

// Addr returns the torus storage slot of i. The caller must check
// InWindow first; out-of-window indices alias in-window slots.
func (f *Frame) Addr(i Index) int {
	return mod(i.X, f.size.X) + f.size.X*(mod(i.Y, f.size.Y)+f.size.Y*mod(i.Z, f.size.Z))
}

// IndexOf is the inverse of Addr for the current window.
func (f *Frame) IndexOf(addr int) Index {
	sx := addr % f.size.X
	sy := (addr / f.size.X) % f.size.Y
	sz := addr / (f.size.X * f.size.Y)
	return Index{
		X: f.unwrap(sx, f.center.X, f.half.X, f.size.X),
		Y: f.unwrap(sy, f.center.Y, f.half.Y, f.size.Y),
		Z: f.unwrap(sz, f.center.Z, f.half.Z, f.size.Z),
	}
}

func (f *Frame) unwrap(slot, c, h, n int) int {
	lo := c - h
	return lo + mod(slot-lo, n)
}
