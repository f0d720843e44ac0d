package geom

// Box is an inclusive axis-aligned range of indices. A box with any
// Max component below its Min component is empty.
type Box struct {
	Min, Max Index
}

// BoxAround returns the box of half extent half centered on c.
func BoxAround(c, half Index) Box {
	return Box{Min: c.Sub(half), Max: c.Add(half)}
}

// Empty reports whether the box holds no cells.
func (b Box) Empty() bool {
	return b.Max.X < b.Min.X || b.Max.Y < b.Min.Y || b.Max.Z < b.Min.Z
}

// Volume is the number of cells in the box.
func (b Box) Volume() int {
	if b.Empty() {
		return 0
	}
	return (b.Max.X - b.Min.X + 1) * (b.Max.Y - b.Min.Y + 1) * (b.Max.Z - b.Min.Z + 1)
}

// Contains reports whether i lies inside the box.
func (b Box) Contains(i Index) bool {
	return i.X >= b.Min.X && i.X <= b.Max.X &&
		i.Y >= b.Min.Y && i.Y <= b.Max.Y &&
		i.Z >= b.Min.Z && i.Z <= b.Max.Z
}

// Intersect returns the overlap of two boxes, possibly empty.
func (b Box) Intersect(o Box) Box {
	return Box{
		Min: Index{max(b.Min.X, o.Min.X), max(b.Min.Y, o.Min.Y), max(b.Min.Z, o.Min.Z)},
		Max: Index{min(b.Max.X, o.Max.X), min(b.Max.Y, o.Max.Y), min(b.Max.Z, o.Max.Z)},
	}
}

// Dilate grows the box by n cells on every side.
func (b Box) Dilate(n int) Box {
	return Box{Min: b.Min.Sub(Splat(n)), Max: b.Max.Add(Splat(n))}
}

// Subtract returns disjoint boxes covering the cells of b that are not in o.
// At most six slabs are produced: two per axis, peeled X first.
func (b Box) Subtract(o Box) []Box {
	if b.Empty() {
		return nil
	}
	inter := b.Intersect(o)
	if inter.Empty() {
		return []Box{b}
	}
	var out []Box
	rest := b
	if rest.Min.X < inter.Min.X {
		out = append(out, Box{Min: rest.Min, Max: Index{inter.Min.X - 1, rest.Max.Y, rest.Max.Z}})
		rest.Min.X = inter.Min.X
	}
	if rest.Max.X > inter.Max.X {
		out = append(out, Box{Min: Index{inter.Max.X + 1, rest.Min.Y, rest.Min.Z}, Max: rest.Max})
		rest.Max.X = inter.Max.X
	}
	if rest.Min.Y < inter.Min.Y {
		out = append(out, Box{Min: rest.Min, Max: Index{rest.Max.X, inter.Min.Y - 1, rest.Max.Z}})
		rest.Min.Y = inter.Min.Y
	}
	if rest.Max.Y > inter.Max.Y {
		out = append(out, Box{Min: Index{rest.Min.X, inter.Max.Y + 1, rest.Min.Z}, Max: rest.Max})
		rest.Max.Y = inter.Max.Y
	}
	if rest.Min.Z < inter.Min.Z {
		out = append(out, Box{Min: rest.Min, Max: Index{rest.Max.X, rest.Max.Y, inter.Min.Z - 1}})
		rest.Min.Z = inter.Min.Z
	}
	if rest.Max.Z > inter.Max.Z {
		out = append(out, Box{Min: Index{rest.Min.X, rest.Min.Y, inter.Max.Z + 1}, Max: rest.Max})
	}
	return out
}

// Each calls fn for every index in the box, Z outermost.
func (b Box) Each(fn func(Index)) {
	if b.Empty() {
		return
	}
	var i Index
	for i.Z = b.Min.Z; i.Z <= b.Max.Z; i.Z++ {
		for i.Y = b.Min.Y; i.Y <= b.Max.Y; i.Y++ {
			for i.X = b.Min.X; i.X <= b.Max.X; i.X++ {
				fn(i)
			}
		}
	}
}

// Coarsen maps the box to the coarser layer. Coarsening is monotone per
// axis, so the result covers exactly the coarse cells touched by b.
func (b Box) Coarsen(c Convention, ratio int) Box {
	if b.Empty() {
		return b
	}
	return Box{Min: CoarsenIndex(c, b.Min, ratio), Max: CoarsenIndex(c, b.Max, ratio)}
}
