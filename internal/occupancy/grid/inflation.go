package grid

import (
	"github.com/banshee-data/slidemap/internal/occupancy/geom"
)

// infState resolves an in-window inflation cell. Virtual planes win, then
// inflated occupancy, then inflated unknown space.
func (m *Map) infState(j geom.Index) State {
	if m.p.InflatedByPlane(j.Z) {
		return StateOccupied
	}
	a := m.inf.Addr(j)
	if m.occInf[a] > 0 {
		return StateOccupied
	}
	if m.p.UnkInflation && m.unkInf[a] > 0 {
		return StateUnknown
	}
	return StateFree
}

// applySourceChange updates the inflation counters after probability cell
// i moved from state old to state cur. Callers hold mu.
func (m *Map) applySourceChange(i geom.Index, old, cur State) {
	j := geom.CoarsenIndex(m.p.Convention, i, m.p.Ratio)
	a := m.inf.Addr(j)

	if old == StateOccupied {
		m.occSrc[a]--
		if m.occSrc[a] == 0 {
			m.propagate(j, m.p.InfOffsets, m.occInf, -1, true)
		}
	}
	if cur == StateOccupied {
		m.occSrc[a]++
		if m.occSrc[a] == 1 {
			m.propagate(j, m.p.InfOffsets, m.occInf, 1, true)
		}
	}
	if !m.p.UnkInflation {
		return
	}
	if old == StateUnknown {
		m.unkSrc[a]--
		if m.unkSrc[a] == 0 {
			m.propagate(j, m.p.UnkOffsets, m.unkInf, -1, false)
		}
	}
	if cur == StateUnknown {
		m.unkSrc[a]++
		if m.unkSrc[a] == 1 {
			m.propagate(j, m.p.UnkOffsets, m.unkInf, 1, false)
		}
	}
}

// propagate adds d to the inflated counter of every in-window neighbour of
// source j, nearest first. When occ is set, a neighbour crossing zero marks
// the distance field dirty if it lies inside the field's box.
func (m *Map) propagate(j geom.Index, offsets []geom.Index, counter []int32, d int32, occ bool) {
	for _, o := range offsets {
		n := j.Add(o)
		if !m.inf.InWindow(n) {
			continue
		}
		a := m.inf.Addr(n)
		before := counter[a]
		counter[a] += d
		if occ && m.field != nil && (before == 0) != (counter[a] == 0) && m.field.Box().Contains(n) {
			m.esdfDirty = true
		}
	}
}

// recountSource recomputes the source counts of every inflation cell in box
// from the probability cells of its footprint that are in the window.
func (m *Map) recountSource(box geom.Box) {
	box = box.Intersect(m.inf.Box())
	probBox := m.prob.Box()
	unk := m.p.UnkInflation
	box.Each(func(j geom.Index) {
		var occ, unknown int32
		fp := geom.FootprintBox(m.p.Convention, j, m.p.Ratio).Intersect(probBox)
		fp.Each(func(i geom.Index) {
			switch m.probState(m.logOdds[m.prob.Addr(i)]) {
			case StateOccupied:
				occ++
			case StateUnknown:
				unknown++
			}
		})
		a := m.inf.Addr(j)
		m.occSrc[a] = occ
		if unk {
			m.unkSrc[a] = unknown
		}
	})
}

// recountInflated recomputes the inflated counts of every inflation cell in
// box from the current source counts.
func (m *Map) recountInflated(box geom.Box) {
	box = box.Intersect(m.inf.Box())
	unk := m.p.UnkInflation
	box.Each(func(j geom.Index) {
		a := m.inf.Addr(j)
		m.occInf[a] = m.countSources(j, m.p.InfOffsets, m.occSrc)
		if unk {
			m.unkInf[a] = m.countSources(j, m.p.UnkOffsets, m.unkSrc)
		}
	})
}

func (m *Map) countSources(j geom.Index, offsets []geom.Index, src []int32) int32 {
	var n int32
	for _, o := range offsets {
		s := j.Add(o)
		if m.inf.InWindow(s) && src[m.inf.Addr(s)] > 0 {
			n++
		}
	}
	return n
}
