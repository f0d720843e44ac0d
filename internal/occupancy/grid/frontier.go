package grid

import "github.com/banshee-data/slidemap/internal/occupancy/geom"

var faceNeighbours = [6]geom.Index{
	{X: 1}, {X: -1},
	{Y: 1}, {Y: -1},
	{Z: 1}, {Z: -1},
}

// applyFrontierChange keeps the unknown-neighbour counts and the candidate
// set current after probability cell i moved from old to cur. Callers hold
// mu.
func (m *Map) applyFrontierChange(i geom.Index, old, cur State) {
	var d int
	switch {
	case old == StateUnknown && cur != StateUnknown:
		d = -1
	case old != StateUnknown && cur == StateUnknown:
		d = 1
	}
	if d != 0 {
		for _, o := range faceNeighbours {
			n := i.Add(o)
			if !m.prob.InWindow(n) {
				continue
			}
			a := m.prob.Addr(n)
			m.frontierCnt[a] = uint8(int(m.frontierCnt[a]) + d)
			m.refreshCandidate(a)
		}
	}
	m.refreshCandidate(m.prob.Addr(i))
}

// refreshCandidate puts slot a in the frontier set iff it is FREE with at
// least one unknown face neighbour.
func (m *Map) refreshCandidate(a int) {
	if m.frontierCnt[a] > 0 && m.probState(m.logOdds[a]) == StateFree {
		m.frontier[a] = struct{}{}
		return
	}
	delete(m.frontier, a)
}

// recountFrontier recomputes the counts and candidate membership of every
// in-window probability cell in box.
func (m *Map) recountFrontier(box geom.Box) {
	box = box.Intersect(m.prob.Box())
	box.Each(func(i geom.Index) {
		var n uint8
		for _, o := range faceNeighbours {
			nb := i.Add(o)
			if m.prob.InWindow(nb) && m.probState(m.logOdds[m.prob.Addr(nb)]) == StateUnknown {
				n++
			}
		}
		a := m.prob.Addr(i)
		m.frontierCnt[a] = n
		m.refreshCandidate(a)
	})
}
