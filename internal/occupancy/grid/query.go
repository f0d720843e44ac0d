package grid

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/slidemap/internal/occupancy/geom"
)

// View answers queries against one consistent map state. It is only valid
// inside the callback passed to Map.View.
type View struct {
	m *Map
}

// View runs fn with the read lock held, so every query made through v sees
// the same commit and window position.
func (m *Map) View(fn func(v *View)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(&View{m: m})
}

// IsOccupied reports the inflation-layer state at p.
func (m *Map) IsOccupied(p r3.Vec) Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&View{m: m}).IsOccupied(p)
}

// ProbState reports the probability-layer state at p.
func (m *Map) ProbState(p r3.Vec) Result {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&View{m: m}).ProbState(p)
}

// NearestFeasible returns the closest probability cell center within
// maxRadius of p whose inflation state is FREE.
func (m *Map) NearestFeasible(p r3.Vec, maxRadius float64) (r3.Vec, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&View{m: m}).NearestFeasible(p, maxRadius)
}

// FrontierCells returns the world positions of the current frontier
// candidates. It is nil when frontier extraction is disabled.
func (m *Map) FrontierCells() []r3.Vec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&View{m: m}).FrontierCells()
}

// Epoch is the window epoch of the view.
func (v *View) Epoch() uint64 { return v.m.epoch }

// IsOccupied reports the inflation-layer state at p.
func (v *View) IsOccupied(p r3.Vec) Result {
	j, ok := v.m.inf.ToIndex(p)
	if !ok {
		return Result{State: StateOutOfWindow, Epoch: v.m.epoch}
	}
	return Result{State: v.m.infState(j), Epoch: v.m.epoch}
}

// ProbState reports the probability-layer state at p.
func (v *View) ProbState(p r3.Vec) Result {
	i, ok := v.m.prob.ToIndex(p)
	if !ok {
		return Result{State: StateOutOfWindow, Epoch: v.m.epoch}
	}
	return Result{State: v.m.probState(v.m.logOdds[v.m.prob.Addr(i)]), Epoch: v.m.epoch}
}

// LogOdds returns the raw log-odds at p.
func (v *View) LogOdds(p r3.Vec) (float32, bool) {
	i, ok := v.m.prob.ToIndex(p)
	if !ok {
		return 0, false
	}
	return v.m.logOdds[v.m.prob.Addr(i)], true
}

// NearestFeasible walks the search offsets in ascending distance and
// returns the first in-window probability cell center whose inflation cell
// is FREE.
func (v *View) NearestFeasible(p r3.Vec, maxRadius float64) (r3.Vec, bool) {
	m := v.m
	if !geom.Finite(p) {
		return r3.Vec{}, false
	}
	res := m.p.Resolution
	limit := maxRadius / res
	limit2 := limit * limit
	c := m.prob.Index(p)
	for _, o := range m.p.SearchOffsets {
		if float64(o.Norm2()) > limit2 {
			break
		}
		i := c.Add(o)
		if !m.prob.InWindow(i) {
			continue
		}
		w := m.prob.ToWorld(i)
		j, ok := m.inf.ToIndex(w)
		if !ok {
			continue
		}
		if m.infState(j) == StateFree {
			return w, true
		}
	}
	return r3.Vec{}, false
}

// FrontierCells returns the world positions of the frontier candidates.
func (v *View) FrontierCells() []r3.Vec {
	m := v.m
	if !m.p.Frontier {
		return nil
	}
	out := make([]r3.Vec, 0, len(m.frontier))
	for addr := range m.frontier {
		out = append(out, m.prob.ToWorld(m.prob.IndexOf(addr)))
	}
	return out
}

// WindowOrigin returns the world position of the probability window
// center.
func (v *View) WindowOrigin() r3.Vec {
	return v.m.prob.WindowOrigin()
}

// InflationSlice returns the inflation states of the XY plane containing
// height z, row-major from the window's min corner, with its box.
func (v *View) InflationSlice(z float64) ([]State, geom.Box) {
	m := v.m
	box := m.inf.Box()
	box.Min.Z = m.inf.Index(r3.Vec{Z: z}).Z
	box.Max.Z = box.Min.Z
	out := make([]State, 0, box.Volume())
	box.Each(func(j geom.Index) {
		if !m.inf.InWindow(j) {
			out = append(out, StateOutOfWindow)
			return
		}
		out = append(out, m.infState(j))
	})
	return out, box
}

// InflationResolution is the edge length of an inflation cell.
func (v *View) InflationResolution() float64 {
	return v.m.p.InflationResolution
}

// InflationCenter returns the world position of inflation cell j.
func (v *View) InflationCenter(j geom.Index) r3.Vec {
	return v.m.inf.ToWorld(j)
}
