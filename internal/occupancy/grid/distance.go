package grid

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/slidemap/internal/monitoring"
	"github.com/banshee-data/slidemap/internal/occupancy/geom"
)

// refreshField recomputes the distance field when an occupied inflation
// cell inside its box changed, or when the robot moved to another
// inflation cell. The transform runs into the back buffer under the read
// lock's snapshot of the occupancy and is swapped in under the write lock.
// Producer only.
func (m *Map) refreshField() {
	if m.field == nil {
		return
	}
	center := m.inf.Center()
	if m.hasPose {
		center = m.inf.Index(m.robot)
	}
	box := geom.BoxAround(center, m.p.ESDFHalf)

	// prob, inf and the counters only change under the producer lock,
	// which the caller holds, so reading them here needs no grid lock.
	if !m.esdfDirty && m.field.Valid() && m.field.Box() == box {
		return
	}
	start := time.Now()
	back := m.fieldBack
	back.Reset(box)
	if cap(m.esdfMask) < back.Len() {
		m.esdfMask = make([]bool, back.Len())
	}
	mask := m.esdfMask[:back.Len()]
	k := 0
	box.Each(func(j geom.Index) {
		mask[k] = m.inf.InWindow(j) && m.infState(j) == StateOccupied
		k++
	})
	if err := back.Compute(mask); err != nil {
		monitoring.Warnf("[SlidingMap] distance field: %v", err)
		return
	}

	m.mu.Lock()
	m.field, m.fieldBack = back, m.field
	m.esdfDirty = false
	m.stats.LastESDFMicros = time.Since(start).Microseconds()
	m.mu.Unlock()
}

// DistanceAt returns the signed distance in meters from p to the nearest
// occupied inflation cell. It is false when distance fields are disabled
// or p is outside the field's box. With no obstacle in the box the
// distance is +Inf.
func (m *Map) DistanceAt(p r3.Vec) (float64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&View{m: m}).DistanceAt(p)
}

// GradientAt returns the gradient of the distance field at p.
func (m *Map) GradientAt(p r3.Vec) (r3.Vec, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return (&View{m: m}).GradientAt(p)
}

// DistanceAt returns the signed distance at p.
func (v *View) DistanceAt(p r3.Vec) (float64, bool) {
	if v.m.field == nil {
		return 0, false
	}
	j, ok := v.m.inf.ToIndex(p)
	if !ok {
		return 0, false
	}
	return v.m.field.At(j)
}

// GradientAt returns the distance gradient at p.
func (v *View) GradientAt(p r3.Vec) (r3.Vec, bool) {
	if v.m.field == nil {
		return r3.Vec{}, false
	}
	j, ok := v.m.inf.ToIndex(p)
	if !ok {
		return r3.Vec{}, false
	}
	return v.m.field.Gradient(j)
}
