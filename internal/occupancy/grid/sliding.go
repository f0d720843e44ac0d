package grid

import (
	"math"
	"time"

	"github.com/banshee-data/slidemap/internal/monitoring"
	"github.com/banshee-data/slidemap/internal/occupancy/geom"
)

// UpdatePose records the latest sensor pose and re-centers the window on
// it when sliding is enabled and the pose has moved further than the
// sliding threshold from the window origin on any axis. A pose with a
// non-finite position is ignored.
func (m *Map) UpdatePose(pose Pose) {
	if !geom.Finite(pose.Position) {
		monitoring.Logf("[SlidingMap] ignoring pose with non-finite position %v", pose.Position)
		return
	}
	m.prodMu.Lock()
	defer m.prodMu.Unlock()

	m.robot = pose.Position
	m.hasPose = true
	m.lastPoseTime = pose.Time

	m.mu.Lock()
	m.stale = false
	m.lastPoseWall = m.clock.Now()
	m.mu.Unlock()

	if m.p.Sliding {
		o := m.prob.WindowOrigin()
		th := m.p.SlidingThreshold
		if math.Abs(pose.Position.X-o.X) > th ||
			math.Abs(pose.Position.Y-o.Y) > th ||
			math.Abs(pose.Position.Z-o.Z) > th {
			// Pending batch slots refer to the old window.
			m.commit()
			m.slide(m.prob.Index(pose.Position))
		}
	}
	m.refreshField()
}

// slide moves both windows so the probability window is centered on c.
// Storage never moves: slots of cells entering the window are reset, and
// derived counters are recomputed over the slabs swept by the move.
func (m *Map) slide(c geom.Index) {
	start := time.Now()
	p := m.p

	m.mu.Lock()
	defer m.mu.Unlock()

	oldProb, oldInf := m.prob.Box(), m.inf.Box()
	m.prob.SetCenter(c)
	m.inf.SetCenter(geom.CoarsenIndex(p.Convention, c, p.Ratio))
	newProb, newInf := m.prob.Box(), m.inf.Box()

	entering := newProb.Subtract(oldProb)
	leaving := oldProb.Subtract(newProb)
	enteringInf := newInf.Subtract(oldInf)

	for _, b := range entering {
		b.Each(func(i geom.Index) {
			a := m.prob.Addr(i)
			m.logOdds[a] = 0
			if p.Frontier {
				delete(m.frontier, a)
			}
		})
	}
	for _, b := range enteringInf {
		b.Each(func(j geom.Index) {
			a := m.inf.Addr(j)
			m.occSrc[a], m.occInf[a] = 0, 0
			if p.UnkInflation {
				m.unkSrc[a], m.unkInf[a] = 0, 0
			}
		})
	}

	swept := append(append([]geom.Box(nil), entering...), leaving...)
	for _, b := range swept {
		m.recountSource(b.Coarsen(p.Convention, p.Ratio))
	}
	for _, b := range swept {
		m.recountInflated(b.Coarsen(p.Convention, p.Ratio).Dilate(p.MaxStep))
	}
	for _, b := range enteringInf {
		m.recountInflated(b)
	}
	if p.Frontier {
		for _, b := range swept {
			m.recountFrontier(b.Dilate(1))
		}
	}

	m.epoch++
	m.esdfDirty = m.field != nil
	m.stats.Slides++
	m.stats.LastSlideMicros = time.Since(start).Microseconds()
	monitoring.Logf("[SlidingMap] window moved to %v (epoch %d) in %v",
		m.prob.WindowOrigin(), m.epoch, time.Since(start))
}
