package grid

import (
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/slidemap/internal/monitoring"
	"github.com/banshee-data/slidemap/internal/occupancy/geom"
	"github.com/banshee-data/slidemap/internal/occupancy/raycast"
)

// Batch cache marks. A hit overrides a miss within one batch.
const (
	markNone uint8 = iota
	markMiss
	markHit
)

// InsertCloud raycasts a cloud from the latest pose into the batch cache
// and commits once batch_update_size clouds have accumulated. A cloud that
// arrives with no pose, or whose time is further than odom_timeout from the
// latest pose, is dropped and the map is marked stale.
func (m *Map) InsertCloud(c Cloud) error {
	m.prodMu.Lock()
	defer m.prodMu.Unlock()

	if !m.hasPose {
		m.markStale()
		return ErrNoPose
	}
	if to := m.p.OdomTimeout; to > 0 {
		if dt := c.Time.Sub(m.lastPoseTime); dt > to || dt < -to {
			m.markStale()
			return fmt.Errorf("%w: cloud is %v from pose", ErrStalePose, dt)
		}
	}

	origin := m.robot
	thresh := m.p.IntensityThresh
	useIntensity := thresh > 0 && len(c.Intensity) == len(c.Points)
	var inserted, skipped, truncated int64
	for k, pt := range c.Points {
		if k%m.p.PointFiltNum != 0 || !geom.Finite(pt) {
			skipped++
			continue
		}
		if useIntensity && float64(c.Intensity[k]) < thresh {
			skipped++
			continue
		}
		if !m.p.Raycasting {
			if m.markHit(pt) {
				inserted++
			}
			continue
		}
		switch m.castRay(origin, pt) {
		case rayHit:
			inserted++
		case rayFree:
			inserted++
			truncated++
		case raySkipped:
			skipped++
		}
	}

	m.mu.Lock()
	m.stats.CloudsAccepted++
	m.stats.PointsInserted += inserted
	m.stats.PointsSkipped += skipped
	m.stats.RaysTruncated += truncated
	m.mu.Unlock()

	m.pendingCloud++
	if m.pendingCloud >= m.p.BatchSize {
		m.commit()
	}
	m.refreshField()
	return nil
}

// LoadStatic inserts a prebuilt point set as direct hits through the
// normal commit path. It returns the number of points that fell inside the
// window. Points with a non-finite coordinate are counted as skipped.
func (m *Map) LoadStatic(points []r3.Vec) int {
	m.prodMu.Lock()
	defer m.prodMu.Unlock()

	var n, skipped int
	for _, pt := range points {
		if !geom.Finite(pt) {
			skipped++
			continue
		}
		if m.markHit(pt) {
			n++
		}
	}
	if skipped > 0 {
		m.mu.Lock()
		m.stats.PointsSkipped += int64(skipped)
		m.mu.Unlock()
	}
	m.commit()
	m.refreshField()
	monitoring.Logf("[SlidingMap] static map loaded: %d of %d points inside the window", n, len(points))
	return n
}

type rayOutcome int

const (
	raySkipped rayOutcome = iota
	rayHit
	rayFree
)

// castRay records one ray in the batch cache. Points closer than the
// minimum range are skipped. Points beyond the maximum range, or outside
// the local update box, become free rays ending at the limit.
func (m *Map) castRay(origin, pt r3.Vec) rayOutcome {
	d := r3.Sub(pt, origin)
	d2 := r3.Norm2(d)
	if d2 < m.p.SqrRayRangeMin {
		return raySkipped
	}
	end := pt
	hit := true
	if d2 > m.p.SqrRayRangeMax {
		end = r3.Add(origin, r3.Scale(m.p.RayRangeMax/math.Sqrt(d2), d))
		hit = false
	}
	lo, hi := m.updateBox(origin)
	if clipped, ok := raycast.ClipToBox(origin, end, lo, hi); ok {
		end = clipped
		hit = false
	}

	raycast.Walk(origin, end, m.p.Resolution, m.p.Convention.Shift(), func(i geom.Index, last bool) bool {
		if !m.prob.InWindow(i) {
			return true
		}
		a := m.prob.Addr(i)
		if last && hit {
			m.mark(a, markHit)
		} else {
			m.mark(a, markMiss)
		}
		return true
	})
	if hit {
		return rayHit
	}
	return rayFree
}

// updateBox is the raycast local update box around the sensor cell, in
// world coordinates.
func (m *Map) updateBox(origin r3.Vec) (r3.Vec, r3.Vec) {
	c := m.prob.Index(origin)
	b := geom.BoxAround(c, m.p.LocalUpdateHalf)
	conv, res := m.p.Convention, m.p.Resolution
	lo := r3.Vec{
		X: geom.LowerFace(conv, b.Min.X, res),
		Y: geom.LowerFace(conv, b.Min.Y, res),
		Z: geom.LowerFace(conv, b.Min.Z, res),
	}
	hi := r3.Vec{
		X: geom.UpperFace(conv, b.Max.X, res),
		Y: geom.UpperFace(conv, b.Max.Y, res),
		Z: geom.UpperFace(conv, b.Max.Z, res),
	}
	return lo, hi
}

func (m *Map) markHit(pt r3.Vec) bool {
	i, ok := m.prob.ToIndex(pt)
	if !ok {
		return false
	}
	m.mark(m.prob.Addr(i), markHit)
	return true
}

func (m *Map) mark(a int, v uint8) {
	cur := m.marks[a]
	if cur == markNone {
		m.touched = append(m.touched, a)
	}
	if v > cur {
		m.marks[a] = v
	}
}

// commit applies the batch cache: one clamped update per touched cell,
// then the inflation and frontier bookkeeping for every state change. The
// whole batch becomes visible at once.
func (m *Map) commit() {
	m.pendingCloud = 0
	if len(m.touched) == 0 {
		return
	}
	start := time.Now()
	p := m.p

	m.mu.Lock()
	for _, a := range m.touched {
		old := m.logOdds[a]
		l := old
		if m.marks[a] == markHit {
			l += p.LHit
			if l > p.LMax {
				l = p.LMax
			}
		} else {
			l += p.LMiss
			if l < p.LMin {
				l = p.LMin
			}
		}
		m.marks[a] = markNone
		m.logOdds[a] = l

		before, after := m.probState(old), m.probState(l)
		if before == after {
			continue
		}
		i := m.prob.IndexOf(a)
		m.applySourceChange(i, before, after)
		if p.Frontier {
			m.applyFrontierChange(i, before, after)
		}
	}
	m.stats.CellsUpdated += int64(len(m.touched))
	m.stats.LastCommitMicros = time.Since(start).Microseconds()
	m.commits++
	m.mu.Unlock()

	m.touched = m.touched[:0]
}

// clearBatch drops uncommitted updates.
func (m *Map) clearBatch() {
	for _, a := range m.touched {
		m.marks[a] = markNone
	}
	m.touched = m.touched[:0]
	m.pendingCloud = 0
}
