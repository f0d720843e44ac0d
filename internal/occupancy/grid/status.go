package grid

import (
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/slidemap/internal/occupancy/geom"
	"github.com/banshee-data/slidemap/internal/version"
)

// Freshness reports whether the map is being fed current poses.
type Freshness struct {
	Fresh    bool      `json:"fresh"`
	Reason   string    `json:"reason,omitempty"`
	LastPose time.Time `json:"last_pose,omitempty"`
}

// Status is a point-in-time summary of the map for monitoring.
type Status struct {
	ID                  string     `json:"id"`
	Version             string     `json:"version"`
	Convention          string     `json:"convention"`
	Epoch               uint64     `json:"epoch"`
	Commits             uint64     `json:"commits"`
	WindowOrigin        [3]float64 `json:"window_origin"`
	Resolution          float64    `json:"resolution"`
	InflationResolution float64    `json:"inflation_resolution"`
	ProbDims            [3]int     `json:"prob_dims"`
	InfDims             [3]int     `json:"inf_dims"`
	OccupiedCells       int        `json:"occupied_cells"`
	FreeCells           int        `json:"free_cells"`
	FrontierCells       int        `json:"frontier_cells"`
	ESDF                bool       `json:"esdf"`
	Freshness           Freshness  `json:"freshness"`
	Stats               Stats      `json:"stats"`
}

// markStale flags the map after a dropped cloud. Cleared by the next pose.
func (m *Map) markStale() {
	m.mu.Lock()
	m.stale = true
	m.stats.CloudsDropped++
	m.mu.Unlock()
}

// Freshness reports whether a pose has arrived within odom_timeout of the
// clock and no cloud has been dropped since.
func (m *Map) Freshness() Freshness {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.freshness()
}

func (m *Map) freshness() Freshness {
	f := Freshness{LastPose: m.lastPoseWall}
	switch {
	case m.lastPoseWall.IsZero():
		f.Reason = "no pose received"
	case m.stale:
		f.Reason = "cloud dropped against a stale pose"
	case m.p.OdomTimeout > 0 && m.clock.Since(m.lastPoseWall) > m.p.OdomTimeout:
		f.Reason = "pose older than odom_timeout"
	default:
		f.Fresh = true
	}
	return f
}

// Stats returns the ingestion counters.
func (m *Map) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Status scans the probability layer and returns a summary.
func (m *Map) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o := m.prob.WindowOrigin()
	s := Status{
		ID:                  m.id.String(),
		Version:             version.String(),
		Convention:          m.p.Convention.Name(),
		Epoch:               m.epoch,
		Commits:             m.commits,
		WindowOrigin:        [3]float64{o.X, o.Y, o.Z},
		Resolution:          m.p.Resolution,
		InflationResolution: m.p.InflationResolution,
		ProbDims:            dims(m.prob.Size()),
		InfDims:             dims(m.inf.Size()),
		FrontierCells:       len(m.frontier),
		ESDF:                m.field != nil,
		Freshness:           m.freshness(),
		Stats:               m.stats,
	}
	for _, l := range m.logOdds {
		switch m.probState(l) {
		case StateOccupied:
			s.OccupiedCells++
		case StateFree:
			s.FreeCells++
		}
	}
	return s
}

func dims(i geom.Index) [3]int { return [3]int{i.X, i.Y, i.Z} }

// ExportOccupied returns the centers of every occupied probability cell in
// the window.
func (m *Map) ExportOccupied() []r3.Vec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []r3.Vec
	for a, l := range m.logOdds {
		if m.probState(l) == StateOccupied {
			out = append(out, m.prob.ToWorld(m.prob.IndexOf(a)))
		}
	}
	return out
}
