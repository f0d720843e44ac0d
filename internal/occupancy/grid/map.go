// Package grid holds the sliding-window occupancy map: the probability
// layer updated by raycasting, the inflation layer derived from it, the
// window manager that re-centers both on the robot, and the optional
// distance field and frontier set.
package grid

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/slidemap/internal/monitoring"
	"github.com/banshee-data/slidemap/internal/occupancy/esdf"
	"github.com/banshee-data/slidemap/internal/occupancy/geom"
	"github.com/banshee-data/slidemap/internal/occupancy/params"
	"github.com/banshee-data/slidemap/internal/timeutil"
)

// ErrWindowMoved is returned by CheckEpoch when the window slid after a
// result was produced. Indices and positions derived from that result must
// be recomputed.
var ErrWindowMoved = errors.New("map window moved")

// ErrNoPose is returned when a cloud arrives before any pose.
var ErrNoPose = errors.New("no pose received")

// ErrStalePose is returned when a cloud's timestamp is further than
// odom_timeout from the latest pose.
var ErrStalePose = errors.New("pose is stale")

// State is the occupancy state of a cell.
type State uint8

const (
	StateUnknown State = iota
	StateFree
	StateOccupied
	// StateOutOfWindow marks a query outside the current window. It is
	// never a measurement.
	StateOutOfWindow
)

func (s State) String() string {
	switch s {
	case StateUnknown:
		return "unknown"
	case StateFree:
		return "free"
	case StateOccupied:
		return "occupied"
	case StateOutOfWindow:
		return "out_of_window"
	}
	return "invalid"
}

// Result is a query answer tagged with the window epoch it was read at.
type Result struct {
	State State
	Epoch uint64
}

// Cloud is one sensor observation in the world frame.
type Cloud struct {
	Time   time.Time
	Points []r3.Vec
	// Intensity is optional; when present it is parallel to Points.
	Intensity []float32
}

// Pose is a time-tagged sensor position in the world frame.
type Pose struct {
	Time     time.Time
	Position r3.Vec
}

// Map is a sliding-window probabilistic occupancy map.
//
// One producer (UpdatePose, InsertCloud, LoadStatic) runs at a time,
// serialised by prodMu. Raycasting fills the producer-owned batch cache
// without the grid lock; committing a batch and sliding the window hold
// mu for writing. Queries hold mu for reading, so they observe either the
// state before or after a commit or slide and never a mixture.
type Map struct {
	p     *params.Params
	clock timeutil.Clock
	id    uuid.UUID

	prodMu sync.Mutex
	// Producer-owned batch cache, indexed by probability slot.
	marks        []uint8
	touched      []int
	pendingCloud int
	robot        r3.Vec
	hasPose      bool
	lastPoseTime time.Time

	mu sync.RWMutex
	// prob and inf are written only under mu by the producer, so the
	// producer may read them without locking.
	prob geom.Frame
	inf  geom.Frame

	logOdds []float32 // probability layer, log-odds per slot

	// Inflation counters per inflation slot. occSrc/unkSrc count the
	// occupied/unknown probability cells inside the inflation cell; occInf/
	// unkInf count offset-table neighbours whose source count is positive.
	occSrc, unkSrc []int32
	occInf, unkInf []int32

	frontierCnt []uint8 // unknown face neighbours per probability slot
	frontier    map[int]struct{}

	field     *esdf.Field
	fieldBack *esdf.Field // producer-owned
	esdfMask  []bool      // producer-owned
	esdfDirty bool

	epoch        uint64
	commits      uint64
	stale        bool
	lastPoseWall time.Time

	stats Stats
}

// Stats counts ingestion outcomes since start.
type Stats struct {
	CloudsAccepted   int64 `json:"clouds_accepted"`
	CloudsDropped    int64 `json:"clouds_dropped"`
	PointsInserted   int64 `json:"points_inserted"`
	PointsSkipped    int64 `json:"points_skipped"` // dropped before raycasting
	RaysTruncated    int64 `json:"rays_truncated"` // beyond max range or clipped to the update box
	CellsUpdated     int64 `json:"cells_updated"`
	Slides           int64 `json:"slides"`
	LastCommitMicros int64 `json:"last_commit_us"`
	LastSlideMicros  int64 `json:"last_slide_us"`
	LastESDFMicros   int64 `json:"last_esdf_us"`
}

// New allocates every layer once and centers the window on
// fix_map_origin. A nil clock uses the wall clock.
func New(p *params.Params, clock timeutil.Clock) *Map {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	m := &Map{
		p:     p,
		clock: clock,
		id:    uuid.New(),
		prob:  geom.NewFrame(p.Convention, p.Resolution, p.ProbHalf),
		inf:   geom.NewFrame(p.Convention, p.InflationResolution, p.InfHalf),
	}
	n := m.prob.Len()
	ni := m.inf.Len()
	m.marks = make([]uint8, n)
	m.logOdds = make([]float32, n)
	m.occSrc = make([]int32, ni)
	m.occInf = make([]int32, ni)
	if p.UnkInflation {
		m.unkSrc = make([]int32, ni)
		m.unkInf = make([]int32, ni)
	}
	if p.Frontier {
		m.frontierCnt = make([]uint8, n)
		m.frontier = make(map[int]struct{})
	}

	c := m.prob.Index(p.FixMapOrigin)
	m.prob.SetCenter(c)
	m.inf.SetCenter(geom.CoarsenIndex(p.Convention, c, p.Ratio))
	m.recountAll()

	if p.ESDF {
		box := geom.BoxAround(m.inf.Center(), p.ESDFHalf)
		m.field = esdf.NewField(box, p.InflationResolution)
		m.fieldBack = esdf.NewField(box, p.InflationResolution)
		m.esdfDirty = true
	}

	monitoring.Logf("[SlidingMap] created id=%s prob_cells=%d inf_cells=%d origin=%v",
		m.id, n, ni, m.prob.WindowOrigin())
	return m
}

// ID identifies this map instance in snapshots.
func (m *Map) ID() uuid.UUID { return m.id }

// Params returns the derived parameters the map was built with.
func (m *Map) Params() *params.Params { return m.p }

// Epoch returns the current window epoch. It changes only when the window
// slides or a snapshot is restored.
func (m *Map) Epoch() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.epoch
}

// CheckEpoch returns ErrWindowMoved if the window changed since epoch e.
func (m *Map) CheckEpoch(e uint64) error {
	if m.Epoch() != e {
		return ErrWindowMoved
	}
	return nil
}

// recountAll rebuilds every derived counter from the probability layer.
// Callers hold mu or own the map exclusively.
func (m *Map) recountAll() {
	infBox := m.inf.Box()
	m.recountSource(infBox)
	m.recountInflated(infBox)
	if m.p.Frontier {
		for k := range m.frontier {
			delete(m.frontier, k)
		}
		m.recountFrontier(m.prob.Box())
	}
}

// probState thresholds a log-odds value.
func (m *Map) probState(l float32) State {
	switch {
	case l >= m.p.LOcc:
		return StateOccupied
	case l <= m.p.LFree:
		return StateFree
	default:
		return StateUnknown
	}
}
