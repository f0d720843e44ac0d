package monitor

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/slidemap/internal/config"
	"github.com/banshee-data/slidemap/internal/monitoring"
	"github.com/banshee-data/slidemap/internal/occupancy/grid"
	"github.com/banshee-data/slidemap/internal/occupancy/params"
	"github.com/banshee-data/slidemap/internal/occupancy/pointio"
	"github.com/banshee-data/slidemap/internal/testutil"
	"github.com/banshee-data/slidemap/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type memStore struct {
	mu    sync.Mutex
	snaps []*grid.Snapshot
	err   error
}

func (s *memStore) InsertSnapshot(sn *grid.Snapshot) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	sn.ID = int64(len(s.snaps) + 1)
	s.snaps = append(s.snaps, sn)
	return sn.ID, nil
}

func (s *memStore) ListSnapshots(limit int) ([]*grid.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if len(s.snaps) < limit {
		limit = len(s.snaps)
	}
	return s.snaps[:limit], nil
}

// newTestServer returns a posed map with ESDF enabled, optionally holding
// one occupied cell at the origin.
func newTestServer(t *testing.T, obstacle bool, cfg Config) (*Server, *http.ServeMux) {
	t.Helper()
	c := config.DefaultMapConfig()
	c.MapSize = []float64{4, 4, 2}
	enable, disable := true, false
	c.Raycasting.Enable = &disable
	c.ESDF.Enable = &enable
	c.FrontierExtractionEn = &enable
	p, err := params.Derive(c)
	require.NoError(t, err)

	m := grid.New(p, timeutil.NewMockClock(t0))
	m.UpdatePose(grid.Pose{Time: t0})
	if obstacle {
		pt := []r3.Vec{{X: 0.05, Y: 0.05, Z: 0.05}}
		m.LoadStatic(pt)
		m.LoadStatic(pt)
	}
	cfg.Map = m
	s := NewServer(cfg)
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return s, mux
}

func TestStatusAndFreshness(t *testing.T) {
	_, mux := newTestServer(t, true, Config{})

	rec := testutil.Serve(t, mux, http.MethodGet, "/api/map/status")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var st grid.Status
	testutil.DecodeJSON(t, rec, &st)
	assert.Equal(t, 1, st.OccupiedCells)
	assert.True(t, st.ESDF)
	assert.True(t, st.Freshness.Fresh)

	rec = testutil.Serve(t, mux, http.MethodGet, "/api/map/freshness")
	var f grid.Freshness
	testutil.DecodeJSON(t, rec, &f)
	assert.True(t, f.Fresh)
	assert.True(t, t0.Equal(f.LastPose))

	rec = testutil.Serve(t, mux, http.MethodPost, "/api/map/status")
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)
}

func TestCell(t *testing.T) {
	_, mux := newTestServer(t, true, Config{})

	rec := testutil.Serve(t, mux, http.MethodGet, "/api/map/cell?x=0.05&y=0.05&z=0.05")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var c CellResponse
	testutil.DecodeJSON(t, rec, &c)
	assert.Equal(t, "occupied", c.IsOccupied)
	assert.Equal(t, "occupied", c.ProbState)
	require.NotNil(t, c.LogOdds)
	assert.Greater(t, *c.LogOdds, float32(0))
	require.NotNil(t, c.Distance)
	assert.InDelta(t, -0.4, *c.Distance, 1e-9)

	rec = testutil.Serve(t, mux, http.MethodGet, "/api/map/cell?x=1.05&y=0.05&z=0.05")
	c = CellResponse{}
	testutil.DecodeJSON(t, rec, &c)
	assert.Equal(t, "free", c.IsOccupied)
	assert.Equal(t, "unknown", c.ProbState)
	require.NotNil(t, c.Distance)
	assert.InDelta(t, 0.8, *c.Distance, 1e-9)
	require.NotNil(t, c.Gradient)
	assert.InDelta(t, 1, c.Gradient[0], 1e-9)

	rec = testutil.Serve(t, mux, http.MethodGet, "/api/map/cell?x=50&y=0&z=0")
	c = CellResponse{}
	testutil.DecodeJSON(t, rec, &c)
	assert.Equal(t, "out_of_window", c.IsOccupied)
	assert.Nil(t, c.LogOdds)
	assert.Nil(t, c.Distance)
}

func TestCell_Unbounded(t *testing.T) {
	_, mux := newTestServer(t, false, Config{})
	rec := testutil.Serve(t, mux, http.MethodGet, "/api/map/cell?x=0.5&y=0.5&z=0")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var c CellResponse
	testutil.DecodeJSON(t, rec, &c)
	assert.True(t, c.DistanceUnbounded)
	assert.Nil(t, c.Distance)
	assert.Nil(t, c.Gradient)
}

func TestBadQueries(t *testing.T) {
	_, mux := newTestServer(t, false, Config{})
	for _, target := range []string{
		"/api/map/cell?x=1&y=2",
		"/api/map/cell?x=a&y=0&z=0",
		"/api/map/nearest_feasible?x=0&y=0&z=0&radius=-1",
		"/api/map/frontier?limit=0",
		"/api/map/snapshots?limit=5000",
	} {
		rec := testutil.Serve(t, mux, http.MethodGet, target)
		if target == "/api/map/snapshots?limit=5000" {
			// No store configured takes precedence.
			testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)
			continue
		}
		testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
	}
}

func TestNearestFeasible(t *testing.T) {
	_, mux := newTestServer(t, true, Config{})
	rec := testutil.Serve(t, mux, http.MethodGet, "/api/map/nearest_feasible?x=0.05&y=0.05&z=0.05&radius=1")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var resp struct {
		Found bool       `json:"found"`
		Point [3]float64 `json:"point"`
	}
	testutil.DecodeJSON(t, rec, &resp)
	require.True(t, resp.Found)
	assert.NotEqual(t, [3]float64{0.05, 0.05, 0.05}, resp.Point)

	rec = testutil.Serve(t, mux, http.MethodGet, "/api/map/nearest_feasible?x=0.05&y=0.05&z=0.05&radius=0")
	resp.Found = true
	testutil.DecodeJSON(t, rec, &resp)
	assert.False(t, resp.Found)
}

func TestFrontier(t *testing.T) {
	_, mux := newTestServer(t, true, Config{})
	rec := testutil.Serve(t, mux, http.MethodGet, "/api/map/frontier?limit=10")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var resp struct {
		Count     int          `json:"count"`
		Truncated bool         `json:"truncated"`
		Cells     [][3]float64 `json:"cells"`
	}
	testutil.DecodeJSON(t, rec, &resp)
	assert.Equal(t, resp.Count, len(resp.Cells))
	assert.False(t, resp.Truncated)
}

func TestPersistAndList(t *testing.T) {
	store := &memStore{}
	_, mux := newTestServer(t, true, Config{Store: store})

	rec := testutil.Serve(t, mux, http.MethodGet, "/api/map/persist")
	testutil.AssertStatusCode(t, rec.Code, http.StatusMethodNotAllowed)

	rec = testutil.Serve(t, mux, http.MethodPost, "/api/map/persist")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	rec = testutil.Serve(t, mux, http.MethodPost, "/api/map/persist?reason=before_shutdown")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)

	rec = testutil.Serve(t, mux, http.MethodGet, "/api/map/snapshots?limit=10")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var list []SnapshotInfo
	testutil.DecodeJSON(t, rec, &list)
	require.Len(t, list, 2)
	assert.Equal(t, "manual_api", list[0].Reason)
	assert.Equal(t, "before_shutdown", list[1].Reason)
	assert.Equal(t, 1, list[0].OccupiedCells)

	store.err = errors.New("disk full")
	rec = testutil.Serve(t, mux, http.MethodPost, "/api/map/persist")
	testutil.AssertStatusCode(t, rec.Code, http.StatusInternalServerError)
	rec = testutil.Serve(t, mux, http.MethodGet, "/api/map/snapshots")
	testutil.AssertStatusCode(t, rec.Code, http.StatusInternalServerError)
}

func TestPersist_NoStore(t *testing.T) {
	_, mux := newTestServer(t, true, Config{})
	rec := testutil.Serve(t, mux, http.MethodPost, "/api/map/persist")
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)
}

func TestExport(t *testing.T) {
	dir := t.TempDir()
	_, mux := newTestServer(t, true, Config{ExportDir: dir})

	rec := testutil.Serve(t, mux, http.MethodPost, "/api/map/export?name=../occ")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	var resp struct {
		Path   string `json:"path"`
		Points int    `json:"points"`
	}
	testutil.DecodeJSON(t, rec, &resp)
	assert.Equal(t, 1, resp.Points)
	assert.Equal(t, "occ.asc", filepath.Base(resp.Path))

	pts, _, err := pointio.LoadASC(resp.Path)
	require.NoError(t, err)
	require.Len(t, pts, 1)
	assert.InDelta(t, 0.05, pts[0].X, 1e-6)

	_, empty := newTestServer(t, false, Config{ExportDir: dir})
	rec = testutil.Serve(t, empty, http.MethodPost, "/api/map/export")
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	_, none := newTestServer(t, true, Config{})
	rec = testutil.Serve(t, none, http.MethodPost, "/api/map/export")
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)
}

func TestSliceChart(t *testing.T) {
	s, _ := newTestServer(t, true, Config{})

	rec := httptest.NewRecorder()
	s.handleSliceChart(rec, httptest.NewRequest(http.MethodGet, "/debug/map/slice?z=0.05", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.True(t, strings.Contains(rec.Body.String(), "echarts"))

	rec = httptest.NewRecorder()
	s.handleSliceChart(rec, httptest.NewRequest(http.MethodGet, "/debug/map/slice?z=50", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusNotFound)

	rec = httptest.NewRecorder()
	s.handleSliceChart(rec, httptest.NewRequest(http.MethodGet, "/debug/map/slice?z=up", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusBadRequest)
}

func TestSlicePNG(t *testing.T) {
	s, _ := newTestServer(t, true, Config{})

	rec := httptest.NewRecorder()
	s.handleSlicePNG(rec, httptest.NewRequest(http.MethodGet, "/debug/map/slice.png?z=0.05", nil))
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestReadSlice(t *testing.T) {
	s, _ := newTestServer(t, true, Config{})
	sl, err := s.readSlice(httptest.NewRequest(http.MethodGet, "/?z=0.05", nil))
	require.NoError(t, err)
	require.NotNil(t, sl)

	c, r := sl.Dims()
	assert.Equal(t, len(sl.levels), c*r)
	occupied := 0
	for _, l := range sl.levels {
		if l == 2 {
			occupied++
		}
	}
	// One occupied cell inflates to a 3x3 block in the plane.
	assert.Equal(t, 9, occupied)
	assert.InDelta(t, sl.X(1)-sl.X(0), sl.res, 1e-12)
}

func TestAttachAdminRoutes(t *testing.T) {
	s, _ := newTestServer(t, false, Config{})
	assert.NotPanics(t, func() { s.AttachAdminRoutes(http.NewServeMux()) })
}
