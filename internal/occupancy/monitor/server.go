// Package monitor serves the map's query API and debug views over HTTP.
package monitor

import (
	"errors"
	"fmt"
	"math"
	"net/http"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/slidemap/internal/httputil"
	"github.com/banshee-data/slidemap/internal/monitoring"
	"github.com/banshee-data/slidemap/internal/occupancy/grid"
	"github.com/banshee-data/slidemap/internal/occupancy/pointio"
)

// SnapshotStore is the part of the snapshot repository the monitor uses.
type SnapshotStore interface {
	grid.SnapshotStore
	ListSnapshots(limit int) ([]*grid.Snapshot, error)
}

// Config wires a Server. Store and ExportDir are optional; the endpoints
// that need them answer 503 when unset.
type Config struct {
	Map       *grid.Map
	Store     SnapshotStore
	ExportDir string
}

// Server answers map queries over HTTP.
type Server struct {
	m         *grid.Map
	store     SnapshotStore
	exportDir string
}

// NewServer returns a Server for cfg.Map.
func NewServer(cfg Config) *Server {
	return &Server{m: cfg.Map, store: cfg.Store, exportDir: cfg.ExportDir}
}

// RegisterRoutes mounts the JSON API under /api/map/.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/map/status", s.handleStatus)
	mux.HandleFunc("/api/map/freshness", s.handleFreshness)
	mux.HandleFunc("/api/map/cell", s.handleCell)
	mux.HandleFunc("/api/map/nearest_feasible", s.handleNearestFeasible)
	mux.HandleFunc("/api/map/frontier", s.handleFrontier)
	mux.HandleFunc("/api/map/snapshots", s.handleSnapshots)
	mux.HandleFunc("/api/map/persist", s.handlePersist)
	mux.HandleFunc("/api/map/export", s.handleExport)
}

// point is the JSON form of a world position.
type point [3]float64

func toPoint(v r3.Vec) point { return point{v.X, v.Y, v.Z} }

func queryPoint(r *http.Request) (r3.Vec, error) {
	var p r3.Vec
	var err error
	if p.X, err = httputil.RequireFloat(r, "x"); err != nil {
		return p, err
	}
	if p.Y, err = httputil.RequireFloat(r, "y"); err != nil {
		return p, err
	}
	if p.Z, err = httputil.RequireFloat(r, "z"); err != nil {
		return p, err
	}
	return p, nil
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, s.m.Status())
}

func (s *Server) handleFreshness(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	httputil.WriteJSONOK(w, s.m.Freshness())
}

// CellResponse answers /api/map/cell. Every field is read at Epoch.
type CellResponse struct {
	Point      point    `json:"point"`
	Epoch      uint64   `json:"epoch"`
	IsOccupied string   `json:"is_occupied"`
	ProbState  string   `json:"prob_state"`
	LogOdds    *float32 `json:"log_odds,omitempty"`
	// Distance is omitted when the field is unavailable at the point.
	// DistanceUnbounded is set instead when the window has no obstacles.
	Distance          *float64 `json:"distance,omitempty"`
	DistanceUnbounded bool     `json:"distance_unbounded,omitempty"`
	Gradient          *point   `json:"gradient,omitempty"`
}

func (s *Server) handleCell(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	p, err := queryPoint(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	resp := CellResponse{Point: toPoint(p)}
	s.m.View(func(v *grid.View) {
		resp.Epoch = v.Epoch()
		resp.IsOccupied = v.IsOccupied(p).State.String()
		resp.ProbState = v.ProbState(p).State.String()
		if l, ok := v.LogOdds(p); ok {
			resp.LogOdds = &l
		}
		if d, ok := v.DistanceAt(p); ok {
			if math.IsInf(d, 1) {
				resp.DistanceUnbounded = true
			} else {
				resp.Distance = &d
			}
		}
		if g, ok := v.GradientAt(p); ok {
			gp := toPoint(g)
			resp.Gradient = &gp
		}
	})
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) handleNearestFeasible(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	p, err := queryPoint(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	radius, err := httputil.QueryFloat(r, "radius", 1.0)
	if err != nil || radius < 0 {
		httputil.BadRequest(w, fmt.Sprintf("invalid radius %q", r.URL.Query().Get("radius")))
		return
	}
	var (
		q     r3.Vec
		found bool
		epoch uint64
	)
	s.m.View(func(v *grid.View) {
		epoch = v.Epoch()
		q, found = v.NearestFeasible(p, radius)
	})
	resp := map[string]interface{}{"epoch": epoch, "found": found}
	if found {
		resp["point"] = toPoint(q)
	}
	httputil.WriteJSONOK(w, resp)
}

func (s *Server) handleFrontier(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 5000, 1, 1_000_000)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	var (
		cells []r3.Vec
		epoch uint64
	)
	s.m.View(func(v *grid.View) {
		epoch = v.Epoch()
		cells = v.FrontierCells()
	})
	out := make([]point, 0, min(len(cells), limit))
	for _, c := range cells {
		if len(out) == limit {
			break
		}
		out = append(out, toPoint(c))
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"epoch":     epoch,
		"count":     len(cells),
		"truncated": len(cells) > limit,
		"cells":     out,
	})
}

// SnapshotInfo is the JSON form of stored snapshot metadata.
type SnapshotInfo struct {
	ID            int64   `json:"snapshot_id"`
	MapID         string  `json:"map_id"`
	TakenAt       string  `json:"taken_at"`
	Reason        string  `json:"reason"`
	Convention    string  `json:"convention"`
	Resolution    float64 `json:"resolution"`
	Center        [3]int  `json:"center"`
	Dims          [3]int  `json:"dims"`
	Epoch         uint64  `json:"epoch"`
	OccupiedCells int     `json:"occupied_cells"`
}

func (s *Server) handleSnapshots(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodGet) {
		return
	}
	if s.store == nil {
		httputil.ServiceUnavailable(w, "snapshot store not configured")
		return
	}
	limit, err := httputil.QueryInt(r, "limit", 50, 1, 1000)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	snaps, err := s.store.ListSnapshots(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("list snapshots: %v", err))
		return
	}
	out := make([]SnapshotInfo, 0, len(snaps))
	for _, sn := range snaps {
		out = append(out, SnapshotInfo{
			ID:            sn.ID,
			MapID:         sn.MapID,
			TakenAt:       sn.TakenAt.Format("2006-01-02T15:04:05.000Z07:00"),
			Reason:        sn.Reason,
			Convention:    sn.Convention,
			Resolution:    sn.Resolution,
			Center:        [3]int{sn.Center.X, sn.Center.Y, sn.Center.Z},
			Dims:          [3]int{sn.Dims.X, sn.Dims.Y, sn.Dims.Z},
			Epoch:         sn.Epoch,
			OccupiedCells: sn.OccupiedCells,
		})
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) handlePersist(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	if s.store == nil {
		httputil.ServiceUnavailable(w, "snapshot store not configured")
		return
	}
	reason := r.URL.Query().Get("reason")
	if reason == "" {
		reason = "manual_api"
	}
	if err := s.m.Persist(s.store, reason); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("persist error: %v", err))
		return
	}
	monitoring.Logf("[Monitor] persisted snapshot (%s)", reason)
	httputil.WriteJSONOK(w, map[string]string{"status": "ok", "reason": reason})
}

var errNothingToExport = errors.New("no occupied cells to export")

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if !httputil.RequireMethod(w, r, http.MethodPost) {
		return
	}
	if s.exportDir == "" {
		httputil.ServiceUnavailable(w, "export directory not configured")
		return
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		name = "occupied_" + s.m.ID().String()
	}
	path, n, err := s.exportOccupied(name)
	switch {
	case errors.Is(err, errNothingToExport):
		httputil.NotFound(w, err.Error())
		return
	case err != nil:
		httputil.InternalServerError(w, fmt.Sprintf("export error: %v", err))
		return
	}
	monitoring.Logf("[Monitor] exported %d occupied cells to %s", n, path)
	httputil.WriteJSONOK(w, map[string]interface{}{"path": path, "points": n})
}

func (s *Server) exportOccupied(name string) (string, int, error) {
	pts := s.m.ExportOccupied()
	if len(pts) == 0 {
		return "", 0, errNothingToExport
	}
	header := fmt.Sprintf("Occupied cells of map %s (resolution %g)", s.m.ID(), s.m.Params().Resolution)
	path, err := pointio.ExportASC(s.exportDir, name, pts, header)
	return path, len(pts), err
}
