package monitor

import (
	"bytes"
	"fmt"
	"image/color"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"tailscale.com/tsweb"

	"github.com/banshee-data/slidemap/internal/httputil"
	"github.com/banshee-data/slidemap/internal/occupancy/geom"
	"github.com/banshee-data/slidemap/internal/occupancy/grid"
)

// AttachAdminRoutes adds the inflation slice views to the tsweb debug page
// on mux.
func (s *Server) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("map/slice", "Inflation layer slice heat map (?z=height)", s.handleSliceChart)
	debug.HandleSilentFunc("map/slice.png", s.handleSlicePNG)
	debug.HandleSilentFunc("map/status", s.handleStatus)
}

// stateLevel orders states for colouring: free, unknown, occupied.
func stateLevel(st grid.State) float64 {
	switch st {
	case grid.StateFree:
		return 0
	case grid.StateOccupied:
		return 2
	}
	return 1
}

// slice is one XY plane of the inflation layer with world cell centers.
type slice struct {
	nx, ny int
	x0, y0 float64
	res    float64
	z      float64
	epoch  uint64
	levels []float64 // row-major, X fastest
}

func (s *Server) readSlice(r *http.Request) (*slice, error) {
	z, err := httputil.QueryFloat(r, "z", 0)
	if err != nil {
		return nil, err
	}
	var (
		states []grid.State
		box    geom.Box
		sl     slice
	)
	s.m.View(func(v *grid.View) {
		states, box = v.InflationSlice(z)
		lo := v.InflationCenter(box.Min)
		sl.x0, sl.y0, sl.z = lo.X, lo.Y, lo.Z
		sl.res = v.InflationResolution()
		sl.epoch = v.Epoch()
	})
	if len(states) == 0 || states[0] == grid.StateOutOfWindow {
		return nil, nil
	}
	sl.nx, sl.ny = box.Max.X-box.Min.X+1, box.Max.Y-box.Min.Y+1
	sl.levels = make([]float64, len(states))
	for i, st := range states {
		sl.levels[i] = stateLevel(st)
	}
	return &sl, nil
}

func (s *Server) handleSliceChart(w http.ResponseWriter, r *http.Request) {
	sl, err := s.readSlice(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if sl == nil {
		httputil.NotFound(w, "height outside the inflation window")
		return
	}

	xs := make([]string, sl.nx)
	for i := range xs {
		xs[i] = strconv.FormatFloat(sl.x0+float64(i)*sl.res, 'f', 2, 64)
	}
	ys := make([]string, sl.ny)
	for j := range ys {
		ys[j] = strconv.FormatFloat(sl.y0+float64(j)*sl.res, 'f', 2, 64)
	}
	data := make([]opts.HeatMapData, 0, len(sl.levels))
	for j := 0; j < sl.ny; j++ {
		for i := 0; i < sl.nx; i++ {
			data = append(data, opts.HeatMapData{Value: [3]interface{}{i, j, sl.levels[j*sl.nx+i]}})
		}
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Inflation Slice", Theme: "dark", Width: "900px", Height: "900px"}),
		charts.WithTitleOpts(opts.Title{Title: "Inflation Layer", Subtitle: fmt.Sprintf("z=%.2f epoch=%d cells=%dx%d", sl.z, sl.epoch, sl.nx, sl.ny)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: "X (m)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: ys, Name: "Y (m)", NameLocation: "middle", NameGap: 40}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(false),
			Min:        0,
			Max:        2,
			InRange:    &opts.VisualMapInRange{Color: []string{"#f0f0f0", "#808080", "#b2182b"}},
		}),
	)
	hm.SetXAxis(xs).AddSeries("inflation", data)

	var buf bytes.Buffer
	if err := hm.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// slice implements plotter.GridXYZ.
func (sl *slice) Dims() (c, r int)   { return sl.nx, sl.ny }
func (sl *slice) Z(c, r int) float64 { return sl.levels[r*sl.nx+c] }
func (sl *slice) X(c int) float64    { return sl.x0 + float64(c)*sl.res }
func (sl *slice) Y(r int) float64    { return sl.y0 + float64(r)*sl.res }

// stateColors colours free, unknown and occupied cells.
type stateColors struct{}

var _ palette.Palette = stateColors{}

func (stateColors) Colors() []color.Color {
	return []color.Color{
		color.RGBA{R: 240, G: 240, B: 240, A: 255},
		color.RGBA{R: 128, G: 128, B: 128, A: 255},
		color.RGBA{R: 178, G: 24, B: 43, A: 255},
	}
}

func (s *Server) handleSlicePNG(w http.ResponseWriter, r *http.Request) {
	sl, err := s.readSlice(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if sl == nil {
		httputil.NotFound(w, "height outside the inflation window")
		return
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Inflation layer z=%.2f epoch=%d", sl.z, sl.epoch)
	p.X.Label.Text = "X (m)"
	p.Y.Label.Text = "Y (m)"
	hm := plotter.NewHeatMap(sl, stateColors{})
	hm.Min, hm.Max = 0, 2
	p.Add(hm)

	wt, err := p.WriterTo(6*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render plot: %v", err))
		return
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to encode plot: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(buf.Bytes())
}
