// Package params derives the immutable integer geometry and log-odds
// constants of the map from a validated configuration.
package params

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/slidemap/internal/config"
	"github.com/banshee-data/slidemap/internal/monitoring"
	"github.com/banshee-data/slidemap/internal/occupancy/geom"
)

// Plane is a virtual boundary on the inflation layer's Z axis.
type Plane struct {
	Enabled bool
	// ID is the inflation-layer Z index of the plane cell. The ceiling
	// forces cells with Z >= ID occupied; the ground forces Z <= ID.
	ID int
	// Height is the plane re-expressed as an inflation cell face.
	Height float64
}

// Params is shared read-only by every map component.
type Params struct {
	Convention geom.Convention

	Resolution          float64
	InflationResolution float64
	Ratio               int // inflation cells are Ratio base cells wide

	InflationStep    int
	UnkInflation     bool
	UnkInflationStep int
	MaxStep          int // InflationStep, or UnkInflationStep when larger and enabled

	ProbHalf geom.Index // probability layer half extent, base cells
	InfHalf  geom.Index // inflation layer half extent, inflation cells
	MapSize  r3.Vec     // probability window extent in meters

	FixMapOrigin     r3.Vec
	Sliding          bool
	SlidingThreshold float64

	PointFiltNum    int
	IntensityThresh float64
	Raycasting      bool
	BatchSize       int
	RayRangeMin     float64
	RayRangeMax     float64
	SqrRayRangeMin  float64
	SqrRayRangeMax  float64
	LocalUpdateHalf geom.Index // raycast box half extent, base cells

	// Log-odds constants, stored at cell precision.
	LHit, LMiss, LMin, LMax, LOcc, LFree float32
	// Updates needed to turn a fresh cell occupied or free.
	NOcc, NFree int

	Ceil, Ground Plane

	Frontier    bool
	OdomTimeout time.Duration

	ESDF     bool
	ESDFHalf geom.Index // inflation cells

	InfOffsets    []geom.Index
	UnkOffsets    []geom.Index
	SearchOffsets []geom.Index
}

// Logit is log(p/(1-p)).
func Logit(p float64) float64 {
	return math.Log(p / (1 - p))
}

// Derive validates cfg and computes the map parameters. It never returns
// partially filled params.
func Derive(cfg *config.MapConfig) (*Params, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	conv, err := geom.ParseConvention(cfg.GetIndexConvention())
	if err != nil {
		return nil, err
	}

	p := &Params{
		Convention:       conv,
		Resolution:       cfg.GetResolution(),
		InflationStep:    cfg.GetInflationStep(),
		UnkInflation:     cfg.GetUnkInflationEn(),
		UnkInflationStep: cfg.GetUnkInflationStep(),
		PointFiltNum:     cfg.GetPointFiltNum(),
		IntensityThresh:  cfg.GetIntensityThresh(),
		Raycasting:       cfg.GetRaycastingEnable(),
		BatchSize:        cfg.GetBatchUpdateSize(),
		Frontier:         cfg.GetFrontierExtractionEn(),
		OdomTimeout:      cfg.GetOdomTimeout(),
		Sliding:          cfg.GetMapSlidingEnable(),
		ESDF:             cfg.GetESDFEnable(),
	}

	infRes := cfg.GetInflationResolution()
	if p.Resolution > infRes {
		return nil, fmt.Errorf("resolution %f is larger than inflation_resolution %f", p.Resolution, infRes)
	}
	// Tolerate 0.3/0.1 = 2.9999999999999996.
	ratio := int(math.Ceil(infRes/p.Resolution - 1e-9))
	if ratio < 1 {
		ratio = 1
	}
	p.Ratio = conv.Ratio(ratio)
	p.InflationResolution = p.Resolution * float64(p.Ratio)

	p.MaxStep = p.InflationStep
	if p.UnkInflation && p.UnkInflationStep > p.MaxStep {
		p.MaxStep = p.UnkInflationStep
	}

	size := cfg.GetMapSize()
	margin := p.MaxStep + 1
	infHalf := func(v float64) int { return int(v/2/p.InflationResolution+1e-9) + margin }
	p.InfHalf = geom.Index{X: infHalf(size[0]), Y: infHalf(size[1]), Z: infHalf(size[2])}
	p.ProbHalf = p.InfHalf.Sub(geom.Splat(margin)).Scale(p.Ratio)
	p.MapSize = r3.Vec{
		X: float64(2*p.ProbHalf.X+1) * p.Resolution,
		Y: float64(2*p.ProbHalf.Y+1) * p.Resolution,
		Z: float64(2*p.ProbHalf.Z+1) * p.Resolution,
	}

	origin := cfg.GetFixMapOrigin()
	p.FixMapOrigin = r3.Vec{X: origin[0], Y: origin[1], Z: origin[2]}
	p.SlidingThreshold = cfg.GetMapSlidingThreshold()
	if p.SlidingThreshold <= 0 {
		if cfg.MapSliding.Threshold != nil {
			monitoring.Warnf("[Params] map_sliding.threshold %f is not positive; using one inflation cell (%f)",
				p.SlidingThreshold, p.InflationResolution)
		}
		p.SlidingThreshold = p.InflationResolution
	}

	rr := cfg.GetRayRange()
	p.RayRangeMin, p.RayRangeMax = rr[0], rr[1]
	p.SqrRayRangeMin = rr[0] * rr[0]
	p.SqrRayRangeMax = rr[1] * rr[1]
	box := cfg.GetLocalUpdateBox()
	p.LocalUpdateHalf = halfCells(box, p.Resolution)
	p.ESDFHalf = halfCells(cfg.GetESDFLocalUpdateBox(), p.InflationResolution)

	lHit, lMiss := Logit(cfg.GetPHit()), Logit(cfg.GetPMiss())
	lOcc, lFree := Logit(cfg.GetPOcc()), Logit(cfg.GetPFree())
	p.LHit, p.LMiss = float32(lHit), float32(lMiss)
	p.LMin, p.LMax = float32(Logit(cfg.GetPMin())), float32(Logit(cfg.GetPMax()))
	p.LOcc, p.LFree = float32(lOcc), float32(lFree)
	p.NOcc = int(math.Ceil(lOcc / lHit))
	p.NFree = int(math.Ceil(lFree / lMiss))

	if h, ok := cfg.GetVirtualCeilHeight(); ok {
		id := conv.PlaneIndex(h, p.InflationResolution, p.InflationStep, true)
		p.Ceil = Plane{Enabled: true, ID: id, Height: geom.LowerFace(conv, id, p.InflationResolution)}
	}
	if h, ok := cfg.GetVirtualGroundHeight(); ok {
		id := conv.PlaneIndex(h, p.InflationResolution, p.InflationStep, false)
		p.Ground = Plane{Enabled: true, ID: id, Height: geom.UpperFace(conv, id, p.InflationResolution)}
	}
	if p.Ceil.Enabled && p.Ground.Enabled && p.Ceil.ID <= p.Ground.ID {
		return nil, fmt.Errorf("virtual ceiling index %d must be above ground index %d", p.Ceil.ID, p.Ground.ID)
	}

	p.InfOffsets = SphericalOffsets(p.InflationStep)
	if p.UnkInflation {
		p.UnkOffsets = SphericalOffsets(p.UnkInflationStep)
	}
	p.SearchOffsets = searchOffsets(p.Resolution)

	p.logSummary()
	return p, nil
}

// halfCells converts a box size in meters to a half extent in cells.
func halfCells(box [3]float64, res float64) geom.Index {
	return geom.Index{
		X: int(box[0]/2/res + 1e-9),
		Y: int(box[1]/2/res + 1e-9),
		Z: int(box[2]/2/res + 1e-9),
	}
}

func (p *Params) logSummary() {
	monitoring.Logf("[Params] convention=%s res=%.3f inf_res=%.3f ratio=%d prob_half=%v inf_half=%v",
		p.Convention.Name(), p.Resolution, p.InflationResolution, p.Ratio, p.ProbHalf, p.InfHalf)
	monitoring.Logf("[Params] l_hit=%.3f l_miss=%.3f l_min=%.3f l_max=%.3f l_occ=%.3f l_free=%.3f n_occ=%d n_free=%d",
		p.LHit, p.LMiss, p.LMin, p.LMax, p.LOcc, p.LFree, p.NOcc, p.NFree)
	if p.Ceil.Enabled {
		monitoring.Logf("[Params] virtual ceiling id=%d height=%.3f", p.Ceil.ID, p.Ceil.Height)
	}
	if p.Ground.Enabled {
		monitoring.Logf("[Params] virtual ground id=%d height=%.3f", p.Ground.ID, p.Ground.Height)
	}
}

// InflatedByPlane reports whether inflation-layer Z index z lies beyond a
// virtual plane.
func (p *Params) InflatedByPlane(z int) bool {
	return (p.Ceil.Enabled && z >= p.Ceil.ID) || (p.Ground.Enabled && z <= p.Ground.ID)
}

// ProbDims is the probability window size in base cells.
func (p *Params) ProbDims() geom.Index {
	return geom.Index{X: 2*p.ProbHalf.X + 1, Y: 2*p.ProbHalf.Y + 1, Z: 2*p.ProbHalf.Z + 1}
}
