package grid

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/slidemap/internal/config"
	"github.com/banshee-data/slidemap/internal/monitoring"
	"github.com/banshee-data/slidemap/internal/occupancy/geom"
	"github.com/banshee-data/slidemap/internal/occupancy/params"
	"github.com/banshee-data/slidemap/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func fp(v float64) *float64 { return &v }
func bp(v bool) *bool       { return &v }
func ip(v int) *int         { return &v }
func sp(v string) *string   { return &v }

// smallConfig is a 2x2x1 m window with direct hits, small enough for the
// brute-force checks.
func smallConfig() *config.MapConfig {
	c := config.DefaultMapConfig()
	c.MapSize = []float64{2, 2, 1}
	c.Raycasting.Enable = bp(false)
	return c
}

func newTestMap(t *testing.T, c *config.MapConfig, clock timeutil.Clock) *Map {
	t.Helper()
	p, err := params.Derive(c)
	require.NoError(t, err)
	if clock == nil {
		clock = timeutil.NewMockClock(t0)
	}
	return New(p, clock)
}

func v3(x, y, z float64) r3.Vec { return r3.Vec{X: x, Y: y, Z: z} }

// hitTwice inserts each point as a direct hit in two clouds, which is
// enough to cross l_occ with the default probabilities.
func hitTwice(t *testing.T, m *Map, pts ...r3.Vec) {
	t.Helper()
	for k := 0; k < 2; k++ {
		require.NoError(t, m.InsertCloud(Cloud{Time: t0, Points: pts}))
	}
}

// checkInvariants rebuilds every derived layer from the probability layer
// with an independent traversal and compares it to the incremental state.
func checkInvariants(t *testing.T, m *Map) {
	t.Helper()
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.p

	occ := map[geom.Index]int32{}
	unk := map[geom.Index]int32{}
	m.prob.Box().Each(func(i geom.Index) {
		j := geom.CoarsenIndex(p.Convention, i, p.Ratio)
		switch m.probState(m.logOdds[m.prob.Addr(i)]) {
		case StateOccupied:
			occ[j]++
		case StateUnknown:
			unk[j]++
		}
	})
	inflated := func(j geom.Index, offsets []geom.Index, src map[geom.Index]int32) int32 {
		var n int32
		for _, o := range offsets {
			s := j.Add(o)
			if m.inf.InWindow(s) && src[s] > 0 {
				n++
			}
		}
		return n
	}

	bad := 0
	m.inf.Box().Each(func(j geom.Index) {
		if bad > 5 {
			return
		}
		a := m.inf.Addr(j)
		if m.occSrc[a] != occ[j] {
			t.Errorf("occSrc at %v = %d, want %d", j, m.occSrc[a], occ[j])
			bad++
		}
		if want := inflated(j, p.InfOffsets, occ); m.occInf[a] != want {
			t.Errorf("occInf at %v = %d, want %d", j, m.occInf[a], want)
			bad++
		}
		if p.UnkInflation {
			if m.unkSrc[a] != unk[j] {
				t.Errorf("unkSrc at %v = %d, want %d", j, m.unkSrc[a], unk[j])
				bad++
			}
			if want := inflated(j, p.UnkOffsets, unk); m.unkInf[a] != want {
				t.Errorf("unkInf at %v = %d, want %d", j, m.unkInf[a], want)
				bad++
			}
		}
	})

	if !p.Frontier {
		return
	}
	want := map[int]struct{}{}
	m.prob.Box().Each(func(i geom.Index) {
		a := m.prob.Addr(i)
		if m.probState(m.logOdds[a]) != StateFree {
			return
		}
		for _, o := range faceNeighbours {
			n := i.Add(o)
			if m.prob.InWindow(n) && m.probState(m.logOdds[m.prob.Addr(n)]) == StateUnknown {
				want[a] = struct{}{}
				return
			}
		}
	})
	require.Equal(t, len(want), len(m.frontier), "frontier size")
	for a := range want {
		_, ok := m.frontier[a]
		require.True(t, ok, "frontier missing cell %v", m.prob.IndexOf(a))
	}
}
