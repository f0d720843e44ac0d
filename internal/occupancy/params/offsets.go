package params

import (
	"math"
	"sort"

	"github.com/banshee-data/slidemap/internal/occupancy/geom"
)

// NearestSearchRadius bounds NearestFeasible lookups, in meters.
const NearestSearchRadius = 5.0

// SphericalOffsets lists every integer offset with squared norm <= step²,
// sorted by squared norm. Step 1 keeps the full 3x3x3 cube so the 26
// neighbours and the center are all present. Ties keep generation order
// (dx, then dy, then dz ascending) so rebuilds are identical.
func SphericalOffsets(step int) []geom.Index {
	if step < 0 {
		return nil
	}
	var out []geom.Index
	for dx := -step; dx <= step; dx++ {
		for dy := -step; dy <= step; dy++ {
			for dz := -step; dz <= step; dz++ {
				o := geom.Index{X: dx, Y: dy, Z: dz}
				if step == 1 || o.Norm2() <= step*step {
					out = append(out, o)
				}
			}
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Norm2() < out[b].Norm2()
	})
	return out
}

// searchOffsets is always a true sphere, even at step 1.
func searchOffsets(res float64) []geom.Index {
	step := int(math.Ceil(NearestSearchRadius/res - 1e-9))
	var out []geom.Index
	for dx := -step; dx <= step; dx++ {
		for dy := -step; dy <= step; dy++ {
			for dz := -step; dz <= step; dz++ {
				o := geom.Index{X: dx, Y: dy, Z: dz}
				if o.Norm2() <= step*step {
					out = append(out, o)
				}
			}
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		return out[a].Norm2() < out[b].Norm2()
	})
	return out
}
