package main

import (
	"context"
	"errors"
	"log"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/slidemap/internal/occupancy/grid"
	"github.com/banshee-data/slidemap/internal/timeutil"
)

// ingester is the producer side of the map.
type ingester interface {
	UpdatePose(pose grid.Pose)
	InsertCloud(c grid.Cloud) error
}

// replayCloud feeds pts as a stationary sensor at origin once per period
// until ctx is done. It stands in for a live sensor in dev mode and
// returns the number of clouds inserted.
func replayCloud(ctx context.Context, m ingester, clock timeutil.Clock, origin r3.Vec, pts []r3.Vec, period time.Duration) int {
	ticker := clock.NewTicker(period)
	defer ticker.Stop()
	n := 0
	for {
		select {
		case <-ctx.Done():
			return n
		case <-ticker.C():
			now := clock.Now()
			m.UpdatePose(grid.Pose{Time: now, Position: origin})
			err := m.InsertCloud(grid.Cloud{Time: now, Points: pts})
			switch {
			case err == nil:
				n++
			case errors.Is(err, grid.ErrStalePose), errors.Is(err, grid.ErrNoPose):
				log.Printf("dev replay: cloud dropped: %v", err)
			default:
				log.Printf("dev replay: %v", err)
			}
		}
	}
}
