// Command slidemap hosts a sliding-window occupancy map. It restores the
// latest matching snapshot (or loads the configured static map), persists
// snapshots periodically, and serves the query API, debug views and a gRPC
// health endpoint that tracks pose freshness.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/banshee-data/slidemap/internal/config"
	"github.com/banshee-data/slidemap/internal/occupancy/grid"
	"github.com/banshee-data/slidemap/internal/occupancy/health"
	"github.com/banshee-data/slidemap/internal/occupancy/monitor"
	"github.com/banshee-data/slidemap/internal/occupancy/params"
	"github.com/banshee-data/slidemap/internal/occupancy/pointio"
	"github.com/banshee-data/slidemap/internal/occupancy/storage/sqlite"
	"github.com/banshee-data/slidemap/internal/timeutil"
	"github.com/banshee-data/slidemap/internal/version"
)

var (
	configPath  = flag.String("config", "", "Map configuration file (YAML or JSON); built-in defaults when empty")
	namespace   = flag.String("namespace", config.DefaultNamespace, "Key path of the map parameters inside the config file")
	listen      = flag.String("listen", ":8080", "HTTP listen address")
	grpcListen  = flag.String("grpc-listen", ":50051", "gRPC health listen address (empty disables)")
	exportDir   = flag.String("export-dir", "", "Directory for occupied cell exports (empty disables)")
	keepSnaps   = flag.Int("keep-snapshots", 20, "Snapshots kept after the final flush (0 keeps all)")
	devCloud    = flag.String("dev-cloud", "", "Replay this point file from the origin as a stationary sensor")
	devPeriod   = flag.Duration("dev-period", 100*time.Millisecond, "Replay period for -dev-cloud")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func loadConfig() (*config.MapConfig, error) {
	if *configPath == "" {
		return config.DefaultMapConfig(), nil
	}
	return config.LoadMapConfigNamespace(*configPath, *namespace)
}

// seedMap restores the newest snapshot with matching geometry. The static
// map only seeds a map that had nothing to restore, since a snapshot
// already carries whatever was loaded into its map.
func seedMap(m *grid.Map, p *params.Params, cfg *config.MapConfig, store *sqlite.Store) error {
	if store != nil {
		snap, err := store.LatestSnapshot(p.Convention.Name(), p.Resolution, p.ProbDims())
		switch {
		case err == nil:
			if err := m.Restore(snap); err != nil {
				return fmt.Errorf("restore snapshot %d: %w", snap.ID, err)
			}
			log.Printf("restored snapshot %d (%s, taken %s, %d occupied cells)",
				snap.ID, snap.Reason, snap.TakenAt.Format(time.RFC3339), snap.OccupiedCells)
			return nil
		case errors.Is(err, sqlite.ErrNoSnapshot):
			log.Printf("no snapshot matches the current map geometry")
		default:
			return fmt.Errorf("look up snapshot: %w", err)
		}
	}
	if cfg.GetStaticMapEnable() {
		pts, _, err := pointio.LoadASC(cfg.GetStaticMapPath())
		if err != nil {
			return fmt.Errorf("static map: %w", err)
		}
		m.LoadStatic(pts)
	}
	return nil
}

func main() {
	flag.Parse()
	if *showVersion {
		fmt.Println(version.String())
		return
	}
	log.Print(version.String())

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg, err := loadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	p, err := params.Derive(cfg)
	if err != nil {
		log.Fatalf("invalid map parameters: %v", err)
	}
	clock := timeutil.RealClock{}
	m := grid.New(p, clock)

	var store *sqlite.Store
	if cfg.GetSnapshotEnable() {
		store, err = sqlite.Open(cfg.GetSnapshotPath())
		if err != nil {
			log.Fatalf("failed to open snapshot store: %v", err)
		}
		defer store.Close()
	}
	if err := seedMap(m, p, cfg, store); err != nil {
		log.Fatalf("failed to seed map: %v", err)
	}

	var devPts []r3.Vec
	if *devCloud != "" {
		devPts, _, err = pointio.LoadASC(*devCloud)
		if err != nil {
			log.Fatalf("failed to load dev cloud: %v", err)
		}
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if store != nil {
		flusher := grid.NewSnapshotFlusher(grid.SnapshotFlusherConfig{
			Target:   m,
			Store:    store,
			Interval: cfg.GetSnapshotInterval(),
			Clock:    clock,
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := flusher.Run(ctx); err != nil {
				log.Printf("snapshot flusher: %v", err)
			}
			if *keepSnaps > 0 {
				if n, err := store.PruneSnapshots(*keepSnaps); err != nil {
					log.Printf("failed to prune snapshots: %v", err)
				} else if n > 0 {
					log.Printf("pruned %d old snapshots", n)
				}
			}
		}()
	}

	if *grpcListen != "" {
		hs := health.NewServer(health.Config{ListenAddr: *grpcListen, Source: m, Clock: clock})
		if err := hs.Start(); err != nil {
			log.Fatalf("failed to start health server: %v", err)
		}
		defer hs.Stop()
	}

	if len(devPts) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n := replayCloud(ctx, m, clock, r3.Vec{}, devPts, *devPeriod)
			log.Printf("dev replay stopped after %d clouds", n)
		}()
	}

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mcfg := monitor.Config{Map: m, ExportDir: *exportDir}
		if store != nil {
			mcfg.Store = store
		}
		mon := monitor.NewServer(mcfg)
		mux := http.NewServeMux()
		mon.RegisterRoutes(mux)
		mon.AttachAdminRoutes(mux)
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				log.Printf("failed to attach snapshot admin routes: %v", err)
			}
		}

		server := &http.Server{
			Addr:    *listen,
			Handler: mux,
		}
		go func() {
			log.Printf("Starting HTTP server on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
