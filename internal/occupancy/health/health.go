// Package health exposes map freshness as a standard gRPC health service.
// The map is SERVING while poses arrive within odom_timeout and no cloud
// has been dropped since the last pose.
package health

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/banshee-data/slidemap/internal/monitoring"
	"github.com/banshee-data/slidemap/internal/occupancy/grid"
	"github.com/banshee-data/slidemap/internal/timeutil"
)

// DefaultService is the service name the map's status is published under.
// The empty service name mirrors it.
const DefaultService = "slidemap.Map"

// FreshnessSource reports map freshness. *grid.Map implements it.
type FreshnessSource interface {
	Freshness() grid.Freshness
}

// Config configures a Server.
type Config struct {
	ListenAddr string
	Source     FreshnessSource
	// Interval between freshness checks. Defaults to 250ms.
	Interval time.Duration
	Service  string
	Clock    timeutil.Clock
}

// Server publishes freshness on a gRPC health endpoint.
type Server struct {
	cfg    Config
	hs     *health.Server
	server *grpc.Server

	listener net.Listener
	running  atomic.Bool
	stopCh   chan struct{}
	wg       sync.WaitGroup

	mu     sync.Mutex
	last   healthpb.HealthCheckResponse_ServingStatus
	reason string
}

// NewServer returns a Server that is NOT_SERVING until the first Refresh.
func NewServer(cfg Config) *Server {
	if cfg.Interval <= 0 {
		cfg.Interval = 250 * time.Millisecond
	}
	if cfg.Service == "" {
		cfg.Service = DefaultService
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	s := &Server{
		cfg:  cfg,
		hs:   health.NewServer(),
		last: healthpb.HealthCheckResponse_UNKNOWN,
	}
	s.set(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Health returns the underlying health service for registration on a
// caller-owned gRPC server.
func (s *Server) Health() healthpb.HealthServer { return s.hs }

func (s *Server) set(st healthpb.HealthCheckResponse_ServingStatus) {
	s.hs.SetServingStatus("", st)
	s.hs.SetServingStatus(s.cfg.Service, st)
}

// Refresh reads the source once and publishes the result. Transitions are
// logged with the map's reason.
func (s *Server) Refresh() healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	reason := "no freshness source"
	if s.cfg.Source != nil {
		f := s.cfg.Source.Freshness()
		reason = f.Reason
		if f.Fresh {
			st = healthpb.HealthCheckResponse_SERVING
		}
	}

	s.mu.Lock()
	changed := st != s.last || reason != s.reason
	s.last, s.reason = st, reason
	s.mu.Unlock()

	if changed {
		s.set(st)
		if reason != "" {
			monitoring.Logf("[Health] %s: %s (%s)", s.cfg.Service, st, reason)
		} else {
			monitoring.Logf("[Health] %s: %s", s.cfg.Service, st)
		}
	}
	return st
}

// Start listens on ListenAddr, serves the health service and refreshes it
// every Interval until Stop.
func (s *Server) Start() error {
	if s.running.Load() {
		return fmt.Errorf("health server already running")
	}
	lis, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	s.listener = lis
	s.server = grpc.NewServer()
	healthpb.RegisterHealthServer(s.server, s.hs)
	s.stopCh = make(chan struct{})
	s.running.Store(true)
	s.Refresh()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		monitoring.Logf("[Health] gRPC health listening on %s", lis.Addr())
		if err := s.server.Serve(lis); err != nil && s.running.Load() {
			monitoring.Logf("[Health] gRPC server error: %v", err)
		}
	}()
	go s.watch()
	return nil
}

func (s *Server) watch() {
	defer s.wg.Done()
	ticker := s.cfg.Clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C():
			s.Refresh()
		}
	}
}

// Addr is the bound address once started.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop marks every service NOT_SERVING and stops the server gracefully.
func (s *Server) Stop() {
	if !s.running.Load() {
		return
	}
	s.running.Store(false)
	close(s.stopCh)
	s.hs.Shutdown()
	s.server.GracefulStop()
	s.wg.Wait()
	monitoring.Logf("[Health] gRPC health stopped")
}
