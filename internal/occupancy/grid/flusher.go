package grid

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/banshee-data/slidemap/internal/timeutil"
)

// Persister is anything that can write its state through a SnapshotStore.
// Map implements it.
type Persister interface {
	Persist(store SnapshotStore, reason string) error
}

// SnapshotFlusher periodically persists a map.
type SnapshotFlusher struct {
	target   Persister
	store    SnapshotStore
	interval time.Duration
	reason   string
	clock    timeutil.Clock
	logger   *log.Logger
	mu       sync.Mutex
	running  bool
	flushes  int
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// SnapshotFlusherConfig contains configuration for SnapshotFlusher.
type SnapshotFlusherConfig struct {
	// Target is the Persister to flush (typically a Map)
	Target Persister
	// Store receives the snapshots
	Store SnapshotStore
	// Interval is how often to flush; zero or negative disables the loop
	Interval time.Duration
	// Reason tags periodic snapshots (default "periodic_flush")
	Reason string
	// Clock drives the ticker; nil uses the wall clock
	Clock timeutil.Clock
	// Logger is optional; if nil, uses log.Default()
	Logger *log.Logger
}

// NewSnapshotFlusher creates a new SnapshotFlusher.
func NewSnapshotFlusher(cfg SnapshotFlusherConfig) *SnapshotFlusher {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	reason := cfg.Reason
	if reason == "" {
		reason = "periodic_flush"
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &SnapshotFlusher{
		target:   cfg.Target,
		store:    cfg.Store,
		interval: cfg.Interval,
		reason:   reason,
		clock:    clock,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Run flushes on every tick until ctx is cancelled or Stop is called, then
// writes a final snapshot. It returns nil on clean shutdown.
func (f *SnapshotFlusher) Run(ctx context.Context) error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.doneCh = make(chan struct{})
	f.mu.Unlock()

	defer func() {
		close(f.doneCh)
		f.mu.Lock()
		f.running = false
		f.mu.Unlock()
	}()

	if f.interval <= 0 {
		f.logger.Printf("[SnapshotFlusher] interval is zero or negative, not starting")
		return nil
	}

	ticker := f.clock.NewTicker(f.interval)
	defer ticker.Stop()

	f.logger.Printf("[SnapshotFlusher] started: interval=%v", f.interval)

	for {
		select {
		case <-ctx.Done():
			f.logger.Printf("[SnapshotFlusher] stopping due to context cancellation")
			f.flushWith("final_flush")
			return nil
		case <-f.stopCh:
			f.logger.Printf("[SnapshotFlusher] stopping due to Stop() call")
			f.flushWith("final_flush")
			return nil
		case <-ticker.C():
			f.flushWith(f.reason)
		}
	}
}

// Stop requests the flusher to stop and waits for the final flush. It is
// safe to call multiple times.
func (f *SnapshotFlusher) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	select {
	case <-f.stopCh:
	default:
		close(f.stopCh)
	}
	done := f.doneCh
	f.mu.Unlock()

	<-done
}

// IsRunning returns whether the flusher loop is active.
func (f *SnapshotFlusher) IsRunning() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Flushes returns the number of successful flushes.
func (f *SnapshotFlusher) Flushes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

// FlushNow triggers an immediate flush outside the regular interval.
func (f *SnapshotFlusher) FlushNow() {
	f.flushWith("manual_flush")
}

func (f *SnapshotFlusher) flushWith(reason string) {
	if f.target == nil || f.store == nil {
		return
	}
	if err := f.target.Persist(f.store, reason); err != nil {
		f.logger.Printf("[SnapshotFlusher] error flushing (%s): %v", reason, err)
		return
	}
	f.mu.Lock()
	f.flushes++
	f.mu.Unlock()
}
