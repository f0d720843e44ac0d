package grid

import (
	"bytes"
	"compress/gzip"
	"encoding/gob"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/slidemap/internal/monitoring"
	"github.com/banshee-data/slidemap/internal/occupancy/geom"
)

// ErrSnapshotMismatch is returned by Restore when a snapshot was taken with
// a different window geometry.
var ErrSnapshotMismatch = errors.New("snapshot does not match map geometry")

// Snapshot is a persisted copy of the probability layer. Slots are stored
// in torus order, so a snapshot restores only into a window of the same
// size, resolution and convention.
type Snapshot struct {
	ID            int64
	MapID         string
	TakenAt       time.Time
	Reason        string
	Convention    string
	Resolution    float64
	Center        geom.Index
	Dims          geom.Index
	Epoch         uint64
	OccupiedCells int
	Blob          []byte // gob+gzip []float32
}

// SnapshotStore persists snapshots. Implemented by sqlite.Store.
type SnapshotStore interface {
	InsertSnapshot(s *Snapshot) (int64, error)
}

func encodeLogOdds(l []float32) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gz).Encode(l); err != nil {
		gz.Close()
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeLogOdds(blob []byte) ([]float32, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty snapshot blob")
	}
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()
	var l []float32
	if err := gob.NewDecoder(gz).Decode(&l); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	return l, nil
}

// Snapshot copies the probability layer under the read lock and encodes
// it. Pending batch updates are not included.
func (m *Map) Snapshot(reason string) (*Snapshot, error) {
	m.mu.RLock()
	l := make([]float32, len(m.logOdds))
	copy(l, m.logOdds)
	s := &Snapshot{
		MapID:      m.id.String(),
		TakenAt:    m.clock.Now(),
		Reason:     reason,
		Convention: m.p.Convention.Name(),
		Resolution: m.p.Resolution,
		Center:     m.prob.Center(),
		Dims:       m.prob.Size(),
		Epoch:      m.epoch,
	}
	m.mu.RUnlock()

	for _, v := range l {
		if m.probState(v) == StateOccupied {
			s.OccupiedCells++
		}
	}
	blob, err := encodeLogOdds(l)
	if err != nil {
		return nil, err
	}
	s.Blob = blob
	return s, nil
}

// Persist writes a snapshot through store.
func (m *Map) Persist(store SnapshotStore, reason string) error {
	if store == nil {
		return nil
	}
	s, err := m.Snapshot(reason)
	if err != nil {
		return err
	}
	id, err := store.InsertSnapshot(s)
	if err != nil {
		return err
	}
	monitoring.Logf("[SlidingMap] persisted snapshot %d: reason=%s occupied=%d blob=%d bytes",
		id, reason, s.OccupiedCells, len(s.Blob))
	return nil
}

// Restore replaces the probability layer with s, moves the window to the
// snapshot's center and rebuilds every derived layer. Uncommitted batch
// updates are discarded and the epoch advances.
func (m *Map) Restore(s *Snapshot) error {
	if s == nil {
		return fmt.Errorf("nil snapshot")
	}
	if s.Dims != m.prob.Size() || s.Resolution != m.p.Resolution || s.Convention != m.p.Convention.Name() {
		return fmt.Errorf("%w: snapshot %s dims=%v res=%g, map %s dims=%v res=%g", ErrSnapshotMismatch,
			s.Convention, s.Dims, s.Resolution, m.p.Convention.Name(), m.prob.Size(), m.p.Resolution)
	}
	l, err := decodeLogOdds(s.Blob)
	if err != nil {
		return err
	}
	if len(l) != m.prob.Len() {
		return fmt.Errorf("%w: blob has %d cells, map has %d", ErrSnapshotMismatch, len(l), m.prob.Len())
	}

	m.prodMu.Lock()
	defer m.prodMu.Unlock()
	m.clearBatch()

	m.mu.Lock()
	copy(m.logOdds, l)
	m.prob.SetCenter(s.Center)
	m.inf.SetCenter(geom.CoarsenIndex(m.p.Convention, s.Center, m.p.Ratio))
	m.recountAll()
	m.epoch++
	m.esdfDirty = m.field != nil
	m.mu.Unlock()

	m.refreshField()
	monitoring.Logf("[SlidingMap] restored snapshot %d from map %s at %v (epoch %d)",
		s.ID, s.MapID, m.prob.WindowOrigin(), m.Epoch())
	return nil
}
