// Package sqlite persists map snapshots in a SQLite database. The schema is
// managed by embedded golang-migrate migrations applied on Open.
package sqlite

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/slidemap/internal/occupancy/geom"
	"github.com/banshee-data/slidemap/internal/occupancy/grid"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNoSnapshot is returned when no stored snapshot matches a lookup.
var ErrNoSnapshot = errors.New("no snapshot found")

// Store is a snapshot repository backed by one SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database at path and migrates it to
// the latest schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to execute %q: %w", p, err)
		}
	}
	s := &Store{db: db, path: path}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("[SnapshotStore] opened %s", path)
	return s, nil
}

// Path is the database file path.
func (s *Store) Path() string { return s.path }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// MigrateUp applies all pending migrations. It is a no-op at the latest
// version.
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Closing m would close the shared *sql.DB.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the applied schema version; 0 when none.
func (s *Store) MigrateVersion() (uint, bool, error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = migrateLogger{}
	return m, nil
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (migrateLogger) Verbose() bool { return false }

// InsertSnapshot stores s and returns its snapshot_id.
func (s *Store) InsertSnapshot(snap *grid.Snapshot) (int64, error) {
	if snap == nil {
		return 0, nil
	}
	var id int64
	err := retryOnBusy(func() error {
		res, err := s.db.Exec(`
			INSERT INTO map_snapshot (
				map_id, taken_unix_nanos, reason, convention, resolution,
				center_x, center_y, center_z, dim_x, dim_y, dim_z,
				epoch, occupied_cells, grid_blob
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			snap.MapID, snap.TakenAt.UnixNano(), snap.Reason, snap.Convention, snap.Resolution,
			snap.Center.X, snap.Center.Y, snap.Center.Z, snap.Dims.X, snap.Dims.Y, snap.Dims.Z,
			int64(snap.Epoch), snap.OccupiedCells, snap.Blob,
		)
		if err != nil {
			return err
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("insert snapshot: %w", err)
	}
	snap.ID = id
	return id, nil
}

const snapshotColumns = `snapshot_id, map_id, taken_unix_nanos, reason, convention, resolution,
	center_x, center_y, center_z, dim_x, dim_y, dim_z, epoch, occupied_cells`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row scanner, withBlob bool) (*grid.Snapshot, error) {
	var (
		snap  grid.Snapshot
		taken int64
		epoch int64
	)
	dest := []interface{}{
		&snap.ID, &snap.MapID, &taken, &snap.Reason, &snap.Convention, &snap.Resolution,
		&snap.Center.X, &snap.Center.Y, &snap.Center.Z, &snap.Dims.X, &snap.Dims.Y, &snap.Dims.Z,
		&epoch, &snap.OccupiedCells,
	}
	if withBlob {
		dest = append(dest, &snap.Blob)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	snap.TakenAt = time.Unix(0, taken).UTC()
	snap.Epoch = uint64(epoch)
	return &snap, nil
}

// GetSnapshot loads one snapshot with its blob.
func (s *Store) GetSnapshot(id int64) (*grid.Snapshot, error) {
	row := s.db.QueryRow(`SELECT `+snapshotColumns+`, grid_blob FROM map_snapshot WHERE snapshot_id = ?`, id)
	snap, err := scanSnapshot(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot %d: %w", id, ErrNoSnapshot)
	}
	return snap, err
}

// LatestSnapshot returns the newest snapshot whose geometry matches, so it
// can be restored into a map built with the same parameters.
func (s *Store) LatestSnapshot(convention string, resolution float64, dims geom.Index) (*grid.Snapshot, error) {
	row := s.db.QueryRow(`SELECT `+snapshotColumns+`, grid_blob FROM map_snapshot
		WHERE convention = ? AND resolution = ? AND dim_x = ? AND dim_y = ? AND dim_z = ?
		ORDER BY taken_unix_nanos DESC, snapshot_id DESC LIMIT 1`,
		convention, resolution, dims.X, dims.Y, dims.Z)
	snap, err := scanSnapshot(row, true)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	return snap, err
}

// ListSnapshots returns snapshot metadata without blobs, newest first.
func (s *Store) ListSnapshots(limit int) ([]*grid.Snapshot, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`SELECT `+snapshotColumns+` FROM map_snapshot
		ORDER BY taken_unix_nanos DESC, snapshot_id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*grid.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows, false)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

// PruneSnapshots keeps the newest keep snapshots and deletes the rest.
func (s *Store) PruneSnapshots(keep int) (int64, error) {
	var n int64
	err := retryOnBusy(func() error {
		res, err := s.db.Exec(`DELETE FROM map_snapshot WHERE snapshot_id NOT IN (
			SELECT snapshot_id FROM map_snapshot ORDER BY taken_unix_nanos DESC, snapshot_id DESC LIMIT ?)`, keep)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// isSQLiteBusy reports whether err is a transient lock error.
func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// retryOnBusy runs fn up to five times, backing off exponentially from
// 10ms while SQLite reports the database busy.
func retryOnBusy(fn func() error) error {
	const attempts = 5
	delay := 10 * time.Millisecond
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); !isSQLiteBusy(err) {
			return err
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
