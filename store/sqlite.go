// Package store persists fitted pipeline snapshots in a local SQLite file so
// a process can restart without retraining.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"railway-accident-analytics/pipeline"
)

// ErrNoSnapshot is returned when the store holds no matching snapshot.
var ErrNoSnapshot = errors.New("no pipeline snapshot stored")

// SnapshotInfo describes a stored snapshot without decoding it.
type SnapshotInfo struct {
	ID        uuid.UUID `json:"id"`
	TrainedAt time.Time `json:"trained_at"`
	MAE       float64   `json:"mae"`
	R2        float64   `json:"r2"`
	TrainSize int       `json:"train_size"`
	TestSize  int       `json:"test_size"`
	Source    string    `json:"source"`
	Bytes     int       `json:"bytes"`
}

// SnapshotStore is a SQLite-backed pipeline snapshot store.
type SnapshotStore struct {
	db *sql.DB
}

// NewSnapshotStore opens or creates the database at dbPath.
func NewSnapshotStore(dbPath string) (*SnapshotStore, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS pipeline_snapshots (
		id TEXT PRIMARY KEY,
		trained_at INTEGER NOT NULL,
		mae REAL NOT NULL,
		r2 REAL NOT NULL,
		train_size INTEGER NOT NULL,
		test_size INTEGER NOT NULL,
		source TEXT DEFAULT '',
		data BLOB NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_snapshots_trained_at ON pipeline_snapshots(trained_at);
	`)
	return err
}

// Save stores p. Saving the same run twice replaces the earlier copy.
func (s *SnapshotStore) Save(ctx context.Context, p *pipeline.Pipeline, source string) error {
	data, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	m := p.Metrics()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO pipeline_snapshots (id, trained_at, mae, r2, train_size, test_size, source, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			trained_at = excluded.trained_at,
			mae = excluded.mae,
			r2 = excluded.r2,
			train_size = excluded.train_size,
			test_size = excluded.test_size,
			source = excluded.source,
			data = excluded.data
	`, p.ID().String(), p.TrainedAt().UnixNano(), m.MAE, m.R2, m.TrainSize, m.TestSize, source, data)
	if err != nil {
		return fmt.Errorf("failed to save snapshot %s: %w", p.ID(), err)
	}
	return nil
}

// Latest restores the most recently trained snapshot.
func (s *SnapshotStore) Latest(ctx context.Context) (*pipeline.Pipeline, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT data FROM pipeline_snapshots ORDER BY trained_at DESC, rowid DESC LIMIT 1")
	return decodeRow(row)
}

// Get restores the snapshot of one run.
func (s *SnapshotStore) Get(ctx context.Context, id uuid.UUID) (*pipeline.Pipeline, error) {
	row := s.db.QueryRowContext(ctx, "SELECT data FROM pipeline_snapshots WHERE id = ?", id.String())
	return decodeRow(row)
}

func decodeRow(row *sql.Row) (*pipeline.Pipeline, error) {
	var data []byte
	if err := row.Scan(&data); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return pipeline.Decode(data)
}

// List returns stored snapshots, newest first.
func (s *SnapshotStore) List(ctx context.Context, limit int) ([]SnapshotInfo, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, trained_at, mae, r2, train_size, test_size, source, length(data)
		FROM pipeline_snapshots
		ORDER BY trained_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var (
			info      SnapshotInfo
			id        string
			trainedAt int64
		)
		if err := rows.Scan(&id, &trainedAt, &info.MAE, &info.R2, &info.TrainSize, &info.TestSize, &info.Source, &info.Bytes); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		if info.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("bad snapshot id %q: %w", id, err)
		}
		info.TrainedAt = time.Unix(0, trainedAt).UTC()
		out = append(out, info)
	}
	return out, rows.Err()
}

// Prune deletes all but the keep newest snapshots and reports how many went.
func (s *SnapshotStore) Prune(ctx context.Context, keep int) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM pipeline_snapshots WHERE id NOT IN (
			SELECT id FROM pipeline_snapshots ORDER BY trained_at DESC, rowid DESC LIMIT ?
		)
	`, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return res.RowsAffected()
}

// Close closes the database.
func (s *SnapshotStore) Close() error {
	return s.db.Close()
}
