// Package sqlite provides a SQLite-backed core.ArtifactStore so run reports
// and final artifacts survive process restarts.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/hupe1980/agentrelay/artifact"
	"github.com/hupe1980/agentrelay/core"
)

var _ core.ArtifactStore = (*Store)(nil)

// RunSummary describes one persisted run.
type RunSummary struct {
	RunID     string
	Artifacts int
	UpdatedAt time.Time
}

// Store keeps artifacts in a single table keyed by (run_id, name).
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates a SQLite database at path. Use ":memory:" for an
// ephemeral store.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS artifacts (
			run_id TEXT NOT NULL,
			name TEXT NOT NULL,
			data BLOB NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (run_id, name)
		);

		CREATE INDEX IF NOT EXISTS idx_artifacts_updated ON artifacts(updated_at);`

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save upserts an artifact.
func (s *Store) Save(runID, name string, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	_, err := s.db.Exec(
		`INSERT INTO artifacts (run_id, name, data, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(run_id, name) DO UPDATE SET
			data = excluded.data,
			updated_at = excluded.updated_at`,
		runID, name, data, s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save artifact: %w", err)
	}
	return nil
}

// Get returns the artifact bytes or artifact.ErrNotFound.
func (s *Store) Get(runID, name string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM artifacts WHERE run_id = ? AND name = ?`, runID, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, artifact.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return data, nil
}

// List returns the artifact names of a run in name order.
func (s *Store) List(runID string) ([]string, error) {
	rows, err := s.db.Query(`SELECT name FROM artifacts WHERE run_id = ? ORDER BY name`, runID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

// Delete removes an artifact or returns artifact.ErrNotFound.
func (s *Store) Delete(runID, name string) error {
	res, err := s.db.Exec(`DELETE FROM artifacts WHERE run_id = ? AND name = ?`, runID, name)
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	if n == 0 {
		return artifact.ErrNotFound
	}
	return nil
}

// Runs returns persisted runs, most recently updated first. limit <= 0
// returns all of them.
func (s *Store) Runs(limit int) ([]RunSummary, error) {
	query := `SELECT run_id, COUNT(*), MAX(updated_at) FROM artifacts
		GROUP BY run_id ORDER BY MAX(updated_at) DESC, run_id`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			rs      RunSummary
			updated string
		)
		if err := rows.Scan(&rs.RunID, &rs.Artifacts, &updated); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		rs.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated)
		if err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		out = append(out, rs)
	}
	return out, rows.Err()
}
