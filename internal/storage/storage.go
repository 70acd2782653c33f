// Package storage keeps a small run ledger in SQLite: one row per stage run
// and one row per notable per-item build event. The ledger is advisory; a nil
// Store disables recording without changing pipeline behavior.
package storage

import (
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for stage runs.
type Store struct {
	DB *sql.DB
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stage_runs (
            id TEXT PRIMARY KEY,
            stage TEXT NOT NULL,
            status TEXT NOT NULL,
            started_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT,
            items_planned INTEGER DEFAULT 0,
            items_built INTEGER DEFAULT 0,
            items_failed INTEGER DEFAULT 0
        );`,
		`CREATE TABLE IF NOT EXISTS build_events (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            run_id TEXT NOT NULL,
            item_id TEXT NOT NULL,
            stage TEXT NOT NULL,
            status TEXT NOT NULL,
            detail TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_build_events_run_id ON build_events(run_id);`,
		`CREATE INDEX IF NOT EXISTS idx_stage_runs_stage ON stage_runs(stage);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// RunRecord captures one persisted stage run.
type RunRecord struct {
	ID           string
	Stage        string
	Status       string
	Error        string
	ItemsPlanned int
	ItemsBuilt   int
	ItemsFailed  int
	StartedAt    time.Time
	CompletedAt  *time.Time
}

// EventRecord captures one per-item build event.
type EventRecord struct {
	RunID     string
	ItemID    string
	Stage     string
	Status    string
	Detail    string
	CreatedAt time.Time
}

// RecordRunStart inserts a running stage run.
func (s *Store) RecordRunStart(id, stage string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO stage_runs (id, stage, status) VALUES (?, ?, 'running');`,
		id, stage)
	return err
}

// RecordRunResult finalizes a stage run.
func (s *Store) RecordRunResult(id, status, errMsg string, planned, built, failed int) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE stage_runs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=?,
        items_planned=?, items_built=?, items_failed=? WHERE id=?;`,
		status, errMsg, planned, built, failed, id)
	return err
}

// RecordEvent stores one per-item outcome.
func (s *Store) RecordEvent(ev EventRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT INTO build_events (run_id, item_id, stage, status, detail) VALUES (?, ?, ?, ?, ?);`,
		ev.RunID, ev.ItemID, ev.Stage, ev.Status, ev.Detail)
	return err
}

// RecentRuns returns the latest stage runs up to limit.
func (s *Store) RecentRuns(limit int) ([]RunRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, stage, status, started_at, completed_at, error_message,
        items_planned, items_built, items_failed
        FROM stage_runs ORDER BY started_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []RunRecord
	for rows.Next() {
		var rec RunRecord
		var completed sql.NullTime
		var errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Stage, &rec.Status, &rec.StartedAt, &completed, &errorMsg,
			&rec.ItemsPlanned, &rec.ItemsBuilt, &rec.ItemsFailed); err != nil {
			return nil, err
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		if errorMsg.Valid {
			rec.Error = errorMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// RunEvents returns the per-item events of one run, oldest first.
func (s *Store) RunEvents(runID string, limit int) ([]EventRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT run_id, item_id, stage, status, detail, created_at
        FROM build_events WHERE run_id=? ORDER BY id ASC LIMIT ?;`, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []EventRecord
	for rows.Next() {
		var rec EventRecord
		var detail sql.NullString
		if err := rows.Scan(&rec.RunID, &rec.ItemID, &rec.Stage, &rec.Status, &detail, &rec.CreatedAt); err != nil {
			return nil, err
		}
		if detail.Valid {
			rec.Detail = detail.String
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
