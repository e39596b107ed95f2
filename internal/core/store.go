package core

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/3cpo-dev/sputra/pkg/api"
)

// Recorder keeps a ledger of simulation batches.
type Recorder interface {
	BeginBatch(ctx context.Context, b Batch) (string, error)
	RecordRun(ctx context.Context, batchID string, run PlannedRun) error
	FinishBatch(ctx context.Context, batchID string, runErr error) error
}

// Batch is one Simulate call.
type Batch struct {
	ID         string
	Backend    string
	Keys       []string
	Runs       int
	OutputPath string
	Status     api.RunStatus
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// PlannedRun is one configuration file handed to the engine.
type PlannedRun struct {
	Key       string
	Index     int // repetition number, starting at 1
	Config    string
	OutputDir string
	Seed      int
}

// Store is a SQLite-backed persistence layer.
type Store struct{ db *sql.DB }

//go:embed migrations/*.sql
var migrationFS embed.FS

func NewStore(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir store: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// One connection keeps ":memory:" databases alive between calls.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	schema, err := migrationFS.ReadFile("migrations/0001_init.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(string(schema)); err != nil {
		return fmt.Errorf("apply migration: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errors.New("db not initialized")
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error { return s.db.Close() }

// BeginBatch stores b as running and returns its new ID.
func (s *Store) BeginBatch(ctx context.Context, b Batch) (string, error) {
	keys, err := json.Marshal(b.Keys)
	if err != nil {
		return "", fmt.Errorf("encode keys: %w", err)
	}
	if b.StartedAt.IsZero() {
		b.StartedAt = time.Now()
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO batches (id, backend, magnetrons, runs, output_path, status, started_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, b.Backend, string(keys), b.Runs, b.OutputPath, string(api.RunRunning), formatTime(b.StartedAt))
	if err != nil {
		return "", fmt.Errorf("insert batch: %w", err)
	}
	return id, nil
}

func (s *Store) RecordRun(ctx context.Context, batchID string, run PlannedRun) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (batch_id, magnetron, idx, config, output_dir, seed) VALUES (?, ?, ?, ?, ?, ?)`,
		batchID, run.Key, run.Index, run.Config, run.OutputDir, run.Seed)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// FinishBatch marks the batch succeeded, or failed with runErr.
func (s *Store) FinishBatch(ctx context.Context, batchID string, runErr error) error {
	status, msg := api.RunSucceeded, ""
	if runErr != nil {
		status, msg = api.RunFailed, runErr.Error()
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE batches SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), msg, formatTime(time.Now()), batchID)
	if err != nil {
		return fmt.Errorf("update batch: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update batch: no batch with id %s", batchID)
	}
	return nil
}

// ListBatches returns the most recent batches first. limit <= 0 returns all.
func (s *Store) ListBatches(ctx context.Context, limit int) ([]Batch, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, backend, magnetrons, runs, output_path, status, error, started_at, finished_at
		 FROM batches ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query batches: %w", err)
	}
	defer rows.Close()
	var out []Batch
	for rows.Next() {
		var (
			b                 Batch
			keys, status      string
			started, finished string
		)
		if err := rows.Scan(&b.ID, &b.Backend, &keys, &b.Runs, &b.OutputPath, &status, &b.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		if err := json.Unmarshal([]byte(keys), &b.Keys); err != nil {
			return nil, fmt.Errorf("decode keys: %w", err)
		}
		b.Status = api.RunStatus(status)
		b.StartedAt = parseTime(started)
		b.FinishedAt = parseTime(finished)
		out = append(out, b)
	}
	return out, rows.Err()
}

// ListRuns returns the runs of one batch in planning order.
func (s *Store) ListRuns(ctx context.Context, batchID string) ([]PlannedRun, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT magnetron, idx, config, output_dir, seed FROM runs WHERE batch_id = ? ORDER BY rowid`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()
	var out []PlannedRun
	for rows.Next() {
		var r PlannedRun
		if err := rows.Scan(&r.Key, &r.Index, &r.Config, &r.OutputDir, &r.Seed); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
