// Package history keeps a SQLite log of diagnostic runs so a designer can see
// how an expression's verdict changed over time.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/feasia/internal/diagnose"
)

// openDB is a package-level var to allow test injection
var openDB = sql.Open

// nowFunc is overridable in tests
var nowFunc = time.Now

// DefaultLimit caps listings when no limit is given
const DefaultLimit = 20

// ErrInvalidRunID is returned for run ids that are not UUIDs
var ErrInvalidRunID = errors.New("history: run id must be a UUID")

// Run is one stored diagnosis
type Run struct {
	RunID        string
	ExpressionID string
	RecordedAt   time.Time
	Rarity       diagnose.RarityCategory
	Impossible   bool
	TriggerRate  *float64
	Result       *diagnose.DiagnosticResult
}

// Store is the SQLite-backed run history
type Store struct {
	db *sql.DB
}

// NewRunID returns a fresh run id
func NewRunID() string {
	return uuid.NewString()
}

// Open opens or creates the history database at path
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("history: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("history: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: migration: %w", err)
	}
	return s, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS diagnoses (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id        TEXT NOT NULL,
			expression_id TEXT NOT NULL,
			recorded_at   TEXT NOT NULL,
			rarity        TEXT NOT NULL,
			impossible    INTEGER NOT NULL DEFAULT 0,
			trigger_rate  REAL,
			result        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_diagnoses_expression ON diagnoses(expression_id, id);
		CREATE INDEX IF NOT EXISTS idx_diagnoses_run ON diagnoses(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save records one result under a run
func (s *Store) Save(ctx context.Context, runID string, res *diagnose.DiagnosticResult) error {
	if _, err := uuid.Parse(runID); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}
	if res == nil {
		return fmt.Errorf("history: result is required")
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("history: marshal result: %w", err)
	}

	var rate sql.NullFloat64
	if r := res.TriggerRate(); r != nil {
		rate = sql.NullFloat64{Float64: *r, Valid: true}
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO diagnoses (run_id, expression_id, recorded_at, rarity, impossible, trigger_rate, result)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, res.ExpressionID(), nowFunc().UTC().Format(time.RFC3339Nano),
		string(res.RarityCategory()), res.IsImpossible(), rate, string(data),
	)
	if err != nil {
		return fmt.Errorf("history: save %s: %w", res.ExpressionID(), err)
	}
	return nil
}

// ListByExpression returns the most recent runs of an expression, newest first
func (s *Store) ListByExpression(ctx context.Context, expressionID string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return s.query(ctx,
		`SELECT run_id, expression_id, recorded_at, rarity, impossible, trigger_rate, result
		 FROM diagnoses WHERE expression_id = ? ORDER BY id DESC LIMIT ?`,
		expressionID, limit)
}

// ListByRun returns every result of one run in insertion order
func (s *Store) ListByRun(ctx context.Context, runID string) ([]Run, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}
	return s.query(ctx,
		`SELECT run_id, expression_id, recorded_at, rarity, impossible, trigger_rate, result
		 FROM diagnoses WHERE run_id = ? ORDER BY id ASC`,
		runID)
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			run        Run
			recordedAt string
			rarity     string
			rate       sql.NullFloat64
			data       string
		)
		if err := rows.Scan(&run.RunID, &run.ExpressionID, &recordedAt, &rarity, &run.Impossible, &rate, &data); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		if run.RecordedAt, err = time.Parse(time.RFC3339Nano, recordedAt); err != nil {
			return nil, fmt.Errorf("history: recorded_at %q: %w", recordedAt, err)
		}
		run.Rarity = diagnose.RarityCategory(rarity)
		if rate.Valid {
			v := rate.Float64
			run.TriggerRate = &v
		}
		var res diagnose.DiagnosticResult
		if err := json.Unmarshal([]byte(data), &res); err != nil {
			return nil, fmt.Errorf("history: decode %s: %w", run.ExpressionID, err)
		}
		run.Result = &res
		out = append(out, run)
	}
	return out, rows.Err()
}
