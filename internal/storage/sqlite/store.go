package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/TahaAdapt/vapi-make-proxy/internal/storage"
)

// Store is a SQLite implementation of OutcomeStore
type Store struct {
	db *sql.DB
}

var _ storage.OutcomeStore = (*Store)(nil)

// New opens (or creates) the database at dbPath. dbPath may be a plain file
// path or a "file:" URI such as "file:test?mode=memory&cache=shared".
func New(dbPath string) (*Store, error) {
	if !strings.HasPrefix(dbPath, "file:") && dbPath != ":memory:" {
		if dir := filepath.Dir(dbPath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Outcomes are written one at a time; a single connection avoids
	// SQLITE_BUSY between pooled connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	store := &Store{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			status TEXT NOT NULL,
			error TEXT,
			duration_ns INTEGER NOT NULL DEFAULT 0,
			created_at_ns INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_request ON outcomes(request_id)`,
		`CREATE INDEX IF NOT EXISTS idx_outcomes_status ON outcomes(status)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to execute schema statement: %w", err)
		}
	}

	return nil
}

func (s *Store) RecordOutcome(ctx context.Context, o *storage.Outcome) error {
	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `INSERT INTO outcomes (request_id, status, error, duration_ns, created_at_ns)
	          VALUES (?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		o.RequestID, string(o.Status), o.Error, int64(o.Duration), createdAt.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}

	return nil
}

func (s *Store) ListOutcomes(ctx context.Context, opts storage.ListOptions) ([]*storage.Outcome, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = storage.DefaultListLimit
	}

	query := `SELECT request_id, status, COALESCE(error, ''), duration_ns, created_at_ns
	          FROM outcomes`
	args := []any{}
	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcomes: %w", err)
	}
	defer rows.Close()

	outcomes := []*storage.Outcome{}
	for rows.Next() {
		var (
			o          storage.Outcome
			status     string
			durationNS int64
			createdNS  int64
		)
		if err := rows.Scan(&o.RequestID, &status, &o.Error, &durationNS, &createdNS); err != nil {
			return nil, fmt.Errorf("failed to scan outcome: %w", err)
		}
		o.Status = storage.Status(status)
		o.Duration = time.Duration(durationNS)
		o.CreatedAt = time.Unix(0, createdNS)
		outcomes = append(outcomes, &o)
	}

	return outcomes, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
