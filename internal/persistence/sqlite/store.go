// SPDX-License-Identifier: MIT

// Package sqlite persists audit runs and their per-chunk results.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // pure Go driver, no CGO

	"github.com/subhogram/riskobot/internal/audit"
	"github.com/subhogram/riskobot/internal/types"
)

// ErrRunNotFound is returned when a run ID does not exist.
var ErrRunNotFound = errors.New("sqlite: run not found")

// Run is one persisted audit run.
type Run struct {
	ID            string          `json:"id"`
	Status        types.JobStatus `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
	EvidenceFiles int             `json:"evidence_files"`
	Chunks        int             `json:"chunks"`
	WorkbookPath  string          `json:"-"`
	Error         string          `json:"error,omitempty"`
	Results       []audit.Result  `json:"results,omitempty"`
}

// Store provides SQLite persistence for audit runs.
type Store struct {
	db *sql.DB
}

// Open initializes the store at dbPath. WAL mode and busy_timeout are set in
// the DSN so the pragmas apply to every connection in the pool.
func Open(dbPath string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return store, nil
}

// Close closes the database connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies connectivity, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_runs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL CHECK(status IN ('pending', 'running', 'completed', 'failed', 'cancelled')),
		created_at TEXT NOT NULL,
		completed_at TEXT,
		evidence_files INTEGER NOT NULL DEFAULT 0,
		chunks INTEGER NOT NULL DEFAULT 0,
		workbook_path TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS audit_results (
		run_id TEXT NOT NULL REFERENCES audit_runs(id) ON DELETE CASCADE,
		evidence_file TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		policy TEXT NOT NULL DEFAULT '',
		verdict TEXT NOT NULL,
		control_statement TEXT NOT NULL DEFAULT '',
		assessment TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (run_id, evidence_file, chunk_index)
	);

	CREATE INDEX IF NOT EXISTS idx_audit_runs_created ON audit_runs(created_at);
	CREATE INDEX IF NOT EXISTS idx_audit_results_run ON audit_results(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// CreateRun inserts a new run in the given initial status.
func (s *Store) CreateRun(ctx context.Context, id string, status types.JobStatus, evidenceFiles int) error {
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO audit_runs (id, status, created_at, evidence_files)
	VALUES (?, ?, ?, ?)`,
		id, status.String(), time.Now().UTC().Format(time.RFC3339Nano), evidenceFiles)
	if err != nil {
		return fmt.Errorf("sqlite: create run: %w", err)
	}
	return nil
}

// UpdateRunStatus transitions a run to a new status. Terminal statuses also
// record the completion time.
func (s *Store) UpdateRunStatus(ctx context.Context, id string, status types.JobStatus, runErr string) error {
	var completedAt any
	if status.IsTerminal() {
		completedAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	res, err := s.db.ExecContext(ctx, `
	UPDATE audit_runs SET status = ?, completed_at = ?, error = ? WHERE id = ?`,
		status.String(), completedAt, runErr, id)
	if err != nil {
		return fmt.Errorf("sqlite: update run: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return nil
}

// SaveResults stores the per-chunk results of a run and its workbook path in
// one transaction.
func (s *Store) SaveResults(ctx context.Context, runID, workbookPath string, results []audit.Result) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO audit_results (run_id, evidence_file, chunk_index, policy, verdict, control_statement, assessment, error)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sqlite: prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx, runID, r.EvidenceFile, r.ChunkIndex, r.Policy, r.Verdict.String(), r.ControlStatement, r.Assessment, r.Err); err != nil {
			return fmt.Errorf("sqlite: insert result: %w", err)
		}
	}

	res, err := tx.ExecContext(ctx, `
	UPDATE audit_runs SET chunks = ?, workbook_path = ? WHERE id = ?`,
		len(results), workbookPath, runID)
	if err != nil {
		return fmt.Errorf("sqlite: update run counters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrRunNotFound
	}
	return tx.Commit()
}

// GetRun fetches a run with its results, newest chunk ordering preserved by
// evidence file then chunk index.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := s.scanRun(s.db.QueryRowContext(ctx, `
	SELECT id, status, created_at, completed_at, evidence_files, chunks, workbook_path, error
	FROM audit_runs WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
	SELECT evidence_file, chunk_index, policy, verdict, control_statement, assessment, error
	FROM audit_results WHERE run_id = ? ORDER BY evidence_file, chunk_index`, id)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var r audit.Result
		var verdict string
		if err := rows.Scan(&r.EvidenceFile, &r.ChunkIndex, &r.Policy, &verdict, &r.ControlStatement, &r.Assessment, &r.Err); err != nil {
			return nil, fmt.Errorf("sqlite: scan result: %w", err)
		}
		r.Verdict = types.Verdict(verdict)
		run.Results = append(run.Results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs newest-first, without their results.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit < 1 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, status, created_at, completed_at, evidence_files, chunks, workbook_path, error
	FROM audit_runs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// LastCompletedAt returns the completion time of the most recent successful
// run, for health reporting. The zero time means no run has completed yet.
func (s *Store) LastCompletedAt(ctx context.Context) (time.Time, error) {
	var completed sql.NullString
	err := s.db.QueryRowContext(ctx, `
	SELECT completed_at FROM audit_runs
	WHERE status = 'completed' ORDER BY completed_at DESC LIMIT 1`).Scan(&completed)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !completed.Valid) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339Nano, completed.String)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanRun(row rowScanner) (*Run, error) {
	var run Run
	var status, createdAt string
	var completedAt sql.NullString

	err := row.Scan(&run.ID, &status, &createdAt, &completedAt, &run.EvidenceFiles, &run.Chunks, &run.WorkbookPath, &run.Error)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan run: %w", err)
	}

	run.Status = types.JobStatus(status)
	if run.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("sqlite: parse created_at: %w", err)
	}
	if completedAt.Valid {
		t, err := time.Parse(time.RFC3339Nano, completedAt.String)
		if err != nil {
			return nil, fmt.Errorf("sqlite: parse completed_at: %w", err)
		}
		run.CompletedAt = &t
	}
	return &run, nil
}
