package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

const timeLayout = "2006-01-02 15:04:05.000"

// State keeps jobs and their invocation history in SQLite.
type State struct {
	db *sqlx.DB
}

// jobRow mirrors the jobs table.
type jobRow struct {
	ID          string         `db:"id"`
	Status      string         `db:"status"`
	ConfigHash  string         `db:"config_hash"`
	Checkpoint  sql.NullString `db:"checkpoint"`
	StartedAt   string         `db:"started_at"`
	UpdatedAt   string         `db:"updated_at"`
	CompletedAt sql.NullString `db:"completed_at"`
	Invocations int            `db:"invocations"`
	RowsScanned int64          `db:"rows_scanned"`
	RowsChanged int64          `db:"rows_changed"`
	Error       sql.NullString `db:"error_message"`
}

type invocationRow struct {
	JobID         string         `db:"job_id"`
	Seq           int            `db:"seq"`
	StartedAt     string         `db:"started_at"`
	DurationMS    int64          `db:"duration_ms"`
	RowsScanned   int64          `db:"rows_scanned"`
	RowsChanged   int64          `db:"rows_changed"`
	UpdatesIssued int64          `db:"updates_issued"`
	Complete      bool           `db:"complete"`
	Error         sql.NullString `db:"error_message"`
}

// NewState opens (creating if needed) the state database in dataDir.
func NewState(dataDir string) (*State, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "search-replace.db")
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &State{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return s, nil
}

func (s *State) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL DEFAULT 'running',
		config_hash TEXT NOT NULL DEFAULT '',
		checkpoint TEXT,
		started_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		completed_at TEXT,
		invocations INTEGER NOT NULL DEFAULT 0,
		rows_scanned INTEGER NOT NULL DEFAULT 0,
		rows_changed INTEGER NOT NULL DEFAULT 0,
		error_message TEXT
	);

	CREATE TABLE IF NOT EXISTS invocations (
		job_id TEXT NOT NULL REFERENCES jobs(id),
		seq INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		duration_ms INTEGER NOT NULL,
		rows_scanned INTEGER NOT NULL DEFAULT 0,
		rows_changed INTEGER NOT NULL DEFAULT 0,
		updates_issued INTEGER NOT NULL DEFAULT 0,
		complete INTEGER NOT NULL DEFAULT 0,
		error_message TEXT,
		PRIMARY KEY (job_id, seq)
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status, started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Active returns the most recently started running job.
func (s *State) Active(ctx context.Context) (*Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `
		SELECT * FROM jobs WHERE status = ?
		ORDER BY started_at DESC LIMIT 1
	`, StatusRunning)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading active job: %w", err)
	}
	return row.job()
}

// Load returns the job with the given id.
func (s *State) Load(ctx context.Context, id string) (*Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM jobs WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading job %s: %w", id, err)
	}
	return row.job()
}

// Save inserts or updates job.
func (s *State) Save(ctx context.Context, job *Job) error {
	var cp sql.NullString
	if job.Checkpoint != nil {
		data, err := Marshal(job.Checkpoint)
		if err != nil {
			return fmt.Errorf("encoding checkpoint: %w", err)
		}
		cp = sql.NullString{String: string(data), Valid: true}
	}
	var completed sql.NullString
	if job.CompletedAt != nil {
		completed = sql.NullString{String: job.CompletedAt.UTC().Format(timeLayout), Valid: true}
	}
	var errMsg sql.NullString
	if job.Error != "" {
		errMsg = sql.NullString{String: job.Error, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, status, config_hash, checkpoint, started_at, updated_at, completed_at,
			invocations, rows_scanned, rows_changed, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			config_hash = excluded.config_hash,
			checkpoint = excluded.checkpoint,
			updated_at = excluded.updated_at,
			completed_at = excluded.completed_at,
			invocations = excluded.invocations,
			rows_scanned = excluded.rows_scanned,
			rows_changed = excluded.rows_changed,
			error_message = excluded.error_message
	`, job.ID, job.Status, job.ConfigHash, cp,
		job.StartedAt.UTC().Format(timeLayout), job.UpdatedAt.UTC().Format(timeLayout),
		completed, job.Invocations, job.RowsScanned, job.RowsChanged, errMsg)
	if err != nil {
		return fmt.Errorf("saving job %s: %w", job.ID, err)
	}
	return nil
}

// Delete removes a job and its invocation history.
func (s *State) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM invocations WHERE job_id = ?`, id); err != nil {
		return fmt.Errorf("deleting invocations: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

// RecordInvocation appends one invocation to a job's history.
func (s *State) RecordInvocation(ctx context.Context, inv Invocation) error {
	var errMsg sql.NullString
	if inv.Error != "" {
		errMsg = sql.NullString{String: inv.Error, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invocations (job_id, seq, started_at, duration_ms, rows_scanned, rows_changed, updates_issued, complete, error_message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, inv.JobID, inv.Seq, inv.StartedAt.UTC().Format(timeLayout), inv.Duration.Milliseconds(),
		inv.RowsScanned, inv.RowsChanged, inv.UpdatesIssued, inv.Complete, errMsg)
	if err != nil {
		return fmt.Errorf("recording invocation: %w", err)
	}
	return nil
}

// Jobs returns the most recent jobs, newest first.
func (s *State) Jobs(ctx context.Context, limit int) ([]Job, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM jobs ORDER BY started_at DESC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	jobs := make([]Job, 0, len(rows))
	for _, r := range rows {
		j, err := r.job()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	return jobs, nil
}

// Invocations returns the history of one job in order.
func (s *State) Invocations(ctx context.Context, jobID string) ([]Invocation, error) {
	var rows []invocationRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM invocations WHERE job_id = ? ORDER BY seq`, jobID); err != nil {
		return nil, fmt.Errorf("listing invocations: %w", err)
	}
	invs := make([]Invocation, 0, len(rows))
	for _, r := range rows {
		started, _ := time.Parse(timeLayout, r.StartedAt)
		invs = append(invs, Invocation{
			JobID:         r.JobID,
			Seq:           r.Seq,
			StartedAt:     started,
			Duration:      time.Duration(r.DurationMS) * time.Millisecond,
			RowsScanned:   r.RowsScanned,
			RowsChanged:   r.RowsChanged,
			UpdatesIssued: r.UpdatesIssued,
			Complete:      r.Complete,
			Error:         r.Error.String,
		})
	}
	return invs, nil
}

// CleanupOldJobs deletes finished jobs completed before the given time.
// Running jobs are never removed.
func (s *State) CleanupOldJobs(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UTC().Format(timeLayout)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM invocations WHERE job_id IN (
			SELECT id FROM jobs WHERE status != ? AND completed_at IS NOT NULL AND completed_at < ?
		)
	`, StatusRunning, cutoff); err != nil {
		return 0, fmt.Errorf("deleting old invocations: %w", err)
	}
	res, err := tx.ExecContext(ctx, `
		DELETE FROM jobs WHERE status != ? AND completed_at IS NOT NULL AND completed_at < ?
	`, StatusRunning, cutoff)
	if err != nil {
		return 0, fmt.Errorf("deleting old jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}

func (r jobRow) job() (*Job, error) {
	j := &Job{
		ID:          r.ID,
		Status:      r.Status,
		ConfigHash:  r.ConfigHash,
		Invocations: r.Invocations,
		RowsScanned: r.RowsScanned,
		RowsChanged: r.RowsChanged,
		Error:       r.Error.String,
	}
	j.StartedAt, _ = time.Parse(timeLayout, r.StartedAt)
	j.UpdatedAt, _ = time.Parse(timeLayout, r.UpdatedAt)
	if r.CompletedAt.Valid {
		t, _ := time.Parse(timeLayout, r.CompletedAt.String)
		j.CompletedAt = &t
	}
	if r.Checkpoint.Valid {
		cp, err := Unmarshal([]byte(r.Checkpoint.String))
		if err != nil {
			return nil, fmt.Errorf("job %s: %w", r.ID, err)
		}
		j.Checkpoint = cp
	}
	return j, nil
}
