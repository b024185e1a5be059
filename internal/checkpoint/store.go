package checkpoint

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Load and Active when there is no such job.
var ErrNotFound = errors.New("checkpoint not found")

// Job status values.
const (
	StatusRunning  = "running"
	StatusComplete = "complete"
	StatusFailed   = "failed"
)

// Job is the persisted record of one search-and-replace job.
type Job struct {
	ID          string      `json:"id"`
	Status      string      `json:"status"`
	ConfigHash  string      `json:"config_hash,omitempty"`
	Checkpoint  *Checkpoint `json:"checkpoint,omitempty"`
	StartedAt   time.Time   `json:"started_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Invocations int         `json:"invocations"`
	RowsScanned int64       `json:"rows_scanned"`
	RowsChanged int64       `json:"rows_changed"`
	Error       string      `json:"error,omitempty"`
}

// Invocation is one bounded call of the engine within a job.
type Invocation struct {
	JobID         string        `json:"job_id"`
	Seq           int           `json:"seq"`
	StartedAt     time.Time     `json:"started_at"`
	Duration      time.Duration `json:"duration"`
	RowsScanned   int64         `json:"rows_scanned"`
	RowsChanged   int64         `json:"rows_changed"`
	UpdatesIssued int64         `json:"updates_issued"`
	Complete      bool          `json:"complete"`
	Error         string        `json:"error,omitempty"`
}

// Store persists jobs between invocations.
type Store interface {
	// Active returns the most recent running job.
	Active(ctx context.Context) (*Job, error)
	Load(ctx context.Context, id string) (*Job, error)
	Save(ctx context.Context, job *Job) error
	Delete(ctx context.Context, id string) error
	Close() error
}

// HistoryStore is a Store that also keeps past jobs and their invocations.
// Only the SQLite store implements it.
type HistoryStore interface {
	Store
	RecordInvocation(ctx context.Context, inv Invocation) error
	Jobs(ctx context.Context, limit int) ([]Job, error)
	Invocations(ctx context.Context, jobID string) ([]Invocation, error)
	CleanupOldJobs(ctx context.Context, before time.Time) (int64, error)
}

var (
	_ HistoryStore = (*State)(nil)
	_ Store        = (*FileState)(nil)
	_ Store        = (*RedisStore)(nil)
)
