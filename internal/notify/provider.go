package notify

import "time"

// Provider defines the notification contract for job events, so tests and
// other backends can stand in for Slack.
type Provider interface {
	// JobStarted is sent when a process starts or resumes a job.
	JobStarted(jobID, database string, tableCount int, resumed bool) error

	// JobCompleted is sent once every table has been processed.
	JobCompleted(jobID string, summary Summary) error

	// JobFailed is sent when an invocation stops on an error.
	JobFailed(jobID string, err error, duration time.Duration) error
}

// Summary describes a finished job.
type Summary struct {
	StartedAt   time.Time
	Duration    time.Duration
	Tables      int
	RowsScanned int64
	RowsChanged int64
	Invocations int
	DryRun      bool
}

// Ensure Notifier implements Provider
var _ Provider = (*Notifier)(nil)
