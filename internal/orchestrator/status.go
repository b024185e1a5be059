package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/johndauphine/db-search-replace/internal/checkpoint"
	"github.com/johndauphine/db-search-replace/internal/cursor"
)

// Result describes a job, either after an invocation or for `status`.
type Result struct {
	JobID           string     `json:"job_id"`
	Status          string     `json:"status"`
	Complete        bool       `json:"complete"`
	DryRun          bool       `json:"dry_run,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Invocations     int        `json:"invocations"`
	RowsScanned     int64      `json:"rows_scanned"`
	RowsChanged     int64      `json:"rows_changed"`
	RowsProcessed   int64      `json:"rows_processed"`
	RowsExpected    int64      `json:"rows_expected"`
	ProgressPct     float64    `json:"progress_pct"`
	TablesTotal     int        `json:"tables_total"`
	TablesRemaining []string   `json:"tables_remaining,omitempty"`
	CurrentTable    string     `json:"current_table,omitempty"`
	Cursor          string     `json:"cursor,omitempty"`
	ConfigMatches   bool       `json:"config_matches"`
	Error           string     `json:"error,omitempty"`
}

func (o *Orchestrator) result(job *checkpoint.Job) *Result {
	r := &Result{
		JobID:         job.ID,
		Status:        job.Status,
		Complete:      job.Status == checkpoint.StatusComplete,
		DryRun:        o.config.Job.DryRun,
		StartedAt:     job.StartedAt,
		UpdatedAt:     job.UpdatedAt,
		CompletedAt:   job.CompletedAt,
		Invocations:   job.Invocations,
		RowsScanned:   job.RowsScanned,
		RowsChanged:   job.RowsChanged,
		ConfigMatches: job.ConfigHash == o.config.Hash(),
		Error:         job.Error,
	}
	cp := job.Checkpoint
	if cp == nil {
		r.ProgressPct = 100
		r.TablesTotal = len(o.config.Job.Tables)
		return r
	}
	r.RowsProcessed = cp.TotalRowsProcessed
	r.RowsExpected = cp.TotalRowsExpected
	r.ProgressPct = cp.Progress()
	r.TablesTotal = tableCount(cp)
	r.TablesRemaining = append([]string(nil), cp.RemainingTables...)
	if len(cp.RemainingTables) > 0 {
		r.CurrentTable = cp.RemainingTables[0]
		if cur, ok := cp.Cursor(r.CurrentTable); ok {
			r.Cursor = describeCursor(cur)
		}
	}
	return r
}

// describeCursor renders a cursor for operators.
func describeCursor(c cursor.Cursor) string {
	if c.Kind == cursor.KindOffset {
		return fmt.Sprintf("offset %d", c.Offset())
	}
	if len(c.LastKey) == 0 {
		return "seek from start"
	}
	keys := make([]string, 0, len(c.LastKey))
	for k := range c.LastKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + c.LastKey[k]
	}
	return "seek after " + strings.Join(parts, ", ")
}

// Status returns the job named by Options.JobID, else the active job, else
// the most recent job in history. It returns nil when there is none.
func (o *Orchestrator) Status(ctx context.Context) (*Result, error) {
	job, err := o.findJob(ctx)
	if errors.Is(err, checkpoint.ErrNotFound) && o.opts.JobID == "" {
		job, err = o.latestJob(ctx)
	}
	if errors.Is(err, checkpoint.ErrNotFound) {
		if o.opts.JobID != "" {
			return nil, fmt.Errorf("job not found: %s", o.opts.JobID)
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r := o.result(job)
	r.DryRun = false
	return r, nil
}

// findJob loads Options.JobID or the active job.
func (o *Orchestrator) findJob(ctx context.Context) (*checkpoint.Job, error) {
	if o.opts.JobID != "" {
		return o.store.Load(ctx, o.opts.JobID)
	}
	return o.store.Active(ctx)
}

func (o *Orchestrator) latestJob(ctx context.Context) (*checkpoint.Job, error) {
	hs, ok := o.store.(checkpoint.HistoryStore)
	if !ok {
		return nil, checkpoint.ErrNotFound
	}
	jobs, err := hs.Jobs(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(jobs) == 0 {
		return nil, checkpoint.ErrNotFound
	}
	return &jobs[0], nil
}

// History returns the most recent jobs, newest first. Only the SQLite
// state backend keeps history.
func (o *Orchestrator) History(ctx context.Context, limit int) ([]checkpoint.Job, error) {
	hs, ok := o.store.(checkpoint.HistoryStore)
	if !ok {
		return nil, errors.New("history requires the sqlite state backend")
	}
	if limit <= 0 {
		limit = 20
	}
	return hs.Jobs(ctx, limit)
}

// Invocations returns the invocation history of one job.
func (o *Orchestrator) Invocations(ctx context.Context, jobID string) ([]checkpoint.Invocation, error) {
	hs, ok := o.store.(checkpoint.HistoryStore)
	if !ok {
		return nil, errors.New("history requires the sqlite state backend")
	}
	if _, err := o.store.Load(ctx, jobID); err != nil {
		if errors.Is(err, checkpoint.ErrNotFound) {
			return nil, fmt.Errorf("job not found: %s", jobID)
		}
		return nil, err
	}
	return hs.Invocations(ctx, jobID)
}

// Reset deletes the job named by Options.JobID, or the active job, so the
// next run starts over. It returns the deleted job's id.
func (o *Orchestrator) Reset(ctx context.Context) (string, error) {
	job, err := o.findJob(ctx)
	if errors.Is(err, checkpoint.ErrNotFound) {
		if o.opts.JobID != "" {
			return "", fmt.Errorf("job not found: %s", o.opts.JobID)
		}
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if err := o.store.Delete(ctx, job.ID); err != nil {
		return "", fmt.Errorf("deleting job %s: %w", job.ID, err)
	}
	return job.ID, nil
}

// PrintStatus writes r for a terminal.
func PrintStatus(w io.Writer, r *Result) {
	if r == nil {
		fmt.Fprintln(w, "No active job")
		return
	}
	fmt.Fprintf(w, "Job:         %s\n", r.JobID)
	fmt.Fprintf(w, "Status:      %s\n", r.Status)
	fmt.Fprintf(w, "Started:     %s (%s)\n", r.StartedAt.Format(time.RFC3339), humanize.Time(r.StartedAt))
	fmt.Fprintf(w, "Updated:     %s\n", humanize.Time(r.UpdatedAt))
	fmt.Fprintf(w, "Invocations: %d\n", r.Invocations)
	fmt.Fprintf(w, "Rows:        %s scanned, %s changed\n", humanize.Comma(r.RowsScanned), humanize.Comma(r.RowsChanged))
	if r.RowsExpected > 0 {
		fmt.Fprintf(w, "Progress:    %.1f%% (%s of %s rows)\n", r.ProgressPct,
			humanize.Comma(r.RowsProcessed), humanize.Comma(r.RowsExpected))
	} else {
		fmt.Fprintf(w, "Progress:    %.1f%%\n", r.ProgressPct)
	}
	if len(r.TablesRemaining) > 0 {
		fmt.Fprintf(w, "Tables:      %d of %d left: %s\n", len(r.TablesRemaining), r.TablesTotal, strings.Join(r.TablesRemaining, ", "))
	}
	if r.Cursor != "" {
		fmt.Fprintf(w, "Cursor:      %s in %s\n", r.Cursor, r.CurrentTable)
	}
	if !r.ConfigMatches {
		fmt.Fprintln(w, "Warning:     config changed since this job started")
	}
	if r.Error != "" {
		fmt.Fprintf(w, "Error:       %s\n", r.Error)
	}
	if r.Status == checkpoint.StatusRunning {
		fmt.Fprintln(w, "Run 'run' or 'step' to continue.")
	} else if r.Status == checkpoint.StatusFailed {
		fmt.Fprintf(w, "Run 'run --job-id %s' to retry.\n", r.JobID)
	}
}

// PrintHistory writes a table of jobs.
func PrintHistory(w io.Writer, jobs []checkpoint.Job) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return
	}
	fmt.Fprintf(w, "%-10s %-20s %-10s %-6s %-14s %-12s\n", "ID", "Started", "Status", "Inv", "Scanned", "Changed")
	fmt.Fprintln(w, strings.Repeat("-", 78))
	for _, j := range jobs {
		fmt.Fprintf(w, "%-10s %-20s %-10s %-6d %-14s %-12s\n",
			j.ID, j.StartedAt.Local().Format("2006-01-02 15:04:05"), j.Status, j.Invocations,
			humanize.Comma(j.RowsScanned), humanize.Comma(j.RowsChanged))
	}
}

// PrintInvocations writes the invocation history of one job.
func PrintInvocations(w io.Writer, invs []checkpoint.Invocation) {
	if len(invs) == 0 {
		fmt.Fprintln(w, "No invocations recorded")
		return
	}
	fmt.Fprintf(w, "%-5s %-20s %-10s %-12s %-10s %-10s %s\n", "Seq", "Started", "Duration", "Scanned", "Changed", "Updates", "Result")
	for _, inv := range invs {
		outcome := "yielded"
		switch {
		case inv.Error != "":
			outcome = "failed: " + inv.Error
		case inv.Complete:
			outcome = "complete"
		}
		fmt.Fprintf(w, "%-5d %-20s %-10s %-12s %-10s %-10s %s\n",
			inv.Seq, inv.StartedAt.Local().Format("2006-01-02 15:04:05"), inv.Duration.Round(time.Millisecond),
			humanize.Comma(inv.RowsScanned), humanize.Comma(inv.RowsChanged), humanize.Comma(inv.UpdatesIssued), outcome)
	}
}
