// Package orchestrator drives a search-and-replace job across invocations:
// it picks or creates the job, opens the database, runs the engine, and
// persists the checkpoint, history and notifications after every
// invocation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/johndauphine/db-search-replace/internal/checkpoint"
	"github.com/johndauphine/db-search-replace/internal/config"
	"github.com/johndauphine/db-search-replace/internal/driver"
	"github.com/johndauphine/db-search-replace/internal/engine"
	"github.com/johndauphine/db-search-replace/internal/logging"
	"github.com/johndauphine/db-search-replace/internal/metrics"
	"github.com/johndauphine/db-search-replace/internal/notify"
	"github.com/johndauphine/db-search-replace/internal/progress"
	"github.com/johndauphine/db-search-replace/internal/rewrite"
	"github.com/johndauphine/db-search-replace/internal/schema"
	"github.com/johndauphine/db-search-replace/internal/stats"
)

// ErrIncomplete is returned by Step when the invocation yielded with work
// left. Invoke again to continue.
var ErrIncomplete = errors.New("job incomplete, invoke again to continue")

var _ Resumer = (*progress.Tracker)(nil)

// Options configures an Orchestrator beyond what the config file holds.
type Options struct {
	// JobID selects a stored job instead of the active one. Failed jobs are
	// only resumed when named here.
	JobID string
	// StateFile overrides the configured state backend with a YAML file.
	StateFile string
	// ForceResume resumes a job whose config hash no longer matches.
	ForceResume bool

	Progress progress.Options
	// Observer receives engine events alongside the progress tracker and
	// metrics collector.
	Observer engine.Observer
}

// Resumer is implemented by observers that need the stored totals before
// each invocation, since JobCounted only fires once per job.
type Resumer interface {
	Resume(processed, total int64, tables, tablesDone int)
}

// Orchestrator coordinates the job lifecycle.
type Orchestrator struct {
	config   *config.Config
	opts     Options
	driver   driver.Driver
	store    checkpoint.Store
	db       *sqlx.DB
	notifier notify.Provider
	progress *progress.Tracker
	metrics  *metrics.Collector
	now      func() time.Time
}

// New creates an orchestrator and opens its state store. The database is
// connected lazily by Run and Step.
func New(cfg *config.Config, opts Options) (*Orchestrator, error) {
	d, err := cfg.Driver()
	if err != nil {
		return nil, err
	}
	store, err := openStore(context.Background(), cfg, opts.StateFile)
	if err != nil {
		return nil, err
	}
	return &Orchestrator{
		config:   cfg,
		opts:     opts,
		driver:   d,
		store:    store,
		notifier: notify.New(&cfg.Slack),
		progress: progress.New(opts.Progress),
		metrics:  metrics.New(),
		now:      time.Now,
	}, nil
}

// openStore picks the checkpoint store. An explicit state file wins over
// the configured backend.
func openStore(ctx context.Context, cfg *config.Config, stateFile string) (checkpoint.Store, error) {
	if stateFile != "" {
		return checkpoint.NewFileState(stateFile)
	}
	switch cfg.State.Backend {
	case config.BackendFile:
		return checkpoint.NewFileState(cfg.State.File)
	case config.BackendRedis:
		return checkpoint.NewRedisStore(ctx, cfg.State.RedisURL, cfg.State.RedisPrefix)
	default:
		if err := config.EnsureDataDir(cfg.State.DataDir); err != nil {
			return nil, err
		}
		store, err := checkpoint.NewState(cfg.State.DataDir)
		if err != nil {
			return nil, fmt.Errorf("creating state store: %w", err)
		}
		return store, nil
	}
}

// Close releases the database connection and the state store.
func (o *Orchestrator) Close() {
	if o.db != nil {
		o.db.Close()
	}
	if err := o.store.Close(); err != nil {
		logging.Warn("Closing state store: %v", err)
	}
}

// Metrics returns the collector fed by every invocation.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Run invokes the engine repeatedly, pausing between invocations, until the
// job completes, fails, or ctx is cancelled. Cancellation leaves a saved
// checkpoint and returns ctx.Err().
func (o *Orchestrator) Run(ctx context.Context) (*Result, error) {
	if listen := o.config.Metrics.Listen; listen != "" {
		serveCtx, stop := context.WithCancel(ctx)
		defer stop()
		if _, err := o.metrics.Serve(serveCtx, listen); err != nil {
			return nil, err
		}
	}
	return o.run(ctx, false)
}

// Step performs exactly one invocation. It returns ErrIncomplete when the
// job yielded with work left.
func (o *Orchestrator) Step(ctx context.Context) (*Result, error) {
	return o.run(ctx, true)
}

func (o *Orchestrator) run(ctx context.Context, once bool) (*Result, error) {
	job, resumed, err := o.prepare(ctx)
	if err != nil {
		return nil, err
	}
	if err := o.connect(ctx); err != nil {
		return nil, err
	}
	eng, err := o.newEngine()
	if err != nil {
		return nil, err
	}

	started := o.now()
	o.announce(job, resumed)

	for {
		res, err := o.invoke(ctx, eng, job)
		if err != nil {
			o.fail(job, err, started)
			return o.result(job), err
		}
		if res.Complete {
			o.complete(ctx, job)
			return o.result(job), nil
		}
		if ctx.Err() != nil {
			logging.Warn("Job %s interrupted, checkpoint saved. Run again to resume.", job.ID)
			return o.result(job), ctx.Err()
		}
		o.progress.Yielded()
		if once {
			return o.result(job), ErrIncomplete
		}
		if pause := o.config.Job.Pause; pause > 0 {
			select {
			case <-ctx.Done():
				logging.Warn("Job %s interrupted, checkpoint saved. Run again to resume.", job.ID)
				return o.result(job), ctx.Err()
			case <-time.After(pause):
			}
		}
	}
}

// prepare loads the job to continue or creates a new one. A dry run never
// touches stored jobs.
func (o *Orchestrator) prepare(ctx context.Context) (*checkpoint.Job, bool, error) {
	hash := o.config.Hash()

	var job *checkpoint.Job
	if !o.config.Job.DryRun {
		var err error
		if o.opts.JobID != "" {
			job, err = o.store.Load(ctx, o.opts.JobID)
			if errors.Is(err, checkpoint.ErrNotFound) {
				return nil, false, fmt.Errorf("job not found: %s", o.opts.JobID)
			}
			if err != nil {
				return nil, false, err
			}
			if job.Status == checkpoint.StatusComplete {
				return nil, false, fmt.Errorf("job %s is already complete", job.ID)
			}
		} else {
			job, err = o.store.Active(ctx)
			if errors.Is(err, checkpoint.ErrNotFound) {
				job = nil
			} else if err != nil {
				return nil, false, err
			}
		}
	}

	if job == nil {
		now := o.now()
		job = &checkpoint.Job{
			ID:         uuid.New().String()[:8],
			Status:     checkpoint.StatusRunning,
			ConfigHash: hash,
			Checkpoint: checkpoint.New(o.config.Job.Tables),
			StartedAt:  now,
			UpdatedAt:  now,
		}
		return job, false, nil
	}

	if job.ConfigHash != hash {
		if !o.opts.ForceResume {
			return nil, false, fmt.Errorf("config changed since job %s started (hash %s, now %s): run reset or pass --force-resume",
				job.ID, job.ConfigHash, hash)
		}
		logging.Warn("Config changed since job %s started, resuming anyway", job.ID)
		job.ConfigHash = hash
	}
	if job.Checkpoint == nil {
		logging.Warn("Job %s has no checkpoint, starting its tables over", job.ID)
		job.Checkpoint = checkpoint.New(o.config.Job.Tables)
	}
	job.Status = checkpoint.StatusRunning
	job.Error = ""
	job.CompletedAt = nil
	return job, true, nil
}

func (o *Orchestrator) connect(ctx context.Context) error {
	if o.db != nil {
		return nil
	}
	db, err := driver.Open(ctx, o.driver, o.config.ConnParams())
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", o.driver.Name(), err)
	}
	o.db = db
	return nil
}

func (o *Orchestrator) newEngine() (*engine.Engine, error) {
	job := o.config.Job
	return engine.New(o.db, o.driver.Dialect(), schema.NewIntrospector(o.db, o.driver, o.config.Database.Schema), engine.Options{
		Pairs:             job.Pairs,
		ExcludedColumn:    job.ExcludedColumn,
		Schema:            o.config.Database.Schema,
		PageSize:          job.PageSize,
		Budget:            job.Budget,
		ShouldApplyUpdate: o.shouldApplyUpdate,
		Observer:          engine.Observers(o.progress, o.metrics, o.opts.Observer),
		Now:               o.now,
	})
}

// shouldApplyUpdate vetoes every UPDATE in a dry run.
func (o *Orchestrator) shouldApplyUpdate(string, rewrite.Where) bool {
	return !o.config.Job.DryRun
}

// announce logs the job start and sends the Slack notice for new jobs.
func (o *Orchestrator) announce(job *checkpoint.Job, resumed bool) {
	cp := job.Checkpoint
	tables := tableCount(cp)
	if resumed {
		logging.Info("Resuming job %s: %d of %d tables left, %.1f%% done",
			job.ID, len(cp.RemainingTables), tables, cp.Progress())
	} else {
		logging.Info("Starting job %s over %d tables", job.ID, tables)
	}
	if o.config.Job.DryRun {
		logging.Warn("Dry run: no rows will be updated and progress is not saved")
	}
	// Step is called once per cron tick; only the first invocation notifies.
	if job.Invocations == 0 || (resumed && o.opts.JobID != "") {
		if err := o.notifier.JobStarted(job.ID, o.config.Describe(), tables, resumed); err != nil {
			logging.Warn("Slack notification failed: %v", err)
		}
	}
}

// invoke runs one engine invocation and persists its outcome.
func (o *Orchestrator) invoke(ctx context.Context, eng *engine.Engine, job *checkpoint.Job) (engine.Result, error) {
	cp := job.Checkpoint
	tables := tableCount(cp)
	o.progress.Resume(cp.TotalRowsProcessed, cp.TotalRowsExpected, tables, tables-len(cp.RemainingTables))
	if r, ok := o.opts.Observer.(Resumer); ok {
		r.Resume(cp.TotalRowsProcessed, cp.TotalRowsExpected, tables, tables-len(cp.RemainingTables))
	}
	o.metrics.Resume(cp.TotalRowsExpected, tables)

	start := o.now()
	res, runErr := eng.Run(ctx, cp)
	elapsed := o.now().Sub(start)
	logging.Debug("Pool %s", stats.FromDB(o.driver.Name(), o.db.Stats()))

	job.Invocations++
	job.RowsScanned += res.Stats.RowsScanned
	job.RowsChanged += res.Stats.RowsChanged
	job.UpdatedAt = o.now()

	outcome := metrics.OutcomeYielded
	finished := job.UpdatedAt
	switch {
	case runErr != nil:
		outcome = metrics.OutcomeFailed
		job.Status = checkpoint.StatusFailed
		job.Error = runErr.Error()
		job.CompletedAt = &finished
	case res.Complete:
		outcome = metrics.OutcomeComplete
		job.Status = checkpoint.StatusComplete
		job.Checkpoint = nil
		job.CompletedAt = &finished
	}
	o.metrics.RecordInvocation(outcome, elapsed)

	if o.config.Job.DryRun {
		return res, runErr
	}

	// The checkpoint must land even when ctx was cancelled mid-invocation.
	saveCtx := context.WithoutCancel(ctx)
	if err := o.store.Save(saveCtx, job); err != nil {
		if runErr != nil {
			return res, fmt.Errorf("%w (saving checkpoint also failed: %v)", runErr, err)
		}
		return res, fmt.Errorf("saving checkpoint: %w", err)
	}
	if hs, ok := o.store.(checkpoint.HistoryStore); ok {
		inv := checkpoint.Invocation{
			JobID:         job.ID,
			Seq:           job.Invocations,
			StartedAt:     start,
			Duration:      elapsed,
			RowsScanned:   res.Stats.RowsScanned,
			RowsChanged:   res.Stats.RowsChanged,
			UpdatesIssued: res.Stats.UpdatesIssued,
			Complete:      res.Complete,
			Error:         job.Error,
		}
		if err := hs.RecordInvocation(saveCtx, inv); err != nil {
			logging.Warn("Recording invocation history: %v", err)
		}
	}
	return res, runErr
}

func (o *Orchestrator) complete(ctx context.Context, job *checkpoint.Job) {
	o.progress.Finish()

	summary := notify.Summary{
		StartedAt:   job.StartedAt,
		Duration:    job.UpdatedAt.Sub(job.StartedAt),
		Tables:      len(o.config.Job.Tables),
		RowsScanned: job.RowsScanned,
		RowsChanged: job.RowsChanged,
		Invocations: job.Invocations,
		DryRun:      o.config.Job.DryRun,
	}
	logging.Info("Job %s complete after %d invocations", job.ID, job.Invocations)
	if err := o.notifier.JobCompleted(job.ID, summary); err != nil {
		logging.Warn("Slack notification failed: %v", err)
	}

	if hs, ok := o.store.(checkpoint.HistoryStore); ok && o.config.Job.RetentionDays > 0 {
		cutoff := o.now().AddDate(0, 0, -o.config.Job.RetentionDays)
		n, err := hs.CleanupOldJobs(context.WithoutCancel(ctx), cutoff)
		if err != nil {
			logging.Warn("Cleaning up old jobs: %v", err)
		} else if n > 0 {
			logging.Debug("Removed %d jobs older than %d days", n, o.config.Job.RetentionDays)
		}
	}
}

func (o *Orchestrator) fail(job *checkpoint.Job, err error, started time.Time) {
	logging.Error("Job %s failed: %v", job.ID, err)
	if !o.config.Job.DryRun {
		logging.Error("Fix the cause and resume with --job-id %s", job.ID)
	}
	if nerr := o.notifier.JobFailed(job.ID, err, o.now().Sub(started)); nerr != nil {
		logging.Warn("Slack notification failed: %v", nerr)
	}
}

// tableCount is the number of tables in the job, done or not.
func tableCount(cp *checkpoint.Checkpoint) int {
	if cp == nil {
		return 0
	}
	if cp.Counted() {
		return len(cp.TableRows)
	}
	return len(cp.RemainingTables)
}
