// Package progress reports how far a search-replace job has got, as a
// terminal progress bar, JSON lines, or both.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/johndauphine/db-search-replace/internal/logging"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Interactive reports whether f is a terminal, which decides whether a
// progress bar is drawn.
func Interactive(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// Options configures a Tracker.
type Options struct {
	// Bar draws a progress bar on Writer.
	Bar    bool
	Writer io.Writer
	// Reporter receives JSON updates; nil disables them.
	Reporter Reporter
}

// Tracker follows engine events across one or more invocations of a job.
type Tracker struct {
	opts      Options
	reporter  Reporter
	bar       *progressbar.ProgressBar
	startTime time.Time
	now       func() time.Time

	mu         sync.Mutex
	total      int64
	processed  int64
	baseline   int64 // rows processed before this tracker started
	changed    int64
	tables     int
	tablesDone int
	current    string
}

// New creates a new progress tracker
func New(opts Options) *Tracker {
	if opts.Writer == nil {
		opts.Writer = os.Stderr
	}
	reporter := opts.Reporter
	if reporter == nil {
		reporter = &NullReporter{}
	}
	return &Tracker{
		opts:      opts,
		reporter:  reporter,
		startTime: time.Now(),
		now:       time.Now,
	}
}

// Resume seeds the tracker from a stored checkpoint before an invocation.
// total is zero until the job has been counted.
func (t *Tracker) Resume(processed, total int64, tables, tablesDone int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.baseline == 0 && t.processed == 0 {
		t.baseline = processed
	}
	t.processed = processed
	t.tables = tables
	t.tablesDone = tablesDone
	if total > 0 {
		t.setTotalLocked(total)
	}
}

// JobCounted records the job totals once the tables have been counted.
func (t *Tracker) JobCounted(tables int, rows int64) {
	t.mu.Lock()
	t.tables = tables
	t.setTotalLocked(rows)
	update := t.snapshotLocked(PhaseCounting)
	t.mu.Unlock()

	t.reporter.ReportImmediate(update)
}

func (t *Tracker) setTotalLocked(total int64) {
	if t.total == total && (t.bar != nil || !t.opts.Bar) {
		return
	}
	t.total = total
	if !t.opts.Bar {
		return
	}
	t.bar = progressbar.NewOptions64(
		total,
		progressbar.OptionSetWriter(t.opts.Writer),
		progressbar.OptionSetDescription("Rewriting"),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
	_ = t.bar.Set64(t.processed)
}

// TableStarted updates the current table.
func (t *Tracker) TableStarted(table string, rows int64) {
	t.mu.Lock()
	t.current = table
	if t.bar != nil {
		t.bar.Describe(fmt.Sprintf("Rewriting %s", table))
	}
	update := t.snapshotLocked(PhaseRewriting)
	t.mu.Unlock()

	t.reporter.ReportImmediate(update)
}

// RowProcessed advances the counters by one row.
func (t *Tracker) RowProcessed(table string, changed bool) {
	t.mu.Lock()
	t.processed++
	if changed {
		t.changed++
	}
	if t.bar != nil {
		_ = t.bar.Add64(1)
	}
	update := t.snapshotLocked(PhaseRewriting)
	t.mu.Unlock()

	t.reporter.Report(update)
}

// TableCompleted counts a finished table.
func (t *Tracker) TableCompleted(table string) {
	t.mu.Lock()
	t.tablesDone++
	if t.current == table {
		t.current = ""
	}
	update := t.snapshotLocked(PhaseRewriting)
	t.mu.Unlock()

	t.reporter.ReportImmediate(update)
}

// Current returns the rows processed so far, including earlier invocations.
func (t *Tracker) Current() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.processed
}

// Changed returns the rows this tracker saw rewritten.
func (t *Tracker) Changed() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.changed
}

// Yielded reports an invocation that stopped on its budget.
func (t *Tracker) Yielded() {
	t.mu.Lock()
	update := t.snapshotLocked(PhaseYielded)
	t.mu.Unlock()
	t.reporter.ReportImmediate(update)
}

// Finish marks the job complete and logs a summary.
func (t *Tracker) Finish() {
	t.mu.Lock()
	if t.bar != nil {
		_ = t.bar.Finish()
		fmt.Fprintln(t.opts.Writer)
	}
	update := t.snapshotLocked(PhaseComplete)
	update.ProgressPct = 100
	t.mu.Unlock()

	t.reporter.ReportImmediate(update)
	t.reporter.Close()

	elapsed := t.now().Sub(t.startTime)
	logging.Info("Rewrite complete: %s rows scanned, %s changed in %s (%s rows/sec)",
		humanize.Comma(update.RowsProcessed), humanize.Comma(update.RowsChanged),
		elapsed.Round(time.Second), humanize.Comma(update.RowsPerSecond))
}

// Snapshot returns the current state as an Update.
func (t *Tracker) Snapshot(phase string) Update {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked(phase)
}

func (t *Tracker) snapshotLocked(phase string) Update {
	u := Update{
		Phase:          phase,
		TablesComplete: t.tablesDone,
		TablesTotal:    t.tables,
		CurrentTable:   t.current,
		RowsProcessed:  t.processed,
		RowsTotal:      t.total,
		RowsChanged:    t.changed,
	}
	if t.total > 0 {
		u.ProgressPct = float64(t.processed) / float64(t.total) * 100
		if u.ProgressPct > 100 {
			u.ProgressPct = 100
		}
	}
	if elapsed := t.now().Sub(t.startTime).Seconds(); elapsed > 0 {
		u.RowsPerSecond = int64(float64(t.processed-t.baseline) / elapsed)
	}
	return u
}
