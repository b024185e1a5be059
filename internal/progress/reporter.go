package progress

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/johndauphine/db-search-replace/internal/logging"
)

// Phases reported in Update.Phase.
const (
	PhaseCounting  = "counting"
	PhaseRewriting = "rewriting"
	PhaseYielded   = "yielded"
	PhaseComplete  = "complete"
)

// Update is a JSON progress line for automation/Airflow.
type Update struct {
	Timestamp      string  `json:"timestamp"`
	Phase          string  `json:"phase"`
	TablesComplete int     `json:"tables_complete"`
	TablesTotal    int     `json:"tables_total"`
	CurrentTable   string  `json:"current_table,omitempty"`
	RowsProcessed  int64   `json:"rows_processed"`
	RowsTotal      int64   `json:"rows_total,omitempty"`
	RowsChanged    int64   `json:"rows_changed"`
	ProgressPct    float64 `json:"progress_pct"`
	RowsPerSecond  int64   `json:"rows_per_second,omitempty"`
}

// Reporter defines the interface for progress reporting.
type Reporter interface {
	// Report emits a progress update (may be throttled)
	Report(update Update)
	// ReportImmediate emits a progress update immediately, bypassing throttling
	ReportImmediate(update Update)
	// Close cleans up any resources
	Close()
}

// JSONReporter writes one JSON object per line, typically to stderr.
type JSONReporter struct {
	writer     io.Writer
	mu         sync.Mutex
	interval   time.Duration
	lastReport time.Time
	closed     bool
	now        func() time.Time
}

// NewJSONReporter creates a new JSON progress reporter.
// interval specifies the minimum time between throttled updates.
func NewJSONReporter(writer io.Writer, interval time.Duration) *JSONReporter {
	if writer == nil {
		writer = os.Stderr
	}
	return &JSONReporter{
		writer:   writer,
		interval: interval,
		now:      time.Now,
	}
}

// Report emits update unless one was written less than interval ago.
func (r *JSONReporter) Report(update Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	now := r.now()
	if r.interval > 0 && now.Sub(r.lastReport) < r.interval {
		return
	}
	r.write(update, now)
}

// ReportImmediate emits update regardless of throttling. Use for phase and
// table transitions.
func (r *JSONReporter) ReportImmediate(update Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.write(update, r.now())
}

func (r *JSONReporter) write(update Update, now time.Time) {
	if update.Timestamp == "" {
		update.Timestamp = now.UTC().Format(time.RFC3339)
	}
	data, err := json.Marshal(update)
	if err != nil {
		logging.Warn("Failed to marshal progress update: %v", err)
		return
	}
	fmt.Fprintln(r.writer, string(data))
	r.lastReport = now
}

// Close marks the reporter as closed.
func (r *JSONReporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
}

// NullReporter is a no-op reporter for when progress reporting is disabled.
type NullReporter struct{}

// Report does nothing.
func (r *NullReporter) Report(update Update) {}

// ReportImmediate does nothing.
func (r *NullReporter) ReportImmediate(update Update) {}

// Close does nothing.
func (r *NullReporter) Close() {}
