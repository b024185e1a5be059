// Package tui draws a live terminal view of a running search-replace job.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/johndauphine/db-search-replace/internal/logging"
	"github.com/johndauphine/db-search-replace/internal/orchestrator"
)

// stats is the state the view renders, copied out of the Monitor on every
// tick.
type stats struct {
	tables        int
	tablesDone    int
	current       string
	rowsTotal     int64
	rowsProcessed int64
	rowsChanged   int64
	baseline      int64
	seeded        bool
}

// Monitor receives engine events and feeds them to the view. It implements
// engine.Observer and orchestrator.Resumer.
type Monitor struct {
	title string

	mu    sync.Mutex
	stats stats
}

var _ orchestrator.Resumer = (*Monitor)(nil)

// NewMonitor creates a monitor whose header shows title.
func NewMonitor(title string) *Monitor {
	return &Monitor{title: title}
}

// Resume seeds the counters from the stored checkpoint.
func (m *Monitor) Resume(processed, total int64, tables, tablesDone int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stats.seeded {
		m.stats.baseline = processed
		m.stats.seeded = true
	}
	m.stats.rowsProcessed = processed
	m.stats.rowsTotal = total
	m.stats.tables = tables
	m.stats.tablesDone = tablesDone
}

func (m *Monitor) JobCounted(tables int, rows int64) {
	m.mu.Lock()
	m.stats.tables = tables
	m.stats.rowsTotal = rows
	m.mu.Unlock()
}

func (m *Monitor) TableStarted(table string, rows int64) {
	m.mu.Lock()
	m.stats.current = table
	m.mu.Unlock()
}

func (m *Monitor) RowProcessed(table string, changed bool) {
	m.mu.Lock()
	m.stats.rowsProcessed++
	if changed {
		m.stats.rowsChanged++
	}
	m.mu.Unlock()
}

func (m *Monitor) TableCompleted(table string) {
	m.mu.Lock()
	m.stats.tablesDone++
	if m.stats.current == table {
		m.stats.current = ""
	}
	m.mu.Unlock()
}

func (m *Monitor) snapshot() stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// JobFunc runs the job the monitor watches, typically Orchestrator.Run.
type JobFunc func(ctx context.Context) (*orchestrator.Result, error)

// Run shows the view while job runs and returns the job's outcome. Pressing
// q or ctrl+c cancels the job's context; the view stays up until the job
// has saved its checkpoint and returned. Log output is shown in the view
// for the duration.
func (m *Monitor) Run(ctx context.Context, job JobFunc) (*orchestrator.Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newModel(m, cancel), tea.WithAltScreen())

	prev := logging.Output()
	logging.SetOutput(&logWriter{send: func(line string) { p.Send(logMsg(line)) }})
	defer logging.SetOutput(prev)

	done := make(chan doneMsg, 1)
	go func() {
		res, err := job(ctx)
		d := doneMsg{result: res, err: err}
		done <- d
		p.Send(d)
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("running TUI: %w", err)
	}
	d := <-done
	return d.result, d.err
}

// logWriter turns logger output into one message per line.
type logWriter struct {
	mu      sync.Mutex
	send    func(string)
	partial string
}

var _ io.Writer = (*logWriter)(nil)

func (w *logWriter) Write(b []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.partial += string(b)
	for {
		i := strings.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		line := strings.TrimRight(w.partial[:i], "\r")
		w.partial = w.partial[i+1:]
		w.send(line)
	}
	return len(b), nil
}
