package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/johndauphine/db-search-replace/internal/orchestrator"
)

const (
	maxLogLines  = 500
	tickInterval = 100 * time.Millisecond
)

// TickMsg refreshes the counters from the monitor.
type TickMsg time.Time

type logMsg string

type doneMsg struct {
	result *orchestrator.Result
	err    error
}

// Model is the bubbletea model of the job view.
type Model struct {
	monitor *Monitor
	cancel  context.CancelFunc

	spinner  spinner.Model
	bar      progress.Model
	viewport viewport.Model
	lines    []string

	stats    stats
	started  time.Time
	now      func() time.Time
	width    int
	height   int
	stopping bool
	done     bool
	result   *orchestrator.Result
	err      error
}

func newModel(m *Monitor, cancel context.CancelFunc) Model {
	return Model{
		monitor:  m,
		cancel:   cancel,
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot), spinner.WithStyle(styleTitle)),
		bar:      progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		viewport: viewport.New(76, 8),
		started:  time.Now(),
		now:      time.Now,
		width:    80,
		height:   24,
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(tickInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.bar.Width = max(10, m.width-24)
		m.viewport.Width = max(20, m.width-4)
		m.viewport.Height = max(3, m.height-12)
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if !m.stopping && !m.done {
				m.stopping = true
				m.cancel()
				m.appendLine(styleSystemOutput.Render("Stopping after the current row, saving checkpoint..."))
			}
			return m, nil
		}
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd

	case TickMsg:
		m.stats = m.monitor.snapshot()
		if m.done {
			return m, nil
		}
		return m, tickCmd()

	case logMsg:
		m.appendLine(string(msg))
		return m, nil

	case doneMsg:
		m.done = true
		m.result, m.err = msg.result, msg.err
		m.stats = m.monitor.snapshot()
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) appendLine(line string) {
	m.lines = append(m.lines, line)
	if len(m.lines) > maxLogLines {
		m.lines = m.lines[len(m.lines)-maxLogLines:]
	}
	m.viewport.SetContent(strings.Join(m.lines, "\n"))
	m.viewport.GotoBottom()
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(m.statusBarView())
	b.WriteString("\n\n")

	s := m.stats
	table := s.current
	if table == "" {
		table = "-"
	}
	fmt.Fprintf(&b, "%s%s %s\n", styleLabel.Render("Table"), m.spinner.View(),
		fmt.Sprintf("%s (%d/%d done)", table, s.tablesDone, s.tables))

	pct := 0.0
	if s.rowsTotal > 0 {
		pct = float64(s.rowsProcessed) / float64(s.rowsTotal)
		if pct > 1 {
			pct = 1
		}
	}
	if m.outcome() == outcomeComplete {
		pct = 1
	}
	fmt.Fprintf(&b, "%s%s\n", styleLabel.Render("Progress"), m.bar.ViewAs(pct))

	rows := humanize.Comma(s.rowsProcessed)
	if s.rowsTotal > 0 {
		rows += " / " + humanize.Comma(s.rowsTotal)
	}
	fmt.Fprintf(&b, "%s%s scanned, %s changed\n", styleLabel.Render("Rows"), rows, humanize.Comma(s.rowsChanged))

	elapsed := m.now().Sub(m.started)
	rate := ""
	if secs := elapsed.Seconds(); secs > 0 {
		rate = fmt.Sprintf(" (%s rows/sec)", humanize.Comma(int64(float64(s.rowsProcessed-s.baseline)/secs)))
	}
	fmt.Fprintf(&b, "%s%s%s\n\n", styleLabel.Render("Elapsed"), elapsed.Round(time.Second), rate)

	b.WriteString(styleViewport.Render(m.viewport.View()))
	b.WriteString("\n")

	switch m.outcome() {
	case outcomeFailed:
		b.WriteString(styleError.Render("Failed: " + m.err.Error()))
	case outcomeComplete:
		b.WriteString(styleSuccess.Render("Job complete"))
	case outcomeStopped:
		b.WriteString(styleSystemOutput.Render("Stopped, checkpoint saved"))
	case outcomeStopping:
		b.WriteString(styleSystemOutput.Render("Stopping..."))
	default:
		b.WriteString(styleSystemOutput.Render("q: stop and save checkpoint  ↑/↓: scroll log"))
	}
	return b.String()
}

const (
	outcomeRunning  = "running"
	outcomeStopping = "stopping"
	outcomeStopped  = "stopped"
	outcomeComplete = "complete"
	outcomeFailed   = "failed"
)

func (m Model) outcome() string {
	switch {
	case m.done && m.err != nil && !errors.Is(m.err, context.Canceled):
		return outcomeFailed
	case m.done && m.result != nil && m.result.Complete:
		return outcomeComplete
	case m.done:
		return outcomeStopped
	case m.stopping:
		return outcomeStopping
	}
	return outcomeRunning
}

func (m Model) statusBarView() string {
	w := lipgloss.Width

	title := styleStatusJob.Render("search-replace")
	database := styleStatusDatabase.Render(m.monitor.title)

	var status string
	switch m.outcome() {
	case outcomeFailed:
		status = styleStatusFailed.Render("Failed")
	case outcomeComplete:
		status = styleStatusDone.Render("Complete")
	case outcomeStopped:
		status = styleStatusStopping.Render("Stopped")
	case outcomeStopping:
		status = styleStatusStopping.Render("Stopping")
	default:
		status = styleStatusRunning.Render("Running")
	}

	usedWidth := w(title) + w(database) + w(status)
	spacerWidth := m.width - usedWidth
	if spacerWidth < 0 {
		spacerWidth = 0
	}
	spacer := styleStatusBar.Width(spacerWidth).Render("")

	return lipgloss.JoinHorizontal(lipgloss.Top,
		title,
		database,
		spacer,
		status,
	)
}
