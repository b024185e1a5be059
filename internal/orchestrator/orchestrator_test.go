package orchestrator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/johndauphine/db-search-replace/internal/checkpoint"
	"github.com/johndauphine/db-search-replace/internal/config"
	"github.com/johndauphine/db-search-replace/internal/cursor"
	_ "github.com/johndauphine/db-search-replace/internal/driver/sqlite"
	"github.com/johndauphine/db-search-replace/internal/progress"
)

// tickClock advances by one second on every reading; a two second budget
// lets an invocation process about two rows.
type tickClock struct {
	t time.Time
}

func (c *tickClock) Now() time.Time {
	c.t = c.t.Add(time.Second)
	return c.t
}

type site struct {
	dir    string
	dbPath string
}

func newSite(t *testing.T) site {
	t.Helper()
	dir := t.TempDir()
	s := site{dir: dir, dbPath: filepath.Join(dir, "site.db")}
	s.exec(t,
		`CREATE TABLE wp_options (option_id INTEGER PRIMARY KEY, option_name TEXT, option_value TEXT)`,
		`INSERT INTO wp_options VALUES
			(1, 'siteurl', 'http://old.example'),
			(2, 'widget', 'a:1:{s:3:"url";s:22:"http://old.example/img";}'),
			(3, 'count', '42'),
			(4, 'home', 'http://old.example/blog'),
			(5, 'blank', '')`,
		`CREATE TABLE wp_log (message TEXT)`,
		`INSERT INTO wp_log VALUES ('visited http://old.example'), ('nothing here'), ('moved to http://old.example/x')`,
	)
	return s
}

func (s site) open(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", s.dbPath)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	return db
}

func (s site) exec(t *testing.T, stmts ...string) {
	t.Helper()
	db := s.open(t)
	defer db.Close()
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("exec %q: %v", stmt, err)
		}
	}
}

func (s site) values(t *testing.T, query string) []string {
	t.Helper()
	db := s.open(t)
	defer db.Close()
	var out []string
	if err := db.Select(&out, query); err != nil {
		t.Fatalf("select: %v", err)
	}
	return out
}

func (s site) config(t *testing.T, replace string, tables ...string) *config.Config {
	t.Helper()
	if len(tables) == 0 {
		tables = []string{"wp_options", "wp_log"}
	}
	cfg, err := config.LoadBytes([]byte(fmt.Sprintf(`
database:
  type: sqlite
  path: %s
job:
  tables: [%s]
  pairs:
    - search: http://old.example
      replace: %s
  page_size: 2
  budget: 2s
state:
  data_dir: %s
`, s.dbPath, strings.Join(tables, ", "), replace, filepath.Join(s.dir, "state"))))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	return cfg
}

func newOrchestrator(t *testing.T, cfg *config.Config, opts Options, clock *tickClock) *Orchestrator {
	t.Helper()
	if opts.Progress.Writer == nil {
		opts.Progress.Writer = &bytes.Buffer{}
	}
	o, err := New(cfg, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	o.now = clock.Now
	t.Cleanup(o.Close)
	return o
}

func newClock() *tickClock {
	return &tickClock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)}
}

var rewrittenOptions = []string{
	"https://new.example.org",
	`a:1:{s:3:"url";s:27:"https://new.example.org/img";}`,
	"42",
	"https://new.example.org/blog",
	"",
}

func TestRunCompletesAcrossInvocations(t *testing.T) {
	s := newSite(t)
	o := newOrchestrator(t, s.config(t, "https://new.example.org"), Options{}, newClock())

	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Complete || res.Status != checkpoint.StatusComplete {
		t.Fatalf("result = %+v", res)
	}
	if res.Invocations < 2 {
		t.Errorf("Invocations = %d, want several with a two second budget", res.Invocations)
	}
	if res.RowsScanned != 8 || res.RowsChanged != 5 {
		t.Errorf("rows scanned/changed = %d/%d, want 8/5", res.RowsScanned, res.RowsChanged)
	}

	got := s.values(t, `SELECT option_value FROM wp_options ORDER BY option_id`)
	if strings.Join(got, "|") != strings.Join(rewrittenOptions, "|") {
		t.Errorf("wp_options = %q", got)
	}
	log := s.values(t, `SELECT message FROM wp_log ORDER BY rowid`)
	if log[0] != "visited https://new.example.org" || log[1] != "nothing here" || log[2] != "moved to https://new.example.org/x" {
		t.Errorf("wp_log = %q", log)
	}

	invs, err := o.Invocations(context.Background(), res.JobID)
	if err != nil {
		t.Fatalf("Invocations: %v", err)
	}
	if len(invs) != res.Invocations || !invs[len(invs)-1].Complete {
		t.Errorf("recorded %d invocations for %d, last = %+v", len(invs), res.Invocations, invs[len(invs)-1])
	}

	if _, err := o.store.Active(context.Background()); !errors.Is(err, checkpoint.ErrNotFound) {
		t.Errorf("Active after completion: %v", err)
	}

	jobs, err := o.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != res.JobID || jobs[0].Status != checkpoint.StatusComplete {
		t.Errorf("History = %+v, want the completed job", jobs)
	}
}

func TestRetentionFollowsJobClock(t *testing.T) {
	s := newSite(t)
	cfg := s.config(t, "https://new.example.org")
	clock := newClock()

	first, err := newOrchestrator(t, cfg, Options{}, clock).Run(context.Background())
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}

	clock.t = clock.t.AddDate(0, 0, cfg.Job.RetentionDays+1)
	second, err := newOrchestrator(t, cfg, Options{}, clock).Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	jobs, err := newOrchestrator(t, cfg, Options{}, clock).History(context.Background(), 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != second.JobID {
		t.Errorf("History = %+v, want only %s (expired %s)", jobs, second.JobID, first.JobID)
	}
}

func TestSecondRunChangesNothing(t *testing.T) {
	s := newSite(t)
	cfg := s.config(t, "https://new.example.org")
	if _, err := newOrchestrator(t, cfg, Options{}, newClock()).Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	res, err := newOrchestrator(t, cfg, Options{}, newClock()).Run(context.Background())
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if res.RowsChanged != 0 || res.RowsScanned != 8 {
		t.Errorf("second run scanned/changed = %d/%d, want 8/0", res.RowsScanned, res.RowsChanged)
	}
}

func TestStepResumesFromStateFile(t *testing.T) {
	s := newSite(t)
	cfg := s.config(t, "https://new.example.org")
	stateFile := filepath.Join(s.dir, "checkpoint.yaml")
	clock := newClock()

	var jobID string
	var steps int
	for {
		steps++
		if steps > 50 {
			t.Fatal("job did not complete")
		}
		// A fresh orchestrator per step, the way cron invokes the CLI.
		o := newOrchestrator(t, cfg, Options{StateFile: stateFile}, clock)
		res, err := o.Step(context.Background())
		if err != nil && !errors.Is(err, ErrIncomplete) {
			t.Fatalf("step %d: %v", steps, err)
		}
		if jobID == "" {
			jobID = res.JobID
		} else if res.JobID != jobID {
			t.Fatalf("step %d ran job %s, want %s", steps, res.JobID, jobID)
		}
		if errors.Is(err, ErrIncomplete) {
			if res.Complete || res.Invocations != steps {
				t.Fatalf("step %d result = %+v", steps, res)
			}
			continue
		}
		if !res.Complete || res.RowsChanged != 5 {
			t.Errorf("final result = %+v", res)
		}
		break
	}
	if steps < 2 {
		t.Errorf("completed in %d step, want several", steps)
	}

	got := s.values(t, `SELECT option_value FROM wp_options ORDER BY option_id`)
	if strings.Join(got, "|") != strings.Join(rewrittenOptions, "|") {
		t.Errorf("wp_options = %q", got)
	}
}

func TestConfigChangeRequiresForceResume(t *testing.T) {
	s := newSite(t)
	clock := newClock()

	first := newOrchestrator(t, s.config(t, "https://new.example.org"), Options{}, clock)
	if _, err := first.Step(context.Background()); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("first Step: %v", err)
	}

	changed := s.config(t, "https://other.example.org")
	_, err := newOrchestrator(t, changed, Options{}, clock).Step(context.Background())
	if err == nil || !strings.Contains(err.Error(), "config changed") {
		t.Fatalf("expected config change error, got %v", err)
	}

	res, err := newOrchestrator(t, changed, Options{ForceResume: true}, clock).Step(context.Background())
	if err != nil && !errors.Is(err, ErrIncomplete) {
		t.Fatalf("forced Step: %v", err)
	}
	if res.Invocations != 2 || !res.ConfigMatches {
		t.Errorf("forced result = %+v", res)
	}
}

func TestDryRunLeavesDatabaseAndStateAlone(t *testing.T) {
	s := newSite(t)
	cfg := s.config(t, "https://new.example.org")
	cfg.Job.DryRun = true
	o := newOrchestrator(t, cfg, Options{}, newClock())

	res, err := o.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Complete || !res.DryRun || res.RowsChanged != 5 {
		t.Errorf("result = %+v", res)
	}

	got := s.values(t, `SELECT option_value FROM wp_options WHERE option_id = 1`)
	if got[0] != "http://old.example" {
		t.Errorf("dry run updated the database: %q", got[0])
	}
	status, err := o.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != nil {
		t.Errorf("dry run saved a job: %+v", status)
	}
}

func TestFailedJobResumesOnlyByID(t *testing.T) {
	s := newSite(t)
	cfg := s.config(t, "https://new.example.org", "wp_options", "wp_missing")
	clock := newClock()

	failed, err := newOrchestrator(t, cfg, Options{}, clock).Step(context.Background())
	if err == nil {
		t.Fatal("expected failure on a missing table")
	}
	if failed.Status != checkpoint.StatusFailed || failed.Error == "" {
		t.Fatalf("failed result = %+v", failed)
	}

	// Without an id a failed job is not picked up again.
	other, _ := newOrchestrator(t, cfg, Options{}, clock).Step(context.Background())
	if other.JobID == failed.JobID {
		t.Errorf("failed job %s was resumed implicitly", failed.JobID)
	}

	s.exec(t, `CREATE TABLE wp_missing (id INTEGER PRIMARY KEY, body TEXT)`,
		`INSERT INTO wp_missing VALUES (1, 'see http://old.example')`)

	for i := 0; ; i++ {
		if i > 50 {
			t.Fatal("job did not complete")
		}
		res, err := newOrchestrator(t, cfg, Options{JobID: failed.JobID}, clock).Step(context.Background())
		if errors.Is(err, ErrIncomplete) {
			continue
		}
		if err != nil {
			t.Fatalf("resume by id: %v", err)
		}
		if res.JobID != failed.JobID || !res.Complete {
			t.Errorf("result = %+v", res)
		}
		break
	}

	_, err = newOrchestrator(t, cfg, Options{JobID: failed.JobID}, clock).Step(context.Background())
	if err == nil || !strings.Contains(err.Error(), "already complete") {
		t.Errorf("expected already complete error, got %v", err)
	}
}

func TestStatusAndReset(t *testing.T) {
	s := newSite(t)
	cfg := s.config(t, "https://new.example.org")
	o := newOrchestrator(t, cfg, Options{}, newClock())

	if status, err := o.Status(context.Background()); err != nil || status != nil {
		t.Fatalf("Status before any job = %+v, %v", status, err)
	}
	if _, err := o.Step(context.Background()); !errors.Is(err, ErrIncomplete) {
		t.Fatalf("Step: %v", err)
	}

	status, err := o.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Status != checkpoint.StatusRunning || status.CurrentTable != "wp_options" ||
		status.RowsExpected != 8 || !strings.HasPrefix(status.Cursor, "seek after option_id=") {
		t.Errorf("status = %+v", status)
	}
	var out bytes.Buffer
	PrintStatus(&out, status)
	if !strings.Contains(out.String(), "Job:         "+status.JobID) || !strings.Contains(out.String(), "of 8 rows") {
		t.Errorf("PrintStatus output:\n%s", out.String())
	}

	id, err := o.Reset(context.Background())
	if err != nil || id != status.JobID {
		t.Fatalf("Reset = %q, %v", id, err)
	}
	jobs, err := o.History(context.Background(), 10)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(jobs) != 0 {
		t.Errorf("History after reset = %d jobs", len(jobs))
	}
	if id, err := o.Reset(context.Background()); err != nil || id != "" {
		t.Errorf("second Reset = %q, %v", id, err)
	}
}

func TestHistoryNeedsSQLiteBackend(t *testing.T) {
	s := newSite(t)
	o := newOrchestrator(t, s.config(t, "https://new.example.org"),
		Options{StateFile: filepath.Join(s.dir, "state.yaml")}, newClock())
	if _, err := o.History(context.Background(), 5); err == nil {
		t.Error("expected error from file backend")
	}
}

func TestCancelledRunKeepsCheckpoint(t *testing.T) {
	s := newSite(t)
	cfg := s.config(t, "https://new.example.org")
	ctx, cancel := context.WithCancel(context.Background())

	// Cancel as soon as the first row is processed.
	opts := Options{Observer: &cancelOnRow{cancel: cancel}}
	res, err := newOrchestrator(t, cfg, opts, newClock()).Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run error = %v, want context.Canceled", err)
	}
	if res.Status != checkpoint.StatusRunning || res.RowsScanned != 1 {
		t.Errorf("result = %+v", res)
	}

	resumed, err := newOrchestrator(t, cfg, Options{}, newClock()).Run(context.Background())
	if err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	if resumed.JobID != res.JobID || resumed.RowsScanned != 8 {
		t.Errorf("resumed result = %+v", resumed)
	}
}

type cancelOnRow struct {
	cancel context.CancelFunc
}

func (c *cancelOnRow) JobCounted(int, int64)      {}
func (c *cancelOnRow) TableStarted(string, int64) {}
func (c *cancelOnRow) RowProcessed(string, bool)  { c.cancel() }
func (c *cancelOnRow) TableCompleted(string)      {}

func TestCheckReportsTables(t *testing.T) {
	s := newSite(t)
	cfg := s.config(t, "https://new.example.org", "wp_options", "wp_log", "wp_missing")
	res, err := newOrchestrator(t, cfg, Options{}, newClock()).Check(context.Background())
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !res.Connected || res.Healthy || len(res.Tables) != 3 {
		t.Fatalf("result = %+v", res)
	}
	if res.Tables[0].Strategy != "seek" || res.Tables[0].PrimaryKey[0] != "option_id" {
		t.Errorf("wp_options = %+v", res.Tables[0])
	}
	if res.Tables[1].Strategy != "offset" || res.Tables[1].Columns != 1 {
		t.Errorf("wp_log = %+v", res.Tables[1])
	}
	if res.Tables[2].Error == "" {
		t.Errorf("wp_missing = %+v", res.Tables[2])
	}
}

func TestProgressJSONFollowsJob(t *testing.T) {
	s := newSite(t)
	var buf bytes.Buffer
	opts := Options{Progress: progress.Options{Writer: &bytes.Buffer{}, Reporter: progress.NewJSONReporter(&buf, 0)}}
	if _, err := newOrchestrator(t, s.config(t, "https://new.example.org"), opts, newClock()).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	out := buf.String()
	for _, want := range []string{`"phase":"counting"`, `"phase":"yielded"`, `"phase":"complete"`} {
		if !strings.Contains(out, want) {
			t.Errorf("progress output missing %s", want)
		}
	}
}

func TestDescribeCursor(t *testing.T) {
	tests := []struct {
		cur  cursor.Cursor
		want string
	}{
		{cursor.Cursor{Kind: cursor.KindOffset, Page: 2, PageSize: 100, Row: 7}, "offset 207"},
		{cursor.Cursor{Kind: cursor.KindSeek}, "seek from start"},
		{cursor.Cursor{Kind: cursor.KindSeek, LastKey: map[string]string{"b": "2", "a": "x"}}, "seek after a=x, b=2"},
	}
	for _, tt := range tests {
		if got := describeCursor(tt.cur); got != tt.want {
			t.Errorf("describeCursor(%+v) = %q, want %q", tt.cur, got, tt.want)
		}
	}
}

func TestPrintStatusWithoutJob(t *testing.T) {
	var out bytes.Buffer
	PrintStatus(&out, nil)
	if out.String() != "No active job\n" {
		t.Errorf("output = %q", out.String())
	}
}
