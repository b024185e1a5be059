// Package engine runs one bounded invocation of a search-and-replace job:
// it walks the remaining tables page by page, rewrites matching cells, and
// stops between rows once its time budget is spent, leaving a checkpoint the
// next invocation resumes from.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/johndauphine/db-search-replace/internal/checkpoint"
	"github.com/johndauphine/db-search-replace/internal/cursor"
	"github.com/johndauphine/db-search-replace/internal/driver"
	"github.com/johndauphine/db-search-replace/internal/logging"
	"github.com/johndauphine/db-search-replace/internal/rewrite"
	"github.com/johndauphine/db-search-replace/internal/schema"
)

// DefaultPageSize is applied by New when Options.PageSize is unset.
const DefaultPageSize = 1000

// DB is the database handle the engine reads and updates through.
type DB interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

// Introspector loads a table definition on a cache miss.
type Introspector interface {
	Introspect(ctx context.Context, table string) (schema.TableDefinition, error)
}

// Observer receives progress events. Calls happen on the engine goroutine.
// JobCounted fires once per job, after the initial counts; TableStarted
// fires whenever an invocation begins or resumes work on a table.
type Observer interface {
	JobCounted(tables int, rows int64)
	TableStarted(table string, rows int64)
	RowProcessed(table string, changed bool)
	TableCompleted(table string)
}

// Options configures an Engine.
type Options struct {
	Pairs          []rewrite.Pair
	ExcludedColumn string
	// Schema qualifies table names; empty uses the connection default.
	Schema   string
	PageSize int64
	// Budget is the wall-clock limit of one invocation. Zero yields after
	// the first row.
	Budget time.Duration

	// ShouldApplyUpdate, when set, can veto an UPDATE for a changed row.
	// A vetoed row still counts as processed.
	ShouldApplyUpdate func(table string, where rewrite.Where) bool
	Observer          Observer
	Now               func() time.Time
}

// Stats counts the work done by one invocation.
type Stats struct {
	RowsScanned     int64 `json:"rows_scanned"`
	RowsChanged     int64 `json:"rows_changed"`
	UpdatesIssued   int64 `json:"updates_issued"`
	TablesCompleted int64 `json:"tables_completed"`
}

// Result is the outcome of one invocation. When Complete is false the
// checkpoint passed to Run holds the resumption point.
type Result struct {
	Complete bool
	Stats    Stats
}

// Engine runs invocations against one database.
type Engine struct {
	db           DB
	dialect      driver.Dialect
	introspector Introspector
	planner      *cursor.Planner
	rewriter     *rewrite.Rewriter
	opts         Options
}

// New creates an Engine.
func New(db DB, dialect driver.Dialect, introspector Introspector, opts Options) (*Engine, error) {
	if len(opts.Pairs) == 0 {
		return nil, errors.New("at least one search/replace pair is required")
	}
	for i, p := range opts.Pairs {
		if p.Search == "" {
			return nil, fmt.Errorf("pair %d: search string is empty", i+1)
		}
	}
	if opts.PageSize <= 0 {
		opts.PageSize = DefaultPageSize
	}
	if opts.Budget < 0 {
		return nil, fmt.Errorf("budget must not be negative, got %v", opts.Budget)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	return &Engine{
		db:           db,
		dialect:      dialect,
		introspector: introspector,
		planner:      cursor.NewPlanner(dialect, opts.Schema),
		rewriter:     rewrite.New(opts.Pairs, opts.ExcludedColumn),
		opts:         opts,
	}, nil
}

// Run performs one invocation, mutating cp in place. It returns
// Complete=true and a cleared cp once every table is done. A cancelled ctx
// is treated like an exhausted budget: cp stays resumable and no error is
// returned.
func (e *Engine) Run(ctx context.Context, cp *checkpoint.Checkpoint) (Result, error) {
	var res Result
	if err := cp.Validate(); err != nil {
		return res, err
	}
	gov := NewGovernor(e.opts.Budget, e.opts.Now)

	if !cp.Counted() {
		if err := e.countTables(ctx, cp); err != nil {
			if ctx.Err() != nil {
				return res, nil
			}
			return res, err
		}
	}

	for !cp.Done() {
		table := cp.RemainingTables[0]

		if cp.TableRows[table] == 0 {
			logging.Info("Table %s is empty, skipping", table)
			e.finishTable(cp, table, &res.Stats)
			continue
		}

		yielded, err := e.runTable(ctx, cp, table, gov, &res.Stats)
		if err != nil {
			if ctx.Err() != nil {
				logging.Info("Invocation cancelled in %s after %d rows", table, res.Stats.RowsScanned)
				return res, nil
			}
			return res, fmt.Errorf("table %s: %w", table, err)
		}
		if yielded {
			logging.Info("Yielding in %s after %v (%d rows this invocation, %d/%d total)",
				table, gov.Elapsed().Round(time.Millisecond), res.Stats.RowsScanned,
				cp.TotalRowsProcessed, cp.TotalRowsExpected)
			return res, nil
		}
		e.finishTable(cp, table, &res.Stats)

		if !cp.Done() && gov.ShouldYield(ctx) {
			logging.Info("Yielding between tables after %v", gov.Elapsed().Round(time.Millisecond))
			return res, nil
		}
	}

	cp.Clear()
	res.Complete = true
	return res, nil
}

// countTables records the initial row count of every remaining table.
func (e *Engine) countTables(ctx context.Context, cp *checkpoint.Checkpoint) error {
	counts := make(map[string]int64, len(cp.RemainingTables))
	var total int64
	for _, table := range cp.RemainingTables {
		n, err := e.count(ctx, table)
		if err != nil {
			return fmt.Errorf("table %s: %w", table, err)
		}
		counts[table] = n
		total += n
	}
	cp.TableRows = counts
	cp.TotalRowsExpected = total
	logging.Info("Counted %d rows across %d tables", total, len(counts))
	e.opts.Observer.JobCounted(len(counts), total)
	return nil
}

func (e *Engine) count(ctx context.Context, table string) (int64, error) {
	var n int64
	q := driver.CountQuery(driver.QualifyTable(e.dialect, e.opts.Schema, table))
	if err := e.db.QueryRowxContext(ctx, q).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting rows: %w", err)
	}
	return n, nil
}

func (e *Engine) finishTable(cp *checkpoint.Checkpoint, table string, stats *Stats) {
	cp.RemoveTable(table)
	stats.TablesCompleted++
	e.opts.Observer.TableCompleted(table)
	logging.Info("Table %s complete", table)
}

// runTable processes pages of table until it is exhausted (false) or the
// governor asks to yield (true).
func (e *Engine) runTable(ctx context.Context, cp *checkpoint.Checkpoint, table string, gov *Governor, stats *Stats) (bool, error) {
	def, ok := cp.Definition(table)
	if !ok {
		var err error
		def, err = e.introspector.Introspect(ctx, table)
		if err != nil {
			return false, fmt.Errorf("introspecting: %w", err)
		}
		cp.SetDefinition(table, def)
		logging.Debug("Introspected %s: %d columns, key %v", table, len(def.Columns), def.KeyOrder)
	}

	cur, ok := cp.Cursor(table)
	if ok {
		logging.Info("Resuming %s from %s cursor", table, cur.Kind)
	} else {
		cur = cursor.Start(def, e.opts.PageSize)
		cp.SetCursor(table, cur)
		logging.Info("Starting %s (%d rows, %s pagination)", table, cp.TableRows[table], cur.Kind)
	}
	e.opts.Observer.TableStarted(table, cp.TableRows[table])
	qualified := driver.QualifyTable(e.dialect, e.opts.Schema, table)

	for {
		q, err := e.planner.PlanPage(table, def, cur, e.opts.PageSize)
		if err != nil {
			return false, err
		}
		rows, err := e.fetch(ctx, q)
		if err != nil {
			return false, err
		}

		var more bool
		if cur.Kind == cursor.KindOffset {
			limit := int(cur.PageSize - cur.Row)
			if len(rows) > limit {
				more = true
				rows = rows[:limit]
			}
		} else {
			more = int64(len(rows)) == e.opts.PageSize
		}

		for i, row := range rows {
			changed, err := e.processRow(ctx, table, qualified, def, row, stats)
			if err != nil {
				return false, err
			}

			if cur.Kind == cursor.KindOffset {
				cur = cur.Advance(1)
			} else {
				cur, err = cursor.SeekFromRow(def, row)
				if err != nil {
					return false, err
				}
			}
			cp.SetCursor(table, cur)
			cp.TotalRowsProcessed++
			stats.RowsScanned++
			e.opts.Observer.RowProcessed(table, changed)

			lastOfTable := i == len(rows)-1 && !more
			if !lastOfTable && gov.ShouldYield(ctx) {
				return true, nil
			}
		}

		if !more {
			return false, nil
		}
	}
}

// fetch reads a whole page before any UPDATE runs, so a single-connection
// database is free for the writes.
func (e *Engine) fetch(ctx context.Context, q cursor.Query) ([]rewrite.Row, error) {
	rs, err := e.db.QueryxContext(ctx, q.SQL, q.Args...)
	if err != nil {
		return nil, fmt.Errorf("fetching page: %w", err)
	}
	defer rs.Close()

	var rows []rewrite.Row
	for rs.Next() {
		row := make(map[string]any)
		if err := rs.MapScan(row); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		rows = append(rows, row)
	}
	if err := rs.Err(); err != nil {
		return nil, fmt.Errorf("fetching page: %w", err)
	}
	return rows, nil
}

func (e *Engine) processRow(ctx context.Context, table, qualified string, def schema.TableDefinition, row rewrite.Row, stats *Stats) (bool, error) {
	out := e.rewriter.Rewrite(row, def)
	if !out.Changed {
		return false, nil
	}
	stats.RowsChanged++

	if e.opts.ShouldApplyUpdate != nil && !e.opts.ShouldApplyUpdate(table, out.Where) {
		logging.Debug("Update of %s row %v skipped", table, describe(out.Where))
		return true, nil
	}

	stmt, args := rewrite.BuildUpdate(e.dialect, qualified, def, out)
	if _, err := e.db.ExecContext(ctx, stmt, args...); err != nil {
		return false, fmt.Errorf("updating row %v: %w", describe(out.Where), err)
	}
	stats.UpdatesIssued++
	logging.Debug("Updated %s row %v (%d columns)", table, describe(out.Where), len(out.NewValues))
	return true, nil
}

// describe renders a WHERE for log lines, abbreviating long values.
func describe(w rewrite.Where) string {
	s := "{"
	for i, p := range w {
		if i > 0 {
			s += ", "
		}
		if p.IsNull {
			s += p.Column + "=NULL"
			continue
		}
		v := fmt.Sprint(p.Value)
		if b, ok := p.Value.([]byte); ok {
			v = string(b)
		}
		if len(v) > 40 {
			v = v[:37] + "..."
		}
		s += p.Column + "=" + v
	}
	return s + "}"
}

// Observers fans events out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	var list multiObserver
	for _, o := range obs {
		if o != nil {
			list = append(list, o)
		}
	}
	if len(list) == 0 {
		return nopObserver{}
	}
	return list
}

type multiObserver []Observer

func (m multiObserver) JobCounted(tables int, rows int64) {
	for _, o := range m {
		o.JobCounted(tables, rows)
	}
}

func (m multiObserver) TableStarted(table string, rows int64) {
	for _, o := range m {
		o.TableStarted(table, rows)
	}
}

func (m multiObserver) RowProcessed(table string, changed bool) {
	for _, o := range m {
		o.RowProcessed(table, changed)
	}
}

func (m multiObserver) TableCompleted(table string) {
	for _, o := range m {
		o.TableCompleted(table)
	}
}

type nopObserver struct{}

func (nopObserver) JobCounted(int, int64)      {}
func (nopObserver) TableStarted(string, int64) {}
func (nopObserver) RowProcessed(string, bool)  {}
func (nopObserver) TableCompleted(string)      {}
