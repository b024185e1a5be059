// Package checkpoint holds the resumable state of a search-and-replace job
// and persists it between invocations.
package checkpoint

import (
	"encoding/json"

	"github.com/johndauphine/db-search-replace/internal/cursor"
	"github.com/johndauphine/db-search-replace/internal/schema"
)

// Checkpoint is everything needed to continue a job. It is plain data (lists,
// maps, strings and integers) so it survives a JSON round trip unchanged.
// A checkpoint with no remaining tables means the job is complete.
type Checkpoint struct {
	RemainingTables    []string                          `json:"remaining_tables" yaml:"remaining_tables"`
	TableDefs          map[string]schema.TableDefinition `json:"table_defs,omitempty" yaml:"table_defs,omitempty"`
	CursorByTable      map[string]cursor.Cursor          `json:"cursor_by_table,omitempty" yaml:"cursor_by_table,omitempty"`
	TotalRowsProcessed int64                             `json:"total_rows_processed" yaml:"total_rows_processed"`
	TotalRowsExpected  int64                             `json:"total_rows_expected" yaml:"total_rows_expected"`

	// TableRows holds the row count of every table taken on the first
	// invocation. Nil until the tables have been counted.
	TableRows map[string]int64 `json:"table_rows,omitempty" yaml:"table_rows,omitempty"`
}

// New creates the checkpoint for a fresh job. Duplicate table names are
// dropped, keeping the first occurrence.
func New(tables []string) *Checkpoint {
	seen := make(map[string]bool, len(tables))
	remaining := make([]string, 0, len(tables))
	for _, t := range tables {
		if !seen[t] {
			seen[t] = true
			remaining = append(remaining, t)
		}
	}
	return &Checkpoint{RemainingTables: remaining}
}

// Done reports whether no tables remain.
func (c *Checkpoint) Done() bool {
	return len(c.RemainingTables) == 0
}

// Counted reports whether the initial row counts have been taken.
func (c *Checkpoint) Counted() bool {
	return c.TableRows != nil
}

// Clear resets c to the empty, complete state.
func (c *Checkpoint) Clear() {
	*c = Checkpoint{}
}

// Progress returns processed/expected as a percentage in [0, 100].
func (c *Checkpoint) Progress() float64 {
	if c.TotalRowsExpected <= 0 {
		if c.Done() {
			return 100
		}
		return 0
	}
	pct := float64(c.TotalRowsProcessed) / float64(c.TotalRowsExpected) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Definition returns the cached definition of table.
func (c *Checkpoint) Definition(table string) (schema.TableDefinition, bool) {
	def, ok := c.TableDefs[table]
	return def, ok
}

// SetDefinition caches the definition of table.
func (c *Checkpoint) SetDefinition(table string, def schema.TableDefinition) {
	if c.TableDefs == nil {
		c.TableDefs = make(map[string]schema.TableDefinition)
	}
	c.TableDefs[table] = def
}

// Cursor returns the saved cursor of table.
func (c *Checkpoint) Cursor(table string) (cursor.Cursor, bool) {
	cur, ok := c.CursorByTable[table]
	return cur, ok
}

// SetCursor records where table's scan stopped.
func (c *Checkpoint) SetCursor(table string, cur cursor.Cursor) {
	if c.CursorByTable == nil {
		c.CursorByTable = make(map[string]cursor.Cursor)
	}
	c.CursorByTable[table] = cur
}

// RemoveTable drops table from the remaining list along with its cursor and
// cached definition.
func (c *Checkpoint) RemoveTable(table string) {
	kept := c.RemainingTables[:0]
	for _, t := range c.RemainingTables {
		if t != table {
			kept = append(kept, t)
		}
	}
	c.RemainingTables = kept
	delete(c.CursorByTable, table)
	delete(c.TableDefs, table)
}

// Marshal encodes c as JSON.
func Marshal(c *Checkpoint) ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal decodes and validates a JSON checkpoint.
func Unmarshal(data []byte) (*Checkpoint, error) {
	var c Checkpoint
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, &InvalidCheckpointError{Reason: "malformed JSON: " + err.Error()}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
