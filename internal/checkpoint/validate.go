package checkpoint

import (
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
)

// ErrInvalidCheckpoint matches every *InvalidCheckpointError.
var ErrInvalidCheckpoint = errors.New("invalid checkpoint")

// InvalidCheckpointError describes why a checkpoint was rejected.
type InvalidCheckpointError struct {
	Table  string
	Reason string
}

func (e *InvalidCheckpointError) Error() string {
	if e.Table != "" {
		return fmt.Sprintf("invalid checkpoint: table %s: %s", e.Table, e.Reason)
	}
	return "invalid checkpoint: " + e.Reason
}

// Is makes errors.Is(err, ErrInvalidCheckpoint) work.
func (e *InvalidCheckpointError) Is(target error) bool {
	return target == ErrInvalidCheckpoint
}

func invalid(table, format string, args ...any) error {
	return &InvalidCheckpointError{Table: table, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the internal consistency of c. Every cursor and cached
// definition must belong to a remaining table, every cursor needs a
// definition it agrees with, and counters cannot be negative.
func (c *Checkpoint) Validate() error {
	if c.TotalRowsProcessed < 0 || c.TotalRowsExpected < 0 {
		return invalid("", "negative row counters")
	}

	remaining := mapset.NewThreadUnsafeSet[string]()
	for _, t := range c.RemainingTables {
		if t == "" {
			return invalid("", "empty table name")
		}
		if !remaining.Add(t) {
			return invalid(t, "listed twice in remaining tables")
		}
	}

	defined := mapset.NewThreadUnsafeSetFromMapKeys(c.TableDefs)
	if extra := defined.Difference(remaining); extra.Cardinality() > 0 {
		t, _ := extra.Pop()
		return invalid(t, "has a cached definition but is not remaining")
	}
	positioned := mapset.NewThreadUnsafeSetFromMapKeys(c.CursorByTable)
	if extra := positioned.Difference(remaining); extra.Cardinality() > 0 {
		t, _ := extra.Pop()
		return invalid(t, "has a cursor but is not remaining")
	}
	if missing := positioned.Difference(defined); missing.Cardinality() > 0 {
		t, _ := missing.Pop()
		return invalid(t, "has a cursor but no cached definition")
	}

	for table, def := range c.TableDefs {
		if err := def.Validate(); err != nil {
			return invalid(table, "%v", err)
		}
	}
	for table, cur := range c.CursorByTable {
		if err := cur.Validate(c.TableDefs[table]); err != nil {
			return invalid(table, "%v", err)
		}
	}

	for table, n := range c.TableRows {
		if n < 0 {
			return invalid(table, "negative row count")
		}
	}
	if c.Counted() {
		for _, t := range c.RemainingTables {
			if _, ok := c.TableRows[t]; !ok {
				return invalid(t, "is remaining but has no row count")
			}
		}
	}
	return nil
}
