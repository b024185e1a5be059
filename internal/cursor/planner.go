package cursor

import (
	"fmt"
	"strings"

	"github.com/johndauphine/db-search-replace/internal/driver"
	"github.com/johndauphine/db-search-replace/internal/schema"
)

// Query is a parameterized statement ready for the driver.
type Query struct {
	SQL  string
	Args []any
}

// Planner builds page queries for one database dialect.
type Planner struct {
	dialect driver.Dialect
	schema  string
}

// NewPlanner creates a planner for tables in schema.
func NewPlanner(d driver.Dialect, schemaName string) *Planner {
	return &Planner{dialect: d, schema: schemaName}
}

// PlanPage builds the query for the page that follows c.
//
// Keyless tables fetch one row more than the page holds; the extra row is a
// look-ahead telling the caller another page exists. Keyed tables fetch
// pageSize rows ordered by the full key tuple, strictly after c.LastKey.
func (p *Planner) PlanPage(table string, def schema.TableDefinition, c Cursor, pageSize int64) (Query, error) {
	values, err := DecodeKey(def, c)
	if err != nil {
		return Query{}, fmt.Errorf("planning page for %s: %w", table, err)
	}
	qualified := driver.QualifyTable(p.dialect, p.schema, table)

	if c.Kind == KindOffset {
		remaining := c.PageSize - c.Row
		return Query{SQL: p.dialect.OffsetQuery(qualified, c.Offset(), remaining+1)}, nil
	}

	if pageSize <= 0 {
		return Query{}, fmt.Errorf("planning page for %s: page size must be positive", table)
	}
	orderBy := driver.QuoteColumns(p.dialect, def.KeyOrder)
	if values == nil {
		return Query{SQL: p.dialect.PageQuery(qualified, "", orderBy, pageSize)}, nil
	}

	where, args := p.keysetPredicate(orderBy, values)
	return Query{SQL: p.dialect.PageQuery(qualified, where, orderBy, pageSize), Args: args}, nil
}

// keysetPredicate builds "key tuple > values". Placeholders are numbered in
// order of appearance and every appearance gets its own argument, which
// works for both positional (?) and numbered ($n, @pn) styles.
func (p *Planner) keysetPredicate(cols []string, values []any) (string, []any) {
	var args []any
	next := func(v any) string {
		args = append(args, v)
		return p.dialect.Placeholder(len(args))
	}

	if len(cols) == 1 {
		return cols[0] + " > " + next(values[0]), args
	}

	if p.dialect.SupportsRowValues() {
		phs := make([]string, len(values))
		for i, v := range values {
			phs[i] = next(v)
		}
		return "(" + strings.Join(cols, ", ") + ") > (" + strings.Join(phs, ", ") + ")", args
	}

	// (k1 > v1) OR (k1 = v1 AND k2 > v2) OR ...
	disjuncts := make([]string, len(cols))
	for i := range cols {
		terms := make([]string, 0, i+1)
		for j := 0; j < i; j++ {
			terms = append(terms, cols[j]+" = "+next(values[j]))
		}
		terms = append(terms, cols[i]+" > "+next(values[i]))
		disjuncts[i] = "(" + strings.Join(terms, " AND ") + ")"
	}
	return strings.Join(disjuncts, " OR "), args
}
