package mssql

import (
	"fmt"
	"strings"
)

// Dialect implements driver.Dialect for SQL Server.
type Dialect struct{}

func (d *Dialect) DBType() string { return "mssql" }

func (d *Dialect) QuoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

func (d *Dialect) Placeholder(index int) string {
	return fmt.Sprintf("@p%d", index)
}

// SupportsRowValues is false: T-SQL has no tuple comparison.
func (d *Dialect) SupportsRowValues() bool { return false }

func (d *Dialect) PageQuery(table, where string, orderBy []string, limit int64) string {
	q := fmt.Sprintf("SELECT TOP (%d) * FROM %s", limit, table)
	if where != "" {
		q += " WHERE " + where
	}
	if len(orderBy) > 0 {
		q += " ORDER BY " + strings.Join(orderBy, ", ")
	}
	return q
}

// OffsetQuery uses OFFSET/FETCH, which requires an ORDER BY, so rows are
// ordered by a constant.
func (d *Dialect) OffsetQuery(table string, offset, limit int64) string {
	return fmt.Sprintf("SELECT * FROM %s ORDER BY (SELECT NULL) OFFSET %d ROWS FETCH NEXT %d ROWS ONLY",
		table, offset, limit)
}
