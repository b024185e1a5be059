package postgres

import (
	"fmt"

	"github.com/johndauphine/db-search-replace/internal/driver"
	"github.com/lib/pq"
)

// Dialect implements driver.Dialect for PostgreSQL.
type Dialect struct{}

func (d *Dialect) DBType() string { return "postgres" }

func (d *Dialect) QuoteIdentifier(name string) string {
	return pq.QuoteIdentifier(name)
}

func (d *Dialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (d *Dialect) SupportsRowValues() bool { return true }

func (d *Dialect) PageQuery(table, where string, orderBy []string, limit int64) string {
	return driver.TrailingLimitQuery(table, where, orderBy, limit)
}

func (d *Dialect) OffsetQuery(table string, offset, limit int64) string {
	return driver.LimitOffsetQuery(table, offset, limit)
}
