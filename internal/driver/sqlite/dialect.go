package sqlite

import (
	"strings"

	"github.com/johndauphine/db-search-replace/internal/driver"
)

// Dialect implements driver.Dialect for SQLite.
type Dialect struct{}

func (d *Dialect) DBType() string { return "sqlite" }

func (d *Dialect) QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func (d *Dialect) Placeholder(_ int) string { return "?" }

// SupportsRowValues is true for SQLite 3.15 and later.
func (d *Dialect) SupportsRowValues() bool { return true }

func (d *Dialect) PageQuery(table, where string, orderBy []string, limit int64) string {
	return driver.TrailingLimitQuery(table, where, orderBy, limit)
}

func (d *Dialect) OffsetQuery(table string, offset, limit int64) string {
	return driver.LimitOffsetQuery(table, offset, limit)
}
