package mysql

import (
	"fmt"
	"strings"

	"github.com/johndauphine/db-search-replace/internal/driver"
)

// Dialect implements driver.Dialect for MySQL and MariaDB.
type Dialect struct{}

func (d *Dialect) DBType() string { return "mysql" }

func (d *Dialect) QuoteIdentifier(name string) string {
	return "`" + strings.ReplaceAll(name, "`", "``") + "`"
}

func (d *Dialect) Placeholder(_ int) string { return "?" }

func (d *Dialect) SupportsRowValues() bool { return true }

func (d *Dialect) PageQuery(table, where string, orderBy []string, limit int64) string {
	return driver.TrailingLimitQuery(table, where, orderBy, limit)
}

// OffsetQuery uses the native LIMIT offset, count form.
func (d *Dialect) OffsetQuery(table string, offset, limit int64) string {
	return fmt.Sprintf("SELECT * FROM %s LIMIT %d, %d", table, offset, limit)
}
