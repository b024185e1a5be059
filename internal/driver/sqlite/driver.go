// Package sqlite provides the SQLite driver implementation on the pure-Go
// modernc.org/sqlite engine.
package sqlite

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/johndauphine/db-search-replace/internal/driver"
	_ "modernc.org/sqlite" // registers "sqlite"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for SQLite files.
type Driver struct{}

// Name returns the primary driver name.
func (d *Driver) Name() string {
	return "sqlite"
}

// Aliases returns alternative names for this driver.
func (d *Driver) Aliases() []string {
	return []string{"sqlite3"}
}

// Defaults returns the default configuration values for SQLite.
func (d *Driver) Defaults() driver.Defaults {
	return driver.Defaults{}
}

// Dialect returns the SQLite dialect.
func (d *Driver) Dialect() driver.Dialect {
	return &Dialect{}
}

// SQLDriverName returns the modernc driver name.
func (d *Driver) SQLDriverName() string {
	return "sqlite"
}

// DSN returns the database path with WAL journaling and a busy timeout.
func (d *Driver) DSN(p driver.ConnParams) string {
	return p.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
}

// Columns reads pragma_table_info. The schema argument names an attached
// database and is ignored when empty.
func (d *Driver) Columns(ctx context.Context, q sqlx.QueryerContext, schema, table string) ([]driver.ColumnInfo, error) {
	if schema == "" {
		schema = "main"
	}
	rows, err := q.QueryxContext(ctx,
		`SELECT name, type, pk FROM pragma_table_info(?, ?) ORDER BY cid`, table, schema)
	if err != nil {
		return nil, fmt.Errorf("querying columns for %s: %w", table, err)
	}
	defer rows.Close()

	var cols []driver.ColumnInfo
	for rows.Next() {
		var c driver.ColumnInfo
		if err := rows.Scan(&c.Name, &c.DataType, &c.KeyPosition); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}
