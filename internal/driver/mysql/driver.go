// Package mysql provides the MySQL/MariaDB driver implementation, the native
// home of CMS tables holding serialized option and meta values.
package mysql

import (
	"context"
	"fmt"
	"net"
	"strconv"

	gomysql "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/johndauphine/db-search-replace/internal/driver"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for MySQL.
type Driver struct{}

// Name returns the primary driver name.
func (d *Driver) Name() string {
	return "mysql"
}

// Aliases returns alternative names for this driver.
func (d *Driver) Aliases() []string {
	return []string{"mariadb"}
}

// Defaults returns the default configuration values for MySQL. The schema
// defaults to the connection's database.
func (d *Driver) Defaults() driver.Defaults {
	return driver.Defaults{Port: 3306}
}

// Dialect returns the MySQL dialect.
func (d *Driver) Dialect() driver.Dialect {
	return &Dialect{}
}

// SQLDriverName returns the go-sql-driver name.
func (d *Driver) SQLDriverName() string {
	return "mysql"
}

// DSN formats a go-sql-driver DSN. Text columns come back as []byte, which
// keeps multi-byte payloads intact.
func (d *Driver) DSN(p driver.ConnParams) string {
	cfg := gomysql.NewConfig()
	cfg.User = p.User
	cfg.Passwd = p.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
	cfg.DBName = p.Database
	cfg.Params = map[string]string{"charset": "utf8mb4"}
	return cfg.FormatDSN()
}

// Columns loads column names, data types and primary key positions.
func (d *Driver) Columns(ctx context.Context, q sqlx.QueryerContext, schema, table string) ([]driver.ColumnInfo, error) {
	rows, err := q.QueryxContext(ctx, `
		SELECT c.COLUMN_NAME, c.DATA_TYPE, COALESCE(k.ORDINAL_POSITION, 0)
		FROM information_schema.COLUMNS c
		LEFT JOIN information_schema.KEY_COLUMN_USAGE k
			ON k.TABLE_SCHEMA = c.TABLE_SCHEMA
			AND k.TABLE_NAME = c.TABLE_NAME
			AND k.COLUMN_NAME = c.COLUMN_NAME
			AND k.CONSTRAINT_NAME = 'PRIMARY'
		WHERE c.TABLE_SCHEMA = COALESCE(NULLIF(?, ''), DATABASE()) AND c.TABLE_NAME = ?
		ORDER BY c.ORDINAL_POSITION
	`, schema, table)
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
