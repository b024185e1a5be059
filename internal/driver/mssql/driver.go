// Package mssql provides the Microsoft SQL Server driver implementation.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"

	"github.com/jmoiron/sqlx"
	"github.com/johndauphine/db-search-replace/internal/driver"
	_ "github.com/microsoft/go-mssqldb" // registers "sqlserver"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for Microsoft SQL Server.
type Driver struct{}

// Name returns the primary driver name.
func (d *Driver) Name() string {
	return "mssql"
}

// Aliases returns alternative names for the driver.
func (d *Driver) Aliases() []string {
	return []string{"sqlserver", "sql-server"}
}

// Defaults returns the default configuration values for MSSQL.
func (d *Driver) Defaults() driver.Defaults {
	return driver.Defaults{
		Port:   1433,
		Schema: "dbo",
	}
}

// Dialect returns the MSSQL dialect.
func (d *Driver) Dialect() driver.Dialect {
	return &Dialect{}
}

// SQLDriverName returns the go-mssqldb driver name.
func (d *Driver) SQLDriverName() string {
	return "sqlserver"
}

// DSN builds a sqlserver:// URL.
func (d *Driver) DSN(p driver.ConnParams) string {
	encrypt := p.Encrypt
	if encrypt == "" {
		encrypt = "true"
	}
	dsn := fmt.Sprintf("sqlserver://%s:%s@%s:%d?database=%s&encrypt=%s",
		url.QueryEscape(p.User), url.QueryEscape(p.Password), p.Host, p.Port,
		url.QueryEscape(p.Database), encrypt)
	if p.TrustServerCert {
		dsn += "&TrustServerCertificate=true"
	}
	return dsn
}

// Columns loads column names, data types and primary key positions.
func (d *Driver) Columns(ctx context.Context, q sqlx.QueryerContext, schema, table string) ([]driver.ColumnInfo, error) {
	rows, err := q.QueryxContext(ctx, `
		SELECT c.COLUMN_NAME, c.DATA_TYPE, ISNULL(pk.ORDINAL_POSITION, 0)
		FROM INFORMATION_SCHEMA.COLUMNS c
		LEFT JOIN (
			SELECT kcu.COLUMN_NAME, kcu.ORDINAL_POSITION
			FROM INFORMATION_SCHEMA.TABLE_CONSTRAINTS tc
			JOIN INFORMATION_SCHEMA.KEY_COLUMN_USAGE kcu
				ON kcu.CONSTRAINT_NAME = tc.CONSTRAINT_NAME
				AND kcu.TABLE_SCHEMA = tc.TABLE_SCHEMA
				AND kcu.TABLE_NAME = tc.TABLE_NAME
			WHERE tc.CONSTRAINT_TYPE = 'PRIMARY KEY'
			  AND tc.TABLE_SCHEMA = @schema AND tc.TABLE_NAME = @table
		) pk ON pk.COLUMN_NAME = c.COLUMN_NAME
		WHERE c.TABLE_SCHEMA = @schema AND c.TABLE_NAME = @table
		ORDER BY c.ORDINAL_POSITION
	`, sql.Named("schema", schema), sql.Named("table", table))
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
