// Package postgres provides the PostgreSQL driver implementation.
// It registers itself with the driver registry on import.
package postgres

import (
	"context"
	"fmt"
	"net/url"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver for database/sql
	"github.com/jmoiron/sqlx"
	"github.com/johndauphine/db-search-replace/internal/driver"
)

func init() {
	driver.Register(&Driver{})
}

// Driver implements driver.Driver for PostgreSQL databases.
type Driver struct{}

// Name returns the primary driver name.
func (d *Driver) Name() string {
	return "postgres"
}

// Aliases returns alternative names for this driver.
func (d *Driver) Aliases() []string {
	return []string{"postgresql", "pg"}
}

// Defaults returns the default configuration values for PostgreSQL.
func (d *Driver) Defaults() driver.Defaults {
	return driver.Defaults{
		Port:    5432,
		Schema:  "public",
		SSLMode: "require", // Secure default
	}
}

// Dialect returns the PostgreSQL dialect.
func (d *Driver) Dialect() driver.Dialect {
	return &Dialect{}
}

// SQLDriverName returns the database/sql name registered by pgx.
func (d *Driver) SQLDriverName() string {
	return "pgx"
}

// DSN builds a postgres:// URL with escaped credentials.
func (d *Driver) DSN(p driver.ConnParams) string {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.QueryEscape(p.User), url.QueryEscape(p.Password), p.Host, p.Port, url.QueryEscape(p.Database))

	params := url.Values{}
	if p.SSLMode != "" {
		params.Set("sslmode", p.SSLMode)
	} else {
		params.Set("sslmode", "prefer")
	}
	return dsn + "?" + params.Encode()
}

// Columns loads column names, udt types and primary key positions.
func (d *Driver) Columns(ctx context.Context, q sqlx.QueryerContext, schema, table string) ([]driver.ColumnInfo, error) {
	rows, err := q.QueryxContext(ctx, `
		SELECT c.column_name, c.udt_name, COALESCE(pk.ordinal_position, 0)
		FROM information_schema.columns c
		LEFT JOIN (
			SELECT kcu.column_name, kcu.ordinal_position
			FROM information_schema.table_constraints tc
			JOIN information_schema.key_column_usage kcu
				ON kcu.constraint_name = tc.constraint_name
				AND kcu.table_schema = tc.table_schema
				AND kcu.table_name = tc.table_name
			WHERE tc.constraint_type = 'PRIMARY KEY'
			  AND tc.table_schema = $1 AND tc.table_name = $2
		) pk ON pk.column_name = c.column_name
		WHERE c.table_schema = $1 AND c.table_name = $2
		ORDER BY c.ordinal_position
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
