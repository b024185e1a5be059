// Package driver provides pluggable database driver abstractions.
// Each database (MySQL, PostgreSQL, SQL Server, SQLite) implements the Driver
// interface to provide connection setup, SQL syntax and column metadata in
// one cohesive unit.
package driver

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Defaults contains default values for a database driver.
// Used by config.applyDefaults() to set sensible defaults for each database type.
type Defaults struct {
	// Port is the default port (e.g., 3306 for MySQL, 5432 for PostgreSQL).
	Port int

	// Schema is the default schema. Empty means the connection's database.
	Schema string

	// SSLMode is the default SSL mode for PostgreSQL-style connections.
	SSLMode string
}

// ConnParams holds everything needed to open a connection.
type ConnParams struct {
	Host            string
	Port            int
	Database        string
	User            string
	Password        string
	Path            string // SQLite database file
	SSLMode         string // PostgreSQL
	Encrypt         string // SQL Server
	TrustServerCert bool   // SQL Server
	MaxConns        int
}

// ColumnInfo is one row of column metadata as reported by the database.
type ColumnInfo struct {
	Name     string
	DataType string
	// KeyPosition is the 1-based position in the primary key, 0 when the
	// column is not part of it.
	KeyPosition int
}

// Driver represents a pluggable database driver.
//
// To add a new database:
// 1. Create a package under internal/driver/<dbname>/
// 2. Implement the Driver interface
// 3. Register via init(): driver.Register(&MyDriver{})
type Driver interface {
	// Name returns the primary driver name (e.g., "mysql", "postgres").
	Name() string

	// Aliases returns alternative names for this driver.
	Aliases() []string

	// Defaults returns the default configuration values for this driver.
	Defaults() Defaults

	// Dialect returns the SQL dialect for this database.
	Dialect() Dialect

	// SQLDriverName is the database/sql driver name used with sqlx.Open.
	SQLDriverName() string

	// DSN builds a connection string from the connection parameters.
	DSN(p ConnParams) string

	// Columns returns the columns of schema.table in ordinal order.
	Columns(ctx context.Context, q sqlx.QueryerContext, schema, table string) ([]ColumnInfo, error)
}

// Open connects to the database described by p and verifies the connection.
func Open(ctx context.Context, d Driver, p ConnParams) (*sqlx.DB, error) {
	db, err := sqlx.Open(d.SQLDriverName(), d.DSN(p))
	if err != nil {
		return nil, fmt.Errorf("opening %s connection: %w", d.Name(), err)
	}
	if p.MaxConns > 0 {
		db.SetMaxOpenConns(p.MaxConns)
		db.SetMaxIdleConns(p.MaxConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging %s: %w", d.Name(), err)
	}
	return db, nil
}
