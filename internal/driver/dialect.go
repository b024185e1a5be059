package driver

import (
	"strconv"
	"strings"
)

// Dialect abstracts database-specific SQL syntax differences.
// Each database driver provides its own Dialect implementation.
type Dialect interface {
	// DBType returns the database type (e.g., "mysql", "postgres").
	DBType() string

	// QuoteIdentifier quotes an identifier (table, column name).
	// MySQL: `identifier`
	// PostgreSQL/SQLite: "identifier"
	// MSSQL: [identifier]
	QuoteIdentifier(name string) string

	// Placeholder returns the parameter placeholder for the 1-based index.
	// PostgreSQL: $1, $2
	// MSSQL: @p1, @p2
	// MySQL/SQLite: ?, ?
	Placeholder(index int) string

	// SupportsRowValues reports whether (a, b) > (x, y) comparisons work.
	SupportsRowValues() bool

	// PageQuery builds "SELECT * FROM table" with an optional WHERE and
	// ORDER BY, returning at most limit rows.
	PageQuery(table, where string, orderBy []string, limit int64) string

	// OffsetQuery builds an unordered "SELECT * FROM table" that skips offset
	// rows and returns at most limit rows.
	OffsetQuery(table string, offset, limit int64) string
}

// QualifyTable returns a schema-qualified, quoted table reference. An empty
// schema yields the bare quoted table name.
func QualifyTable(d Dialect, schema, table string) string {
	if schema == "" {
		return d.QuoteIdentifier(table)
	}
	return d.QuoteIdentifier(schema) + "." + d.QuoteIdentifier(table)
}

// CountQuery returns a COUNT(*) query for an already qualified table.
func CountQuery(table string) string {
	return "SELECT COUNT(*) FROM " + table
}

// QuoteColumns quotes each column name with the dialect.
func QuoteColumns(d Dialect, cols []string) []string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = d.QuoteIdentifier(c)
	}
	return quoted
}

// selectClause is shared by the dialects that put LIMIT at the end.
func selectClause(table, where string, orderBy []string) string {
	var sb strings.Builder
	sb.WriteString("SELECT * FROM ")
	sb.WriteString(table)
	if where != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(where)
	}
	if len(orderBy) > 0 {
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(orderBy, ", "))
	}
	return sb.String()
}

// TrailingLimitQuery is the LIMIT n form used by PostgreSQL, MySQL and SQLite.
func TrailingLimitQuery(table, where string, orderBy []string, limit int64) string {
	return selectClause(table, where, orderBy) + " LIMIT " + strconv.FormatInt(limit, 10)
}

// LimitOffsetQuery is the LIMIT n OFFSET m form used by PostgreSQL and SQLite.
func LimitOffsetQuery(table string, offset, limit int64) string {
	return selectClause(table, "", nil) + " LIMIT " + strconv.FormatInt(limit, 10) +
		" OFFSET " + strconv.FormatInt(offset, 10)
}
