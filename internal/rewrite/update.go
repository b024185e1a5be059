package rewrite

import (
	"strings"

	"github.com/johndauphine/db-search-replace/internal/driver"
	"github.com/johndauphine/db-search-replace/internal/schema"
)

// BuildUpdate renders the UPDATE for a changed row. SET columns follow the
// table's column order; placeholders are numbered SET first, then WHERE.
func BuildUpdate(d driver.Dialect, table string, def schema.TableDefinition, out Outcome) (string, []any) {
	var sb strings.Builder
	args := make([]any, 0, len(out.NewValues)+len(out.Where))

	sb.WriteString("UPDATE ")
	sb.WriteString(table)
	sb.WriteString(" SET ")
	first := true
	for _, col := range def.Columns {
		v, ok := out.NewValues[col.Name]
		if !ok {
			continue
		}
		if !first {
			sb.WriteString(", ")
		}
		first = false
		args = append(args, v)
		sb.WriteString(d.QuoteIdentifier(col.Name))
		sb.WriteString(" = ")
		sb.WriteString(d.Placeholder(len(args)))
	}

	sb.WriteString(" WHERE ")
	for i, p := range out.Where {
		if i > 0 {
			sb.WriteString(" AND ")
		}
		sb.WriteString(d.QuoteIdentifier(p.Column))
		if p.IsNull {
			sb.WriteString(" IS NULL")
			continue
		}
		args = append(args, p.Value)
		sb.WriteString(" = ")
		sb.WriteString(d.Placeholder(len(args)))
	}
	return sb.String(), args
}
