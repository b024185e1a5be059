// Package rewrite applies ordered search/replace pairs to the text cells of a
// row, descending into encoded composite values so their length prefixes
// stay correct.
package rewrite

import (
	"strconv"
	"strings"

	"github.com/johndauphine/db-search-replace/internal/schema"
	"github.com/johndauphine/db-search-replace/internal/serialized"
)

// maxNesting bounds how many times an encoded value may be nested inside a
// byte-string leaf of another one.
const maxNesting = 16

// Pair is one substitution. Pairs apply in slice order, so a later pair sees
// the output of the earlier ones.
type Pair struct {
	Search  string `yaml:"search" json:"search"`
	Replace string `yaml:"replace" json:"replace"`
}

// Row is one fetched row keyed by column name, holding driver values.
type Row map[string]any

// Predicate is one "column = value" (or "column IS NULL") term of the
// WHERE clause that identifies a row.
type Predicate struct {
	Column string
	Value  any
	IsNull bool
}

// Where identifies the row an UPDATE targets. Terms are ANDed.
type Where []Predicate

// Outcome is the result of rewriting one row.
type Outcome struct {
	Changed bool
	// NewValues holds only the columns whose bytes changed.
	NewValues map[string]any
	// Where is set when Changed is true.
	Where Where
}

// Rewriter rewrites rows.
type Rewriter struct {
	Pairs          []Pair
	ExcludedColumn string
}

// New creates a Rewriter.
func New(pairs []Pair, excludedColumn string) *Rewriter {
	return &Rewriter{Pairs: pairs, ExcludedColumn: excludedColumn}
}

// Rewrite computes the new values for row. Primary-key columns, the excluded
// column, NULLs, non-text values, empty strings and numeric strings are left
// alone.
func (r *Rewriter) Rewrite(row Row, def schema.TableDefinition) Outcome {
	var out Outcome
	for _, col := range def.Columns {
		if col.IsPrimaryKey || col.Name == r.ExcludedColumn {
			continue
		}
		val, ok := row[col.Name]
		if !ok {
			continue
		}

		var text string
		var asBytes bool
		switch v := val.(type) {
		case string:
			text = v
		case []byte:
			text, asBytes = string(v), true
		default:
			continue
		}
		if text == "" || isNumeric(text) {
			continue
		}

		newText, changed := r.RewriteText(text)
		if !changed {
			continue
		}
		if out.NewValues == nil {
			out.NewValues = make(map[string]any)
		}
		if asBytes {
			out.NewValues[col.Name] = []byte(newText)
		} else {
			out.NewValues[col.Name] = newText
		}
	}

	if len(out.NewValues) > 0 {
		out.Changed = true
		out.Where = WhereFor(row, def)
	}
	return out
}

// RewriteText rewrites one cell. Encoded composite values (optionally base64
// wrapped) are decoded, rewritten leaf by leaf and re-encoded; anything else
// is treated as a plain string.
func (r *Rewriter) RewriteText(s string) (string, bool) {
	return r.rewrite(s, 0)
}

func (r *Rewriter) rewrite(s string, depth int) (string, bool) {
	if depth < maxNesting {
		if v, wrapped, err := serialized.DecodeCell([]byte(s)); err == nil {
			if !v.AnyString(func(leaf string) bool { return r.mentions(leaf, depth+1) }) {
				return s, false
			}
			nv := v.MapStrings(func(leaf string) string {
				out, _ := r.rewrite(leaf, depth+1)
				return out
			})
			out := string(serialized.EncodeCell(nv, wrapped))
			return out, out != s
		}
	}
	if !r.contains(s) {
		return s, false
	}
	out := s
	for _, p := range r.Pairs {
		if p.Search != "" {
			out = strings.ReplaceAll(out, p.Search, p.Replace)
		}
	}
	return out, out != s
}

// mentions reports whether any search string occurs in s, looking through a
// base64 layer whose payload is an encoded value.
func (r *Rewriter) mentions(s string, depth int) bool {
	if r.contains(s) {
		return true
	}
	if depth >= maxNesting {
		return false
	}
	v, wrapped, err := serialized.DecodeCell([]byte(s))
	if err != nil || !wrapped {
		return false
	}
	return v.AnyString(func(leaf string) bool { return r.mentions(leaf, depth+1) })
}

func (r *Rewriter) contains(s string) bool {
	for _, p := range r.Pairs {
		if p.Search != "" && strings.Contains(s, p.Search) {
			return true
		}
	}
	return false
}

// WhereFor identifies row: by its primary key when the table has one,
// otherwise by every column's original value.
func WhereFor(row Row, def schema.TableDefinition) Where {
	cols := def.KeyOrder
	if !def.HasPrimaryKey() {
		cols = def.ColumnNames()
	}
	where := make(Where, 0, len(cols))
	for _, col := range cols {
		v := row[col]
		where = append(where, Predicate{Column: col, Value: v, IsNull: v == nil})
	}
	return where
}

func isNumeric(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	c := s[0]
	if c != '-' && c != '+' && c != '.' && (c < '0' || c > '9') {
		return false
	}
	if strings.ContainsAny(s, "xX_") {
		return false
	}
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
