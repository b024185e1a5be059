// Package schema describes the tables a job rewrites: their columns, which of
// them form the primary key, and how each key column must be compared.
package schema

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/johndauphine/db-search-replace/internal/driver"
)

// KeyKind says how a primary-key value is carried in a cursor and bound in
// a keyset comparison.
type KeyKind string

const (
	// KeyNumeric keys are integers or decimals, bound as numbers.
	KeyNumeric KeyKind = "numeric"
	// KeyBinary keys are raw bytes, base64 encoded inside cursors.
	KeyBinary KeyKind = "binary"
	// KeyOpaque keys are everything else, bound as strings.
	KeyOpaque KeyKind = "opaque"
)

// Valid reports whether k is one of the three known kinds.
func (k KeyKind) Valid() bool {
	return k == KeyNumeric || k == KeyBinary || k == KeyOpaque
}

// ColumnDefinition is one column of a table.
type ColumnDefinition struct {
	Name         string `json:"name" yaml:"name"`
	IsPrimaryKey bool   `json:"is_primary_key" yaml:"is_primary_key"`
	DataType     string `json:"data_type,omitempty" yaml:"data_type,omitempty"`
}

// TableDefinition is the cached shape of one table.
type TableDefinition struct {
	Columns     []ColumnDefinition `json:"columns" yaml:"columns"`
	PrimaryKeys map[string]KeyKind `json:"primary_keys,omitempty" yaml:"primary_keys,omitempty"`
	// KeyOrder is the primary key tuple in declared order.
	KeyOrder []string `json:"key_order,omitempty" yaml:"key_order,omitempty"`
}

// HasPrimaryKey reports whether the table has at least one key column.
func (d TableDefinition) HasPrimaryKey() bool {
	return len(d.KeyOrder) > 0
}

// IsPrimaryKey reports whether name is part of the primary key.
func (d TableDefinition) IsPrimaryKey(name string) bool {
	_, ok := d.PrimaryKeys[name]
	return ok
}

// ColumnNames returns the column names in ordinal order.
func (d TableDefinition) ColumnNames() []string {
	names := make([]string, len(d.Columns))
	for i, c := range d.Columns {
		names[i] = c.Name
	}
	return names
}

// Validate checks that PrimaryKeys, KeyOrder and the column flags agree.
func (d TableDefinition) Validate() error {
	if len(d.Columns) == 0 {
		return fmt.Errorf("table definition has no columns")
	}
	if len(d.KeyOrder) != len(d.PrimaryKeys) {
		return fmt.Errorf("key order lists %d columns, primary keys %d", len(d.KeyOrder), len(d.PrimaryKeys))
	}
	flagged := 0
	for _, c := range d.Columns {
		if c.IsPrimaryKey {
			flagged++
			if _, ok := d.PrimaryKeys[c.Name]; !ok {
				return fmt.Errorf("column %s is flagged as key but has no key kind", c.Name)
			}
		}
	}
	if flagged != len(d.PrimaryKeys) {
		return fmt.Errorf("%d columns flagged as key, %d key kinds", flagged, len(d.PrimaryKeys))
	}
	for _, name := range d.KeyOrder {
		kind, ok := d.PrimaryKeys[name]
		if !ok {
			return fmt.Errorf("key column %s has no key kind", name)
		}
		if !kind.Valid() {
			return fmt.Errorf("key column %s has unknown kind %q", name, kind)
		}
	}
	return nil
}

// FromColumns builds a definition from driver metadata, classifying every
// primary-key column.
func FromColumns(cols []driver.ColumnInfo) TableDefinition {
	def := TableDefinition{Columns: make([]ColumnDefinition, 0, len(cols))}
	var keys []driver.ColumnInfo
	for _, c := range cols {
		isKey := c.KeyPosition > 0
		def.Columns = append(def.Columns, ColumnDefinition{Name: c.Name, IsPrimaryKey: isKey, DataType: c.DataType})
		if isKey {
			keys = append(keys, c)
		}
	}
	if len(keys) == 0 {
		return def
	}

	sort.SliceStable(keys, func(i, j int) bool { return keys[i].KeyPosition < keys[j].KeyPosition })
	def.PrimaryKeys = make(map[string]KeyKind, len(keys))
	for _, k := range keys {
		def.PrimaryKeys[k.Name] = Classify(k.DataType)
		def.KeyOrder = append(def.KeyOrder, k.Name)
	}
	return def
}

var numericTypes = map[string]bool{
	"bit": true, "tinyint": true, "smallint": true, "mediumint": true,
	"int": true, "integer": true, "bigint": true,
	"real": true, "double": true, "float": true, "decimal": true, "numeric": true,
	// engine spellings
	"int2": true, "int4": true, "int8": true, "float4": true, "float8": true,
	"serial": true, "smallserial": true, "bigserial": true, "money": true, "smallmoney": true,
	"double precision": true, "dec": true, "fixed": true,
}

var binaryTypes = map[string]bool{
	"binary": true, "varbinary": true, "bytea": true, "image": true,
	"blob": true, "tinyblob": true, "mediumblob": true, "longblob": true,
	"uniqueidentifier": true,
}

// Classify maps a column type name to its KeyKind. Length and precision
// arguments and sign modifiers are ignored, so "int(11) unsigned" is numeric
// and "VARBINARY(16)" is binary.
func Classify(typeName string) KeyKind {
	t := strings.ToLower(strings.TrimSpace(typeName))
	if i := strings.IndexByte(t, '('); i >= 0 {
		rest := ""
		if j := strings.IndexByte(t[i:], ')'); j >= 0 {
			rest = t[i+j+1:]
		}
		t = t[:i] + rest
	}
	fields := strings.Fields(t)
	kept := fields[:0]
	for _, f := range fields {
		switch f {
		case "unsigned", "signed", "zerofill":
			continue
		}
		kept = append(kept, f)
	}
	t = strings.Join(kept, " ")

	switch {
	case numericTypes[t]:
		return KeyNumeric
	case binaryTypes[t]:
		return KeyBinary
	}
	return KeyOpaque
}

// Introspector reads table definitions through a driver.
type Introspector struct {
	db     sqlx.QueryerContext
	driver driver.Driver
	schema string
}

// NewIntrospector creates an introspector for tables in schema (empty means
// the connection default).
func NewIntrospector(db sqlx.QueryerContext, d driver.Driver, schema string) *Introspector {
	return &Introspector{db: db, driver: d, schema: schema}
}

// Introspect queries the column metadata of table.
func (i *Introspector) Introspect(ctx context.Context, table string) (TableDefinition, error) {
	cols, err := i.driver.Columns(ctx, i.db, i.schema, table)
	if err != nil {
		return TableDefinition{}, err
	}
	if len(cols) == 0 {
		return TableDefinition{}, fmt.Errorf("table %s not found or has no columns", table)
	}
	return FromColumns(cols), nil
}
