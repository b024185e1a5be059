// Package cursor tracks where a table scan stopped and plans the query for
// the next page.
//
// Tables with a primary key are paged with keyset (seek) pagination: the
// cursor holds the key tuple of the last processed row and the next page is
// everything strictly greater in key order. Tables without a key fall back
// to offset pagination.
package cursor

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/johndauphine/db-search-replace/internal/schema"
)

// Kind selects the pagination strategy of a cursor.
type Kind string

const (
	KindOffset Kind = "offset"
	KindSeek   Kind = "seek"
)

// Cursor is the resumption point for one table. It only holds text and
// integers so checkpoints stay JSON-compatible.
type Cursor struct {
	Kind Kind `json:"kind" yaml:"kind"`

	// Offset cursors: rows before Page*PageSize+Row have been processed.
	Page     int64 `json:"page,omitempty" yaml:"page,omitempty"`
	PageSize int64 `json:"page_size,omitempty" yaml:"page_size,omitempty"`
	Row      int64 `json:"row,omitempty" yaml:"row,omitempty"`

	// Seek cursors: key tuple of the last processed row, nil before the
	// first row. Binary values are standard base64.
	LastKey map[string]string `json:"last_key,omitempty" yaml:"last_key,omitempty"`
	// RawKeys lists opaque key columns whose value was not valid UTF-8 and
	// is stored in LastKey as standard base64.
	RawKeys []string `json:"raw_keys,omitempty" yaml:"raw_keys,omitempty"`
}

func (c Cursor) isRaw(col string) bool {
	for _, r := range c.RawKeys {
		if r == col {
			return true
		}
	}
	return false
}

// Start returns the cursor for a table that has not been scanned yet.
func Start(def schema.TableDefinition, pageSize int64) Cursor {
	if def.HasPrimaryKey() {
		return Cursor{Kind: KindSeek}
	}
	return Cursor{Kind: KindOffset, PageSize: pageSize}
}

// Offset is the absolute row offset of an offset cursor.
func (c Cursor) Offset() int64 {
	return c.Page*c.PageSize + c.Row
}

// Advance moves an offset cursor past n more processed rows.
func (c Cursor) Advance(n int64) Cursor {
	pos := c.Row + n
	c.Page += pos / c.PageSize
	c.Row = pos % c.PageSize
	return c
}

// Validate checks that c fits def: the strategy matches the presence of a
// primary key and every seek value decodes as its column's kind.
func (c Cursor) Validate(def schema.TableDefinition) error {
	switch c.Kind {
	case KindOffset:
		if def.HasPrimaryKey() {
			return fmt.Errorf("offset cursor on a table with a primary key")
		}
		if c.PageSize <= 0 || c.Page < 0 || c.Row < 0 || c.Row >= c.PageSize {
			return fmt.Errorf("offset cursor out of range (page %d, page_size %d, row %d)", c.Page, c.PageSize, c.Row)
		}
		return nil

	case KindSeek:
		if !def.HasPrimaryKey() {
			return fmt.Errorf("seek cursor on a table without a primary key")
		}
		if len(c.LastKey) == 0 {
			if len(c.RawKeys) > 0 {
				return fmt.Errorf("raw key columns without a seek key")
			}
			return nil
		}
		for _, col := range c.RawKeys {
			if _, ok := c.LastKey[col]; !ok {
				return fmt.Errorf("raw key column %s is not in the seek key", col)
			}
			if def.PrimaryKeys[col] != schema.KeyOpaque {
				return fmt.Errorf("raw key column %s is not an opaque key", col)
			}
		}
		if len(c.LastKey) != len(def.PrimaryKeys) {
			return fmt.Errorf("seek key has %d columns, primary key has %d", len(c.LastKey), len(def.PrimaryKeys))
		}
		for col, val := range c.LastKey {
			kind, ok := def.PrimaryKeys[col]
			if !ok {
				return fmt.Errorf("seek key column %s is not part of the primary key", col)
			}
			if _, err := c.keyArg(col, kind, val); err != nil {
				return fmt.Errorf("seek key column %s: %w", col, err)
			}
		}
		return nil
	}
	return fmt.Errorf("unknown cursor kind %q", c.Kind)
}

// SeekFromRow captures the primary key tuple of a fetched row as a seek
// cursor.
func SeekFromRow(def schema.TableDefinition, row map[string]any) (Cursor, error) {
	c := Cursor{Kind: KindSeek, LastKey: make(map[string]string, len(def.KeyOrder))}
	for _, col := range def.KeyOrder {
		v, ok := row[col]
		if !ok {
			return Cursor{}, fmt.Errorf("row has no value for key column %s", col)
		}
		s, raw, err := EncodeKeyValue(def.PrimaryKeys[col], v)
		if err != nil {
			return Cursor{}, fmt.Errorf("key column %s: %w", col, err)
		}
		c.LastKey[col] = s
		if raw {
			c.RawKeys = append(c.RawKeys, col)
		}
	}
	return c, nil
}

// DecodeKey validates c against def and returns the seek key as query
// arguments in key order. It returns nil for a cursor that has not moved.
func DecodeKey(def schema.TableDefinition, c Cursor) ([]any, error) {
	if err := c.Validate(def); err != nil {
		return nil, err
	}
	if c.Kind != KindSeek || len(c.LastKey) == 0 {
		return nil, nil
	}
	args := make([]any, len(def.KeyOrder))
	for i, col := range def.KeyOrder {
		v, err := c.keyArg(col, def.PrimaryKeys[col], c.LastKey[col])
		if err != nil {
			return nil, fmt.Errorf("key column %s: %w", col, err)
		}
		args[i] = v
	}
	return args, nil
}

func (c Cursor) keyArg(col string, kind schema.KeyKind, s string) (any, error) {
	if c.isRaw(col) {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 raw key: %w", err)
		}
		return b, nil
	}
	return DecodeKeyValue(kind, s)
}

// EncodeKeyValue converts a driver value to its cursor text. raw reports an
// opaque value that was not valid UTF-8 and has been base64 encoded instead.
func EncodeKeyValue(kind schema.KeyKind, v any) (s string, raw bool, err error) {
	if v == nil {
		return "", false, fmt.Errorf("NULL key value")
	}
	switch kind {
	case schema.KeyBinary:
		switch b := v.(type) {
		case []byte:
			return base64.StdEncoding.EncodeToString(b), false, nil
		case string:
			return base64.StdEncoding.EncodeToString([]byte(b)), false, nil
		}
		return "", false, fmt.Errorf("unexpected %T for binary key", v)

	case schema.KeyNumeric:
		switch n := v.(type) {
		case int64:
			s = strconv.FormatInt(n, 10)
		case int32:
			s = strconv.FormatInt(int64(n), 10)
		case int:
			s = strconv.Itoa(n)
		case uint64:
			s = strconv.FormatUint(n, 10)
		case float64:
			s = strconv.FormatFloat(n, 'g', -1, 64)
		case float32:
			s = strconv.FormatFloat(float64(n), 'g', -1, 32)
		case bool:
			s = "0"
			if n {
				s = "1"
			}
		case []byte:
			s = string(n)
		case string:
			s = n
		default:
			return "", false, fmt.Errorf("unexpected %T for numeric key", v)
		}
		if !isNumeric(s) {
			return "", false, fmt.Errorf("numeric key value %q is not a number", s)
		}
		return s, false, nil

	default:
		switch o := v.(type) {
		case string:
			if !utf8.ValidString(o) {
				return base64.StdEncoding.EncodeToString([]byte(o)), true, nil
			}
			return o, false, nil
		case []byte:
			if !utf8.Valid(o) {
				return base64.StdEncoding.EncodeToString(o), true, nil
			}
			return string(o), false, nil
		case time.Time:
			return o.Format(time.RFC3339Nano), false, nil
		}
		return fmt.Sprint(v), false, nil
	}
}

// DecodeKeyValue converts cursor text back into a query argument: integral
// numerics become int64, other numerics stay decimal text, binary values are
// base64-decoded to raw bytes.
func DecodeKeyValue(kind schema.KeyKind, s string) (any, error) {
	switch kind {
	case schema.KeyNumeric:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		if !isNumeric(s) {
			return nil, fmt.Errorf("%q is not a number", s)
		}
		return s, nil
	case schema.KeyBinary:
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, fmt.Errorf("invalid base64 binary key: %w", err)
		}
		return b, nil
	case schema.KeyOpaque:
		return s, nil
	}
	return nil, fmt.Errorf("unknown key kind %q", kind)
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
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}
