// Package serialized decodes and encodes the length-prefixed composite value
// format that legacy CMS tables keep in single text cells.
//
// The grammar covers null, booleans, integers, floats, length-prefixed byte
// strings, arrays (ordered sequences or associative maps) and named objects
// with fields, nested to any depth:
//
//	N;  b:1;  i:42;  d:0.5;  s:5:"hello";  a:1:{i:0;s:1:"x";}  O:8:"stdClass":1:{s:3:"url";s:0:"";}
package serialized

import (
	"math"
	"strconv"
)

// Kind identifies which member of the Value union is set.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindBytes
	KindSequence
	KindMap
	KindStruct
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBytes:
		return "bytes"
	case KindSequence:
		return "sequence"
	case KindMap:
		return "map"
	case KindStruct:
		return "struct"
	default:
		return "unknown"
	}
}

// Value is the in-memory form of one encoded value. Only the fields that
// belong to Kind are meaningful.
type Value struct {
	Kind    Kind
	Bool    bool
	Int     int64
	Float   float64
	Str     string  // KindBytes payload, KindStruct class name
	Items   []Value // KindSequence
	Entries []Entry // KindMap
	Fields  []Field // KindStruct

	// text is the scalar as it appeared in the input, reused on encode so
	// an untouched float or a non-canonical integer keeps its exact spelling.
	text string
}

// Entry is one key/value pair of an associative array. Key is always
// KindInt or KindBytes.
type Entry struct {
	Key   Value
	Value Value
}

// Field is one named property of a struct.
type Field struct {
	Name  string
	Value Value
}

// Constructors, one per kind.

func Null() Value           { return Value{Kind: KindNull} }
func Bool(b bool) Value     { return Value{Kind: KindBool, Bool: b} }
func Int(i int64) Value     { return Value{Kind: KindInt, Int: i} }
func Float(f float64) Value { return Value{Kind: KindFloat, Float: f} }
func Bytes(s string) Value  { return Value{Kind: KindBytes, Str: s} }
func Sequence(items ...Value) Value {
	return Value{Kind: KindSequence, Items: items}
}
func Map(entries ...Entry) Value {
	return Value{Kind: KindMap, Entries: entries}
}
func Struct(class string, fields ...Field) Value {
	return Value{Kind: KindStruct, Str: class, Fields: fields}
}

// Equal reports whether a and b hold the same value. Number spelling is
// ignored; NaN equals NaN.
func Equal(a, b Value) bool {
	if a.Kind != b.Kind {
		return false
	}
	switch a.Kind {
	case KindNull:
		return true
	case KindBool:
		return a.Bool == b.Bool
	case KindInt:
		return a.Int == b.Int
	case KindFloat:
		if math.IsNaN(a.Float) && math.IsNaN(b.Float) {
			return true
		}
		return a.Float == b.Float
	case KindBytes:
		return a.Str == b.Str
	case KindSequence:
		if len(a.Items) != len(b.Items) {
			return false
		}
		for i := range a.Items {
			if !Equal(a.Items[i], b.Items[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(a.Entries) != len(b.Entries) {
			return false
		}
		for i := range a.Entries {
			if !Equal(a.Entries[i].Key, b.Entries[i].Key) || !Equal(a.Entries[i].Value, b.Entries[i].Value) {
				return false
			}
		}
		return true
	case KindStruct:
		if a.Str != b.Str || len(a.Fields) != len(b.Fields) {
			return false
		}
		for i := range a.Fields {
			if a.Fields[i].Name != b.Fields[i].Name || !Equal(a.Fields[i].Value, b.Fields[i].Value) {
				return false
			}
		}
		return true
	}
	return false
}

// AnyString reports whether pred holds for any byte-string leaf. Map keys
// and struct field names are not leaves.
func (v Value) AnyString(pred func(string) bool) bool {
	switch v.Kind {
	case KindBytes:
		return pred(v.Str)
	case KindSequence:
		for _, item := range v.Items {
			if item.AnyString(pred) {
				return true
			}
		}
	case KindMap:
		for _, e := range v.Entries {
			if e.Value.AnyString(pred) {
				return true
			}
		}
	case KindStruct:
		for _, f := range v.Fields {
			if f.Value.AnyString(pred) {
				return true
			}
		}
	}
	return false
}

// MapStrings returns a copy of v with fn applied to every byte-string leaf.
func (v Value) MapStrings(fn func(string) string) Value {
	switch v.Kind {
	case KindBytes:
		return Bytes(fn(v.Str))
	case KindSequence:
		items := make([]Value, len(v.Items))
		for i, item := range v.Items {
			items[i] = item.MapStrings(fn)
		}
		return Sequence(items...)
	case KindMap:
		entries := make([]Entry, len(v.Entries))
		for i, e := range v.Entries {
			entries[i] = Entry{Key: e.Key, Value: e.Value.MapStrings(fn)}
		}
		return Map(entries...)
	case KindStruct:
		fields := make([]Field, len(v.Fields))
		for i, f := range v.Fields {
			fields[i] = Field{Name: f.Name, Value: f.Value.MapStrings(fn)}
		}
		return Struct(v.Str, fields...)
	}
	return v
}

func formatFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "NAN"
	case math.IsInf(f, 1):
		return "INF"
	case math.IsInf(f, -1):
		return "-INF"
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}
