package serialized

import (
	"encoding/base64"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	tests := []struct {
		name  string
		input string
		kind  Kind
	}{
		{"null", `N;`, KindNull},
		{"true", `b:1;`, KindBool},
		{"false", `b:0;`, KindBool},
		{"int", `i:42;`, KindInt},
		{"negative int", `i:-7;`, KindInt},
		{"int with plus sign kept", `i:+5;`, KindInt},
		{"int with leading zero kept", `i:05;`, KindInt},
		{"negative zero kept", `i:-0;`, KindInt},
		{"float", `d:0.5;`, KindFloat},
		{"float exponent spelling kept", `d:1.0E+25;`, KindFloat},
		{"infinity", `d:INF;`, KindFloat},
		{"empty string", `s:0:"";`, KindBytes},
		{"string", `s:5:"hello";`, KindBytes},
		{"string with quotes and semicolons", `s:7:"a";b"c;";`, KindBytes},
		{"multibyte string", `s:6:"héllo";`, KindBytes},
		{"empty array", `a:0:{}`, KindSequence},
		{"sequence", `a:2:{i:0;s:1:"a";i:1;i:2;}`, KindSequence},
		{"map with string keys", `a:2:{s:3:"url";s:18:"http://example.com";s:2:"id";i:3;}`, KindMap},
		{"sparse int keys", `a:2:{i:0;N;i:5;b:1;}`, KindMap},
		{"padded int keys", `a:2:{i:0;N;i:01;b:1;}`, KindMap},
		{"nested", `a:1:{s:4:"opts";a:1:{i:0;a:1:{s:1:"k";s:1:"v";}}}`, KindMap},
		{"object", `O:8:"stdClass":2:{s:3:"url";s:3:"abc";s:4:"list";a:1:{i:0;d:1.5;}}`, KindStruct},
		{"object with private field name", "O:3:\"Foo\":1:{s:8:\"\x00Foo\x00bar\";i:1;}", KindStruct},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Decode([]byte(tt.input))
			if err != nil {
				t.Fatalf("Decode(%q): %v", tt.input, err)
			}
			if v.Kind != tt.kind {
				t.Errorf("kind = %s, want %s", v.Kind, tt.kind)
			}
			if got := string(Encode(v)); got != tt.input {
				t.Errorf("Encode(Decode(x)) = %q, want %q", got, tt.input)
			}
		})
	}
}

func TestDecodeRejectsMalformedInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ``},
		{"plain text", `hello world`},
		{"digit colon garbage", `5:apples;and:oranges`},
		{"looks like string but wrong length", `s:10:"short";`},
		{"string length too short", `s:2:"abc";`},
		{"missing terminator", `s:3:"abc"`},
		{"truncated array", `a:2:{i:0;s:1:"a";`},
		{"array count exceeds input", `a:999:{}`},
		{"trailing data", `i:1;i:2;`},
		{"bad boolean", `b:2;`},
		{"bad integer", `i:12a;`},
		{"hex float", `d:0x1p3;`},
		{"lowercase inf", `d:inf;`},
		{"array key is array", `a:1:{a:0:{}i:1;}`},
		{"object field name is int", `O:8:"stdClass":1:{i:0;i:1;}`},
		{"reference token", `a:2:{i:0;s:1:"x";i:1;r:2;}`},
		{"custom serialized", `C:3:"Foo":0:{}`},
		{"negative length", `s:-1:"";`},
		{"empty class", `O:0:"":0:{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			if !errors.Is(err, ErrNotSerialized) {
				t.Errorf("Decode(%q) error = %v, want ErrNotSerialized", tt.input, err)
			}
		})
	}
}

func TestDecodeDepthLimit(t *testing.T) {
	var sb strings.Builder
	for i := 0; i <= MaxDepth+1; i++ {
		sb.WriteString("a:1:{i:0;")
	}
	sb.WriteString("N;")
	for i := 0; i <= MaxDepth+1; i++ {
		sb.WriteString("}")
	}
	if _, err := Decode([]byte(sb.String())); !errors.Is(err, ErrNotSerialized) {
		t.Errorf("expected ErrNotSerialized for deep nesting, got %v", err)
	}
}

func TestEncodeDecodeConstructedValues(t *testing.T) {
	values := []Value{
		Null(),
		Bool(true),
		Int(math.MinInt64),
		Float(0.1),
		Float(math.Inf(-1)),
		Float(math.NaN()),
		Bytes("with \"quotes\" and ; semicolons"),
		Sequence(Bytes("a"), Int(2), Sequence()),
		Map(
			Entry{Key: Bytes("url"), Value: Bytes("http://old.example/x")},
			Entry{Key: Int(7), Value: Null()},
		),
		Struct("WP_Post", Field{Name: "guid", Value: Bytes("http://old.example/?p=1")}),
	}

	for _, v := range values {
		encoded := Encode(v)
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("Decode(%q): %v", encoded, err)
		}
		if !Equal(decoded, v) {
			t.Errorf("round trip mismatch for %q", encoded)
		}
	}
}

func TestEncodeRecomputesLengths(t *testing.T) {
	v, err := Decode([]byte(`a:1:{s:3:"url";s:20:"http://old.example/x";}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	rewritten := v.MapStrings(func(s string) string {
		return strings.ReplaceAll(s, "old.example", "new.example.org")
	})

	want := `a:1:{s:3:"url";s:24:"http://new.example.org/x";}`
	if got := string(Encode(rewritten)); got != want {
		t.Errorf("Encode = %q, want %q", got, want)
	}
}

func TestRewriteKeepsIntegerSpelling(t *testing.T) {
	v, err := Decode([]byte(`a:3:{i:00;s:18:"http://old.example";s:1:"n";i:+5;s:1:"m";i:-0;}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v.Kind != KindMap || !Equal(v.Entries[1].Value, Int(5)) {
		t.Fatalf("decoded %+v", v)
	}
	rewritten := v.MapStrings(func(s string) string {
		return strings.ReplaceAll(s, "old.example", "new.example.org")
	})

	want := `a:3:{i:00;s:22:"http://new.example.org";s:1:"n";i:+5;s:1:"m";i:-0;}`
	if got := string(Encode(rewritten)); got != want {
		t.Errorf("Encode = %q, want %q", got, want)
	}
}

func TestMapStringsLeavesKeysAlone(t *testing.T) {
	v := Map(Entry{Key: Bytes("old"), Value: Struct("C", Field{Name: "old", Value: Bytes("old")})})
	out := v.MapStrings(func(s string) string { return strings.ReplaceAll(s, "old", "new") })

	if out.Entries[0].Key.Str != "old" {
		t.Errorf("map key rewritten to %q", out.Entries[0].Key.Str)
	}
	field := out.Entries[0].Value.Fields[0]
	if field.Name != "old" {
		t.Errorf("field name rewritten to %q", field.Name)
	}
	if field.Value.Str != "new" {
		t.Errorf("field value = %q, want %q", field.Value.Str, "new")
	}
	if v.Entries[0].Value.Fields[0].Value.Str != "old" {
		t.Error("MapStrings mutated its receiver")
	}
}

func TestAnyString(t *testing.T) {
	v := Sequence(Int(1), Map(Entry{Key: Bytes("needle"), Value: Bytes("hay")}))
	contains := func(sub string) func(string) bool {
		return func(s string) bool { return strings.Contains(s, sub) }
	}
	if v.AnyString(contains("needle")) {
		t.Error("AnyString matched a map key")
	}
	if !v.AnyString(contains("hay")) {
		t.Error("AnyString missed a nested value")
	}
}

func TestDecodeCellBase64(t *testing.T) {
	inner := `a:1:{s:4:"home";s:18:"http://old.example";}`
	cell := base64.StdEncoding.EncodeToString([]byte(inner))

	v, wrapped, err := DecodeCell([]byte(cell))
	if err != nil {
		t.Fatalf("DecodeCell: %v", err)
	}
	if !wrapped {
		t.Fatal("expected wrapped = true")
	}
	if got := string(EncodeCell(v, wrapped)); got != cell {
		t.Errorf("EncodeCell = %q, want %q", got, cell)
	}

	// Valid base64 that does not wrap an encoded value stays an error.
	if _, _, err := DecodeCell([]byte("aGVsbG8gd29ybGQ=")); !errors.Is(err, ErrNotSerialized) {
		t.Errorf("expected ErrNotSerialized, got %v", err)
	}

	v, wrapped, err = DecodeCell([]byte(inner))
	if err != nil || wrapped {
		t.Fatalf("DecodeCell(plain) = wrapped %v, err %v", wrapped, err)
	}
	if string(EncodeCell(v, false)) != inner {
		t.Error("plain cell did not round trip")
	}
}
