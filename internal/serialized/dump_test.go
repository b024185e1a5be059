package serialized

import (
	"strings"
	"testing"
)

func TestDump(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"scalar", `i:42;`, "int 42\n"},
		{"null", `N;`, "null\n"},
		{"string", `s:5:"hello";`, "bytes(5) \"hello\"\n"},
		{
			"nested map",
			`a:2:{s:3:"url";s:3:"abc";s:4:"list";a:1:{i:0;d:1.5;}}`,
			`map (2)
  ["url"] => bytes(3) "abc"
  ["list"] => sequence (1)
    [0] float 1.5
`,
		},
		{
			"object",
			`O:8:"stdClass":2:{s:1:"n";N;s:2:"ok";b:1;}`,
			`struct stdClass (2)
  "n": null
  "ok": bool true
`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Decode([]byte(tt.input))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			var b strings.Builder
			if err := Dump(&b, v); err != nil {
				t.Fatalf("Dump: %v", err)
			}
			if b.String() != tt.want {
				t.Errorf("Dump =\n%s\nwant\n%s", b.String(), tt.want)
			}
		})
	}
}
