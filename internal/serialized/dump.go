package serialized

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Dump writes v as an indented tree, one value per line.
func Dump(w io.Writer, v Value) error {
	var b strings.Builder
	dump(&b, v, 0)
	_, err := io.WriteString(w, b.String())
	return err
}

func dump(b *strings.Builder, v Value, depth int) {
	b.WriteString(describe(v))
	b.WriteByte('\n')
	indent := strings.Repeat("  ", depth+1)
	switch v.Kind {
	case KindSequence:
		for i, item := range v.Items {
			fmt.Fprintf(b, "%s[%d] ", indent, i)
			dump(b, item, depth+1)
		}
	case KindMap:
		for _, e := range v.Entries {
			fmt.Fprintf(b, "%s[%s] => ", indent, scalar(e.Key))
			dump(b, e.Value, depth+1)
		}
	case KindStruct:
		for _, f := range v.Fields {
			fmt.Fprintf(b, "%s%s: ", indent, strconv.Quote(f.Name))
			dump(b, f.Value, depth+1)
		}
	}
}

// describe renders the header line of v.
func describe(v Value) string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindSequence:
		return fmt.Sprintf("sequence (%d)", len(v.Items))
	case KindMap:
		return fmt.Sprintf("map (%d)", len(v.Entries))
	case KindStruct:
		return fmt.Sprintf("struct %s (%d)", v.Str, len(v.Fields))
	case KindBytes:
		return fmt.Sprintf("bytes(%d) %s", len(v.Str), strconv.Quote(v.Str))
	default:
		return v.Kind.String() + " " + scalar(v)
	}
}

func scalar(v Value) string {
	switch v.Kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.Bool)
	case KindInt:
		if v.text != "" {
			return v.text
		}
		return strconv.FormatInt(v.Int, 10)
	case KindFloat:
		if v.text != "" {
			return v.text
		}
		return formatFloat(v.Float)
	case KindBytes:
		return strconv.Quote(v.Str)
	}
	return v.Kind.String()
}
