package serialized

import (
	"bytes"
	"encoding/base64"
	"strconv"
)

// Encode serializes v. Byte-string lengths are always recomputed, which is
// what keeps a rewritten value readable by the original consumer.
func Encode(v Value) []byte {
	var buf bytes.Buffer
	encodeTo(&buf, v)
	return buf.Bytes()
}

// EncodeCell is the inverse of DecodeCell.
func EncodeCell(v Value, wrapped bool) []byte {
	out := Encode(v)
	if !wrapped {
		return out
	}
	enc := make([]byte, base64.StdEncoding.EncodedLen(len(out)))
	base64.StdEncoding.Encode(enc, out)
	return enc
}

func encodeTo(buf *bytes.Buffer, v Value) {
	switch v.Kind {
	case KindNull:
		buf.WriteString("N;")
	case KindBool:
		if v.Bool {
			buf.WriteString("b:1;")
		} else {
			buf.WriteString("b:0;")
		}
	case KindInt:
		buf.WriteString("i:")
		if v.text != "" {
			buf.WriteString(v.text)
		} else {
			buf.WriteString(strconv.FormatInt(v.Int, 10))
		}
		buf.WriteByte(';')
	case KindFloat:
		buf.WriteString("d:")
		if v.text != "" {
			buf.WriteString(v.text)
		} else {
			buf.WriteString(formatFloat(v.Float))
		}
		buf.WriteByte(';')
	case KindBytes:
		writeString(buf, v.Str)
		buf.WriteByte(';')
	case KindSequence:
		writeCount(buf, 'a', len(v.Items))
		for i, item := range v.Items {
			encodeTo(buf, Int(int64(i)))
			encodeTo(buf, item)
		}
		buf.WriteByte('}')
	case KindMap:
		writeCount(buf, 'a', len(v.Entries))
		for _, e := range v.Entries {
			encodeTo(buf, e.Key)
			encodeTo(buf, e.Value)
		}
		buf.WriteByte('}')
	case KindStruct:
		buf.WriteString("O:")
		buf.WriteString(strconv.Itoa(len(v.Str)))
		buf.WriteString(`:"`)
		buf.WriteString(v.Str)
		buf.WriteString(`":`)
		buf.WriteString(strconv.Itoa(len(v.Fields)))
		buf.WriteString(":{")
		for _, f := range v.Fields {
			writeString(buf, f.Name)
			buf.WriteByte(';')
			encodeTo(buf, f.Value)
		}
		buf.WriteByte('}')
	}
}

// writeString writes s:<len>:"<s>" without the terminating semicolon.
func writeString(buf *bytes.Buffer, s string) {
	buf.WriteString("s:")
	buf.WriteString(strconv.Itoa(len(s)))
	buf.WriteString(`:"`)
	buf.WriteString(s)
	buf.WriteByte('"')
}

func writeCount(buf *bytes.Buffer, tag byte, n int) {
	buf.WriteByte(tag)
	buf.WriteByte(':')
	buf.WriteString(strconv.Itoa(n))
	buf.WriteString(":{")
}
