package serialized

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// MaxDepth bounds nesting so hostile input cannot exhaust the stack.
const MaxDepth = 512

// ErrNotSerialized is returned for any input that is not a complete, well
// formed encoded value. Callers treat such cells as plain strings.
var ErrNotSerialized = errors.New("not a serialized value")

// Decode parses data as a single encoded value. Trailing bytes, truncated
// input, unsupported tokens and length mismatches all yield ErrNotSerialized.
func Decode(data []byte) (Value, error) {
	if !LooksSerialized(data) {
		return Value{}, ErrNotSerialized
	}
	p := &parser{data: data}
	v, err := p.value()
	if err != nil {
		return Value{}, err
	}
	if p.pos != len(p.data) {
		return Value{}, p.fail("trailing data")
	}
	return v, nil
}

// DecodeCell decodes a table cell. When the cell is not an encoded value
// but is valid standard base64 wrapping one, the inner value is returned and
// wrapped is true so EncodeCell can restore the outer layer.
func DecodeCell(data []byte) (v Value, wrapped bool, err error) {
	v, err = Decode(data)
	if err == nil {
		return v, false, nil
	}
	if len(data) < 4 || len(data)%4 != 0 {
		return Value{}, false, err
	}
	inner, b64err := base64.StdEncoding.Strict().DecodeString(string(data))
	if b64err != nil {
		return Value{}, false, err
	}
	v, innerErr := Decode(inner)
	if innerErr != nil {
		return Value{}, false, err
	}
	return v, true, nil
}

// LooksSerialized is a cheap prefix check used before attempting a full
// parse.
func LooksSerialized(data []byte) bool {
	if len(data) < 2 {
		return false
	}
	switch data[0] {
	case 'N':
		return data[1] == ';'
	case 'b', 'i', 'd', 's', 'a', 'O':
		return data[1] == ':'
	}
	return false
}

type parser struct {
	data  []byte
	pos   int
	depth int
}

func (p *parser) fail(msg string) error {
	return fmt.Errorf("%w: %s at offset %d", ErrNotSerialized, msg, p.pos)
}

func (p *parser) remaining() int {
	return len(p.data) - p.pos
}

func (p *parser) expect(b byte) error {
	if p.pos >= len(p.data) || p.data[p.pos] != b {
		return p.fail(fmt.Sprintf("expected %q", b))
	}
	p.pos++
	return nil
}

// token returns the bytes up to (not including) term and consumes term.
func (p *parser) token(term byte) (string, error) {
	start := p.pos
	for p.pos < len(p.data) {
		if p.data[p.pos] == term {
			tok := string(p.data[start:p.pos])
			p.pos++
			if tok == "" {
				return "", p.fail("empty token")
			}
			return tok, nil
		}
		p.pos++
	}
	p.pos = start
	return "", p.fail(fmt.Sprintf("missing %q", term))
}

// length reads a non-negative decimal count terminated by ':'.
func (p *parser) length() (int, error) {
	tok, err := p.token(':')
	if err != nil {
		return 0, err
	}
	for i := 0; i < len(tok); i++ {
		if tok[i] < '0' || tok[i] > '9' {
			return 0, p.fail("invalid length")
		}
	}
	n, err := strconv.Atoi(tok)
	if err != nil || n > p.remaining() {
		return 0, p.fail("length out of range")
	}
	return n, nil
}

// quoted reads "<n bytes>".
func (p *parser) quoted(n int) (string, error) {
	if err := p.expect('"'); err != nil {
		return "", err
	}
	if n > p.remaining() {
		return "", p.fail("string overruns input")
	}
	s := string(p.data[p.pos : p.pos+n])
	p.pos += n
	if err := p.expect('"'); err != nil {
		return "", err
	}
	return s, nil
}

func (p *parser) value() (Value, error) {
	if p.depth > MaxDepth {
		return Value{}, p.fail("nesting too deep")
	}
	if p.remaining() < 2 {
		return Value{}, p.fail("truncated")
	}
	tag := p.data[p.pos]
	if tag == 'N' {
		p.pos++
		if err := p.expect(';'); err != nil {
			return Value{}, err
		}
		return Null(), nil
	}
	p.pos++
	if err := p.expect(':'); err != nil {
		return Value{}, err
	}

	switch tag {
	case 'b':
		tok, err := p.token(';')
		if err != nil {
			return Value{}, err
		}
		switch tok {
		case "0":
			return Bool(false), nil
		case "1":
			return Bool(true), nil
		}
		return Value{}, p.fail("invalid boolean")

	case 'i':
		tok, err := p.token(';')
		if err != nil {
			return Value{}, err
		}
		n, err := strconv.ParseInt(tok, 10, 64)
		if err != nil {
			return Value{}, p.fail("invalid integer")
		}
		v := Int(n)
		if tok != strconv.FormatInt(n, 10) {
			v.text = tok
		}
		return v, nil

	case 'd':
		tok, err := p.token(';')
		if err != nil {
			return Value{}, err
		}
		f, ok := parseFloat(tok)
		if !ok {
			return Value{}, p.fail("invalid float")
		}
		v := Float(f)
		v.text = tok
		return v, nil

	case 's':
		n, err := p.length()
		if err != nil {
			return Value{}, err
		}
		s, err := p.quoted(n)
		if err != nil {
			return Value{}, err
		}
		if err := p.expect(';'); err != nil {
			return Value{}, err
		}
		return Bytes(s), nil

	case 'a':
		return p.array()

	case 'O':
		return p.object()
	}
	return Value{}, p.fail(fmt.Sprintf("unsupported type %q", tag))
}

// elementCount reads "<n>:{" and bounds n by the input left, since every
// element takes at least two bytes.
func (p *parser) elementCount(perElement int) (int, error) {
	n, err := p.length()
	if err != nil {
		return 0, err
	}
	if n*perElement > p.remaining() {
		return 0, p.fail("element count out of range")
	}
	if err := p.expect('{'); err != nil {
		return 0, err
	}
	return n, nil
}

func (p *parser) array() (Value, error) {
	n, err := p.elementCount(4)
	if err != nil {
		return Value{}, err
	}
	p.depth++
	defer func() { p.depth-- }()

	entries := make([]Entry, 0, n)
	sequential := true
	for i := 0; i < n; i++ {
		key, err := p.value()
		if err != nil {
			return Value{}, err
		}
		if key.Kind != KindInt && key.Kind != KindBytes {
			return Value{}, p.fail("invalid array key")
		}
		val, err := p.value()
		if err != nil {
			return Value{}, err
		}
		if key.Kind != KindInt || key.Int != int64(i) || key.text != "" {
			sequential = false
		}
		entries = append(entries, Entry{Key: key, Value: val})
	}
	if err := p.expect('}'); err != nil {
		return Value{}, err
	}

	if sequential {
		items := make([]Value, len(entries))
		for i, e := range entries {
			items[i] = e.Value
		}
		return Sequence(items...), nil
	}
	return Map(entries...), nil
}

func (p *parser) object() (Value, error) {
	n, err := p.length()
	if err != nil {
		return Value{}, err
	}
	class, err := p.quoted(n)
	if err != nil {
		return Value{}, err
	}
	if class == "" {
		return Value{}, p.fail("empty class name")
	}
	if err := p.expect(':'); err != nil {
		return Value{}, err
	}
	count, err := p.elementCount(4)
	if err != nil {
		return Value{}, err
	}
	p.depth++
	defer func() { p.depth-- }()

	fields := make([]Field, 0, count)
	for i := 0; i < count; i++ {
		name, err := p.value()
		if err != nil {
			return Value{}, err
		}
		if name.Kind != KindBytes {
			return Value{}, p.fail("invalid field name")
		}
		val, err := p.value()
		if err != nil {
			return Value{}, err
		}
		fields = append(fields, Field{Name: name.Str, Value: val})
	}
	if err := p.expect('}'); err != nil {
		return Value{}, err
	}
	return Struct(class, fields...), nil
}

func parseFloat(tok string) (float64, bool) {
	switch tok {
	case "INF":
		return math.Inf(1), true
	case "-INF":
		return math.Inf(-1), true
	case "NAN":
		return math.NaN(), true
	}
	// strconv accepts "inf", "nan" and hex floats; the format does not.
	c := tok[0]
	if c != '-' && c != '+' && c != '.' && (c < '0' || c > '9') {
		return 0, false
	}
	for i := 0; i < len(tok); i++ {
		if tok[i] == 'x' || tok[i] == 'X' || tok[i] == '_' {
			return 0, false
		}
	}
	f, err := strconv.ParseFloat(tok, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}
