// Package object defines the PDF object model used throughout pdfseal:
// the primitive value types, dictionaries, arrays, streams and indirect
// references, together with their serialized (COS) form.
package object

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// Object is implemented by every PDF value.
type Object interface {
	// WriteTo serializes the object in its PDF syntax.
	WriteTo(w io.Writer) error
	// Clone returns a deep copy of the object.
	Clone() Object
}

// Ref is an indirect reference to a numbered object.
type Ref struct {
	Number     int
	Generation int
}

// WriteTo implements Object.
func (r Ref) WriteTo(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%d %d R", r.Number, r.Generation)
	return err
}

// Clone implements Object.
func (r Ref) Clone() Object { return r }

// String returns the reference in PDF syntax.
func (r Ref) String() string {
	return fmt.Sprintf("%d %d R", r.Number, r.Generation)
}

// Indirect pairs an object with its object and generation numbers for
// serialization as an "obj ... endobj" body.
type Indirect struct {
	Number     int
	Generation int
	Value      Object
}

// NewIndirect creates an indirect object wrapper.
func NewIndirect(num, gen int, value Object) *Indirect {
	return &Indirect{Number: num, Generation: gen, Value: value}
}

// WriteTo implements Object.
func (i *Indirect) WriteTo(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%d %d obj\n", i.Number, i.Generation); err != nil {
		return err
	}
	if i.Value != nil {
		if err := i.Value.WriteTo(w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\nendobj\n")
	return err
}

// Clone implements Object.
func (i *Indirect) Clone() Object {
	var v Object
	if i.Value != nil {
		v = i.Value.Clone()
	}
	return &Indirect{Number: i.Number, Generation: i.Generation, Value: v}
}

// Ref returns a reference to this indirect object.
func (i *Indirect) Ref() Ref {
	return Ref{Number: i.Number, Generation: i.Generation}
}

// Null is the PDF null value.
type Null struct{}

// WriteTo implements Object.
func (Null) WriteTo(w io.Writer) error {
	_, err := io.WriteString(w, "null")
	return err
}

// Clone implements Object.
func (Null) Clone() Object { return Null{} }

// Boolean is a PDF boolean.
type Boolean bool

// WriteTo implements Object.
func (b Boolean) WriteTo(w io.Writer) error {
	s := "false"
	if b {
		s = "true"
	}
	_, err := io.WriteString(w, s)
	return err
}

// Clone implements Object.
func (b Boolean) Clone() Object { return b }

// Integer is a PDF integer.
type Integer int64

// WriteTo implements Object.
func (i Integer) WriteTo(w io.Writer) error {
	_, err := io.WriteString(w, strconv.FormatInt(int64(i), 10))
	return err
}

// Clone implements Object.
func (i Integer) Clone() Object { return i }

// Real is a PDF real number.
type Real float64

// WriteTo implements Object.
func (r Real) WriteTo(w io.Writer) error {
	_, err := io.WriteString(w, strconv.FormatFloat(float64(r), 'f', -1, 64))
	return err
}

// Clone implements Object.
func (r Real) Clone() Object { return r }

// Name is a PDF name object, stored without the leading slash.
type Name string

var nameEscape = regexp.MustCompile(`[^!-~]|[#%/\[\]()<>{}]`)

// WriteTo implements Object.
func (n Name) WriteTo(w io.Writer) error {
	escaped := nameEscape.ReplaceAllStringFunc(string(n), func(s string) string {
		return fmt.Sprintf("#%02X", s[0])
	})
	_, err := fmt.Fprintf(w, "/%s", escaped)
	return err
}

// Clone implements Object.
func (n Name) Clone() Object { return n }

// String is a PDF string. Hex strings are written in <...> notation,
// literal strings in (...) notation with escaping.
type String struct {
	Value []byte
	Hex   bool
}

// NewLiteralString creates a literal string from text.
func NewLiteralString(s string) *String {
	return &String{Value: []byte(s)}
}

// NewHexString creates a hex string from raw bytes.
func NewHexString(data []byte) *String {
	return &String{Value: data, Hex: true}
}

// NewTextString creates a PDF text string, using UTF-16BE with a BOM when
// the text contains characters outside Latin-1.
func NewTextString(s string) *String {
	for _, r := range s {
		if r > 0xFF {
			var buf bytes.Buffer
			buf.Write([]byte{0xFE, 0xFF})
			for _, r := range s {
				buf.WriteByte(byte(r >> 8))
				buf.WriteByte(byte(r))
			}
			return &String{Value: buf.Bytes()}
		}
	}
	return &String{Value: []byte(s)}
}

// WriteTo implements Object.
func (s *String) WriteTo(w io.Writer) error {
	if s.Hex {
		_, err := fmt.Fprintf(w, "<%s>", strings.ToUpper(hex.EncodeToString(s.Value)))
		return err
	}

	var buf bytes.Buffer
	buf.WriteByte('(')
	for _, b := range s.Value {
		switch b {
		case '\\':
			buf.WriteString(`\\`)
		case '(':
			buf.WriteString(`\(`)
		case ')':
			buf.WriteString(`\)`)
		case '\n':
			buf.WriteString(`\n`)
		case '\r':
			buf.WriteString(`\r`)
		case '\t':
			buf.WriteString(`\t`)
		default:
			if b < 32 || b > 126 {
				fmt.Fprintf(&buf, `\%03o`, b)
			} else {
				buf.WriteByte(b)
			}
		}
	}
	buf.WriteByte(')')
	_, err := w.Write(buf.Bytes())
	return err
}

// Clone implements Object.
func (s *String) Clone() Object {
	v := make([]byte, len(s.Value))
	copy(v, s.Value)
	return &String{Value: v, Hex: s.Hex}
}

// Text decodes the string as text, honoring a UTF-16BE BOM.
func (s *String) Text() string {
	if len(s.Value) >= 2 && s.Value[0] == 0xFE && s.Value[1] == 0xFF {
		var sb strings.Builder
		for i := 2; i+1 < len(s.Value); i += 2 {
			sb.WriteRune(rune(s.Value[i])<<8 | rune(s.Value[i+1]))
		}
		return sb.String()
	}
	return string(s.Value)
}

// Array is a PDF array.
type Array []Object

// WriteTo implements Object.
func (a Array) WriteTo(w io.Writer) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	for i, item := range a {
		if i > 0 {
			if _, err := io.WriteString(w, " "); err != nil {
				return err
			}
		}
		if err := item.WriteTo(w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "]")
	return err
}

// Clone implements Object.
func (a Array) Clone() Object {
	out := make(Array, len(a))
	for i, item := range a {
		out[i] = item.Clone()
	}
	return out
}

// Dict is a PDF dictionary. Insertion order is preserved so serialized
// output is deterministic.
type Dict struct {
	entries map[string]Object
	order   []string
}

// NewDict creates an empty dictionary.
func NewDict() *Dict {
	return &Dict{entries: make(map[string]Object)}
}

// WriteTo implements Object.
func (d *Dict) WriteTo(w io.Writer) error {
	if _, err := io.WriteString(w, "<<"); err != nil {
		return err
	}
	for _, key := range d.order {
		if _, err := io.WriteString(w, "\n"); err != nil {
			return err
		}
		if err := Name(key).WriteTo(w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, " "); err != nil {
			return err
		}
		if err := d.entries[key].WriteTo(w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "\n>>")
	return err
}

// Clone implements Object.
func (d *Dict) Clone() Object {
	out := NewDict()
	for _, key := range d.order {
		out.Set(key, d.entries[key].Clone())
	}
	return out
}

// Set stores a key-value pair, keeping first-insertion order.
func (d *Dict) Set(key string, value Object) {
	if _, ok := d.entries[key]; !ok {
		d.order = append(d.order, key)
	}
	d.entries[key] = value
}

// Get returns the value for key, or nil.
func (d *Dict) Get(key string) Object {
	return d.entries[key]
}

// GetName returns the name value for key, or "".
func (d *Dict) GetName(key string) string {
	if n, ok := d.entries[key].(Name); ok {
		return string(n)
	}
	return ""
}

// GetInt returns the integer value for key.
func (d *Dict) GetInt(key string) (int64, bool) {
	if i, ok := d.entries[key].(Integer); ok {
		return int64(i), true
	}
	return 0, false
}

// GetArray returns the array value for key, or nil.
func (d *Dict) GetArray(key string) Array {
	if a, ok := d.entries[key].(Array); ok {
		return a
	}
	return nil
}

// GetDict returns the dictionary value for key, or nil.
func (d *Dict) GetDict(key string) *Dict {
	if dd, ok := d.entries[key].(*Dict); ok {
		return dd
	}
	return nil
}

// GetString returns the string value for key, or nil.
func (d *Dict) GetString(key string) *String {
	if s, ok := d.entries[key].(*String); ok {
		return s
	}
	return nil
}

// Has reports whether key is present.
func (d *Dict) Has(key string) bool {
	_, ok := d.entries[key]
	return ok
}

// Delete removes key.
func (d *Dict) Delete(key string) {
	if _, ok := d.entries[key]; !ok {
		return
	}
	delete(d.entries, key)
	for i, k := range d.order {
		if k == key {
			d.order = append(d.order[:i], d.order[i+1:]...)
			break
		}
	}
}

// Keys returns the keys in insertion order.
func (d *Dict) Keys() []string {
	return d.order
}

// Len returns the number of entries.
func (d *Dict) Len() int {
	return len(d.entries)
}

// Stream is a PDF stream: a dictionary plus raw data.
type Stream struct {
	Dict *Dict
	Data []byte
}

// NewStream creates a stream, allocating a dictionary if needed.
func NewStream(dict *Dict, data []byte) *Stream {
	if dict == nil {
		dict = NewDict()
	}
	return &Stream{Dict: dict, Data: data}
}

// WriteTo implements Object.
func (s *Stream) WriteTo(w io.Writer) error {
	s.Dict.Set("Length", Integer(len(s.Data)))
	if err := s.Dict.WriteTo(w); err != nil {
		return err
	}
	if _, err := io.WriteString(w, "\nstream\n"); err != nil {
		return err
	}
	if _, err := w.Write(s.Data); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\nendstream")
	return err
}

// Clone implements Object.
func (s *Stream) Clone() Object {
	data := make([]byte, len(s.Data))
	copy(data, s.Data)
	return &Stream{Dict: s.Dict.Clone().(*Dict), Data: data}
}

// Rect is a PDF rectangle given as lower-left and upper-right corners.
type Rect struct {
	LLX, LLY float64
	URX, URY float64
}

// RectFromArray converts a 4-element numeric array into a Rect.
func RectFromArray(arr Array) (*Rect, error) {
	if len(arr) != 4 {
		return nil, fmt.Errorf("rectangle must have 4 elements, got %d", len(arr))
	}
	var vals [4]float64
	for i, o := range arr {
		switch v := o.(type) {
		case Integer:
			vals[i] = float64(v)
		case Real:
			vals[i] = float64(v)
		default:
			return nil, fmt.Errorf("rectangle element %d must be numeric", i)
		}
	}
	return &Rect{LLX: vals[0], LLY: vals[1], URX: vals[2], URY: vals[3]}, nil
}

// ToArray converts the rectangle to its PDF array form.
func (r *Rect) ToArray() Array {
	return Array{Real(r.LLX), Real(r.LLY), Real(r.URX), Real(r.URY)}
}

// Width returns the rectangle width.
func (r *Rect) Width() float64 { return r.URX - r.LLX }

// Height returns the rectangle height.
func (r *Rect) Height() float64 { return r.URY - r.LLY }
