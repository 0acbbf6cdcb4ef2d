package object

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
)

// Lexer tokenizes and parses PDF objects out of a byte slice. Pos is the
// current read offset and may be saved and restored for backtracking.
type Lexer struct {
	Data []byte
	Pos  int
}

// NewLexer creates a lexer over data starting at offset.
func NewLexer(data []byte, offset int) *Lexer {
	return &Lexer{Data: data, Pos: offset}
}

func isWhitespace(b byte) bool {
	switch b {
	case 0x00, 0x09, 0x0A, 0x0C, 0x0D, 0x20:
		return true
	}
	return false
}

func isDelimiter(b byte) bool {
	switch b {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

// SkipWhitespace advances past whitespace and comments.
func (l *Lexer) SkipWhitespace() {
	for l.Pos < len(l.Data) {
		b := l.Data[l.Pos]
		if isWhitespace(b) {
			l.Pos++
			continue
		}
		if b == '%' {
			for l.Pos < len(l.Data) && l.Data[l.Pos] != '\n' && l.Data[l.Pos] != '\r' {
				l.Pos++
			}
			continue
		}
		break
	}
}

func (l *Lexer) peek() (byte, bool) {
	if l.Pos >= len(l.Data) {
		return 0, false
	}
	return l.Data[l.Pos], true
}

// ReadToken returns the next regular token: a run of non-delimiter,
// non-whitespace bytes.
func (l *Lexer) ReadToken() string {
	l.SkipWhitespace()
	start := l.Pos
	for l.Pos < len(l.Data) {
		b := l.Data[l.Pos]
		if isWhitespace(b) || isDelimiter(b) {
			break
		}
		l.Pos++
	}
	return string(l.Data[start:l.Pos])
}

// Expect consumes the literal token and fails if it does not match.
func (l *Lexer) Expect(token string) error {
	l.SkipWhitespace()
	if l.Pos+len(token) > len(l.Data) || string(l.Data[l.Pos:l.Pos+len(token)]) != token {
		return fmt.Errorf("expected %q at offset %d", token, l.Pos)
	}
	l.Pos += len(token)
	return nil
}

// ParseObject parses the next object. Indirect references are not
// recognized; use ParseObjectOrRef for contexts where "n g R" may occur.
func (l *Lexer) ParseObject() (Object, error) {
	l.SkipWhitespace()
	b, ok := l.peek()
	if !ok {
		return nil, fmt.Errorf("unexpected end of data at offset %d", l.Pos)
	}

	switch {
	case b == '/':
		return l.parseName()
	case b == '(':
		return l.parseLiteralString()
	case b == '<':
		if l.Pos+1 < len(l.Data) && l.Data[l.Pos+1] == '<' {
			return l.parseDict()
		}
		return l.parseHexString()
	case b == '[':
		return l.parseArray()
	case b == '+' || b == '-' || b == '.' || (b >= '0' && b <= '9'):
		return l.parseNumber()
	}

	token := l.ReadToken()
	switch token {
	case "true":
		return Boolean(true), nil
	case "false":
		return Boolean(false), nil
	case "null":
		return Null{}, nil
	}
	return nil, fmt.Errorf("unexpected token %q at offset %d", token, l.Pos)
}

// ParseObjectOrRef parses the next object, resolving "n g R" sequences
// into Ref values by backtracking when the reference form does not hold.
func (l *Lexer) ParseObjectOrRef() (Object, error) {
	save := l.Pos
	obj, err := l.ParseObject()
	if err != nil {
		return nil, err
	}
	num, ok := obj.(Integer)
	if !ok {
		return obj, nil
	}

	afterNum := l.Pos
	l.SkipWhitespace()
	genStart := l.Pos
	genTok := l.ReadToken()
	gen, err := strconv.Atoi(genTok)
	if err != nil || genStart == l.Pos {
		l.Pos = afterNum
		return obj, nil
	}
	l.SkipWhitespace()
	if b, ok := l.peek(); ok && b == 'R' {
		next := l.Pos + 1
		if next >= len(l.Data) || isWhitespace(l.Data[next]) || isDelimiter(l.Data[next]) {
			l.Pos = next
			return Ref{Number: int(num), Generation: gen}, nil
		}
	}
	l.Pos = save
	obj, err = l.ParseObject()
	return obj, err
}

// ParseIndirect parses an "n g obj ... endobj" body at the current
// position, including stream data when the object is a stream.
func (l *Lexer) ParseIndirect() (*Indirect, error) {
	l.SkipWhitespace()
	numTok := l.ReadToken()
	num, err := strconv.Atoi(numTok)
	if err != nil {
		return nil, fmt.Errorf("invalid object number %q at offset %d", numTok, l.Pos)
	}
	genTok := l.ReadToken()
	gen, err := strconv.Atoi(genTok)
	if err != nil {
		return nil, fmt.Errorf("invalid generation number %q at offset %d", genTok, l.Pos)
	}
	if err := l.Expect("obj"); err != nil {
		return nil, err
	}

	value, err := l.ParseObjectOrRef()
	if err != nil {
		return nil, err
	}

	l.SkipWhitespace()
	if bytes.HasPrefix(l.Data[l.Pos:], []byte("stream")) {
		dict, ok := value.(*Dict)
		if !ok {
			return nil, fmt.Errorf("stream without dictionary at offset %d", l.Pos)
		}
		stream, err := l.parseStreamData(dict)
		if err != nil {
			return nil, err
		}
		value = stream
	}

	if err := l.Expect("endobj"); err != nil {
		return nil, err
	}
	return &Indirect{Number: num, Generation: gen, Value: value}, nil
}

func (l *Lexer) parseStreamData(dict *Dict) (*Stream, error) {
	l.Pos += len("stream")
	// EOL after the stream keyword: CRLF or LF.
	if l.Pos < len(l.Data) && l.Data[l.Pos] == '\r' {
		l.Pos++
	}
	if l.Pos < len(l.Data) && l.Data[l.Pos] == '\n' {
		l.Pos++
	}

	length, ok := dict.GetInt("Length")
	if !ok {
		// Length may be indirect or missing; fall back to scanning.
		end := bytes.Index(l.Data[l.Pos:], []byte("endstream"))
		if end < 0 {
			return nil, fmt.Errorf("unterminated stream at offset %d", l.Pos)
		}
		length = int64(end)
		for length > 0 && (l.Data[l.Pos+int(length)-1] == '\n' || l.Data[l.Pos+int(length)-1] == '\r') {
			length--
		}
	}
	if l.Pos+int(length) > len(l.Data) {
		return nil, fmt.Errorf("stream length %d exceeds data at offset %d", length, l.Pos)
	}
	data := l.Data[l.Pos : l.Pos+int(length)]
	l.Pos += int(length)
	if err := l.Expect("endstream"); err != nil {
		return nil, err
	}
	return &Stream{Dict: dict, Data: data}, nil
}

func (l *Lexer) parseName() (Name, error) {
	l.Pos++
	var buf bytes.Buffer
	for l.Pos < len(l.Data) {
		b := l.Data[l.Pos]
		if isWhitespace(b) || isDelimiter(b) {
			break
		}
		if b == '#' && l.Pos+2 < len(l.Data) {
			decoded, err := hex.DecodeString(string(l.Data[l.Pos+1 : l.Pos+3]))
			if err == nil {
				buf.WriteByte(decoded[0])
				l.Pos += 3
				continue
			}
		}
		buf.WriteByte(b)
		l.Pos++
	}
	return Name(buf.String()), nil
}

func (l *Lexer) parseNumber() (Object, error) {
	token := l.ReadToken()
	if !bytes.ContainsAny([]byte(token), ".") {
		i, err := strconv.ParseInt(token, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q at offset %d", token, l.Pos)
		}
		return Integer(i), nil
	}
	f, err := strconv.ParseFloat(token, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q at offset %d", token, l.Pos)
	}
	return Real(f), nil
}

func (l *Lexer) parseLiteralString() (*String, error) {
	l.Pos++
	var buf bytes.Buffer
	depth := 1
	for l.Pos < len(l.Data) {
		b := l.Data[l.Pos]
		switch b {
		case '\\':
			l.Pos++
			if l.Pos >= len(l.Data) {
				return nil, fmt.Errorf("unterminated string escape at offset %d", l.Pos)
			}
			e := l.Data[l.Pos]
			switch e {
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case 't':
				buf.WriteByte('\t')
			case 'b':
				buf.WriteByte('\b')
			case 'f':
				buf.WriteByte('\f')
			case '(', ')', '\\':
				buf.WriteByte(e)
			case '\r':
				// Line continuation, swallow an optional LF too.
				if l.Pos+1 < len(l.Data) && l.Data[l.Pos+1] == '\n' {
					l.Pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					val := int(e - '0')
					for k := 0; k < 2 && l.Pos+1 < len(l.Data); k++ {
						nb := l.Data[l.Pos+1]
						if nb < '0' || nb > '7' {
							break
						}
						val = val*8 + int(nb-'0')
						l.Pos++
					}
					buf.WriteByte(byte(val))
				} else {
					buf.WriteByte(e)
				}
			}
			l.Pos++
		case '(':
			depth++
			buf.WriteByte(b)
			l.Pos++
		case ')':
			depth--
			if depth == 0 {
				l.Pos++
				return &String{Value: buf.Bytes()}, nil
			}
			buf.WriteByte(b)
			l.Pos++
		default:
			buf.WriteByte(b)
			l.Pos++
		}
	}
	return nil, fmt.Errorf("unterminated literal string at offset %d", l.Pos)
}

func (l *Lexer) parseHexString() (*String, error) {
	l.Pos++
	var digits bytes.Buffer
	for l.Pos < len(l.Data) {
		b := l.Data[l.Pos]
		if b == '>' {
			l.Pos++
			if digits.Len()%2 == 1 {
				digits.WriteByte('0')
			}
			decoded, err := hex.DecodeString(digits.String())
			if err != nil {
				return nil, fmt.Errorf("invalid hex string at offset %d: %w", l.Pos, err)
			}
			return &String{Value: decoded, Hex: true}, nil
		}
		if !isWhitespace(b) {
			digits.WriteByte(b)
		}
		l.Pos++
	}
	return nil, fmt.Errorf("unterminated hex string at offset %d", l.Pos)
}

func (l *Lexer) parseArray() (Array, error) {
	l.Pos++
	arr := Array{}
	for {
		l.SkipWhitespace()
		b, ok := l.peek()
		if !ok {
			return nil, fmt.Errorf("unterminated array at offset %d", l.Pos)
		}
		if b == ']' {
			l.Pos++
			return arr, nil
		}
		item, err := l.ParseObjectOrRef()
		if err != nil {
			return nil, err
		}
		arr = append(arr, item)
	}
}

func (l *Lexer) parseDict() (*Dict, error) {
	l.Pos += 2
	dict := NewDict()
	for {
		l.SkipWhitespace()
		b, ok := l.peek()
		if !ok {
			return nil, fmt.Errorf("unterminated dictionary at offset %d", l.Pos)
		}
		if b == '>' {
			if l.Pos+1 < len(l.Data) && l.Data[l.Pos+1] == '>' {
				l.Pos += 2
				return dict, nil
			}
			return nil, fmt.Errorf("malformed dictionary close at offset %d", l.Pos)
		}
		if b != '/' {
			return nil, fmt.Errorf("dictionary key must be a name at offset %d", l.Pos)
		}
		key, err := l.parseName()
		if err != nil {
			return nil, err
		}
		value, err := l.ParseObjectOrRef()
		if err != nil {
			return nil, err
		}
		dict.Set(string(key), value)
	}
}
