// Package document parses the structure of an existing PDF file: header,
// cross-reference chain, trailer dictionaries, page tree and signature
// fields. Parsed documents are read-only; incremental updates are produced
// by the increment package on top of the original bytes.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/pdfseal/pdfseal/pdf/object"
)

// Common errors
var (
	// ErrMalformedDocument indicates the input is not a readable PDF:
	// missing header, broken startxref, truncated or unsupported xref data.
	ErrMalformedDocument = errors.New("malformed PDF document")
	// ErrStructure indicates the file parsed but its object graph is
	// inconsistent: missing catalog, cyclic page tree, cyclic trailer chain.
	ErrStructure = errors.New("invalid PDF structure")
	// ErrObjectNotFound indicates a referenced object has no xref entry.
	ErrObjectNotFound = errors.New("object not found")
)

// XRefEntry is a resolved cross-reference entry for an in-use object.
type XRefEntry struct {
	Offset     int64
	Generation int
	InUse      bool
}

// Page is a leaf of the page tree together with its object number.
type Page struct {
	Dict *object.Dict
	Ref  object.Ref
}

// SignatureField is a form field of type Sig.
type SignatureField struct {
	// Name is the partial field name (/T), decoded as text.
	Name string
	// Field is the field dictionary.
	Field *object.Dict
	// Ref is the indirect reference of the field, zero if the field was
	// inlined in the Fields array.
	Ref object.Ref
	// Signed reports whether the field has a signature value (/V).
	Signed bool
}

// Document is a parsed PDF file.
type Document struct {
	data []byte

	// Version is the header version, e.g. "1.7".
	Version string
	// XRef maps object numbers to their most recent entries.
	XRef map[int]*XRefEntry
	// Trailer is the most recent trailer dictionary.
	Trailer *object.Dict
	// Trailers holds the trailer of every revision, newest first.
	Trailers []*object.Dict
	// XRefOffsets holds the xref table offset of every revision, newest
	// first.
	XRefOffsets []int64
	// StartXRef is the offset announced by the last startxref keyword.
	StartXRef int64

	// Root is the document catalog.
	Root *object.Dict
	// RootRef is the indirect reference to the catalog.
	RootRef object.Ref
	// Pages are the leaves of the page tree in document order.
	Pages []*Page
	// AcroForm is the interactive form dictionary, nil if absent.
	AcroForm *object.Dict
	// AcroFormRef is the indirect reference to AcroForm, zero if the
	// dictionary is inlined in the catalog or absent.
	AcroFormRef object.Ref

	objects map[int]object.Object
}

var headerRegex = regexp.MustCompile(`%PDF-(\d+\.\d+)`)

// Parse parses data as a complete PDF file.
func Parse(data []byte) (*Document, error) {
	d := &Document{
		data:    data,
		XRef:    make(map[int]*XRefEntry),
		objects: make(map[int]object.Object),
	}

	if err := d.parseHeader(); err != nil {
		return nil, err
	}
	if err := d.parseXRefChain(); err != nil {
		return nil, err
	}
	if err := d.loadStructure(); err != nil {
		return nil, err
	}
	return d, nil
}

// Bytes returns the raw file data.
func (d *Document) Bytes() []byte {
	return d.data
}

func (d *Document) parseHeader() error {
	if len(d.data) < 8 {
		return fmt.Errorf("%w: file too short", ErrMalformedDocument)
	}
	end := len(d.data)
	if end > 1024 {
		end = 1024
	}
	match := headerRegex.FindSubmatch(d.data[:end])
	if match == nil {
		return fmt.Errorf("%w: missing %%PDF header", ErrMalformedDocument)
	}
	d.Version = string(match[1])
	return nil
}

func (d *Document) parseXRefChain() error {
	startxrefPos := bytes.LastIndex(d.data, []byte("startxref"))
	if startxrefPos < 0 {
		return fmt.Errorf("%w: missing startxref", ErrMalformedDocument)
	}

	offset, err := parseOffsetAfter(d.data[startxrefPos+len("startxref"):])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	d.StartXRef = offset

	visited := make(map[int64]bool)
	for offset > 0 {
		if visited[offset] {
			return fmt.Errorf("%w: cyclic Prev chain at offset %d", ErrStructure, offset)
		}
		visited[offset] = true

		if offset >= int64(len(d.data)) {
			return fmt.Errorf("%w: xref offset %d out of bounds", ErrMalformedDocument, offset)
		}
		d.XRefOffsets = append(d.XRefOffsets, offset)

		pos := int(offset)
		for pos < len(d.data) && isSpace(d.data[pos]) {
			pos++
		}
		if !bytes.HasPrefix(d.data[pos:], []byte("xref")) {
			// An object at the xref offset means a cross-reference stream.
			return fmt.Errorf("%w: cross-reference streams are not supported", ErrMalformedDocument)
		}

		trailer, err := d.parseXRefTable(pos)
		if err != nil {
			return err
		}
		d.Trailers = append(d.Trailers, trailer)
		if d.Trailer == nil {
			d.Trailer = trailer
		}

		if prev, ok := trailer.GetInt("Prev"); ok {
			offset = prev
		} else {
			offset = 0
		}
	}

	if d.Trailer == nil {
		return fmt.Errorf("%w: no trailer found", ErrMalformedDocument)
	}
	return nil
}

func parseOffsetAfter(data []byte) (int64, error) {
	i := 0
	for i < len(data) && isSpace(data[i]) {
		i++
	}
	start := i
	for i < len(data) && data[i] >= '0' && data[i] <= '9' {
		i++
	}
	if start == i {
		return 0, errors.New("missing xref offset")
	}
	return strconv.ParseInt(string(data[start:i]), 10, 64)
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

// parseXRefTable parses a classic xref table at pos and returns its trailer.
func (d *Document) parseXRefTable(pos int) (*object.Dict, error) {
	pos += len("xref")
	for pos < len(d.data) && isSpace(d.data[pos]) {
		pos++
	}

	for {
		if bytes.HasPrefix(d.data[pos:], []byte("trailer")) {
			pos += len("trailer")
			break
		}

		startObj, count, newPos, err := d.parseSubsectionHeader(pos)
		if err != nil {
			return nil, err
		}
		pos = newPos

		for i := 0; i < count; i++ {
			entry, newPos, err := d.parseXRefEntry(pos)
			if err != nil {
				return nil, err
			}
			pos = newPos

			objNum := startObj + i
			// The chain is walked newest-first, so existing entries win.
			if _, exists := d.XRef[objNum]; !exists {
				d.XRef[objNum] = entry
			}
		}
	}

	for pos < len(d.data) && isSpace(d.data[pos]) {
		pos++
	}

	lexer := object.NewLexer(d.data, pos)
	obj, err := lexer.ParseObject()
	if err != nil {
		return nil, fmt.Errorf("%w: bad trailer: %v", ErrMalformedDocument, err)
	}
	trailer, ok := obj.(*object.Dict)
	if !ok {
		return nil, fmt.Errorf("%w: trailer must be a dictionary", ErrMalformedDocument)
	}
	return trailer, nil
}

func (d *Document) parseSubsectionHeader(pos int) (startObj, count, newPos int, err error) {
	readInt := func() (int, error) {
		for pos < len(d.data) && isSpace(d.data[pos]) {
			pos++
		}
		start := pos
		for pos < len(d.data) && d.data[pos] >= '0' && d.data[pos] <= '9' {
			pos++
		}
		if start == pos {
			return 0, fmt.Errorf("%w: bad xref subsection header", ErrMalformedDocument)
		}
		n, err := strconv.Atoi(string(d.data[start:pos]))
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
		}
		return n, nil
	}

	if startObj, err = readInt(); err != nil {
		return 0, 0, pos, err
	}
	if count, err = readInt(); err != nil {
		return 0, 0, pos, err
	}
	for pos < len(d.data) && d.data[pos] != '\n' && d.data[pos] != '\r' {
		pos++
	}
	for pos < len(d.data) && (d.data[pos] == '\n' || d.data[pos] == '\r') {
		pos++
	}
	return startObj, count, pos, nil
}

// parseXRefEntry parses one 20-byte entry: "nnnnnnnnnn ggggg n/f".
func (d *Document) parseXRefEntry(pos int) (*XRefEntry, int, error) {
	if pos+18 > len(d.data) {
		return nil, pos, fmt.Errorf("%w: truncated xref entry", ErrMalformedDocument)
	}
	line := string(d.data[pos:min(pos+20, len(d.data))])

	offset, err := strconv.ParseInt(line[:10], 10, 64)
	if err != nil {
		return nil, pos, fmt.Errorf("%w: bad xref entry offset: %v", ErrMalformedDocument, err)
	}
	gen, err := strconv.Atoi(line[11:16])
	if err != nil {
		return nil, pos, fmt.Errorf("%w: bad xref entry generation: %v", ErrMalformedDocument, err)
	}
	status := line[17]
	if status != 'n' && status != 'f' {
		return nil, pos, fmt.Errorf("%w: bad xref entry status %q", ErrMalformedDocument, status)
	}

	pos += 18
	for pos < len(d.data) && (d.data[pos] == '\n' || d.data[pos] == '\r' || d.data[pos] == ' ') {
		pos++
	}
	return &XRefEntry{
		Offset:     offset,
		Generation: gen,
		InUse:      status == 'n',
	}, pos, nil
}

func (d *Document) loadStructure() error {
	rootRef, ok := d.Trailer.Get("Root").(object.Ref)
	if !ok {
		return fmt.Errorf("%w: trailer has no Root reference", ErrStructure)
	}
	d.RootRef = rootRef

	rootObj, err := d.Object(rootRef.Number)
	if err != nil {
		return fmt.Errorf("%w: cannot load catalog: %v", ErrStructure, err)
	}
	root, ok := rootObj.(*object.Dict)
	if !ok {
		return fmt.Errorf("%w: catalog must be a dictionary", ErrStructure)
	}
	d.Root = root

	if err := d.loadPages(); err != nil {
		return err
	}

	switch af := root.Get("AcroForm").(type) {
	case object.Ref:
		d.AcroFormRef = af
		obj, err := d.Object(af.Number)
		if err == nil {
			if dict, ok := obj.(*object.Dict); ok {
				d.AcroForm = dict
			}
		}
	case *object.Dict:
		d.AcroForm = af
	}
	return nil
}

func (d *Document) loadPages() error {
	pagesRef, ok := d.Root.Get("Pages").(object.Ref)
	if !ok {
		return fmt.Errorf("%w: catalog has no Pages reference", ErrStructure)
	}
	visited := make(map[int]bool)
	return d.walkPageTree(pagesRef, visited)
}

func (d *Document) walkPageTree(ref object.Ref, visited map[int]bool) error {
	if visited[ref.Number] {
		return fmt.Errorf("%w: cyclic page tree at object %d", ErrStructure, ref.Number)
	}
	visited[ref.Number] = true

	obj, err := d.Object(ref.Number)
	if err != nil {
		return fmt.Errorf("%w: cannot load page tree node %d: %v", ErrStructure, ref.Number, err)
	}
	node, ok := obj.(*object.Dict)
	if !ok {
		return fmt.Errorf("%w: page tree node %d must be a dictionary", ErrStructure, ref.Number)
	}

	switch node.GetName("Type") {
	case "Page":
		d.Pages = append(d.Pages, &Page{Dict: node, Ref: ref})
		return nil
	case "Pages":
		for _, kid := range node.GetArray("Kids") {
			kidRef, ok := kid.(object.Ref)
			if !ok {
				return fmt.Errorf("%w: page tree kids must be references", ErrStructure)
			}
			if err := d.walkPageTree(kidRef, visited); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: page tree node %d has type %q", ErrStructure, ref.Number, node.GetName("Type"))
	}
}

// Object loads the object with the given number, caching the result.
func (d *Document) Object(num int) (object.Object, error) {
	if obj, ok := d.objects[num]; ok {
		return obj, nil
	}

	entry, ok := d.XRef[num]
	if !ok {
		return nil, fmt.Errorf("%w: object %d", ErrObjectNotFound, num)
	}
	if !entry.InUse {
		return nil, fmt.Errorf("%w: object %d is free", ErrObjectNotFound, num)
	}
	if entry.Offset >= int64(len(d.data)) {
		return nil, fmt.Errorf("%w: object %d offset out of bounds", ErrMalformedDocument, num)
	}

	lexer := object.NewLexer(d.data, int(entry.Offset))
	indirect, err := lexer.ParseIndirect()
	if err != nil {
		return nil, fmt.Errorf("%w: object %d: %v", ErrMalformedDocument, num, err)
	}
	if indirect.Number != num {
		return nil, fmt.Errorf("%w: xref points to object %d, found %d", ErrMalformedDocument, num, indirect.Number)
	}

	d.objects[num] = indirect.Value
	return indirect.Value, nil
}

// Resolve follows obj if it is a reference, returning the target object.
func (d *Document) Resolve(obj object.Object) (object.Object, error) {
	if ref, ok := obj.(object.Ref); ok {
		return d.Object(ref.Number)
	}
	return obj, nil
}

// PageCount returns the number of pages.
func (d *Document) PageCount() int {
	return len(d.Pages)
}

// MaxObjectNumber returns the highest object number in use.
func (d *Document) MaxObjectNumber() int {
	max := 0
	for num := range d.XRef {
		if num > max {
			max = num
		}
	}
	return max
}

// SignatureFields returns all signature form fields in the document,
// in AcroForm order.
func (d *Document) SignatureFields() ([]*SignatureField, error) {
	var result []*SignatureField
	if d.AcroForm == nil {
		return result, nil
	}

	for _, fieldObj := range d.AcroForm.GetArray("Fields") {
		ref, _ := fieldObj.(object.Ref)
		field, err := d.resolveDict(fieldObj)
		if err != nil {
			continue
		}
		if field.GetName("FT") == "Sig" {
			result = append(result, d.makeSignatureField(field, ref))
		}
		for _, kidObj := range field.GetArray("Kids") {
			kidRef, _ := kidObj.(object.Ref)
			kid, err := d.resolveDict(kidObj)
			if err != nil {
				continue
			}
			if kid.GetName("FT") == "Sig" {
				result = append(result, d.makeSignatureField(kid, kidRef))
			}
		}
	}
	return result, nil
}

func (d *Document) makeSignatureField(field *object.Dict, ref object.Ref) *SignatureField {
	sf := &SignatureField{
		Field:  field,
		Ref:    ref,
		Signed: field.Has("V"),
	}
	if t := field.GetString("T"); t != nil {
		sf.Name = t.Text()
	}
	return sf
}

// FieldNames returns the partial names of all AcroForm fields.
func (d *Document) FieldNames() []string {
	var names []string
	if d.AcroForm == nil {
		return names
	}
	for _, fieldObj := range d.AcroForm.GetArray("Fields") {
		field, err := d.resolveDict(fieldObj)
		if err != nil {
			continue
		}
		if t := field.GetString("T"); t != nil {
			names = append(names, t.Text())
		}
		for _, kidObj := range field.GetArray("Kids") {
			kid, err := d.resolveDict(kidObj)
			if err != nil {
				continue
			}
			if t := kid.GetString("T"); t != nil {
				names = append(names, t.Text())
			}
		}
	}
	return names
}

func (d *Document) resolveDict(obj object.Object) (*object.Dict, error) {
	resolved, err := d.Resolve(obj)
	if err != nil {
		return nil, err
	}
	dict, ok := resolved.(*object.Dict)
	if !ok {
		return nil, fmt.Errorf("%w: expected dictionary", ErrStructure)
	}
	return dict, nil
}

// EmbeddedSignature is a filled signature value found in the document.
type EmbeddedSignature struct {
	// FieldName is the name of the owning signature field.
	FieldName string
	// Dict is the signature dictionary (/V).
	Dict *object.Dict
	// ByteRange is the signed byte range: two offset/length pairs.
	ByteRange [4]int64
	// Contents is the raw signature container, with placeholder padding.
	Contents []byte

	doc *Document
}

// EmbeddedSignatures returns all filled signatures in the document.
func (d *Document) EmbeddedSignatures() ([]*EmbeddedSignature, error) {
	fields, err := d.SignatureFields()
	if err != nil {
		return nil, err
	}

	var sigs []*EmbeddedSignature
	for _, field := range fields {
		if !field.Signed {
			continue
		}
		sigDict, err := d.resolveDict(field.Field.Get("V"))
		if err != nil {
			continue
		}

		sig := &EmbeddedSignature{
			FieldName: field.Name,
			Dict:      sigDict,
			doc:       d,
		}
		if br := sigDict.GetArray("ByteRange"); len(br) == 4 {
			for i, v := range br {
				if iv, ok := v.(object.Integer); ok {
					sig.ByteRange[i] = int64(iv)
				}
			}
		}
		if contents := sigDict.GetString("Contents"); contents != nil {
			sig.Contents = contents.Value
		}
		sigs = append(sigs, sig)
	}
	return sigs, nil
}

// SignedBytes returns the bytes covered by the signature's byte range.
func (e *EmbeddedSignature) SignedBytes() ([]byte, error) {
	data := e.doc.data
	for i := 0; i < 4; i += 2 {
		start, length := e.ByteRange[i], e.ByteRange[i+1]
		if start < 0 || length < 0 || start+length > int64(len(data)) {
			return nil, fmt.Errorf("%w: byte range [%d %d] out of bounds", ErrStructure, start, length)
		}
	}
	result := make([]byte, e.ByteRange[1]+e.ByteRange[3])
	copy(result, data[e.ByteRange[0]:e.ByteRange[0]+e.ByteRange[1]])
	copy(result[e.ByteRange[1]:], data[e.ByteRange[2]:e.ByteRange[2]+e.ByteRange[3]])
	return result, nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
