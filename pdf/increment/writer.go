// Package increment appends incremental update revisions to parsed PDF
// files. A revision consists of new and updated objects, a classic xref
// table and a trailer chained to the previous revision via Prev. The
// original bytes are never modified.
package increment

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/pdfseal/pdfseal/pdf/document"
	"github.com/pdfseal/pdfseal/pdf/object"
)

// Common errors
var (
	// ErrPlaceholderOverflow indicates a signature does not fit in the
	// reserved placeholder.
	ErrPlaceholderOverflow = errors.New("signature exceeds reserved placeholder size")
	// ErrNoPlaceholder indicates the revision has no signature placeholder.
	ErrNoPlaceholder = errors.New("no signature placeholder in revision")
	// ErrInlineField indicates a signature field that is not an indirect
	// object and therefore cannot be relinked by an incremental update.
	ErrInlineField = errors.New("signature field is not an indirect object")
)

type objectKey struct {
	number     int
	generation int
}

// Writer builds one incremental update revision on top of a parsed
// document.
type Writer struct {
	doc     *document.Document
	objects map[objectKey]*object.Indirect
	nextNum int
	id      object.Array
	// formRef references an AcroForm created in this revision.
	formRef object.Ref
}

// NewWriter creates a revision writer for doc.
func NewWriter(doc *document.Document) *Writer {
	return &Writer{
		doc:     doc,
		objects: make(map[objectKey]*object.Indirect),
		nextNum: doc.MaxObjectNumber() + 1,
		id:      revisionID(doc),
	}
}

// revisionID keeps the first part of the file identifier and regenerates
// the second.
func revisionID(doc *document.Document) object.Array {
	var id1 []byte
	if idArr := doc.Trailer.GetArray("ID"); len(idArr) >= 1 {
		if s, ok := idArr[0].(*object.String); ok {
			id1 = s.Value
		}
	}
	if id1 == nil {
		id1 = make([]byte, 16)
		rand.Read(id1)
	}
	id2 := make([]byte, 16)
	rand.Read(id2)
	return object.Array{
		&object.String{Value: id1, Hex: true},
		&object.String{Value: id2, Hex: true},
	}
}

// AddObject registers a new object and returns its reference.
func (w *Writer) AddObject(obj object.Object) object.Ref {
	num := w.nextNum
	w.nextNum++
	w.objects[objectKey{number: num}] = object.NewIndirect(num, 0, obj)
	return object.Ref{Number: num}
}

// UpdateObject registers a replacement for an existing object.
func (w *Writer) UpdateObject(num int, obj object.Object) {
	gen := 0
	if entry := w.doc.XRef[num]; entry != nil {
		gen = entry.Generation
	}
	w.objects[objectKey{number: num, generation: gen}] = object.NewIndirect(num, gen, obj)
}

// Object returns an object by number, preferring pending updates.
func (w *Writer) Object(num int) (object.Object, error) {
	for key, ind := range w.objects {
		if key.number == num {
			return ind.Value, nil
		}
	}
	return w.doc.Object(num)
}

// currentDict resolves an object by number, preferring pending updates,
// and returns a mutable clone.
func (w *Writer) currentDict(num int) (*object.Dict, error) {
	obj, err := w.Object(num)
	if err != nil {
		return nil, err
	}
	dict, ok := obj.(*object.Dict)
	if !ok {
		return nil, fmt.Errorf("object %d is not a dictionary", num)
	}
	return dict.Clone().(*object.Dict), nil
}

// HasChanges reports whether any objects are pending.
func (w *Writer) HasChanges() bool {
	return len(w.objects) > 0
}

// NextObjectNumber returns the number the next added object will get.
func (w *Writer) NextObjectNumber() int {
	return w.nextNum
}

func (w *Writer) sortedKeys() []objectKey {
	keys := make([]objectKey, 0, len(w.objects))
	for k := range w.objects {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].number != keys[j].number {
			return keys[i].number < keys[j].number
		}
		return keys[i].generation < keys[j].generation
	})
	return keys
}

func (w *Writer) populateTrailer() *object.Dict {
	trailer := object.NewDict()
	trailer.Set("Size", object.Integer(w.nextNum))
	trailer.Set("Root", w.doc.RootRef)
	if info := w.doc.Trailer.Get("Info"); info != nil {
		trailer.Set("Info", info)
	}
	if len(w.doc.XRefOffsets) > 0 {
		trailer.Set("Prev", object.Integer(w.doc.XRefOffsets[0]))
	}
	trailer.Set("ID", w.id)
	return trailer
}

// writeXRefTable writes the xref table, merging consecutive object
// numbers into subsections.
func (w *Writer) writeXRefTable(buf *bytes.Buffer, offsets map[objectKey]int64, keys []objectKey) {
	buf.WriteString("xref\n")

	type subsection struct {
		start   int
		entries []objectKey
	}
	var subsections []subsection
	for _, key := range keys {
		n := len(subsections)
		if n > 0 && key.number == subsections[n-1].start+len(subsections[n-1].entries) {
			subsections[n-1].entries = append(subsections[n-1].entries, key)
		} else {
			subsections = append(subsections, subsection{start: key.number, entries: []objectKey{key}})
		}
	}

	for _, sub := range subsections {
		fmt.Fprintf(buf, "%d %d\n", sub.start, len(sub.entries))
		for _, key := range sub.entries {
			fmt.Fprintf(buf, "%010d %05d n \n", offsets[key], key.generation)
		}
	}
}

// WriteRevision appends the pending objects as an incremental update and
// writes the complete file to out.
func (w *Writer) WriteRevision(out io.Writer) error {
	buf, _, err := w.render(nil)
	if err != nil {
		return err
	}
	_, err = out.Write(buf)
	return err
}

// Bytes returns the complete file with the revision appended.
func (w *Writer) Bytes() ([]byte, error) {
	buf, _, err := w.render(nil)
	return buf, err
}

// render serializes the revision. When placeholder is non-nil the
// signature dictionary is written with a fixed-width Contents placeholder
// and a patchable ByteRange, and the resulting layout is returned.
func (w *Writer) render(placeholder *Placeholder) ([]byte, *Prepared, error) {
	var buf bytes.Buffer
	buf.Write(w.doc.Bytes())
	if n := len(w.doc.Bytes()); n > 0 && w.doc.Bytes()[n-1] != '\n' {
		buf.WriteByte('\n')
	}

	offsets := make(map[objectKey]int64)
	keys := w.sortedKeys()

	var contentsOffset, byteRangeOffset int64
	for _, key := range keys {
		ind := w.objects[key]
		offsets[key] = int64(buf.Len())

		if placeholder != nil && key.number == placeholder.SigDictRef.Number {
			co, bro, err := writeSigDictObject(&buf, ind, placeholder)
			if err != nil {
				return nil, nil, err
			}
			contentsOffset, byteRangeOffset = co, bro
		} else {
			if err := ind.WriteTo(&buf); err != nil {
				return nil, nil, err
			}
		}
	}

	xrefOffset := int64(buf.Len())
	w.writeXRefTable(&buf, offsets, keys)

	buf.WriteString("trailer\n")
	if err := w.populateTrailer().WriteTo(&buf); err != nil {
		return nil, nil, err
	}
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	if placeholder == nil {
		return buf.Bytes(), nil, nil
	}
	if contentsOffset == 0 {
		return nil, nil, ErrNoPlaceholder
	}

	// ByteRange covers everything except the <...> placeholder, both
	// delimiters included in the gap.
	contentsEnd := contentsOffset + 1 + int64(placeholder.ContentsSize*2) + 1
	byteRange := [4]int64{
		0,
		contentsOffset,
		contentsEnd,
		int64(buf.Len()) - contentsEnd,
	}
	patch := fmt.Sprintf("[%010d %010d %010d %010d]",
		byteRange[0], byteRange[1], byteRange[2], byteRange[3])
	copy(buf.Bytes()[byteRangeOffset:], patch)

	return buf.Bytes(), &Prepared{
		Data:           buf.Bytes(),
		ByteRange:      byteRange,
		ContentsOffset: contentsOffset + 1,
		ContentsSize:   placeholder.ContentsSize,
	}, nil
}

// writeSigDictObject writes the signature dictionary with fixed-width
// Contents and ByteRange entries and reports their offsets.
func writeSigDictObject(buf *bytes.Buffer, ind *object.Indirect, placeholder *Placeholder) (contentsOffset, byteRangeOffset int64, err error) {
	fmt.Fprintf(buf, "%d %d obj\n<<", ind.Number, ind.Generation)
	for _, key := range placeholder.SigDict.Keys() {
		buf.WriteByte('\n')
		if err := (object.Name(key)).WriteTo(buf); err != nil {
			return 0, 0, err
		}
		buf.WriteByte(' ')
		switch key {
		case "ByteRange":
			byteRangeOffset = int64(buf.Len())
			fmt.Fprintf(buf, "[%010d %010d %010d %010d]", 0, 0, 0, 0)
		case "Contents":
			contentsOffset = int64(buf.Len())
			buf.WriteByte('<')
			for i := 0; i < placeholder.ContentsSize; i++ {
				buf.WriteString("00")
			}
			buf.WriteByte('>')
		default:
			if err := placeholder.SigDict.Get(key).WriteTo(buf); err != nil {
				return 0, 0, err
			}
		}
	}
	buf.WriteString("\n>>\nendobj\n")
	return contentsOffset, byteRangeOffset, nil
}
