package increment

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/pdfseal/pdfseal/pdf/document"
	"github.com/pdfseal/pdfseal/pdf/object"
)

// minimalPDF builds a one-page PDF with computed xref offsets.
func minimalPDF(t *testing.T) []byte {
	t.Helper()
	catalog := object.NewDict()
	catalog.Set("Type", object.Name("Catalog"))
	catalog.Set("Pages", object.Ref{Number: 2})

	pages := object.NewDict()
	pages.Set("Type", object.Name("Pages"))
	pages.Set("Kids", object.Array{object.Ref{Number: 3}})
	pages.Set("Count", object.Integer(1))

	page := object.NewDict()
	page.Set("Type", object.Name("Page"))
	page.Set("Parent", object.Ref{Number: 2})
	page.Set("MediaBox", object.Array{
		object.Integer(0), object.Integer(0),
		object.Integer(612), object.Integer(792),
	})

	objects := []*object.Indirect{
		object.NewIndirect(1, 0, catalog),
		object.NewIndirect(2, 0, pages),
		object.NewIndirect(3, 0, page),
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xE2\xE3\xCF\xD3\n")
	offsets := make(map[int]int64)
	for _, obj := range objects {
		offsets[obj.Number] = int64(buf.Len())
		if err := obj.WriteTo(&buf); err != nil {
			t.Fatalf("write object %d: %v", obj.Number, err)
		}
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 4\n0000000000 65535 f \n")
	for num := 1; num <= 3; num++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[num])
	}
	buf.WriteString("trailer\n<<\n/Size 4\n/Root 1 0 R\n>>\n")
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes()
}

func parseDoc(t *testing.T, data []byte) *document.Document {
	t.Helper()
	doc, err := document.Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return doc
}

func TestWriteRevisionPreservesPrefix(t *testing.T) {
	original := minimalPDF(t)
	doc := parseDoc(t, original)

	w := NewWriter(doc)
	note := object.NewDict()
	note.Set("Type", object.Name("Test"))
	ref := w.AddObject(note)
	if ref.Number != 4 {
		t.Errorf("new object number = %d, want 4", ref.Number)
	}

	updated, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}

	if !bytes.HasPrefix(updated, original) {
		t.Fatal("revision does not preserve the original bytes as prefix")
	}

	redoc := parseDoc(t, updated)
	if len(redoc.Trailers) != 2 {
		t.Errorf("reparsed trailer count = %d, want 2", len(redoc.Trailers))
	}
	obj, err := redoc.Object(4)
	if err != nil {
		t.Fatalf("Object(4) failed: %v", err)
	}
	if obj.(*object.Dict).GetName("Type") != "Test" {
		t.Error("added object not found in revision")
	}
}

func TestUpdateObjectWinsOverOriginal(t *testing.T) {
	doc := parseDoc(t, minimalPDF(t))

	w := NewWriter(doc)
	catalog := doc.Root.Clone().(*object.Dict)
	catalog.Set("Marked", object.Boolean(true))
	w.UpdateObject(1, catalog)

	updated, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}

	redoc := parseDoc(t, updated)
	if got := redoc.Root.Get("Marked"); got != object.Boolean(true) {
		t.Errorf("catalog not updated, Marked = %v", got)
	}
	if redoc.PageCount() != 1 {
		t.Errorf("PageCount = %d, want 1", redoc.PageCount())
	}
}

func TestAddSignatureField(t *testing.T) {
	doc := parseDoc(t, minimalPDF(t))

	w := NewWriter(doc)
	rect := &object.Rect{LLX: 100, LLY: 100, URX: 300, URY: 150}
	fieldRef, field, err := w.AddSignatureField("Sig1", doc.Pages[0], rect)
	if err != nil {
		t.Fatalf("AddSignatureField failed: %v", err)
	}
	if field.GetName("FT") != "Sig" {
		t.Errorf("FT = %q", field.GetName("FT"))
	}
	if p, ok := field.Get("P").(object.Ref); !ok || p.Number != 3 {
		t.Errorf("P = %v, want reference to object 3", field.Get("P"))
	}
	if fieldRef.Number == 0 {
		t.Error("field reference not assigned")
	}

	updated, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}

	redoc := parseDoc(t, updated)
	fields, err := redoc.SignatureFields()
	if err != nil {
		t.Fatalf("SignatureFields failed: %v", err)
	}
	if len(fields) != 1 || fields[0].Name != "Sig1" {
		t.Fatalf("fields = %+v, want one field named Sig1", fields)
	}
	if fields[0].Signed {
		t.Error("unsigned field reported as signed")
	}

	if flags, _ := redoc.AcroForm.GetInt("SigFlags"); flags&3 != 3 {
		t.Errorf("SigFlags = %d, want bits 1|2 set", flags)
	}

	// The widget must be registered on the page.
	page := redoc.Pages[0]
	annots := page.Dict.GetArray("Annots")
	if len(annots) != 1 {
		t.Fatalf("Annots length = %d, want 1", len(annots))
	}
}

func TestAddSignatureFieldExistingForm(t *testing.T) {
	doc := parseDoc(t, minimalPDF(t))
	w := NewWriter(doc)
	if _, _, err := w.AddSignatureField("First", doc.Pages[0], nil); err != nil {
		t.Fatalf("AddSignatureField failed: %v", err)
	}
	updated, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}

	// Second revision on a document that already has a form.
	doc2 := parseDoc(t, updated)
	w2 := NewWriter(doc2)
	if _, _, err := w2.AddSignatureField("Second", doc2.Pages[0], nil); err != nil {
		t.Fatalf("second AddSignatureField failed: %v", err)
	}
	final, err := w2.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}

	redoc := parseDoc(t, final)
	fields, err := redoc.SignatureFields()
	if err != nil {
		t.Fatalf("SignatureFields failed: %v", err)
	}
	if len(fields) != 2 {
		t.Fatalf("got %d fields, want 2", len(fields))
	}
	if fields[0].Name != "First" || fields[1].Name != "Second" {
		t.Errorf("field names = %q, %q", fields[0].Name, fields[1].Name)
	}
}

func TestAddTwoFieldsSameRevision(t *testing.T) {
	doc := parseDoc(t, minimalPDF(t))
	w := NewWriter(doc)
	if _, _, err := w.AddSignatureField("First", doc.Pages[0], nil); err != nil {
		t.Fatalf("AddSignatureField failed: %v", err)
	}
	if _, _, err := w.AddSignatureField("Second", doc.Pages[0], nil); err != nil {
		t.Fatalf("second AddSignatureField failed: %v", err)
	}
	updated, err := w.Bytes()
	if err != nil {
		t.Fatalf("Bytes failed: %v", err)
	}

	redoc := parseDoc(t, updated)
	fields, err := redoc.SignatureFields()
	if err != nil {
		t.Fatalf("SignatureFields failed: %v", err)
	}
	if len(fields) != 2 {
		t.Fatalf("got %d fields, want 2", len(fields))
	}
	if fields[0].Name != "First" || fields[1].Name != "Second" {
		t.Errorf("field names = %q, %q", fields[0].Name, fields[1].Name)
	}
	if annots := redoc.Pages[0].Dict.GetArray("Annots"); len(annots) != 2 {
		t.Errorf("Annots length = %d, want 2", len(annots))
	}
}

func TestPrepareInlineFieldRejected(t *testing.T) {
	doc := parseDoc(t, minimalPDF(t))
	w := NewWriter(doc)
	field := object.NewDict()
	field.Set("FT", object.Name("Sig"))
	if _, err := w.PrepareSignature(object.Ref{}, field, 1024); !errors.Is(err, ErrInlineField) {
		t.Errorf("err = %v, want ErrInlineField", err)
	}
}

func TestPrepareAndEmbed(t *testing.T) {
	doc := parseDoc(t, minimalPDF(t))
	w := NewWriter(doc)

	fieldRef, field, err := w.AddSignatureField("Sig1", doc.Pages[0], nil)
	if err != nil {
		t.Fatalf("AddSignatureField failed: %v", err)
	}

	const reserved = 64
	placeholder, err := w.PrepareSignature(fieldRef, field, reserved)
	if err != nil {
		t.Fatalf("PrepareSignature failed: %v", err)
	}

	prepared, err := w.WriteWithPlaceholder(placeholder)
	if err != nil {
		t.Fatalf("WriteWithPlaceholder failed: %v", err)
	}

	data := prepared.Data
	br := prepared.ByteRange

	if br[0] != 0 {
		t.Errorf("ByteRange[0] = %d, want 0", br[0])
	}
	if data[br[1]] != '<' {
		t.Errorf("byte at ByteRange[1] = %q, want '<'", data[br[1]])
	}
	if data[br[2]-1] != '>' {
		t.Errorf("byte before ByteRange[2] = %q, want '>'", data[br[2]-1])
	}
	if br[2]-br[1] != int64(reserved*2+2) {
		t.Errorf("gap = %d, want %d", br[2]-br[1], reserved*2+2)
	}
	if br[2]+br[3] != int64(len(data)) {
		t.Errorf("range does not cover file tail: %d + %d != %d", br[2], br[3], len(data))
	}

	// The placeholder must be all zero digits.
	for i := int64(0); i < int64(reserved*2); i++ {
		if data[prepared.ContentsOffset+i] != '0' {
			t.Fatalf("placeholder byte %d = %q, want '0'", i, data[prepared.ContentsOffset+i])
		}
	}

	// DataToSign excludes exactly the gap.
	signed := prepared.DataToSign()
	if int64(len(signed)) != int64(len(data))-(br[2]-br[1]) {
		t.Errorf("signed length = %d", len(signed))
	}

	container := []byte{0x30, 0x11, 0x22}
	final, err := prepared.Embed(container)
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if len(final) != len(data) {
		t.Fatalf("embed changed file length: %d != %d", len(final), len(data))
	}
	wantHex := "301122"
	if got := string(final[prepared.ContentsOffset : prepared.ContentsOffset+int64(len(wantHex))]); got != wantHex {
		t.Errorf("embedded hex = %q, want %q", got, wantHex)
	}
	// The rest of the placeholder stays zero padded.
	if final[prepared.ContentsOffset+int64(len(wantHex))] != '0' {
		t.Error("padding missing after embedded container")
	}

	// The signed file must still parse, with the signature visible.
	redoc := parseDoc(t, final)
	sigs, err := redoc.EmbeddedSignatures()
	if err != nil {
		t.Fatalf("EmbeddedSignatures failed: %v", err)
	}
	if len(sigs) != 1 {
		t.Fatalf("got %d embedded signatures, want 1", len(sigs))
	}
	if sigs[0].ByteRange != br {
		t.Errorf("reparsed ByteRange = %v, want %v", sigs[0].ByteRange, br)
	}
	if !bytes.Equal(sigs[0].Contents[:3], container) {
		t.Errorf("reparsed Contents prefix = % X", sigs[0].Contents[:3])
	}
}

func TestEmbedOverflow(t *testing.T) {
	prepared := &Prepared{
		Data:           make([]byte, 100),
		ContentsOffset: 10,
		ContentsSize:   4,
	}
	if _, err := prepared.Embed(make([]byte, 5)); !errors.Is(err, ErrPlaceholderOverflow) {
		t.Errorf("err = %v, want ErrPlaceholderOverflow", err)
	}
}

func TestPrepareSignatureInvalidSize(t *testing.T) {
	doc := parseDoc(t, minimalPDF(t))
	w := NewWriter(doc)
	fieldRef, field, err := w.AddSignatureField("Sig1", doc.Pages[0], nil)
	if err != nil {
		t.Fatalf("AddSignatureField failed: %v", err)
	}
	if _, err := w.PrepareSignature(fieldRef, field, 0); err == nil {
		t.Error("expected error for zero placeholder size")
	}
}
