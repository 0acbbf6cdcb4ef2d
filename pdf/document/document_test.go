package document

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/pdfseal/pdfseal/pdf/object"
)

// buildPDF assembles a one-revision PDF from indirect objects, computing
// xref offsets as it goes. Object 0 (the free head) is added automatically.
func buildPDF(t *testing.T, objects []*object.Indirect, trailerExtra func(*object.Dict)) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xE2\xE3\xCF\xD3\n")

	offsets := make(map[int]int64)
	maxNum := 0
	for _, obj := range objects {
		offsets[obj.Number] = int64(buf.Len())
		if err := obj.WriteTo(&buf); err != nil {
			t.Fatalf("write object %d: %v", obj.Number, err)
		}
		if obj.Number > maxNum {
			maxNum = obj.Number
		}
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", maxNum+1)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= maxNum; num++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[num])
	}

	trailer := object.NewDict()
	trailer.Set("Size", object.Integer(maxNum+1))
	trailer.Set("Root", object.Ref{Number: 1})
	if trailerExtra != nil {
		trailerExtra(trailer)
	}
	buf.WriteString("trailer\n")
	if err := trailer.WriteTo(&buf); err != nil {
		t.Fatalf("write trailer: %v", err)
	}
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)
	return buf.Bytes()
}

// minimalPDF builds a catalog, a pages node and one page.
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

	return buildPDF(t, []*object.Indirect{
		object.NewIndirect(1, 0, catalog),
		object.NewIndirect(2, 0, pages),
		object.NewIndirect(3, 0, page),
	}, nil)
}

func TestParseMinimal(t *testing.T) {
	doc, err := Parse(minimalPDF(t))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if doc.Version != "1.7" {
		t.Errorf("Version = %q, want 1.7", doc.Version)
	}
	if doc.PageCount() != 1 {
		t.Errorf("PageCount = %d, want 1", doc.PageCount())
	}
	if doc.Root == nil || doc.Root.GetName("Type") != "Catalog" {
		t.Error("catalog not loaded")
	}
	if doc.RootRef.Number != 1 {
		t.Errorf("RootRef = %v", doc.RootRef)
	}
	if got := doc.Pages[0].Ref.Number; got != 3 {
		t.Errorf("page object number = %d, want 3", got)
	}
	if got := doc.MaxObjectNumber(); got != 3 {
		t.Errorf("MaxObjectNumber = %d, want 3", got)
	}
	if len(doc.Trailers) != 1 {
		t.Errorf("Trailers length = %d, want 1", len(doc.Trailers))
	}
}

func TestParseHeaderErrors(t *testing.T) {
	t.Run("too short", func(t *testing.T) {
		if _, err := Parse([]byte("%PDF")); !errors.Is(err, ErrMalformedDocument) {
			t.Errorf("err = %v, want ErrMalformedDocument", err)
		}
	})
	t.Run("no header", func(t *testing.T) {
		data := bytes.Repeat([]byte("not a pdf "), 20)
		if _, err := Parse(data); !errors.Is(err, ErrMalformedDocument) {
			t.Errorf("err = %v, want ErrMalformedDocument", err)
		}
	})
	t.Run("no startxref", func(t *testing.T) {
		data := []byte("%PDF-1.4\nsome content without any xref\n")
		if _, err := Parse(data); !errors.Is(err, ErrMalformedDocument) {
			t.Errorf("err = %v, want ErrMalformedDocument", err)
		}
	})
	t.Run("offset out of bounds", func(t *testing.T) {
		data := []byte("%PDF-1.4\nstartxref\n99999\n%%EOF\n")
		if _, err := Parse(data); !errors.Is(err, ErrMalformedDocument) {
			t.Errorf("err = %v, want ErrMalformedDocument", err)
		}
	})
}

func TestParseMissingRoot(t *testing.T) {
	data := minimalPDF(t)
	broken := bytes.Replace(data, []byte("/Root 1 0 R"), []byte("/Roox 1 0 R"), 1)
	if _, err := Parse(broken); !errors.Is(err, ErrStructure) {
		t.Errorf("err = %v, want ErrStructure", err)
	}
}

func TestParseCyclicPageTree(t *testing.T) {
	catalog := object.NewDict()
	catalog.Set("Type", object.Name("Catalog"))
	catalog.Set("Pages", object.Ref{Number: 2})

	// The pages node lists itself as a kid.
	pages := object.NewDict()
	pages.Set("Type", object.Name("Pages"))
	pages.Set("Kids", object.Array{object.Ref{Number: 2}})
	pages.Set("Count", object.Integer(1))

	data := buildPDF(t, []*object.Indirect{
		object.NewIndirect(1, 0, catalog),
		object.NewIndirect(2, 0, pages),
	}, nil)

	_, err := Parse(data)
	if !errors.Is(err, ErrStructure) {
		t.Fatalf("err = %v, want ErrStructure", err)
	}
	if !strings.Contains(err.Error(), "cyclic") {
		t.Errorf("err = %v, want mention of cycle", err)
	}
}

func TestParseCyclicPrevChain(t *testing.T) {
	data := minimalPDF(t)
	// Point Prev at the xref table itself.
	xrefOffset := bytes.Index(data, []byte("xref\n0 "))
	data = bytes.Replace(data,
		[]byte("/Root 1 0 R"),
		[]byte(fmt.Sprintf("/Root 1 0 R\n/Prev %d", xrefOffset)), 1)
	// The trailer grew, so the stored startxref still points at "xref".
	if _, err := Parse(data); !errors.Is(err, ErrStructure) {
		t.Errorf("err = %v, want ErrStructure", err)
	}
}

func TestParseXRefStreamRejected(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.5\n")
	offset := buf.Len()
	buf.WriteString("1 0 obj\n<< /Type /XRef >>\nstream\nendstream\nendobj\n")
	fmt.Fprintf(&buf, "startxref\n%d\n%%%%EOF\n", offset)

	_, err := Parse(buf.Bytes())
	if !errors.Is(err, ErrMalformedDocument) {
		t.Fatalf("err = %v, want ErrMalformedDocument", err)
	}
	if !strings.Contains(err.Error(), "cross-reference streams") {
		t.Errorf("err = %v, want mention of xref streams", err)
	}
}

func TestObjectLookup(t *testing.T) {
	doc, err := Parse(minimalPDF(t))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	obj, err := doc.Object(2)
	if err != nil {
		t.Fatalf("Object(2) failed: %v", err)
	}
	dict := obj.(*object.Dict)
	if dict.GetName("Type") != "Pages" {
		t.Errorf("Type = %q", dict.GetName("Type"))
	}

	if _, err := doc.Object(99); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Object(99) err = %v, want ErrObjectNotFound", err)
	}
	if _, err := doc.Object(0); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("Object(0) err = %v, want ErrObjectNotFound", err)
	}

	resolved, err := doc.Resolve(object.Ref{Number: 3})
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if resolved.(*object.Dict).GetName("Type") != "Page" {
		t.Error("Resolve returned wrong object")
	}
}

func TestSignatureFields(t *testing.T) {
	catalog := object.NewDict()
	catalog.Set("Type", object.Name("Catalog"))
	catalog.Set("Pages", object.Ref{Number: 2})
	catalog.Set("AcroForm", object.Ref{Number: 4})

	pages := object.NewDict()
	pages.Set("Type", object.Name("Pages"))
	pages.Set("Kids", object.Array{object.Ref{Number: 3}})
	pages.Set("Count", object.Integer(1))

	page := object.NewDict()
	page.Set("Type", object.Name("Page"))
	page.Set("Parent", object.Ref{Number: 2})

	acroForm := object.NewDict()
	acroForm.Set("Fields", object.Array{object.Ref{Number: 5}, object.Ref{Number: 6}})
	acroForm.Set("SigFlags", object.Integer(3))

	sigField := object.NewDict()
	sigField.Set("FT", object.Name("Sig"))
	sigField.Set("T", object.NewLiteralString("TestSignature"))

	textField := object.NewDict()
	textField.Set("FT", object.Name("Tx"))
	textField.Set("T", object.NewLiteralString("Comments"))

	data := buildPDF(t, []*object.Indirect{
		object.NewIndirect(1, 0, catalog),
		object.NewIndirect(2, 0, pages),
		object.NewIndirect(3, 0, page),
		object.NewIndirect(4, 0, acroForm),
		object.NewIndirect(5, 0, sigField),
		object.NewIndirect(6, 0, textField),
	}, nil)

	doc, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	fields, err := doc.SignatureFields()
	if err != nil {
		t.Fatalf("SignatureFields failed: %v", err)
	}
	if len(fields) != 1 {
		t.Fatalf("got %d signature fields, want 1", len(fields))
	}
	if fields[0].Name != "TestSignature" {
		t.Errorf("Name = %q", fields[0].Name)
	}
	if fields[0].Signed {
		t.Error("field reported as signed")
	}
	if fields[0].Ref.Number != 5 {
		t.Errorf("Ref = %v", fields[0].Ref)
	}

	names := doc.FieldNames()
	if len(names) != 2 || names[0] != "TestSignature" || names[1] != "Comments" {
		t.Errorf("FieldNames = %v", names)
	}
}

func TestSignatureFieldsNoForm(t *testing.T) {
	doc, err := Parse(minimalPDF(t))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	fields, err := doc.SignatureFields()
	if err != nil {
		t.Fatalf("SignatureFields failed: %v", err)
	}
	if len(fields) != 0 {
		t.Errorf("got %d fields, want 0", len(fields))
	}
}

func TestEmbeddedSignatures(t *testing.T) {
	catalog := object.NewDict()
	catalog.Set("Type", object.Name("Catalog"))
	catalog.Set("Pages", object.Ref{Number: 2})
	catalog.Set("AcroForm", object.Ref{Number: 4})

	pages := object.NewDict()
	pages.Set("Type", object.Name("Pages"))
	pages.Set("Kids", object.Array{object.Ref{Number: 3}})
	pages.Set("Count", object.Integer(1))

	page := object.NewDict()
	page.Set("Type", object.Name("Page"))
	page.Set("Parent", object.Ref{Number: 2})

	acroForm := object.NewDict()
	acroForm.Set("Fields", object.Array{object.Ref{Number: 5}})

	sigField := object.NewDict()
	sigField.Set("FT", object.Name("Sig"))
	sigField.Set("T", object.NewLiteralString("Sig1"))
	sigField.Set("V", object.Ref{Number: 6})

	sigValue := object.NewDict()
	sigValue.Set("Type", object.Name("Sig"))
	sigValue.Set("Filter", object.Name("Adobe.PPKLite"))
	sigValue.Set("SubFilter", object.Name("adbe.pkcs7.detached"))
	sigValue.Set("ByteRange", object.Array{
		object.Integer(0), object.Integer(10),
		object.Integer(20), object.Integer(10),
	})
	sigValue.Set("Contents", object.NewHexString([]byte{0x30, 0x82, 0x00, 0x00}))

	data := buildPDF(t, []*object.Indirect{
		object.NewIndirect(1, 0, catalog),
		object.NewIndirect(2, 0, pages),
		object.NewIndirect(3, 0, page),
		object.NewIndirect(4, 0, acroForm),
		object.NewIndirect(5, 0, sigField),
		object.NewIndirect(6, 0, sigValue),
	}, nil)

	doc, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	sigs, err := doc.EmbeddedSignatures()
	if err != nil {
		t.Fatalf("EmbeddedSignatures failed: %v", err)
	}
	if len(sigs) != 1 {
		t.Fatalf("got %d signatures, want 1", len(sigs))
	}
	sig := sigs[0]
	if sig.FieldName != "Sig1" {
		t.Errorf("FieldName = %q", sig.FieldName)
	}
	if sig.ByteRange != [4]int64{0, 10, 20, 10} {
		t.Errorf("ByteRange = %v", sig.ByteRange)
	}
	if !bytes.Equal(sig.Contents, []byte{0x30, 0x82, 0x00, 0x00}) {
		t.Errorf("Contents = % X", sig.Contents)
	}

	signed, err := sig.SignedBytes()
	if err != nil {
		t.Fatalf("SignedBytes failed: %v", err)
	}
	want := append(append([]byte{}, data[0:10]...), data[20:30]...)
	if !bytes.Equal(signed, want) {
		t.Errorf("SignedBytes = %q, want %q", signed, want)
	}
}

func TestSignedBytesOutOfBounds(t *testing.T) {
	doc, err := Parse(minimalPDF(t))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	sig := &EmbeddedSignature{
		ByteRange: [4]int64{0, 10, 1 << 40, 10},
		doc:       doc,
	}
	if _, err := sig.SignedBytes(); !errors.Is(err, ErrStructure) {
		t.Errorf("err = %v, want ErrStructure", err)
	}
}
