package increment

import (
	"fmt"

	"github.com/pdfseal/pdfseal/pdf/document"
	"github.com/pdfseal/pdfseal/pdf/object"
)

// Placeholder describes a pending signature dictionary whose Contents
// entry is reserved but not yet filled.
type Placeholder struct {
	// SigDict is the signature dictionary.
	SigDict *object.Dict
	// SigDictRef is the reference of the signature dictionary.
	SigDictRef object.Ref
	// ContentsSize is the reserved size of the DER container in bytes.
	// The hex placeholder occupies twice as many bytes.
	ContentsSize int
}

// Prepared is a serialized revision with an unfilled signature
// placeholder.
type Prepared struct {
	// Data is the complete file with the revision appended.
	Data []byte
	// ByteRange is the signed range: two offset/length pairs leaving a
	// gap over the hex placeholder including its delimiters.
	ByteRange [4]int64
	// ContentsOffset is the offset of the first hex digit.
	ContentsOffset int64
	// ContentsSize is the reserved container size in bytes.
	ContentsSize int
}

// AddSignatureField creates a signature form field as a widget annotation
// on page, registers it with the AcroForm and returns its reference and
// dictionary. The caller is responsible for name uniqueness.
func (w *Writer) AddSignatureField(name string, page *document.Page, rect *object.Rect) (object.Ref, *object.Dict, error) {
	if rect == nil {
		// Invisible signature widget.
		rect = &object.Rect{}
	}

	pageRef := page.Ref

	field := object.NewDict()
	field.Set("Type", object.Name("Annot"))
	field.Set("Subtype", object.Name("Widget"))
	field.Set("FT", object.Name("Sig"))
	field.Set("T", object.NewTextString(name))
	field.Set("Rect", rect.ToArray())
	field.Set("F", object.Integer(132))
	field.Set("P", pageRef)

	fieldRef := w.AddObject(field)

	if err := w.attachFieldToForm(fieldRef); err != nil {
		return object.Ref{}, nil, err
	}

	// Register the widget on the page's annotation array. Fields added
	// earlier in this revision are picked up through the pending update.
	pageCopy, err := w.currentDict(pageRef.Number)
	if err != nil {
		return object.Ref{}, nil, err
	}
	annots := pageCopy.GetArray("Annots")
	annots = append(annots, fieldRef)
	pageCopy.Set("Annots", annots)
	w.UpdateObject(pageRef.Number, pageCopy)

	return fieldRef, field, nil
}

// attachFieldToForm appends the field to the AcroForm Fields array,
// creating the form and linking it from the catalog when absent. The
// form and catalog are resolved through pending updates first so that
// every field added in this revision ends up registered.
func (w *Writer) attachFieldToForm(fieldRef object.Ref) error {
	formRef := w.formRef
	if formRef.Number == 0 {
		formRef = w.doc.AcroFormRef
	}

	if formRef.Number != 0 {
		form, err := w.currentDict(formRef.Number)
		if err != nil {
			return err
		}
		registerField(form, fieldRef)
		w.UpdateObject(formRef.Number, form)
		return nil
	}

	root, err := w.currentDict(w.doc.RootRef.Number)
	if err != nil {
		return err
	}

	if form, ok := root.Get("AcroForm").(*object.Dict); ok {
		// The form is inlined in the catalog.
		registerField(form, fieldRef)
	} else {
		form := object.NewDict()
		form.Set("Fields", object.Array{fieldRef})
		form.Set("SigFlags", object.Integer(3))
		w.formRef = w.AddObject(form)
		root.Set("AcroForm", w.formRef)
	}
	w.UpdateObject(w.doc.RootRef.Number, root)
	return nil
}

// registerField appends the field to the form's Fields array and raises
// the signature flags.
func registerField(form *object.Dict, fieldRef object.Ref) {
	fields := form.GetArray("Fields")
	fields = append(fields, fieldRef)
	form.Set("Fields", fields)

	sigFlags, _ := form.GetInt("SigFlags")
	form.Set("SigFlags", object.Integer(sigFlags|3))
}

// PrepareSignature creates the signature dictionary for field and links
// it via /V. contentsSize is the number of bytes reserved for the DER
// container. Additional entries (M, Name, Reason, Location, ContactInfo)
// may be set on the returned dictionary before the revision is rendered.
func (w *Writer) PrepareSignature(fieldRef object.Ref, field *object.Dict, contentsSize int) (*Placeholder, error) {
	if contentsSize <= 0 {
		return nil, fmt.Errorf("invalid placeholder size %d", contentsSize)
	}
	if fieldRef.Number == 0 {
		return nil, ErrInlineField
	}

	sigDict := object.NewDict()
	sigDict.Set("Type", object.Name("Sig"))
	sigDict.Set("Filter", object.Name("Adobe.PPKLite"))
	sigDict.Set("SubFilter", object.Name("adbe.pkcs7.detached"))
	sigDict.Set("Contents", object.NewHexString(make([]byte, contentsSize)))
	sigDict.Set("ByteRange", object.Array{
		object.Integer(0), object.Integer(0),
		object.Integer(0), object.Integer(0),
	})

	sigDictRef := w.AddObject(sigDict)
	field.Set("V", sigDictRef)

	// A pre-existing field must be rewritten in this revision to pick
	// up the /V link.
	if _, pending := w.objects[objectKey{number: fieldRef.Number}]; !pending {
		w.UpdateObject(fieldRef.Number, field)
	}

	return &Placeholder{
		SigDict:      sigDict,
		SigDictRef:   sigDictRef,
		ContentsSize: contentsSize,
	}, nil
}

// WriteWithPlaceholder serializes the revision with the placeholder's
// fixed-width Contents and a patched ByteRange.
func (w *Writer) WriteWithPlaceholder(placeholder *Placeholder) (*Prepared, error) {
	_, prepared, err := w.render(placeholder)
	if err != nil {
		return nil, err
	}
	return prepared, nil
}

// DataToSign returns the bytes covered by the byte range.
func (p *Prepared) DataToSign() []byte {
	part1 := p.Data[p.ByteRange[0] : p.ByteRange[0]+p.ByteRange[1]]
	part2 := p.Data[p.ByteRange[2] : p.ByteRange[2]+p.ByteRange[3]]
	result := make([]byte, len(part1)+len(part2))
	copy(result, part1)
	copy(result[len(part1):], part2)
	return result
}

// Embed fills the placeholder with the hex-encoded container, padded with
// zero digits to the reserved width. The input data is not modified.
func (p *Prepared) Embed(container []byte) ([]byte, error) {
	if len(container) > p.ContentsSize {
		return nil, fmt.Errorf("%w: container %d bytes, reserved %d",
			ErrPlaceholderOverflow, len(container), p.ContentsSize)
	}

	result := make([]byte, len(p.Data))
	copy(result, p.Data)

	hexSig := fmt.Sprintf("%X", container)
	for len(hexSig) < p.ContentsSize*2 {
		hexSig += "0"
	}
	copy(result[p.ContentsOffset:], hexSig)
	return result, nil
}
