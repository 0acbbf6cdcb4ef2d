// Package sign orchestrates digital signing of PDF documents: field
// creation, placeholder allocation, digest computation and embedding of
// the CMS container, each as an incremental update that leaves the
// original bytes untouched.
package sign

import (
	"fmt"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/pdfseal/pdfseal/pdf/document"
	"github.com/pdfseal/pdfseal/pdf/increment"
	"github.com/pdfseal/pdfseal/pdf/object"
	"github.com/pdfseal/pdfseal/sign/cms"
)

// State tracks the progress of a signing session.
type State int

const (
	// StateUnloaded means no document has been loaded yet.
	StateUnloaded State = iota
	// StateLoaded means a document is loaded and unmodified.
	StateLoaded
	// StateFieldAdded means one or more signature fields are pending.
	StateFieldAdded
	// StatePrepared means a placeholder revision has been rendered.
	StatePrepared
	// StateSigned means the signature container has been embedded.
	StateSigned
	// StateFinalized means the signed bytes have been sealed.
	StateFinalized
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoaded:
		return "loaded"
	case StateFieldAdded:
		return "field-added"
	case StatePrepared:
		return "prepared"
	case StateSigned:
		return "signed"
	case StateFinalized:
		return "finalized"
	default:
		return "unknown"
	}
}

// DefaultContentsSize is the default number of bytes reserved for the
// DER signature container.
const DefaultContentsSize = 16384

// FieldInfo describes a signature field in the document.
type FieldInfo struct {
	// Name is the field's partial name.
	Name string
	// Signed reports whether the field already holds a signature value.
	Signed bool
}

// SignatureOptions carries the metadata written into the signature
// dictionary.
type SignatureOptions struct {
	// Reason for signing, shown by viewers.
	Reason string
	// Location of signing.
	Location string
	// ContactInfo of the signer.
	ContactInfo string
	// Name of the signer.
	Name string
	// SigningTime is the claimed signing time. Zero means now.
	SigningTime time.Time
	// ContentsSize is the reserved container size in bytes. Zero means
	// DefaultContentsSize.
	ContentsSize int
}

type pendingField struct {
	name  string
	ref   object.Ref
	field *object.Dict
}

// Manager drives a signing session over a single document. Operations
// must be called in order: LoadPDF, optionally AddSignatureField,
// PrepareSignature, SignAndEmbed, Finalize. A Manager is not safe for
// concurrent use.
type Manager struct {
	state  State
	doc    *document.Document
	writer *increment.Writer

	added    []*pendingField
	prepared *increment.Prepared
	signing  time.Time
	signed   []byte
}

// NewManager creates a Manager in the unloaded state.
func NewManager() *Manager {
	return &Manager{state: StateUnloaded}
}

// State returns the current session state.
func (m *Manager) State() State {
	return m.state
}

// LoadPDF parses data and starts a session. It may only be called once
// per Manager.
func (m *Manager) LoadPDF(data []byte) error {
	if m.state != StateUnloaded {
		return fmt.Errorf("%w: document already loaded in state %s", ErrInvalidState, m.state)
	}
	doc, err := document.Parse(data)
	if err != nil {
		return err
	}
	m.doc = doc
	m.writer = increment.NewWriter(doc)
	m.state = StateLoaded
	return nil
}

// PDFContent returns the document bytes reflecting all operations
// performed so far. Before any modification this is the input verbatim.
func (m *Manager) PDFContent() ([]byte, error) {
	switch m.state {
	case StateUnloaded:
		return nil, fmt.Errorf("%w: no document loaded", ErrInvalidState)
	case StateLoaded, StateFieldAdded:
		if !m.writer.HasChanges() {
			return m.doc.Bytes(), nil
		}
		return m.writer.Bytes()
	case StatePrepared:
		return m.prepared.Data, nil
	default:
		return m.signed, nil
	}
}

// SignatureFields lists the signature fields of the document, including
// fields added in this session.
func (m *Manager) SignatureFields() ([]FieldInfo, error) {
	if m.state == StateUnloaded {
		return nil, fmt.Errorf("%w: no document loaded", ErrInvalidState)
	}
	existing, err := m.doc.SignatureFields()
	if err != nil {
		return nil, err
	}
	infos := make([]FieldInfo, 0, len(existing)+len(m.added))
	for _, f := range existing {
		infos = append(infos, FieldInfo{Name: f.Name, Signed: f.Signed})
	}
	for _, p := range m.added {
		infos = append(infos, FieldInfo{Name: p.name, Signed: p.field.Has("V")})
	}
	return infos, nil
}

// AddSignatureField creates an empty signature field named name on the
// given page. pageIndex is one-based. rect may be nil for an invisible
// field. Field names are compared after Unicode NFC normalization.
func (m *Manager) AddSignatureField(name string, pageIndex int, rect *object.Rect) error {
	switch m.state {
	case StateLoaded, StateFieldAdded:
	case StateFinalized:
		return ErrAlreadyFinalized
	default:
		return fmt.Errorf("%w: cannot add field in state %s", ErrInvalidState, m.state)
	}

	if pageIndex < 1 || pageIndex > m.doc.PageCount() {
		return fmt.Errorf("%w: page %d of %d", ErrInvalidPageIndex, pageIndex, m.doc.PageCount())
	}

	normalized := norm.NFC.String(name)
	for _, existing := range m.doc.FieldNames() {
		if norm.NFC.String(existing) == normalized {
			return fmt.Errorf("%w: %q", ErrDuplicateFieldName, name)
		}
	}
	for _, p := range m.added {
		if norm.NFC.String(p.name) == normalized {
			return fmt.Errorf("%w: %q", ErrDuplicateFieldName, name)
		}
	}

	page := m.doc.Pages[pageIndex-1]
	ref, field, err := m.writer.AddSignatureField(name, page, rect)
	if err != nil {
		return err
	}
	m.added = append(m.added, &pendingField{name: name, ref: ref, field: field})
	m.state = StateFieldAdded
	return nil
}

// PrepareSignature reserves a signature placeholder in the field named
// fieldName and renders the placeholder revision. The field may have
// been added in this session or exist in the document already.
func (m *Manager) PrepareSignature(fieldName string, opts SignatureOptions) error {
	switch m.state {
	case StateLoaded, StateFieldAdded:
	case StateFinalized:
		return ErrAlreadyFinalized
	default:
		return fmt.Errorf("%w: cannot prepare in state %s", ErrInvalidState, m.state)
	}

	ref, field, err := m.lookupField(fieldName)
	if err != nil {
		return err
	}

	contentsSize := opts.ContentsSize
	if contentsSize == 0 {
		contentsSize = DefaultContentsSize
	}

	placeholder, err := m.writer.PrepareSignature(ref, field, contentsSize)
	if err != nil {
		return err
	}

	m.signing = opts.SigningTime
	if m.signing.IsZero() {
		m.signing = time.Now()
	}
	placeholder.SigDict.Set("M", object.NewTextString(FormatDate(m.signing)))
	if opts.Reason != "" {
		placeholder.SigDict.Set("Reason", object.NewTextString(opts.Reason))
	}
	if opts.Location != "" {
		placeholder.SigDict.Set("Location", object.NewTextString(opts.Location))
	}
	if opts.ContactInfo != "" {
		placeholder.SigDict.Set("ContactInfo", object.NewTextString(opts.ContactInfo))
	}
	if opts.Name != "" {
		placeholder.SigDict.Set("Name", object.NewTextString(opts.Name))
	}

	prepared, err := m.writer.WriteWithPlaceholder(placeholder)
	if err != nil {
		return err
	}
	m.prepared = prepared
	m.state = StatePrepared
	return nil
}

// lookupField finds an unsigned signature field by NFC-normalized name,
// preferring fields added in this session.
func (m *Manager) lookupField(fieldName string) (object.Ref, *object.Dict, error) {
	normalized := norm.NFC.String(fieldName)
	for _, p := range m.added {
		if norm.NFC.String(p.name) == normalized {
			return p.ref, p.field, nil
		}
	}
	existing, err := m.doc.SignatureFields()
	if err != nil {
		return object.Ref{}, nil, err
	}
	for _, f := range existing {
		if norm.NFC.String(f.Name) == normalized {
			if f.Signed {
				return object.Ref{}, nil, fmt.Errorf("%w: %q", ErrAlreadySigned, fieldName)
			}
			return f.Ref, f.Field, nil
		}
	}
	return object.Ref{}, nil, fmt.Errorf("%w: %q", ErrFieldNotFound, fieldName)
}

// ByteRange returns the signed byte range of the prepared revision.
func (m *Manager) ByteRange() ([4]int64, error) {
	if m.prepared == nil {
		return [4]int64{}, fmt.Errorf("%w: no prepared signature", ErrInvalidState)
	}
	return m.prepared.ByteRange, nil
}

// ComputeDigest hashes the bytes covered by the prepared byte range
// with alg. It may be called repeatedly and does not change the state.
func (m *Manager) ComputeDigest(alg cms.DigestAlgorithm) ([]byte, error) {
	if m.state != StatePrepared {
		return nil, fmt.Errorf("%w: cannot digest in state %s", ErrInvalidState, m.state)
	}
	return alg.Sum(m.prepared.DataToSign())
}

// SignAndEmbed builds the CMS container with the given signer and
// embeds it in the placeholder. The signer receives the digest of the
// signed attributes, not the document. On signer failure the session
// stays prepared so signing can be retried.
func (m *Manager) SignAndEmbed(signer Signer, alg cms.DigestAlgorithm) error {
	switch m.state {
	case StatePrepared:
	case StateFinalized:
		return ErrAlreadyFinalized
	default:
		return fmt.Errorf("%w: cannot sign in state %s", ErrInvalidState, m.state)
	}

	messageDigest, err := alg.Sum(m.prepared.DataToSign())
	if err != nil {
		return err
	}

	builder := cms.NewBuilder(alg)
	builder.SigningTime = m.signing
	attrs, attrsDER, err := builder.SignedAttributes(messageDigest)
	if err != nil {
		return err
	}

	attrDigest, err := alg.Sum(attrsDER)
	if err != nil {
		return err
	}

	result, err := signer.Sign(attrDigest, alg)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSigningFailed, err)
	}

	container, err := builder.Finalize(attrs, result.Signature, result.Mechanism, signer.Identity(), result.Chain)
	if err != nil {
		return err
	}

	signed, err := m.prepared.Embed(container)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSignatureTooLarge, err)
	}
	m.signed = signed
	m.state = StateSigned
	return nil
}

// Finalize seals the session and returns the signed document bytes.
// Subsequent mutating operations fail with ErrAlreadyFinalized.
func (m *Manager) Finalize() ([]byte, error) {
	switch m.state {
	case StateSigned:
	case StateFinalized:
		return nil, ErrAlreadyFinalized
	default:
		return nil, fmt.Errorf("%w: cannot finalize in state %s", ErrInvalidState, m.state)
	}
	m.state = StateFinalized
	return m.signed, nil
}
