package sign

import "errors"

// Errors reported by signing operations. Structural problems in the
// input file surface as document.ErrMalformedDocument or
// document.ErrStructure instead.
var (
	// ErrInvalidState indicates an operation called out of order.
	ErrInvalidState = errors.New("operation not allowed in current state")

	// ErrDuplicateFieldName indicates a signature field with the same
	// name already exists.
	ErrDuplicateFieldName = errors.New("signature field name already exists")

	// ErrInvalidPageIndex indicates a page number outside the document.
	ErrInvalidPageIndex = errors.New("page index out of range")

	// ErrFieldNotFound indicates the named signature field does not exist.
	ErrFieldNotFound = errors.New("signature field not found")

	// ErrAlreadySigned indicates the field already holds a signature.
	ErrAlreadySigned = errors.New("signature field is already signed")

	// ErrAlreadyFinalized indicates the document was already finalized.
	ErrAlreadyFinalized = errors.New("document is already finalized")

	// ErrSignatureTooLarge indicates the DER container does not fit the
	// reserved placeholder.
	ErrSignatureTooLarge = errors.New("signature exceeds reserved space")

	// ErrSigningFailed indicates the external signer returned an error.
	ErrSigningFailed = errors.New("signing operation failed")
)
