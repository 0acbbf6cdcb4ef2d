package sign

import (
	"github.com/pdfseal/pdfseal/sign/cms"
)

// SignResult is the outcome of an external signing operation.
type SignResult struct {
	// Signature is the raw signature value over the signed attributes.
	Signature []byte

	// Chain is the signer's certificate chain in DER, leaf first.
	Chain [][]byte

	// Mechanism identifies the key type used to produce the signature.
	Mechanism cms.SignatureMechanism
}

// Signer produces raw signatures with an external key. The signer is
// handed a digest, never the document itself, so the key may live in an
// HSM or a remote service.
type Signer interface {
	// Identity returns the issuer and serial of the signing certificate.
	// It must be available before Sign is called.
	Identity() cms.SignerIdentity

	// Sign signs digest, which was computed with the given algorithm,
	// and returns the signature value together with the certificate
	// chain.
	Sign(digest []byte, alg cms.DigestAlgorithm) (*SignResult, error)
}
