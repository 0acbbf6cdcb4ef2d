// Package signers provides Signer implementations backed by local key
// material and PKCS#11 hardware tokens.
package signers

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/pdfseal/pdfseal/keys"
	"github.com/pdfseal/pdfseal/sign"
	"github.com/pdfseal/pdfseal/sign/cms"
)

// FileSigner signs with a private key held in memory, typically loaded
// from PEM files or a PKCS#12 archive.
type FileSigner struct {
	cred *keys.Credential
}

// NewFileSigner creates a signer from a loaded credential.
func NewFileSigner(cred *keys.Credential) *FileSigner {
	return &FileSigner{cred: cred}
}

// NewFileSignerFromPKCS12 loads a PKCS#12 archive and creates a signer.
func NewFileSignerFromPKCS12(filename, password string) (*FileSigner, error) {
	cred, err := keys.ReadPKCS12(filename, password)
	if err != nil {
		return nil, err
	}
	return &FileSigner{cred: cred}, nil
}

// NewFileSignerFromPEM loads a certificate, private key and optional
// chain from PEM or DER files and creates a signer.
func NewFileSignerFromPEM(certFile, keyFile string, passphrase []byte, chainFiles ...string) (*FileSigner, error) {
	cred, err := keys.LoadCredential(certFile, keyFile, passphrase, chainFiles...)
	if err != nil {
		return nil, err
	}
	return &FileSigner{cred: cred}, nil
}

// Identity implements sign.Signer.
func (s *FileSigner) Identity() cms.SignerIdentity {
	return cms.SignerIdentity{
		RawIssuer: s.cred.Certificate.RawIssuer,
		Serial:    s.cred.Certificate.SerialNumber,
	}
}

// Sign implements sign.Signer.
func (s *FileSigner) Sign(digest []byte, alg cms.DigestAlgorithm) (*sign.SignResult, error) {
	switch key := s.cred.PrivateKey.(type) {
	case *rsa.PrivateKey:
		hash, err := pkcs1Hash(alg)
		if err != nil {
			return nil, err
		}
		sig, err := rsa.SignPKCS1v15(rand.Reader, key, hash, digest)
		if err != nil {
			return nil, err
		}
		return &sign.SignResult{
			Signature: sig,
			Chain:     s.cred.ChainDER(),
			Mechanism: cms.MechanismRSA,
		}, nil
	case *ecdsa.PrivateKey:
		sig, err := ecdsa.SignASN1(rand.Reader, key, digest)
		if err != nil {
			return nil, err
		}
		return &sign.SignResult{
			Signature: sig,
			Chain:     s.cred.ChainDER(),
			Mechanism: cms.MechanismECDSA,
		}, nil
	default:
		return nil, fmt.Errorf("%w: key type %T", cms.ErrUnsupportedAlgorithm, s.cred.PrivateKey)
	}
}

// pkcs1Hash maps a digest algorithm to the crypto.Hash used by
// SignPKCS1v15.
func pkcs1Hash(alg cms.DigestAlgorithm) (crypto.Hash, error) {
	switch alg {
	case cms.SHA256:
		return crypto.SHA256, nil
	case cms.SHA384:
		return crypto.SHA384, nil
	case cms.SHA512:
		return crypto.SHA512, nil
	case cms.SHA3256:
		return crypto.SHA3_256, nil
	case cms.SHA3384:
		return crypto.SHA3_384, nil
	case cms.SHA3512:
		return crypto.SHA3_512, nil
	default:
		return 0, fmt.Errorf("%w: RSA with %s", cms.ErrUnsupportedAlgorithm, alg)
	}
}

var _ sign.Signer = (*FileSigner)(nil)
