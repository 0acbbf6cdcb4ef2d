package signers

import (
	"errors"
	"io"

	"github.com/pdfseal/pdfseal/config"
	"github.com/pdfseal/pdfseal/sign"
)

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

var noopCloser = closerFunc(func() error { return nil })

// NewSignerFromConfig builds a signer from a validated profile. The
// returned closer releases token resources and must be closed after
// signing; for file-based profiles it is a no-op.
func NewSignerFromConfig(cfg *config.Config) (sign.Signer, io.Closer, error) {
	switch {
	case cfg.PKCS12 != nil:
		signer, err := NewFileSignerFromPKCS12(cfg.PKCS12.File, cfg.PKCS12.Passphrase)
		if err != nil {
			return nil, nil, err
		}
		return signer, noopCloser, nil

	case cfg.PemDer != nil:
		signer, err := NewFileSignerFromPEM(
			cfg.PemDer.CertFile,
			cfg.PemDer.KeyFile,
			cfg.PemDer.PassphraseBytes(),
			cfg.PemDer.ChainFiles...,
		)
		if err != nil {
			return nil, nil, err
		}
		return signer, noopCloser, nil

	case cfg.PKCS11 != nil:
		session, err := OpenSession(
			cfg.PKCS11.ModulePath,
			cfg.PKCS11.SlotNo,
			cfg.PKCS11.TokenLabel,
			cfg.PKCS11.UserPIN,
		)
		if err != nil {
			return nil, nil, err
		}

		certID, err := cfg.PKCS11.CertIDBytes()
		if err != nil {
			session.Close()
			return nil, nil, err
		}
		keyID, err := cfg.PKCS11.KeyIDBytes()
		if err != nil {
			session.Close()
			return nil, nil, err
		}

		signer := NewHSMSigner(session).
			WithCertLabel(cfg.PKCS11.CertLabel).
			WithCertID(certID).
			WithKeyLabel(cfg.PKCS11.KeyLabel).
			WithKeyID(keyID)
		if err := signer.Load(); err != nil {
			session.Close()
			return nil, nil, err
		}
		return signer, session, nil

	default:
		return nil, nil, errors.New("no credential source configured")
	}
}
