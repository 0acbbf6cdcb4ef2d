// Package keys loads signing credentials: certificates, private keys and
// chains from PEM, DER and PKCS#12 encoded material.
package keys

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

// Common errors
var (
	ErrNoCertFound      = errors.New("no certificate found in data")
	ErrNoKeyFound       = errors.New("no private key found in data")
	ErrUnknownKeyType   = errors.New("unknown private key type")
	ErrDecryptionFailed = errors.New("failed to decrypt private key")
)

// PrivateKey is a private key usable for signing.
type PrivateKey interface {
	crypto.Signer
}

// Credential bundles a leaf certificate, its private key and any extra
// chain certificates.
type Credential struct {
	Certificate *x509.Certificate
	PrivateKey  PrivateKey
	Chain       []*x509.Certificate
}

// ChainDER returns the DER-encoded chain, leaf first.
func (c *Credential) ChainDER() [][]byte {
	chain := [][]byte{c.Certificate.Raw}
	for _, cert := range c.Chain {
		chain = append(chain, cert.Raw)
	}
	return chain
}

// ParseCertificates parses certificates from PEM or DER data.
func ParseCertificates(data []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	if isPEM(data) {
		rest := data
		for len(rest) > 0 {
			var block *pem.Block
			block, rest = pem.Decode(rest)
			if block == nil {
				break
			}
			if block.Type != "CERTIFICATE" {
				continue
			}
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, fmt.Errorf("parse certificate: %w", err)
			}
			certs = append(certs, cert)
		}
	} else {
		parsed, err := x509.ParseCertificates(data)
		if err != nil {
			return nil, fmt.Errorf("parse DER certificates: %w", err)
		}
		certs = parsed
	}

	if len(certs) == 0 {
		return nil, ErrNoCertFound
	}
	return certs, nil
}

// ReadCertificates loads certificates from a PEM or DER file.
func ReadCertificates(filename string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	certs, err := ParseCertificates(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return certs, nil
}

// ParsePrivateKey parses a private key from PEM or DER data. passphrase
// decrypts legacy encrypted PEM blocks and may be nil.
func ParsePrivateKey(data, passphrase []byte) (PrivateKey, error) {
	if isPEM(data) {
		return parseKeyPEM(data, passphrase)
	}
	return parseKeyDER(data)
}

// ReadPrivateKey loads a private key from a PEM or DER file.
func ReadPrivateKey(filename string, passphrase []byte) (PrivateKey, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	key, err := ParsePrivateKey(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return key, nil
}

func parseKeyPEM(data, passphrase []byte) (PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrNoKeyFound)
	}

	keyBytes := block.Bytes
	if x509.IsEncryptedPEMBlock(block) { //nolint:staticcheck
		if passphrase == nil {
			return nil, fmt.Errorf("%w: key is encrypted and no passphrase given", ErrDecryptionFailed)
		}
		decrypted, err := x509.DecryptPEMBlock(block, passphrase) //nolint:staticcheck
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
		}
		keyBytes = decrypted
	}

	switch block.Type {
	case "RSA PRIVATE KEY":
		return x509.ParsePKCS1PrivateKey(keyBytes)
	case "EC PRIVATE KEY":
		return x509.ParseECPrivateKey(keyBytes)
	case "PRIVATE KEY", "ENCRYPTED PRIVATE KEY":
		key, err := x509.ParsePKCS8PrivateKey(keyBytes)
		if err != nil {
			return nil, fmt.Errorf("parse PKCS#8 key: %w", err)
		}
		return toPrivateKey(key)
	default:
		return nil, fmt.Errorf("%w: PEM block %q", ErrUnknownKeyType, block.Type)
	}
}

func parseKeyDER(data []byte) (PrivateKey, error) {
	if key, err := x509.ParsePKCS8PrivateKey(data); err == nil {
		return toPrivateKey(key)
	}
	if key, err := x509.ParsePKCS1PrivateKey(data); err == nil {
		return key, nil
	}
	if key, err := x509.ParseECPrivateKey(data); err == nil {
		return key, nil
	}
	return nil, ErrNoKeyFound
}

func toPrivateKey(key interface{}) (PrivateKey, error) {
	switch k := key.(type) {
	case *rsa.PrivateKey:
		return k, nil
	case *ecdsa.PrivateKey:
		return k, nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownKeyType, key)
	}
}

func isPEM(data []byte) bool {
	return len(data) > 10 && string(data[:5]) == "-----"
}

// LoadCredential loads a certificate, key and optional chain files into a
// Credential. chainFiles may list intermediate and root certificates.
func LoadCredential(certFile, keyFile string, passphrase []byte, chainFiles ...string) (*Credential, error) {
	certs, err := ReadCertificates(certFile)
	if err != nil {
		return nil, err
	}

	key, err := ReadPrivateKey(keyFile, passphrase)
	if err != nil {
		return nil, err
	}

	cred := &Credential{
		Certificate: certs[0],
		PrivateKey:  key,
		Chain:       certs[1:],
	}
	for _, file := range chainFiles {
		chain, err := ReadCertificates(file)
		if err != nil {
			return nil, err
		}
		cred.Chain = append(cred.Chain, chain...)
	}
	return cred, nil
}
