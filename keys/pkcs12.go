package keys

import (
	"fmt"
	"os"

	"software.sslmate.com/src/go-pkcs12"
)

// ParsePKCS12 decodes a PKCS#12 archive into a Credential. The chain
// order of the archive is preserved.
func ParsePKCS12(data []byte, password string) (*Credential, error) {
	key, cert, caCerts, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, fmt.Errorf("decode PKCS#12 archive: %w", err)
	}

	signer, err := toPrivateKey(key)
	if err != nil {
		return nil, err
	}
	return &Credential{
		Certificate: cert,
		PrivateKey:  signer,
		Chain:       caCerts,
	}, nil
}

// ReadPKCS12 loads a Credential from a PKCS#12 file.
func ReadPKCS12(filename, password string) (*Credential, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", filename, err)
	}
	cred, err := ParsePKCS12(data, password)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return cred, nil
}
