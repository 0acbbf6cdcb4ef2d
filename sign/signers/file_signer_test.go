package signers

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/pdfseal/pdfseal/keys"
	"github.com/pdfseal/pdfseal/sign/cms"
)

func selfSigned(t *testing.T, key crypto.Signer) *x509.Certificate {
	t.Helper()
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1001),
		Subject:      pkix.Name{CommonName: "file-signer-test"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, key.Public(), key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return cert
}

func TestFileSignerRSA(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cert := selfSigned(t, key)
	signer := NewFileSigner(&keys.Credential{Certificate: cert, PrivateKey: key})

	digest := sha256.Sum256([]byte("attributes"))
	result, err := signer.Sign(digest[:], cms.SHA256)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if result.Mechanism != cms.MechanismRSA {
		t.Errorf("mechanism = %s, want rsa", result.Mechanism)
	}
	if len(result.Chain) != 1 {
		t.Fatalf("chain length = %d, want 1", len(result.Chain))
	}
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], result.Signature); err != nil {
		t.Errorf("signature does not verify: %v", err)
	}

	id := signer.Identity()
	if id.Serial.Cmp(cert.SerialNumber) != 0 {
		t.Errorf("identity serial = %v, want %v", id.Serial, cert.SerialNumber)
	}
}

func TestFileSignerECDSA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cert := selfSigned(t, key)
	signer := NewFileSigner(&keys.Credential{Certificate: cert, PrivateKey: key})

	digest := sha256.Sum256([]byte("attributes"))
	result, err := signer.Sign(digest[:], cms.SHA256)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if result.Mechanism != cms.MechanismECDSA {
		t.Errorf("mechanism = %s, want ecdsa", result.Mechanism)
	}
	if !ecdsa.VerifyASN1(&key.PublicKey, digest[:], result.Signature) {
		t.Error("signature does not verify")
	}
}

func TestFileSignerRSAWithSHA3(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cert := selfSigned(t, key)
	signer := NewFileSigner(&keys.Credential{Certificate: cert, PrivateKey: key})

	digest, err := cms.SHA3256.Sum([]byte("attributes"))
	if err != nil {
		t.Fatalf("digest failed: %v", err)
	}
	result, err := signer.Sign(digest, cms.SHA3256)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if result.Mechanism != cms.MechanismRSA {
		t.Errorf("mechanism = %s, want rsa", result.Mechanism)
	}
	if err := rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA3_256, digest, result.Signature); err != nil {
		t.Errorf("signature does not verify: %v", err)
	}
}

func TestFileSignerChainOrder(t *testing.T) {
	caKey, _ := rsa.GenerateKey(rand.Reader, 2048)
	caCert := selfSigned(t, caKey)

	leafKey, _ := rsa.GenerateKey(rand.Reader, 2048)
	leafCert := selfSigned(t, leafKey)

	signer := NewFileSigner(&keys.Credential{
		Certificate: leafCert,
		PrivateKey:  leafKey,
		Chain:       []*x509.Certificate{caCert},
	})

	digest := sha256.Sum256([]byte("x"))
	result, err := signer.Sign(digest[:], cms.SHA256)
	if err != nil {
		t.Fatalf("Sign failed: %v", err)
	}
	if len(result.Chain) != 2 {
		t.Fatalf("chain length = %d, want 2", len(result.Chain))
	}
	if string(result.Chain[0]) != string(leafCert.Raw) {
		t.Error("leaf certificate not first in chain")
	}
}
