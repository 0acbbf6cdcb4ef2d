package signers

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/asn1"
	"math/big"
	"testing"

	"github.com/pdfseal/pdfseal/sign/cms"
)

func TestWrapDigestInfo(t *testing.T) {
	digest := sha256.Sum256([]byte("payload"))

	der, err := wrapDigestInfo(cms.SHA256, digest[:])
	if err != nil {
		t.Fatalf("wrapDigestInfo failed: %v", err)
	}

	var info struct {
		Algorithm struct {
			OID    asn1.ObjectIdentifier
			Params asn1.RawValue `asn1:"optional"`
		}
		Digest []byte
	}
	if _, err := asn1.Unmarshal(der, &info); err != nil {
		t.Fatalf("DigestInfo does not decode: %v", err)
	}
	if !info.Algorithm.OID.Equal(cms.OIDSHA256) {
		t.Errorf("algorithm OID = %v", info.Algorithm.OID)
	}
	if !bytes.Equal(info.Digest, digest[:]) {
		t.Error("digest mismatch")
	}
}

func TestWrapDigestInfoUnknownAlgorithm(t *testing.T) {
	if _, err := wrapDigestInfo(cms.DigestAlgorithm("md5"), make([]byte, 16)); err == nil {
		t.Error("expected error for unknown algorithm")
	}
}

func TestEncodeECDSASignature(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	digest := sha256.Sum256([]byte("payload"))

	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	// Token output: fixed-width r||s.
	raw := make([]byte, 64)
	r.FillBytes(raw[:32])
	s.FillBytes(raw[32:])

	der, err := encodeECDSASignature(raw)
	if err != nil {
		t.Fatalf("encodeECDSASignature failed: %v", err)
	}
	if !ecdsa.VerifyASN1(&key.PublicKey, digest[:], der) {
		t.Error("DER signature does not verify")
	}
}

func TestEncodeECDSASignatureInvalid(t *testing.T) {
	if _, err := encodeECDSASignature(nil); err == nil {
		t.Error("expected error for empty input")
	}
	if _, err := encodeECDSASignature(make([]byte, 63)); err == nil {
		t.Error("expected error for odd length")
	}
}

func TestTrimTokenLabel(t *testing.T) {
	cases := []struct{ in, want string }{
		{"token one       ", "token one"},
		{"exact", "exact"},
		{"", ""},
		{"   ", ""},
	}
	for _, c := range cases {
		if got := trimTokenLabel(c.in); got != c.want {
			t.Errorf("trimTokenLabel(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestEncodeECDSASignatureValues(t *testing.T) {
	raw := make([]byte, 64)
	raw[31] = 0x05
	raw[63] = 0x07

	der, err := encodeECDSASignature(raw)
	if err != nil {
		t.Fatalf("encodeECDSASignature failed: %v", err)
	}

	var sig struct{ R, S *big.Int }
	if _, err := asn1.Unmarshal(der, &sig); err != nil {
		t.Fatalf("signature does not decode: %v", err)
	}
	if sig.R.Int64() != 5 || sig.S.Int64() != 7 {
		t.Errorf("r, s = %v, %v, want 5, 7", sig.R, sig.S)
	}
}
