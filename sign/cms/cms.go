// Package cms builds and inspects CMS SignedData containers for detached
// PDF signatures. Signature generation is split in two phases so the
// actual signing can happen outside the process: first the signed
// attributes are built and their DER encoding returned for digesting,
// then the externally produced signature is assembled into the final
// container.
package cms

import (
	"bytes"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/x509"
	"encoding/asn1"
	"errors"
	"fmt"
	"hash"
	"math/big"
	"sort"
	"time"

	"golang.org/x/crypto/sha3"
)

// OIDs for CMS content types, digest and signature algorithms, and
// signed attributes.
var (
	OIDData       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 1}
	OIDSignedData = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 7, 2}

	OIDSHA256  = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 1}
	OIDSHA384  = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 2}
	OIDSHA512  = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 3}
	OIDSHA3256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 8}
	OIDSHA3384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 9}
	OIDSHA3512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 2, 10}

	OIDSHA256WithRSA    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 11}
	OIDSHA384WithRSA    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 12}
	OIDSHA512WithRSA    = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 1, 13}
	OIDECDSAWithSHA256  = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 2}
	OIDECDSAWithSHA384  = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 3}
	OIDECDSAWithSHA512  = asn1.ObjectIdentifier{1, 2, 840, 10045, 4, 3, 4}
	OIDRSAWithSHA3256   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 14}
	OIDRSAWithSHA3384   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 15}
	OIDRSAWithSHA3512   = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 16}
	OIDECDSAWithSHA3256 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 10}
	OIDECDSAWithSHA3384 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 11}
	OIDECDSAWithSHA3512 = asn1.ObjectIdentifier{2, 16, 840, 1, 101, 3, 4, 3, 12}

	OIDContentType   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 3}
	OIDMessageDigest = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 4}
	OIDSigningTime   = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 5}
)

// Common errors
var (
	ErrUnsupportedAlgorithm = errors.New("unsupported algorithm")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrMissingCertificate   = errors.New("missing certificate")
)

// DigestAlgorithm names a supported message digest.
type DigestAlgorithm string

// Supported digest algorithms.
const (
	SHA256  DigestAlgorithm = "sha256"
	SHA384  DigestAlgorithm = "sha384"
	SHA512  DigestAlgorithm = "sha512"
	SHA3256 DigestAlgorithm = "sha3-256"
	SHA3384 DigestAlgorithm = "sha3-384"
	SHA3512 DigestAlgorithm = "sha3-512"
)

// New returns a fresh hash for the algorithm.
func (a DigestAlgorithm) New() (hash.Hash, error) {
	switch a {
	case SHA256:
		return sha256.New(), nil
	case SHA384:
		return sha512.New384(), nil
	case SHA512:
		return sha512.New(), nil
	case SHA3256:
		return sha3.New256(), nil
	case SHA3384:
		return sha3.New384(), nil
	case SHA3512:
		return sha3.New512(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(a))
	}
}

// OID returns the algorithm's object identifier.
func (a DigestAlgorithm) OID() (asn1.ObjectIdentifier, error) {
	switch a {
	case SHA256:
		return OIDSHA256, nil
	case SHA384:
		return OIDSHA384, nil
	case SHA512:
		return OIDSHA512, nil
	case SHA3256:
		return OIDSHA3256, nil
	case SHA3384:
		return OIDSHA3384, nil
	case SHA3512:
		return OIDSHA3512, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(a))
	}
}

// Sum digests data in one call.
func (a DigestAlgorithm) Sum(data []byte) ([]byte, error) {
	h, err := a.New()
	if err != nil {
		return nil, err
	}
	h.Write(data)
	return h.Sum(nil), nil
}

// DigestAlgorithmFromOID resolves an OID back to an algorithm name.
func DigestAlgorithmFromOID(oid asn1.ObjectIdentifier) (DigestAlgorithm, error) {
	switch {
	case oid.Equal(OIDSHA256):
		return SHA256, nil
	case oid.Equal(OIDSHA384):
		return SHA384, nil
	case oid.Equal(OIDSHA512):
		return SHA512, nil
	case oid.Equal(OIDSHA3256):
		return SHA3256, nil
	case oid.Equal(OIDSHA3384):
		return SHA3384, nil
	case oid.Equal(OIDSHA3512):
		return SHA3512, nil
	default:
		return "", fmt.Errorf("%w: %v", ErrUnsupportedAlgorithm, oid)
	}
}

// SignatureMechanism names the key type used to produce the raw signature.
type SignatureMechanism string

// Supported signature mechanisms.
const (
	MechanismRSA   SignatureMechanism = "rsa"
	MechanismECDSA SignatureMechanism = "ecdsa"
)

// signatureAlgorithmOID maps a mechanism and digest to the combined
// signature algorithm identifier.
func signatureAlgorithmOID(m SignatureMechanism, d DigestAlgorithm) (asn1.ObjectIdentifier, error) {
	type combo struct {
		m SignatureMechanism
		d DigestAlgorithm
	}
	oids := map[combo]asn1.ObjectIdentifier{
		{MechanismRSA, SHA256}:    OIDSHA256WithRSA,
		{MechanismRSA, SHA384}:    OIDSHA384WithRSA,
		{MechanismRSA, SHA512}:    OIDSHA512WithRSA,
		{MechanismRSA, SHA3256}:   OIDRSAWithSHA3256,
		{MechanismRSA, SHA3384}:   OIDRSAWithSHA3384,
		{MechanismRSA, SHA3512}:   OIDRSAWithSHA3512,
		{MechanismECDSA, SHA256}:  OIDECDSAWithSHA256,
		{MechanismECDSA, SHA384}:  OIDECDSAWithSHA384,
		{MechanismECDSA, SHA512}:  OIDECDSAWithSHA512,
		{MechanismECDSA, SHA3256}: OIDECDSAWithSHA3256,
		{MechanismECDSA, SHA3384}: OIDECDSAWithSHA3384,
		{MechanismECDSA, SHA3512}: OIDECDSAWithSHA3512,
	}
	oid, ok := oids[combo{m, d}]
	if !ok {
		return nil, fmt.Errorf("%w: %s with %s", ErrUnsupportedAlgorithm, m, d)
	}
	return oid, nil
}

// AlgorithmIdentifier is an ASN.1 algorithm identifier.
type AlgorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.RawValue `asn1:"optional"`
}

// ContentInfo is the outer CMS wrapper.
type ContentInfo struct {
	ContentType asn1.ObjectIdentifier
	Content     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// SignedData is a CMS SignedData structure.
type SignedData struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     []asn1.RawValue `asn1:"optional,implicit,tag:0,set"`
	CRLs             []asn1.RawValue `asn1:"optional,implicit,tag:1"`
	SignerInfos      []SignerInfo    `asn1:"set"`
}

// EncapsulatedContentInfo is the (detached) encapsulated content.
type EncapsulatedContentInfo struct {
	EContentType asn1.ObjectIdentifier
	EContent     asn1.RawValue `asn1:"explicit,optional,tag:0"`
}

// SignerInfo describes one signer. SID is IssuerAndSerialNumber directly
// because SignerIdentifier is a CHOICE, not a SEQUENCE.
type SignerInfo struct {
	Version            int
	SID                IssuerAndSerialNumber
	DigestAlgorithm    AlgorithmIdentifier
	SignedAttrs        []Attribute `asn1:"optional,implicit,tag:0,set"`
	SignatureAlgorithm AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      []Attribute `asn1:"optional,implicit,tag:1,set"`
}

// IssuerAndSerialNumber identifies a certificate by issuer and serial.
type IssuerAndSerialNumber struct {
	Issuer       asn1.RawValue
	SerialNumber *big.Int
}

// Attribute is a CMS attribute.
type Attribute struct {
	Type   asn1.ObjectIdentifier
	Values []asn1.RawValue `asn1:"set"`
}

// signerInfoRaw preserves the raw attribute bytes when parsing.
type signerInfoRaw struct {
	Version            int
	SID                IssuerAndSerialNumber
	DigestAlgorithm    AlgorithmIdentifier
	SignedAttrs        asn1.RawValue `asn1:"optional,tag:0"`
	SignatureAlgorithm AlgorithmIdentifier
	Signature          []byte
	UnsignedAttrs      asn1.RawValue `asn1:"optional,tag:1"`
}

// signedDataRaw preserves raw signer infos when parsing.
type signedDataRaw struct {
	Version          int
	DigestAlgorithms []AlgorithmIdentifier `asn1:"set"`
	EncapContentInfo EncapsulatedContentInfo
	Certificates     []asn1.RawValue `asn1:"optional,implicit,tag:0,set"`
	CRLs             []asn1.RawValue `asn1:"optional,implicit,tag:1"`
	SignerInfos      []asn1.RawValue `asn1:"set"`
}

// SignerIdentity carries the pre-extracted issuer and serial of the
// signing certificate. The certificate itself is only needed at
// finalization time.
type SignerIdentity struct {
	// RawIssuer is the DER-encoded issuer name.
	RawIssuer []byte
	// Serial is the certificate serial number.
	Serial *big.Int
}

// Builder assembles a detached SignedData container in two phases.
type Builder struct {
	// Digest is the message digest algorithm.
	Digest DigestAlgorithm
	// SigningTime is embedded as a signed attribute. Zero means now.
	SigningTime time.Time
}

// NewBuilder creates a builder for the given digest algorithm.
func NewBuilder(digest DigestAlgorithm) *Builder {
	return &Builder{Digest: digest, SigningTime: time.Now().UTC()}
}

// SignedAttributes builds the signed attributes over the given message
// digest and returns them together with their DER encoding as a SET.
// The returned bytes are what the external signer must digest and sign.
func (b *Builder) SignedAttributes(messageDigest []byte) ([]Attribute, []byte, error) {
	if _, err := b.Digest.OID(); err != nil {
		return nil, nil, err
	}

	var attrs []Attribute

	contentTypeValue, _ := asn1.Marshal(OIDData)
	attrs = append(attrs, Attribute{
		Type:   OIDContentType,
		Values: []asn1.RawValue{{FullBytes: contentTypeValue}},
	})

	digestValue, _ := asn1.Marshal(messageDigest)
	attrs = append(attrs, Attribute{
		Type:   OIDMessageDigest,
		Values: []asn1.RawValue{{FullBytes: digestValue}},
	})

	signingTime := b.SigningTime
	if signingTime.IsZero() {
		signingTime = time.Now()
	}
	signingTimeValue, _ := asn1.Marshal(signingTime.UTC())
	attrs = append(attrs, Attribute{
		Type:   OIDSigningTime,
		Values: []asn1.RawValue{{FullBytes: signingTimeValue}},
	})

	attrs = derSortAttributes(attrs)

	attrsBytes, err := asn1.Marshal(attrs)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal signed attributes: %w", err)
	}
	// asn1.Marshal encodes the slice as a SEQUENCE; the signed form is a SET.
	attrsBytes[0] = 0x31

	return attrs, attrsBytes, nil
}

// Finalize assembles the complete ContentInfo. signature is the raw
// signature over the digest of the signed attribute SET, chain holds the
// DER certificates leaf first.
func (b *Builder) Finalize(attrs []Attribute, signature []byte, mechanism SignatureMechanism, identity SignerIdentity, chain [][]byte) ([]byte, error) {
	digestOID, err := b.Digest.OID()
	if err != nil {
		return nil, err
	}
	sigAlgOID, err := signatureAlgorithmOID(mechanism, b.Digest)
	if err != nil {
		return nil, err
	}
	if identity.Serial == nil || len(identity.RawIssuer) == 0 {
		return nil, fmt.Errorf("%w: signer identity incomplete", ErrMissingCertificate)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("%w: empty certificate chain", ErrMissingCertificate)
	}

	signerInfo := SignerInfo{
		Version: 1,
		SID: IssuerAndSerialNumber{
			Issuer:       asn1.RawValue{FullBytes: identity.RawIssuer},
			SerialNumber: identity.Serial,
		},
		DigestAlgorithm: AlgorithmIdentifier{
			Algorithm:  digestOID,
			Parameters: asn1.RawValue{Tag: 5},
		},
		SignedAttrs: attrs,
		SignatureAlgorithm: AlgorithmIdentifier{
			Algorithm:  sigAlgOID,
			Parameters: signatureAlgorithmParameters(mechanism),
		},
		Signature: signature,
	}

	signedData := SignedData{
		Version: 1,
		DigestAlgorithms: []AlgorithmIdentifier{
			{Algorithm: digestOID, Parameters: asn1.RawValue{Tag: 5}},
		},
		EncapContentInfo: EncapsulatedContentInfo{
			// Detached: no encapsulated content.
			EContentType: OIDData,
		},
		SignerInfos: []SignerInfo{signerInfo},
	}
	for _, cert := range chain {
		signedData.Certificates = append(signedData.Certificates,
			asn1.RawValue{FullBytes: cert})
	}

	signedDataBytes, err := asn1.Marshal(signedData)
	if err != nil {
		return nil, fmt.Errorf("marshal signed data: %w", err)
	}

	contentInfo := ContentInfo{
		ContentType: OIDSignedData,
		Content:     asn1.RawValue{Class: 2, Tag: 0, IsCompound: true, Bytes: signedDataBytes},
	}
	return asn1.Marshal(contentInfo)
}

func signatureAlgorithmParameters(m SignatureMechanism) asn1.RawValue {
	if m == MechanismRSA {
		return asn1.RawValue{Tag: 5}
	}
	return asn1.RawValue{}
}

// derSortAttributes sorts attributes by their DER encoding so the
// embedded SET matches the bytes that were signed.
func derSortAttributes(attrs []Attribute) []Attribute {
	type attrWithDER struct {
		attr Attribute
		der  []byte
	}
	sorted := make([]attrWithDER, len(attrs))
	for i, attr := range attrs {
		der, _ := asn1.Marshal(attr)
		sorted[i] = attrWithDER{attr: attr, der: der}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].der, sorted[j].der) < 0
	})
	result := make([]Attribute, len(attrs))
	for i, s := range sorted {
		result[i] = s.attr
	}
	return result
}

// Parse decodes a ContentInfo wrapping a SignedData.
func Parse(data []byte) (*SignedData, error) {
	var contentInfo ContentInfo
	if _, err := asn1.Unmarshal(data, &contentInfo); err != nil {
		return nil, fmt.Errorf("parse ContentInfo: %w", err)
	}
	if !contentInfo.ContentType.Equal(OIDSignedData) {
		return nil, fmt.Errorf("expected SignedData, got %v", contentInfo.ContentType)
	}
	var signedData SignedData
	if _, err := asn1.Unmarshal(contentInfo.Content.Bytes, &signedData); err != nil {
		return nil, fmt.Errorf("parse SignedData: %w", err)
	}
	return &signedData, nil
}

// Certificates extracts the certificates carried in the container.
func Certificates(cmsData []byte) ([]*x509.Certificate, error) {
	signedData, err := Parse(cmsData)
	if err != nil {
		return nil, err
	}
	var certs []*x509.Certificate
	for _, raw := range signedData.Certificates {
		cert, err := x509.ParseCertificate(raw.FullBytes)
		if err != nil {
			continue
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// SigningTime extracts the signing-time signed attribute.
func SigningTime(cmsData []byte) (time.Time, error) {
	signedData, err := Parse(cmsData)
	if err != nil {
		return time.Time{}, err
	}
	if len(signedData.SignerInfos) == 0 {
		return time.Time{}, errors.New("no signer infos")
	}
	for _, attr := range signedData.SignerInfos[0].SignedAttrs {
		if attr.Type.Equal(OIDSigningTime) && len(attr.Values) > 0 {
			var t time.Time
			if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &t); err == nil {
				return t, nil
			}
		}
	}
	return time.Time{}, errors.New("signing time not found")
}

// Verify checks a detached container against the signed content: the
// message digest attribute must match the content, and the signature
// must verify under the embedded signer certificate.
func Verify(cmsData, signedContent []byte) error {
	var contentInfo ContentInfo
	if _, err := asn1.Unmarshal(cmsData, &contentInfo); err != nil {
		return fmt.Errorf("parse ContentInfo: %w", err)
	}
	if !contentInfo.ContentType.Equal(OIDSignedData) {
		return fmt.Errorf("expected SignedData, got %v", contentInfo.ContentType)
	}

	var raw signedDataRaw
	if _, err := asn1.Unmarshal(contentInfo.Content.Bytes, &raw); err != nil {
		return fmt.Errorf("parse SignedData: %w", err)
	}
	if len(raw.SignerInfos) == 0 {
		return errors.New("no signer infos")
	}

	var info signerInfoRaw
	if _, err := asn1.Unmarshal(raw.SignerInfos[0].FullBytes, &info); err != nil {
		return fmt.Errorf("parse SignerInfo: %w", err)
	}

	var signerCert *x509.Certificate
	for _, certRaw := range raw.Certificates {
		cert, err := x509.ParseCertificate(certRaw.FullBytes)
		if err != nil {
			continue
		}
		if info.SID.SerialNumber != nil && cert.SerialNumber.Cmp(info.SID.SerialNumber) == 0 {
			signerCert = cert
			break
		}
	}
	if signerCert == nil {
		return ErrMissingCertificate
	}

	alg, err := DigestAlgorithmFromOID(info.DigestAlgorithm.Algorithm)
	if err != nil {
		return err
	}
	contentDigest, err := alg.Sum(signedContent)
	if err != nil {
		return err
	}

	attrs, err := parseAttributes(info.SignedAttrs.Bytes)
	if err != nil {
		return err
	}
	var foundDigest []byte
	for _, attr := range attrs {
		if attr.Type.Equal(OIDMessageDigest) && len(attr.Values) > 0 {
			if _, err := asn1.Unmarshal(attr.Values[0].FullBytes, &foundDigest); err == nil {
				break
			}
		}
	}
	if foundDigest == nil {
		return errors.New("message digest attribute not found")
	}
	if !bytes.Equal(contentDigest, foundDigest) {
		return fmt.Errorf("%w: message digest mismatch", ErrInvalidSignature)
	}

	// Reconstruct the attribute SET exactly as it was signed.
	attrsBytes, err := asn1.Marshal(attrs)
	if err != nil {
		return fmt.Errorf("marshal signed attributes: %w", err)
	}
	attrsBytes[0] = 0x31

	attrDigest, err := alg.Sum(attrsBytes)
	if err != nil {
		return err
	}
	return verifyRawSignature(signerCert.PublicKey, alg, attrDigest, info.Signature)
}

func parseAttributes(data []byte) ([]Attribute, error) {
	var attrs []Attribute
	rest := data
	for len(rest) > 0 {
		var attr Attribute
		var err error
		rest, err = asn1.Unmarshal(rest, &attr)
		if err != nil {
			return nil, fmt.Errorf("parse signed attribute: %w", err)
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

func verifyRawSignature(pub interface{}, alg DigestAlgorithm, digest, sig []byte) error {
	switch key := pub.(type) {
	case *rsa.PublicKey:
		h, err := cryptoHash(alg)
		if err != nil {
			return err
		}
		if err := rsa.VerifyPKCS1v15(key, h, digest, sig); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil
	case *ecdsa.PublicKey:
		if !ecdsa.VerifyASN1(key, digest, sig) {
			return fmt.Errorf("%w: ECDSA verification failed", ErrInvalidSignature)
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported key type %T", ErrUnsupportedAlgorithm, pub)
	}
}

// cryptoHash maps a digest algorithm to crypto.Hash for PKCS#1 v1.5
// verification.
func cryptoHash(alg DigestAlgorithm) (crypto.Hash, error) {
	switch alg {
	case SHA256:
		return crypto.SHA256, nil
	case SHA384:
		return crypto.SHA384, nil
	case SHA512:
		return crypto.SHA512, nil
	case SHA3256:
		return crypto.SHA3_256, nil
	case SHA3384:
		return crypto.SHA3_384, nil
	case SHA3512:
		return crypto.SHA3_512, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, string(alg))
	}
}
