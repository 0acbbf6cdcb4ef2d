package signers

import (
	"crypto/x509"
	"encoding/asn1"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"sync"

	pkcs11 "github.com/miekg/pkcs11"

	"github.com/pdfseal/pdfseal/sign"
	"github.com/pdfseal/pdfseal/sign/cms"
)

// PKCS#11 related errors.
var (
	ErrModuleLoad    = errors.New("failed to load PKCS#11 module")
	ErrNoToken       = errors.New("no matching token found")
	ErrNoKey         = errors.New("private key not found")
	ErrNoCert        = errors.New("certificate not found")
	ErrMultipleKeys  = errors.New("multiple private keys found")
	ErrMultipleCerts = errors.New("multiple certificates found")
	ErrSessionFailed = errors.New("failed to open PKCS#11 session")
	ErrLoginFailed   = errors.New("PKCS#11 login failed")
	ErrSignFailed    = errors.New("PKCS#11 signing failed")
)

// Session wraps an open PKCS#11 session.
type Session struct {
	ctx     *pkcs11.Ctx
	session pkcs11.SessionHandle
	slotID  uint
}

// OpenSession loads the module at modulePath and opens a logged-in
// session. slotNo selects a slot by index; nil picks the token whose
// label matches tokenLabel, or the only token present when the label is
// empty.
func OpenSession(modulePath string, slotNo *int, tokenLabel, userPIN string) (*Session, error) {
	ctx := pkcs11.New(modulePath)
	if ctx == nil {
		return nil, fmt.Errorf("%w: %s", ErrModuleLoad, modulePath)
	}

	if err := ctx.Initialize(); err != nil {
		ctx.Destroy()
		return nil, fmt.Errorf("PKCS#11 initialize failed: %w", err)
	}

	cleanup := func() {
		ctx.Finalize()
		ctx.Destroy()
	}

	slots, err := ctx.GetSlotList(true)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("failed to get slots: %w", err)
	}
	if len(slots) == 0 {
		cleanup()
		return nil, fmt.Errorf("%w: no slots with tokens available", ErrNoToken)
	}

	slot, err := findSlot(ctx, slots, slotNo, tokenLabel)
	if err != nil {
		cleanup()
		return nil, err
	}

	session, err := ctx.OpenSession(slot, pkcs11.CKF_SERIAL_SESSION)
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("%w: %v", ErrSessionFailed, err)
	}

	if userPIN != "" {
		if err := ctx.Login(session, pkcs11.CKU_USER, userPIN); err != nil {
			ctx.CloseSession(session)
			cleanup()
			return nil, fmt.Errorf("%w: %v", ErrLoginFailed, err)
		}
	}

	return &Session{ctx: ctx, session: session, slotID: slot}, nil
}

func findSlot(ctx *pkcs11.Ctx, slots []uint, slotNo *int, tokenLabel string) (uint, error) {
	if slotNo != nil {
		if *slotNo >= len(slots) {
			return 0, fmt.Errorf("slot %d not found (only %d slots available)", *slotNo, len(slots))
		}
		return slots[*slotNo], nil
	}

	if tokenLabel != "" {
		for _, slot := range slots {
			info, err := ctx.GetTokenInfo(slot)
			if err != nil {
				continue
			}
			if trimTokenLabel(info.Label) == tokenLabel {
				return slot, nil
			}
		}
		return 0, fmt.Errorf("%w: label %q", ErrNoToken, tokenLabel)
	}

	if len(slots) > 1 {
		return 0, errors.New("multiple tokens available; specify slot number or token label")
	}
	return slots[0], nil
}

// trimTokenLabel removes the space padding PKCS#11 applies to labels.
func trimTokenLabel(s string) string {
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}

// Close closes the session and unloads the module.
func (s *Session) Close() error {
	if s.ctx == nil {
		return nil
	}
	err := s.ctx.CloseSession(s.session)
	s.ctx.Finalize()
	s.ctx.Destroy()
	s.ctx = nil
	return err
}

// HSMSigner signs with a key that never leaves a PKCS#11 token. The
// token performs a raw signature operation over the digest handed to
// Sign, so any digest algorithm the CMS layer supports works regardless
// of the token's hash mechanisms.
type HSMSigner struct {
	session   *Session
	keyHandle pkcs11.ObjectHandle
	cert      *x509.Certificate
	chain     []*x509.Certificate

	certLabel string
	certID    []byte
	keyLabel  string
	keyID     []byte

	loaded bool
	mu     sync.Mutex
}

// NewHSMSigner creates a signer over an open session. Configure the
// key and certificate selectors before calling Load or Sign.
func NewHSMSigner(session *Session) *HSMSigner {
	return &HSMSigner{session: session}
}

// WithCertLabel selects the certificate by label.
func (s *HSMSigner) WithCertLabel(label string) *HSMSigner {
	s.certLabel = label
	return s
}

// WithCertID selects the certificate by CKA_ID.
func (s *HSMSigner) WithCertID(id []byte) *HSMSigner {
	s.certID = id
	return s
}

// WithKeyLabel selects the private key by label.
func (s *HSMSigner) WithKeyLabel(label string) *HSMSigner {
	s.keyLabel = label
	return s
}

// WithKeyID selects the private key by CKA_ID.
func (s *HSMSigner) WithKeyID(id []byte) *HSMSigner {
	s.keyID = id
	return s
}

// WithCertificate sets a pre-loaded signing certificate, skipping the
// token lookup.
func (s *HSMSigner) WithCertificate(cert *x509.Certificate) *HSMSigner {
	s.cert = cert
	return s
}

// WithChain sets additional certificates for the CMS container.
func (s *HSMSigner) WithChain(chain []*x509.Certificate) *HSMSigner {
	s.chain = chain
	return s
}

// Load resolves the key handle and certificate on the token. Sign calls
// it automatically; calling it early surfaces configuration errors.
func (s *HSMSigner) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *HSMSigner) load() error {
	if s.loaded {
		return nil
	}

	keyLabel, keyID := s.keyLabel, s.keyID
	certLabel, certID := s.certLabel, s.certID

	// Fall back to the other object's selectors when one side is not
	// configured; tokens commonly share CKA_ID between key and cert.
	if keyLabel == "" && keyID == nil {
		keyLabel, keyID = certLabel, certID
	}
	if s.cert == nil && certLabel == "" && certID == nil {
		certLabel, certID = keyLabel, keyID
	}

	if s.cert == nil {
		cert, err := s.findCertificate(certLabel, certID)
		if err != nil {
			return err
		}
		s.cert = cert
	}

	handle, err := s.findKey(keyLabel, keyID)
	if err != nil {
		return err
	}
	s.keyHandle = handle
	s.loaded = true
	return nil
}

func (s *HSMSigner) findObjects(template []*pkcs11.Attribute) ([]pkcs11.ObjectHandle, error) {
	if err := s.session.ctx.FindObjectsInit(s.session.session, template); err != nil {
		return nil, fmt.Errorf("FindObjectsInit failed: %w", err)
	}
	defer s.session.ctx.FindObjectsFinal(s.session.session)

	objs, _, err := s.session.ctx.FindObjects(s.session.session, 10)
	if err != nil {
		return nil, fmt.Errorf("FindObjects failed: %w", err)
	}
	return objs, nil
}

func (s *HSMSigner) findCertificate(label string, id []byte) (*x509.Certificate, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_CERTIFICATE),
	}
	if label != "" {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_LABEL, label))
	}
	if id != nil {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_ID, id))
	}

	objs, err := s.findObjects(template)
	if err != nil {
		return nil, err
	}
	if len(objs) == 0 {
		return nil, fmt.Errorf("%w: label=%q id=%s", ErrNoCert, label, hex.EncodeToString(id))
	}
	if len(objs) > 1 {
		return nil, fmt.Errorf("%w: label=%q id=%s", ErrMultipleCerts, label, hex.EncodeToString(id))
	}

	attrs, err := s.session.ctx.GetAttributeValue(s.session.session, objs[0], []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_VALUE, nil),
	})
	if err != nil {
		return nil, fmt.Errorf("GetAttributeValue failed: %w", err)
	}
	if len(attrs) == 0 || len(attrs[0].Value) == 0 {
		return nil, errors.New("certificate object has no value")
	}
	return x509.ParseCertificate(attrs[0].Value)
}

func (s *HSMSigner) findKey(label string, id []byte) (pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_SIGN, true),
	}
	if label != "" {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_LABEL, label))
	}
	if id != nil {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_ID, id))
	}

	objs, err := s.findObjects(template)
	if err != nil {
		return 0, err
	}
	if len(objs) == 0 {
		return 0, fmt.Errorf("%w: label=%q id=%s", ErrNoKey, label, hex.EncodeToString(id))
	}
	if len(objs) > 1 {
		return 0, fmt.Errorf("%w: label=%q id=%s", ErrMultipleKeys, label, hex.EncodeToString(id))
	}
	return objs[0], nil
}

// Certificate returns the signing certificate, loading it on demand.
func (s *HSMSigner) Certificate() (*x509.Certificate, error) {
	if err := s.Load(); err != nil {
		return nil, err
	}
	return s.cert, nil
}

// Identity implements sign.Signer. Load must have succeeded first.
func (s *HSMSigner) Identity() cms.SignerIdentity {
	return cms.SignerIdentity{
		RawIssuer: s.cert.RawIssuer,
		Serial:    s.cert.SerialNumber,
	}
}

// Sign implements sign.Signer.
func (s *HSMSigner) Sign(digest []byte, alg cms.DigestAlgorithm) (*sign.SignResult, error) {
	if err := s.Load(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.cert.PublicKeyAlgorithm {
	case x509.RSA:
		input, err := wrapDigestInfo(alg, digest)
		if err != nil {
			return nil, err
		}
		sig, err := s.signRaw(pkcs11.CKM_RSA_PKCS, input)
		if err != nil {
			return nil, err
		}
		return &sign.SignResult{
			Signature: sig,
			Chain:     s.chainDER(),
			Mechanism: cms.MechanismRSA,
		}, nil
	case x509.ECDSA:
		raw, err := s.signRaw(pkcs11.CKM_ECDSA, digest)
		if err != nil {
			return nil, err
		}
		sig, err := encodeECDSASignature(raw)
		if err != nil {
			return nil, err
		}
		return &sign.SignResult{
			Signature: sig,
			Chain:     s.chainDER(),
			Mechanism: cms.MechanismECDSA,
		}, nil
	default:
		return nil, fmt.Errorf("%w: key algorithm %v", cms.ErrUnsupportedAlgorithm, s.cert.PublicKeyAlgorithm)
	}
}

func (s *HSMSigner) signRaw(mechanism uint, input []byte) ([]byte, error) {
	mechs := []*pkcs11.Mechanism{pkcs11.NewMechanism(mechanism, nil)}
	if err := s.session.ctx.SignInit(s.session.session, mechs, s.keyHandle); err != nil {
		return nil, fmt.Errorf("%w: SignInit: %v", ErrSignFailed, err)
	}
	sig, err := s.session.ctx.Sign(s.session.session, input)
	if err != nil {
		return nil, fmt.Errorf("%w: Sign: %v", ErrSignFailed, err)
	}
	return sig, nil
}

func (s *HSMSigner) chainDER() [][]byte {
	der := [][]byte{s.cert.Raw}
	for _, cert := range s.chain {
		der = append(der, cert.Raw)
	}
	return der
}

// wrapDigestInfo wraps a digest in the PKCS#1 DigestInfo structure that
// CKM_RSA_PKCS expects as input.
func wrapDigestInfo(alg cms.DigestAlgorithm, digest []byte) ([]byte, error) {
	oid, err := alg.OID()
	if err != nil {
		return nil, err
	}

	type algorithmIdentifier struct {
		Algorithm  asn1.ObjectIdentifier
		Parameters asn1.RawValue `asn1:"optional"`
	}
	type digestInfo struct {
		DigestAlgorithm algorithmIdentifier
		Digest          []byte
	}

	return asn1.Marshal(digestInfo{
		DigestAlgorithm: algorithmIdentifier{
			Algorithm:  oid,
			Parameters: asn1.NullRawValue,
		},
		Digest: digest,
	})
}

// encodeECDSASignature converts the raw r||s output of CKM_ECDSA into
// the DER sequence used everywhere else.
func encodeECDSASignature(raw []byte) ([]byte, error) {
	if len(raw) == 0 || len(raw)%2 != 0 {
		return nil, fmt.Errorf("invalid ECDSA signature length %d", len(raw))
	}

	half := len(raw) / 2
	type ecdsaSig struct {
		R, S *big.Int
	}
	return asn1.Marshal(ecdsaSig{
		R: new(big.Int).SetBytes(raw[:half]),
		S: new(big.Int).SetBytes(raw[half:]),
	})
}

var _ sign.Signer = (*HSMSigner)(nil)
