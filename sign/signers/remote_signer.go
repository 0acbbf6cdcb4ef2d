package signers

import (
	"bytes"
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pdfseal/pdfseal/sign"
	"github.com/pdfseal/pdfseal/sign/cms"
)

// Remote signing errors
var (
	ErrRemoteSigningFailed   = errors.New("remote signing request failed")
	ErrRemoteCredentialInfo  = errors.New("remote credential info request failed")
	ErrRemoteInvalidResponse = errors.New("invalid remote signing response")
)

// RemoteService describes a CSC-style remote signing service and the
// credential to use on it.
type RemoteService struct {
	// ServiceURL is the base URL, preceding /csc/<version>/ in endpoint
	// URLs.
	ServiceURL string

	// CredentialID identifies the credential; the format is
	// vendor-dependent.
	CredentialID string

	// OAuthToken authenticates the requests.
	OAuthToken string

	// APIVersion is the CSC API version, defaulting to "v1".
	APIVersion string
}

// EndpointURL builds the URL for an API endpoint.
func (s *RemoteService) EndpointURL(endpoint string) string {
	version := s.APIVersion
	if version == "" {
		version = "v1"
	}
	return fmt.Sprintf("%s/csc/%s/%s", s.ServiceURL, version, endpoint)
}

// RemoteSigner signs through a CSC-style HTTP API. The service receives
// only the digest of the signed attributes, never the document.
type RemoteSigner struct {
	Service *RemoteService

	// Client is the HTTP client used for requests. Nil means a client
	// with a 30 second timeout.
	Client *http.Client

	// Context applies to outgoing requests. Nil means background.
	Context context.Context

	cert  *x509.Certificate
	chain [][]byte
}

// NewRemoteSigner creates a signer for the given service.
func NewRemoteSigner(service *RemoteService) *RemoteSigner {
	return &RemoteSigner{Service: service}
}

func (s *RemoteSigner) httpClient() *http.Client {
	if s.Client != nil {
		return s.Client
	}
	return &http.Client{Timeout: 30 * time.Second}
}

func (s *RemoteSigner) post(endpoint string, request, response interface{}) error {
	body, err := json.Marshal(request)
	if err != nil {
		return err
	}

	ctx := s.Context
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Service.EndpointURL(endpoint), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Service.OAuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.Service.OAuthToken)
	}

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s: %s", ErrRemoteSigningFailed, resp.Status, data)
	}
	if err := json.Unmarshal(data, response); err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteInvalidResponse, err)
	}
	return nil
}

type credentialInfoRequest struct {
	CredentialID string `json:"credentialID"`
	Certificates string `json:"certificates"`
}

type credentialInfoResponse struct {
	Cert struct {
		Certificates []string `json:"certificates"`
	} `json:"cert"`
}

// FetchCertificates retrieves the credential's certificate chain from
// the service. It must be called before Identity or Sign.
func (s *RemoteSigner) FetchCertificates() error {
	var info credentialInfoResponse
	err := s.post("credentials/info", credentialInfoRequest{
		CredentialID: s.Service.CredentialID,
		Certificates: "chain",
	}, &info)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteCredentialInfo, err)
	}
	if len(info.Cert.Certificates) == 0 {
		return fmt.Errorf("%w: no certificates in credential", ErrRemoteCredentialInfo)
	}

	chain := make([][]byte, 0, len(info.Cert.Certificates))
	for _, encoded := range info.Cert.Certificates {
		der, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return fmt.Errorf("%w: certificate not valid base64: %v", ErrRemoteInvalidResponse, err)
		}
		chain = append(chain, der)
	}

	// The leaf comes first per the CSC API.
	cert, err := x509.ParseCertificate(chain[0])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRemoteInvalidResponse, err)
	}
	s.cert = cert
	s.chain = chain
	return nil
}

// Certificate returns the signing certificate after FetchCertificates.
func (s *RemoteSigner) Certificate() *x509.Certificate {
	return s.cert
}

// Identity implements sign.Signer. FetchCertificates must have
// succeeded first.
func (s *RemoteSigner) Identity() cms.SignerIdentity {
	return cms.SignerIdentity{
		RawIssuer: s.cert.RawIssuer,
		Serial:    s.cert.SerialNumber,
	}
}

type signHashRequest struct {
	CredentialID string   `json:"credentialID"`
	SignAlgo     string   `json:"signAlgo"`
	HashAlgo     string   `json:"hashAlgo"`
	Hashes       []string `json:"hashes"`
}

type signHashResponse struct {
	Signatures []string `json:"signatures"`
}

// Sign implements sign.Signer.
func (s *RemoteSigner) Sign(digest []byte, alg cms.DigestAlgorithm) (*sign.SignResult, error) {
	if s.cert == nil {
		if err := s.FetchCertificates(); err != nil {
			return nil, err
		}
	}

	mechanism, signAlgo, err := signAlgoFor(s.cert, alg)
	if err != nil {
		return nil, err
	}
	hashOID, err := alg.OID()
	if err != nil {
		return nil, err
	}

	var response signHashResponse
	err = s.post("signatures/signHash", signHashRequest{
		CredentialID: s.Service.CredentialID,
		SignAlgo:     signAlgo,
		HashAlgo:     hashOID.String(),
		Hashes:       []string{base64.StdEncoding.EncodeToString(digest)},
	}, &response)
	if err != nil {
		return nil, err
	}
	if len(response.Signatures) != 1 {
		return nil, fmt.Errorf("%w: got %d signatures, want 1", ErrRemoteInvalidResponse, len(response.Signatures))
	}

	signature, err := base64.StdEncoding.DecodeString(response.Signatures[0])
	if err != nil {
		return nil, fmt.Errorf("%w: signature not valid base64: %v", ErrRemoteInvalidResponse, err)
	}

	return &sign.SignResult{
		Signature: signature,
		Chain:     s.chain,
		Mechanism: mechanism,
	}, nil
}

// signAlgoFor picks the CSC signAlgo OID for the credential's key type.
func signAlgoFor(cert *x509.Certificate, alg cms.DigestAlgorithm) (cms.SignatureMechanism, string, error) {
	switch cert.PublicKeyAlgorithm {
	case x509.RSA:
		// rsaEncryption: the service applies PKCS#1 v1.5 itself.
		return cms.MechanismRSA, "1.2.840.113549.1.1.1", nil
	case x509.ECDSA:
		oid, err := ecdsaSignAlgo(alg)
		if err != nil {
			return "", "", err
		}
		return cms.MechanismECDSA, oid, nil
	default:
		return "", "", fmt.Errorf("%w: key algorithm %v", cms.ErrUnsupportedAlgorithm, cert.PublicKeyAlgorithm)
	}
}

func ecdsaSignAlgo(alg cms.DigestAlgorithm) (string, error) {
	switch alg {
	case cms.SHA256:
		return "1.2.840.10045.4.3.2", nil
	case cms.SHA384:
		return "1.2.840.10045.4.3.3", nil
	case cms.SHA512:
		return "1.2.840.10045.4.3.4", nil
	case cms.SHA3256:
		return "2.16.840.1.101.3.4.3.10", nil
	case cms.SHA3384:
		return "2.16.840.1.101.3.4.3.11", nil
	case cms.SHA3512:
		return "2.16.840.1.101.3.4.3.12", nil
	default:
		return "", fmt.Errorf("%w: ECDSA with %s", cms.ErrUnsupportedAlgorithm, alg)
	}
}

var _ sign.Signer = (*RemoteSigner)(nil)
