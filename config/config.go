// Package config loads signing profiles from YAML files.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pdfseal/pdfseal/sign/cms"
)

// Common errors
var (
	ErrConfigurationError   = errors.New("configuration error")
	ErrMissingRequiredField = errors.New("missing required field")
)

// ConfigError represents a configuration error with context.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error in '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

func (e *ConfigError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrConfigurationError
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// Config is the top-level signing profile.
type Config struct {
	// Signature holds the metadata written into the signature.
	Signature SignatureConfig `yaml:"signature"`

	// PKCS12 configures signing with a PKCS#12 archive.
	PKCS12 *PKCS12Config `yaml:"pkcs12,omitempty"`

	// PemDer configures signing with PEM or DER key files.
	PemDer *PemDerConfig `yaml:"pemder,omitempty"`

	// PKCS11 configures signing with a hardware token.
	PKCS11 *PKCS11Config `yaml:"pkcs11,omitempty"`
}

// SignatureConfig holds signature dictionary metadata and digest
// settings.
type SignatureConfig struct {
	// FieldName is the signature field to create or fill.
	FieldName string `yaml:"field-name"`

	// Page is the one-based page the field is placed on. Zero means
	// page one.
	Page int `yaml:"page,omitempty"`

	// Reason for signing.
	Reason string `yaml:"reason,omitempty"`

	// Location of signing.
	Location string `yaml:"location,omitempty"`

	// ContactInfo of the signer.
	ContactInfo string `yaml:"contact-info,omitempty"`

	// Name of the signer.
	Name string `yaml:"name,omitempty"`

	// DigestAlgorithm names the message digest. Empty means sha256.
	DigestAlgorithm string `yaml:"digest-algorithm,omitempty"`

	// ContentsSize is the reserved container size in bytes. Zero picks
	// the default.
	ContentsSize int `yaml:"contents-size,omitempty"`
}

// Digest returns the configured digest algorithm, defaulting to SHA-256.
func (c *SignatureConfig) Digest() cms.DigestAlgorithm {
	if c.DigestAlgorithm == "" {
		return cms.SHA256
	}
	return cms.DigestAlgorithm(c.DigestAlgorithm)
}

// PKCS12Config configures signing with a PKCS#12 archive.
type PKCS12Config struct {
	// File is the path to the PKCS#12 archive.
	File string `yaml:"pfx-file"`

	// Passphrase decrypts the archive.
	Passphrase string `yaml:"pfx-passphrase,omitempty"`
}

// Validate checks required fields.
func (c *PKCS12Config) Validate() error {
	if c.File == "" {
		return NewConfigError("pkcs12.pfx-file", "required field is missing")
	}
	return nil
}

// PemDerConfig configures signing with PEM or DER key files.
type PemDerConfig struct {
	// CertFile is the path to the signing certificate.
	CertFile string `yaml:"cert-file"`

	// KeyFile is the path to the private key.
	KeyFile string `yaml:"key-file"`

	// KeyPassphrase decrypts an encrypted private key.
	KeyPassphrase string `yaml:"key-passphrase,omitempty"`

	// ChainFiles are paths to intermediate certificates.
	ChainFiles []string `yaml:"other-certs,omitempty"`
}

// Validate checks required fields.
func (c *PemDerConfig) Validate() error {
	if c.CertFile == "" {
		return NewConfigError("pemder.cert-file", "required field is missing")
	}
	if c.KeyFile == "" {
		return NewConfigError("pemder.key-file", "required field is missing")
	}
	return nil
}

// PassphraseBytes returns the key passphrase as bytes, nil when unset.
func (c *PemDerConfig) PassphraseBytes() []byte {
	if c.KeyPassphrase == "" {
		return nil
	}
	return []byte(c.KeyPassphrase)
}

// PKCS11Config configures signing with a PKCS#11 token.
type PKCS11Config struct {
	// ModulePath is the path to the PKCS#11 module library.
	ModulePath string `yaml:"module-path"`

	// SlotNo selects a slot by index. Nil selects by token label.
	SlotNo *int `yaml:"slot-no,omitempty"`

	// TokenLabel selects the token when SlotNo is unset.
	TokenLabel string `yaml:"token-label,omitempty"`

	// UserPIN logs into the token. Empty skips login.
	UserPIN string `yaml:"user-pin,omitempty"`

	// CertLabel selects the certificate object by label.
	CertLabel string `yaml:"cert-label,omitempty"`

	// CertID selects the certificate object by CKA_ID, hex encoded.
	CertID string `yaml:"cert-id,omitempty"`

	// KeyLabel selects the private key object by label.
	KeyLabel string `yaml:"key-label,omitempty"`

	// KeyID selects the private key object by CKA_ID, hex encoded.
	KeyID string `yaml:"key-id,omitempty"`
}

// Validate checks required fields.
func (c *PKCS11Config) Validate() error {
	if c.ModulePath == "" {
		return NewConfigError("pkcs11.module-path", "required field is missing")
	}
	if c.CertLabel == "" && c.CertID == "" && c.KeyLabel == "" && c.KeyID == "" {
		return NewConfigError("pkcs11", "a certificate or key label/id is required")
	}
	if _, err := c.CertIDBytes(); err != nil {
		return err
	}
	if _, err := c.KeyIDBytes(); err != nil {
		return err
	}
	return nil
}

// CertIDBytes decodes the hex certificate ID, nil when unset.
func (c *PKCS11Config) CertIDBytes() ([]byte, error) {
	return decodeID("pkcs11.cert-id", c.CertID)
}

// KeyIDBytes decodes the hex key ID, nil when unset.
func (c *PKCS11Config) KeyIDBytes() ([]byte, error) {
	return decodeID("pkcs11.key-id", c.KeyID)
}

func decodeID(field, value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	id, err := hex.DecodeString(value)
	if err != nil {
		return nil, &ConfigError{Field: field, Message: "not valid hex", Err: err}
	}
	return id, nil
}

// Validate checks the whole profile: signature settings plus exactly
// one credential source.
func (c *Config) Validate() error {
	if c.Signature.FieldName == "" {
		return NewConfigError("signature.field-name", "required field is missing")
	}
	if c.Signature.Page < 0 {
		return NewConfigError("signature.page", "must not be negative")
	}
	if c.Signature.ContentsSize < 0 {
		return NewConfigError("signature.contents-size", "must not be negative")
	}
	if _, err := c.Signature.Digest().New(); err != nil {
		return &ConfigError{
			Field:   "signature.digest-algorithm",
			Message: fmt.Sprintf("unknown algorithm %q", c.Signature.DigestAlgorithm),
			Err:     err,
		}
	}

	sources := 0
	if c.PKCS12 != nil {
		sources++
		if err := c.PKCS12.Validate(); err != nil {
			return err
		}
	}
	if c.PemDer != nil {
		sources++
		if err := c.PemDer.Validate(); err != nil {
			return err
		}
	}
	if c.PKCS11 != nil {
		sources++
		if err := c.PKCS11.Validate(); err != nil {
			return err
		}
	}
	if sources == 0 {
		return NewConfigError("", "no credential source configured")
	}
	if sources > 1 {
		return NewConfigError("", "multiple credential sources configured")
	}
	return nil
}

// Parse decodes and validates a YAML profile.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigurationError, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load reads and parses a YAML profile from a file.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
