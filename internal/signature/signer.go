// Package signature produces and verifies cryptographic signatures over
// evidence digests. Strategy selection is governed by configuration, never by
// availability: an RSA private key is the production path, an HMAC shared
// secret is an explicit, weaker fallback, and having neither is a hard
// configuration error. There is no built-in default secret.
package signature

import (
	"crypto"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jobproof/jobproof/internal/canonical"
)

// Algorithm identifies which strategy produced a signature. The tag is
// persisted alongside every seal so re-verification knows which key material
// to use.
type Algorithm string

const (
	// AlgorithmRSA is RSASSA-PKCS1-v1_5 with SHA-256 over a 2048-bit key.
	AlgorithmRSA Algorithm = "RSA-2048-SHA256"
	// AlgorithmHMAC is HMAC-SHA256 with a shared secret. Symmetric, so not
	// independently auditable by a third party.
	AlgorithmHMAC Algorithm = "HMAC-SHA256"
)

// Valid reports whether a is a known algorithm tag.
func (a Algorithm) Valid() bool {
	return a == AlgorithmRSA || a == AlgorithmHMAC
}

// MinRSABits is the smallest RSA modulus accepted for signing keys.
const MinRSABits = 2048

// Signing errors.
var (
	// ErrNoSigningKey is returned when neither an RSA private key nor an
	// explicit HMAC secret is configured.
	ErrNoSigningKey = errors.New("no signing key configured: provide an RSA private key or an explicit HMAC secret")

	// ErrMalformedDigest is returned when the payload to sign is not a
	// well-formed "sha256:<hex>" digest string.
	ErrMalformedDigest = errors.New("malformed digest")

	// ErrSignatureMismatch is returned by Verify when the signature does not
	// match the digest.
	ErrSignatureMismatch = errors.New("signature does not match digest")

	// ErrWeakKey is returned for RSA keys below MinRSABits.
	ErrWeakKey = errors.New("rsa key is below the minimum 2048-bit modulus")
)

// Config selects the signing strategy.
type Config struct {
	// RSAPrivateKeyPEM is a PEM-encoded RSA private key (PKCS#1 or PKCS#8).
	// When set, RSA signing is used.
	RSAPrivateKeyPEM string

	// HMACSecret enables the HMAC-SHA256 fallback. Only consulted when no
	// RSA key is configured, and only if explicitly non-empty.
	HMACSecret string
}

// Signer signs evidence digests and can re-verify its own signatures.
type Signer interface {
	// Sign signs a "sha256:<hex>" digest string and returns the signature as
	// base64 along with the algorithm tag to persist.
	Sign(digest string) (string, Algorithm, error)

	// Verify checks a base64 signature against a digest.
	Verify(digest, signatureB64 string) error

	// Algorithm returns the tag this signer produces.
	Algorithm() Algorithm
}

// NewSigner selects a signing strategy from cfg. RSA is preferred whenever a
// private key is present; the HMAC fallback requires an explicit secret.
// With neither configured it returns ErrNoSigningKey.
func NewSigner(cfg Config, logger *slog.Logger) (Signer, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.RSAPrivateKeyPEM != "" {
		key, err := ParseRSAPrivateKey([]byte(cfg.RSAPrivateKeyPEM))
		if err != nil {
			return nil, err
		}
		return &RSASigner{key: key}, nil
	}

	if cfg.HMACSecret != "" {
		return &HMACSigner{secret: []byte(cfg.HMACSecret), logger: logger}, nil
	}

	return nil, ErrNoSigningKey
}

// ParseRSAPrivateKey parses a PEM-encoded RSA private key in PKCS#1 or
// PKCS#8 form and enforces the minimum modulus size.
func ParseRSAPrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, errors.New("no PEM block found in RSA private key")
	}

	var key *rsa.PrivateKey
	if k, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		key = k
	} else if k8, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := k8.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is %T, not RSA", k8)
		}
		key = rsaKey
	} else {
		return nil, fmt.Errorf("parse RSA private key: %w", err)
	}

	if key.N.BitLen() < MinRSABits {
		return nil, fmt.Errorf("%w: got %d bits", ErrWeakKey, key.N.BitLen())
	}
	return key, nil
}

// RSASigner signs digests with RSASSA-PKCS1-v1_5 / SHA-256.
type RSASigner struct {
	key *rsa.PrivateKey
}

// Sign signs the raw 32 bytes of the digest.
func (s *RSASigner) Sign(digest string) (string, Algorithm, error) {
	raw, ok := canonical.DigestBytes(digest)
	if !ok {
		return "", AlgorithmRSA, fmt.Errorf("%w: %q", ErrMalformedDigest, digest)
	}
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, raw)
	if err != nil {
		return "", AlgorithmRSA, fmt.Errorf("rsa sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), AlgorithmRSA, nil
}

// Verify checks the signature against the digest using the public half of
// the signing key.
func (s *RSASigner) Verify(digest, signatureB64 string) error {
	raw, ok := canonical.DigestBytes(digest)
	if !ok {
		return fmt.Errorf("%w: %q", ErrMalformedDigest, digest)
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	if err := rsa.VerifyPKCS1v15(&s.key.PublicKey, crypto.SHA256, raw, sig); err != nil {
		return ErrSignatureMismatch
	}
	return nil
}

// Algorithm returns AlgorithmRSA.
func (s *RSASigner) Algorithm() Algorithm { return AlgorithmRSA }

// HMACSigner is the symmetric fallback. Every Sign call logs a warning:
// seals it produces cannot be independently verified by a third party.
type HMACSigner struct {
	secret []byte
	logger *slog.Logger
}

// Sign computes HMAC-SHA256 over the digest string. The digest, not the raw
// canonical bytes, is the signed payload so the RSA and HMAC paths attest to
// the same value.
func (s *HMACSigner) Sign(digest string) (string, Algorithm, error) {
	if _, ok := canonical.DigestBytes(digest); !ok {
		return "", AlgorithmHMAC, fmt.Errorf("%w: %q", ErrMalformedDigest, digest)
	}

	s.logger.Warn("sealing with HMAC-SHA256 fallback; seals will not be third-party verifiable, configure an RSA private key for production use")

	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(digest))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), AlgorithmHMAC, nil
}

// Verify recomputes the HMAC and compares in constant time.
func (s *HMACSigner) Verify(digest, signatureB64 string) error {
	if _, ok := canonical.DigestBytes(digest); !ok {
		return fmt.Errorf("%w: %q", ErrMalformedDigest, digest)
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return fmt.Errorf("decode signature: %w", err)
	}
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(digest))
	if subtle.ConstantTimeCompare(mac.Sum(nil), sig) != 1 {
		return ErrSignatureMismatch
	}
	return nil
}

// Algorithm returns AlgorithmHMAC.
func (s *HMACSigner) Algorithm() Algorithm { return AlgorithmHMAC }
