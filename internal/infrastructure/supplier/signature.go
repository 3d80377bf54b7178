package supplier

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"

	domain "github.com/keysync/backend/internal/domain/supplier"
)

// ErrMissingWebhookSecret indicates a verifier built without a secret
var ErrMissingWebhookSecret = errors.New("supplier: webhook secret is required")

// HMACVerifier verifies webhook payloads with HMAC-SHA256 over the raw
// request body. The supplier sends the hex-encoded digest in the signature
// header; comparison is constant time.
type HMACVerifier struct {
	secret []byte
}

// NewHMACVerifier creates a verifier with the shared webhook secret
func NewHMACVerifier(secret string) (*HMACVerifier, error) {
	if secret == "" {
		return nil, ErrMissingWebhookSecret
	}
	return &HMACVerifier{secret: []byte(secret)}, nil
}

// Verify returns supplier.ErrInvalidSignature unless signature is the
// hex-encoded HMAC-SHA256 of payload under the shared secret
func (v *HMACVerifier) Verify(payload []byte, signature string) error {
	if signature == "" {
		return domain.ErrInvalidSignature
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return domain.ErrInvalidSignature
	}

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	expected := mac.Sum(nil)

	if !hmac.Equal(provided, expected) {
		return domain.ErrInvalidSignature
	}
	return nil
}

// Sign computes the hex-encoded HMAC-SHA256 of payload. Used by tests and
// by the sandbox event generator.
func (v *HMACVerifier) Sign(payload []byte) string {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// Ensure HMACVerifier implements the domain contract
var _ domain.SignatureVerifier = (*HMACVerifier)(nil)
