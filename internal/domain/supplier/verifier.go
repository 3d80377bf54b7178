package supplier

import "errors"

// ErrInvalidSignature indicates a webhook payload whose signature does not
// match the shared secret. Such payloads are rejected outright, never
// partially applied.
var ErrInvalidSignature = errors.New("supplier: invalid webhook signature")

// SignatureVerifier validates that a webhook payload originates from the
// supplier. Verification happens over the raw request body, before any
// parsing or dispatch.
type SignatureVerifier interface {
	// Verify returns ErrInvalidSignature when signature does not match
	// payload
	Verify(payload []byte, signature string) error
}
