// Package proof verifies externally produced evidence that a caller controls
// a phone number.
package proof

import (
	"context"
	"strings"

	"github.com/telmed/telmed/internal/apperr"
)

// Proof is the evidence a client submits. Which fields matter depends on the
// verifier: signed assertions carry Assertion, OTP checks carry Phone and Code.
type Proof struct {
	Assertion string
	Phone     string
	Code      string
}

// Verifier checks a proof and returns the phone number it vouches for.
type Verifier interface {
	Verify(ctx context.Context, p Proof) (string, error)
}

// VerifierFunc adapts a function to Verifier.
type VerifierFunc func(ctx context.Context, p Proof) (string, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, p Proof) (string, error) {
	return f(ctx, p)
}

// Static trusts the phone carried by the proof. Dev environments only.
type Static struct{}

// Verify returns p.Phone, or Unauthorized when it is blank.
func (Static) Verify(_ context.Context, p Proof) (string, error) {
	phone := strings.TrimSpace(p.Phone)
	if phone == "" {
		return "", errRejected
	}
	return phone, nil
}

var errRejected = apperr.Unauthorized("phone verification failed")
