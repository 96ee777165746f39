package credential

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/telmed/telmed/internal/apperr"
)

// PINLength is the fixed length of a login PIN.
const PINLength = 5

// DefaultCost keeps a bcrypt comparison around 100ms on commodity hardware.
const DefaultCost = 10

// TrustAssertion decides whether an opaque biometric assertion presented by a
// device is acceptable for the given principal.
type TrustAssertion interface {
	Trust(ctx context.Context, principalID, assertion string) bool
}

// TrustIfEnabled accepts every assertion. Actual signature checking is
// delegated to the device platform until a signature scheme is chosen.
type TrustIfEnabled struct{}

// Trust always returns true.
func (TrustIfEnabled) Trust(context.Context, string, string) bool { return true }

// Subject is the part of a principal the biometric policy looks at.
type Subject struct {
	ID               string
	BiometricEnabled bool
}

// Vault hashes and verifies PINs and applies the biometric bypass policy.
type Vault struct {
	cost  int
	trust TrustAssertion
}

// NewVault builds a Vault. Cost outside bcrypt's range falls back to DefaultCost
// and a nil trust defaults to TrustIfEnabled.
func NewVault(cost int, trust TrustAssertion) *Vault {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = DefaultCost
	}
	if trust == nil {
		trust = TrustIfEnabled{}
	}
	return &Vault{cost: cost, trust: trust}
}

// ValidatePIN checks that pin is exactly PINLength ASCII digits.
func ValidatePIN(pin string) error {
	if len(pin) != PINLength {
		return apperr.Invalid("pin", fmt.Sprintf("PIN must be exactly %d digits", PINLength))
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return apperr.Invalid("pin", fmt.Sprintf("PIN must be exactly %d digits", PINLength))
		}
	}
	return nil
}

// HashPIN validates and hashes pin.
func (v *Vault) HashPIN(pin string) ([]byte, error) {
	if err := ValidatePIN(pin); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), v.cost)
	if err != nil {
		return nil, fmt.Errorf("hash pin: %w", err)
	}
	return hash, nil
}

// VerifyPIN reports whether pin matches hash. An empty hash never matches.
func (v *Vault) VerifyPIN(pin string, hash []byte) bool {
	if len(hash) == 0 {
		return false
	}
	return bcrypt.CompareHashAndPassword(hash, []byte(pin)) == nil
}

// EvaluateBiometric allows a PIN bypass only when the caller asked for it,
// the subject has biometric login enabled and the assertion is trusted.
func (v *Vault) EvaluateBiometric(ctx context.Context, s Subject, requested bool, assertion string) bool {
	if !requested || !s.BiometricEnabled {
		return false
	}
	return v.trust.Trust(ctx, s.ID, assertion)
}
