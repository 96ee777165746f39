package phone

import (
	"strings"

	"github.com/telmed/telmed/internal/apperr"
)

// DefaultCountryCode is used when no country code is configured.
const DefaultCountryCode = "+234"

// Normalizer canonicalizes phone numbers. Every entry point that accepts a
// phone number goes through the same Normalizer so that lookups and the
// per-type uniqueness constraint agree on one stored form.
type Normalizer struct {
	countryCode string
}

// NewNormalizer builds a Normalizer for the given country code ("234" and
// "+234" are equivalent).
func NewNormalizer(countryCode string) Normalizer {
	cc := strings.TrimSpace(countryCode)
	if cc == "" {
		cc = DefaultCountryCode
	}
	if !strings.HasPrefix(cc, "+") {
		cc = "+" + cc
	}
	return Normalizer{countryCode: cc}
}

// CountryCode returns the configured prefix including the leading '+'.
func (n Normalizer) CountryCode() string {
	if n.countryCode == "" {
		return DefaultCountryCode
	}
	return n.countryCode
}

// Normalize trims the input, keeps '+'-prefixed numbers as they are and
// otherwise strips leading zeros and prefixes the country code.
func (n Normalizer) Normalize(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", apperr.Invalid("phone_number", "phone number is required")
	}
	if strings.HasPrefix(trimmed, "+") {
		return trimmed, nil
	}
	local := strings.TrimLeft(trimmed, "0")
	if local == "" {
		return "", apperr.Invalid("phone_number", "phone number is required")
	}
	return n.CountryCode() + local, nil
}
