package proof

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AssertionClaims is the payload of a signed phone assertion.
type AssertionClaims struct {
	PhoneNumber string `json:"phone_number"`
	jwt.RegisteredClaims
}

// AssertionConfig configures the signed assertion verifier.
type AssertionConfig struct {
	Secret   string
	Issuer   string
	Audience string
	Leeway   time.Duration
}

// AssertionVerifier accepts HS256 JWTs minted by the phone verification
// provider and returns their phone_number claim.
type AssertionVerifier struct {
	secret []byte
	parser *jwt.Parser
}

// NewAssertionVerifier builds a verifier for provider-signed assertions.
func NewAssertionVerifier(cfg AssertionConfig) (*AssertionVerifier, error) {
	if cfg.Secret == "" {
		return nil, errors.New("proof: assertion secret is required")
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	return &AssertionVerifier{secret: []byte(cfg.Secret), parser: jwt.NewParser(opts...)}, nil
}

// Verify parses p.Assertion and returns the phone it asserts.
func (v *AssertionVerifier) Verify(_ context.Context, p Proof) (string, error) {
	if p.Assertion == "" {
		return "", errRejected
	}
	var claims AssertionClaims
	_, err := v.parser.ParseWithClaims(p.Assertion, &claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", errRejected
	}
	phone := strings.TrimSpace(claims.PhoneNumber)
	if phone == "" {
		return "", errRejected
	}
	return phone, nil
}
