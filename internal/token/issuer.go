package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/telmed/telmed/internal/apperr"
)

// Role is the authorization role carried by a token.
type Role string

const (
	RolePatient Role = "Patient"
	RoleDoctor  Role = "Doctor"
	RoleAdmin   Role = "Admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleAdmin:
		return true
	default:
		return false
	}
}

// Scope narrows what a token may be used for.
type Scope string

const (
	// ScopeSession is a full login session. Tokens without a scope claim are sessions.
	ScopeSession Scope = "session"
	// ScopeRegistration is an interim token that only unlocks registration stages.
	ScopeRegistration Scope = "registration"
)

const (
	defaultTTL    = 1440 * time.Minute
	defaultLeeway = 2 * time.Minute
)

// Config configures token signing and validation.
type Config struct {
	Secret   string
	Issuer   string
	Audience string
	TTL      time.Duration
	Leeway   time.Duration
}

// Claims is the JWT claim set of an identity token.
type Claims struct {
	UniqueName string `json:"unique_name"`
	Role       Role   `json:"role"`
	Scope      Scope  `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// Token is a freshly signed token.
type Token struct {
	Raw       string
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ExpiresIn returns the remaining lifetime in seconds relative to IssuedAt.
func (t Token) ExpiresIn() int64 {
	return int64(t.ExpiresAt.Sub(t.IssuedAt).Seconds())
}

// Identity is what a validated token asserts.
type Identity struct {
	SubjectID string
	Phone     string
	Role      Role
	Scope     Scope
	TokenID   string
	ExpiresAt time.Time
}

// Issuer signs and validates HS256 identity tokens. Tokens are never stored;
// validity is re-derived from signature, issuer, audience and expiry.
type Issuer struct {
	cfg    Config
	secret []byte
	now    func() time.Time
	parser *jwt.Parser
}

// NewIssuer builds an Issuer. Secret, issuer and audience are required.
func NewIssuer(cfg Config) (*Issuer, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("token: secret is required")
	}
	if strings.TrimSpace(cfg.Issuer) == "" {
		return nil, errors.New("token: issuer is required")
	}
	if strings.TrimSpace(cfg.Audience) == "" {
		return nil, errors.New("token: audience is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.Leeway <= 0 {
		cfg.Leeway = defaultLeeway
	}
	i := &Issuer{cfg: cfg, secret: []byte(cfg.Secret), now: time.Now}
	i.buildParser()
	return i, nil
}

// WithClock replaces the time source, primarily for tests.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	if now != nil {
		i.now = now
		i.buildParser()
	}
	return i
}

func (i *Issuer) buildParser() {
	i.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(i.cfg.Issuer),
		jwt.WithAudience(i.cfg.Audience),
		jwt.WithLeeway(i.cfg.Leeway),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(i.now),
	)
}

// TTL returns the configured token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.cfg.TTL
}

// Issue signs a session token for subjectID. An empty or unknown role is a
// programming error and fails with Invalid.
func (i *Issuer) Issue(subjectID, identity string, role Role) (Token, error) {
	return i.issue(subjectID, identity, role, "")
}

// IssueRegistration signs an interim token scoped to registration stages.
func (i *Issuer) IssueRegistration(subjectID, identity string, role Role) (Token, error) {
	return i.issue(subjectID, identity, role, ScopeRegistration)
}

func (i *Issuer) issue(subjectID, identity string, role Role, scope Scope) (Token, error) {
	if role == "" {
		return Token{}, apperr.Invalid("role", "role is required")
	}
	if !role.Valid() {
		return Token{}, apperr.Invalid("role", fmt.Sprintf("unknown role %q", role))
	}
	if _, err := uuid.Parse(subjectID); err != nil {
		return Token{}, apperr.Invalid("sub", "subject must be a UUID")
	}

	now := i.now().UTC().Truncate(time.Second)
	exp := now.Add(i.cfg.TTL)
	jti := uuid.NewString()
	claims := Claims{
		UniqueName: identity,
		Role:       role,
		Scope:      scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			Issuer:    i.cfg.Issuer,
			Audience:  jwt.ClaimStrings{i.cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        jti,
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return Token{}, fmt.Errorf("token: sign: %w", err)
	}
	return Token{Raw: signed, ID: jti, IssuedAt: now, ExpiresAt: exp}, nil
}

// Validate verifies raw and returns the identity it carries. Every failure is
// reported as Unauthorized; there is no partial success.
func (i *Issuer) Validate(raw string) (Identity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Identity{}, apperr.Unauthorized("missing token")
	}

	claims := &Claims{}
	parsed, err := i.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return i.secret, nil
	})
	if err != nil || !parsed.Valid {
		return Identity{}, apperr.Unauthorized("invalid token")
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return Identity{}, apperr.Unauthorized("invalid token subject")
	}
	if !claims.Role.Valid() {
		return Identity{}, apperr.Unauthorized("invalid token role")
	}

	scope := claims.Scope
	switch scope {
	case "":
		scope = ScopeSession
	case ScopeSession, ScopeRegistration:
	default:
		return Identity{}, apperr.Unauthorized("invalid token scope")
	}

	var exp time.Time
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Time
	}
	return Identity{
		SubjectID: claims.Subject,
		Phone:     claims.UniqueName,
		Role:      claims.Role,
		Scope:     scope,
		TokenID:   claims.ID,
		ExpiresAt: exp,
	}, nil
}
