package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/telmed/telmed/internal/apperr"
	"github.com/telmed/telmed/internal/credential"
	"github.com/telmed/telmed/internal/identity"
	"github.com/telmed/telmed/internal/logging"
	"github.com/telmed/telmed/internal/notification"
	"github.com/telmed/telmed/internal/phone"
	"github.com/telmed/telmed/internal/proof"
	"github.com/telmed/telmed/internal/ratelimit"
	"github.com/telmed/telmed/internal/token"
)

const (
	scopeLoginPhone    = "login-phone"
	scopeLoginPIN      = "login-pin"
	scopeLoginFailures = "login-pin-failures"
	scopePinReset      = "pin-reset"

	maxUpdateAttempts = 3
)

var (
	// errLoginFailed is returned for every ineligible or wrong-credential
	// login so callers cannot tell unknown, pending and unverified apart.
	errLoginFailed     = apperr.Unauthorized("invalid phone number or PIN")
	errTooManyAttempts = apperr.Unauthorized("too many attempts, try again later")
	errPhoneMismatch   = apperr.Unauthorized("phone number does not match verification")
	errNoPatient       = apperr.NotFound("no registered patient found with this phone number")
)

// Rules configures the login limits.
type Rules struct {
	LoginPhone ratelimit.Rule
	LoginPIN   ratelimit.Rule
	PinReset   ratelimit.Rule
}

// DefaultRules returns the production login limits.
func DefaultRules() Rules {
	return Rules{
		LoginPhone: ratelimit.Rule{Max: 10, Window: 15 * time.Minute},
		LoginPIN:   ratelimit.Rule{Max: 5, Window: 5 * time.Minute},
		PinReset:   ratelimit.Rule{Max: 5, Window: time.Hour},
	}
}

// PhoneCheck is the result of a successful phone validation.
type PhoneCheck struct {
	PrincipalID        string
	BiometricAvailable bool
}

// PinInput is the second login step.
type PinInput struct {
	PrincipalID  string `json:"principal_id"`
	PIN          string `json:"pin"`
	UseBiometric bool   `json:"use_biometric"`
	Assertion    string `json:"biometric_assertion"`
}

// ResetPinInput replaces a forgotten patient PIN after a fresh phone proof.
type ResetPinInput struct {
	PhoneNumber string `json:"phone_number"`
	Assertion   string `json:"assertion"`
	Code        string `json:"code"`
	NewPIN      string `json:"new_pin"`
}

// Session is an authenticated login.
type Session struct {
	PrincipalID      string
	Phone            string
	Role             token.Role
	BiometricEnabled bool
	Token            token.Token
}

// Deps are the collaborators of the login flow.
type Deps struct {
	Patients   identity.PatientRepository
	Doctors    identity.DoctorRepository
	Normalizer phone.Normalizer
	Limiter    *ratelimit.Limiter
	Vault      *credential.Vault
	Issuer     *token.Issuer
	Verifier   proof.Verifier
	Notifier   notification.Notifier
	Logger     *slog.Logger
	Rules      Rules
}

// Service authenticates registered principals by phone and PIN or biometric.
type Service struct {
	patients   identity.PatientRepository
	doctors    identity.DoctorRepository
	normalizer phone.Normalizer
	limiter    *ratelimit.Limiter
	vault      *credential.Vault
	issuer     *token.Issuer
	verifier   proof.Verifier
	notifier   notification.Notifier
	logger     *slog.Logger
	rules      Rules
	now        func() time.Time
}

// NewService wires the login flow.
func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = logging.Discard()
	}
	if d.Notifier == nil {
		d.Notifier = notification.NewLoggerNotifier(d.Logger)
	}
	if d.Rules == (Rules{}) {
		d.Rules = DefaultRules()
	}
	return &Service{
		patients:   d.Patients,
		doctors:    d.Doctors,
		normalizer: d.Normalizer,
		limiter:    d.Limiter,
		vault:      d.Vault,
		issuer:     d.Issuer,
		verifier:   d.Verifier,
		notifier:   d.Notifier,
		logger:     d.Logger,
		rules:      d.Rules,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

type account struct {
	identity.Principal
	eligible bool
}

// ValidatePhone is the first login step. It succeeds only for a login
// eligible principal and fails identically for every other case.
func (s *Service) ValidatePhone(ctx context.Context, kind identity.Kind, rawPhone string) (PhoneCheck, error) {
	normalized, err := s.normalizer.Normalize(rawPhone)
	if err != nil {
		return PhoneCheck{}, err
	}
	if !s.limiter.AllowRule(ctx, ratelimit.Key(scopeLoginPhone, normalized), s.rules.LoginPhone) {
		s.logger.WarnContext(ctx, "login.validate_phone rate limited", slog.String("kind", string(kind)), logging.Phone(normalized))
		return PhoneCheck{}, errTooManyAttempts
	}

	acct, err := s.byPhone(ctx, kind, normalized)
	if err != nil {
		return PhoneCheck{}, err
	}
	if !acct.eligible {
		s.logger.InfoContext(ctx, "login.validate_phone rejected", slog.String("kind", string(kind)), logging.Phone(normalized))
		return PhoneCheck{}, errLoginFailed
	}
	return PhoneCheck{PrincipalID: acct.ID, BiometricAvailable: acct.BiometricEnabled}, nil
}

// VerifyPin is the second login step. The per-principal limiter is consulted
// before any credential check, so a limited caller is refused even with the
// right PIN.
func (s *Service) VerifyPin(ctx context.Context, kind identity.Kind, in PinInput) (Session, error) {
	if in.PrincipalID == "" {
		return Session{}, errLoginFailed
	}
	attempts := ratelimit.Key(scopeLoginPIN, in.PrincipalID)
	if !s.limiter.AllowRule(ctx, attempts, s.rules.LoginPIN) {
		s.logger.WarnContext(ctx, "login.verify_pin rate limited", slog.String("principal_id", in.PrincipalID))
		return Session{}, errTooManyAttempts
	}

	acct, err := s.byID(ctx, kind, in.PrincipalID)
	if err != nil {
		return Session{}, err
	}
	if !acct.eligible {
		return Session{}, errLoginFailed
	}

	method := "pin"
	switch {
	case s.vault.EvaluateBiometric(ctx, acct.Subject(), in.UseBiometric, in.Assertion):
		method = "biometric"
	case s.vault.VerifyPIN(in.PIN, acct.PINHash):
	default:
		streak := s.limiter.RecordFailure(ctx, ratelimit.Key(scopeLoginFailures, acct.ID))
		s.logger.InfoContext(ctx, "login.verify_pin rejected",
			slog.String("principal_id", acct.ID),
			slog.Int64("failure_streak", streak),
		)
		return Session{}, errLoginFailed
	}
	s.resetAttempts(ctx, acct.ID)

	sess, err := s.session(acct.Principal, kind)
	if err != nil {
		return Session{}, err
	}
	s.logger.InfoContext(ctx, "login.verify_pin completed",
		slog.String("kind", string(kind)),
		slog.String("principal_id", acct.ID),
		slog.String("method", method),
	)
	return sess, nil
}

// RequestPinReset checks that a completed patient exists for the phone before
// the client starts a phone verification for the reset.
func (s *Service) RequestPinReset(ctx context.Context, rawPhone string) error {
	normalized, err := s.normalizer.Normalize(rawPhone)
	if err != nil {
		return err
	}
	if !s.limiter.AllowRule(ctx, ratelimit.Key(scopePinReset, normalized), s.rules.PinReset) {
		return errTooManyAttempts
	}
	p, err := s.patients.FindByPhone(ctx, normalized)
	if errors.Is(err, identity.ErrNotFound) || (err == nil && !p.LoginEligible()) {
		return errNoPatient
	}
	return err
}

// ResetPin replaces a patient's PIN. The proof must vouch for the same phone
// the caller names.
func (s *Service) ResetPin(ctx context.Context, in ResetPinInput) (Session, error) {
	if err := credential.ValidatePIN(in.NewPIN); err != nil {
		return Session{}, apperr.Invalid("new_pin", "PIN must be exactly 5 digits")
	}
	normalized, err := s.normalizer.Normalize(in.PhoneNumber)
	if err != nil {
		return Session{}, err
	}
	if !s.limiter.AllowRule(ctx, ratelimit.Key(scopePinReset, normalized), s.rules.PinReset) {
		return Session{}, errTooManyAttempts
	}

	proven, err := s.verifier.Verify(ctx, proof.Proof{Assertion: in.Assertion, Phone: in.PhoneNumber, Code: in.Code})
	if err != nil {
		return Session{}, err
	}
	provenNormalized, err := s.normalizer.Normalize(proven)
	if err != nil || provenNormalized != normalized {
		return Session{}, errPhoneMismatch
	}

	hash, err := s.vault.HashPIN(in.NewPIN)
	if err != nil {
		return Session{}, err
	}

	var p identity.Patient
	for attempt := 1; ; attempt++ {
		p, err = s.patients.FindByPhone(ctx, normalized)
		if errors.Is(err, identity.ErrNotFound) {
			return Session{}, errNoPatient
		}
		if err != nil {
			return Session{}, err
		}
		if !p.LoginEligible() {
			return Session{}, errNoPatient
		}
		p.PINHash = hash
		p.UpdatedAt = s.now()
		err = s.patients.Update(ctx, p)
		if errors.Is(err, identity.ErrStaleVersion) && attempt < maxUpdateAttempts {
			continue
		}
		if err != nil {
			return Session{}, err
		}
		break
	}
	s.resetAttempts(ctx, p.ID)

	if err := s.notifier.Send(ctx, notification.Message{
		Kind:        notification.KindPinReset,
		PrincipalID: p.ID,
		Destination: p.Phone,
		Body:        "Your PIN was reset.",
	}); err != nil {
		s.logger.WarnContext(ctx, "login.reset_pin notification failed", slog.String("principal_id", p.ID), slog.Any("error", err))
	}
	s.logger.InfoContext(ctx, "login.reset_pin completed", slog.String("principal_id", p.ID))
	return s.session(p.Principal, identity.KindPatient)
}

func (s *Service) resetAttempts(ctx context.Context, principalID string) {
	s.limiter.Reset(ctx, ratelimit.Key(scopeLoginPIN, principalID))
	s.limiter.Reset(ctx, ratelimit.Key(scopeLoginFailures, principalID))
}

func (s *Service) session(p identity.Principal, kind identity.Kind) (Session, error) {
	tok, err := s.issuer.Issue(p.ID, p.Phone, kind.Role())
	if err != nil {
		return Session{}, err
	}
	return Session{
		PrincipalID:      p.ID,
		Phone:            p.Phone,
		Role:             kind.Role(),
		BiometricEnabled: p.BiometricEnabled,
		Token:            tok,
	}, nil
}

func (s *Service) byPhone(ctx context.Context, kind identity.Kind, normalized string) (account, error) {
	switch kind {
	case identity.KindPatient:
		p, err := s.patients.FindByPhone(ctx, normalized)
		return patientAccount(p, err)
	case identity.KindDoctor:
		d, err := s.doctors.FindByPhone(ctx, normalized)
		return doctorAccount(d, err)
	default:
		return account{}, errLoginFailed
	}
}

func (s *Service) byID(ctx context.Context, kind identity.Kind, id string) (account, error) {
	switch kind {
	case identity.KindPatient:
		p, err := s.patients.FindByID(ctx, id)
		return patientAccount(p, err)
	case identity.KindDoctor:
		d, err := s.doctors.FindByID(ctx, id)
		return doctorAccount(d, err)
	default:
		return account{}, errLoginFailed
	}
}

func patientAccount(p identity.Patient, err error) (account, error) {
	if errors.Is(err, identity.ErrNotFound) {
		return account{}, nil
	}
	if err != nil {
		return account{}, err
	}
	return account{Principal: p.Principal, eligible: p.LoginEligible()}, nil
}

func doctorAccount(d identity.Doctor, err error) (account, error) {
	if errors.Is(err, identity.ErrNotFound) {
		return account{}, nil
	}
	if err != nil {
		return account{}, err
	}
	return account{Principal: d.Principal, eligible: d.LoginEligible()}, nil
}
