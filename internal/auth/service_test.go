package auth

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/telmed/telmed/internal/apperr"
	"github.com/telmed/telmed/internal/credential"
	"github.com/telmed/telmed/internal/identity"
	"github.com/telmed/telmed/internal/logging"
	"github.com/telmed/telmed/internal/phone"
	"github.com/telmed/telmed/internal/proof"
	"github.com/telmed/telmed/internal/ratelimit"
	"github.com/telmed/telmed/internal/token"
)

type fixture struct {
	svc      *Service
	patients identity.PatientRepository
	doctors  identity.DoctorRepository
	vault    *credential.Vault
	issuer   *token.Issuer
	mr       *miniredis.Miniredis
}

func newFixture(t *testing.T, trust credential.TrustAssertion) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = cache.Close() })
	limiter, err := ratelimit.New(cache, ratelimit.Options{Logger: logging.Discard(), Registerer: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("limiter: %v", err)
	}
	issuer, err := token.NewIssuer(token.Config{Secret: "login-test-secret-0123456789abcdef", Issuer: "telmed", Audience: "telmed-app"})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	f := &fixture{
		patients: identity.NewMemoryPatientRepository(),
		doctors:  identity.NewMemoryDoctorRepository(),
		vault:    credential.NewVault(bcrypt.MinCost, trust),
		issuer:   issuer,
		mr:       mr,
	}
	f.svc = NewService(Deps{
		Patients:   f.patients,
		Doctors:    f.doctors,
		Normalizer: phone.NewNormalizer("+234"),
		Limiter:    limiter,
		Vault:      f.vault,
		Issuer:     issuer,
		Verifier:   proof.Static{},
		Logger:     logging.Discard(),
	})
	return f
}

func (f *fixture) principal(t *testing.T, kind identity.Kind, phoneNumber, pin string, biometric bool) identity.Principal {
	t.Helper()
	hash, err := f.vault.HashPIN(pin)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	now := time.Now().UTC()
	return identity.Principal{
		ID: uuid.NewString(), Kind: kind, Phone: phoneNumber, PhoneVerified: true, PINHash: hash,
		BiometricEnabled: biometric, Stage: identity.StageComplete, CreatedAt: now, UpdatedAt: now,
	}
}

func (f *fixture) patient(t *testing.T, phoneNumber, pin string, biometric bool) identity.Patient {
	t.Helper()
	p := identity.Patient{Principal: f.principal(t, identity.KindPatient, phoneNumber, pin, biometric)}
	if err := f.patients.Create(context.Background(), p); err != nil {
		t.Fatalf("create patient: %v", err)
	}
	return p
}

func (f *fixture) doctor(t *testing.T, phoneNumber, pin string, status identity.ReviewStatus) identity.Doctor {
	t.Helper()
	d := identity.Doctor{Principal: f.principal(t, identity.KindDoctor, phoneNumber, pin, false), ReviewStatus: status}
	if err := f.doctors.Create(context.Background(), d); err != nil {
		t.Fatalf("create doctor: %v", err)
	}
	return d
}

func TestLoginWithPIN(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.patient(t, "+2348031234567", "12345", true)

	check, err := f.svc.ValidatePhone(ctx, identity.KindPatient, "08031234567")
	if err != nil {
		t.Fatalf("validate phone: %v", err)
	}
	if check.PrincipalID != p.ID || !check.BiometricAvailable {
		t.Fatalf("unexpected phone check %+v", check)
	}

	sess, err := f.svc.VerifyPin(ctx, identity.KindPatient, PinInput{PrincipalID: p.ID, PIN: "12345"})
	if err != nil {
		t.Fatalf("verify pin: %v", err)
	}
	id, err := f.issuer.Validate(sess.Token.Raw)
	if err != nil {
		t.Fatalf("validate session token: %v", err)
	}
	if id.SubjectID != p.ID || id.Role != token.RolePatient {
		t.Fatalf("unexpected token identity %+v", id)
	}
}

func TestValidatePhoneDoesNotRevealWhy(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	f.doctor(t, "+2348031234567", "12345", identity.ReviewPending)

	unverified := f.principal(t, identity.KindPatient, "+2348020000000", "12345", false)
	unverified.PhoneVerified = false
	_ = f.patients.Create(ctx, identity.Patient{Principal: unverified})

	incomplete := f.principal(t, identity.KindPatient, "+2348020000001", "12345", false)
	incomplete.Stage = identity.StagePersonalInfo
	incomplete.PINHash = nil
	_ = f.patients.Create(ctx, identity.Patient{Principal: incomplete})

	_, pendingErr := f.svc.ValidatePhone(ctx, identity.KindDoctor, "08031234567")
	_, unknownErr := f.svc.ValidatePhone(ctx, identity.KindDoctor, "08099999999")
	_, unverifiedErr := f.svc.ValidatePhone(ctx, identity.KindPatient, "+2348020000000")
	_, incompleteErr := f.svc.ValidatePhone(ctx, identity.KindPatient, "+2348020000001")

	for name, err := range map[string]error{"pending": pendingErr, "unknown": unknownErr, "unverified": unverifiedErr, "incomplete": incompleteErr} {
		if !errors.Is(err, apperr.ErrUnauthorized) {
			t.Fatalf("%s: expected unauthorized, got %v", name, err)
		}
		if err.Error() != unknownErr.Error() {
			t.Fatalf("%s: error %q differs from unknown-phone error %q", name, err, unknownErr)
		}
	}
}

func TestPendingDoctorCannotVerifyPin(t *testing.T) {
	f := newFixture(t, nil)
	d := f.doctor(t, "+2348031234567", "12345", identity.ReviewPending)
	if _, err := f.svc.VerifyPin(context.Background(), identity.KindDoctor, PinInput{PrincipalID: d.ID, PIN: "12345"}); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected pending doctor to be refused, got %v", err)
	}

	approved := f.doctor(t, "+2348031234568", "12345", identity.ReviewApproved)
	sess, err := f.svc.VerifyPin(context.Background(), identity.KindDoctor, PinInput{PrincipalID: approved.ID, PIN: "12345"})
	if err != nil {
		t.Fatalf("approved doctor: %v", err)
	}
	if sess.Role != token.RoleDoctor {
		t.Fatalf("expected doctor role, got %s", sess.Role)
	}
}

func TestSixthPinAttemptDeniedEvenWithCorrectPIN(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.patient(t, "+2348031234567", "12345", false)

	for i := 0; i < 5; i++ {
		if _, err := f.svc.VerifyPin(ctx, identity.KindPatient, PinInput{PrincipalID: p.ID, PIN: "54321"}); !errors.Is(err, apperr.ErrUnauthorized) {
			t.Fatalf("attempt %d: expected unauthorized, got %v", i+1, err)
		}
	}
	_, err := f.svc.VerifyPin(ctx, identity.KindPatient, PinInput{PrincipalID: p.ID, PIN: "12345"})
	if !errors.Is(err, errTooManyAttempts) {
		t.Fatalf("expected sixth attempt to be rate limited, got %v", err)
	}

	failures, err := f.mr.Get("rate:" + ratelimit.Key(scopeLoginFailures, p.ID))
	if err != nil || failures != "5" {
		t.Fatalf("expected five recorded failures, got %q (%v)", failures, err)
	}

	f.mr.FastForward(5 * time.Minute)
	if _, err := f.svc.VerifyPin(ctx, identity.KindPatient, PinInput{PrincipalID: p.ID, PIN: "12345"}); err != nil {
		t.Fatalf("expected login after the window expired, got %v", err)
	}
}

func TestBiometricBypassResetsCounter(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.patient(t, "+2348031234567", "12345", true)

	for i := 0; i < 4; i++ {
		_, _ = f.svc.VerifyPin(ctx, identity.KindPatient, PinInput{PrincipalID: p.ID, PIN: "00000"})
	}
	if _, err := f.svc.VerifyPin(ctx, identity.KindPatient, PinInput{PrincipalID: p.ID, UseBiometric: true, Assertion: "device-signature"}); err != nil {
		t.Fatalf("biometric login: %v", err)
	}
	if f.mr.Exists("rate:"+ratelimit.Key(scopeLoginPIN, p.ID)) || f.mr.Exists("rate:"+ratelimit.Key(scopeLoginFailures, p.ID)) {
		t.Fatalf("expected biometric success to clear counters")
	}

	for i := 0; i < 4; i++ {
		_, _ = f.svc.VerifyPin(ctx, identity.KindPatient, PinInput{PrincipalID: p.ID, PIN: "00000"})
	}
	if _, err := f.svc.VerifyPin(ctx, identity.KindPatient, PinInput{PrincipalID: p.ID, PIN: "12345"}); err != nil {
		t.Fatalf("expected a fresh budget after biometric reset, got %v", err)
	}
}

type denyAll struct{}

func (denyAll) Trust(context.Context, string, string) bool { return false }

func TestBiometricRequiresEnabledAndTrusted(t *testing.T) {
	ctx := context.Background()

	f := newFixture(t, nil)
	disabled := f.patient(t, "+2348031234567", "12345", false)
	if _, err := f.svc.VerifyPin(ctx, identity.KindPatient, PinInput{PrincipalID: disabled.ID, UseBiometric: true}); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected biometric to be refused when disabled, got %v", err)
	}

	untrusted := newFixture(t, denyAll{})
	enabled := untrusted.patient(t, "+2348031234567", "12345", true)
	if _, err := untrusted.svc.VerifyPin(ctx, identity.KindPatient, PinInput{PrincipalID: enabled.ID, UseBiometric: true}); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected untrusted assertion to be refused, got %v", err)
	}
	if _, err := untrusted.svc.VerifyPin(ctx, identity.KindPatient, PinInput{PrincipalID: enabled.ID, UseBiometric: true, PIN: "12345"}); err != nil {
		t.Fatalf("expected PIN fallback to succeed, got %v", err)
	}
}

func TestLoginFailsOpenWhenStoreUnavailable(t *testing.T) {
	f := newFixture(t, nil)
	p := f.patient(t, "+2348031234567", "12345", false)
	f.mr.Close()

	for i := 0; i < 8; i++ {
		if _, err := f.svc.VerifyPin(context.Background(), identity.KindPatient, PinInput{PrincipalID: p.ID, PIN: "12345"}); err != nil {
			t.Fatalf("attempt %d: expected fail-open login, got %v", i+1, err)
		}
	}
}

func TestValidatePhoneRateLimited(t *testing.T) {
	f := newFixture(t, nil)
	f.patient(t, "+2348031234567", "12345", false)
	for i := 0; i < 10; i++ {
		if _, err := f.svc.ValidatePhone(context.Background(), identity.KindPatient, "08031234567"); err != nil {
			t.Fatalf("attempt %d: %v", i+1, err)
		}
	}
	if _, err := f.svc.ValidatePhone(context.Background(), identity.KindPatient, "+2348031234567"); !errors.Is(err, errTooManyAttempts) {
		t.Fatalf("expected eleventh attempt to be limited, got %v", err)
	}
}

func TestResetPin(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	p := f.patient(t, "+2348031234567", "12345", false)

	if err := f.svc.RequestPinReset(ctx, "08031234567"); err != nil {
		t.Fatalf("request reset: %v", err)
	}
	if err := f.svc.RequestPinReset(ctx, "08000000000"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found for unknown phone, got %v", err)
	}

	if _, err := f.svc.ResetPin(ctx, ResetPinInput{PhoneNumber: "08031234567", NewPIN: "9999"}); !errors.Is(err, apperr.ErrInvalid) {
		t.Fatalf("expected invalid new pin, got %v", err)
	}

	mismatch := &Service{}
	*mismatch = *f.svc
	mismatch.verifier = proof.VerifierFunc(func(context.Context, proof.Proof) (string, error) { return "+2348000000000", nil })
	if _, err := mismatch.ResetPin(ctx, ResetPinInput{PhoneNumber: "08031234567", NewPIN: "67890"}); !errors.Is(err, errPhoneMismatch) {
		t.Fatalf("expected phone mismatch, got %v", err)
	}

	sess, err := f.svc.ResetPin(ctx, ResetPinInput{PhoneNumber: "08031234567", NewPIN: "67890"})
	if err != nil {
		t.Fatalf("reset pin: %v", err)
	}
	if sess.PrincipalID != p.ID {
		t.Fatalf("unexpected session %+v", sess)
	}
	if _, err := f.svc.VerifyPin(ctx, identity.KindPatient, PinInput{PrincipalID: p.ID, PIN: "12345"}); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected old PIN to be rejected, got %v", err)
	}
	if _, err := f.svc.VerifyPin(ctx, identity.KindPatient, PinInput{PrincipalID: p.ID, PIN: "67890"}); err != nil {
		t.Fatalf("expected new PIN to work, got %v", err)
	}
}

func TestRejectedPinLogsFailureStreak(t *testing.T) {
	f := newFixture(t, nil)
	var buf bytes.Buffer
	f.svc.logger = slog.New(slog.NewJSONHandler(&buf, nil))
	ctx := context.Background()
	p := f.patient(t, "+2348031234567", "12345", false)

	for i := 0; i < 2; i++ {
		if _, err := f.svc.VerifyPin(ctx, identity.KindPatient, PinInput{PrincipalID: p.ID, PIN: "00000"}); err == nil {
			t.Fatalf("expected wrong PIN to fail")
		}
	}
	if !strings.Contains(buf.String(), `"failure_streak":2`) {
		t.Fatalf("expected second rejection to log streak 2: %s", buf.String())
	}
}
