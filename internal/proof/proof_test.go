package proof

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	verify "github.com/twilio/twilio-go/rest/verify/v2"

	"github.com/telmed/telmed/internal/apperr"
	"github.com/telmed/telmed/internal/phone"
)

func signAssertion(t *testing.T, secret string, claims AssertionClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return raw
}

func TestAssertionVerifier(t *testing.T) {
	v, err := NewAssertionVerifier(AssertionConfig{Secret: "provider-secret", Issuer: "otp-provider", Audience: "telmed"})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}
	ctx := context.Background()
	valid := AssertionClaims{
		PhoneNumber: "08031234567",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "otp-provider",
			Audience:  jwt.ClaimStrings{"telmed"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(5 * time.Minute)),
		},
	}

	got, err := v.Verify(ctx, Proof{Assertion: signAssertion(t, "provider-secret", valid)})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != "08031234567" {
		t.Fatalf("expected asserted phone, got %q", got)
	}

	expired := valid
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))
	noPhone := valid
	noPhone.PhoneNumber = " "
	wrongIssuer := valid
	wrongIssuer.Issuer = "someone"

	for name, raw := range map[string]string{
		"empty":        "",
		"wrong secret": signAssertion(t, "other-secret", valid),
		"expired":      signAssertion(t, "provider-secret", expired),
		"no phone":     signAssertion(t, "provider-secret", noPhone),
		"wrong issuer": signAssertion(t, "provider-secret", wrongIssuer),
	} {
		if _, err := v.Verify(ctx, Proof{Assertion: raw}); !errors.Is(err, apperr.ErrUnauthorized) {
			t.Fatalf("%s: expected unauthorized, got %v", name, err)
		}
	}
}

func TestNewAssertionVerifierRequiresSecret(t *testing.T) {
	if _, err := NewAssertionVerifier(AssertionConfig{}); err == nil {
		t.Fatalf("expected error without secret")
	}
}

type fakeChecker struct {
	status string
	err    error
	to     string
	code   string
}

func (f *fakeChecker) CreateVerificationCheck(_ string, params *verify.CreateVerificationCheckParams) (*verify.VerifyV2VerificationCheck, error) {
	f.to = *params.To
	f.code = *params.Code
	if f.err != nil {
		return nil, f.err
	}
	status := f.status
	return &verify.VerifyV2VerificationCheck{Status: &status}, nil
}

func TestTwilioVerifierApproved(t *testing.T) {
	checker := &fakeChecker{status: "approved"}
	v := &TwilioVerifier{api: checker, serviceSID: "VA123", normalizer: phone.NewNormalizer("+234")}

	got, err := v.Verify(context.Background(), Proof{Phone: "08031234567", Code: "123456"})
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if got != "+2348031234567" || checker.to != "+2348031234567" || checker.code != "123456" {
		t.Fatalf("unexpected check: got=%q to=%q code=%q", got, checker.to, checker.code)
	}
}

func TestTwilioVerifierRejects(t *testing.T) {
	ctx := context.Background()
	n := phone.NewNormalizer("+234")

	pending := &TwilioVerifier{api: &fakeChecker{status: "pending"}, serviceSID: "VA123", normalizer: n}
	if _, err := pending.Verify(ctx, Proof{Phone: "08031234567", Code: "000000"}); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for pending check, got %v", err)
	}
	if _, err := pending.Verify(ctx, Proof{Phone: "08031234567"}); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized without code, got %v", err)
	}

	broken := &TwilioVerifier{api: &fakeChecker{err: errors.New("503")}, serviceSID: "VA123", normalizer: n}
	_, err := broken.Verify(ctx, Proof{Phone: "08031234567", Code: "123456"})
	if err == nil || errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected provider failure to propagate as internal error, got %v", err)
	}
}

func TestStaticVerifier(t *testing.T) {
	got, err := Static{}.Verify(context.Background(), Proof{Phone: " 08031234567 "})
	if err != nil || got != "08031234567" {
		t.Fatalf("unexpected result %q %v", got, err)
	}
	if _, err := (Static{}).Verify(context.Background(), Proof{}); !errors.Is(err, apperr.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for empty phone, got %v", err)
	}
}
