package proof

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/twilio/twilio-go"
	verify "github.com/twilio/twilio-go/rest/verify/v2"

	"github.com/telmed/telmed/internal/phone"
)

const statusApproved = "approved"

// verificationChecker is the slice of the Twilio Verify API this package uses.
type verificationChecker interface {
	CreateVerificationCheck(serviceSid string, params *verify.CreateVerificationCheckParams) (*verify.VerifyV2VerificationCheck, error)
}

// TwilioConfig holds Twilio Verify credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	ServiceSID string
}

// TwilioVerifier checks a one-time code against Twilio Verify.
type TwilioVerifier struct {
	api        verificationChecker
	serviceSID string
	normalizer phone.Normalizer
}

// NewTwilioVerifier builds a verifier backed by the Twilio REST client.
func NewTwilioVerifier(cfg TwilioConfig, normalizer phone.Normalizer) (*TwilioVerifier, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" || cfg.ServiceSID == "" {
		return nil, errors.New("proof: twilio account sid, auth token and service sid are required")
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioVerifier{api: client.VerifyV2, serviceSID: cfg.ServiceSID, normalizer: normalizer}, nil
}

// Verify submits the code for the normalized phone and accepts only an
// approved check.
func (v *TwilioVerifier) Verify(_ context.Context, p Proof) (string, error) {
	code := strings.TrimSpace(p.Code)
	if code == "" {
		return "", errRejected
	}
	to, err := v.normalizer.Normalize(p.Phone)
	if err != nil {
		return "", err
	}

	params := &verify.CreateVerificationCheckParams{}
	params.SetTo(to)
	params.SetCode(code)
	resp, err := v.api.CreateVerificationCheck(v.serviceSID, params)
	if err != nil {
		return "", fmt.Errorf("proof: twilio verification check: %w", err)
	}
	if resp == nil || resp.Status == nil || *resp.Status != statusApproved {
		return "", errRejected
	}
	return to, nil
}
