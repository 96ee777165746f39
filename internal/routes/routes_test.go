package routes

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/telmed/telmed/internal/config"
	"github.com/telmed/telmed/internal/logging"
	"github.com/telmed/telmed/internal/middleware"
)

func testConfig() config.Config {
	return config.Config{
		AppName:          "telmed-test",
		AppEnv:           "test",
		PhoneCountryCode: "+234",
		BcryptCost:       4,
		IdempotencyTTL:   time.Minute,
		JWT: config.JWT{
			Secret:   "0123456789abcdef0123456789abcdef",
			Issuer:   "telmed",
			Audience: "telmed-app",
			TTL:      time.Hour,
			Leeway:   time.Minute,
		},
		RateLimit: config.RateLimit{
			StoreTimeout:       time.Second,
			VerifyMax:          5,
			VerifyWindow:       time.Hour,
			DoctorVerifyMax:    5,
			DoctorVerifyWindow: time.Hour,
			LoginPhoneMax:      10,
			LoginPhoneWindow:   15 * time.Minute,
			LoginPINMax:        5,
			LoginPINWindow:     5 * time.Minute,
			PinResetMax:        5,
			PinResetWindow:     time.Hour,
		},
		Proof: config.Proof{Provider: config.ProofStatic},
	}
}

func newTestApp(t *testing.T) *fiber.App {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	cache := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		cache.Close()
		mr.Close()
	})

	logger := logging.Discard()
	app := fiber.New(fiber.Config{ErrorHandler: middleware.ErrorHandler(logger)})
	if err := Setup(app, Deps{Cfg: testConfig(), Cache: cache, Logger: logger}); err != nil {
		t.Fatalf("setup: %v", err)
	}
	return app
}

func call(t *testing.T, app *fiber.App, method, path, bearer string, body any) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if bearer != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+bearer)
	}
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(raw) > 0 && strings.HasPrefix(resp.Header.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON) {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("decode %s: %v", raw, err)
		}
	}
	return resp.StatusCode, out
}

func mustStatus(t *testing.T, step string, got, want int, body map[string]any) {
	t.Helper()
	if got != want {
		t.Fatalf("%s: expected %d got %d (%v)", step, want, got, body)
	}
}

func verifyPhone(t *testing.T, app *fiber.App, kind, phone string) (string, string) {
	t.Helper()
	status, body := call(t, app, fiber.MethodPost, "/api/v1/"+kind+"/register/verify-phone", "", fiber.Map{"phone_number": phone})
	mustStatus(t, "verify-phone", status, fiber.StatusOK, body)
	return body["id"].(string), body["token"].(string)
}

// registerPatient walks every patient stage and returns the session token
// issued by security setup.
func registerPatient(t *testing.T, app *fiber.App, phone string) string {
	t.Helper()
	_, tok := verifyPhone(t, app, "patients", phone)
	steps := []struct {
		path string
		body fiber.Map
	}{
		{"categories", fiber.Map{"categories": []string{"Cardiology", "Dermatology", "Nutrition"}}},
		{"language-preferences", fiber.Map{"preferred_language": "English", "communication_tone": "Friendly"}},
		{"personal-info", fiber.Map{
			"first_name": "Ada", "date_of_birth": "1990-04-01", "sex_at_birth": "Female", "agrees_to_terms": true,
		}},
		{"security-setup", fiber.Map{
			"pin": "12345",
			"emergency_contacts": []fiber.Map{
				{"name": "Chidi", "phone_number": "08030000001", "relationship": "Brother"},
			},
		}},
	}
	var session string
	for _, s := range steps {
		status, body := call(t, app, fiber.MethodPost, "/api/v1/patients/register/"+s.path, tok, s.body)
		mustStatus(t, s.path, status, fiber.StatusOK, body)
		if s.path == "security-setup" {
			session = body["token"].(string)
		}
	}
	return session
}

func TestPatientRegistrationAndLogin(t *testing.T) {
	app := newTestApp(t)
	tok := registerPatient(t, app, "08031234567")

	status, body := call(t, app, fiber.MethodPost, "/api/v1/patients/register/complete", tok, nil)
	mustStatus(t, "complete", status, fiber.StatusOK, body)
	if body["registration_stage"] != "complete" || body["phone_number"] != "+2348031234567" {
		t.Fatalf("unexpected summary %v", body)
	}

	status, body = call(t, app, fiber.MethodGet, "/api/v1/me", tok, nil)
	mustStatus(t, "me", status, fiber.StatusOK, body)
	if body["role"] != "Patient" || body["first_name"] != "Ada" {
		t.Fatalf("unexpected profile %v", body)
	}

	status, body = call(t, app, fiber.MethodPost, "/api/v1/patients/login/phone", "", fiber.Map{"phone_number": "+2348031234567"})
	mustStatus(t, "login phone", status, fiber.StatusOK, body)
	principalID := body["principal_id"].(string)

	status, body = call(t, app, fiber.MethodPost, "/api/v1/patients/login/verify", "", fiber.Map{"principal_id": principalID, "pin": "54321"})
	mustStatus(t, "wrong pin", status, fiber.StatusUnauthorized, body)

	status, body = call(t, app, fiber.MethodPost, "/api/v1/patients/login/verify", "", fiber.Map{"principal_id": principalID, "pin": "12345"})
	mustStatus(t, "login verify", status, fiber.StatusOK, body)
	if body["token"] == "" || body["role"] != "Patient" || body["token_type"] != "Bearer" {
		t.Fatalf("unexpected session %v", body)
	}
}

func TestInterimTokenCannotReadProfile(t *testing.T) {
	app := newTestApp(t)
	_, interim := verifyPhone(t, app, "patients", "08031118888")

	status, body := call(t, app, fiber.MethodGet, "/api/v1/me", interim, nil)
	mustStatus(t, "me with interim token", status, fiber.StatusForbidden, body)

	status, body = call(t, app, fiber.MethodPost, "/api/v1/patients/register/categories", interim, fiber.Map{
		"categories": []string{"Cardiology", "Dermatology", "Nutrition"},
	})
	mustStatus(t, "stage with interim token", status, fiber.StatusOK, body)
}

func TestLoginFailuresLookAlike(t *testing.T) {
	app := newTestApp(t)
	verifyPhone(t, app, "patients", "08035550000")

	_, unknown := call(t, app, fiber.MethodPost, "/api/v1/patients/login/phone", "", fiber.Map{"phone_number": "08039999999"})
	status, incomplete := call(t, app, fiber.MethodPost, "/api/v1/patients/login/phone", "", fiber.Map{"phone_number": "08035550000"})
	mustStatus(t, "incomplete", status, fiber.StatusUnauthorized, incomplete)
	if unknown["error"] != incomplete["error"] {
		t.Fatalf("expected identical errors, got %v and %v", unknown, incomplete)
	}
}

func TestDoctorAwaitsApprovalBeforeLogin(t *testing.T) {
	app := newTestApp(t)
	_, tok := verifyPhone(t, app, "doctors", "08021112222")

	steps := []struct {
		path string
		body fiber.Map
	}{
		{"identity", fiber.Map{
			"legal_name": "Dr Ngozi Okafor", "sex": "Female", "email": "Ngozi@Example.com",
			"residential_address": "1 Marina", "state": "Lagos", "lga": "Ikeja",
			"next_of_kin": fiber.Map{"name": "Emeka", "relationship": "Spouse", "phone_number": "08020000000"},
		}},
		{"practice", fiber.Map{
			"specialty": "Cardiology", "current_workplace": "LUTH",
			"languages": []fiber.Map{{"name": "English", "proficiency": "Fluent"}},
		}},
		{"credentials", fiber.Map{"medical_license": "blob://license", "mdcn_certificate": "blob://mdcn"}},
		{"compliance", fiber.Map{"accept_terms": true, "accept_privacy": true, "accept_data_use": true, "accept_telemedicine": true}},
		{"schedule", fiber.Map{"preferred_interview": time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339)}},
		{"security-setup", fiber.Map{"pin": "24680"}},
	}
	for _, s := range steps {
		status, body := call(t, app, fiber.MethodPost, "/api/v1/doctors/register/"+s.path, tok, s.body)
		mustStatus(t, s.path, status, fiber.StatusOK, body)
	}

	status, body := call(t, app, fiber.MethodPost, "/api/v1/doctors/register/complete", tok, nil)
	mustStatus(t, "complete", status, fiber.StatusOK, body)
	if body["message"] != "Registration completed. Awaiting admin approval." {
		t.Fatalf("unexpected summary %v", body)
	}

	status, body = call(t, app, fiber.MethodPost, "/api/v1/doctors/login/phone", "", fiber.Map{"phone_number": "08021112222"})
	mustStatus(t, "pending doctor login", status, fiber.StatusUnauthorized, body)
}

func TestStageRoutesGuardRole(t *testing.T) {
	app := newTestApp(t)
	_, patientToken := verifyPhone(t, app, "patients", "08031230000")

	status, body := call(t, app, fiber.MethodPost, "/api/v1/doctors/register/identity", patientToken, fiber.Map{})
	mustStatus(t, "patient token on doctor route", status, fiber.StatusForbidden, body)

	status, body = call(t, app, fiber.MethodPost, "/api/v1/patients/register/categories", "", fiber.Map{})
	mustStatus(t, "missing token", status, fiber.StatusUnauthorized, body)

	status, body = call(t, app, fiber.MethodPost, "/api/v1/patients/register/personal-info", patientToken, fiber.Map{
		"first_name": "Ada", "date_of_birth": "1990-04-01", "sex_at_birth": "Female", "agrees_to_terms": true,
	})
	mustStatus(t, "out of order stage", status, fiber.StatusBadRequest, body)
	if body["field"] != "stage" {
		t.Fatalf("expected stage field, got %v", body)
	}
}

func TestValidationErrorsNameTheField(t *testing.T) {
	app := newTestApp(t)
	_, tok := verifyPhone(t, app, "patients", "08031239999")

	status, body := call(t, app, fiber.MethodPost, "/api/v1/patients/register/categories", tok, fiber.Map{"categories": []string{""}})
	mustStatus(t, "empty category", status, fiber.StatusBadRequest, body)
	if body["field"] != "categories[0]" {
		t.Fatalf("expected categories[0], got %v", body)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	app := newTestApp(t)

	status, body := call(t, app, fiber.MethodGet, "/healthz", "", nil)
	mustStatus(t, "healthz", status, fiber.StatusOK, body)
	deps := body["status"].(map[string]any)
	if deps["redis"] != "ok" || deps["postgres"] != notConfigured {
		t.Fatalf("unexpected health %v", body)
	}

	resp, err := app.Test(httptest.NewRequest(fiber.MethodGet, "/metrics", nil))
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || !strings.Contains(string(raw), "go_goroutines") {
		t.Fatalf("unexpected metrics response %d", resp.StatusCode)
	}
}

func TestSetupRequiresStoresOutsideDevelopment(t *testing.T) {
	cfg := testConfig()
	cfg.AppEnv = "production"
	err := Setup(fiber.New(), Deps{Cfg: cfg, Logger: logging.Discard()})
	if err == nil || !strings.Contains(err.Error(), "database is required") {
		t.Fatalf("expected database requirement, got %v", err)
	}
}
