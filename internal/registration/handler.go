package registration

import (
	"context"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/telmed/telmed/internal/identity"
	"github.com/telmed/telmed/internal/middleware"
)

// Handler exposes the registration endpoints of one principal kind.
type Handler struct {
	service *Service
	kind    identity.Kind
}

// NewHandler constructs a registration HTTP handler for kind.
func NewHandler(service *Service, kind identity.Kind) *Handler {
	return &Handler{service: service, kind: kind}
}

type verifyPhoneResponse struct {
	PrincipalID string `json:"id"`
	PhoneNumber string `json:"phone_number"`
	Token       string `json:"token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}

type tokenResponse struct {
	Token     string `json:"token"`
	TokenType string `json:"token_type"`
	ExpiresIn int64  `json:"expires_in"`
}

// VerifyPhone handles POST /register/verify-phone.
func (h *Handler) VerifyPhone(c *fiber.Ctx) error {
	var req VerifyPhoneInput
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	out, err := h.service.VerifyPhone(c.UserContext(), h.kind, req)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(verifyPhoneResponse{
		PrincipalID: out.PrincipalID,
		PhoneNumber: out.Phone,
		Token:       out.Token.Raw,
		TokenType:   "Bearer",
		ExpiresIn:   out.Token.ExpiresIn(),
	})
}

// SaveCategories handles POST /register/categories.
func (h *Handler) SaveCategories() fiber.Handler { return saveStage(h.service.SaveCategories) }

// SaveLanguagePreferences handles POST /register/language-preferences.
func (h *Handler) SaveLanguagePreferences() fiber.Handler {
	return saveStage(h.service.SaveLanguagePreferences)
}

// SavePersonalInfo handles POST /register/personal-info.
func (h *Handler) SavePersonalInfo() fiber.Handler { return saveStage(h.service.SavePersonalInfo) }

// SaveIdentity handles POST /register/identity.
func (h *Handler) SaveIdentity() fiber.Handler { return saveStage(h.service.SaveIdentity) }

// SavePracticeProfile handles POST /register/practice.
func (h *Handler) SavePracticeProfile() fiber.Handler { return saveStage(h.service.SavePracticeProfile) }

// SaveCredentials handles POST /register/credentials.
func (h *Handler) SaveCredentials() fiber.Handler { return saveStage(h.service.SaveCredentials) }

// SaveCompliance handles POST /register/compliance.
func (h *Handler) SaveCompliance() fiber.Handler { return saveStage(h.service.SaveCompliance) }

// SaveSchedule handles POST /register/schedule.
func (h *Handler) SaveSchedule() fiber.Handler { return saveStage(h.service.SaveSchedule) }

// SecuritySetup handles POST /register/security-setup.
func (h *Handler) SecuritySetup(c *fiber.Ctx) error {
	id, err := subject(c)
	if err != nil {
		return err
	}
	var req SecuritySetupInput
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	tok, err := h.service.CompleteSecuritySetup(c.UserContext(), h.kind, id, req)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(tokenResponse{Token: tok.Raw, TokenType: "Bearer", ExpiresIn: tok.ExpiresIn()})
}

// Complete handles POST /register/complete.
func (h *Handler) Complete(c *fiber.Ctx) error {
	id, err := subject(c)
	if err != nil {
		return err
	}
	summary, err := h.service.FinalizeRegistration(c.UserContext(), h.kind, id)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(summary)
}

func saveStage[T any](save func(context.Context, string, T) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := subject(c)
		if err != nil {
			return err
		}
		var req T
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid request body")
		}
		if err := save(c.UserContext(), id, req); err != nil {
			return err
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{"status": "saved"})
	}
}

func subject(c *fiber.Ctx) (string, error) {
	id, ok := middleware.IdentityFrom(c)
	if !ok || id.SubjectID == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "missing identity")
	}
	return id.SubjectID, nil
}
