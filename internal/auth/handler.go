package auth

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/telmed/telmed/internal/identity"
)

// Handler exposes the login endpoints of one principal kind.
type Handler struct {
	svc  *Service
	kind identity.Kind
}

// NewHandler constructs a login HTTP handler for kind.
func NewHandler(svc *Service, kind identity.Kind) *Handler {
	return &Handler{svc: svc, kind: kind}
}

type phoneRequest struct {
	PhoneNumber string `json:"phone_number"`
}

type phoneResponse struct {
	PrincipalID        string `json:"principal_id"`
	BiometricAvailable bool   `json:"biometric_available"`
}

type sessionResponse struct {
	PrincipalID      string `json:"principal_id"`
	PhoneNumber      string `json:"phone_number"`
	Role             string `json:"role"`
	BiometricEnabled bool   `json:"biometric_enabled"`
	Token            string `json:"token"`
	TokenType        string `json:"token_type"`
	ExpiresIn        int64  `json:"expires_in"`
}

func toSessionResponse(s Session) sessionResponse {
	return sessionResponse{
		PrincipalID:      s.PrincipalID,
		PhoneNumber:      s.Phone,
		Role:             string(s.Role),
		BiometricEnabled: s.BiometricEnabled,
		Token:            s.Token.Raw,
		TokenType:        "Bearer",
		ExpiresIn:        s.Token.ExpiresIn(),
	}
}

// ValidatePhone handles POST /login/phone.
func (h *Handler) ValidatePhone(c *fiber.Ctx) error {
	var req phoneRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	check, err := h.svc.ValidatePhone(c.UserContext(), h.kind, req.PhoneNumber)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(phoneResponse{PrincipalID: check.PrincipalID, BiometricAvailable: check.BiometricAvailable})
}

// VerifyPin handles POST /login/verify.
func (h *Handler) VerifyPin(c *fiber.Ctx) error {
	var req PinInput
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	sess, err := h.svc.VerifyPin(c.UserContext(), h.kind, req)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toSessionResponse(sess))
}

// ForgotPin handles POST /login/forgot-pin.
func (h *Handler) ForgotPin(c *fiber.Ctx) error {
	var req phoneRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	if err := h.svc.RequestPinReset(c.UserContext(), req.PhoneNumber); err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"message": "Verify your phone number to reset your PIN."})
}

// ResetPin handles POST /login/reset-pin.
func (h *Handler) ResetPin(c *fiber.Ctx) error {
	var req ResetPinInput
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}
	sess, err := h.svc.ResetPin(c.UserContext(), req)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(toSessionResponse(sess))
}
