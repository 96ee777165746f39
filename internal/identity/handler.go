package identity

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/telmed/telmed/internal/middleware"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Me returns the caller's own profile.
func (h *Handler) Me(c *fiber.Ctx) error {
	id, ok := middleware.IdentityFrom(c)
	if !ok {
		return fiber.NewError(http.StatusUnauthorized, "missing identity")
	}
	profile, err := h.service.Profile(c.UserContext(), id)
	if err != nil {
		return err
	}
	return c.Status(http.StatusOK).JSON(profile)
}
