package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/telmed/telmed/internal/token"
)

const identityLocal = "identity"

// TokenValidator validates a raw bearer token.
type TokenValidator interface {
	Validate(raw string) (token.Identity, error)
}

// JWTAuth validates the bearer token and stores the resulting identity for
// downstream handlers. When roles are given the token role must be one of them.
func JWTAuth(validator TokenValidator, roles ...token.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		id, err := validator.Validate(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		if len(roles) > 0 && !hasRole(roles, id.Role) {
			return fiber.NewError(http.StatusForbidden, "token role not permitted")
		}
		c.Locals(identityLocal, id)
		return c.Next()
	}
}

// RequireSession rejects interim registration tokens. It must run after JWTAuth.
func RequireSession() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := IdentityFrom(c)
		if !ok {
			return fiber.NewError(http.StatusUnauthorized, "missing identity")
		}
		if id.Scope != token.ScopeSession {
			return fiber.NewError(http.StatusForbidden, "registration token cannot access this route")
		}
		return c.Next()
	}
}

// IdentityFrom returns the identity stored by JWTAuth.
func IdentityFrom(c *fiber.Ctx) (token.Identity, bool) {
	id, ok := c.Locals(identityLocal).(token.Identity)
	return id, ok
}

func hasRole(roles []token.Role, role token.Role) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}
