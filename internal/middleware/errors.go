package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/telmed/telmed/internal/apperr"
)

var statusByKind = []struct {
	kind   error
	status int
}{
	{apperr.ErrNotFound, http.StatusNotFound},
	{apperr.ErrUnauthorized, http.StatusUnauthorized},
	{apperr.ErrInvalid, http.StatusBadRequest},
	{apperr.ErrConflict, http.StatusConflict},
}

type errorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// StatusOf maps an error returned by a handler to its HTTP status.
func StatusOf(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	for _, m := range statusByKind {
		if errors.Is(err, m.kind) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// ErrorHandler renders handler errors as JSON. Domain error kinds map to
// 404/401/400/409; anything unrecognised is logged and reported as a bare 500.
func ErrorHandler(logger *slog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		status := StatusOf(err)
		resp := errorResponse{Error: err.Error(), RequestID: RequestIDFrom(c)}
		var ae *apperr.Error
		if errors.As(err, &ae) {
			resp.Error = ae.Message
			resp.Field = ae.Field
		}
		if status >= http.StatusInternalServerError {
			var fe *fiber.Error
			if !errors.As(err, &fe) {
				logger.ErrorContext(c.UserContext(), "unhandled error",
					slog.String("path", c.Path()),
					slog.String("request_id", resp.RequestID),
					slog.Any("error", err),
				)
				resp.Error = http.StatusText(http.StatusInternalServerError)
			}
		}
		return c.Status(status).JSON(resp)
	}
}
