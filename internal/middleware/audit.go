package middleware

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// Audit emits one structured log per request. Authenticated requests carry
// the principal id and role; server-side failures are logged at error level.
func Audit(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = StatusOf(err)
		}

		attrs := []any{
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.Int("status", status),
			slog.Duration("duration", time.Since(start)),
		}
		if requestID := RequestIDFrom(c); requestID != "" {
			attrs = append(attrs, slog.String("request_id", requestID))
		}
		if id, ok := IdentityFrom(c); ok {
			attrs = append(attrs, slog.String("principal_id", id.SubjectID), slog.String("role", string(id.Role)))
		}
		ctx := c.UserContext()
		if err != nil {
			attrs = append(attrs, slog.Any("error", err))
			level := slog.LevelInfo
			if status >= fiber.StatusInternalServerError {
				level = slog.LevelError
			}
			logger.Log(ctx, level, "request completed", attrs...)
			return err
		}

		logger.InfoContext(ctx, "request completed", attrs...)
		return nil
	}
}
