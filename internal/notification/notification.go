package notification

import (
	"context"
	"log/slog"

	"github.com/telmed/telmed/internal/logging"
)

const (
	// KindRegistrationComplete is sent once a principal finishes security setup.
	KindRegistrationComplete = "registration_complete"
	// KindPinReset is sent after a PIN was replaced through the reset flow.
	KindPinReset = "pin_reset"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	PrincipalID string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier writes notifications to the structured logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message with the destination phone masked.
func (n *LoggerNotifier) Send(ctx context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.InfoContext(ctx, "notification",
		slog.String("kind", message.Kind),
		slog.String("principal_id", message.PrincipalID),
		logging.Phone(message.Destination),
		slog.String("body", message.Body),
	)
	return nil
}
