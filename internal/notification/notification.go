package notification

import (
	"context"
	"log/slog"
)

const (
	// KindTransferCompleted signals a committed wallet-to-wallet transfer.
	KindTransferCompleted = "transfer_completed"
	// KindTransferFailed signals a transfer rolled back after a remote failure.
	KindTransferFailed = "transfer_failed"
	// KindFundsLocked signals a successful balance reservation.
	KindFundsLocked = "funds_locked"
	// KindFundsReleased signals a successful reservation release.
	KindFundsReleased = "funds_released"
)

// Message describes a wallet event payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers wallet events to downstream systems.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes events to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("wallet event", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}
