package events

import (
	"context"

	"go.uber.org/zap"
)

// RegisterAuditLog subscribes a handler that writes every account event to the log.
func RegisterAuditLog(d Dispatcher, logger *zap.Logger) {
	handler := func(_ context.Context, event Event) error {
		fields := []zap.Field{
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)),
			zap.Int64("account_id", event.AccountID),
			zap.Time("at", event.Timestamp),
		}
		if event.Payload != nil {
			fields = append(fields, zap.Any("payload", event.Payload))
		}
		logger.Info("account event", fields...)
		return nil
	}

	for _, t := range []EventType{
		EventAccountRegistered,
		EventAccountLoggedIn,
		EventProfileUpdated,
		EventPasswordChanged,
	} {
		d.Subscribe(t, handler)
	}
}
