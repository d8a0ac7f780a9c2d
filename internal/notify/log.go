package notify

import (
	"context"
	"log/slog"

	"github.com/abdulachik/multipost/internal/queue"
)

// LogNotifier writes notifications to the structured log.
type LogNotifier struct{}

// Send logs the notification. Failures are logged at warn level.
func (LogNotifier) Send(ctx context.Context, notification Notification) error {
	level := slog.LevelInfo
	if notification.Status != "" && notification.Status != queue.StatusSuccess {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "notification",
		"subject", notification.Subject,
		"body", notification.Body,
	)
	return nil
}
