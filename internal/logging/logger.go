package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the global slog logger.
// In production (ENVIRONMENT=production) it uses JSON output for log aggregation.
// Otherwise it uses the human-readable text handler.
func Init() {
	env := strings.ToLower(os.Getenv("ENVIRONMENT"))

	var handler slog.Handler
	if env == "production" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})
	}

	slog.SetDefault(slog.New(handler))
}

// WithSession returns a logger with connection context fields attached.
// Use this for all logging within the handling of one client session.
func WithSession(connID, clientIP string) *slog.Logger {
	return slog.With(
		"conn_id", connID,
		"client_ip", clientIP,
	)
}

// WithReminder returns a logger scoped to a single reminder.
func WithReminder(logger *slog.Logger, reminderID, task string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return logger.With(
		"reminder_id", reminderID,
		"task", task,
	)
}
