package service

import (
	"context"
	"log/slog"
)

// LogResetNotifier writes reset links to the application log. It stands in
// for mail delivery in development.
type LogResetNotifier struct {
	logger *slog.Logger
}

func NewLogResetNotifier(logger *slog.Logger) *LogResetNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogResetNotifier{logger: logger}
}

func (n *LogResetNotifier) NotifyPasswordReset(ctx context.Context, email, link string) error {
	n.logger.InfoContext(ctx, "password reset link issued", "email", email, "link", link)
	return nil
}
