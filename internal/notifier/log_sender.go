package notifier

import (
	"context"

	logx "deadlinebot/pkg/logx"
)

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	Log logx.Logger
}

func (l LogSender) SendText(_ context.Context, chatID int64, text string) error {
	l.Log.Info("dry-run message", logx.Int64("chat_id", chatID), logx.Int("len", len(text)), logx.String("text", text))
	return nil
}
