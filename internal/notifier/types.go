package notifier

import (
	"context"
	"time"
)

// Sender delivers text to a chat. Implementations may return a rate-limit
// hint through a RetryAfter() time.Duration method on the error.
type Sender interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

// Config controls rate limiting, retry and dedup.
type Config struct {
	Enabled         bool
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	SendTimeout     time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
}

type HistoryItem struct {
	At     time.Time `json:"at"`
	UserID int64     `json:"user_id"`
	Text   string    `json:"text"`
}

// NotificationEvent is published on the event bus for sent, failed and
// deduped messages.
type NotificationEvent struct {
	UserID   int64     `json:"user_id"`
	Key      string    `json:"key"`
	At       time.Time `json:"at"`
	Attempts int       `json:"attempts,omitempty"`
	Error    string    `json:"error,omitempty"`
}
