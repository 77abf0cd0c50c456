// Package telegram delivers messages through the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	logx "deadlinebot/pkg/logx"

	tele "gopkg.in/telebot.v4"
)

type Config struct {
	Token          string
	ParseMode      string // "Markdown" (default), "HTML" or "none"
	DisablePreview bool
	// Offline skips the getMe call on construction.
	Offline bool
}

// Sender sends text messages to Telegram chats. It does not poll for
// updates.
type Sender struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot
}

func New(cfg Config, log logx.Logger) (*Sender, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   strings.TrimSpace(cfg.Token),
		Offline: cfg.Offline,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	if b.Me != nil && b.Me.Username != "" {
		log.Info("telegram bot ready", logx.String("username", b.Me.Username))
	}
	return &Sender{cfg: cfg, log: log, bot: b}, nil
}

func (s *Sender) parseMode() tele.ParseMode {
	switch strings.ToLower(strings.TrimSpace(s.cfg.ParseMode)) {
	case "", "markdown":
		return tele.ModeMarkdown
	case "html":
		return tele.ModeHTML
	default:
		return tele.ModeDefault
	}
}

// SendText sends text to chatID, split into chunks of at most
// textLimit runes. A flood-control reply is returned as an error
// carrying the server's retry hint.
func (s *Sender) SendText(ctx context.Context, chatID int64, text string) error {
	mode := s.parseMode()
	chunks := splitText(text, textLimit, string(mode))
	chat := &tele.Chat{ID: chatID}
	for i, chunk := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := s.bot.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             mode,
			DisableWebPagePreview: s.cfg.DisablePreview,
		})
		if err != nil {
			s.log.Debug("telegram send failed", logx.Int64("chat_id", chatID), logx.Int("chunk", i), logx.Int("chunks", len(chunks)), logx.Err(err))
			return classify(err)
		}
	}
	return nil
}

// FloodError reports a Telegram 429 with the wait the server asked for.
type FloodError struct {
	After time.Duration
	Err   error
}

func (e *FloodError) Error() string {
	return fmt.Sprintf("telegram flood control, retry after %s: %v", e.After, e.Err)
}
func (e *FloodError) Unwrap() error             { return e.Err }
func (e *FloodError) RetryAfter() time.Duration { return e.After }

func classify(err error) error {
	var fe tele.FloodError
	if errors.As(err, &fe) {
		return &FloodError{After: time.Duration(fe.RetryAfter) * time.Second, Err: err}
	}
	var fp *tele.FloodError
	if errors.As(err, &fp) && fp != nil {
		return &FloodError{After: time.Duration(fp.RetryAfter) * time.Second, Err: err}
	}
	return err
}
