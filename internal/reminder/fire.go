package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deadlinebot/internal/deadline"
	"deadlinebot/internal/domain"
	"deadlinebot/internal/eventbus"
	"deadlinebot/internal/task/engine"
	logx "deadlinebot/pkg/logx"
)

const DefaultTestDelay = 5 * time.Second

// FiredEvent is published after a digest send attempt.
type FiredEvent struct {
	UserID int64  `json:"user_id"`
	Items  int    `json:"items"`
	Test   bool   `json:"test,omitempty"`
	Error  string `json:"error,omitempty"`
}

// fire is the callback of the daily job. Notifier failures are not
// retried by the engine; tomorrow's fire is the retry.
func (s *Service) fire(ctx context.Context, payload any) error {
	p, ok := payload.(Payload)
	if !ok {
		return engine.NoRetry(fmt.Errorf("reminder payload has type %T", payload))
	}
	if len(p.Items) == 0 {
		return nil
	}
	return s.deliver(ctx, p, false)
}

// fireTest always sends, including the "nothing upcoming" digest.
func (s *Service) fireTest(ctx context.Context, payload any) error {
	p, ok := payload.(Payload)
	if !ok {
		return engine.NoRetry(fmt.Errorf("test reminder payload has type %T", payload))
	}
	return s.deliver(ctx, p, true)
}

func (s *Service) deliver(ctx context.Context, p Payload, test bool) error {
	text := Render(p.Language, p.Items)
	scope := JobName(p.UserID)
	if test {
		scope = TestJobName(p.UserID)
	}
	err := s.notify.Send(ctx, p.UserID, scope, text)
	ev := FiredEvent{UserID: p.UserID, Items: len(p.Items), Test: test}
	if err != nil {
		ev.Error = err.Error()
		s.publish(eventbus.ReminderFired, ev)
		s.log.Warn("reminder send failed", logx.UserID(p.UserID), logx.Bool("test", test), logx.Err(err))
		return engine.NoRetry(err)
	}
	s.publish(eventbus.ReminderFired, ev)
	s.log.Info("reminder sent", logx.UserID(p.UserID), logx.Int("items", len(p.Items)), logx.Bool("test", test))
	return nil
}

// SendTestReminder schedules a one-shot digest of the user's current set
// after delay. An empty set still produces a message. The daily job is
// left alone.
func (s *Service) SendTestReminder(ctx context.Context, userID int64, delay time.Duration) (time.Time, error) {
	if delay <= 0 {
		s.mu.Lock()
		delay = s.testDelay
		s.mu.Unlock()
	}
	pv, err := s.Preview(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	at := s.now().Add(delay)
	p := Payload{UserID: userID, Language: pv.User.Language, Items: pv.Items}
	if err := s.jobs.ScheduleOnce(TestJobName(userID), at, p, s.fireTest); err != nil {
		return time.Time{}, fmt.Errorf("schedule test reminder: %w", err)
	}
	s.log.Info("test reminder scheduled", logx.UserID(userID), logx.Time("at", at), logx.Int("items", len(p.Items)))
	return at, nil
}

// Preview is a user's reminder set as it would be scheduled now.
type Preview struct {
	User     domain.User     `json:"user"`
	Items    []deadline.Item `json:"items"`
	Text     string          `json:"text"`
	NextFire time.Time       `json:"next_fire,omitzero"`
}

// Preview builds userID's current set and digest without touching jobs.
// NextFire is zero when Reschedule would leave no job.
func (s *Service) Preview(ctx context.Context, userID int64) (Preview, error) {
	now := s.Now()
	u, ok, err := s.recs.User(ctx, userID)
	if err != nil {
		return Preview{}, fmt.Errorf("load user %d: %w", userID, err)
	}
	if !ok {
		return Preview{}, fmt.Errorf("%w: %d", ErrUserNotFound, userID)
	}
	var items []deadline.Item
	if strings.TrimSpace(u.Group) != "" {
		if items, err = s.build(ctx, u, now); err != nil {
			return Preview{}, err
		}
	}
	pv := Preview{User: u, Items: items, Text: Render(u.Language, items)}
	if u.RemindersEnabled && len(items) > 0 {
		pv.NextFire = s.NextFire(now)
	}
	return pv, nil
}
