package reminder

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"deadlinebot/internal/deadline"
	"deadlinebot/internal/domain"
	"deadlinebot/internal/eventbus"
	logx "deadlinebot/pkg/logx"
)

const (
	jobPrefix     = "reminder:user:"
	testJobPrefix = "test-reminder:"

	DefaultDailyAt          = "09:00"
	DefaultSweepConcurrency = 4
)

var ErrUserNotFound = errors.New("user not found")

// Records is the read side of the row store.
type Records interface {
	Users(ctx context.Context) ([]domain.User, error)
	User(ctx context.Context, id int64) (domain.User, bool, error)
	Tasks(ctx context.Context, group string) ([]domain.Task, error)
}

// JobScheduler holds named daily and one-shot jobs.
type JobScheduler interface {
	ScheduleDaily(name string, firstFire time.Time, payload any, fn func(ctx context.Context, payload any) error) error
	ScheduleOnce(name string, at time.Time, payload any, fn func(ctx context.Context, payload any) error) error
	CancelAllNamed(match func(name string) bool) int
}

// Notifier delivers a digest. Identical text under one scope inside the
// dedup window is sent once.
type Notifier interface {
	Send(ctx context.Context, userID int64, scope, text string) error
}

type Config struct {
	// DailyAt is the HH:MM wall-clock time digests are sent at.
	DailyAt string
	// Location is the fixed timezone dates are resolved in.
	Location         *time.Location
	SweepConcurrency int
	// TestDelay is used by SendTestReminder when no delay is given.
	TestDelay time.Duration
}

// Outcome is what a reschedule left behind for one user.
type Outcome int

const (
	OutcomeScheduled Outcome = iota
	OutcomeEmpty
	OutcomeDisabled
	OutcomeNoGroup
	OutcomeNoUser
)

func (o Outcome) String() string {
	switch o {
	case OutcomeScheduled:
		return "scheduled"
	case OutcomeEmpty:
		return "empty"
	case OutcomeDisabled:
		return "disabled"
	case OutcomeNoGroup:
		return "no_group"
	case OutcomeNoUser:
		return "no_user"
	default:
		return "unknown"
	}
}

// Payload is the snapshot a reminder job carries.
type Payload struct {
	UserID   int64           `json:"user_id"`
	Language domain.Language `json:"language"`
	Items    []deadline.Item `json:"items"`
}

// ScheduledEvent is published when a user's job is registered or cleared.
type ScheduledEvent struct {
	UserID    int64     `json:"user_id"`
	Outcome   string    `json:"outcome"`
	Items     int       `json:"items"`
	FirstFire time.Time `json:"first_fire,omitzero"`
}

type Service struct {
	log    logx.Logger
	bus    eventbus.Bus
	recs   Records
	jobs   JobScheduler
	notify Notifier

	mu           sync.Mutex
	loc          *time.Location
	hour, minute int
	concurrency  int
	testDelay    time.Duration

	users keyedMutex
	now   func() time.Time
}

func New(cfg Config, recs Records, jobs JobScheduler, notify Notifier, log logx.Logger, bus eventbus.Bus) (*Service, error) {
	if recs == nil || jobs == nil || notify == nil {
		return nil, errors.New("reminder: records, scheduler and notifier are required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{log: log, bus: bus, recs: recs, jobs: jobs, notify: notify, now: time.Now}
	if err := s.Apply(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Apply changes the daily time, timezone, sweep concurrency and test delay. Existing
// jobs keep their schedule until the next reschedule.
func (s *Service) Apply(cfg Config) error {
	at := strings.TrimSpace(cfg.DailyAt)
	if at == "" {
		at = DefaultDailyAt
	}
	h, m, err := domain.ParseHHMM(at)
	if err != nil {
		return fmt.Errorf("reminder daily time %q: %w", at, err)
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	n := cfg.SweepConcurrency
	if n <= 0 {
		n = DefaultSweepConcurrency
	}
	delay := cfg.TestDelay
	if delay <= 0 {
		delay = DefaultTestDelay
	}
	s.mu.Lock()
	s.loc, s.hour, s.minute, s.concurrency = loc, h, m, n
	s.testDelay = delay
	s.mu.Unlock()
	return nil
}

func (s *Service) settings() (loc *time.Location, hour, minute int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc, s.hour, s.minute
}

// Now is the current time in the fixed timezone.
func (s *Service) Now() time.Time {
	loc, _, _ := s.settings()
	return s.now().In(loc)
}

// JobName is the name of userID's daily reminder job.
func JobName(userID int64) string { return jobPrefix + strconv.FormatInt(userID, 10) }

// TestJobName is the name of userID's one-shot test reminder.
func TestJobName(userID int64) string { return testJobPrefix + strconv.FormatInt(userID, 10) }

// ParseJobName returns the user id of a daily reminder job name.
func ParseJobName(name string) (int64, bool) {
	rest, ok := strings.CutPrefix(name, jobPrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	return id, err == nil
}

// NextFire is the next occurrence of the daily time strictly after now.
func (s *Service) NextFire(now time.Time) time.Time {
	loc, h, m := s.settings()
	now = now.In(loc)
	at := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, loc)
	if !at.After(now) {
		at = time.Date(now.Year(), now.Month(), now.Day()+1, h, m, 0, 0, loc)
	}
	return at
}

// Reschedule replaces userID's reminder job with one built from current
// rows. It leaves no job when the user is unknown, has reminders off, has
// no group or has nothing due within the horizon. A store error leaves no
// job; the next sweep retries.
func (s *Service) Reschedule(ctx context.Context, userID int64) error {
	_, err := s.reschedule(ctx, userID)
	return err
}

func (s *Service) reschedule(ctx context.Context, userID int64) (Outcome, error) {
	unlock := s.users.Lock(userID)
	defer unlock()

	// The fire time is fixed before the old job goes away, so slow store
	// reads that cross the daily time still produce today's fire.
	now := s.Now()
	name := JobName(userID)
	s.jobs.CancelAllNamed(func(n string) bool { return n == name })

	u, ok, err := s.recs.User(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("load user %d: %w", userID, err)
	}
	if !ok {
		return s.cleared(userID, OutcomeNoUser), nil
	}
	if !u.RemindersEnabled {
		return s.cleared(userID, OutcomeDisabled), nil
	}
	if strings.TrimSpace(u.Group) == "" {
		return s.cleared(userID, OutcomeNoGroup), nil
	}

	items, err := s.build(ctx, u, now)
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return s.cleared(userID, OutcomeEmpty), nil
	}

	first := s.NextFire(now)
	p := Payload{UserID: userID, Language: u.Language, Items: items}
	if err := s.jobs.ScheduleDaily(name, first, p, s.fire); err != nil {
		s.log.Warn("reminder schedule failed", logx.UserID(userID), logx.Err(err))
		return 0, fmt.Errorf("schedule %s: %w", name, err)
	}
	s.log.Debug("reminder scheduled", logx.UserID(userID), logx.Int("items", len(items)), logx.Time("first_fire", first))
	s.publish(eventbus.ReminderScheduled, ScheduledEvent{UserID: userID, Outcome: OutcomeScheduled.String(), Items: len(items), FirstFire: first})
	return OutcomeScheduled, nil
}

func (s *Service) build(ctx context.Context, u domain.User, now time.Time) ([]deadline.Item, error) {
	tasks, err := s.recs.Tasks(ctx, u.Group)
	if err != nil {
		return nil, fmt.Errorf("load tasks for user %d: %w", u.ID, err)
	}
	return deadline.Build(tasks, u.Group, now), nil
}

func (s *Service) cleared(userID int64, o Outcome) Outcome {
	s.log.Debug("reminder cleared", logx.UserID(userID), logx.String("outcome", o.String()))
	s.publish(eventbus.ReminderCleared, ScheduledEvent{UserID: userID, Outcome: o.String()})
	return o
}

func (s *Service) publish(typ string, data any) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: data})
}
