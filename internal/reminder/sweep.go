package reminder

import (
	"context"
	"strings"
	"sync"
	"time"

	"deadlinebot/internal/domain"
	"deadlinebot/internal/eventbus"
	logx "deadlinebot/pkg/logx"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultSweepEvery = 5 * time.Minute
	DefaultSweepDaily = "00:05"

	sweepIntervalJob = "reminder.sweep.interval"
	sweepDailyJob    = "reminder.sweep.daily"
)

// SweepReport counts the outcomes of one sweep or group trigger.
type SweepReport struct {
	Users     int           `json:"users"`
	Scheduled int           `json:"scheduled"`
	Empty     int           `json:"empty"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Took      time.Duration `json:"took"`
	// Err is set when the user list itself could not be read.
	Err error `json:"-"`
}

// RunSweepOnce reschedules every user with reminders enabled. A failure
// for one user is counted and logged; the sweep goes on with the rest.
func (s *Service) RunSweepOnce(ctx context.Context) SweepReport {
	rep := s.rescheduleWhere(ctx, func(u domain.User) bool { return u.RemindersEnabled })
	s.log.Info("reminder sweep finished",
		logx.Int("users", rep.Users),
		logx.Int("scheduled", rep.Scheduled),
		logx.Int("empty", rep.Empty),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.Took),
	)
	s.publish(eventbus.SweepFinished, rep)
	return rep
}

// OnTaskMutated reschedules every enabled user of group after a task was
// added to or deleted from it.
func (s *Service) OnTaskMutated(ctx context.Context, group string) SweepReport {
	group = strings.TrimSpace(group)
	rep := s.rescheduleWhere(ctx, func(u domain.User) bool {
		return u.RemindersEnabled && u.Group == group
	})
	s.log.Debug("group reminders refreshed", logx.Group(group), logx.Int("users", rep.Users), logx.Int("failed", rep.Failed))
	return rep
}

// OnUserPreferenceChanged reschedules one user synchronously after a
// toggle or a group change.
func (s *Service) OnUserPreferenceChanged(ctx context.Context, userID int64) error {
	o, err := s.reschedule(ctx, userID)
	if err != nil {
		s.log.Warn("reminder reschedule failed", logx.UserID(userID), logx.Err(err))
		return err
	}
	s.log.Debug("user reminders refreshed", logx.UserID(userID), logx.String("outcome", o.String()))
	return nil
}

func (s *Service) rescheduleWhere(ctx context.Context, match func(domain.User) bool) SweepReport {
	start := s.now()
	var rep SweepReport

	users, err := s.recs.Users(ctx)
	if err != nil {
		s.log.Warn("reminder sweep could not read users", logx.Err(err))
		rep.Err = err
		rep.Took = s.now().Sub(start)
		return rep
	}

	s.mu.Lock()
	limit := s.concurrency
	s.mu.Unlock()

	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(limit)
	for _, u := range users {
		if !match(u) {
			continue
		}
		rep.Users++
		g.Go(func() error {
			o, err := s.reschedule(ctx, u.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				rep.Failed++
				s.log.Warn("reminder reschedule failed", logx.UserID(u.ID), logx.Err(err))
			case o == OutcomeScheduled:
				rep.Scheduled++
			case o == OutcomeEmpty:
				rep.Empty++
			default:
				rep.Skipped++
			}
			// Never abort the group: one user's failure is not the sweep's.
			return nil
		})
	}
	_ = g.Wait()
	rep.Took = s.now().Sub(start)
	return rep
}

// SweepRegistrar registers the periodic sweep jobs.
type SweepRegistrar interface {
	AddInterval(name string, every, timeout time.Duration, job func(ctx context.Context) error) error
	AddDaily(name, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) error
}

// RegisterSweeps runs the sweep every interval and once a day at dailyAt.
// Zero values fall back to every 5 minutes and 00:05.
func (s *Service) RegisterSweeps(reg SweepRegistrar, every time.Duration, dailyAt string, timeout time.Duration) error {
	if every <= 0 {
		every = DefaultSweepEvery
	}
	if strings.TrimSpace(dailyAt) == "" {
		dailyAt = DefaultSweepDaily
	}
	job := func(ctx context.Context) error {
		s.RunSweepOnce(ctx)
		return nil
	}
	if err := reg.AddInterval(sweepIntervalJob, every, timeout, job); err != nil {
		return err
	}
	return reg.AddDaily(sweepDailyJob, dailyAt, timeout, job)
}
