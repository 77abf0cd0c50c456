package scheduler

import (
	"context"
	"strings"
	"time"

	"deadlinebot/internal/eventbus"
	"deadlinebot/internal/task/engine"
	logx "deadlinebot/pkg/logx"

	"github.com/robfig/cron/v3"
)

func New(cfg Config, eng *engine.Service, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:    cfg,
		log:    log,
		bus:    bus,
		engine: eng,
		// SecondOptional accepts both 5- and 6-field specs.
		parser:      cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		timers:      map[string]*time.Timer{},
		once:        map[string]*onceDef{},
		lastEnqWarn: map[string]time.Time{},
	}
	s.loc = s.loadLocationLocked()
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Location is the timezone every schedule is evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	oldTZ := strings.TrimSpace(s.cfg.Timezone)
	s.cfg = cfg
	if oldTZ == strings.TrimSpace(cfg.Timezone) {
		return
	}
	s.loc = s.loadLocationLocked()
	if s.c != nil {
		s.restartLocked()
	}
}

// Start begins triggering registered jobs and restores one-shot timers.
func (s *Service) Start(ctx context.Context) {
	_ = ctx

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.loc = s.loadLocationLocked()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		if err := s.addCronLocked(&s.defs[i]); err != nil {
			s.log.Error("schedule register failed", logx.String("name", s.defs[i].name), logx.Err(err))
		}
	}
	s.c.Start()
	s.rebuildOnceTimers()
	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

// Stop halts triggering. Definitions stay and resume on the next Start.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	for i := range s.defs {
		s.defs[i].entryID = 0
	}
	s.mu.Unlock()

	if c != nil {
		select {
		case <-c.Stop().Done():
		case <-ctx.Done():
		}
	}

	s.tmu.Lock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.tmu.Unlock()

	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) restartLocked() {
	<-s.c.Stop().Done()
	s.c = cron.New(cron.WithParser(s.parser), cron.WithLocation(s.loc))
	for i := range s.defs {
		s.defs[i].entryID = 0
		_ = s.addCronLocked(&s.defs[i])
	}
	s.c.Start()
	s.log.Info("scheduler restarted", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// dispatch hands a fired job to the engine.
func (s *Service) dispatch(name string, timeout time.Duration, opt TaskOptions, state *engine.RunState, job func(ctx context.Context) error) {
	if s.engine == nil {
		s.log.Warn("job fired without an engine", logx.String("name", name))
		return
	}
	err := s.engine.Enqueue(engine.Task{
		Name:    name,
		Timeout: timeout,
		Run:     job,
		Opt:     opt,
		State:   state,
	})
	s.reportEnqueueError(name, err)
}
