package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"deadlinebot/internal/domain"
	"deadlinebot/internal/task/engine"
	logx "deadlinebot/pkg/logx"

	"github.com/robfig/cron/v3"
)

func (s *Service) AddCronOpt(name, spec string, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) error {
	if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("cron spec %q: %w", spec, err)
	}
	return s.upsert(scheduleDef{name: name, kind: KindCron, spec: spec, timeout: timeout, job: job, opt: opt})
}

func (s *Service) AddInterval(name string, every, timeout time.Duration, job func(ctx context.Context) error) error {
	return s.AddIntervalOpt(name, every, timeout, TaskOptions{Overlap: OverlapSkipIfRunning}, job)
}

func (s *Service) AddIntervalOpt(name string, every, timeout time.Duration, opt TaskOptions, job func(ctx context.Context) error) error {
	if every <= 0 {
		return errors.New("interval must be > 0")
	}
	return s.upsert(scheduleDef{name: name, kind: KindInterval, spec: "@every " + every.String(), timeout: timeout, job: job, opt: opt})
}

// AddDaily runs job every day at HH:MM in the scheduler timezone.
func (s *Service) AddDaily(name, atHHMM string, timeout time.Duration, job func(ctx context.Context) error) error {
	h, m, err := domain.ParseHHMM(atHHMM)
	if err != nil {
		return err
	}
	return s.AddCronOpt(name, fmt.Sprintf("%d %d * * *", m, h), timeout, TaskOptions{Overlap: OverlapSkipIfRunning}, job)
}

// ScheduleDaily registers a job that fires first at firstFire and then
// every day at the same wall-clock time. A firstFire that passed less than
// lateFireGrace ago fires immediately. payload is handed to fn on every
// fire. A job with the same name is replaced.
func (s *Service) ScheduleDaily(name string, firstFire time.Time, payload any, fn func(ctx context.Context, payload any) error) error {
	if fn == nil {
		return errors.New("job required")
	}
	if firstFire.IsZero() {
		return errors.New("first fire time required")
	}
	local := firstFire.In(s.Location())
	return s.upsert(scheduleDef{
		name:    name,
		kind:    KindDaily,
		spec:    fmt.Sprintf("%d %d * * *", local.Minute(), local.Hour()),
		first:   local,
		payload: payload,
		job:     func(ctx context.Context) error { return fn(ctx, payload) },
		opt:     TaskOptions{Overlap: OverlapSkipIfRunning},
	})
}

func (s *Service) upsert(d scheduleDef) error {
	d.name = strings.TrimSpace(d.name)
	if d.name == "" {
		return errors.New("name required")
	}
	if d.job == nil {
		return errors.New("job required")
	}
	d.state = &engine.RunState{}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeScheduleLocked(d.name)
	s.removeOnce(d.name)
	s.defs = append(s.defs, d)
	if s.c == nil {
		// Registered on Start.
		return nil
	}
	def := &s.defs[len(s.defs)-1]
	if err := s.addCronLocked(def); err != nil {
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		return err
	}
	if s.log.Enabled(logx.LevelDebug) {
		s.log.Debug("schedule registered", logx.String("name", d.name), logx.String("kind", string(d.kind)), logx.String("spec", d.spec), logx.Time("next", s.c.Entry(def.entryID).Next))
	}
	return nil
}

// ScheduleOnce runs fn once at at with payload. A job with the same name
// is replaced.
func (s *Service) ScheduleOnce(name string, at time.Time, payload any, fn func(ctx context.Context, payload any) error) error {
	if fn == nil {
		return errors.New("job required")
	}
	return s.addOnce(name, at, 0, payload, func(ctx context.Context) error { return fn(ctx, payload) })
}

func (s *Service) addOnce(name string, at time.Time, timeout time.Duration, payload any, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if at.IsZero() {
		return errors.New("at required")
	}
	if job == nil {
		return errors.New("job required")
	}

	s.mu.Lock()
	s.removeScheduleLocked(name)
	running := s.c != nil
	loc := s.loc
	s.mu.Unlock()

	s.tmu.Lock()
	defer s.tmu.Unlock()
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
	}
	s.seq++
	s.once[name] = &onceDef{at: at.In(loc), timeout: timeout, job: job, payload: payload, ver: s.seq}
	if running {
		s.armOnceLocked(name)
	}
	return nil
}

// armOnceLocked starts the timer for a one-shot definition. Call with s.tmu held.
func (s *Service) armOnceLocked(name string) {
	def := s.once[name]
	if def == nil {
		return
	}
	ver := def.ver
	s.timers[name] = time.AfterFunc(max(time.Until(def.at), 0), func() {
		s.tmu.Lock()
		cur := s.once[name]
		// Replaced or removed since this timer was armed.
		if cur == nil || cur.ver != ver {
			s.tmu.Unlock()
			return
		}
		delete(s.once, name)
		delete(s.timers, name)
		s.tmu.Unlock()
		s.dispatch(name, cur.timeout, TaskOptions{}, &engine.RunState{}, cur.job)
	})
}

func (s *Service) rebuildOnceTimers() {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	for name := range s.once {
		s.armOnceLocked(name)
	}
}

// Remove unschedules every job named name. It reports whether one existed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.mu.Lock()
	removed := s.removeScheduleLocked(name)
	s.mu.Unlock()
	if s.removeOnce(name) {
		removed = true
	}
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// CancelAllNamed removes every job whose name satisfies match and returns
// how many were removed.
func (s *Service) CancelAllNamed(match func(name string) bool) int {
	if match == nil {
		return 0
	}
	names := map[string]struct{}{}
	s.mu.Lock()
	for _, d := range s.defs {
		if match(d.name) {
			names[d.name] = struct{}{}
		}
	}
	for n := range names {
		s.removeScheduleLocked(n)
	}
	s.mu.Unlock()

	s.tmu.Lock()
	var once []string
	for n := range s.once {
		if match(n) {
			once = append(once, n)
		}
	}
	s.tmu.Unlock()
	for _, n := range once {
		if s.removeOnce(n) {
			names[n] = struct{}{}
		}
	}
	return len(names)
}

// Jobs returns every registered job sorted by name.
func (s *Service) Jobs() []JobInfo {
	s.mu.Lock()
	now := time.Now().In(s.loc)
	out := make([]JobInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := JobInfo{Name: d.name, Kind: d.kind, Spec: d.spec, Timeout: d.timeout, Payload: d.payload}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
			// The cron loop fills Next asynchronously after Start.
			if it.Next.IsZero() && e.Schedule != nil {
				it.Next = e.Schedule.Next(now)
			}
		} else if sched, err := s.scheduleFor(&d, now); err == nil {
			it.Next = sched.Next(now)
		}
		out = append(out, it)
	}
	s.mu.Unlock()

	s.tmu.Lock()
	for name, d := range s.once {
		out = append(out, JobInfo{Name: name, Kind: KindOnce, Timeout: d.timeout, Next: d.at, Payload: d.payload})
	}
	s.tmu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// removeScheduleLocked drops every def named name. Call with s.mu held.
func (s *Service) removeScheduleLocked(name string) bool {
	removed := false
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			removed = true
			continue
		}
		s.defs[n] = d
		n++
	}
	clear(s.defs[n:])
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) removeOnce(name string) bool {
	s.tmu.Lock()
	defer s.tmu.Unlock()
	removed := false
	if t, ok := s.timers[name]; ok {
		t.Stop()
		delete(s.timers, name)
		removed = true
	}
	if _, ok := s.once[name]; ok {
		delete(s.once, name)
		removed = true
	}
	return removed
}

// scheduleFor builds the cron schedule of a def. Interval jobs get a
// random startup spread and daily jobs their first-fire override.
func (s *Service) scheduleFor(d *scheduleDef, now time.Time) (cron.Schedule, error) {
	switch d.kind {
	case KindInterval:
		every, err := time.ParseDuration(strings.TrimSpace(strings.TrimPrefix(d.spec, "@every")))
		if err != nil {
			return nil, err
		}
		sched, _ := makeIntervalScheduleWithSpread(every, now, d.name)
		return sched, nil
	case KindDaily:
		base, err := s.parser.Parse(d.spec)
		if err != nil {
			return nil, err
		}
		switch {
		case d.first.IsZero():
			return base, nil
		case d.first.After(now):
			return &firstRunSchedule{base: base, first: d.first}, nil
		case now.Sub(d.first) <= lateFireGrace:
			// Registered just after its first fire: run it now, once. A
			// later rebuild must not repeat it.
			d.first = time.Time{}
			return &firstRunSchedule{base: base, first: now.Add(time.Second)}, nil
		}
		return base, nil
	default:
		return s.parser.Parse(d.spec)
	}
}

func (s *Service) addCronLocked(d *scheduleDef) error {
	sched, err := s.scheduleFor(d, time.Now().In(s.loc))
	if err != nil {
		return err
	}
	name, timeout, opt, state, job := d.name, d.timeout, d.opt, d.state, d.job
	d.entryID = s.c.Schedule(sched, cron.FuncJob(func() {
		s.dispatch(name, timeout, opt, state, job)
	}))
	return nil
}
