// Package app wires the row store, cache, records, task engine, scheduler,
// notifier, reminder service and HTTP surface, and applies config reloads.
package app

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"deadlinebot/internal/config"
	"deadlinebot/internal/eventbus"
	"deadlinebot/internal/httpapi"
	"deadlinebot/internal/notifier"
	"deadlinebot/internal/records"
	"deadlinebot/internal/reminder"
	"deadlinebot/internal/rowcache"
	"deadlinebot/internal/rowstore"
	"deadlinebot/internal/runtime/supervisor"
	"deadlinebot/internal/task/engine"
	"deadlinebot/internal/task/scheduler"
	"deadlinebot/internal/transport/telegram"
	logx "deadlinebot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log  logx.Logger
	logs *logx.Service
	bus  eventbus.Bus

	cache   *rowcache.Cache
	records *records.Repo

	engine    *engine.Service
	sched     *scheduler.Service
	notif     *notifier.Service
	reminders *reminder.Service
	http      *httpapi.Server

	sweeps sweepSettings
}

type options struct {
	dryRun bool
	noHTTP bool
}

type Option func(*options)

// WithDryRun logs digests instead of sending them, whatever the config says.
func WithDryRun() Option { return func(o *options) { o.dryRun = true } }

// WithoutHTTP skips the HTTP surface.
func WithoutHTTP() Option { return func(o *options) { o.noHTTP = true } }

func New(cfgPath string, opts ...Option) (*App, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	if o.dryRun {
		cfg.Telegram.DryRun = true
	}
	if err := Validate(context.Background(), cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.NewService(mapLoggingConfig(cfg))
	appLog := log.With(logx.String("comp", "app"))

	storeCfg, err := mapStoreConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := rowstore.Open(storeCfg, log.With(logx.String("comp", "rowstore")))
	if err != nil {
		return nil, fmt.Errorf("open row store: %w", err)
	}
	ttl, err := mapCacheTTL(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	cache := rowcache.New(store, rowcache.Options{TTL: ttl, Log: log.With(logx.String("comp", "rowcache"))})
	recs := records.New(cache, log.With(logx.String("comp", "records")))
	recs.SetGroups(mapGroups(cfg))

	bus := eventbus.New()

	engCfg, err := mapTaskEngineConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	eng := engine.New(engCfg, log.With(logx.String("comp", "taskengine")), bus)
	sched := scheduler.New(mapSchedulerConfig(cfg), eng, log.With(logx.String("comp", "scheduler")), bus)

	sender, err := newSender(cfg, log)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	notif := notifier.New(ncfg, sender, log.With(logx.String("comp", "notifier")), bus)

	remCfg, sweeps, err := mapReminderConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	rem, err := reminder.New(remCfg, recs, sched, notif, log.With(logx.String("comp", "reminder")), bus)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		cfgm:      cfgm,
		log:       appLog,
		logs:      logSvc,
		bus:       bus,
		cache:     cache,
		records:   recs,
		engine:    eng,
		sched:     sched,
		notif:     notif,
		reminders: rem,
		sweeps:    sweeps,
	}
	if cfg.HTTP.Enabled && !o.noHTTP {
		httpLog := log.With(logx.String("comp", "http"))
		h := httpapi.NewHandler(recs, rem, sched, httpLog).
			WithEngine(eng).
			WithStats("cache", func() any { return cache.Stats() }).
			WithStats("notifications", func() any { return notif.History() })
		addr := httpAddr(cfg)
		e := httpapi.New(h, httpLog)
		if err := httpapi.RegisterPprof(e, addr, mapPprofConfig(cfg)); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("http.pprof: %w", err)
		}
		a.http = httpapi.NewServer(addr, e, httpLog)
	}
	return a, nil
}

func newSender(cfg *config.Config, log logx.Logger) (notifier.Sender, error) {
	if cfg.Telegram.DryRun {
		return notifier.LogSender{Log: log.With(logx.String("comp", "dryrun"))}, nil
	}
	return telegram.New(telegram.Config{
		Token:          cfg.Telegram.Token,
		ParseMode:      cfg.Telegram.ParseMode,
		DisablePreview: cfg.Telegram.DisablePreview,
	}, log.With(logx.String("comp", "telegram")))
}

func (a *App) Reminders() *reminder.Service { return a.reminders }

func (a *App) Records() *records.Repo { return a.records }

func (a *App) Scheduler() *scheduler.Service { return a.sched }

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the engine and scheduler, registers the sweeps, runs a first
// sweep in the background and starts the HTTP surface and config watch.
func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.NewSupervisor(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(Validate)

	if a.engine.Enabled() {
		a.engine.Start(a.sup.Context())
	}
	if err := a.reminders.RegisterSweeps(a.sched, a.sweeps.every, a.sweeps.dailyAt, a.sweeps.timeout); err != nil {
		return fmt.Errorf("register sweeps: %w", err)
	}
	if a.sched.Enabled() {
		a.sched.Start(a.sup.Context())
	} else {
		a.log.Warn("scheduler disabled; reminders will not fire")
	}

	// Jobs live in memory only; rebuild them right away.
	a.sup.Go0("reminders.initial_sweep", func(c context.Context) {
		a.reminders.RunSweepOnce(c)
	})

	if a.http != nil {
		a.sup.Go("http", a.http.Run)
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", a.cfgm.Watch)

	a.log.Info("app started",
		logx.Bool("scheduler", a.sched.Enabled()),
		logx.Bool("notifier", a.notif.Enabled()),
		logx.Bool("http", a.http != nil),
	)
	return nil
}

// applyConfig applies a validated config live. Store, telegram and http
// changes need a restart.
func (a *App) applyConfig(ctx context.Context, oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if rs := config.RestartRequired(sections); len(rs) > 0 {
		a.log.Warn("config change needs a restart to take effect", logx.String("sections", strings.Join(rs, ",")))
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if ttl, err := mapCacheTTL(newCfg); err == nil {
		a.cache.SetTTL(ttl)
	}
	a.records.SetGroups(mapGroups(newCfg))

	prevSchedEnabled := a.sched.Enabled()
	prevEngEnabled := a.engine.Enabled()
	engCfg, err := mapTaskEngineConfig(newCfg)
	if err != nil {
		a.log.Warn("invalid task_engine config; keeping previous", logx.Err(err))
		engCfg.Enabled = prevEngEnabled
	} else {
		a.engine.Apply(ctx, engCfg)
	}
	a.sched.Apply(mapSchedulerConfig(newCfg))

	// Scheduler first on shutdown, engine first on startup.
	newSchedEnabled := newCfg.Scheduler.Enabled
	if prevSchedEnabled && !newSchedEnabled {
		a.log.Info("scheduler disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.sched.Stop(stopCtx)
		cancel()
	}
	if prevEngEnabled && !engCfg.Enabled {
		a.log.Info("task engine disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.engine.Stop(stopCtx)
		cancel()
	}
	if !prevEngEnabled && engCfg.Enabled {
		a.log.Info("task engine enabled via config")
		a.engine.Start(ctx)
	}
	if !prevSchedEnabled && newSchedEnabled {
		a.log.Info("scheduler enabled via config")
		a.sched.Start(ctx)
	}

	if ncfg, err := mapNotifierConfig(newCfg); err != nil {
		a.log.Warn("invalid notifier config; keeping previous", logx.Err(err))
	} else {
		a.notif.Apply(ncfg)
	}

	if slices.Contains(sections, "reminders") {
		a.applyReminders(ctx, newCfg)
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) applyReminders(ctx context.Context, cfg *config.Config) {
	remCfg, sweeps, err := mapReminderConfig(cfg)
	if err != nil {
		a.log.Warn("invalid reminders config; keeping previous", logx.Err(err))
		return
	}
	if err := a.reminders.Apply(remCfg); err != nil {
		a.log.Warn("reminders config rejected", logx.Err(err))
		return
	}
	if sweeps != a.sweeps {
		if err := a.reminders.RegisterSweeps(a.sched, sweeps.every, sweeps.dailyAt, sweeps.timeout); err != nil {
			a.log.Warn("sweep re-register failed", logx.Err(err))
		} else {
			a.sweeps = sweeps
		}
	}
	// Existing jobs keep their old time until rescheduled.
	a.sup.Go0("reminders.reload_sweep", func(c context.Context) {
		a.reminders.RunSweepOnce(c)
	})
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	a.step(ctx, "scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	a.step(ctx, "taskengine", 2*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })
	a.step(ctx, "supervisor", 6*time.Second, a.sup.Wait)
	a.step(ctx, "rowstore", time.Second, func(context.Context) error { return a.cache.Close() })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// close releases resources of an app that was never started.
func (a *App) close() error {
	err := a.cache.Close()
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}

// Close releases an app built for a one-shot command.
func (a *App) Close() error { return a.Stop(context.Background(), StopCommand) }

// step runs one shutdown step bounded by max so a stuck component cannot
// stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		max = min(max, time.Until(dl))
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Duration("elapsed", time.Since(start)),
		)
	}
}
