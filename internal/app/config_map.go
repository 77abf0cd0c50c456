package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deadlinebot/internal/config"
	"deadlinebot/internal/domain"
	"deadlinebot/internal/httpapi"
	"deadlinebot/internal/notifier"
	"deadlinebot/internal/records"
	"deadlinebot/internal/reminder"
	"deadlinebot/internal/rowcache"
	"deadlinebot/internal/rowstore"
	"deadlinebot/internal/task/engine"
	"deadlinebot/internal/task/scheduler"
	logx "deadlinebot/pkg/logx"
)

const (
	defaultTimezone = "Europe/Moscow"
	defaultHTTPAddr = "127.0.0.1:8080"
)

var defaultGroups = []string{"B-11", "B-12"}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStoreConfig(cfg *config.Config) (rowstore.Config, error) {
	sc := cfg.Store
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "memory":
	case "xlsx", "excel", "sqlite", "sqlite3":
		if path == "" {
			return rowstore.Config{}, fmt.Errorf("store.path is required when store.driver=%s", driver)
		}
	case "redis":
		if strings.TrimSpace(sc.Addr) == "" {
			return rowstore.Config{}, fmt.Errorf("store.addr is required when store.driver=redis")
		}
	default:
		return rowstore.Config{}, fmt.Errorf("unknown store.driver: %s", sc.Driver)
	}

	busy, err := config.ParseDurationOrDefault("store.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return rowstore.Config{}, err
	}
	if sc.RatePerSec < 0 || sc.Burst < 0 || sc.RetryAttempts < 0 {
		return rowstore.Config{}, fmt.Errorf("store.rate_per_sec, store.burst and store.retry_attempts must be >= 0")
	}
	base, err := config.ParseDurationOrDefault("store.retry_base", sc.RetryBase, 500*time.Millisecond)
	if err != nil {
		return rowstore.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("store.retry_max_delay", sc.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return rowstore.Config{}, err
	}
	retry := rowstore.DefaultRetryPolicy()
	if sc.RetryAttempts > 0 {
		retry.Attempts = sc.RetryAttempts
	}
	retry.Delay = rowstore.Backoff(base, maxDelay, 0.2)

	return rowstore.Config{
		Driver:      driver,
		Path:        path,
		Addr:        strings.TrimSpace(sc.Addr),
		Prefix:      strings.TrimSpace(sc.Prefix),
		BusyTimeout: busy,
		Headers:     records.Headers,
		RatePerSec:  sc.RatePerSec,
		Burst:       sc.Burst,
		Retry:       retry,
	}, nil
}

func mapCacheTTL(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("cache.ttl", cfg.Cache.TTL, rowcache.DefaultTTL)
}

func reminderTimezone(cfg *config.Config) string {
	if tz := strings.TrimSpace(cfg.Reminders.Timezone); tz != "" {
		return tz
	}
	return defaultTimezone
}

func mapGroups(cfg *config.Config) []string {
	if len(cfg.Reminders.Groups) == 0 {
		return defaultGroups
	}
	return cfg.Reminders.Groups
}

// sweepSettings are the cadence values registered with the scheduler.
type sweepSettings struct {
	every   time.Duration
	dailyAt string
	timeout time.Duration
}

func mapReminderConfig(cfg *config.Config) (reminder.Config, sweepSettings, error) {
	r := cfg.Reminders
	tz := reminderTimezone(cfg)
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return reminder.Config{}, sweepSettings{}, fmt.Errorf("reminders.timezone: invalid %q: %w", tz, err)
	}
	if at := strings.TrimSpace(r.DailyAt); at != "" {
		if _, _, err := domain.ParseHHMM(at); err != nil {
			return reminder.Config{}, sweepSettings{}, fmt.Errorf("reminders.daily_at: %w", err)
		}
	}
	if at := strings.TrimSpace(r.SweepDailyAt); at != "" {
		if _, _, err := domain.ParseHHMM(at); err != nil {
			return reminder.Config{}, sweepSettings{}, fmt.Errorf("reminders.sweep_daily_at: %w", err)
		}
	}
	if r.SweepConcurrency < 0 {
		return reminder.Config{}, sweepSettings{}, fmt.Errorf("reminders.sweep_concurrency must be >= 0")
	}
	every, err := config.ParseDurationOrDefault("reminders.sweep_every", r.SweepEvery, reminder.DefaultSweepEvery)
	if err != nil {
		return reminder.Config{}, sweepSettings{}, err
	}
	timeout, err := config.ParseDurationField("reminders.sweep_timeout", r.SweepTimeout)
	if err != nil {
		return reminder.Config{}, sweepSettings{}, err
	}
	testDelay, err := config.ParseDurationOrDefault("reminders.test_delay", r.TestDelay, reminder.DefaultTestDelay)
	if err != nil {
		return reminder.Config{}, sweepSettings{}, err
	}
	for _, g := range r.Groups {
		if strings.TrimSpace(g) == "" {
			return reminder.Config{}, sweepSettings{}, fmt.Errorf("reminders.groups: empty group name")
		}
	}
	rc := reminder.Config{
		DailyAt:          r.DailyAt,
		Location:         loc,
		SweepConcurrency: r.SweepConcurrency,
		TestDelay:        testDelay,
	}
	return rc, sweepSettings{every: every, dailyAt: strings.TrimSpace(r.SweepDailyAt), timeout: timeout}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	tz := strings.TrimSpace(cfg.Scheduler.Timezone)
	if tz == "" {
		tz = reminderTimezone(cfg)
	}
	return scheduler.Config{Enabled: cfg.Scheduler.Enabled, Timezone: tz}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	enabled := cfg.Scheduler.Enabled
	workers, queueSize, historySize, retryMax := 2, 256, 200, 3
	var defTimeoutStr, maxQueueDelayStr, restartMinStr, restartMaxStr string

	if te := cfg.TaskEngine; te != nil {
		if te.Enabled != nil {
			enabled = *te.Enabled
		}
		if te.Workers < 0 || te.QueueSize < 0 || te.HistorySize < 0 || te.RetryMax < 0 {
			return engine.Config{}, fmt.Errorf("task_engine: workers, queue_size, history_size and retry_max must be >= 0")
		}
		if te.Workers != 0 {
			workers = te.Workers
		}
		if te.QueueSize != 0 {
			queueSize = te.QueueSize
		}
		if te.HistorySize != 0 {
			historySize = te.HistorySize
		}
		if te.RetryMax != 0 {
			retryMax = te.RetryMax
		}
		defTimeoutStr = te.DefaultTimeout
		maxQueueDelayStr = te.MaxQueueDelay
		restartMinStr = te.WorkerRestartMin
		restartMaxStr = te.WorkerRestartMax

		// Scheduler triggers would pile up in a stopped engine.
		if cfg.Scheduler.Enabled && te.Enabled != nil && !*te.Enabled {
			return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
		}
	}

	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", defTimeoutStr)
	if err != nil {
		return engine.Config{}, err
	}
	maxQueueDelay, err := config.ParseDurationField("task_engine.max_queue_delay", maxQueueDelayStr)
	if err != nil {
		return engine.Config{}, err
	}
	restartMin, err := config.ParseDurationField("task_engine.worker_restart_min", restartMinStr)
	if err != nil {
		return engine.Config{}, err
	}
	restartMax, err := config.ParseDurationField("task_engine.worker_restart_max", restartMaxStr)
	if err != nil {
		return engine.Config{}, err
	}
	if restartMin > 0 && restartMax > 0 && restartMax < restartMin {
		return engine.Config{}, fmt.Errorf("task_engine.worker_restart_max must be >= worker_restart_min")
	}
	return engine.Config{
		Enabled:        enabled,
		Workers:        workers,
		QueueSize:      queueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    historySize,
		RetryMax:       retryMax,
		RestartMin:     restartMin,
		RestartMax:     restartMax,
	}, nil
}

// mapNotifierConfig treats an omitted section as enabled with defaults.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	if nc == nil {
		nc = &config.NotifierConfig{Enabled: true}
	}
	if nc.RatePerSec < 0 || nc.RetryMax < 0 || nc.DedupMaxEntries < 0 {
		return notifier.Config{}, fmt.Errorf("notifier: rate_per_sec, retry_max and dedup_max_entries must be >= 0")
	}
	base, err := config.ParseDurationField("notifier.retry_base", nc.RetryBase)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay)
	if err != nil {
		return notifier.Config{}, err
	}
	sendTimeout, err := config.ParseDurationField("notifier.send_timeout", nc.SendTimeout)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.ParseDurationOrDefault("notifier.dedup_window", nc.DedupWindow, time.Minute)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMax := nc.RetryMax
	if retryMax == 0 {
		retryMax = 3
	}
	return notifier.Config{
		Enabled:         nc.Enabled,
		RatePerSec:      nc.RatePerSec,
		RetryMax:        retryMax,
		RetryBase:       base,
		RetryMaxDelay:   maxDelay,
		SendTimeout:     sendTimeout,
		DedupWindow:     window,
		DedupMaxEntries: nc.DedupMaxEntries,
	}, nil
}

func httpAddr(cfg *config.Config) string {
	if a := strings.TrimSpace(cfg.HTTP.Addr); a != "" {
		return a
	}
	return defaultHTTPAddr
}

func mapPprofConfig(cfg *config.Config) httpapi.PprofConfig {
	p := cfg.HTTP.Pprof
	return httpapi.PprofConfig{
		Enabled:              p.Enabled,
		Prefix:               p.Prefix,
		Token:                p.Token,
		AllowInsecure:        p.AllowInsecure,
		MutexProfileFraction: p.MutexProfileFraction,
		BlockProfileRate:     p.BlockProfileRate,
	}
}

// Validate checks every section the app maps. It is the hot-reload gate.
func Validate(_ context.Context, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if !cfg.Telegram.DryRun && strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required unless telegram.dry_run is set")
	}
	if _, err := mapStoreConfig(cfg); err != nil {
		return err
	}
	if _, err := mapCacheTTL(cfg); err != nil {
		return err
	}
	if _, _, err := mapReminderConfig(cfg); err != nil {
		return err
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	if cfg.HTTP.Enabled {
		if err := mapPprofConfig(cfg).Check(httpAddr(cfg)); err != nil {
			return fmt.Errorf("http.pprof: %w", err)
		}
	}
	return nil
}
