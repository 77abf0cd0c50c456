package config

import (
	"reflect"
	"sort"
	"strings"

	logx "deadlinebot/pkg/logx"
)

// SummarizeConfigChange returns the changed section names and safe
// structured attrs for logging. Tokens are never included.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if n := newCfg.Telegram; oldCfg.Telegram != n {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.parse_mode", n.ParseMode),
			logx.Bool("telegram.dry_run", n.DryRun),
			logx.Bool("telegram.token_set", strings.TrimSpace(n.Token) != ""),
		)
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Store, newCfg.Store) {
		changed = append(changed, "store")
		attrs = append(attrs,
			logx.String("store.driver", strings.TrimSpace(newCfg.Store.Driver)),
			logx.Bool("store.path_set", strings.TrimSpace(newCfg.Store.Path) != ""),
			logx.Bool("store.addr_set", strings.TrimSpace(newCfg.Store.Addr) != ""),
		)
	}

	if strings.TrimSpace(oldCfg.Cache.TTL) != strings.TrimSpace(newCfg.Cache.TTL) {
		changed = append(changed, "cache")
		attrs = append(attrs, logx.String("cache.ttl", strings.TrimSpace(newCfg.Cache.TTL)))
	}

	if !reflect.DeepEqual(oldCfg.Reminders, newCfg.Reminders) {
		r := newCfg.Reminders
		changed = append(changed, "reminders")
		attrs = append(attrs,
			logx.String("reminders.timezone", r.Timezone),
			logx.String("reminders.daily_at", r.DailyAt),
			logx.Int("reminders.groups", len(r.Groups)),
			logx.String("reminders.sweep_every", r.SweepEvery),
			logx.String("reminders.sweep_daily_at", r.SweepDailyAt),
			logx.Int("reminders.sweep_concurrency", r.SweepConcurrency),
		)
	}

	if oldCfg.Scheduler != newCfg.Scheduler {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.Enabled),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	oTE := derefTaskEngine(oldCfg.TaskEngine)
	nTE := derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		enabled := newCfg.Scheduler.Enabled
		if nTE.Enabled != nil {
			enabled = *nTE.Enabled
		}
		attrs = append(attrs,
			logx.Bool("task_engine.present", newCfg.TaskEngine != nil),
			logx.Bool("task_engine.enabled", enabled),
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.Int("task_engine.retry_max", nTE.RetryMax),
		)
	}

	// A nil notifier section means runtime defaults.
	defN := NotifierConfig{Enabled: true}
	oldN, newN := defN, defN
	if oldCfg.Notifier != nil {
		oldN = *oldCfg.Notifier
	}
	if newCfg.Notifier != nil {
		newN = *newCfg.Notifier
	}
	if oldN != newN {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newN.Enabled),
			logx.Int("notifier.rate_per_sec", newN.RatePerSec),
			logx.Int("notifier.retry_max", newN.RetryMax),
			logx.String("notifier.dedup_window", newN.DedupWindow),
		)
	}

	if oldCfg.HTTP != newCfg.HTTP {
		changed = append(changed, "http")
		attrs = append(attrs,
			logx.Bool("http.enabled", newCfg.HTTP.Enabled),
			logx.String("http.addr", newCfg.HTTP.Addr),
			logx.Bool("http.pprof", newCfg.HTTP.Pprof.Enabled),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}

// RestartRequired reports the changed sections that only take effect
// after a restart.
func RestartRequired(sections []string) []string {
	var out []string
	for _, s := range sections {
		switch s {
		case "store", "telegram", "http":
			out = append(out, s)
		}
	}
	return out
}
