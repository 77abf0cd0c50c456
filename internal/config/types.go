package config

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Store     StoreConfig     `json:"store"`
	Cache     CacheConfig     `json:"cache"`
	Reminders RemindersConfig `json:"reminders"`

	// Scheduler controls trigger behavior (cron/interval/once).
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls execution of fired jobs.
	// If omitted, the engine follows scheduler.enabled with defaults.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	HTTP     HTTPConfig      `json:"http"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// ParseMode is "markdown" (default), "html" or "none".
	ParseMode      string `json:"parse_mode,omitempty"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
	// DryRun logs digests instead of sending them. No token is needed.
	DryRun bool `json:"dry_run,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StoreConfig selects the row store backend.
//
// Example:
//
//	"store": { "driver": "xlsx", "path": "./deadlines.xlsx" }
type StoreConfig struct {
	// Driver is memory, xlsx, sqlite or redis.
	Driver string `json:"driver"`
	Path   string `json:"path,omitempty"`
	Addr   string `json:"addr,omitempty"`
	Prefix string `json:"prefix,omitempty"`

	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// Client-side quota. 0 disables throttling.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`

	RetryAttempts int    `json:"retry_attempts,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

type CacheConfig struct {
	// TTL is a Go duration string. Default "300s".
	TTL string `json:"ttl,omitempty"`
}

// RemindersConfig controls digest time and sweep cadence.
//
// Defaults (when fields are omitted/zero):
//   - timezone: "Europe/Moscow"
//   - daily_at: "09:00"
//   - groups: ["B-11", "B-12"]
//   - sweep_every: "5m"
//   - sweep_daily_at: "00:05"
//   - sweep_concurrency: 4
//   - test_delay: "5s"
type RemindersConfig struct {
	Timezone         string   `json:"timezone,omitempty"`
	DailyAt          string   `json:"daily_at,omitempty"`
	Groups           []string `json:"groups,omitempty"`
	SweepEvery       string   `json:"sweep_every,omitempty"`
	SweepDailyAt     string   `json:"sweep_daily_at,omitempty"`
	SweepTimeout     string   `json:"sweep_timeout,omitempty"`
	SweepConcurrency int      `json:"sweep_concurrency,omitempty"`
	TestDelay        string   `json:"test_delay,omitempty"`
}

// SchedulerConfig controls the trigger service.
type SchedulerConfig struct {
	Enabled bool `json:"enabled"`

	// Trigger timezone. Defaults to reminders.timezone.
	Timezone string `json:"timezone,omitempty"`
}

// TaskEngineConfig controls the task execution engine.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Enabled is a pointer so we can distinguish "omitted" (default to scheduler.enabled)
// from an explicit false.
//
// Defaults (when fields are omitted/zero):
//   - enabled: scheduler.enabled
//   - workers: 2
//   - queue_size: 256
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 3
//   - worker_restart_min: "250ms"
//   - worker_restart_max: "30s"
type TaskEngineConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`

	HistorySize int `json:"history_size,omitempty"`
	RetryMax    int `json:"retry_max,omitempty"`

	// Backoff bounds for restarting a crashed worker.
	WorkerRestartMin string `json:"worker_restart_min,omitempty"`
	WorkerRestartMax string `json:"worker_restart_max,omitempty"`
}

// NotifierConfig controls digest delivery.
//
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled         bool   `json:"enabled"`
	RatePerSec      int    `json:"rate_per_sec"`
	RetryMax        int    `json:"retry_max"`
	RetryBase       string `json:"retry_base"`
	RetryMaxDelay   string `json:"retry_max_delay"`
	SendTimeout     string `json:"send_timeout,omitempty"`
	DedupWindow     string `json:"dedup_window"`
	DedupMaxEntries int    `json:"dedup_max_entries"`
}

// HTTPConfig controls the admin/trigger HTTP surface. It has no auth;
// bind it to a loopback address.
type HTTPConfig struct {
	Enabled bool        `json:"enabled"`
	Addr    string      `json:"addr,omitempty"` // default: "127.0.0.1:8080"
	Pprof   PprofConfig `json:"pprof,omitempty"`
}

// PprofConfig mounts profiling endpoints on the HTTP surface.
// A non-loopback addr requires token unless allow_insecure is set.
type PprofConfig struct {
	Enabled       bool   `json:"enabled"`
	Prefix        string `json:"prefix,omitempty"` // default: "/debug/pprof/"
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}
