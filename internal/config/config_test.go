package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
telegram:
  token: "file-token"
logging:
  level: debug
  console: true
store:
  driver: xlsx
  path: ./deadlines.xlsx
reminders:
  timezone: Europe/Moscow
  daily_at: "09:00"
  groups: [B-11, B-12]
scheduler:
  enabled: true
`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDecodeYAMLAndJSON(t *testing.T) {
	cfg, err := Decode("c.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode yaml: %v", err)
	}
	if cfg.Store.Driver != "xlsx" || len(cfg.Reminders.Groups) != 2 || !cfg.Scheduler.Enabled {
		t.Fatalf("cfg = %+v", cfg)
	}

	cfg, err = Decode("c.json", []byte(`{"store":{"driver":"sqlite","path":"x.db"},"http":{"enabled":true}}`))
	if err != nil {
		t.Fatalf("Decode json: %v", err)
	}
	if cfg.Store.Driver != "sqlite" || !cfg.HTTP.Enabled {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	tests := map[string]struct{ path, body string }{
		"unknown json":  {"c.json", `{"plugins":{}}`},
		"unknown yaml":  {"c.yml", "reminders:\n  when: never\n"},
		"trailing data": {"c.json", `{} {}`},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode(tt.path, []byte(tt.body)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestParseAppliesEnvOverrides(t *testing.T) {
	t.Setenv("DEADLINEBOT_TELEGRAM_TOKEN", "env-token")
	t.Setenv("DEADLINEBOT_DAILY_AT", "08:30")
	t.Setenv("DEADLINEBOT_HTTP_ADDR", "127.0.0.1:9090")

	m := NewManager(writeFile(t, "config.yaml", sampleYAML))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Telegram.Token != "env-token" {
		t.Fatalf("token = %q", cfg.Telegram.Token)
	}
	if cfg.Reminders.DailyAt != "08:30" || cfg.Reminders.Timezone != "Europe/Moscow" {
		t.Fatalf("reminders = %+v", cfg.Reminders)
	}
	if !cfg.HTTP.Enabled || cfg.HTTP.Addr != "127.0.0.1:9090" {
		t.Fatalf("http = %+v", cfg.HTTP)
	}
	if m.Get() != cfg {
		t.Fatal("Load should commit")
	}
}

func TestReloadValidatesAndDedups(t *testing.T) {
	path := writeFile(t, "config.json", `{"reminders":{"daily_at":"09:00"}}`)
	m := NewManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatal(err)
	}
	m.SetValidator(func(_ context.Context, cfg *Config) error {
		if cfg.Reminders.DailyAt == "25:00" {
			return os.ErrInvalid
		}
		return nil
	})
	sub := m.Subscribe(1)
	ctx := context.Background()

	if m.reload(ctx) {
		t.Fatal("unchanged file should not publish")
	}
	if err := os.WriteFile(path, []byte(`{"reminders":{"daily_at":"25:00"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if m.reload(ctx) {
		t.Fatal("invalid config should not publish")
	}
	if got := m.Get().Reminders.DailyAt; got != "09:00" {
		t.Fatalf("rejected config committed: %q", got)
	}
	if err := os.WriteFile(path, []byte(`{"reminders":{"daily_at":"10:00"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if !m.reload(ctx) {
		t.Fatal("valid change should publish")
	}
	select {
	case cfg := <-sub:
		if cfg.Reminders.DailyAt != "10:00" {
			t.Fatalf("published %+v", cfg.Reminders)
		}
	case <-time.After(time.Second):
		t.Fatal("no publish")
	}
}

func TestPublishKeepsLatest(t *testing.T) {
	m := NewManager("unused.json")
	sub := m.Subscribe(1)
	first, second := &Config{}, &Config{}
	m.publish(first)
	m.publish(second)
	if got := <-sub; got != second {
		t.Fatal("slow subscriber should see the newest config")
	}
	m.Unsubscribe(sub)
	if _, ok := <-sub; ok {
		t.Fatal("channel should be closed")
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	oldCfg := &Config{Telegram: TelegramConfig{Token: "a"}, Cache: CacheConfig{TTL: "300s"}}
	newCfg := &Config{Telegram: TelegramConfig{Token: "b"}, Cache: CacheConfig{TTL: "60s"}, Notifier: &NotifierConfig{Enabled: true, RatePerSec: 5}}

	sections, attrs := SummarizeConfigChange(oldCfg, newCfg)
	if got := strings.Join(sections, ","); got != "cache,notifier,telegram" {
		t.Fatalf("sections = %s", got)
	}
	if len(attrs) == 0 {
		t.Fatal("expected attrs")
	}
	if got := RestartRequired(sections); len(got) != 1 || got[0] != "telegram" {
		t.Fatalf("restart required = %v", got)
	}

	if s, _ := SummarizeConfigChange(nil, &Config{Notifier: &NotifierConfig{Enabled: true}}); len(s) != 0 {
		t.Fatalf("default notifier should not count as a change: %v", s)
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", 5*time.Minute); err != nil || d != 5*time.Minute {
		t.Fatalf("default: %v %v", d, err)
	}
	if _, err := ParseDurationField("x", "-1s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("bad duration accepted")
	}
	for raw, want := range map[string]time.Duration{
		"300": 300 * time.Second,
		"2d":  48 * time.Hour,
		"90s": 90 * time.Second,
	} {
		if d, err := ParseDurationField("x", raw); err != nil || d != want {
			t.Fatalf("%q = %v %v, want %v", raw, d, err, want)
		}
	}
}

func TestDecodeYAMLEdgeCases(t *testing.T) {
	if cfg, err := Decode("c.yaml", nil); err != nil || cfg.Store.Driver != "" {
		t.Fatalf("empty yaml: %+v %v", cfg, err)
	}
	if _, err := Decode("c.yaml", []byte("store: {}\n---\nhttp: {}\n")); err == nil {
		t.Fatal("multi-document yaml accepted")
	}
	// Files without a .json extension are read as YAML, which takes JSON too.
	cfg, err := Decode("config", []byte(`{"http":{"enabled":true}}`))
	if err != nil || !cfg.HTTP.Enabled {
		t.Fatalf("json via yaml: %+v %v", cfg, err)
	}
}
