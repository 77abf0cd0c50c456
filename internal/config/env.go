package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix is the prefix of environment overrides, e.g. DEADLINEBOT_TELEGRAM_TOKEN.
const EnvPrefix = "DEADLINEBOT"

// envOverrides lists the settings that can come from the environment.
// Nil fields were not set.
type envOverrides struct {
	TelegramToken  *string `envconfig:"TELEGRAM_TOKEN"`
	TelegramDryRun *bool   `envconfig:"TELEGRAM_DRY_RUN"`
	LogLevel       *string `envconfig:"LOG_LEVEL"`
	StoreDriver    *string `envconfig:"STORE_DRIVER"`
	StorePath      *string `envconfig:"STORE_PATH"`
	StoreAddr      *string `envconfig:"STORE_ADDR"`
	Timezone       *string `envconfig:"TIMEZONE"`
	DailyAt        *string `envconfig:"DAILY_AT"`
	HTTPAddr       *string `envconfig:"HTTP_ADDR"`
}

// ApplyEnv overlays DEADLINEBOT_* environment variables onto cfg.
func ApplyEnv(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	setString := func(dst *string, v *string) {
		if v != nil {
			*dst = *v
		}
	}
	setString(&cfg.Telegram.Token, env.TelegramToken)
	if env.TelegramDryRun != nil {
		cfg.Telegram.DryRun = *env.TelegramDryRun
	}
	setString(&cfg.Logging.Level, env.LogLevel)
	setString(&cfg.Store.Driver, env.StoreDriver)
	setString(&cfg.Store.Path, env.StorePath)
	setString(&cfg.Store.Addr, env.StoreAddr)
	setString(&cfg.Reminders.Timezone, env.Timezone)
	setString(&cfg.Reminders.DailyAt, env.DailyAt)
	if env.HTTPAddr != nil {
		cfg.HTTP.Addr = *env.HTTPAddr
		cfg.HTTP.Enabled = *env.HTTPAddr != ""
	}
	return nil
}
