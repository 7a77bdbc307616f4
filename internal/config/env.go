package config

import (
	"fmt"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
)

// envOverrides lists the variables that override file values. A variable
// that is set but empty leaves the file value alone.
type envOverrides struct {
	Token         string `env:"PUSHBULLET_API_KEY"`
	DeviceID      string `env:"PUSHBULLET_DEVICE_ID"`
	TelegramToken string `env:"PUSHSTREAM_TELEGRAM_TOKEN"`
	LogLevel      string `env:"PUSHSTREAM_LOG_LEVEL"`
	OpsToken      string `env:"PUSHSTREAM_OPS_TOKEN"`
}

func applyEnv(cfg *Config) error {
	var env envOverrides
	if err := cleanenv.ReadEnv(&env); err != nil {
		return fmt.Errorf("env overrides: %w", err)
	}
	override(&cfg.Pushbullet.Token, env.Token)
	override(&cfg.Pushbullet.DeviceID, env.DeviceID)
	override(&cfg.Telegram.Token, env.TelegramToken)
	override(&cfg.Logging.Level, env.LogLevel)
	override(&cfg.Ops.Token, env.OpsToken)
	return nil
}

func override(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}
