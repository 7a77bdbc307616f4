package config

import (
	"reflect"
	"strings"

	"pushstream/pkg/logx"
)

// liveSections are applied without a restart.
var liveSections = map[string]bool{
	"logging":  true,
	"notifier": true,
	"desktop":  true,
	"telegram": true,
}

// SummarizeChange lists the sections that differ, safe log fields for them
// (no secrets), and the subset that only takes effect after a restart.
func SummarizeChange(oldCfg, newCfg *Config) (changed []string, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	add := func(name string, differ bool, fields ...logx.Field) {
		if !differ {
			return
		}
		changed = append(changed, name)
		attrs = append(attrs, fields...)
		if !liveSections[name] {
			restart = append(restart, name)
		}
	}

	add("pushbullet", oldCfg.Pushbullet != newCfg.Pushbullet,
		logx.Bool("pushbullet.token_changed", oldCfg.Pushbullet.Token != newCfg.Pushbullet.Token),
		logx.String("pushbullet.device_id", newCfg.Pushbullet.DeviceID),
	)
	add("stream", oldCfg.Stream != newCfg.Stream,
		logx.String("stream.host", newCfg.Stream.Host),
		logx.Int("stream.max_attempts", newCfg.Stream.MaxAttempts),
	)
	add("fetch", oldCfg.Fetch != newCfg.Fetch,
		logx.String("fetch.schedule", newCfg.Fetch.Schedule),
	)
	add("dedup", oldCfg.Dedup != newCfg.Dedup,
		logx.Int("dedup.capacity", newCfg.Dedup.Capacity),
	)
	add("notifier", !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier),
		logx.Bool("notifier.enabled", BoolOr(newCfg.Notifier.Enabled, true)),
		logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
	)
	add("desktop", !reflect.DeepEqual(oldCfg.Desktop, newCfg.Desktop),
		logx.Bool("desktop.enabled", BoolOr(newCfg.Desktop.Enabled, true)),
		logx.String("desktop.command", newCfg.Desktop.Command),
	)
	add("telegram", oldCfg.Telegram != newCfg.Telegram,
		logx.Bool("telegram.enabled", newCfg.Telegram.Enabled),
		logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
		logx.Int64("telegram.chat_id", newCfg.Telegram.ChatID),
	)
	add("storage", oldCfg.Storage != newCfg.Storage,
		logx.String("storage.driver", newCfg.Storage.Driver),
	)
	add("logging", !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging),
		logx.String("logging.level", newCfg.Logging.Level),
		logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
	)
	add("ops", oldCfg.Ops != newCfg.Ops,
		logx.Bool("ops.enabled", newCfg.Ops.Enabled),
		logx.String("ops.addr", newCfg.Ops.Addr),
		logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
	)
	add("systemd", !reflect.DeepEqual(oldCfg.Systemd, newCfg.Systemd))
	return changed, attrs, restart
}
