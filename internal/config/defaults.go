package config

import (
	"errors"
	"fmt"
	"strings"

	"pushstream/internal/schedule"
	"pushstream/pkg/logx"
)

const (
	DefaultStreamHost       = "stream.pushbullet.com"
	DefaultStreamPathPrefix = "/websocket/"
	DefaultFetchSchedule    = "every: 5m"
	DefaultStorageDriver    = "file"
	DefaultStoragePath      = "~/.cache/pushbullet"
	DefaultOpsAddr          = "127.0.0.1:9464"
	DefaultLogLevel         = "info"
)

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Stream.Host) == "" {
		c.Stream.Host = DefaultStreamHost
	}
	if strings.TrimSpace(c.Stream.PathPrefix) == "" {
		c.Stream.PathPrefix = DefaultStreamPathPrefix
	}
	if strings.TrimSpace(c.Fetch.Schedule) == "" {
		c.Fetch.Schedule = DefaultFetchSchedule
	}
	if strings.TrimSpace(c.Storage.Driver) == "" {
		c.Storage.Driver = DefaultStorageDriver
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		c.Storage.Path = DefaultStoragePath
	}
	if strings.TrimSpace(c.Ops.Addr) == "" {
		c.Ops.Addr = DefaultOpsAddr
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = DefaultLogLevel
	}
}

// StreamPath is the websocket path for the configured token.
func (c *Config) StreamPath() string {
	return strings.TrimRight(c.Stream.PathPrefix, "/") + "/" + c.Pushbullet.Token
}

// Validate reports every problem in cfg at once.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	if strings.TrimSpace(cfg.Pushbullet.Token) == "" || strings.TrimSpace(cfg.Pushbullet.DeviceID) == "" {
		errs = append(errs, ErrMissingCredential)
	}

	durations := map[string]string{
		"stream.dial_timeout":      cfg.Stream.DialTimeout,
		"stream.ping_interval":     cfg.Stream.PingInterval,
		"stream.read_timeout":      cfg.Stream.ReadTimeout,
		"stream.backoff_initial":   cfg.Stream.BackoffInitial,
		"stream.backoff_max":       cfg.Stream.BackoffMax,
		"fetch.timeout":            cfg.Fetch.Timeout,
		"notifier.retry_base":      cfg.Notifier.RetryBase,
		"notifier.retry_max_delay": cfg.Notifier.RetryMaxDelay,
		"notifier.send_timeout":    cfg.Notifier.SendTimeout,
		"telegram.timeout":         cfg.Telegram.Timeout,
		"storage.busy_timeout":     cfg.Storage.BusyTimeout,
		"ops.read_timeout":         cfg.Ops.ReadTimeout,
		"ops.write_timeout":        cfg.Ops.WriteTimeout,
	}
	for path, raw := range durations {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	if _, err := schedule.Parse(cfg.Fetch.Schedule); err != nil {
		errs = append(errs, fmt.Errorf("fetch.schedule: %w", err))
	}
	if cfg.Stream.Port < 0 || cfg.Stream.Port > 65535 {
		errs = append(errs, fmt.Errorf("stream.port: %d out of range", cfg.Stream.Port))
	}
	if cfg.Stream.MaxAttempts < 0 {
		errs = append(errs, errors.New("stream.max_attempts must be >= 0"))
	}
	if cfg.Dedup.Capacity < 0 {
		errs = append(errs, errors.New("dedup.capacity must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "none", "file", "sqlite", "sqlite3":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}

	if !logx.ValidLevel(cfg.Logging.Level) {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.Telegram.Enabled && !cfg.Telegram.Enabled {
		errs = append(errs, errors.New("logging.telegram requires telegram.enabled"))
	}
	if cfg.Telegram.Enabled {
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			errs = append(errs, errors.New("telegram.token is required when telegram is enabled"))
		}
		if cfg.Telegram.ChatID == 0 {
			errs = append(errs, errors.New("telegram.chat_id is required when telegram is enabled"))
		}
	}
	return errors.Join(errs...)
}
