package app

import (
	"fmt"
	"strings"
	"time"

	"pushstream/internal/config"
	"pushstream/internal/notifier"
	"pushstream/internal/observability/ops"
	"pushstream/internal/push"
	"pushstream/internal/schedule"
	"pushstream/internal/storage"
	"pushstream/internal/stream"
	"pushstream/internal/stream/ws"
	"pushstream/internal/transport/telegram"
	"pushstream/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: config.BoolOr(cfg.Logging.Console, true),
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Relay: logx.RelayConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	loc := time.Local
	if tz := strings.TrimSpace(sc.Timezone); tz != "" {
		if loc, err = time.LoadLocation(tz); err != nil {
			return storage.Config{}, fmt.Errorf("storage.timezone: invalid %q: %w", tz, err)
		}
	}
	return storage.Config{Driver: sc.Driver, Path: sc.Path, BusyTimeout: busy, Location: loc}, nil
}

func mapDialer(cfg *config.Config) (*ws.Dialer, error) {
	dt, err := config.ParseDurationOrDefault("stream.dial_timeout", cfg.Stream.DialTimeout, ws.DefaultDialTimeout)
	if err != nil {
		return nil, err
	}
	return &ws.Dialer{
		Host:        cfg.Stream.Host,
		Port:        cfg.Stream.Port,
		Path:        cfg.StreamPath(),
		DialTimeout: dt,
	}, nil
}

func mapStreamConfig(cfg *config.Config) (stream.Config, error) {
	sc := cfg.Stream
	out := stream.Config{DeviceID: cfg.Pushbullet.DeviceID, MaxAttempts: sc.MaxAttempts}
	var err error
	if out.PingInterval, err = config.ParseDurationOrDefault("stream.ping_interval", sc.PingInterval, stream.DefaultPingInterval); err != nil {
		return out, err
	}
	if out.ReadTimeout, err = config.ParseDurationOrDefault("stream.read_timeout", sc.ReadTimeout, stream.DefaultReadTimeout); err != nil {
		return out, err
	}
	if out.BackoffInitial, err = config.ParseDurationOrDefault("stream.backoff_initial", sc.BackoffInitial, stream.DefaultBackoffInitial); err != nil {
		return out, err
	}
	if out.BackoffMax, err = config.ParseDurationOrDefault("stream.backoff_max", sc.BackoffMax, stream.DefaultBackoffMax); err != nil {
		return out, err
	}
	spec, err := schedule.Parse(cfg.Fetch.Schedule)
	if err != nil {
		return out, fmt.Errorf("fetch.schedule: %w", err)
	}
	out.Fetch = spec
	return out, nil
}

func mapFetchClient(cfg *config.Config) (*push.Client, error) {
	timeout, err := config.ParseDurationOrDefault("fetch.timeout", cfg.Fetch.Timeout, push.DefaultFetchTimeout)
	if err != nil {
		return nil, err
	}
	return push.NewClient(cfg.Fetch.URL, cfg.Pushbullet.Token, timeout), nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	nc := cfg.Notifier
	out := notifier.Config{
		Enabled:    config.BoolOr(nc.Enabled, true),
		Workers:    nc.Workers,
		QueueSize:  nc.QueueSize,
		RatePerSec: nc.RatePerSec,
		RetryMax:   nc.RetryMax,
	}
	var err error
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", nc.RetryBase); err != nil {
		return out, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", nc.RetryMaxDelay); err != nil {
		return out, err
	}
	if out.SendTimeout, err = config.ParseDurationField("notifier.send_timeout", nc.SendTimeout); err != nil {
		return out, err
	}
	return out, nil
}

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	tc := cfg.Telegram
	timeout, err := config.ParseDurationField("telegram.timeout", tc.Timeout)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:          tc.Token,
		ChatID:         tc.ChatID,
		ThreadID:       tc.ThreadID,
		APIURL:         tc.APIURL,
		Timeout:        timeout,
		DisablePreview: tc.DisablePreview,
	}, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	oc := cfg.Ops
	rt, err := config.ParseDurationField("ops.read_timeout", oc.ReadTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	wt, err := config.ParseDurationField("ops.write_timeout", oc.WriteTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	return ops.Config{
		Addr:          oc.Addr,
		Token:         oc.Token,
		AllowInsecure: oc.AllowInsecure,
		Pprof:         oc.Pprof,
		ReadTimeout:   rt,
		WriteTimeout:  wt,
	}, nil
}
