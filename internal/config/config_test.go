package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

const validYAML = `
pushbullet:
  token: o.secret
  device_id: D1
stream:
  ping_interval: 20s
  max_attempts: 3
fetch:
  schedule: "every: 2m"
storage:
  driver: sqlite
  path: /tmp/pb.db
logging:
  level: debug
`

func TestParseYAML(t *testing.T) {
	t.Setenv("PUSHBULLET_API_KEY", "")
	t.Setenv("PUSHBULLET_DEVICE_ID", "")
	p := writeFile(t, t.TempDir(), "pushstream.yaml", validYAML)

	cfg, err := NewManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pushbullet.Token != "o.secret" || cfg.Pushbullet.DeviceID != "D1" {
		t.Fatalf("credential = %+v", cfg.Pushbullet)
	}
	if cfg.Stream.PingInterval != "20s" || cfg.Stream.MaxAttempts != 3 {
		t.Fatalf("stream = %+v", cfg.Stream)
	}
	if cfg.Stream.Host != DefaultStreamHost || cfg.Ops.Addr != DefaultOpsAddr {
		t.Fatalf("defaults not applied: %+v %+v", cfg.Stream, cfg.Ops)
	}
	if got := cfg.StreamPath(); got != "/websocket/o.secret" {
		t.Fatalf("StreamPath = %q", got)
	}
}

func TestParseStrict(t *testing.T) {
	dir := t.TempDir()
	cases := []struct {
		name, file, body string
	}{
		{"unknown field", "a.json", `{"pushbullet":{"token":"t","device_id":"d"},"bogus":1}`},
		{"trailing data", "b.json", `{"pushbullet":{"token":"t","device_id":"d"}}{}`},
		{"bad yaml", "c.yaml", "pushbullet: [unclosed"},
		{"unknown nested", "d.yml", "stream:\n  pingg: 1s\n"},
	}
	for _, tc := range cases {
		p := writeFile(t, dir, tc.file, tc.body)
		if _, err := NewManager(p).Parse(); err == nil {
			t.Fatalf("%s: Parse accepted %q", tc.name, tc.body)
		}
	}
}

func TestEnvOverridesAndMissingFile(t *testing.T) {
	t.Setenv("PUSHBULLET_API_KEY", "o.env")
	t.Setenv("PUSHBULLET_DEVICE_ID", "DENV")
	t.Setenv("PUSHSTREAM_LOG_LEVEL", "warn")

	m := NewManager(filepath.Join(t.TempDir(), "missing.yaml"))
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pushbullet.Token != "o.env" || cfg.Pushbullet.DeviceID != "DENV" || cfg.Logging.Level != "warn" {
		t.Fatalf("env not applied: %+v %+v", cfg.Pushbullet, cfg.Logging)
	}
	if cfg.Storage.Driver != DefaultStorageDriver || cfg.Storage.Path != DefaultStoragePath {
		t.Fatalf("storage defaults = %+v", cfg.Storage)
	}
	if m.Get() != cfg {
		t.Fatal("Load did not commit")
	}
}

func TestEmptyEnvKeepsFileValues(t *testing.T) {
	for _, k := range []string{"PUSHBULLET_API_KEY", "PUSHBULLET_DEVICE_ID", "PUSHSTREAM_LOG_LEVEL", "PUSHSTREAM_TELEGRAM_TOKEN", "PUSHSTREAM_OPS_TOKEN"} {
		t.Setenv(k, "")
	}
	t.Setenv("PUSHSTREAM_OPS_TOKEN", "  ")
	p := writeFile(t, t.TempDir(), "c.json", `{
		"pushbullet":{"token":"o.file","device_id":"DFILE"},
		"telegram":{"token":"1:tg"},
		"ops":{"token":"opsfile"},
		"logging":{"level":"debug"}
	}`)

	cfg, err := NewManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Pushbullet.Token != "o.file" || cfg.Pushbullet.DeviceID != "DFILE" {
		t.Fatalf("credential = %+v", cfg.Pushbullet)
	}
	if cfg.Logging.Level != "debug" || cfg.Telegram.Token != "1:tg" || cfg.Ops.Token != "opsfile" {
		t.Fatalf("file values overwritten: %+v %+v %+v", cfg.Logging, cfg.Telegram, cfg.Ops)
	}

	t.Setenv("PUSHBULLET_API_KEY", "o.env")
	cfg, err = NewManager(p).Load()
	if err != nil || cfg.Pushbullet.Token != "o.env" || cfg.Pushbullet.DeviceID != "DFILE" {
		t.Fatalf("override = %+v, %v", cfg.Pushbullet, err)
	}
}

func TestMissingCredential(t *testing.T) {
	t.Setenv("PUSHBULLET_API_KEY", "")
	t.Setenv("PUSHBULLET_DEVICE_ID", "")
	p := writeFile(t, t.TempDir(), "c.json", `{"pushbullet":{"token":"t"}}`)
	if _, err := NewManager(p).Load(); !errors.Is(err, ErrMissingCredential) {
		t.Fatalf("Load = %v, want ErrMissingCredential", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		c := &Config{Pushbullet: PushbulletConfig{Token: "t", DeviceID: "d"}}
		c.applyDefaults()
		return c
	}
	if err := Validate(base()); err != nil {
		t.Fatalf("Validate(defaults) = %v", err)
	}

	cases := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"duration", func(c *Config) { c.Stream.PingInterval = "soon" }, "stream.ping_interval"},
		{"negative duration", func(c *Config) { c.Fetch.Timeout = "-1s" }, "fetch.timeout"},
		{"schedule", func(c *Config) { c.Fetch.Schedule = "cron: not a cron" }, "fetch.schedule"},
		{"driver", func(c *Config) { c.Storage.Driver = "postgres" }, "storage.driver"},
		{"level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"telegram", func(c *Config) { c.Telegram.Enabled = true }, "telegram.token"},
		{"relay", func(c *Config) { c.Logging.Telegram.Enabled = true }, "logging.telegram"},
	}
	for _, tc := range cases {
		c := base()
		tc.mutate(c)
		err := Validate(c)
		if err == nil || !strings.Contains(err.Error(), tc.want) {
			t.Fatalf("%s: Validate = %v, want mention of %q", tc.name, err, tc.want)
		}
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationOrDefault("x", "", 5*time.Second); err != nil || d != 5*time.Second {
		t.Fatalf("default = %v, %v", d, err)
	}
	if d, err := ParseDurationOrDefault("x", "1m", 5*time.Second); err != nil || d != time.Minute {
		t.Fatalf("explicit = %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", "300"); err != nil || d != 5*time.Minute {
		t.Fatalf("seconds = %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", "0.5"); err != nil || d != 500*time.Millisecond {
		t.Fatalf("fractional seconds = %v, %v", d, err)
	}
	for _, bad := range []string{"fast", "-1s", "-3", "NaN", "Inf"} {
		if _, err := ParseDurationField("x", bad); err == nil {
			t.Fatalf("%q accepted", bad)
		}
	}
}

func TestYAMLNumericDurations(t *testing.T) {
	t.Setenv("PUSHBULLET_API_KEY", "")
	t.Setenv("PUSHBULLET_DEVICE_ID", "")
	p := writeFile(t, t.TempDir(), "c.yml", "pushbullet:\n  token: t\n  device_id: d\nstream:\n  ping_interval: 30\n  max_attempts: 2\n")
	cfg, err := NewManager(p).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stream.PingInterval != "30" || cfg.Stream.MaxAttempts != 2 {
		t.Fatalf("stream = %+v", cfg.Stream)
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Pushbullet: PushbulletConfig{Token: "a", DeviceID: "d"}}
	oldCfg.applyDefaults()
	next := *oldCfg
	next.Logging.Level = "debug"
	next.Stream.PingInterval = "10s"
	next.Pushbullet.Token = "b"

	changed, attrs, restart := SummarizeChange(oldCfg, &next)
	if strings.Join(changed, ",") != "pushbullet,stream,logging" {
		t.Fatalf("changed = %v", changed)
	}
	if strings.Join(restart, ",") != "pushbullet,stream" {
		t.Fatalf("restart = %v", restart)
	}
	if len(attrs) == 0 {
		t.Fatal("no attrs")
	}

	if changed, _, _ := SummarizeChange(oldCfg, oldCfg); len(changed) != 0 {
		t.Fatalf("identical configs changed = %v", changed)
	}
}

func TestWatchPublishesReload(t *testing.T) {
	t.Setenv("PUSHBULLET_API_KEY", "")
	t.Setenv("PUSHBULLET_DEVICE_ID", "")
	t.Setenv("PUSHSTREAM_LOG_LEVEL", "")
	dir := t.TempDir()
	p := writeFile(t, dir, "c.json", `{"pushbullet":{"token":"t","device_id":"d"},"logging":{"level":"info"}}`)

	m := NewManager(p)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = m.Watch(ctx)
		close(done)
	}()

	deadline := time.After(10 * time.Second)
	tick := time.NewTicker(300 * time.Millisecond)
	defer tick.Stop()
	for {
		// Rewrite until the watcher (which may still be starting) sees it.
		writeFile(t, dir, "c.json", `{"pushbullet":{"token":"t","device_id":"d"},"logging":{"level":"debug"}}`)
		select {
		case cfg := <-ch:
			if cfg.Logging.Level != "debug" {
				t.Fatalf("reloaded level = %q", cfg.Logging.Level)
			}
			cancel()
			<-done
			return
		case <-tick.C:
		case <-deadline:
			t.Fatal("no reload published")
		}
	}
}
