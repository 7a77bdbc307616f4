package config

import "errors"

// ErrMissingCredential is returned when the access token or device id is
// absent from both the file and the environment.
var ErrMissingCredential = errors.New("config: pushbullet token and device_id are required")

// Config is the on-disk configuration (JSON or YAML). Durations are Go
// duration strings ("30s", "5m"). Zero values mean "use the default".
type Config struct {
	Pushbullet PushbulletConfig `json:"pushbullet"`
	Stream     StreamConfig     `json:"stream"`
	Fetch      FetchConfig      `json:"fetch"`
	Dedup      DedupConfig      `json:"dedup"`
	Notifier   NotifierConfig   `json:"notifier"`
	Desktop    DesktopConfig    `json:"desktop"`
	Telegram   TelegramConfig   `json:"telegram"`
	Storage    StorageConfig    `json:"storage"`
	Logging    LoggingConfig    `json:"logging"`
	Ops        OpsConfig        `json:"ops"`
	Systemd    SystemdConfig    `json:"systemd"`
}

// PushbulletConfig is the credential. It is read once at startup; reloads
// that change it are reported but not applied. PUSHBULLET_API_KEY and
// PUSHBULLET_DEVICE_ID override the file when non-empty.
type PushbulletConfig struct {
	Token    string `json:"token"`
	DeviceID string `json:"device_id"`
}

type StreamConfig struct {
	Host string `json:"host,omitempty"`
	Port int    `json:"port,omitempty"`
	// PathPrefix is joined with the token: "/websocket/" + token.
	PathPrefix string `json:"path_prefix,omitempty"`

	DialTimeout    string `json:"dial_timeout,omitempty"`
	PingInterval   string `json:"ping_interval,omitempty"`
	ReadTimeout    string `json:"read_timeout,omitempty"`
	BackoffInitial string `json:"backoff_initial,omitempty"`
	BackoffMax     string `json:"backoff_max,omitempty"`
	// MaxAttempts > 0 makes the process exit after that many consecutive
	// failed connection attempts.
	MaxAttempts int `json:"max_attempts,omitempty"`
}

type FetchConfig struct {
	URL string `json:"url,omitempty"`
	// Schedule accepts "every: 5m", "interval: 300s", a cron expression or a
	// plain duration.
	Schedule string `json:"schedule,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}

type DedupConfig struct {
	Capacity int `json:"capacity,omitempty"`
}

type NotifierConfig struct {
	Enabled       *bool  `json:"enabled,omitempty"`
	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
	SendTimeout   string `json:"send_timeout,omitempty"`
}

type DesktopConfig struct {
	Enabled *bool    `json:"enabled,omitempty"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
}

type TelegramConfig struct {
	Enabled        bool   `json:"enabled"`
	Token          string `json:"token,omitempty"`
	ChatID         int64  `json:"chat_id,omitempty"`
	ThreadID       int    `json:"thread_id,omitempty"`
	APIURL         string `json:"api_url,omitempty"`
	Timeout        string `json:"timeout,omitempty"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
}

// StorageConfig selects where the watermark and ledger live.
//   - driver "file" (default): <path>_last_timestamp and <path>_messages
//   - driver "sqlite": one database file at path
//   - driver "none": in-memory only
type StorageConfig struct {
	Driver      string `json:"driver,omitempty"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
	// Timezone for the ledger's human-readable time (IANA name, default local).
	Timezone string `json:"timezone,omitempty"`
}

type LoggingConfig struct {
	Level    string            `json:"level,omitempty"`
	Console  *bool             `json:"console,omitempty"`
	File     LogFileConfig     `json:"file"`
	Telegram LogTelegramConfig `json:"telegram"`
}

type LogFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LogTelegramConfig relays log lines at or above MinLevel through the
// telegram section's bot.
type LogTelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty"`
}

// OpsConfig is the operator HTTP endpoint (/healthz, /metrics, /debug/pprof).
type OpsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
	Token   string `json:"token,omitempty"`
	// AllowInsecure permits a non-loopback addr without a token.
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
}

type SystemdConfig struct {
	Notify   *bool `json:"notify,omitempty"`
	Watchdog *bool `json:"watchdog,omitempty"`
}

// BoolOr returns *p, or def when p is nil.
func BoolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}
