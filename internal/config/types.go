package config

// Config is the file format of the bot (JSON or YAML). Every field can be
// overridden from the environment with the RSSBOT_ prefix, e.g.
// RSSBOT_TELEGRAM_TOKEN or RSSBOT_DELETE_ON_ERR_SEND.
type Config struct {
	Telegram TelegramConfig `json:"telegram" envPrefix:"TELEGRAM_"`
	Logging  LoggingConfig  `json:"logging" envPrefix:"LOG_"`
	Dispatch DispatchConfig `json:"dispatch"`
	Render   RenderConfig   `json:"render,omitempty" envPrefix:"RENDER_"`
	Storage  StorageConfig  `json:"storage" envPrefix:"STORAGE_"`
	Ledger   LedgerConfig   `json:"ledger,omitempty" envPrefix:"LEDGER_"`
}

type TelegramConfig struct {
	// Driver selects the client library: "telebot" (default) or "botapi".
	Driver       string  `json:"driver,omitempty" env:"DRIVER"`
	Token        string  `json:"token" env:"TOKEN"`
	OwnerUserIDs []int64 `json:"owner_user_ids" env:"OWNER_USER_IDS"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout" env:"POLL_TIMEOUT"`
}

type LoggingConfig struct {
	Level   string      `json:"level" env:"LEVEL"`
	Console bool        `json:"console" env:"CONSOLE"`
	File    LoggingFile `json:"file" envPrefix:"FILE_"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled" env:"ENABLED"`
	Path    string `json:"path" env:"PATH"`
}

// DispatchConfig controls the notifier.
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - queue_size: 64
//   - fanout: 8
//   - rate_per_sec: 25
//   - delete_on_err_send: false
type DispatchConfig struct {
	Workers    int `json:"workers" env:"DISPATCH_WORKERS"`
	QueueSize  int `json:"queue_size" env:"DISPATCH_QUEUE_SIZE"`
	Fanout     int `json:"fanout" env:"DISPATCH_FANOUT"`
	RatePerSec int `json:"rate_per_sec" env:"DISPATCH_RATE_PER_SEC"`
	// DeleteOnErrSend unsubscribes chats the bot can no longer reach.
	DeleteOnErrSend bool `json:"delete_on_err_send" env:"DELETE_ON_ERR_SEND"`
}

// RenderConfig tunes the rich-embedded category. Empty fields keep the
// renderer defaults.
type RenderConfig struct {
	RichMarker  string `json:"rich_marker,omitempty" env:"RICH_MARKER"`
	DefaultName string `json:"default_name,omitempty" env:"DEFAULT_NAME"`
	MediaHost   string `json:"media_host,omitempty" env:"MEDIA_HOST"`
	MediaLimit  int    `json:"media_limit,omitempty" env:"MEDIA_LIMIT"`
}

// StorageConfig selects the subscription store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./data/rssbot.db" }
type StorageConfig struct {
	Driver      string `json:"driver" env:"DRIVER"`
	Path        string `json:"path,omitempty" env:"PATH"`
	DSN         string `json:"dsn,omitempty" env:"DSN"`                   // postgres (do not log)
	BusyTimeout string `json:"busy_timeout,omitempty" env:"BUSY_TIMEOUT"` // Go duration string (sqlite)
}

// LedgerConfig enables the Redis delivery ledger when Addr is set.
type LedgerConfig struct {
	Addr     string `json:"addr,omitempty" env:"ADDR"`
	Password string `json:"password,omitempty" env:"PASSWORD"` // do not log
	DB       int    `json:"db,omitempty" env:"DB"`
	// TTL is a Go duration string; default 168h.
	TTL string `json:"ttl,omitempty" env:"TTL"`
}
