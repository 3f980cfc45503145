package config

import (
	"reflect"
	"strings"

	logx "github.com/kastnerorz/NodeRSSBot/pkg/logx"
)

// SummarizeConfigChange returns the changed sections and safe structured
// attrs for logging (never tokens, DSNs or passwords).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 16)

	// Telegram (never log token)
	if oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		strings.TrimSpace(oldCfg.Telegram.Driver) != strings.TrimSpace(newCfg.Telegram.Driver) ||
		strings.TrimSpace(oldCfg.Telegram.PollTimeout) != strings.TrimSpace(newCfg.Telegram.PollTimeout) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.String("telegram.driver", strings.TrimSpace(newCfg.Telegram.Driver)),
			logx.String("telegram.poll_timeout", strings.TrimSpace(newCfg.Telegram.PollTimeout)),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
			logx.Bool("telegram.token_changed", oldCfg.Telegram.Token != newCfg.Telegram.Token),
		)
	}

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Dispatch != newCfg.Dispatch {
		changed = append(changed, "dispatch")
		d := newCfg.Dispatch
		attrs = append(attrs,
			logx.Int("dispatch.workers", d.Workers),
			logx.Int("dispatch.queue_size", d.QueueSize),
			logx.Int("dispatch.fanout", d.Fanout),
			logx.Int("dispatch.rate_per_sec", d.RatePerSec),
			logx.Bool("dispatch.delete_on_err_send", d.DeleteOnErrSend),
		)
	}

	if oldCfg.Render != newCfg.Render {
		changed = append(changed, "render")
		attrs = append(attrs,
			logx.String("render.rich_marker", newCfg.Render.RichMarker),
			logx.String("render.media_host", newCfg.Render.MediaHost),
		)
	}

	// Storage (never log dsn)
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
		)
	}

	// Ledger (never log password)
	if oldCfg.Ledger != newCfg.Ledger {
		changed = append(changed, "ledger")
		attrs = append(attrs,
			logx.Bool("ledger.enabled", strings.TrimSpace(newCfg.Ledger.Addr) != ""),
			logx.String("ledger.ttl", newCfg.Ledger.TTL),
		)
	}

	return changed, attrs
}

// RequiresRestart reports changes that only take effect after a restart
// (connections and worker pools are built once).
func RequiresRestart(oldCfg, newCfg *Config) bool {
	if oldCfg == nil || newCfg == nil {
		return false
	}
	return oldCfg.Telegram.Token != newCfg.Telegram.Token ||
		oldCfg.Telegram.Driver != newCfg.Telegram.Driver ||
		oldCfg.Storage != newCfg.Storage ||
		oldCfg.Ledger != newCfg.Ledger ||
		oldCfg.Render != newCfg.Render ||
		oldCfg.Dispatch.Workers != newCfg.Dispatch.Workers ||
		oldCfg.Dispatch.QueueSize != newCfg.Dispatch.QueueSize
}
