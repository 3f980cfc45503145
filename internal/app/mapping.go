package app

import (
	"strings"

	"github.com/kastnerorz/NodeRSSBot/internal/config"
	"github.com/kastnerorz/NodeRSSBot/internal/ledger"
	"github.com/kastnerorz/NodeRSSBot/internal/notifier"
	"github.com/kastnerorz/NodeRSSBot/internal/render"
	"github.com/kastnerorz/NodeRSSBot/internal/storage"
	logx "github.com/kastnerorz/NodeRSSBot/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) storage.Config {
	return storage.Config{
		Driver:      strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)),
		Path:        strings.TrimSpace(cfg.Storage.Path),
		DSN:         cfg.Storage.DSN,
		BusyTimeout: cfg.BusyTimeout(),
	}
}

func mapLedgerConfig(cfg *config.Config) ledger.Config {
	return ledger.Config{
		Addr:     strings.TrimSpace(cfg.Ledger.Addr),
		Password: cfg.Ledger.Password,
		DB:       cfg.Ledger.DB,
		TTL:      cfg.LedgerTTL(),
	}
}

func mapNotifierConfig(cfg *config.Config) notifier.Config {
	d := cfg.Dispatch
	return notifier.Config{
		Workers:         d.Workers,
		QueueSize:       d.QueueSize,
		Fanout:          d.Fanout,
		RatePerSec:      d.RatePerSec,
		DeleteOnErrSend: d.DeleteOnErrSend,
	}
}

// mapRenderOptions overlays the non-empty render fields on the defaults.
func mapRenderOptions(cfg *config.Config) render.Options {
	opt := render.DefaultOptions()
	r := cfg.Render
	if s := strings.TrimSpace(r.RichMarker); s != "" {
		opt.RichMarker = s
	}
	if s := strings.TrimSpace(r.DefaultName); s != "" {
		opt.DefaultName = s
	}
	if s := strings.TrimSpace(r.MediaHost); s != "" {
		opt.MediaHost = s
	}
	if r.MediaLimit > 0 {
		opt.MediaLimit = r.MediaLimit
	}
	return opt
}

// OpenStore opens the configured subscription store without the rest of
// the app (operator tooling).
func OpenStore(cfg *config.Config, log logx.Logger) (storage.Store, error) {
	return storage.Open(mapStorageConfig(cfg), log)
}
