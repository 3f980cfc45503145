// Package app wires configuration, logging, storage, the Telegram adapter,
// the notifier and the operator command router into one process.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kastnerorz/NodeRSSBot/internal/config"
	"github.com/kastnerorz/NodeRSSBot/internal/eventbus"
	"github.com/kastnerorz/NodeRSSBot/internal/ledger"
	"github.com/kastnerorz/NodeRSSBot/internal/notifier"
	"github.com/kastnerorz/NodeRSSBot/internal/render"
	rtsup "github.com/kastnerorz/NodeRSSBot/internal/runtime/supervisor"
	"github.com/kastnerorz/NodeRSSBot/internal/storage"
	kit "github.com/kastnerorz/NodeRSSBot/internal/transport"
	telegram "github.com/kastnerorz/NodeRSSBot/internal/transport/telegram/adapter"
	"github.com/kastnerorz/NodeRSSBot/internal/transport/telegram/botapi"
	"github.com/kastnerorz/NodeRSSBot/internal/transport/telegram/router"
	logx "github.com/kastnerorz/NodeRSSBot/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	store       storage.Store
	ledger      ledger.Ledger
	closeLedger func() error

	adapter kit.Adapter
	bus     eventbus.Bus
	notif   *notifier.Service
	cmdm    *router.CommandManager

	serving bool
	updates chan kit.Update
}

// New builds every component from the loaded config. Nothing runs until
// Start or Serve.
func New(ctx context.Context, cfgm *config.ConfigManager) (*App, error) {
	cfg := cfgm.Get()
	if cfg == nil {
		return nil, fmt.Errorf("config not loaded")
	}

	logSvc, log := logx.NewService(mapLogConfig(cfg))
	log = log.With(logx.String("comp", "app"))

	ad, err := newAdapter(cfg, log.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	st, err := storage.Open(mapStorageConfig(cfg), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage enabled", logx.String("driver", cfg.Storage.Driver))

	lc := mapLedgerConfig(cfg)
	led, closeLedger, err := ledger.Open(ctx, lc)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if lc.Addr != "" {
		log.Info("delivery ledger enabled", logx.Duration("ttl", lc.TTL))
	}

	bus := eventbus.New()
	rd := render.New(mapRenderOptions(cfg), render.Escape)
	notif := notifier.New(mapNotifierConfig(cfg), ad, st, rd,
		log.With(logx.String("comp", "notifier")),
		notifier.WithLedger(led),
		notifier.WithEvents(bus),
	)

	cmdm := router.NewCommandManager(log.With(logx.String("comp", "commands")), ad, cfg.Telegram.OwnerUserIDs)
	cmdm.Register(router.AnnounceCommand(notif), router.StatusCommand(notif))

	return &App{
		cfgm:        cfgm,
		log:         log,
		logs:        logSvc,
		store:       st,
		ledger:      led,
		closeLedger: closeLedger,
		adapter:     ad,
		bus:         bus,
		notif:       notif,
		cmdm:        cmdm,
		updates:     make(chan kit.Update, 256),
	}, nil
}

func newAdapter(cfg *config.Config, log logx.Logger) (kit.Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Telegram.Driver)) {
	case "botapi":
		return botapi.New(botapi.Config{Token: cfg.Telegram.Token}, log)
	default:
		return telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: cfg.PollTimeout()}, log)
	}
}

func (a *App) Notifier() *notifier.Service { return a.notif }

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the notifier only. Used by one-shot commands that dispatch a
// single update and exit.
func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.logEvent(e)
			}
		}
	})

	a.notif.Start(a.sup.Context())
	return nil
}

func (a *App) logEvent(e eventbus.Event) {
	switch e.Type {
	case eventbus.BatchDone:
		a.log.Info("batch finished",
			logx.String("batch", e.BatchID),
			logx.Int64("feed_id", e.FeedID),
			logx.Int("sent", e.Sent),
			logx.Int("failed", e.Failed),
			logx.Int("migrated", e.Migrated),
		)
	case eventbus.ChatMigrated, eventbus.ChatUnsubscribed:
		a.log.Info("subscriber changed",
			logx.String("event", string(e.Type)),
			logx.Int64("chat_id", e.ChatID),
			logx.Int64("new_chat_id", e.NewChatID),
		)
	default:
		a.log.Debug("event", logx.String("type", string(e.Type)), logx.String("batch", e.BatchID))
	}
}

// Serve starts the notifier, Telegram polling, the command router and the
// config hot-reload loop.
func (a *App) Serve(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	a.serving = true

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}
	a.sup.Go("commands.dispatch", func(c context.Context) error {
		return a.cmdm.DispatchLoop(c, a.updates)
	})

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	if config.RequiresRestart(oldCfg, newCfg) {
		a.log.Warn("config change requires restart for some settings to take effect")
	}

	a.logs.Apply(mapLogConfig(newCfg))
	a.cmdm.SetOwners(newCfg.Telegram.OwnerUserIDs)
	a.notif.Apply(mapNotifierConfig(newCfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in reverse dependency order. Each step is
// bounded so one component can't stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// The notifier drains first: it still needs the adapter and the store.
	a.step(ctx, "notifier", 10*time.Second, func(c context.Context) error { a.notif.Stop(c); return nil })
	a.sup.Cancel()
	if a.serving {
		a.step(ctx, "adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	}
	a.step(ctx, "ledger", time.Second, func(context.Context) error { return a.closeLedger() })
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	// respect the caller's deadline; never extend it
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped (deadline reached)", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	case <-stepCtx.Done():
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
