package config

import (
	"context"
	"errors"
	"math/rand/v2"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	logx "github.com/kastnerorz/NodeRSSBot/pkg/logx"
)

var errWatcherClosed = errors.New("config watcher closed")

const (
	reloadDebounce = 250 * time.Millisecond
	watchBackoff   = 250 * time.Millisecond
	watchBackoffMx = 5 * time.Second
)

// Watch reloads the file on change until ctx ends. A reload that fails to
// parse or validate is logged and dropped; the committed config stays.
// The directory is watched so editors that replace the file are seen.
func (m *ConfigManager) Watch(ctx context.Context) error {
	d := &debouncer{delay: reloadDebounce, fn: m.reload}
	defer d.stop()

	backoff := watchBackoff
	for ctx.Err() == nil {
		err := m.watchOnce(ctx, d.trigger)
		if ctx.Err() != nil {
			break
		}
		// watchOnce returned early: the watcher broke or never started.
		wait := backoff + rand.N(backoff/2+1)
		m.log.Warn("config watcher restarting", logx.String("path", m.path), logx.Duration("backoff", wait), logx.Err(err))
		backoff = min(backoff*2, watchBackoffMx)

		select {
		case <-ctx.Done():
		case <-time.After(wait):
		}
	}
	return nil
}

// watchOnce runs one fsnotify watcher until it breaks or ctx ends.
func (m *ConfigManager) watchOnce(ctx context.Context, changed func()) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	dir, file := filepath.Dir(m.path), filepath.Base(m.path)
	if err := w.Add(dir); err != nil {
		return err
	}
	m.log.Debug("config watcher started", logx.String("dir", dir), logx.String("file", file))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return errWatcherClosed
			}
			if strings.EqualFold(filepath.Base(ev.Name), file) && ev.Op != 0 {
				changed()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return errWatcherClosed
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				// events may be lost; reload once to catch up
				m.log.Warn("config watch overflow", logx.String("dir", dir))
				changed()
				continue
			}
			m.log.Warn("config watch error", logx.String("dir", dir), logx.Err(err))
		}
	}
}

func (m *ConfigManager) reload() {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config parse failed", logx.String("path", m.path), logx.Err(err))
		return
	}
	d := digest(cfg)
	if m.unchanged(d) {
		m.log.Debug("config unchanged; skipping publish", logx.String("path", m.path))
		return
	}
	if err := cfg.Validate(); err != nil {
		m.log.Warn("config rejected", logx.String("path", m.path), logx.Err(err))
		return
	}
	m.commit(cfg, d)
	m.publish(cfg)
	m.log.Debug("config published", logx.String("path", m.path))
}

// debouncer runs fn once after triggers stop arriving for delay.
type debouncer struct {
	delay time.Duration
	fn    func()

	mu    sync.Mutex
	timer *time.Timer
}

func (d *debouncer) trigger() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, d.fn)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
