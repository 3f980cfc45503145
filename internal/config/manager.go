package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"sync"

	logx "github.com/kastnerorz/NodeRSSBot/pkg/logx"
)

// ConfigManager owns the current config and fans validated reloads out to
// subscribers.
type ConfigManager struct {
	path string
	log  logx.Logger
	// environ replaces the process environment for overrides (tests).
	environ map[string]string

	mu     sync.RWMutex
	cfg    *Config
	digest uint64

	// subsMu is held while sending so Unsubscribe never closes a channel
	// under a publisher.
	subsMu sync.Mutex
	subs   map[chan *Config]struct{}
}

func NewConfigManager(path string) *ConfigManager {
	return &ConfigManager{path: path, subs: map[chan *Config]struct{}{}}
}

func (m *ConfigManager) Path() string { return m.path }

func (m *ConfigManager) SetLogger(log logx.Logger) { m.log = log }

// Parse reads the file and applies RSSBOT_* overrides without validating.
func (m *ConfigManager) Parse() (*Config, error) {
	raw, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	js, err := toJSON(m.path, raw)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeStrict(js)
	if err != nil {
		return nil, err
	}
	if err := applyEnv(cfg, m.environ); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decodeStrict rejects unknown fields and anything after the first value.
func decodeStrict(js []byte) (*Config, error) {
	dec := json.NewDecoder(bytes.NewReader(js))
	dec.DisallowUnknownFields()
	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, err
	}
	var extra json.RawMessage
	switch err := dec.Decode(&extra); {
	case errors.Is(err, io.EOF):
		return &cfg, nil
	case err == nil:
		return nil, errors.New("invalid config: trailing data")
	default:
		return nil, err
	}
}

// Load parses, validates and commits the file.
func (m *ConfigManager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	m.commit(cfg, digest(cfg))
	return cfg, nil
}

func (m *ConfigManager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *ConfigManager) commit(cfg *Config, d uint64) {
	m.mu.Lock()
	m.cfg, m.digest = cfg, d
	m.mu.Unlock()
}

func (m *ConfigManager) unchanged(d uint64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return d != 0 && d == m.digest
}

// digest fingerprints the effective config (file plus env) so editor
// write bursts without content changes are not republished.
func digest(cfg *Config) uint64 {
	b, err := json.Marshal(cfg)
	if err != nil {
		return 0
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// Subscribe returns a channel that receives every committed reload.
func (m *ConfigManager) Subscribe(buffer int) chan *Config {
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs[ch] = struct{}{}
	m.subsMu.Unlock()
	return ch
}

// Unsubscribe removes and closes ch. Unknown channels are ignored.
func (m *ConfigManager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	if _, ok := m.subs[ch]; ok {
		delete(m.subs, ch)
		close(ch)
	}
}

// publish never blocks: a full subscriber loses its oldest pending config
// so the newest one always fits.
func (m *ConfigManager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			m.log.Debug("config update dropped (unbuffered subscriber)")
		}
	}
}
