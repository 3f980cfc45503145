package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	DefaultPollTimeout = 10 * time.Second
	DefaultLedgerTTL   = 7 * 24 * time.Hour
)

// Validate reports every problem at once.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if strings.TrimSpace(c.Telegram.Token) == "" {
		errs = append(errs, errors.New("telegram.token is required"))
	}
	switch strings.ToLower(strings.TrimSpace(c.Telegram.Driver)) {
	case "", "telebot", "botapi":
	default:
		errs = append(errs, fmt.Errorf("telegram.driver: unknown driver %q", c.Telegram.Driver))
	}
	if _, err := ParseDurationField("telegram.poll_timeout", c.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}

	d := c.Dispatch
	for name, v := range map[string]int{
		"dispatch.workers":      d.Workers,
		"dispatch.queue_size":   d.QueueSize,
		"dispatch.fanout":       d.Fanout,
		"dispatch.rate_per_sec": d.RatePerSec,
		"render.media_limit":    c.Render.MediaLimit,
		"ledger.db":             c.Ledger.DB,
	} {
		if v < 0 {
			errs = append(errs, fmt.Errorf("%s must be >= 0", name))
		}
	}
	if c.Render.MediaLimit > 10 {
		errs = append(errs, errors.New("render.media_limit must be <= 10"))
	}

	switch drv := strings.ToLower(strings.TrimSpace(c.Storage.Driver)); drv {
	case "", "sqlite", "sqlite3", "file":
		if strings.TrimSpace(c.Storage.Path) == "" {
			errs = append(errs, errors.New("storage.path is required"))
		}
	case "postgres", "postgresql", "pg":
		if strings.TrimSpace(c.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn is required for postgres"))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", c.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("ledger.ttl", c.Ledger.TTL); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// PollTimeout returns telegram.poll_timeout or its default.
func (c *Config) PollTimeout() time.Duration {
	d, err := ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, DefaultPollTimeout)
	if err != nil {
		return DefaultPollTimeout
	}
	return d
}

func (c *Config) BusyTimeout() time.Duration {
	d, _ := ParseDurationField("storage.busy_timeout", c.Storage.BusyTimeout)
	return d
}

func (c *Config) LedgerTTL() time.Duration {
	d, err := ParseDurationOrDefault("ledger.ttl", c.Ledger.TTL, DefaultLedgerTTL)
	if err != nil {
		return DefaultLedgerTTL
	}
	return d
}

// IsOwner reports whether id is listed in telegram.owner_user_ids.
func (c *Config) IsOwner(id int64) bool {
	for _, o := range c.Telegram.OwnerUserIDs {
		if o == id {
			return true
		}
	}
	return false
}
