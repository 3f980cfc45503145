package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kastnerorz/NodeRSSBot/internal/feed"
)

// ErrUnavailable is returned by a store that is closed or was never opened.
// Driver failures of SubscribersOf wrap it too.
var ErrUnavailable = errors.New("storage unavailable")

// unavailable wraps a driver error so callers can match ErrUnavailable and
// still inspect the cause.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrUnavailable, err)
}

// Config configures storage.
type Config struct {
	Driver      string
	Path        string        // sqlite, file
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the recipient store.
type Store interface {
	// SubscribersOf lists the users subscribed to a feed, ordered by id.
	SubscribersOf(ctx context.Context, feedID int64) ([]feed.Recipient, error)
	// LookupUser reports whether a user row exists.
	LookupUser(ctx context.Context, id int64) (feed.Recipient, bool, error)
	// UnsubscribeAll removes every subscription of a user. The user row stays.
	UnsubscribeAll(ctx context.Context, userID int64) error
	// Migrate moves a user and its subscriptions to a new id.
	Migrate(ctx context.Context, from, to int64) error
	Subscribe(ctx context.Context, userID, feedID int64) error
	Close() error
}
