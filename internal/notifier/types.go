package notifier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kastnerorz/NodeRSSBot/internal/feed"
	"github.com/kastnerorz/NodeRSSBot/internal/render"
	kit "github.com/kastnerorz/NodeRSSBot/internal/transport"
)

var (
	ErrNotRunning = errors.New("notifier not running")
)

// Config controls the dispatch pipeline.
type Config struct {
	Workers   int
	QueueSize int
	// Fanout bounds concurrent recipients per batch.
	Fanout          int
	RatePerSec      int
	DeleteOnErrSend bool
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	if c.Fanout <= 0 {
		c.Fanout = 8
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 25
	}
	return c
}

// Store is the slice of the recipient store the notifier needs.
type Store interface {
	Resolver
	LookupUser(ctx context.Context, id int64) (feed.Recipient, bool, error)
	UnsubscribeAll(ctx context.Context, userID int64) error
	Migrate(ctx context.Context, from, to int64) error
}

// Renderer produces the messages for one recipient. It must not mutate u.
type Renderer interface {
	Render(u feed.Update, r feed.Recipient) []render.Message
}

type DeliveryStatus int

const (
	StatusSent DeliveryStatus = iota
	StatusFailed
	StatusMigrated
)

func (s DeliveryStatus) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusFailed:
		return "failed"
	case StatusMigrated:
		return "migrated"
	default:
		return "unknown"
	}
}

// Outcome is the result of delivering every message of one recipient.
type Outcome struct {
	RecipientID int64
	Status      DeliveryStatus
	// Kind is the class of the first failure, if any.
	Kind   kit.ErrorKind
	Detail string
	// NewID is the migrated chat id (0 unless a migration happened).
	NewID int64
}

type BatchStatus struct {
	ID        string
	FeedID    int64
	Total     int
	Sent      int
	Failed    int
	Migrated  int
	CreatedAt time.Time
	StartedAt time.Time
	DoneAt    time.Time
	Running   bool
}

// Done reports whether every recipient has an outcome.
func (b BatchStatus) Done() bool { return !b.DoneAt.IsZero() }

type batch struct {
	id         string
	update     feed.Update
	recipients []feed.Recipient
	ticket     *Ticket
}

// Ticket tracks one Notify call. It completes when every recipient's
// deliveries were attempted, not when they all succeeded.
type Ticket struct {
	ID string

	once sync.Once
	done chan struct{}
	err  error
}

func newTicket(id string) *Ticket {
	return &Ticket{ID: id, done: make(chan struct{})}
}

func (t *Ticket) Done() <-chan struct{} { return t.done }

// Wait blocks until the batch is finished or ctx ends. It returns
// ErrNotRunning if the notifier stopped before the batch ran.
func (t *Ticket) Wait(ctx context.Context) error {
	select {
	case <-t.done:
		return t.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Ticket) finish(err error) {
	t.once.Do(func() {
		t.err = err
		close(t.done)
	})
}

// ResolutionError means the subscribers of a feed could not be determined.
// Nothing was enqueued.
type ResolutionError struct {
	FeedID int64
	Err    error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve subscribers of feed %d: %v", e.FeedID, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }
