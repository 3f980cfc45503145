// Package eventbus carries dispatch lifecycle signals from the notifier to
// whoever wants to observe them (logging, operator replies).
package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

type Type string

const (
	BatchQueued      Type = "batch.queued"
	BatchDone        Type = "batch.done"
	ChatUnsubscribed Type = "chat.unsubscribed"
	ChatMigrated     Type = "chat.migrated"
)

// Event is one lifecycle signal. Fields not relevant to Type are zero.
//
// Contract:
//   - Publish never blocks.
//   - Subscribers use buffered channels; a slow subscriber drops events.
type Event struct {
	Type    Type
	Time    time.Time
	BatchID string
	FeedID  int64
	ChatID  int64
	// NewChatID is the migration target of ChatMigrated.
	NewChatID int64
	// Sent, Failed and Migrated are the counters of BatchDone.
	Sent, Failed, Migrated int
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			// Publish holds the read lock while sending, so the channel can
			// be closed once it is out of the map.
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}
