package notifier

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/kastnerorz/NodeRSSBot/internal/eventbus"
	"github.com/kastnerorz/NodeRSSBot/internal/feed"
	logx "github.com/kastnerorz/NodeRSSBot/pkg/logx"
)

// Notify resolves the subscribers of u.Feed and enqueues one batch for them.
//
// It fails with a validation error (feed.ErrEmptyUpdate, ...), a
// *ResolutionError, ErrNotRunning, or ctx's error when ctx ends while the
// queue is full. Delivery failures never surface here; use the ticket and
// Status to observe them.
func (s *Service) Notify(ctx context.Context, u feed.Update) (*Ticket, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return nil, ErrNotRunning
	}
	q := s.queue
	stopped := s.sup.Context().Done()
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	recipients, err := resolve(ctx, s.store, u.Feed.ID)
	if err != nil {
		s.log.Warn("resolve failed", logx.Int64("feed_id", u.Feed.ID), logx.Err(err))
		return nil, err
	}

	now := time.Now()
	id := "batch:" + uuid.NewString()
	t := newTicket(id)
	s.pruneStatus(now)
	s.statusMu.Lock()
	s.status[id] = &BatchStatus{ID: id, FeedID: u.Feed.ID, Total: len(recipients), CreatedAt: now}
	s.statusMu.Unlock()

	if len(recipients) == 0 {
		s.log.Debug("no subscribers", logx.String("batch", id), logx.Int64("feed_id", u.Feed.ID))
		s.finish(id)
		t.finish(nil)
		return t, nil
	}

	b := batch{id: id, update: u, recipients: recipients, ticket: t}
	select {
	case q <- b:
		s.log.Debug("batch enqueued", logx.String("batch", id), logx.Int64("feed_id", u.Feed.ID), logx.Int("total", len(recipients)), logx.Int("queue_len", len(q)), logx.Int("queue_cap", cap(q)))
		s.events.Publish(eventbus.Event{Type: eventbus.BatchQueued, BatchID: id, FeedID: u.Feed.ID})
		return t, nil
	case <-stopped:
		s.abort(b)
		return nil, ErrNotRunning
	case <-ctx.Done():
		s.abort(b)
		return nil, ctx.Err()
	}
}

// Status returns a copy of a batch's counters. Old batches are pruned.
func (s *Service) Status(id string) (BatchStatus, bool) {
	s.statusMu.RLock()
	defer s.statusMu.RUnlock()
	st, ok := s.status[id]
	if !ok || st == nil {
		return BatchStatus{}, false
	}
	return *st, true
}

// abort closes a batch that will never run. Its recipients count as failed.
func (s *Service) abort(b batch) {
	s.statusMu.Lock()
	if st := s.status[b.id]; st != nil {
		st.Failed = st.Total - st.Sent - st.Migrated
		st.DoneAt = time.Now()
		st.Running = false
	}
	s.statusMu.Unlock()
	b.ticket.finish(ErrNotRunning)
	s.log.Warn("batch dropped", logx.String("batch", b.id), logx.Int("total", len(b.recipients)))
}
