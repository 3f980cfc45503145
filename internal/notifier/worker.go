package notifier

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/kastnerorz/NodeRSSBot/internal/eventbus"
	"github.com/kastnerorz/NodeRSSBot/internal/feed"
	"github.com/kastnerorz/NodeRSSBot/internal/ledger"
	"github.com/kastnerorz/NodeRSSBot/internal/render"
	kit "github.com/kastnerorz/NodeRSSBot/internal/transport"
	logx "github.com/kastnerorz/NodeRSSBot/pkg/logx"
	"github.com/kastnerorz/NodeRSSBot/pkg/tgui"
)

const (
	defaultSendTimeout = 30 * time.Second
	ledgerTimeout      = 2 * time.Second
)

func (s *Service) workerLoop(ctx context.Context, q <-chan batch, idx int) {
	log := s.log.With(logx.Int("worker", idx))
	for {
		select {
		case <-ctx.Done():
			return
		case b, ok := <-q:
			if !ok {
				return
			}
			s.execBatch(ctx, log, b)
		}
	}
}

func (s *Service) execBatch(ctx context.Context, log logx.Logger, b batch) {
	start := time.Now()
	s.setRunning(b.id)
	cfg, _, _ := s.snapshot()
	log = log.With(logx.String("batch", b.id), logx.Int64("feed_id", b.update.Feed.ID))
	log.Info("batch started", logx.Int("total", len(b.recipients)), logx.Int("fanout", cfg.Fanout))

	// A text broadcast is identical for everyone: render it once and share
	// it read-only.
	var shared []render.Message
	if b.update.IsText() {
		shared = s.renderer.Render(b.update, feed.Recipient{})
	}

	var g errgroup.Group
	g.SetLimit(cfg.Fanout)
	for _, r := range b.recipients {
		g.Go(func() error {
			out := s.runRecipient(ctx, b, r, shared)
			s.record(ctx, b, out)
			return nil
		})
	}
	_ = g.Wait()

	s.finish(b.id)
	b.ticket.finish(nil)

	st, _ := s.Status(b.id)
	fields := []logx.Field{
		logx.Int("total", st.Total),
		logx.Int("sent", st.Sent),
		logx.Int("migrated", st.Migrated),
		logx.Int("failed", st.Failed),
		logx.Duration("dur", time.Since(start)),
	}
	if st.Failed > 0 {
		log.Warn("batch finished with failures", fields...)
	} else {
		log.Info("batch finished", fields...)
	}
}

// runRecipient renders and delivers for one recipient. A panic becomes a
// failed outcome instead of killing the batch.
func (s *Service) runRecipient(ctx context.Context, b batch, r feed.Recipient, shared []render.Message) (out Outcome) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("panic in delivery", logx.String("batch", b.id), logx.Int64("chat_id", r.ID), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
			out = Outcome{RecipientID: r.ID, Status: StatusFailed, Detail: fmt.Sprintf("panic: %v", p)}
		}
	}()
	msgs := shared
	if msgs == nil {
		msgs = s.renderer.Render(b.update, r)
	}
	return s.deliver(ctx, r, msgs)
}

// session is the per-recipient view shared by its concurrent messages. It
// holds the current chat id so that, once one message migrated the chat,
// siblings send to the new id and never run recovery for it again.
type session struct {
	mu      sync.Mutex
	id      int64
	handled map[kit.ErrorKind]Decision
}

func (ss *session) current() int64 {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.id
}

type msgResult struct {
	err  error
	kind kit.ErrorKind
}

// deliver sends every message of one recipient concurrently and folds the
// results into one Outcome.
func (s *Service) deliver(ctx context.Context, r feed.Recipient, msgs []render.Message) Outcome {
	ss := &session{id: r.ID, handled: map[kit.ErrorKind]Decision{}}
	results := make([]msgResult, len(msgs))

	var wg sync.WaitGroup
	for i := range msgs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if p := recover(); p != nil {
					s.log.Error("panic in send", logx.Int64("chat_id", r.ID), logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
					results[i] = msgResult{err: fmt.Errorf("panic: %v", p)}
				}
			}()
			results[i] = s.deliverOne(ctx, ss, msgs[i])
		}()
	}
	wg.Wait()

	out := Outcome{RecipientID: r.ID, Status: StatusSent}
	if id := ss.current(); id != r.ID {
		out.Status = StatusMigrated
		out.NewID = id
	}
	for _, res := range results {
		if res.err == nil {
			continue
		}
		if out.Status != StatusFailed {
			out.Status = StatusFailed
			out.Kind = res.kind
			out.Detail = res.err.Error()
		}
	}
	return out
}

func (s *Service) deliverOne(ctx context.Context, ss *session, m render.Message) msgResult {
	to := ss.current()
	err := s.send(ctx, to, m)
	if err == nil {
		return msgResult{}
	}
	kind, _ := kit.Classify(err)
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return msgResult{err: err, kind: kind}
	}

	ss.mu.Lock()
	if ss.id != to {
		// A sibling already migrated this chat; retry once under the new id.
		newID := ss.id
		ss.mu.Unlock()
		return s.retry(ctx, to, newID, m)
	}
	d, seen := ss.handled[kind]
	if !seen {
		d = s.recovery.Handle(ctx, to, err)
		if kind != kit.KindUnclassified {
			ss.handled[kind] = d
		}
		if d.Retry {
			ss.id = d.RetryTo
		}
	}
	ss.mu.Unlock()

	if d.Retry && !seen {
		return s.retry(ctx, to, d.RetryTo, m)
	}
	return msgResult{err: err, kind: kind}
}

// retry sends m once to the migrated chat. Its failure is logged and never
// goes back through recovery.
func (s *Service) retry(ctx context.Context, from, to int64, m render.Message) msgResult {
	if err := s.send(ctx, to, m); err != nil {
		s.log.Warn("retry after migration failed", logx.Int64("chat_id", from), logx.Int64("migrate_to", to), logx.Err(err))
		return msgResult{err: err, kind: kit.KindGroupUpgraded}
	}
	return msgResult{}
}

func (s *Service) send(ctx context.Context, chatID int64, m render.Message) error {
	_, lim, ad := s.snapshot()
	if err := waitLimiter(ctx, lim); err != nil {
		return err
	}
	if s.sendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.sendTimeout)
		defer cancel()
	}

	to := kit.ChatTarget{ChatID: chatID}
	switch m.Kind {
	case render.KindText:
		_, err := ad.SendText(ctx, to, m.Text, &kit.SendOptions{ParseMode: tgui.ParseModeHTML, DisablePreview: true})
		return err
	case render.KindCaption:
		media := make([]kit.Media, 0, len(m.Media))
		for _, a := range m.Media {
			km := kit.Media{URL: a.URL, Caption: a.Caption}
			if a.Caption != "" {
				km.ParseMode = tgui.ParseModeHTML
			}
			media = append(media, km)
		}
		_, err := ad.SendMediaGroup(ctx, to, media)
		return err
	default:
		return fmt.Errorf("unknown message kind %v", m.Kind)
	}
}

func waitLimiter(ctx context.Context, lim *rate.Limiter) error {
	if lim == nil {
		return nil
	}
	return lim.Wait(ctx)
}

func (s *Service) record(ctx context.Context, b batch, out Outcome) {
	s.statusMu.Lock()
	if st := s.status[b.id]; st != nil {
		switch out.Status {
		case StatusSent:
			st.Sent++
		case StatusMigrated:
			st.Migrated++
		default:
			st.Failed++
		}
	}
	s.statusMu.Unlock()

	e := ledger.Entry{FeedID: b.update.Feed.ID, Status: out.Status.String(), Detail: out.Detail, NewID: out.NewID, At: time.Now()}
	if out.Status == StatusFailed {
		e.Kind = out.Kind.String()
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), ledgerTimeout)
	defer cancel()
	if err := s.ledger.Record(lctx, b.id, out.RecipientID, e); err != nil {
		s.log.Debug("ledger record failed", logx.String("batch", b.id), logx.Int64("chat_id", out.RecipientID), logx.Err(err))
	}
}

func (s *Service) setRunning(id string) {
	s.statusMu.Lock()
	defer s.statusMu.Unlock()
	if st := s.status[id]; st != nil {
		st.StartedAt = time.Now()
		st.Running = true
	}
}

func (s *Service) finish(id string) {
	now := time.Now()
	var done BatchStatus
	s.statusMu.Lock()
	if st := s.status[id]; st != nil {
		st.DoneAt = now
		st.Running = false
		done = *st
	}
	s.statusMu.Unlock()
	s.pruneStatus(now)
	s.events.Publish(eventbus.Event{
		Type:     eventbus.BatchDone,
		Time:     now,
		BatchID:  id,
		FeedID:   done.FeedID,
		Sent:     done.Sent,
		Failed:   done.Failed,
		Migrated: done.Migrated,
	})
}
