package notifier

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kastnerorz/NodeRSSBot/internal/feed"
	"github.com/kastnerorz/NodeRSSBot/internal/ledger"
	kit "github.com/kastnerorz/NodeRSSBot/internal/transport"
)

type sendCall struct {
	ChatID int64
	Text   string
	Opt    kit.SendOptions
	Media  []kit.Media
}

// fakeAdapter records sends. fail returns the error for a chat id (nil
// means success); it is called for every attempt.
type fakeAdapter struct {
	mu     sync.Mutex
	calls  []sendCall
	fail   func(chatID int64, attempt int) error
	delay  time.Duration
	panics map[int64]bool

	inflight    atomic.Int64
	maxInflight atomic.Int64
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error { return nil }

func (f *fakeAdapter) enter() func() {
	n := f.inflight.Add(1)
	for {
		m := f.maxInflight.Load()
		if n <= m || f.maxInflight.CompareAndSwap(m, n) {
			break
		}
	}
	return func() { f.inflight.Add(-1) }
}

func (f *fakeAdapter) record(c sendCall) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, c)
	n := 0
	for _, cc := range f.calls {
		if cc.ChatID == c.ChatID {
			n++
		}
	}
	return n
}

func (f *fakeAdapter) outcome(chatID int64, attempt int) error {
	if f.panics[chatID] {
		panic("adapter exploded")
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.fail == nil {
		return nil
	}
	return f.fail(chatID, attempt)
}

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	defer f.enter()()
	c := sendCall{ChatID: to.ChatID, Text: text}
	if opt != nil {
		c.Opt = *opt
	}
	n := f.record(c)
	if err := f.outcome(to.ChatID, n); err != nil {
		return kit.MessageRef{}, err
	}
	return kit.MessageRef{ChatID: to.ChatID, MessageID: n}, nil
}

func (f *fakeAdapter) SendMediaGroup(_ context.Context, to kit.ChatTarget, media []kit.Media) ([]kit.MessageRef, error) {
	defer f.enter()()
	n := f.record(sendCall{ChatID: to.ChatID, Media: append([]kit.Media(nil), media...)})
	if err := f.outcome(to.ChatID, n); err != nil {
		return nil, err
	}
	return make([]kit.MessageRef, len(media)), nil
}

func (f *fakeAdapter) callsTo(chatID int64) []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sendCall
	for _, c := range f.calls {
		if c.ChatID == chatID {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeAdapter) allCalls() []sendCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sendCall(nil), f.calls...)
}

type fakeStore struct {
	mu          sync.Mutex
	subs        map[int64][]int64
	users       map[int64]bool
	resolveErr  error
	mutateErr   error
	unsubscribe []int64
	migrations  [][2]int64
	lookups     []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{subs: map[int64][]int64{}, users: map[int64]bool{}}
}

func (s *fakeStore) add(feedID int64, users ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range users {
		s.subs[feedID] = append(s.subs[feedID], u)
		s.users[u] = true
	}
}

func (s *fakeStore) SubscribersOf(_ context.Context, feedID int64) ([]feed.Recipient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.resolveErr != nil {
		return nil, s.resolveErr
	}
	ids := append([]int64(nil), s.subs[feedID]...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]feed.Recipient, 0, len(ids))
	for _, id := range ids {
		out = append(out, feed.Recipient{ID: id})
	}
	return out, nil
}

func (s *fakeStore) LookupUser(_ context.Context, id int64) (feed.Recipient, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lookups = append(s.lookups, id)
	if s.users[id] {
		return feed.Recipient{ID: id}, true, nil
	}
	return feed.Recipient{}, false, nil
}

func (s *fakeStore) UnsubscribeAll(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribe = append(s.unsubscribe, userID)
	return s.mutateErr
}

func (s *fakeStore) Migrate(_ context.Context, from, to int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.migrations = append(s.migrations, [2]int64{from, to})
	if s.mutateErr != nil {
		return s.mutateErr
	}
	delete(s.users, from)
	s.users[to] = true
	return nil
}

func (s *fakeStore) counts() (unsub, migrate, lookup int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.unsubscribe), len(s.migrations), len(s.lookups)
}

type fakeLedger struct {
	mu      sync.Mutex
	entries map[int64]ledger.Entry
	err     error
}

func (l *fakeLedger) Record(_ context.Context, _ string, recipientID int64, e ledger.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.entries == nil {
		l.entries = map[int64]ledger.Entry{}
	}
	l.entries[recipientID] = e
	return l.err
}

func blocked() error {
	return &kit.SendError{Code: 403, Description: "Forbidden: bot was blocked by the user"}
}

func upgraded(to int64) error {
	return &kit.SendError{Code: 400, Description: kit.DescGroupUpgraded, MigrateTo: to}
}

var errOther = errors.New("telegram: Bad Request: message is too long (400)")
