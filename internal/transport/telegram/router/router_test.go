package router

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kastnerorz/NodeRSSBot/internal/feed"
	"github.com/kastnerorz/NodeRSSBot/internal/notifier"
	kit "github.com/kastnerorz/NodeRSSBot/internal/transport"
	logx "github.com/kastnerorz/NodeRSSBot/pkg/logx"
)

type sent struct {
	to   kit.ChatTarget
	text string
}

type fakeAdapter struct {
	mu   sync.Mutex
	sent []sent
}

func (a *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (a *fakeAdapter) Stop(context.Context) error { return nil }

func (a *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, sent{to: to, text: text})
	return kit.MessageRef{ChatID: to.ChatID}, nil
}

func (a *fakeAdapter) SendMediaGroup(context.Context, kit.ChatTarget, []kit.Media) ([]kit.MessageRef, error) {
	return nil, nil
}

func (a *fakeAdapter) texts() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.sent))
	for _, s := range a.sent {
		out = append(out, s.text)
	}
	return out
}

type fakeNotifier struct {
	mu      sync.Mutex
	updates []feed.Update
	err     error
}

func (n *fakeNotifier) Notify(_ context.Context, u feed.Update) (*notifier.Ticket, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return nil, n.err
	}
	n.updates = append(n.updates, u)
	return &notifier.Ticket{ID: "batch:1"}, nil
}

func (n *fakeNotifier) Status(id string) (notifier.BatchStatus, bool) {
	if id != "batch:1" {
		return notifier.BatchStatus{}, false
	}
	return notifier.BatchStatus{ID: id, FeedID: 3, Total: 2, Sent: 1, Running: true}, true
}

func message(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{ChatID: 100, FromID: from, Text: text}}
}

// runOne routes up and runs the queued job, if any.
func runOne(t *testing.T, m *CommandManager, up kit.Update) {
	t.Helper()
	m.route(context.Background(), up)
	select {
	case job := <-m.jobs:
		job()
	default:
	}
}

func TestParseCommand(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in     string
		name   string
		rest   string
		wantOK bool
	}{
		{in: "/help", name: "help", wantOK: true},
		{in: "  /Announce@rss_bot 12 hello\n world ", name: "announce", rest: "12 hello\n world", wantOK: true},
		{in: "/status\tbatch:1", name: "status", rest: "batch:1", wantOK: true},
		{in: "hello", wantOK: false},
		{in: "/", wantOK: false},
		{in: "/@bot", wantOK: false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			name, rest, ok := parseCommand(tt.in)
			if ok != tt.wantOK || name != tt.name || rest != tt.rest {
				t.Fatalf("parseCommand(%q) = %q, %q, %v", tt.in, name, rest, ok)
			}
		})
	}
}

func TestAnnounceOwnerOnly(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	n := &fakeNotifier{}
	m := NewCommandManager(logx.Nop(), ad, []int64{1})
	m.Register(AnnounceCommand(n))

	runOne(t, m, message(2, "/announce 3 hi"))
	if len(n.updates) != 0 {
		t.Fatal("non-owner announce reached the notifier")
	}
	if got := ad.texts(); len(got) != 1 || got[0] != "unauthorized" {
		t.Fatalf("replies = %v", got)
	}
}

func TestAnnounceNotifies(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	n := &fakeNotifier{}
	m := NewCommandManager(logx.Nop(), ad, []int64{1})
	m.Register(AnnounceCommand(n))

	runOne(t, m, message(1, "/announce 3 line one\nline two"))
	if len(n.updates) != 1 {
		t.Fatalf("updates = %d", len(n.updates))
	}
	u := n.updates[0]
	if u.Feed.ID != 3 || u.Text != "line one\nline two" || len(u.Items) != 0 {
		t.Fatalf("update = %+v", u)
	}
	got := ad.texts()
	if len(got) != 1 || !strings.Contains(got[0], "batch:1") || !strings.Contains(got[0], "2 recipient") {
		t.Fatalf("replies = %v", got)
	}
}

func TestAnnounceUsageAndErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		text string
		err  error
		want string
	}{
		{name: "missing text", text: "/announce 3", want: "usage"},
		{name: "bad feed id", text: "/announce abc hi", want: "usage"},
		{name: "not running", text: "/announce 3 hi", err: notifier.ErrNotRunning, want: "not running"},
		{name: "resolution", text: "/announce 3 hi", err: &notifier.ResolutionError{FeedID: 3, Err: errors.New("db down")}, want: "could not load subscribers"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ad := &fakeAdapter{}
			m := NewCommandManager(logx.Nop(), ad, []int64{1})
			m.Register(AnnounceCommand(&fakeNotifier{err: tt.err}))
			runOne(t, m, message(1, tt.text))
			got := ad.texts()
			if len(got) != 1 || !strings.Contains(got[0], tt.want) {
				t.Fatalf("replies = %v, want containing %q", got, tt.want)
			}
		})
	}
}

func TestStatusCommand(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, []int64{1})
	m.Register(StatusCommand(&fakeNotifier{}))

	runOne(t, m, message(1, "/status batch:1"))
	runOne(t, m, message(1, "/status batch:2"))
	got := ad.texts()
	if len(got) != 2 {
		t.Fatalf("replies = %v", got)
	}
	if !strings.Contains(got[0], "running") || !strings.Contains(got[0], "sent 1, failed 0, migrated 0 of 2") {
		t.Fatalf("status reply = %q", got[0])
	}
	if got[1] != "unknown batch" {
		t.Fatalf("unknown reply = %q", got[1])
	}
}

func TestUnknownCommandAndHelp(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, []int64{1})
	m.Register(AnnounceCommand(&fakeNotifier{}))

	runOne(t, m, message(2, "/nope"))
	runOne(t, m, message(2, "/help"))
	runOne(t, m, message(1, "/help"))
	got := ad.texts()
	if len(got) != 3 {
		t.Fatalf("replies = %v", got)
	}
	if !strings.Contains(got[0], "unknown command") {
		t.Fatalf("unknown reply = %q", got[0])
	}
	if strings.Contains(got[1], "announce") {
		t.Fatalf("help for non-owner lists owner commands: %q", got[1])
	}
	if !strings.Contains(got[2], "/announce &lt;feed_id&gt; &lt;text&gt;") {
		t.Fatalf("help for owner = %q", got[2])
	}
}

func TestPanicRecoverMiddleware(t *testing.T) {
	t.Parallel()
	h := Chain(func(context.Context, *Request) error { panic("boom") }, MWPanicRecover(logx.Nop()))
	if err := h(context.Background(), &Request{}); err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("err = %v", err)
	}
}

func TestTimeoutMiddleware(t *testing.T) {
	t.Parallel()
	h := Chain(func(ctx context.Context, _ *Request) error {
		<-ctx.Done()
		return ctx.Err()
	}, MWTimeout(10*time.Millisecond))
	if err := h(context.Background(), &Request{}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestDispatchLoopStopsOnClose(t *testing.T) {
	t.Parallel()
	ad := &fakeAdapter{}
	m := NewCommandManager(logx.Nop(), ad, nil)
	updates := make(chan kit.Update, 1)
	done := make(chan error, 1)
	go func() { done <- m.DispatchLoop(context.Background(), updates) }()

	updates <- message(5, "/help")
	close(updates)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("DispatchLoop: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("DispatchLoop did not return")
	}
}
