package router

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/kastnerorz/NodeRSSBot/internal/feed"
	"github.com/kastnerorz/NodeRSSBot/internal/notifier"
	"github.com/kastnerorz/NodeRSSBot/pkg/tgui"
)

// Notifier is the slice of notifier.Service the operator commands use.
type Notifier interface {
	Notify(ctx context.Context, u feed.Update) (*notifier.Ticket, error)
	Status(id string) (notifier.BatchStatus, bool)
}

// AnnounceCommand broadcasts raw text to every subscriber of a feed.
//
//	/announce <feed_id> <text>
func AnnounceCommand(n Notifier) Command {
	return Command{
		Name:        "announce",
		Description: "send text to every subscriber of a feed",
		Usage:       "/announce <feed_id> <text>",
		Access:      AccessOwnerOnly,
		Timeout:     30 * time.Second,
		Handle: func(ctx context.Context, req *Request) error {
			head, text := cutWord(req.Rest)
			feedID, err := strconv.ParseInt(head, 10, 64)
			if err != nil || text == "" {
				return req.Reply(ctx, "usage: <code>/announce &lt;feed_id&gt; &lt;text&gt;</code>")
			}
			t, err := n.Notify(ctx, feed.Update{Feed: feed.Feed{ID: feedID}, Text: text})
			if err != nil {
				var re *notifier.ResolutionError
				switch {
				case errors.As(err, &re):
					_ = req.Reply(ctx, "could not load subscribers of feed "+strconv.FormatInt(feedID, 10))
				case errors.Is(err, notifier.ErrNotRunning):
					_ = req.Reply(ctx, "notifier is not running")
				default:
					_ = req.Reply(ctx, "announce failed: "+tgui.Esc(err.Error()).String())
				}
				return err
			}
			st, _ := n.Status(t.ID)
			return req.Reply(ctx, fmt.Sprintf("queued <code>%s</code> for %d recipient(s)", tgui.Esc(t.ID), st.Total))
		},
	}
}

// StatusCommand reports the progress of a batch.
//
//	/status <batch_id>
func StatusCommand(n Notifier) Command {
	return Command{
		Name:        "status",
		Description: "show delivery progress of a batch",
		Usage:       "/status <batch_id>",
		Access:      AccessOwnerOnly,
		Handle: func(ctx context.Context, req *Request) error {
			if len(req.Args) != 1 {
				return req.Reply(ctx, "usage: <code>/status &lt;batch_id&gt;</code>")
			}
			st, ok := n.Status(req.Args[0])
			if !ok {
				return req.Reply(ctx, "unknown batch")
			}
			return req.Reply(ctx, FormatStatus(st))
		},
	}
}

// FormatStatus renders a batch summary in HTML parse mode.
func FormatStatus(st notifier.BatchStatus) string {
	state := "queued"
	switch {
	case st.Done():
		state = "done"
	case st.Running:
		state = "running"
	}
	return tgui.Lines(
		tgui.Bold(tgui.Esc(st.ID)),
		tgui.Esc(fmt.Sprintf("feed %d, %s", st.FeedID, state)),
		tgui.Esc(fmt.Sprintf("sent %d, failed %d, migrated %d of %d", st.Sent, st.Failed, st.Migrated, st.Total)),
	).String()
}
