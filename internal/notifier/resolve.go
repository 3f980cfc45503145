package notifier

import (
	"context"

	"github.com/kastnerorz/NodeRSSBot/internal/feed"
)

// Resolver lists the subscribers of a feed.
type Resolver interface {
	SubscribersOf(ctx context.Context, feedID int64) ([]feed.Recipient, error)
}

func resolve(ctx context.Context, r Resolver, feedID int64) ([]feed.Recipient, error) {
	rs, err := r.SubscribersOf(ctx, feedID)
	if err != nil {
		return nil, &ResolutionError{FeedID: feedID, Err: err}
	}
	return rs, nil
}
