// Package feed holds the content model handed to the notifier by the
// ingestion pipeline. Values are treated as immutable once built.
package feed

import (
	"errors"
	"strings"
)

var (
	ErrEmptyUpdate     = errors.New("update carries neither text nor items")
	ErrAmbiguousUpdate = errors.New("update carries both text and items")
)

// Feed identifies the source of an update.
type Feed struct {
	ID    int64  `json:"feed_id"`
	URL   string `json:"url,omitempty"`
	Title string `json:"feed_title"`
}

// Item is one new entry of a feed.
type Item struct {
	Link    string `json:"link"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
}

// Update is either a raw text broadcast or a batch of new items.
type Update struct {
	Feed  Feed   `json:"feed"`
	Text  string `json:"text,omitempty"`
	Items []Item `json:"items,omitempty"`
}

// Recipient is a chat identity in the messaging transport.
type Recipient struct {
	ID int64 `json:"user_id"`
}

func (u Update) IsText() bool { return strings.TrimSpace(u.Text) != "" }

func (u Update) Validate() error {
	hasText := strings.TrimSpace(u.Text) != ""
	switch {
	case hasText && len(u.Items) > 0:
		return ErrAmbiguousUpdate
	case !hasText && len(u.Items) == 0:
		return ErrEmptyUpdate
	}
	return nil
}
