// Package ledger records per-recipient delivery outcomes for operators.
// It is not on the delivery path's error surface: callers log and ignore
// Record failures.
package ledger

import (
	"context"
	"time"
)

// Entry is one recipient's outcome inside a batch.
type Entry struct {
	FeedID int64     `json:"feedId"`
	Status string    `json:"status"`
	Kind   string    `json:"kind,omitempty"`
	Detail string    `json:"detail,omitempty"`
	NewID  int64     `json:"newId,omitempty"`
	At     time.Time `json:"at"`
}

type Ledger interface {
	Record(ctx context.Context, batchID string, recipientID int64, e Entry) error
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(context.Context, string, int64, Entry) error { return nil }
