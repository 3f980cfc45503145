// Package notifier turns a feed update into deliveries for every subscriber.
//
// Notify resolves the subscribers of the update's feed and enqueues one
// batch. Workers render the update per recipient and fan the recipients out
// through a bounded errgroup; every send waits on a shared rate limiter.
//
// # Failures
//
// Only resolution failures reach the caller (as *ResolutionError). Send
// failures are classified once by the transport and handed to Recovery,
// which may unsubscribe an unreachable chat or migrate an upgraded group.
// A migration triggers exactly one retry against the new chat id; if that
// retry fails too, the failure is logged and dropped.
//
// # Status
//
// Each batch has a Ticket for completion and a bounded in-memory
// BatchStatus with per-outcome counters. An optional ledger records each
// recipient's outcome.
package notifier
