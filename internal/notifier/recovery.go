package notifier

import (
	"context"
	"sync/atomic"

	"github.com/kastnerorz/NodeRSSBot/internal/eventbus"
	kit "github.com/kastnerorz/NodeRSSBot/internal/transport"
	logx "github.com/kastnerorz/NodeRSSBot/pkg/logx"
)

// Decision is what Recovery tells the dispatcher to do after a send failure.
type Decision struct {
	Kind    kit.ErrorKind
	Retry   bool
	RetryTo int64
}

// Recovery applies store-side cleanup for a failed send. It keeps no state
// of its own besides the delete-on-error flag; store failures are logged
// and never returned.
type Recovery struct {
	store       Store
	deleteOnErr atomic.Bool
	log         logx.Logger
	events      eventbus.Bus
}

func NewRecovery(store Store, deleteOnErr bool, log logx.Logger) *Recovery {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &Recovery{store: store, log: log, events: eventbus.Nop{}}
	r.deleteOnErr.Store(deleteOnErr)
	return r
}

// SetDeleteOnErr toggles unsubscribing unreachable chats.
func (r *Recovery) SetDeleteOnErr(v bool) { r.deleteOnErr.Store(v) }

func (r *Recovery) DeleteOnErr() bool { return r.deleteOnErr.Load() }

func (r *Recovery) Handle(ctx context.Context, recipientID int64, err error) Decision {
	kind, se := kit.Classify(err)
	d := Decision{Kind: kind}
	log := r.log.With(logx.Int64("chat_id", recipientID), logx.String("kind", kind.String()))

	switch kind {
	case kit.KindChatUnreachable:
		if !r.deleteOnErr.Load() {
			log.Info("chat unreachable", logx.Err(err))
			return d
		}
		if uerr := r.store.UnsubscribeAll(ctx, recipientID); uerr != nil {
			log.Warn("unsubscribe unreachable chat failed", logx.Err(uerr))
			return d
		}
		log.Info("chat unreachable; unsubscribed", logx.Err(err))
		r.events.Publish(eventbus.Event{Type: eventbus.ChatUnsubscribed, ChatID: recipientID})
		return d

	case kit.KindGroupUpgraded:
		to := se.MigrateTo
		if to == 0 {
			log.Warn("group upgraded without a target chat id", logx.Err(err))
			return d
		}
		log = log.With(logx.Int64("migrate_to", to))
		_, exists, lerr := r.store.LookupUser(ctx, to)
		if lerr != nil {
			log.Warn("lookup migration target failed", logx.Err(lerr))
			return d
		}
		if exists {
			if uerr := r.store.UnsubscribeAll(ctx, recipientID); uerr != nil {
				log.Warn("unsubscribe duplicate group failed", logx.Err(uerr))
				return d
			}
			log.Info("group upgraded to a known chat; old chat unsubscribed")
			r.events.Publish(eventbus.Event{Type: eventbus.ChatUnsubscribed, ChatID: recipientID, NewChatID: to})
			return d
		}
		// The retry goes out even if the store write failed; the next
		// failure on the old id migrates again.
		if merr := r.store.Migrate(ctx, recipientID, to); merr != nil {
			log.Warn("migrate chat failed", logx.Err(merr))
		} else {
			log.Info("group upgraded; chat migrated")
			r.events.Publish(eventbus.Event{Type: eventbus.ChatMigrated, ChatID: recipientID, NewChatID: to})
		}
		d.Retry = true
		d.RetryTo = to
		return d

	default:
		log.Warn("send failed", logx.Err(err))
		return d
	}
}
