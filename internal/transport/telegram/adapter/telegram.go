package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	rtsup "github.com/kastnerorz/NodeRSSBot/internal/runtime/supervisor"
	kit "github.com/kastnerorz/NodeRSSBot/internal/transport"
	logx "github.com/kastnerorz/NodeRSSBot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// sender is the slice of *tele.Bot used for outbound calls.
type sender interface {
	Send(to tele.Recipient, what interface{}, opts ...interface{}) (*tele.Message, error)
	SendAlbum(to tele.Recipient, a tele.Album, opts ...interface{}) ([]tele.Message, error)
}

type Adapter struct {
	cfg  Config
	log  logx.Logger
	bot  *tele.Bot
	send sender

	// inbox is the consumer channel; nil while stopped
	inbox atomic.Pointer[chan<- kit.Update]
	// dropped counts updates the consumer had no room for
	dropped atomic.Uint64

	mu  sync.Mutex
	sup *rtsup.Supervisor // non-nil while polling
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: cfg.PollTimeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log, bot: b, send: b}
	b.Handle(tele.OnText, a.onText)
	return a, nil
}

func (a *Adapter) onText(c tele.Context) error {
	m := c.Message()
	if m == nil || m.Sender == nil {
		return nil
	}
	a.deliver(kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ID:           m.ID,
		ChatID:       m.Chat.ID,
		ThreadID:     m.ThreadID,
		FromID:       m.Sender.ID,
		FromUsername: m.Sender.Username,
		Text:         m.Text,
	}})
	return nil
}

func (a *Adapter) deliver(up kit.Update) {
	p := a.inbox.Load()
	if p == nil {
		return
	}
	select {
	case *p <- up:
	default:
		a.dropped.Add(1)
	}
}

// Start begins long polling and forwards text messages to out until Stop
// or ctx ends. A second Start while polling is a no-op.
func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.inbox.Store(&out)
	sup := rtsup.New(ctx, rtsup.WithLogger(a.log))
	a.sup = sup

	// reports drops every few seconds and stops the poller on cancel
	sup.Go0("telebot.watch", func(c context.Context) {
		tick := time.NewTicker(5 * time.Second)
		defer tick.Stop()
		for {
			select {
			case <-tick.C:
				a.reportDropped(cap(out))
			case <-c.Done():
				a.bot.Stop()
				a.reportDropped(cap(out))
				return
			}
		}
	})
	// bot.Start blocks until bot.Stop; a premature return is restarted
	sup.GoRestart0("telebot.poll", func(context.Context) {
		a.log.Info("polling started")
		a.bot.Start()
		a.log.Info("polling stopped")
	},
		rtsup.WithRestartBackoff(500*time.Millisecond, 10*time.Second),
		rtsup.WithStopOnCleanExit(false),
	)
	return nil
}

func (a *Adapter) reportDropped(chanCap int) {
	if n := a.dropped.Swap(0); n > 0 {
		a.log.Warn("incoming updates dropped (channel full)", logx.Int64("count", int64(n)), logx.Int("chan_cap", chanCap))
	}
}

// stopGrace caps how long Stop waits for a long poll in flight.
const stopGrace = 2 * time.Second

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.inbox.Store(nil)
	a.mu.Unlock()
	if sup == nil {
		return nil
	}

	a.log.Info("stopping")
	sup.Cancel()
	wctx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	if err := sup.Wait(wctx); err != nil {
		a.log.Warn("telegram stop incomplete", logx.Err(err))
	}
	return nil
}

// SendText sends text in chunks of at most transport.TextLimit runes. ctx is
// checked before each chunk; telebot does not take a context, so a call in
// flight is not canceled.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	chat := &tele.Chat{ID: to.ChatID}

	var first kit.MessageRef
	for i, chunk := range kit.SplitText(text, kit.TextLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg, err := a.send.Send(chat, chunk, &tele.SendOptions{
			ParseMode:             opt.ParseMode,
			DisableWebPagePreview: opt.DisablePreview,
			ThreadID:              to.ThreadID,
		})
		if err != nil {
			return first, toSendError(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}
		}
	}
	return first, nil
}

// SendMediaGroup sends photos as one album. Telegram rejects albums with a
// single element, so one photo goes out as a plain photo message.
func (a *Adapter) SendMediaGroup(ctx context.Context, to kit.ChatTarget, media []kit.Media) ([]kit.MessageRef, error) {
	if len(media) == 0 {
		return nil, errors.New("media group is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chat := &tele.Chat{ID: to.ChatID}
	opts := &tele.SendOptions{ParseMode: media[0].ParseMode, ThreadID: to.ThreadID}

	if len(media) == 1 {
		msg, err := a.send.Send(chat, toPhoto(media[0]), opts)
		if err != nil {
			return nil, toSendError(err)
		}
		return []kit.MessageRef{{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: msg.ID}}, nil
	}

	album := make(tele.Album, 0, len(media))
	for _, m := range media {
		album = append(album, toPhoto(m))
	}
	msgs, err := a.send.SendAlbum(chat, album, opts)
	if err != nil {
		return nil, toSendError(err)
	}
	refs := make([]kit.MessageRef, 0, len(msgs))
	for _, m := range msgs {
		refs = append(refs, kit.MessageRef{ChatID: to.ChatID, ThreadID: to.ThreadID, MessageID: m.ID})
	}
	return refs, nil
}

func toPhoto(m kit.Media) *tele.Photo {
	return &tele.Photo{File: tele.FromURL(m.URL), Caption: m.Caption}
}

// toSendError converts telebot failures into kit.SendError. Context errors
// pass through untouched.
func toSendError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ge tele.GroupError
	if errors.As(err, &ge) {
		return &kit.SendError{Code: 400, Description: kit.DescGroupUpgraded, MigrateTo: ge.MigratedTo, Err: err}
	}
	var gp *tele.GroupError
	if errors.As(err, &gp) && gp != nil {
		return &kit.SendError{Code: 400, Description: kit.DescGroupUpgraded, MigrateTo: gp.MigratedTo, Err: err}
	}
	var te *tele.Error
	if errors.As(err, &te) && te != nil {
		return &kit.SendError{Code: te.Code, Description: te.Description, Err: err}
	}
	// Unregistered API errors come back as plain "telegram: <desc> (<code>)".
	return &kit.SendError{Description: err.Error(), Err: err}
}
