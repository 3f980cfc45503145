// Package botapi is the alternate Telegram driver built on
// go-telegram-bot-api. It implements the same transport.Adapter contract as
// the telebot driver and is selected with telegram.driver = "botapi".
package botapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	rtsup "github.com/kastnerorz/NodeRSSBot/internal/runtime/supervisor"
	kit "github.com/kastnerorz/NodeRSSBot/internal/transport"
	logx "github.com/kastnerorz/NodeRSSBot/pkg/logx"
)

const pollTimeoutSec = 30

type Config struct {
	Token string
}

// client is the slice of *tgbotapi.BotAPI used for outbound calls.
type client interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	SendMediaGroup(c tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
}

type Adapter struct {
	log logx.Logger

	bot *tgbotapi.BotAPI
	api client

	mu  sync.Mutex
	sup *rtsup.Supervisor
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log.Info("telegram bot connected", logx.String("username", bot.Self.UserName), logx.Int64("id", bot.Self.ID))
	return &Adapter{log: log, bot: bot, api: bot}, nil
}

func (a *Adapter) Start(ctx context.Context, out chan<- kit.Update) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sup != nil {
		return nil
	}
	a.sup = rtsup.New(ctx, rtsup.WithLogger(a.log.With(logx.String("comp", "telegram.botapi"))))

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeoutSec
	updates := a.bot.GetUpdatesChan(u)

	a.sup.Go0("botapi.poll", func(c context.Context) {
		a.log.Info("polling started")
		defer a.log.Info("polling stopped")
		for {
			select {
			case <-c.Done():
				a.bot.StopReceivingUpdates()
				return
			case up, ok := <-updates:
				if !ok {
					return
				}
				if up.Message == nil || up.Message.From == nil || up.Message.Chat == nil {
					continue
				}
				select {
				case out <- kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
					ID:           up.Message.MessageID,
					ChatID:       up.Message.Chat.ID,
					FromID:       up.Message.From.ID,
					FromUsername: up.Message.From.UserName,
					Text:         up.Message.Text,
				}}:
				default:
					a.log.Warn("incoming update dropped (channel full)", logx.Int("chan_cap", cap(out)))
				}
			}
		}
	})
	return nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	sup := a.sup
	a.sup = nil
	a.mu.Unlock()
	if sup == nil {
		return nil
	}
	wctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := sup.Stop(wctx); err != nil {
		a.log.Warn("telegram stop incomplete", logx.Err(err))
	}
	return nil
}

// SendText sends text in chunks of at most transport.TextLimit runes and
// returns the reference of the first one. ctx is checked before each chunk;
// tgbotapi does not take a context, so a call in flight is not canceled.
func (a *Adapter) SendText(ctx context.Context, to kit.ChatTarget, text string, opt *kit.SendOptions) (kit.MessageRef, error) {
	if opt == nil {
		opt = &kit.SendOptions{}
	}
	var first kit.MessageRef
	for i, chunk := range kit.SplitText(text, kit.TextLimit, opt.ParseMode) {
		if err := ctx.Err(); err != nil {
			return first, err
		}
		msg := tgbotapi.NewMessage(to.ChatID, chunk)
		msg.ParseMode = opt.ParseMode
		msg.DisableWebPagePreview = opt.DisablePreview
		sent, err := a.api.Send(msg)
		if err != nil {
			return first, toSendError(err)
		}
		if i == 0 {
			first = kit.MessageRef{ChatID: to.ChatID, MessageID: sent.MessageID}
		}
	}
	return first, nil
}

// SendMediaGroup sends an album; a single photo goes out as a photo message.
func (a *Adapter) SendMediaGroup(ctx context.Context, to kit.ChatTarget, media []kit.Media) ([]kit.MessageRef, error) {
	if len(media) == 0 {
		return nil, errors.New("media group is empty")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if len(media) == 1 {
		p := tgbotapi.NewPhoto(to.ChatID, tgbotapi.FileURL(media[0].URL))
		p.Caption = media[0].Caption
		p.ParseMode = media[0].ParseMode
		sent, err := a.api.Send(p)
		if err != nil {
			return nil, toSendError(err)
		}
		return []kit.MessageRef{{ChatID: to.ChatID, MessageID: sent.MessageID}}, nil
	}

	files := make([]interface{}, 0, len(media))
	for _, m := range media {
		p := tgbotapi.NewInputMediaPhoto(tgbotapi.FileURL(m.URL))
		p.Caption = m.Caption
		p.ParseMode = m.ParseMode
		files = append(files, p)
	}
	msgs, err := a.api.SendMediaGroup(tgbotapi.NewMediaGroup(to.ChatID, files))
	if err != nil {
		return nil, toSendError(err)
	}
	refs := make([]kit.MessageRef, 0, len(msgs))
	for _, m := range msgs {
		refs = append(refs, kit.MessageRef{ChatID: to.ChatID, MessageID: m.MessageID})
	}
	return refs, nil
}

func toSendError(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var ep *tgbotapi.Error
	if errors.As(err, &ep) && ep != nil {
		return &kit.SendError{Code: ep.Code, Description: ep.Message, MigrateTo: ep.MigrateToChatID, Err: err}
	}
	var ev tgbotapi.Error
	if errors.As(err, &ev) {
		return &kit.SendError{Code: ev.Code, Description: ev.Message, MigrateTo: ev.MigrateToChatID, Err: err}
	}
	return &kit.SendError{Description: err.Error(), Err: err}
}
