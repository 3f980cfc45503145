package transport

import "context"

type UpdateKind string

const (
	UpdateMessage UpdateKind = "message"
)

// Update is an incoming event from the messaging platform.
type Update struct {
	Kind    UpdateKind
	Message *Message
}

type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // telegram forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
}

type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
}

// Media is one attachment of a media group. Caption is only honored by
// platforms on the first element.
type Media struct {
	URL       string
	Caption   string
	ParseMode string
}

// Adapter is the messaging gateway. Send failures should be (or wrap) a
// *SendError so callers can classify them.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendMediaGroup(ctx context.Context, to ChatTarget, media []Media) ([]MessageRef, error)
}
