package transport

import (
	"errors"
	"fmt"
	"regexp"
)

// DescGroupUpgraded is the exact description Telegram returns when a group
// became a supergroup and the chat id changed.
const DescGroupUpgraded = "Bad Request: group chat was upgraded to a supergroup chat"

var unreachableRe = regexp.MustCompile(`chat not found|bot was blocked by the user|bot was kicked`)

// SendError is the adapter-neutral send failure.
type SendError struct {
	Code        int
	Description string
	// MigrateTo is the new chat id reported with a group upgrade (0 if none).
	MigrateTo int64
	Err       error
}

func (e *SendError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("send failed: %s (%d)", e.Description, e.Code)
	}
	return "send failed: " + e.Description
}

func (e *SendError) Unwrap() error { return e.Err }

// ErrorKind is the recovery-relevant class of a send failure.
type ErrorKind int

const (
	KindUnclassified ErrorKind = iota
	KindChatUnreachable
	KindGroupUpgraded
)

func (k ErrorKind) String() string {
	switch k {
	case KindChatUnreachable:
		return "chat_unreachable"
	case KindGroupUpgraded:
		return "group_upgraded"
	default:
		return "unclassified"
	}
}

// Classify parses err once into an ErrorKind. The returned *SendError is nil
// when err does not carry one (timeouts, context errors, ...).
func Classify(err error) (ErrorKind, *SendError) {
	var se *SendError
	if !errors.As(err, &se) || se == nil {
		return KindUnclassified, nil
	}
	switch {
	case se.Description == DescGroupUpgraded || se.MigrateTo != 0:
		return KindGroupUpgraded, se
	case unreachableRe.MatchString(se.Description):
		return KindChatUnreachable, se
	default:
		return KindUnclassified, se
	}
}
