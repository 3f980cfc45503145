// Package router dispatches operator commands received through the
// transport adapter to registered handlers.
package router

import (
	"context"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	rtsup "github.com/kastnerorz/NodeRSSBot/internal/runtime/supervisor"
	kit "github.com/kastnerorz/NodeRSSBot/internal/transport"
	logx "github.com/kastnerorz/NodeRSSBot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessOwnerOnly
)

// Command is one slash command.
type Command struct {
	Name        string
	Description string
	Usage       string
	Access      Access
	// Timeout bounds the handler; zero means no bound.
	Timeout time.Duration
	Handle  HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	Command string
	// Args are the whitespace separated tokens after the command word.
	Args []string
	// Rest is the raw text after the command word, with its inner
	// whitespace and line breaks intact.
	Rest    string
	ReqID   string
	Adapter kit.Adapter
	Logger  logx.Logger
}

// Reply sends an HTML message back to the chat the command came from.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{ParseMode: "HTML", DisablePreview: true})
	return err
}

// CommandManager routes message updates to commands on a bounded worker pool.
type CommandManager struct {
	mu     sync.RWMutex
	cmds   map[string]Command
	owners []int64

	log     logx.Logger
	adapter kit.Adapter
	workers int

	jobs chan func()
}

func NewCommandManager(log logx.Logger, adapter kit.Adapter, owners []int64) *CommandManager {
	if log.IsZero() {
		log = logx.Nop()
	}
	m := &CommandManager{
		cmds:    map[string]Command{},
		owners:  append([]int64(nil), owners...),
		log:     log,
		adapter: adapter,
		workers: 2,
		jobs:    make(chan func(), 64),
	}
	m.Register(m.helpCommand())
	return m
}

// Register adds or replaces commands by name.
func (m *CommandManager) Register(cmds ...Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cmds {
		name := strings.ToLower(strings.TrimSpace(c.Name))
		if name == "" || c.Handle == nil {
			continue
		}
		c.Name = name
		m.cmds[name] = c
	}
}

// SetOwners updates the owner list. Safe to call during hot-reload.
func (m *CommandManager) SetOwners(owners []int64) {
	cp := append([]int64(nil), owners...)
	m.mu.Lock()
	m.owners = cp
	m.mu.Unlock()
}

func (m *CommandManager) lookup(name string) (Command, []int64, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cmds[name]
	return c, m.owners, ok
}

func (m *CommandManager) commands() []Command {
	m.mu.RLock()
	out := make([]Command, 0, len(m.cmds))
	for _, c := range m.cmds {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DispatchLoop consumes updates until ctx ends or the channel closes.
func (m *CommandManager) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	sup := rtsup.New(ctx,
		rtsup.WithLogger(m.log.With(logx.String("comp", "router"))),
		rtsup.WithCancelOnError(false),
	)
	for i := range m.workers {
		sup.GoRestart("command.worker."+strconv.Itoa(i), func(c context.Context) error {
			m.workerLoop(c, i)
			return nil
		}, rtsup.WithRestartBackoff(200*time.Millisecond, 5*time.Second), rtsup.WithStopOnCleanExit(true))
	}
	m.log.Info("command dispatcher started", logx.Int("workers", m.workers))

	defer func() {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		_ = sup.Wait(wctx)
		cancel()
		m.log.Info("command dispatcher stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			m.route(ctx, up)
		}
	}
}

func (m *CommandManager) workerLoop(ctx context.Context, idx int) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-m.jobs:
			func() {
				defer func() {
					if r := recover(); r != nil {
						m.log.Error("panic in command job", logx.Int("worker", idx), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
					}
				}()
				job()
			}()
		}
	}
}

func (m *CommandManager) route(ctx context.Context, up kit.Update) {
	if up.Kind != kit.UpdateMessage || up.Message == nil {
		return
	}
	msg := up.Message
	word, rest, ok := parseCommand(msg.Text)
	if !ok {
		return
	}
	chat := kit.ChatTarget{ChatID: msg.ChatID, ThreadID: msg.ThreadID}

	cmd, owners, found := m.lookup(word)
	if !found {
		_, _ = m.adapter.SendText(ctx, chat, "unknown command, try /help", nil)
		return
	}
	if cmd.Access == AccessOwnerOnly && !isOwner(msg.FromID, owners) {
		_, _ = m.adapter.SendText(ctx, chat, "unauthorized", nil)
		return
	}

	rid := uuid.NewString()[:8]
	req := &Request{
		Update:  up,
		Chat:    chat,
		FromID:  msg.FromID,
		Command: cmd.Name,
		Args:    strings.Fields(rest),
		Rest:    rest,
		ReqID:   rid,
		Adapter: m.adapter,
		Logger: m.log.With(
			logx.String("rid", rid),
			logx.Int64("chat_id", msg.ChatID),
			logx.Int64("from_id", msg.FromID),
			logx.String("cmd", cmd.Name),
		),
	}
	final := Chain(cmd.Handle,
		MWPanicRecover(m.log),
		MWRequestLog(m.log),
		MWTimeout(cmd.Timeout),
	)

	select {
	case m.jobs <- func() { _ = final(ctx, req) }:
	default:
		_, _ = m.adapter.SendText(ctx, chat, "busy, try again", nil)
	}
}

// parseCommand splits "/name@bot rest" into the lower-cased name and the
// trimmed remainder.
func parseCommand(text string) (name, rest string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	word := text[1:]
	if i := strings.IndexFunc(word, unicode.IsSpace); i >= 0 {
		word, rest = word[:i], strings.TrimSpace(word[i:])
	}
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}
	if word == "" {
		return "", "", false
	}
	return strings.ToLower(word), rest, true
}

// cutWord splits s at its first whitespace run.
func cutWord(s string) (head, tail string) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, unicode.IsSpace)
	if i < 0 {
		return s, ""
	}
	return s[:i], strings.TrimSpace(s[i:])
}

func isOwner(id int64, owners []int64) bool {
	for _, o := range owners {
		if o == id {
			return true
		}
	}
	return false
}
