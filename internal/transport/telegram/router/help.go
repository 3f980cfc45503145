package router

import (
	"context"

	"github.com/kastnerorz/NodeRSSBot/pkg/tgui"
)

func (m *CommandManager) helpCommand() Command {
	return Command{
		Name:        "help",
		Description: "list commands",
		Usage:       "/help",
		Access:      AccessEveryone,
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, m.helpText(isOwner(req.FromID, m.ownersSnapshot())))
		},
	}
}

func (m *CommandManager) ownersSnapshot() []int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]int64(nil), m.owners...)
}

// helpText renders the command list in HTML parse mode. Owner-only
// commands are listed for owners only.
func (m *CommandManager) helpText(owner bool) string {
	lines := []tgui.H{tgui.Bold(tgui.Esc("Commands"))}
	for _, c := range m.commands() {
		if c.Access == AccessOwnerOnly && !owner {
			continue
		}
		usage := c.Usage
		if usage == "" {
			usage = "/" + c.Name
		}
		line := tgui.Raw("<code>" + tgui.Esc(usage).String() + "</code>")
		if c.Description != "" {
			line = tgui.Raw(line.String() + " " + tgui.Esc(c.Description).String())
		}
		lines = append(lines, line)
	}
	return tgui.Lines(lines...).String()
}
