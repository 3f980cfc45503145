package tgui

import (
	"html"
	"strings"
)

// ParseModeHTML is the Telegram parse mode used by every rendered message.
const ParseModeHTML = "HTML"

// H is HTML that is safe to pass to Telegram with ParseMode HTML.
// Values of type H are already escaped.
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

// Raw marks a string as already-safe HTML.
func Raw(s string) H { return H(s) }

// Bold wraps already-safe HTML in <b>.
func Bold(inner H) H { return H("<b>" + inner.String() + "</b>") }

// Anchor builds a link. href is inserted as given; callers decide whether it
// needs escaping.
func Anchor(href string, text H) H {
	return H(`<a href="` + href + `">` + text.String() + `</a>`)
}

// Lines joins parts with newlines, skipping blank ones.
func Lines(parts ...H) H {
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p.String()) == "" {
			continue
		}
		ss = append(ss, p.String())
	}
	return H(strings.Join(ss, "\n"))
}
