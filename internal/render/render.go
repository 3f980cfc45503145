// Package render turns feed updates into Telegram-ready message payloads.
//
// Rendering is pure: it never mutates the update it reads, so the same
// (update, recipient) pair always yields byte-identical output and one
// recipient's render cannot observe another's.
package render

import (
	"regexp"
	"strings"

	"github.com/kastnerorz/NodeRSSBot/internal/feed"
	"github.com/kastnerorz/NodeRSSBot/pkg/tgui"
)

const (
	paragraphBreak = "<br><br>"
	lineBreak      = "<br>"
)

// Sanitizer neutralizes markup-significant characters.
type Sanitizer func(string) string

// Escape is the default Sanitizer for Telegram HTML parse mode.
func Escape(s string) string { return tgui.Esc(s).String() }

type Renderer struct {
	opt      Options
	sanitize Sanitizer

	nameRe  *regexp.Regexp
	imageRe *regexp.Regexp
}

// New compiles the category patterns once. A nil sanitize falls back to Escape.
func New(opt Options, sanitize Sanitizer) *Renderer {
	opt = opt.withDefaults()
	if sanitize == nil {
		sanitize = Escape
	}
	return &Renderer{
		opt:      opt,
		sanitize: sanitize,
		nameRe:   regexp.MustCompile(`^(.*)的`),
		imageRe: regexp.MustCompile(`<img referrerpolicy="no-referrer" src="(https://` +
			regexp.QuoteMeta(opt.MediaHost) + `/[A-Za-z0-9_-]*\.(?:jpe?g|png))\?`),
	}
}

// IsRich reports whether f belongs to the rich-embedded category.
func (r *Renderer) IsRich(f feed.Feed) bool {
	return strings.Contains(f.Title, r.opt.RichMarker)
}

// Render returns the messages for one recipient. The output does not depend
// on the recipient today; the parameter keeps per-recipient rendering explicit.
func (r *Renderer) Render(u feed.Update, _ feed.Recipient) []Message {
	if u.IsText() {
		return []Message{{Kind: KindText, Text: u.Text}}
	}
	if r.IsRich(u.Feed) {
		return r.renderRich(u)
	}
	if len(u.Items) == 0 {
		return nil
	}
	return []Message{r.renderDigest(u)}
}

// renderDigest aggregates every item into one text message.
func (r *Renderer) renderDigest(u feed.Update) Message {
	var b strings.Builder
	b.WriteString(tgui.Bold(tgui.Raw(r.sanitize(u.Feed.Title))).String())
	for _, it := range u.Items {
		b.WriteByte('\n')
		b.WriteString(tgui.Anchor(strings.TrimSpace(it.Link), tgui.Raw(r.sanitize(it.Title))).String())
	}
	return Message{Kind: KindText, Text: b.String()}
}

// renderRich emits one message per item, in item order.
func (r *Renderer) renderRich(u feed.Update) []Message {
	name := r.displayName(u.Feed.Title)
	out := make([]Message, 0, len(u.Items))
	for _, it := range u.Items {
		caption := r.caption(name, bodyBeforeBreak(it.Content), it.Link)
		images := r.images(it.Content)
		if len(images) == 0 {
			out = append(out, Message{Kind: KindText, Text: caption})
			continue
		}
		media := make([]Media, len(images))
		for i, src := range images {
			media[i] = Media{URL: src}
		}
		media[0].Caption = caption
		out = append(out, Message{Kind: KindCaption, Media: media})
	}
	return out
}

func (r *Renderer) displayName(title string) string {
	m := r.nameRe.FindStringSubmatch(title)
	if len(m) < 2 || m[1] == "" {
		return r.opt.DefaultName
	}
	return r.sanitize(m[1])
}

// images returns trusted image URLs in document order, capped at MediaLimit.
func (r *Renderer) images(content string) []string {
	matches := r.imageRe.FindAllStringSubmatch(content, r.opt.MediaLimit)
	if len(matches) == 0 {
		return nil
	}
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		urls = append(urls, m[1])
	}
	return urls
}

// caption composes "<b>name</b>\nbody" plus the trailing link. An over-long
// caption is cut once to CaptionCut runes; the result is not re-measured.
func (r *Renderer) caption(name, body, link string) string {
	caption := tgui.Bold(tgui.Raw(name)).String() + "\n" + body
	anchor := "\n" + tgui.Anchor(link, tgui.Raw(r.opt.LinkLabel)).String()
	if tgui.RuneLen(caption) > r.opt.CaptionLimit {
		head, _ := tgui.CutRunes(caption, r.opt.CaptionCut)
		return head + "...\n" + anchor
	}
	return caption + "\n" + anchor
}

// bodyBeforeBreak drops everything from the first paragraph break on and
// turns the remaining line breaks into newlines. Content without a paragraph
// break is used whole.
func bodyBeforeBreak(content string) string {
	if i := strings.Index(content, paragraphBreak); i >= 0 {
		content = content[:i]
	}
	return strings.ReplaceAll(content, lineBreak, "\n")
}
