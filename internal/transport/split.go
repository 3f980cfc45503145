package transport

import "strings"

// TextLimit stays under Telegram's 4096 limit to leave room for entities.
const TextLimit = 4000

// SplitText cuts s into chunks of at most limit runes. A cut prefers the
// last newline in the back two thirds of the window and, for HTML, never
// lands inside a tag. Newlines at a cut are dropped.
func SplitText(s string, limit int, parseMode string) []string {
	if limit <= 0 {
		limit = TextLimit
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return []string{s}
	}
	html := strings.EqualFold(parseMode, "HTML")

	var chunks []string
	for len(rs) > 0 {
		cut := len(rs)
		if cut > limit {
			cut = chunkEnd(rs, limit, html)
		}
		chunks = append(chunks, strings.TrimRight(string(rs[:cut]), "\n"))
		rs = rs[cut:]
		for len(rs) > 0 && rs[0] == '\n' {
			rs = rs[1:]
		}
	}
	return chunks
}

// chunkEnd picks the cut for a window of rs longer than limit.
func chunkEnd(rs []rune, limit int, html bool) int {
	cut := limit
	for i := limit - 1; i >= limit/3 && i > 0; i-- {
		if rs[i] == '\n' {
			cut = i + 1
			break
		}
	}
	if !html {
		return cut
	}
	open := -1
	for i := cut - 1; i >= 0; i-- {
		if rs[i] == '>' {
			break
		}
		if rs[i] == '<' {
			open = i
			break
		}
	}
	if open > 1 {
		return open
	}
	return cut
}
