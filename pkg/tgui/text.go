package tgui

import "unicode/utf8"

// CutRunes returns the first n runes of s. ok is false when s already fits.
func CutRunes(s string, n int) (head string, ok bool) {
	if n <= 0 {
		return "", s != ""
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i], true
		}
		count++
	}
	return s, false
}

// RuneLen counts runes, which is how Telegram measures text limits.
func RuneLen(s string) int { return utf8.RuneCountInString(s) }
