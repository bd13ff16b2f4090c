package tgui

import "unicode/utf8"

// MaxMessageLen is Telegram's limit for a message body, in runes.
const MaxMessageLen = 4096

// TruncRunes returns s cut to at most n runes, the last of which is "…"
// when s was longer.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	count := 0
	for i := range s {
		if count == n-1 {
			return s[:i] + "…"
		}
		count++
	}
	return s
}
