package tgui

import "unicode/utf8"

// TruncRunes cuts s to n runes, ending with "…" when something was dropped.
func TruncRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i, seen := 0, 0
	for seen < n {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		seen++
	}
	return s[:i] + "…"
}
