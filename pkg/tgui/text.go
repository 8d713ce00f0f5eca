package tgui

import (
	"strings"
	"unicode/utf8"
)

// Ellipsis marks text cut by TruncRunes.
const Ellipsis = "…"

// TruncRunes cuts s so that it fits in n runes, the trailing Ellipsis
// included. Whitespace left dangling before the cut is dropped. A limit of
// n <= 0 leaves s unchanged.
func TruncRunes(s string, n int) string {
	if n <= 0 || len(s) <= n || utf8.RuneCountInString(s) <= n {
		return s
	}
	if n == 1 {
		return Ellipsis
	}
	count := 0
	for i := range s {
		if count == n-1 {
			return strings.TrimRight(s[:i], " \t\n") + Ellipsis
		}
		count++
	}
	return s
}
