package tgui

import "strings"

// ParseMarkdown is Telegram's legacy Markdown parse mode.
const ParseMarkdown = "Markdown"

var mdEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// EscMD escapes text for ParseMarkdown.
func EscMD(s string) string { return mdEscaper.Replace(s) }

// Code renders s as inline code. Backticks inside s cannot be escaped in a
// code span and are replaced with single quotes.
func Code(s string) string { return "`" + strings.ReplaceAll(s, "`", "'") + "`" }
