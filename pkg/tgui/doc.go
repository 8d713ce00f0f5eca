// Package tgui holds small Telegram UI helpers: reply keyboard markup and
// text helpers for Telegram's legacy Markdown parse mode.
package tgui
