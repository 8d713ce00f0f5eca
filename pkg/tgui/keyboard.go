package tgui

import (
	tele "gopkg.in/telebot.v4"

	"github.com/utestwalter/Mila/internal/transport"
)

// Reply builds a persistent, resized reply keyboard. Empty labels are
// skipped and empty rows dropped; nil is returned when nothing is left.
func Reply(kb transport.Keyboard) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{ResizeKeyboard: true}
	rows := make([]tele.Row, 0, len(kb))
	for _, labels := range kb {
		btns := make([]tele.Btn, 0, len(labels))
		for _, l := range labels {
			if l == "" {
				continue
			}
			btns = append(btns, rm.Text(l))
		}
		if len(btns) > 0 {
			rows = append(rows, rm.Row(btns...))
		}
	}
	if len(rows) == 0 {
		return nil
	}
	rm.Reply(rows...)
	return rm
}

// Remove hides a previously shown reply keyboard.
func Remove() *tele.ReplyMarkup {
	return &tele.ReplyMarkup{RemoveKeyboard: true}
}

// Markup maps send options to telebot markup, nil when none applies.
func Markup(opt *transport.SendOptions) *tele.ReplyMarkup {
	switch {
	case opt == nil:
		return nil
	case opt.RemoveKeyboard:
		return Remove()
	case len(opt.Keyboard) > 0:
		return Reply(opt.Keyboard)
	}
	return nil
}
