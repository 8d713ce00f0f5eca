package logx

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/rs/zerolog"

	"github.com/utestwalter/Mila/internal/transport"
)

const (
	telegramMaxLine  = 3500
	telegramMaxField = 600
	telegramMaxStack = 900
)

// telegramWriter is a zerolog level writer forwarding records to the admin chat.
type telegramWriter struct{ svc *Service }

func (w *telegramWriter) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.InfoLevel, p)
}

func (w *telegramWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	s := w.svc
	if s == nil {
		return len(p), nil
	}

	s.mu.Lock()
	chatID := s.chatID
	threadID := s.threadID
	lim := s.limiter
	minLevel := s.minLevel
	s.mu.Unlock()

	if chatID == 0 || s.sender == nil || lim == nil || level < minLevel {
		return len(p), nil
	}
	if !lim.Allow() {
		return len(p), nil
	}
	if msg := formatTelegramJSON(p); msg != "" {
		s.enqueueTelegramLog(transport.ChatTarget{ChatID: chatID, ThreadID: threadID}, msg)
	}
	return len(p), nil
}

// formatTelegramJSON renders one zerolog JSON line as a compact chat message.
// Extra fields are sorted so repeated errors look the same.
func formatTelegramJSON(p []byte) string {
	raw := strings.TrimSpace(string(p))
	var m map[string]any
	if err := sonic.UnmarshalString(raw, &m); err != nil {
		return truncate(raw, telegramMaxLine)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)
	if msg == "" {
		msg, _ = m["msg"].(string)
	}

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[")
		b.WriteString(strings.ToUpper(lvl))
		b.WriteString("] ")
	}
	b.WriteString(msg)

	keys := make([]string, 0, len(m))
	for k := range m {
		switch k {
		case "time", "level", "message", "msg":
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := fmt.Sprint(m[k])
		if k == "stack" {
			b.WriteString("\n- stack=\n")
			b.WriteString(truncate(v, telegramMaxStack))
			continue
		}
		b.WriteString("\n- ")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(truncate(v, telegramMaxField))
	}
	return truncate(b.String(), telegramMaxLine)
}

// truncate caps s at maxN runes, marking the cut with "...".
func truncate(s string, maxN int) string {
	if maxN <= 0 || utf8.RuneCountInString(s) <= maxN {
		return s
	}
	r := []rune(s)
	if maxN < 10 {
		return string(r[:maxN])
	}
	return string(r[:maxN-3]) + "..."
}
