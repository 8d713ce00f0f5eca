package adapter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kit "github.com/utestwalter/Mila/internal/transport"
	"github.com/utestwalter/Mila/pkg/logx"
)

func TestSplitText(t *testing.T) {
	t.Parallel()

	short := "hello"
	assert.Equal(t, []string{short}, splitText(short, 10))

	// Prefers the newline inside the window.
	s := strings.Repeat("a", 6) + "\n" + strings.Repeat("b", 6)
	assert.Equal(t, []string{"aaaaaa", "bbbbbb"}, splitText(s, 10))

	// No usable newline: hard cut on rune count.
	long := strings.Repeat("ж", 25)
	parts := splitText(long, 10)
	require.Len(t, parts, 3)
	for _, p := range parts {
		assert.LessOrEqual(t, utf8.RuneCountInString(p), 10)
	}
	assert.Equal(t, long, strings.Join(parts, ""))
}

func TestWrapSendErr(t *testing.T) {
	t.Parallel()
	assert.Nil(t, wrapSendErr(nil))

	plain := errors.New("boom")
	assert.Same(t, plain, wrapSendErr(plain))

	var ra kit.RetryAfterError = &floodError{after: 7, err: plain}
	assert.Equal(t, 7, ra.RetryAfterSeconds())
	assert.ErrorIs(t, ra, plain)
}

type fakeAPI struct {
	mu       sync.Mutex
	requests []map[string]any
	// reply is called per sendMessage and returns the raw JSON body.
	reply func(n int, req map[string]any) string
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	var req map[string]any
	_ = sonic.Unmarshal(body, &req)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if !strings.HasSuffix(r.URL.Path, "/sendMessage") {
		_, _ = io.WriteString(w, `{"ok":true,"result":true}`)
		return
	}
	_, _ = io.WriteString(w, f.reply(n, req))
}

func okMessage(id int) string {
	return `{"ok":true,"result":{"message_id":` + strconv.Itoa(id) + `,"date":0,"chat":{"id":42,"type":"private"},"text":"x"}}`
}

func newTestAdapter(t *testing.T, api *fakeAPI) *Adapter {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	a, err := New(Config{Token: "123:abc", APIURL: srv.URL, Offline: true}, logx.Nop())
	require.NoError(t, err)
	return a
}

func TestSendTextSplitsAndAttachesKeyboardOnce(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{reply: func(n int, _ map[string]any) string { return okMessage(100 + n) }}
	a := newTestAdapter(t, api)

	text := strings.Repeat("line\n", 1000) // 5000 runes
	ref, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 42}, text, &kit.SendOptions{
		Keyboard: kit.Keyboard{{"📝 New Task"}},
	})
	require.NoError(t, err)
	assert.Equal(t, 101, ref.MessageID)

	require.Len(t, api.requests, 2)
	assert.Contains(t, api.requests[0], "reply_markup")
	assert.NotContains(t, api.requests[1], "reply_markup")
	for _, r := range api.requests {
		assert.LessOrEqual(t, utf8.RuneCountInString(r["text"].(string)), telegramTextLimit)
	}
}

func TestSendTextFallsBackToPlainOnParseError(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{reply: func(n int, req map[string]any) string {
		if pm, _ := req["parse_mode"].(string); pm != "" {
			return `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities: can't find end of the entity"}`
		}
		return okMessage(n)
	}}
	a := newTestAdapter(t, api)

	_, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 42}, "broken *markdown", &kit.SendOptions{ParseMode: "Markdown"})
	require.NoError(t, err)
	require.Len(t, api.requests, 2)
	assert.Equal(t, "Markdown", api.requests[0]["parse_mode"])
	_, hasMode := api.requests[1]["parse_mode"]
	assert.False(t, hasMode)
}

func TestSendTextSurfacesFloodHint(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{reply: func(int, map[string]any) string {
		return `{"ok":false,"error_code":429,"description":"Too Many Requests: retry after 5","parameters":{"retry_after":5}}`
	}}
	a := newTestAdapter(t, api)

	_, err := a.SendText(context.Background(), kit.ChatTarget{ChatID: 42}, "hi", nil)
	require.Error(t, err)
	var ra kit.RetryAfterError
	require.ErrorAs(t, err, &ra)
	assert.Equal(t, 5, ra.RetryAfterSeconds())
}

func TestUpdateMenuCommandsSkipsUnchanged(t *testing.T) {
	t.Parallel()
	api := &fakeAPI{reply: func(n int, _ map[string]any) string { return okMessage(n) }}
	a := newTestAdapter(t, api)

	cmds := []kit.BotCommand{{Command: "start", Description: "Start"}, {Command: "list"}}
	require.NoError(t, a.UpdateMenuCommands(context.Background(), cmds))
	require.NoError(t, a.UpdateMenuCommands(context.Background(), cmds))
	assert.Len(t, api.requests, 1)
}

func TestNewRequiresToken(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Token: "  "}, logx.Nop())
	require.Error(t, err)
}
