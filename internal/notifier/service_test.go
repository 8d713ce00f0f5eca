package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/utestwalter/Mila/internal/eventbus"
	"github.com/utestwalter/Mila/internal/transport"
	"github.com/utestwalter/Mila/pkg/logx"
)

type fakeSender struct {
	mu    sync.Mutex
	fails []error
	sent  []string
	calls int
}

func (f *fakeSender) SendText(_ context.Context, _ transport.ChatTarget, text string, _ *transport.SendOptions) (transport.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.fails) > 0 {
		err := f.fails[0]
		f.fails = f.fails[1:]
		return transport.MessageRef{}, err
	}
	f.sent = append(f.sent, text)
	return transport.MessageRef{MessageID: f.calls}, nil
}

type floodErr struct{ after int }

func (e floodErr) Error() string          { return "flood" }
func (e floodErr) RetryAfterSeconds() int { return e.after }

var target = transport.ChatTarget{ChatID: 42}

func fastConfig() Config {
	return Config{RatePerSec: 100, RetryMax: 2, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	snd := &fakeSender{fails: []error{errors.New("timeout"), errors.New("502")}}
	bus := eventbus.New()
	events, unsub := bus.Subscribe(8)
	defer unsub()

	s := New(fastConfig(), snd, logx.Nop(), bus)
	require.NoError(t, s.Deliver(context.Background(), target, "hello"))
	require.Equal(t, 3, snd.calls)
	require.Equal(t, []string{"hello"}, snd.sent)

	h := s.History()
	require.Len(t, h, 1)
	require.Equal(t, 3, h[0].Attempts)
	require.Empty(t, h[0].Error)

	ev := <-events
	require.Equal(t, EventSent, ev.Type)
}

func TestDeliverGivesUp(t *testing.T) {
	t.Parallel()

	boom := errors.New("chat not found")
	snd := &fakeSender{fails: []error{boom, boom, boom, boom}}
	s := New(fastConfig(), snd, logx.Nop(), nil)

	err := s.Deliver(context.Background(), target, "hello")
	require.ErrorIs(t, err, boom)
	require.Equal(t, 3, snd.calls)
	require.Equal(t, "chat not found", s.History()[0].Error)
}

func TestDeliverValidation(t *testing.T) {
	t.Parallel()

	s := New(fastConfig(), &fakeSender{}, logx.Nop(), nil)
	require.ErrorIs(t, s.Deliver(context.Background(), target, "  "), ErrEmptyText)
	require.ErrorIs(t, s.Deliver(context.Background(), transport.ChatTarget{}, "x"), ErrNoTarget)
	require.ErrorIs(t, New(Config{}, nil, logx.Nop(), nil).Deliver(context.Background(), target, "x"), ErrNoSender)
}

func TestDeliverDedup(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.DedupWindow = time.Minute
	snd := &fakeSender{}
	s := New(cfg, snd, logx.Nop(), nil)

	require.NoError(t, s.Deliver(context.Background(), target, "same"))
	require.NoError(t, s.Deliver(context.Background(), target, "same"))
	require.NoError(t, s.Deliver(context.Background(), transport.ChatTarget{ChatID: 43}, "same"))
	require.Equal(t, 2, snd.calls)
}

func TestDeliverTaskDedupIsPerTask(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.DedupWindow = time.Minute
	snd := &fakeSender{}
	s := New(cfg, snd, logx.Nop(), nil)
	ctx := context.Background()

	// Two tasks firing together may send the same fixed text.
	require.NoError(t, s.DeliverTask(ctx, "alice_news", target, "Nothing found"))
	require.NoError(t, s.DeliverTask(ctx, "alice_weather", target, "Nothing found"))
	require.NoError(t, s.DeliverTask(ctx, "alice_news", target, "Nothing found"))
	require.Equal(t, []string{"Nothing found", "Nothing found"}, snd.sent)
}

func TestDeliverDedupIgnoresFailedSends(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.RetryMax = 0
	cfg.DedupWindow = time.Minute
	boom := errors.New("502")
	snd := &fakeSender{fails: []error{boom}}
	s := New(cfg, snd, logx.Nop(), nil)

	require.ErrorIs(t, s.DeliverTask(context.Background(), "alice_news", target, "digest"), boom)
	require.NoError(t, s.DeliverTask(context.Background(), "alice_news", target, "digest"))
	require.Equal(t, []string{"digest"}, snd.sent)
}

func TestRetryDelayHonorsFloodHint(t *testing.T) {
	t.Parallel()

	cfg := Config{RetryBase: time.Second, RetryMaxDelay: 30 * time.Second}.withDefaults()
	require.Equal(t, 7*time.Second, retryDelay(cfg, 1, floodErr{after: 7}))
	require.Equal(t, 30*time.Second, retryDelay(cfg, 1, floodErr{after: 300}))

	d := retryDelay(cfg, 3, errors.New("x"))
	require.GreaterOrEqual(t, d, 2800*time.Millisecond)
	require.LessOrEqual(t, d, 5200*time.Millisecond)
}

func TestDeliverStopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := fastConfig()
	cfg.RetryBase = time.Hour
	cfg.RetryMaxDelay = time.Hour
	snd := &fakeSender{fails: []error{errors.New("down")}}
	s := New(cfg, snd, logx.Nop(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Deliver(ctx, target, "hello")
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Equal(t, 1, snd.calls)
}
