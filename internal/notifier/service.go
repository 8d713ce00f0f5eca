package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/utestwalter/Mila/internal/eventbus"
	"github.com/utestwalter/Mila/internal/transport"
	"github.com/utestwalter/Mila/pkg/logx"
)

var (
	ErrNoSender  = errors.New("notifier: no sender configured")
	ErrEmptyText = errors.New("notifier: empty text")
	ErrNoTarget  = errors.New("notifier: empty target")
)

// Service is safe for concurrent use.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	sender  Sender
	log     logx.Logger
	bus     eventbus.Bus

	// In-memory dedup cache: key -> suppress until
	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, sender Sender, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		log:    log.With(logx.String("comp", "notifier")),
		bus:    bus,
		dedup:  map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	cfg = cfg.withDefaults()
	s.cfg = cfg
	// Token bucket: burst = rate per sec, so short spikes don't block too hard.
	if s.limiter == nil {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
		return
	}
	s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))
	s.limiter.SetBurst(cfg.RatePerSec)
}

// Deliver sends text to the target with the default options.
func (s *Service) Deliver(ctx context.Context, to transport.ChatTarget, text string) error {
	s.mu.Lock()
	opt := &transport.SendOptions{DisablePreview: s.cfg.DisablePreview}
	s.mu.Unlock()
	return s.DeliverWith(ctx, to, text, opt)
}

// DeliverTask sends text on behalf of one task execution. Dedup is scoped
// to the task, so identical texts from different tasks are all delivered.
func (s *Service) DeliverTask(ctx context.Context, taskID string, to transport.ChatTarget, text string) error {
	s.mu.Lock()
	opt := &transport.SendOptions{DisablePreview: s.cfg.DisablePreview}
	s.mu.Unlock()
	return s.deliver(ctx, "task:"+taskID, to, text, opt)
}

// DeliverWith sends text, waiting for the rate limiter and retrying failed
// attempts. It returns the last send error once retries are exhausted.
func (s *Service) DeliverWith(ctx context.Context, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	return s.deliver(ctx, "", to, text, opt)
}

func (s *Service) deliver(ctx context.Context, scope string, to transport.ChatTarget, text string, opt *transport.SendOptions) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	if to.IsZero() {
		return ErrNoTarget
	}

	s.mu.Lock()
	cfg := s.cfg
	lim := s.limiter
	sender := s.sender
	s.mu.Unlock()
	if sender == nil {
		return ErrNoSender
	}

	key := dedupKey(scope, to, text)
	if cfg.DedupWindow > 0 && s.dedupSeen(key) {
		s.log.Debug("delivery deduped", logx.String("target", to.String()), logx.String("key", key))
		eventbus.Publish(s.bus, EventDeduped, DeliveryEvent{ChatID: to.ChatID, ThreadID: to.ThreadID, Key: key, At: time.Now()})
		return nil
	}

	maxAttempts := 1 + cfg.RetryMax
	var lastErr error
	attempt := 0
retry:
	for attempt < maxAttempts {
		attempt++
		if err := lim.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		callCtx, cancel := context.WithTimeout(ctx, cfg.SendTimeout)
		_, err := sender.SendText(callCtx, to, text, opt)
		cancel()
		if err == nil {
			if cfg.DedupWindow > 0 {
				s.dedupMark(key, cfg.DedupWindow, cfg.DedupMaxEntries)
			}
			s.appendHistory(cfg, HistoryItem{At: time.Now(), ChatID: to.ChatID, ThreadID: to.ThreadID, Text: text, Attempts: attempt})
			eventbus.Publish(s.bus, EventSent, DeliveryEvent{ChatID: to.ChatID, ThreadID: to.ThreadID, Key: key, At: time.Now(), Attempts: attempt})
			return nil
		}
		lastErr = err
		s.log.Debug("send failed", logx.Err(err), logx.Int("attempt", attempt), logx.Int("max", maxAttempts))

		if attempt >= maxAttempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt, err))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			lastErr = fmt.Errorf("%w (last send error: %v)", ctx.Err(), err)
			break retry
		}
	}

	s.log.Warn("delivery failed", logx.String("target", to.String()), logx.Int("attempts", attempt), logx.Err(lastErr))
	s.appendHistory(cfg, HistoryItem{At: time.Now(), ChatID: to.ChatID, ThreadID: to.ThreadID, Text: text, Attempts: attempt, Error: lastErr.Error()})
	eventbus.Publish(s.bus, EventFailed, DeliveryEvent{ChatID: to.ChatID, ThreadID: to.ThreadID, Key: key, At: time.Now(), Attempts: attempt, Error: lastErr.Error()})
	return lastErr
}

func (s *Service) History() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(cfg Config, it HistoryItem) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > cfg.HistorySize {
		s.history = s.history[len(s.history)-cfg.HistorySize:]
	}
	s.hmu.Unlock()
}

func dedupKey(scope string, to transport.ChatTarget, text string) string {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%s|%d:%d|", scope, to.ChatID, to.ThreadID)
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%x", h.Sum64())
}

// dedupSeen reports whether key was delivered within its window. Only
// successful sends are marked, so a failed delivery can always be retried.
func (s *Service) dedupSeen(key string) bool {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	until, ok := s.dedup[key]
	return ok && time.Now().Before(until)
}

func (s *Service) dedupMark(key string, window time.Duration, maxEntries int) {
	now := time.Now()
	s.dmu.Lock()
	defer s.dmu.Unlock()
	s.dedup[key] = now.Add(window)

	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	// Remove entries with earliest expiry until within cap.
	for len(s.dedup) > maxEntries {
		var minKey string
		var minT time.Time
		for k, t := range s.dedup {
			if minKey == "" || t.Before(minT) {
				minKey, minT = k, t
			}
		}
		delete(s.dedup, minKey)
	}
}

// retryDelay is the wait before attempt+1. A platform retry_after hint wins
// over exponential backoff.
func retryDelay(cfg Config, attempt int, err error) time.Duration {
	var ra transport.RetryAfterError
	if errors.As(err, &ra) && ra.RetryAfterSeconds() > 0 {
		return min(time.Duration(ra.RetryAfterSeconds())*time.Second, cfg.RetryMaxDelay)
	}
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	// Jitter 0.7..1.3
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
