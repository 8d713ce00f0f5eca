package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/utestwalter/Mila/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan queuedTask) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt := <-queue:
			s.inFlight.Add(1)
			s.execOne(ctx, stopCh, qt)
			s.inFlight.Add(-1)
		}
	}
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qt queuedTask) {
	defer qt.release()

	start := time.Now()
	queueDelay := max(start.Sub(qt.enqueuedAt), 0)

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	if cfg.MaxQueueDelay > 0 && queueDelay > cfg.MaxQueueDelay {
		s.onStale(start, qt.task, queueDelay)
		if qt.task.OnDone != nil {
			qt.task.OnDone(ErrStale)
		}
		return
	}

	log := s.log.With(logx.String("task", qt.task.Name), logx.String("run", qt.task.ID))
	log.Debug("task started", logx.Duration("queue_delay", queueDelay))
	s.publish(EventStarted, TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay})

	var err error
	attempts := 0
	maxAttempts := 1 + cfg.RetryMax
	for attempts < maxAttempts {
		attempts++
		err = s.runAttempt(ctx, qt, log)
		if err == nil || IsNoRetry(err) || attempts >= maxAttempts {
			break
		}

		delay := backoffDelay(cfg, attempts, err)
		log.Debug("task retry scheduled", logx.Int("attempt", attempts+1), logx.Duration("delay", delay), logx.Err(err))
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			err = ctx.Err()
		case <-stopCh:
			t.Stop()
			err = ErrStopping
		case <-t.C:
			continue
		}
		break
	}

	dur := time.Since(start)
	ev := TaskEvent{ID: qt.task.ID, Name: qt.task.Name, Started: start, QueueDelay: queueDelay, Duration: dur, Attempts: attempts}
	if err != nil {
		ev.Error = err.Error()
		log.Warn("task failed", logx.Err(err), logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.publish(EventFailed, ev)
	} else {
		log.Info("task finished", logx.Duration("dur", dur), logx.Int("attempts", attempts))
		s.publish(EventFinished, ev)
	}
	s.recordHistory(HistoryItem(ev))

	if qt.task.OnDone != nil {
		qt.task.OnDone(err)
	}
}

// runAttempt runs one attempt under its timeout. A panic becomes an error so
// one bad task cannot kill a worker.
func (s *Service) runAttempt(ctx context.Context, qt queuedTask, log logx.Logger) (err error) {
	runCtx := ctx
	if qt.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, qt.timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			log.Error("task panicked", logx.Any("panic", r), logx.Stack(logx.StackTrace(3, 16)))
		}
	}()
	return qt.task.Run(runCtx)
}

// backoffDelay doubles RetryBase per attempt up to RetryMaxDelay with ±20%
// jitter. A RetryAfter hint replaces the exponential step.
func backoffDelay(cfg Config, attempt int, err error) time.Duration {
	d := cfg.RetryBase
	var ra RetryAfterError
	if errors.As(err, &ra) {
		d = ra.RetryAfter()
	} else {
		for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
			d *= 2
		}
	}
	d = time.Duration(float64(d) * (0.8 + 0.4*rand.Float64()))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
