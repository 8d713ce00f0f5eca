package scheduler

import (
	"errors"
	"time"

	"github.com/utestwalter/Mila/internal/task/engine"
	"github.com/utestwalter/Mila/pkg/logx"
)

const dispatchWarnThrottle = 5 * time.Second

func (s *Service) reportDispatchError(id string, err error) {
	if err == nil {
		return
	}
	// Overlap skips happen during normal operation.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("firing skipped", logx.String("task", id), logx.Err(err))
		return
	}

	now := s.clock.Now()
	s.warnMu.Lock()
	last := s.lastWarn[id]
	if !last.IsZero() && now.Sub(last) < dispatchWarnThrottle {
		s.warnMu.Unlock()
		return
	}
	s.lastWarn[id] = now
	s.warnMu.Unlock()

	s.log.Warn("task delivery failed", logx.String("task", id), logx.Err(err))
}
