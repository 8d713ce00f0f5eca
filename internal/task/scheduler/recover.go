package scheduler

import (
	"context"
	"errors"

	"github.com/utestwalter/Mila/internal/eventbus"
	"github.com/utestwalter/Mila/internal/storage"
	"github.com/utestwalter/Mila/internal/task/schedule"
	"github.com/utestwalter/Mila/pkg/logx"
)

// Recover rebuilds every trigger from the store. Corrupt, unreadable and
// invalid records are skipped and reported; missed once tasks follow the
// MissedPolicy. Only a failure to list the store at all is returned.
// Missed firings are dispatched with ctx, so call it with the context that
// Run will use.
func (s *Service) Recover(ctx context.Context) (RecoveryReport, error) {
	var rep RecoveryReport
	if s.store == nil {
		return rep, errors.New("scheduler: no store configured")
	}
	listing, err := s.store.List(ctx, storage.Filter{})
	if err != nil {
		return rep, err
	}
	for _, c := range listing.Corrupt {
		s.log.Warn("skipping corrupt task record", logx.String("task", c.ID), logx.String("reason", c.Reason))
		rep.Corrupt = append(rep.Corrupt, c.ID)
	}
	for _, c := range listing.Unreadable {
		s.log.Warn("skipping unreadable task record", logx.String("task", c.ID), logx.String("reason", c.Reason))
		rep.Unreadable = append(rep.Unreadable, c.ID)
	}

	loc := s.Location()
	now := s.clock.Now()
	for _, id := range listing.IDs {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		def, found, err := s.store.Get(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrCorrupt) {
				s.log.Warn("skipping corrupt task record", logx.String("task", id), logx.Err(err))
				rep.Corrupt = append(rep.Corrupt, id)
				continue
			}
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			s.log.Warn("skipping unreadable task record", logx.String("task", id), logx.Err(err))
			rep.Unreadable = append(rep.Unreadable, id)
			continue
		}
		if !found {
			continue
		}

		trig, err := schedule.Compile(def.Schedule, loc)
		if err != nil {
			s.log.Warn("skipping task with invalid schedule", logx.String("task", id), logx.Err(err))
			rep.Invalid = append(rep.Invalid, id)
			continue
		}

		if ot, ok := trig.(*schedule.OnceTrigger); ok && ot.Missed(now) {
			s.recoverMissed(ctx, id, ot, &rep)
			continue
		}
		if err := s.Register(id, trig); err != nil {
			s.log.Warn("task not registered", logx.String("task", id), logx.Err(err))
			rep.Invalid = append(rep.Invalid, id)
			continue
		}
		rep.Registered = append(rep.Registered, id)
	}

	s.log.Info("scheduler recovered",
		logx.Int("registered", len(rep.Registered)),
		logx.Int("fired_missed", len(rep.FiredMissed)),
		logx.Int("discarded", len(rep.Discarded)),
		logx.Int("corrupt", len(rep.Corrupt)),
		logx.Int("unreadable", len(rep.Unreadable)),
		logx.Int("invalid", len(rep.Invalid)))
	return rep, nil
}

func (s *Service) recoverMissed(ctx context.Context, id string, ot *schedule.OnceTrigger, rep *RecoveryReport) {
	s.mu.Lock()
	policy := s.cfg.MissedPolicy
	s.mu.Unlock()

	ev := Event{TaskID: id, Kind: schedule.KindOnce, At: ot.At(), Missed: true}
	switch policy {
	case MissedDiscard:
		if _, err := s.store.Delete(ctx, id); err != nil {
			s.log.Warn("missed task cleanup failed", logx.String("task", id), logx.Err(err))
		}
		s.log.Warn("discarded missed once task", logx.String("task", id), logx.Time("at", ot.At()))
		rep.Discarded = append(rep.Discarded, id)
	default:
		s.log.Warn("firing missed once task", logx.String("task", id), logx.Time("at", ot.At()))
		s.fire(ctx, Firing{TaskID: id, Kind: schedule.KindOnce, ScheduledAt: ot.At(), Missed: true, Final: true})
		rep.FiredMissed = append(rep.FiredMissed, id)
	}
	eventbus.Publish(s.bus, EventMissed, ev)
}
