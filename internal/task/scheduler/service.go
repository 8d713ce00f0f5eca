package scheduler

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/utestwalter/Mila/internal/eventbus"
	"github.com/utestwalter/Mila/internal/storage"
	"github.com/utestwalter/Mila/internal/task/schedule"
	"github.com/utestwalter/Mila/pkg/logx"
)

type entry struct {
	id      string
	trigger schedule.Trigger
	next    time.Time
}

type Service struct {
	mu      sync.Mutex
	cfg     Config
	loc     *time.Location
	entries map[string]*entry
	firing  map[string]int
	running bool

	log      logx.Logger
	bus      eventbus.Bus
	clock    Clock
	store    Store
	dispatch Dispatcher
	chain    cron.Chain

	wake  chan struct{}
	wg    sync.WaitGroup
	fired atomic.Uint64

	// Dispatch error throttling: key is task id.
	warnMu   sync.Mutex
	lastWarn map[string]time.Time
}

func New(cfg Config, deps Deps) (*Service, error) {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "scheduler"))

	if deps.Dispatcher == nil {
		return nil, errors.New("scheduler: dispatcher is required")
	}
	if deps.Clock == nil {
		deps.Clock = RealClock{}
	}
	if cfg.MissedPolicy == "" {
		cfg.MissedPolicy = MissedFireOnce
	}
	loc, err := schedule.LoadLocation(cfg.Timezone, time.UTC)
	if err != nil {
		return nil, err
	}
	return &Service{
		cfg:      cfg,
		loc:      loc,
		entries:  map[string]*entry{},
		firing:   map[string]int{},
		log:      log,
		bus:      deps.Bus,
		clock:    deps.Clock,
		store:    deps.Store,
		dispatch: deps.Dispatcher,
		chain:    cron.NewChain(cron.Recover(logx.Cron(log))),
		wake:     make(chan struct{}, 1),
		lastWarn: map[string]time.Time{},
	}, nil
}

// Location is the fallback zone for schedules without one.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Register inserts or replaces the entry for id. A trigger with no firing
// after now is rejected with ErrMissedTrigger and nothing is registered.
func (s *Service) Register(id string, t schedule.Trigger) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("task id required")
	}
	if t == nil {
		return ErrNilTrigger
	}
	now := s.clock.Now()
	next := t.Next(now)
	if next.IsZero() {
		return ErrMissedTrigger
	}

	s.mu.Lock()
	_, replaced := s.entries[id]
	s.entries[id] = &entry{id: id, trigger: t, next: next}
	s.mu.Unlock()
	s.signal()

	kind := t.Spec().Kind()
	s.log.Debug("schedule registered",
		logx.String("task", id),
		logx.String("schedule", schedule.Describe(t.Spec())),
		logx.String("next", previewString(t, now, 3)),
		logx.Bool("replaced", replaced))
	eventbus.Publish(s.bus, EventRegistered, Event{TaskID: id, Kind: kind, Next: next})
	return nil
}

// Remove cancels the pending entry for id. A dispatch already in flight
// still completes.
func (s *Service) Remove(id string) bool {
	id = strings.TrimSpace(id)
	s.mu.Lock()
	_, ok := s.entries[id]
	delete(s.entries, id)
	s.mu.Unlock()
	if !ok {
		return false
	}
	s.signal()
	s.log.Debug("schedule removed", logx.String("task", id))
	eventbus.Publish(s.bus, EventRemoved, Event{TaskID: id})
	return true
}

func (s *Service) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Run is the wait loop. It returns when ctx ends, after in-flight dispatches
// have returned.
func (s *Service) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	n := len(s.entries)
	s.mu.Unlock()

	s.log.Info("scheduler started", logx.String("tz", s.loc.String()), logx.Int("entries", n))
	defer func() {
		s.wg.Wait()
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		s.log.Info("scheduler stopped")
	}()

	for {
		now := s.clock.Now()
		due, next := s.collectDue(now)
		for _, f := range due {
			s.fire(ctx, f)
		}

		var timer Timer
		var timerC <-chan time.Time
		if !next.IsZero() {
			timer = s.clock.NewTimer(next.Sub(now))
			timerC = timer.C()
		}
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case <-s.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

// collectDue pops every entry due at now in non-decreasing instant order and
// returns the earliest remaining instant. Recurring entries are rescheduled
// from now, so a failing execution never stalls its schedule.
func (s *Service) collectDue(now time.Time) ([]Firing, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Firing
	var earliest time.Time
	for id, e := range s.entries {
		if e.next.After(now) {
			if earliest.IsZero() || e.next.Before(earliest) {
				earliest = e.next
			}
			continue
		}
		f := Firing{TaskID: id, Kind: e.trigger.Spec().Kind(), ScheduledAt: e.next}
		next := time.Time{}
		if e.trigger.Recurring() {
			next = e.trigger.Next(now)
		}
		if next.IsZero() {
			f.Final = true
			delete(s.entries, id)
		} else {
			e.next = next
			if earliest.IsZero() || next.Before(earliest) {
				earliest = next
			}
		}
		due = append(due, f)
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].ScheduledAt.Equal(due[j].ScheduledAt) {
			return due[i].TaskID < due[j].TaskID
		}
		return due[i].ScheduledAt.Before(due[j].ScheduledAt)
	})
	return due, earliest
}

// fire hands f to the dispatcher on its own goroutine. Panics are recovered
// by the cron job chain and logged.
func (s *Service) fire(ctx context.Context, f Firing) {
	s.fired.Add(1)
	s.mu.Lock()
	s.firing[f.TaskID]++
	s.mu.Unlock()

	s.log.Info("task fired",
		logx.String("task", f.TaskID),
		logx.Time("scheduled_at", f.ScheduledAt),
		logx.Bool("missed", f.Missed),
		logx.Bool("final", f.Final))
	eventbus.Publish(s.bus, EventFired, Event{TaskID: f.TaskID, Kind: f.Kind, At: f.ScheduledAt, Missed: f.Missed})

	s.wg.Add(1)
	job := s.chain.Then(cron.FuncJob(func() {
		defer s.wg.Done()
		defer func() {
			s.mu.Lock()
			if s.firing[f.TaskID]--; s.firing[f.TaskID] <= 0 {
				delete(s.firing, f.TaskID)
			}
			s.mu.Unlock()
		}()
		s.runFiring(ctx, f)
	}))
	go job.Run()
}

func (s *Service) runFiring(ctx context.Context, f Firing) {
	var rev revision
	if f.Final {
		rev = s.revisionOf(ctx, f.TaskID)
	}
	err := s.dispatch.Dispatch(ctx, f)
	if err != nil {
		s.reportDispatchError(f.TaskID, err)
	}
	if !f.Final {
		return
	}
	if ctx.Err() != nil {
		// Shutting down: keep the record so the next start treats it as missed.
		s.log.Debug("once task interrupted by shutdown", logx.String("task", f.TaskID))
		return
	}
	s.complete(ctx, f, rev, err)
}

// revision identifies one registration of an id. Ids are reused after a
// delete, so completion must only remove the record that actually fired.
type revision struct {
	found        bool
	createdAt    time.Time
	instructions string
}

func (r revision) matches(def storage.TaskDefinition) bool {
	return r.found && r.createdAt.Equal(def.CreatedAt) && r.instructions == def.Instructions
}

func (s *Service) revisionOf(ctx context.Context, id string) revision {
	if s.store == nil {
		return revision{}
	}
	def, found, err := s.store.Get(ctx, id)
	if err != nil || !found {
		return revision{}
	}
	return revision{found: true, createdAt: def.CreatedAt, instructions: def.Instructions}
}

// complete drops the record of a once task whose firing has finished. The
// record is kept when the id was registered again in the meantime.
func (s *Service) complete(ctx context.Context, f Firing, rev revision, dispatchErr error) {
	ev := Event{TaskID: f.TaskID, Kind: f.Kind, At: f.ScheduledAt, Missed: f.Missed}
	if dispatchErr != nil {
		ev.Error = dispatchErr.Error()
	}
	s.mu.Lock()
	_, reused := s.entries[f.TaskID]
	s.mu.Unlock()

	switch {
	case s.store == nil:
	case reused:
		s.log.Debug("once task id registered again; record kept", logx.String("task", f.TaskID))
	default:
		s.dropRecord(ctx, f.TaskID, rev)
	}
	s.log.Debug("once task completed", logx.String("task", f.TaskID))
	eventbus.Publish(s.bus, EventCompleted, ev)
}

func (s *Service) dropRecord(ctx context.Context, id string, rev revision) {
	cur, found, err := s.store.Get(ctx, id)
	switch {
	case err != nil:
		// Includes a record caught half-written by a new registration.
		s.log.Warn("completed task cleanup skipped", logx.String("task", id), logx.Err(err))
		return
	case !found:
		return
	case !rev.matches(cur):
		s.log.Debug("record under completed id changed; kept", logx.String("task", id))
		return
	}
	if _, err := s.store.Delete(ctx, id); err != nil {
		s.log.Warn("completed task cleanup failed", logx.String("task", id), logx.Err(err))
	}
}

func previewString(t schedule.Trigger, now time.Time, n int) string {
	runs := schedule.Preview(t, now, n)
	parts := make([]string, 0, len(runs))
	for _, r := range runs {
		parts = append(parts, r.In(t.Location()).Format(time.RFC3339))
	}
	return strings.Join(parts, ", ")
}
