package scheduler

import (
	"sort"

	"github.com/utestwalter/Mila/internal/task/schedule"
)

// Snapshot lists pending entries sorted by next instant, plus entries whose
// last firing is still being dispatched.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Running:      s.running,
		Timezone:     s.loc.String(),
		MissedPolicy: s.cfg.MissedPolicy,
		Fired:        s.fired.Load(),
	}
	seen := make(map[string]bool, len(s.entries))
	for id, e := range s.entries {
		st := StatePending
		if s.firing[id] > 0 {
			st = StateFiring
		}
		seen[id] = true
		snap.Entries = append(snap.Entries, EntryInfo{
			ID:       id,
			Kind:     e.trigger.Spec().Kind(),
			State:    st,
			Schedule: schedule.Describe(e.trigger.Spec()),
			Next:     e.next,
		})
	}
	for id, n := range s.firing {
		snap.InFlight += n
		if !seen[id] {
			snap.Entries = append(snap.Entries, EntryInfo{ID: id, Kind: schedule.KindOnce, State: StateFiring})
		}
	}
	s.mu.Unlock()

	sort.Slice(snap.Entries, func(i, j int) bool {
		a, b := snap.Entries[i], snap.Entries[j]
		if a.Next.Equal(b.Next) {
			return a.ID < b.ID
		}
		// Zero next (finishing once tasks) sorts last.
		if a.Next.IsZero() != b.Next.IsZero() {
			return b.Next.IsZero()
		}
		return a.Next.Before(b.Next)
	})
	return snap
}

// Len reports the number of pending entries.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}
