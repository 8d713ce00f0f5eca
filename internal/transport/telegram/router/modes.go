package router

import (
	"sync"
	"time"
)

type mode int

const (
	modeIdle mode = iota
	modeNewTask
	modeDelete
)

func (m mode) String() string {
	switch m {
	case modeNewTask:
		return "new_task"
	case modeDelete:
		return "delete"
	default:
		return "idle"
	}
}

type modeKey struct {
	chat int64
	user int64
}

type modeEntry struct {
	mode  mode
	since time.Time
}

// modeStore keeps the pending conversation step per (chat, user). It lives
// in memory only; a restart drops every pending step.
type modeStore struct {
	mu  sync.Mutex
	now func() time.Time
	m   map[modeKey]modeEntry
}

func newModeStore(now func() time.Time) *modeStore {
	return &modeStore{now: now, m: map[modeKey]modeEntry{}}
}

func (s *modeStore) set(k modeKey, m mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m == modeIdle {
		delete(s.m, k)
		return
	}
	s.m[k] = modeEntry{mode: m, since: s.now()}
}

// take returns the pending mode and resets it to idle. Entries older than
// ttl count as idle.
func (s *modeStore) take(k modeKey, ttl time.Duration) mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.m[k]
	if !ok {
		return modeIdle
	}
	delete(s.m, k)
	if ttl > 0 && s.now().Sub(e.since) > ttl {
		return modeIdle
	}
	return e.mode
}

func (s *modeStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}
