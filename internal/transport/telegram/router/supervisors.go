package router

import (
	"sort"
	"sync"

	rtsup "github.com/utestwalter/Mila/internal/runtime/supervisor"
)

// SupervisorRegistry is a thread-safe registry of subsystem supervisors
// shown by /status.
type SupervisorRegistry struct {
	mu sync.RWMutex
	m  map[string]*rtsup.Supervisor
}

func NewSupervisorRegistry() *SupervisorRegistry {
	return &SupervisorRegistry{m: map[string]*rtsup.Supervisor{}}
}

// Set registers (or replaces) a supervisor under name. A nil sup deletes.
func (r *SupervisorRegistry) Set(name string, sup *rtsup.Supervisor) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if sup == nil {
		delete(r.m, name)
		return
	}
	r.m[name] = sup
}

func (r *SupervisorRegistry) Delete(name string) { r.Set(name, nil) }

// Snapshots returns the state of every registered supervisor by name.
func (r *SupervisorRegistry) Snapshots() []NamedSnapshot {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	out := make([]NamedSnapshot, 0, len(r.m))
	for k, v := range r.m {
		out = append(out, NamedSnapshot{Name: k, Snapshot: v.Snapshot()})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type NamedSnapshot struct {
	Name     string         `json:"name"`
	Snapshot rtsup.Snapshot `json:"snapshot"`
}
