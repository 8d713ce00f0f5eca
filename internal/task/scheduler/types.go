package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/utestwalter/Mila/internal/eventbus"
	"github.com/utestwalter/Mila/internal/storage"
	"github.com/utestwalter/Mila/internal/task/schedule"
	"github.com/utestwalter/Mila/pkg/logx"
)

var (
	ErrMissedTrigger  = errors.New("trigger has no firing after now")
	ErrNilTrigger     = errors.New("trigger is nil")
	ErrAlreadyRunning = errors.New("scheduler loop already running")
)

// MissedPolicy decides what Recover does with a once task whose instant
// passed while the process was down.
type MissedPolicy string

const (
	MissedFireOnce MissedPolicy = "fire_once"
	MissedDiscard  MissedPolicy = "discard"
)

func ParseMissedPolicy(s string) (MissedPolicy, error) {
	switch MissedPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", MissedFireOnce:
		return MissedFireOnce, nil
	case MissedDiscard:
		return MissedDiscard, nil
	default:
		return "", fmt.Errorf("unknown missed policy %q (want fire_once or discard)", s)
	}
}

// Config controls the scheduler.
type Config struct {
	// Timezone is the fallback zone for schedules stored without one.
	Timezone     string
	MissedPolicy MissedPolicy
}

// Clock abstracts time so tests can drive the loop.
type Clock interface {
	Now() time.Time
	NewTimer(d time.Duration) Timer
}

type Timer interface {
	C() <-chan time.Time
	Stop() bool
}

// Firing is one due trigger handed to the Dispatcher.
type Firing struct {
	TaskID      string
	Kind        schedule.Kind
	ScheduledAt time.Time
	// Missed is set when a once task fires late during recovery.
	Missed bool
	// Final is set when no further firing follows (once tasks).
	Final bool
}

// Dispatcher executes a firing. Dispatch runs on its own goroutine and may
// block until the execution finishes.
type Dispatcher interface {
	Dispatch(ctx context.Context, f Firing) error
}

type DispatchFunc func(ctx context.Context, f Firing) error

func (fn DispatchFunc) Dispatch(ctx context.Context, f Firing) error { return fn(ctx, f) }

// Store is the part of the task store the scheduler needs.
type Store interface {
	Get(ctx context.Context, id string) (storage.TaskDefinition, bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, f storage.Filter) (storage.Listing, error)
}

type Deps struct {
	Clock      Clock
	Store      Store
	Dispatcher Dispatcher
	Log        logx.Logger
	Bus        eventbus.Bus
}

// Bus event types.
const (
	EventRegistered = "schedule.registered"
	EventRemoved    = "schedule.removed"
	EventFired      = "schedule.fired"
	EventCompleted  = "schedule.completed"
	EventMissed     = "schedule.missed"
)

// Event is the payload of every schedule.* bus event.
type Event struct {
	TaskID string        `json:"task_id"`
	Kind   schedule.Kind `json:"kind,omitempty"`
	At     time.Time     `json:"at,omitzero"`
	Next   time.Time     `json:"next,omitzero"`
	Missed bool          `json:"missed,omitempty"`
	Error  string        `json:"error,omitempty"`
}

// RecoveryReport summarizes a Recover pass. Slices hold task ids.
type RecoveryReport struct {
	Registered  []string
	FiredMissed []string
	Discarded   []string
	Corrupt     []string
	Unreadable  []string
	Invalid     []string
}

type EntryState string

const (
	StatePending EntryState = "pending"
	StateFiring  EntryState = "firing"
)

type EntryInfo struct {
	ID       string        `json:"id"`
	Kind     schedule.Kind `json:"kind"`
	State    EntryState    `json:"state"`
	Schedule string        `json:"schedule"`
	Next     time.Time     `json:"next,omitzero"`
}

type Snapshot struct {
	Running      bool         `json:"running"`
	Timezone     string       `json:"timezone"`
	MissedPolicy MissedPolicy `json:"missed_policy"`
	InFlight     int          `json:"in_flight"`
	Fired        uint64       `json:"fired"`
	Entries      []EntryInfo  `json:"entries"`
}
