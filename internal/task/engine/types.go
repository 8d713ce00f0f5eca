package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the execution engine that runs task firings.
type Config struct {
	Workers   int
	QueueSize int

	// DefaultTimeout bounds one attempt when Task.Timeout is 0.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops firings that waited longer than this in the queue.
	// 0 disables stale dropping.
	MaxQueueDelay time.Duration

	HistorySize   int
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = time.Minute
	}
	return c
}

type OverlapPolicy int

const (
	OverlapSkipIfRunning OverlapPolicy = iota
	OverlapAllow
)

// Task is one unit of work. Name identifies the logical task (a registered
// task id) and keys the overlap policy; ID identifies this run.
type Task struct {
	ID      string
	Name    string
	Timeout time.Duration
	Overlap OverlapPolicy
	Run     func(ctx context.Context) error

	// OnDone, when set, receives the final error after all attempts.
	// It is not called for tasks that were skipped or rejected by Enqueue or
	// Submit; a stale drop reports ErrStale.
	OnDone func(err error)
}

// runState gates overlapping runs of the same task name. SkipIfRunning
// treats "queued" as running too, so a slow task cannot pile up firings.
type runState struct {
	mu       sync.Mutex
	inflight int
}

func (s *runState) tryAcquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight > 0 {
		return false
	}
	s.inflight++
	return true
}

func (s *runState) release() {
	s.mu.Lock()
	if s.inflight > 0 {
		s.inflight--
	}
	s.mu.Unlock()
}

type HistoryItem struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// TaskEvent is published on the bus for task lifecycle events.
type TaskEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Attempts   int           `json:"attempts"`
	Error      string        `json:"error,omitempty"`
}

// Bus event types.
const (
	EventStarted  = "task.started"
	EventFinished = "task.finished"
	EventFailed   = "task.failed"
	EventSkipped  = "task.skipped"
	EventDropped  = "task.dropped"
)

type Snapshot struct {
	Running          bool          `json:"running"`
	Workers          int           `json:"workers"`
	QueueLen         int           `json:"queue_len"`
	QueueCap         int           `json:"queue_cap"`
	InFlight         int           `json:"in_flight"`
	DroppedQueueFull uint64        `json:"dropped_queue_full"`
	DroppedStale     uint64        `json:"dropped_stale"`
	Skipped          uint64        `json:"skipped"`
	DefaultTimeout   time.Duration `json:"default_timeout"`
	RetryMax         int           `json:"retry_max"`
	History          []HistoryItem `json:"history"`
}
