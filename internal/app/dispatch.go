package app

import (
	"context"

	"github.com/utestwalter/Mila/internal/task/engine"
	"github.com/utestwalter/Mila/internal/task/scheduler"
)

// Executor runs one task by id.
type Executor func(ctx context.Context, id string) error

// engineDispatcher hands scheduler firings to the task engine and waits
// for the outcome, so the scheduler only completes a once task after its
// execution finished.
type engineDispatcher struct {
	eng *engine.Service
	run Executor
}

func (d engineDispatcher) Dispatch(ctx context.Context, f scheduler.Firing) error {
	done := make(chan error, 1)
	err := d.eng.Submit(ctx, engine.Task{
		Name:    f.TaskID,
		Overlap: engine.OverlapSkipIfRunning,
		Run:     func(c context.Context) error { return d.run(c, f.TaskID) },
		OnDone:  func(err error) { done <- err },
	})
	if err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
