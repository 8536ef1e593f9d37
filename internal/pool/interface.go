package pool

import (
	"context"

	"github.com/apify/crawlee-sub000/internal/telemetry"
)

// WorkSource supplies the pool with work. The pool decides when and how many
// units run concurrently; the source decides what a unit is.
type WorkSource interface {
	// RunTask runs one unit of work to completion. The pool invokes it in its
	// own goroutine; returning a non-nil error is fatal to the run.
	RunTask(ctx context.Context) error

	// HasReadyWork reports whether at least one more unit could be started
	// right now. Expected to be cheap; it is polled on every scheduling pass.
	HasReadyWork(ctx context.Context) (bool, error)

	// IsDone reports whether all work is exhausted. Only consulted when
	// HasReadyWork is false and no tasks are running.
	IsDone(ctx context.Context) (bool, error)
}

// WorkSourceFuncs adapts three functions to the WorkSource interface.
type WorkSourceFuncs struct {
	RunTaskFunc      func(ctx context.Context) error
	HasReadyWorkFunc func(ctx context.Context) (bool, error)
	IsDoneFunc       func(ctx context.Context) (bool, error)
}

func (f WorkSourceFuncs) RunTask(ctx context.Context) error {
	return f.RunTaskFunc(ctx)
}

func (f WorkSourceFuncs) HasReadyWork(ctx context.Context) (bool, error) {
	return f.HasReadyWorkFunc(ctx)
}

func (f WorkSourceFuncs) IsDone(ctx context.Context) (bool, error) {
	return f.IsDoneFunc(ctx)
}

// Recorder receives periodic pool-state observations. Satisfied by the
// telemetry collector; optional.
type Recorder interface {
	Record(ctx context.Context, snapshot *telemetry.StateSnapshot) error
}
