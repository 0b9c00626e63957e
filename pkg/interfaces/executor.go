package interfaces

import (
	"context"

	"drpactor/internal/model"
)

// DoneFunc process-level completion callback. Called from a worker
// goroutine, receivers must marshal back onto their own loop.
type DoneFunc func(result model.JobResult)

// Executor dispatches work items to a bounded pool. It does not deduplicate.
type Executor interface {
	Submit(ctx context.Context, item *model.WorkItem, done DoneFunc) error
	Close() error
}

// Runner executes one work item to completion on the worker side.
// Errors are converted to a failed JobResult at the worker boundary.
type Runner interface {
	Run(ctx context.Context, item *model.WorkItem) (model.JobResult, error)
}

// Measurer extracts per-fiber flux from a set of exposures
type Measurer interface {
	Measure(ctx context.Context, exposures []model.ExposureRef) (map[int]float64, error)
}
