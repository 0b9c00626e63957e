package jobs

import (
	"context"
	"time"

	"drpactor/internal/model"
	"drpactor/pkg/logger"
)

// LeftoverSource engine surface used by the sweep
type LeftoverSource interface {
	CheckLeftOvers(ctx context.Context) ([]int, error)
	Visit(ctx context.Context, visit int) (*model.Visit, error)
	NewVisit(ctx context.Context, visit int) error
}

// LeftoverJob lists the backlog and re-announces closed visits whose ingest
// never completed. Open visits wait for their own close signal. Failed
// reductions are only reported, re-running them is an operator decision.
type LeftoverJob struct {
	engine   LeftoverSource
	interval time.Duration
}

// NewLeftoverJob creates the sweep
func NewLeftoverJob(engine LeftoverSource, interval time.Duration) *LeftoverJob {
	return &LeftoverJob{engine: engine, interval: interval}
}

func (j *LeftoverJob) Name() string {
	return "leftover-sweep"
}

func (j *LeftoverJob) Interval() time.Duration {
	return j.interval
}

func (j *LeftoverJob) Run(ctx context.Context) error {
	leftovers, err := j.engine.CheckLeftOvers(ctx)
	if err != nil {
		return err
	}

	redriven := 0
	for _, id := range leftovers {
		v, err := j.engine.Visit(ctx, id)
		if err != nil {
			continue
		}
		if !v.Closed || v.CurrentState() != model.StateUnknown {
			continue
		}
		if err := j.engine.NewVisit(ctx, id); err != nil {
			logger.WarnCtx(ctx, "re-drive of visit %d failed: %v", id, err)
			continue
		}
		redriven++
	}

	if len(leftovers) > 0 {
		logger.InfoCtx(ctx, "leftover sweep: %d leftovers, %d re-driven", len(leftovers), redriven)
	}
	return nil
}
