package jobs

import (
	"context"
	"time"

	"drpactor/pkg/interfaces"
	"drpactor/pkg/logger"

	"github.com/juju/clock"
)

// StatusRetentionJob prunes status history older than the retention window
type StatusRetentionJob struct {
	history   interfaces.StatusHistory
	retention time.Duration
	clock     clock.Clock
}

// NewStatusRetentionJob creates the pruning job
func NewStatusRetentionJob(history interfaces.StatusHistory, retention time.Duration, clk clock.Clock) *StatusRetentionJob {
	if clk == nil {
		clk = clock.WallClock
	}
	return &StatusRetentionJob{history: history, retention: retention, clock: clk}
}

func (j *StatusRetentionJob) Name() string {
	return "status-retention"
}

func (j *StatusRetentionJob) Interval() time.Duration {
	return time.Hour
}

func (j *StatusRetentionJob) AlignToInterval() bool {
	return true
}

func (j *StatusRetentionJob) Run(ctx context.Context) error {
	cutoff := j.clock.Now().Add(-j.retention)
	n, err := j.history.DeleteBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		logger.InfoCtx(ctx, "pruned %d status events older than %s", n, cutoff.Format(time.RFC3339))
	}
	return nil
}
