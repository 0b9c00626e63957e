package interfaces

import (
	"context"
	"time"

	"drpactor/internal/model"
)

// StatusSink receives every status line emitted by the engine
type StatusSink interface {
	Emit(ctx context.Context, line model.StatusLine)
}

// StatusHistory persisted status lines
type StatusHistory interface {
	Record(ctx context.Context, line model.StatusLine) error
	ListByVisit(ctx context.Context, visit int) ([]model.StatusLine, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// StatusCache latest status per (stage, visit) with pub/sub fan-out
type StatusCache interface {
	SetLatest(ctx context.Context, line model.StatusLine) error
	GetLatest(ctx context.Context, stage string, visit int) (*model.StatusLine, error)
	Publish(ctx context.Context, line model.StatusLine) error
	Subscribe(ctx context.Context) (<-chan model.StatusLine, func(), error)
}

// Notifier forwards failures to operators
type Notifier interface {
	NotifyFailure(ctx context.Context, line model.StatusLine) error
}
