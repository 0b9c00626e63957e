package db

import (
	"context"
	"fmt"
	"time"

	"drpactor/internal/model"
	dbmodel "drpactor/pkg/store/db/model"
)

// StatusEventRepository handles status history persistence
type StatusEventRepository struct {
	ds *Datastore
}

// NewStatusEventRepository creates a new status event repository
func NewStatusEventRepository(ds *Datastore) *StatusEventRepository {
	return &StatusEventRepository{ds: ds}
}

// Record persists one status line
func (r *StatusEventRepository) Record(ctx context.Context, line model.StatusLine) error {
	if line.EmittedAt.IsZero() {
		line.EmittedAt = time.Now()
	}
	event := &dbmodel.StatusEvent{
		Stage:      line.Stage,
		Visit:      line.Visit,
		ReturnCode: line.ReturnCode,
		Status:     string(line.Status),
		Elapsed:    line.Elapsed,
		Throughput: line.Throughput,
		Text:       line.Text,
		EmittedAt:  line.EmittedAt,
	}
	if err := r.ds.DB(ctx).Create(event).Error; err != nil {
		return fmt.Errorf("failed to record status event: %w", err)
	}
	return nil
}

// ListByVisit retrieves all status lines of a visit (ordered by time)
func (r *StatusEventRepository) ListByVisit(ctx context.Context, visit int) ([]model.StatusLine, error) {
	var events []*dbmodel.StatusEvent
	err := r.ds.DB(ctx).
		Where("visit = ?", visit).
		Order("emitted_at ASC, id ASC").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get status events: %w", err)
	}

	lines := make([]model.StatusLine, 0, len(events))
	for _, e := range events {
		lines = append(lines, model.StatusLine{
			Stage:      e.Stage,
			Visit:      e.Visit,
			ReturnCode: e.ReturnCode,
			Status:     model.ProcessStatus(e.Status),
			Elapsed:    e.Elapsed,
			Throughput: e.Throughput,
			Text:       e.Text,
			EmittedAt:  e.EmittedAt,
		})
	}
	return lines, nil
}

// DeleteBefore removes status lines older than before
func (r *StatusEventRepository) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	result := r.ds.DB(ctx).Where("emitted_at < ?", before).Delete(&dbmodel.StatusEvent{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete status events: %w", result.Error)
	}
	return result.RowsAffected, nil
}
