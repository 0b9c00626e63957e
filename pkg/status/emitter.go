// Package status fans status lines out to the log, the history table, the
// redis cache and the failure notifier.
package status

import (
	"context"
	"time"

	"drpactor/internal/model"
	"drpactor/pkg/interfaces"
	"drpactor/pkg/logger"
)

// Emitter implements interfaces.StatusSink. Every backend is optional and
// a failing backend never blocks the others.
type Emitter struct {
	history  interfaces.StatusHistory
	cache    interfaces.StatusCache
	notifier interfaces.Notifier
	now      func() time.Time
}

// NewEmitter creates an emitter; nil backends are skipped
func NewEmitter(history interfaces.StatusHistory, cache interfaces.StatusCache, notifier interfaces.Notifier) *Emitter {
	return &Emitter{
		history:  history,
		cache:    cache,
		notifier: notifier,
		now:      time.Now,
	}
}

// Emit logs the keyword line and forwards it
func (e *Emitter) Emit(ctx context.Context, line model.StatusLine) {
	if line.EmittedAt.IsZero() {
		line.EmittedAt = e.now()
	}

	if line.OK() {
		logger.InfoCtx(ctx, "%s", line.Keyword())
	} else {
		logger.WarnCtx(ctx, "%s", line.Keyword())
	}

	if e.history != nil {
		if err := e.history.Record(ctx, line); err != nil {
			logger.ErrorCtx(ctx, "failed to record status: %v", err)
		}
	}
	if e.cache != nil {
		if err := e.cache.SetLatest(ctx, line); err != nil {
			logger.ErrorCtx(ctx, "failed to cache status: %v", err)
		}
		if err := e.cache.Publish(ctx, line); err != nil {
			logger.ErrorCtx(ctx, "failed to publish status: %v", err)
		}
	}
	if e.notifier != nil && !line.OK() {
		// webhook latency must not hold up the engine loop
		go func(line model.StatusLine) {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
			defer cancel()
			if err := e.notifier.NotifyFailure(ctx, line); err != nil {
				logger.WarnCtx(ctx, "failed to notify: %v", err)
			}
		}(line)
	}
}
