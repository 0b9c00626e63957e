package engine

import (
	"context"

	"drpactor/internal/model"
	"drpactor/pkg/logger"
)

// logSink used when no status sink is wired
type logSink struct{}

func (logSink) Emit(ctx context.Context, line model.StatusLine) {
	logger.InfoCtx(ctx, "%s", line.Keyword())
}

func (e *Engine) statusLine(stage string, visit, returnCode int, ok bool, elapsed float64) model.StatusLine {
	status := model.StatusOK
	if !ok {
		status = model.StatusFailed
	}
	return model.StatusLine{
		Stage:      stage,
		Visit:      visit,
		ReturnCode: returnCode,
		Status:     status,
		Elapsed:    elapsed,
		EmittedAt:  e.clock.Now(),
	}
}

func (e *Engine) emit(line model.StatusLine) {
	e.status.Emit(e.ctx, line)
}
