package engine

import (
	"context"
	"errors"
	"fmt"

	"drpactor/internal/dotroach"
	"drpactor/internal/model"
	"drpactor/pkg/drpparse"
	"drpactor/pkg/logger"
)

var (
	ErrNoActiveRun    = errors.New("no dot-roach run in progress")
	ErrDotRoachActive = errors.New("dot-roach run already in progress")
)

// StartDotRoach begins a convergence run writing under root. While it runs,
// every successfully reduced visit is measured and fed to the run.
func (e *Engine) StartDotRoach(ctx context.Context, root, maskFile string, keepMoving bool) error {
	var err error
	callErr := e.loop.call(ctx, func() {
		if e.roach != nil {
			err = ErrDotRoachActive
			return
		}
		var run *dotroach.Run
		run, err = dotroach.Start(root, maskFile, keepMoving, e.roachCfg)
		if err != nil {
			return
		}
		e.roach = run
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// StopDotRoach finishes the current run and returns its archived directory.
func (e *Engine) StopDotRoach(ctx context.Context) (string, error) {
	var dst string
	var err error
	callErr := e.loop.call(ctx, func() {
		if e.roach == nil {
			err = ErrNoActiveRun
			return
		}
		dst, err = e.roach.Finish()
		if err != nil && !errors.Is(err, dotroach.ErrEmptyRun) {
			return
		}
		e.roach = nil
	})
	if callErr != nil {
		return "", callErr
	}
	return dst, err
}

// DotRoachPhase requests a phase transition, applied at the next round.
func (e *Engine) DotRoachPhase(ctx context.Context, phase dotroach.Phase) error {
	var err error
	callErr := e.loop.call(ctx, func() {
		if e.roach == nil {
			err = ErrNoActiveRun
			return
		}
		switch phase {
		case dotroach.Phase2:
			err = e.roach.Phase2()
		case dotroach.Phase3:
			err = e.roach.Phase3()
		default:
			err = fmt.Errorf("%w: %s", dotroach.ErrPhase, phase)
		}
	})
	if callErr != nil {
		return callErr
	}
	return err
}

// DotRoachStatus summary of the current run
func (e *Engine) DotRoachStatus(ctx context.Context) (dotroach.Status, error) {
	var s dotroach.Status
	var err error
	callErr := e.loop.call(ctx, func() {
		if e.roach == nil {
			err = ErrNoActiveRun
			return
		}
		s = e.roach.Status()
	})
	if callErr != nil {
		return s, callErr
	}
	return s, err
}

// WaitDotRoachResult blocks until the snapshot of round is published. It
// waits off the loop.
func (e *Engine) WaitDotRoachResult(ctx context.Context, round int) error {
	var run *dotroach.Run
	if err := e.loop.call(ctx, func() { run = e.roach }); err != nil {
		return err
	}
	if run == nil {
		return ErrNoActiveRun
	}
	return run.WaitForResult(ctx, round)
}

// dispatchExtract measures a reduced visit for the running dot-roach.
func (e *Engine) dispatchExtract(v *model.Visit) {
	if e.roach == nil {
		return
	}
	st := stage{name: model.StageDotRoach, kind: model.JobExtract, pipeline: e.current().Pipelines.Extract}
	item := e.newPipelineItem(v.Key(), st, drpparse.WhereClause([]int{v.ID}), v.Exposures)
	if _, ok := e.inflight[item.InflightKey()]; ok {
		logger.InfoCtx(e.ctx, "%s already in flight", item.InflightKey())
		return
	}
	e.submit(item, st)
}

// extractDone feeds the measured fluxes to the run and reports the round.
func (e *Engine) extractDone(item *model.WorkItem, result model.JobResult) {
	delete(e.inflight, item.InflightKey())
	elapsed := e.clock.Now().Sub(item.SubmittedAt).Seconds()

	visits := visitsOf(item)
	if len(visits) != 1 {
		logger.ErrorCtx(e.ctx, "extract %s covers %d visits, expected one", item.Target, len(visits))
		return
	}
	visit := visits[0]

	rc := result.ReturnCode
	ok := result.Status != model.StatusFailed && len(result.Fluxes) > 0
	switch {
	case e.roach == nil:
		logger.WarnCtx(e.ctx, "dot-roach stopped before visit %d was measured", visit)
		ok = false
	case ok:
		round, err := e.roach.Process(visit, result.Fluxes)
		if err != nil {
			logger.ErrorCtx(e.ctx, "dot-roach visit %d: %v", visit, err)
			ok = false
		} else {
			logger.InfoCtx(e.ctx, "dot-roach round %d done with visit %d", round, visit)
		}
	}
	if !ok && rc == 0 {
		rc = -1
	}

	line := e.statusLine(model.StageDotRoach, visit, rc, ok, elapsed)
	line.Text = result.Error
	e.emit(line)
}
