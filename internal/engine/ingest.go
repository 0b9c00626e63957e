package engine

import (
	"drpactor/internal/model"
	"drpactor/pkg/logger"
)

// startIngest dispatches one batched ingest of every unregistered member.
func (e *Engine) startIngest(v *model.Visit) {
	if len(v.Exposures) == 0 {
		logger.InfoCtx(e.ctx, "visit %d has no exposures, nothing to ingest", v.ID)
		return
	}
	key := model.InflightKey(v.Key(), model.JobIngest)
	if _, ok := e.inflight[key]; ok {
		logger.InfoCtx(e.ctx, "ingest of visit %d already in flight", v.ID)
		return
	}

	item := e.prepareIngest(v)
	if item == nil {
		// members are all registered but the visit still is not ingested
		if !v.IsIngested() {
			logger.WarnCtx(e.ctx, "visit %d cannot complete ingest without its pfsConfig", v.ID)
			e.emit(e.statusLine(model.StageIngest, v.ID, -1, false, 0))
		}
		return
	}

	e.transition(&v.Lifecycle, v.Key(), model.StateIngesting)
	for _, exp := range v.Exposures {
		if !exp.Ingested {
			e.transition(&exp.Lifecycle, exp.Key(), model.StateIngesting)
		}
	}

	e.inflight[key] = item
	item.SubmittedAt = e.clock.Now()
	visit := v.ID
	err := e.executor.Submit(e.ctx, item, func(result model.JobResult) {
		e.loop.post(func() { e.completeIngest(visit, item, result) })
	})
	if err != nil {
		logger.ErrorCtx(e.ctx, "failed to submit ingest of visit %d: %v", v.ID, err)
		e.completeIngest(visit, item, model.Failed(item, err))
	}
}

// prepareIngest builds the batch, nil when nothing needs ingesting.
func (e *Engine) prepareIngest(v *model.Visit) *model.WorkItem {
	var paths []string
	for _, exp := range v.Unregistered() {
		paths = append(paths, exp.Filepath())
	}
	if !v.Config.Ingested {
		if v.Config.Resolved() {
			paths = append(paths, v.Config.Filepath)
		} else {
			logger.WarnCtx(e.ctx, "pfsConfig of visit %d is unresolved, ingesting exposures only", v.ID)
		}
	}
	if len(paths) == 0 {
		return nil
	}

	item := model.NewWorkItem(model.JobIngest, v.Key())
	item.Paths = paths
	return item
}

// completeIngest refreshes the visit from the datastore and reports.
func (e *Engine) completeIngest(visit int, item *model.WorkItem, result model.JobResult) {
	delete(e.inflight, item.InflightKey())

	v, ok := e.visits[visit]
	if !ok {
		logger.WarnCtx(e.ctx, "ingest of visit %d finished after the visit was forgotten", visit)
		return
	}

	v.Initialize(e.ctx, e.datastore)
	for _, exp := range v.Exposures {
		if exp.CurrentState() != model.StateIngesting {
			continue
		}
		if exp.Ingested {
			e.transition(&exp.Lifecycle, exp.Key(), model.StateIngested)
		} else {
			e.transition(&exp.Lifecycle, exp.Key(), model.StateUnknown)
		}
	}

	ingested := v.IsIngested()
	line := e.statusLine(model.StageIngest, v.ID, result.ReturnCode, ingested, result.Elapsed)
	line.Throughput = model.Throughput(result.Bytes, result.Elapsed)
	line.Text = result.Error
	e.emit(line)

	if !ingested {
		e.transition(&v.Lifecycle, v.Key(), model.StateUnknown)
		return
	}
	e.transition(&v.Lifecycle, v.Key(), model.StateIngested)
	e.decideReduction(v)
}

// syncIngested moves records the datastore reports as ingested out of unknown.
func (e *Engine) syncIngested(v *model.Visit) {
	for _, exp := range v.Exposures {
		if exp.Ingested && exp.CurrentState() == model.StateUnknown {
			e.transition(&exp.Lifecycle, exp.Key(), model.StateIngested)
		}
	}
	if v.IsIngested() && v.CurrentState() == model.StateUnknown {
		e.transition(&v.Lifecycle, v.Key(), model.StateIngested)
	}
}
