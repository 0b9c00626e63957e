package engine

import (
	"sort"
	"time"

	"drpactor/internal/model"
	"drpactor/pkg/drpparse"
	"drpactor/pkg/logger"
)

// productWait polls the datastore for the products of one work item. It
// lives on the loop and re-arms itself with a timer, never a sleep.
type productWait struct {
	item     *model.WorkItem
	stage    stage
	result   model.JobResult
	deadline time.Time
	pending  []model.ExposureRef
}

func (e *Engine) newWait(item *model.WorkItem, st stage, result model.JobResult) *productWait {
	return &productWait{
		item:     item,
		stage:    st,
		result:   result,
		deadline: e.clock.Now().Add(e.current().ResultTimeout()),
		pending:  append([]model.ExposureRef(nil), item.Exposures...),
	}
}

// jobDone is the process-level completion. Products are awaited next, a
// failed process simply never produces them.
func (e *Engine) jobDone(item *model.WorkItem, st stage, result model.JobResult) {
	if result.Status == model.StatusFailed {
		logger.WarnCtx(e.ctx, "%s %s exited with rc=%d: %s", item.Kind, item.Target, result.ReturnCode, result.Error)
	}
	if st.kind == model.JobExtract {
		e.extractDone(item, result)
		return
	}

	if item.Product == "" {
		delete(e.inflight, item.InflightKey())
		elapsed := e.clock.Now().Sub(item.SubmittedAt).Seconds()
		visits := drpparse.VisitsFromWhere(item.Where)
		if len(visits) == 0 {
			visits = []int{0}
		}
		for _, visit := range visits {
			e.emit(e.statusLine(st.name, visit, result.ReturnCode, result.Status != model.StatusFailed, elapsed))
		}
		return
	}

	e.checkWait(e.newWait(item, st, result))
}

func (e *Engine) checkWait(w *productWait) {
	remaining := make([]model.ExposureRef, 0, len(w.pending))
	for _, ref := range w.pending {
		product, err := e.datastore.Get(e.ctx, w.item.Product, ref.DataID)
		if err != nil {
			logger.DebugCtx(e.ctx, "query %s %s: %v", w.item.Product, ref.DataID, err)
			remaining = append(remaining, ref)
			continue
		}
		if product == nil {
			remaining = append(remaining, ref)
			continue
		}
		e.productReady(w, ref, product)
	}
	w.pending = remaining

	if len(w.pending) == 0 {
		e.finishWait(w, true)
		return
	}
	if !e.clock.Now().Before(w.deadline) {
		e.finishWait(w, false)
		return
	}
	e.loop.after(e.current().SleepInterval(), func() { e.checkWait(w) })
}

func (e *Engine) productReady(w *productWait, ref model.ExposureRef, product *model.DatasetRef) {
	if w.stage.isQa() {
		return
	}
	exp := e.exposure(ref.DataID)
	if exp == nil {
		return
	}
	if err := exp.SetReducedProduct(product); err != nil {
		logger.WarnCtx(e.ctx, "%s: %v", exp.Key(), err)
	}
	e.finish(&exp.Lifecycle, exp.Key(), model.OutcomeSuccess)
}

// finishWait releases the in-flight slot and reports. Visits report once
// none of their exposures is still reducing.
func (e *Engine) finishWait(w *productWait, ok bool) {
	delete(e.inflight, w.item.InflightKey())

	elapsed := e.clock.Now().Sub(w.item.SubmittedAt).Seconds()
	rc := w.result.ReturnCode
	if !ok {
		if rc == 0 {
			rc = -1
		}
		logger.ErrorCtx(e.ctx, "%s %s: %d %s product(s) missing after %s", w.item.Kind, w.item.Target, len(w.pending), w.item.Product, e.current().ResultTimeout())
	}

	if w.stage.isQa() {
		for _, visit := range visitsOf(w.item) {
			e.emit(e.statusLine(w.stage.name, visit, rc, ok, elapsed))
		}
		return
	}

	for _, ref := range w.pending {
		if exp := e.exposure(ref.DataID); exp != nil {
			e.finish(&exp.Lifecycle, exp.Key(), model.OutcomeFailed)
		}
	}

	for _, visit := range visitsOf(w.item) {
		v, found := e.visits[visit]
		if !found || v.CurrentState() != model.StateReducing {
			continue
		}
		outcome := model.OutcomeSuccess
		reducing := false
		for _, exp := range v.Exposures {
			switch {
			case exp.CurrentState() == model.StateReducing:
				reducing = true
			case exp.Outcome == model.OutcomeFailed:
				outcome = model.OutcomeFailed
			}
		}
		if reducing {
			continue
		}

		e.finish(&v.Lifecycle, v.Key(), outcome)
		success := outcome == model.OutcomeSuccess
		visitRC := rc
		if !success && visitRC == 0 {
			visitRC = -1
		}
		e.emit(e.statusLine(w.stage.name, v.ID, visitRC, success, elapsed))

		if success && w.stage.kind == model.JobReduce {
			e.dispatchQa(v)
			e.dispatchExtract(v)
		}
	}
}

func visitsOf(item *model.WorkItem) []int {
	seen := make(map[int]bool)
	var visits []int
	for _, ref := range item.Exposures {
		if !seen[ref.DataID.Visit] {
			seen[ref.DataID.Visit] = true
			visits = append(visits, ref.DataID.Visit)
		}
	}
	sort.Ints(visits)
	return visits
}
