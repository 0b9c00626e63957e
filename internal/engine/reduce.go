package engine

import (
	"context"
	"fmt"

	"drpactor/internal/model"
	"drpactor/pkg/drpparse"
	"drpactor/pkg/logger"
)

const (
	GranularityVisit    = "visit"
	GranularityExposure = "exposure"
)

// stage describes what a pipeline job produces and how it reports.
type stage struct {
	name     string
	kind     model.JobKind
	pipeline string
	product  string
}

func (e *Engine) reductionStage(kind model.JobKind) stage {
	cfg := e.current()
	if kind == model.JobDetrend {
		return stage{name: model.StageDetrend, kind: kind, pipeline: cfg.Pipelines.Detrend, product: model.DatasetCalexp}
	}
	return stage{name: model.StageReduce, kind: model.JobReduce, pipeline: cfg.Pipelines.Reduce, product: model.DatasetPfsArm}
}

func (e *Engine) qaStages() []stage {
	cfg := e.current()
	s := cfg.Settings
	var stages []stage
	if s.DoDetectorMapQa {
		stages = append(stages, stage{name: model.StageDetectorMapQa, kind: model.JobQa, pipeline: cfg.Pipelines.DetectorMapQa, product: model.DatasetDmQaResidual})
	}
	if s.DoExtractionQa {
		stages = append(stages, stage{name: model.StageExtractionQa, kind: model.JobQa, pipeline: cfg.Pipelines.ExtractionQa, product: model.DatasetExtQaStats})
	}
	return stages
}

func (s stage) isQa() bool {
	return s.kind == model.JobQa
}

// reductionKind reduce wins over detrend when both are enabled
func reductionKind(reduce, detrend bool) (model.JobKind, bool) {
	switch {
	case reduce:
		return model.JobReduce, true
	case detrend:
		return model.JobDetrend, true
	default:
		return "", false
	}
}

// decideReduction runs once a visit is ingested.
func (e *Engine) decideReduction(v *model.Visit) {
	if v.Processed {
		logger.DebugCtx(e.ctx, "visit %d already processed", v.ID)
		return
	}
	s := e.Settings()
	kind, ok := reductionKind(s.DoAutoReduce, s.DoAutoDetrend)
	if !ok {
		logger.InfoCtx(e.ctx, "visit %d ingested, reduction disabled", v.ID)
		v.Processed = true
		return
	}

	where := drpparse.WhereClause([]int{v.ID})
	if err := e.dispatch(v.Key(), []*model.Visit{v}, e.reductionStage(kind), where, e.current().Granularity); err != nil {
		logger.WarnCtx(e.ctx, "visit %d: %v", v.ID, err)
		return
	}
	v.Processed = true
}

func (e *Engine) newVisitGroup(sequenceID int, visits []int) error {
	if len(visits) == 0 {
		return fmt.Errorf("%w: sequence %d has no visits", ErrGroupIncomplete, sequenceID)
	}

	members := make([]*model.Visit, 0, len(visits))
	for _, id := range visits {
		v, ok := e.visits[id]
		if !ok {
			logger.WarnCtx(e.ctx, "skipping group %d: visit %d is unknown", sequenceID, id)
			return fmt.Errorf("%w: visit %d is unknown", ErrGroupIncomplete, id)
		}
		v.Initialize(e.ctx, e.datastore)
		e.syncIngested(v)
		if !v.IsIngested() {
			logger.WarnCtx(e.ctx, "skipping group %d: visit %d is not ingested", sequenceID, id)
			return fmt.Errorf("%w: visit %d is not ingested", ErrGroupIncomplete, id)
		}
		if e.busy(v) {
			logger.WarnCtx(e.ctx, "skipping group %d: visit %d is busy", sequenceID, id)
			return fmt.Errorf("%w: visit %d", ErrDuplicateWork, id)
		}
		members = append(members, v)
	}

	s := e.Settings()
	kind, ok := reductionKind(s.DoAutoReduce, s.DoAutoDetrend)
	if !ok {
		kind = model.JobReduce
	}

	target := fmt.Sprintf("group-%d", sequenceID)
	if err := e.dispatch(target, members, e.reductionStage(kind), drpparse.WhereClause(visits), GranularityVisit); err != nil {
		return err
	}
	for _, v := range members {
		v.SequenceID = sequenceID
		v.Processed = true
	}
	return nil
}

// dispatch submits the pipeline items covering visits and moves the records
// to reducing. QA stages leave record states alone.
func (e *Engine) dispatch(target string, visits []*model.Visit, st stage, where, granularity string) error {
	var items []*model.WorkItem
	if granularity == GranularityExposure {
		for _, v := range visits {
			for _, exp := range v.Exposures {
				t := exp.Key()
				if st.isQa() {
					t += "/" + st.name
				}
				items = append(items, e.newPipelineItem(t, st, exp.DataID.Where(), []*model.Exposure{exp}))
			}
		}
	} else {
		var exps []*model.Exposure
		for _, v := range visits {
			exps = append(exps, v.Exposures...)
		}
		if st.isQa() {
			target += "/" + st.name
		}
		items = append(items, e.newPipelineItem(target, st, where, exps))
	}

	fresh := items[:0]
	for _, item := range items {
		if _, ok := e.inflight[item.InflightKey()]; ok {
			logger.InfoCtx(e.ctx, "%s already in flight", item.InflightKey())
			continue
		}
		fresh = append(fresh, item)
	}
	if len(fresh) == 0 {
		return fmt.Errorf("%w: %s %s", ErrDuplicateWork, st.kind, target)
	}

	if !st.isQa() {
		for _, v := range visits {
			e.transition(&v.Lifecycle, v.Key(), model.StateReducing)
		}
	}
	for _, item := range fresh {
		if !st.isQa() {
			for _, ref := range item.Exposures {
				if exp := e.exposure(ref.DataID); exp != nil {
					e.transition(&exp.Lifecycle, exp.Key(), model.StateReducing)
				}
			}
		}
		e.submit(item, st)
	}
	return nil
}

func (e *Engine) newPipelineItem(target string, st stage, where string, exps []*model.Exposure) *model.WorkItem {
	cfg := e.current()
	item := model.NewWorkItem(st.kind, target)
	item.Pipeline = st.pipeline
	item.Where = where
	item.Product = st.product
	item.NumProc = cfg.NumProc
	item.TaskThreads = cfg.TaskThreads
	item.FailFast = cfg.FailFast
	for _, exp := range exps {
		item.Exposures = append(item.Exposures, model.ExposureRef{
			DataID:   exp.DataID,
			Path:     exp.Filepath(),
			Windowed: exp.Windowed,
			Calib:    e.calibs.Get(e.ctx, model.CameraKey{Spectrograph: exp.Spectrograph, Arm: exp.Arm}),
		})
	}
	return item
}

func (e *Engine) submit(item *model.WorkItem, st stage) {
	e.inflight[item.InflightKey()] = item
	item.SubmittedAt = e.clock.Now()

	err := e.executor.Submit(e.ctx, item, func(result model.JobResult) {
		e.loop.post(func() { e.jobDone(item, st, result) })
	})
	if err != nil {
		logger.ErrorCtx(e.ctx, "failed to submit %s %s: %v", item.Kind, item.Target, err)
		e.finishWait(e.newWait(item, st, model.Failed(item, err)), false)
	}
}

// dispatchQa runs the enabled QA stages after a successful reduction.
func (e *Engine) dispatchQa(v *model.Visit) {
	for _, st := range e.qaStages() {
		where := drpparse.WhereClause([]int{v.ID})
		if err := e.dispatch(v.Key(), []*model.Visit{v}, st, where, e.current().Granularity); err != nil {
			logger.WarnCtx(e.ctx, "visit %d %s: %v", v.ID, st.name, err)
		}
	}
}

// RunReductionPipeline runs the reduce pipeline (or the named one) on an
// arbitrary where clause. Record states are not touched and no product is
// awaited. Returns the work item id.
func (e *Engine) RunReductionPipeline(ctx context.Context, where, pipeline string) (string, error) {
	if where == "" {
		return "", fmt.Errorf("empty where clause")
	}

	var id string
	var err error
	callErr := e.loop.call(ctx, func() {
		st := e.reductionStage(model.JobReduce)
		st.product = ""
		if pipeline != "" {
			st.pipeline = pipeline
		}
		item := e.newPipelineItem("where:"+where, st, where, nil)
		if _, ok := e.inflight[item.InflightKey()]; ok {
			err = fmt.Errorf("%w: %s", ErrDuplicateWork, where)
			return
		}
		e.submit(item, st)
		id = item.ID
	})
	if callErr != nil {
		return "", callErr
	}
	return id, err
}

func (e *Engine) exposure(id model.DataID) *model.Exposure {
	v, ok := e.visits[id.Visit]
	if !ok {
		return nil
	}
	return v.Exposure(id.Arm, id.Spectrograph)
}
