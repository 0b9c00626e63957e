package executor

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"drpactor/internal/model"
	"drpactor/pkg/config"
	"drpactor/pkg/drpcmd"
	"drpactor/pkg/ingest"
	"drpactor/pkg/interfaces"
	"drpactor/pkg/logger"
)

// TaskRunner executes work items on the worker side. It only sees the values
// carried by the item and the collaborators it was built with.
type TaskRunner struct {
	datastore interfaces.Datastore
	ingester  interfaces.IngestBackend
	chainer   interfaces.CollectionChainer
	pipeline  interfaces.PipelineExecutor
	measurer  interfaces.Measurer
	locator   interfaces.ProductLocator
	repo      config.RepoConfig
}

// TaskRunnerDeps collaborators of a TaskRunner
type TaskRunnerDeps struct {
	Datastore interfaces.Datastore
	Ingester  interfaces.IngestBackend
	Chainer   interfaces.CollectionChainer
	Pipeline  interfaces.PipelineExecutor
	Measurer  interfaces.Measurer
	Locator   interfaces.ProductLocator
	Repo      config.RepoConfig
}

// NewTaskRunner creates the runner
func NewTaskRunner(deps TaskRunnerDeps) *TaskRunner {
	return &TaskRunner{
		datastore: deps.Datastore,
		ingester:  deps.Ingester,
		chainer:   deps.Chainer,
		pipeline:  deps.Pipeline,
		measurer:  deps.Measurer,
		locator:   deps.Locator,
		repo:      deps.Repo,
	}
}

// Run dispatches on the item kind
func (r *TaskRunner) Run(ctx context.Context, item *model.WorkItem) (model.JobResult, error) {
	ctx = logger.WithTrace(ctx, fmt.Sprintf("%s=%s", item.Kind, item.Target))

	switch item.Kind {
	case model.JobIngest:
		return r.runIngest(ctx, item)
	case model.JobDetrend, model.JobReduce, model.JobQa:
		return r.runPipeline(ctx, item)
	case model.JobExtract:
		return r.runExtract(ctx, item)
	default:
		return model.JobResult{}, fmt.Errorf("unknown job kind %q", item.Kind)
	}
}

func (r *TaskRunner) runIngest(ctx context.Context, item *model.WorkItem) (model.JobResult, error) {
	if len(item.Paths) == 0 {
		return model.JobResult{}, fmt.Errorf("empty ingest batch")
	}

	start := time.Now()
	bytes := ingest.TotalSize(item.Paths)
	mode := r.repo.IngestMode

	if err := r.ingester.Ingest(ctx, item.Paths, mode); err != nil {
		return model.JobResult{ReturnCode: drpcmd.ReturnCode(err)}, err
	}

	// registry rows are what the orchestrator polls for
	for _, path := range item.Paths {
		if err := r.register(ctx, path); err != nil {
			return model.JobResult{ReturnCode: -1}, err
		}
	}

	if r.chainer != nil {
		if err := r.chainer.ExtendChain(ctx); err != nil {
			logger.WarnCtx(ctx, "%v", err)
		}
	}

	return model.JobResult{
		ItemID:     item.ID,
		ReturnCode: 0,
		Status:     model.StatusOK,
		Elapsed:    time.Since(start).Seconds(),
		Bytes:      bytes,
	}, nil
}

func (r *TaskRunner) register(ctx context.Context, path string) error {
	if ingest.IsPfsConfigPath(path) {
		visit, err := ingest.PfsConfigVisit(path)
		if err != nil {
			return err
		}
		return r.datastore.Put(ctx, &model.DatasetRef{
			DatasetType: model.DatasetPfsConfig,
			DataID:      model.DataID{Visit: visit},
			Run:         r.repo.RawCollection,
			URI:         path,
		})
	}

	id, err := model.ParseRawFilename(filepath.Base(path))
	if err != nil {
		return err
	}
	md, err := ingest.ReadHeaderInts(path, model.WindowKeywords())
	if err != nil {
		logger.WarnCtx(ctx, "could not read header of %s: %v", path, err)
	}
	return r.datastore.Put(ctx, &model.DatasetRef{
		DatasetType: model.DatasetRaw,
		DataID:      id,
		Run:         r.repo.RawCollection,
		URI:         path,
		Metadata:    md,
	})
}

func (r *TaskRunner) runPipeline(ctx context.Context, item *model.WorkItem) (model.JobResult, error) {
	start := time.Now()

	for _, exp := range item.Exposures {
		if !exp.Calib.Empty() {
			logger.DebugCtx(ctx, "%s calibs: defects=%s flat=%s ipc=%s", exp.DataID.Camera(), exp.Calib.Defects, exp.Calib.Flat, exp.Calib.IPC)
		}
	}

	graph, err := r.pipeline.MakeGraph(ctx, item.Pipeline, item.Where)
	if err != nil {
		return model.JobResult{ReturnCode: drpcmd.ReturnCode(err)}, err
	}
	if err := r.pipeline.RunGraph(ctx, graph, item.NumProc, item.FailFast); err != nil {
		return model.JobResult{ReturnCode: drpcmd.ReturnCode(err)}, err
	}

	if item.Product != "" {
		if err := r.registerProducts(ctx, item); err != nil {
			return model.JobResult{ReturnCode: -1}, err
		}
	}

	return model.JobResult{
		ItemID:     item.ID,
		ReturnCode: 0,
		Status:     model.StatusOK,
		Elapsed:    time.Since(start).Seconds(),
	}, nil
}

// registerProducts records the outputs the repository actually holds. Missing
// ones are left for the orchestrator's wait to time out on.
func (r *TaskRunner) registerProducts(ctx context.Context, item *model.WorkItem) error {
	if r.locator == nil {
		logger.WarnCtx(ctx, "no product locator, %s outputs not registered", item.Product)
		return nil
	}
	for _, exp := range item.Exposures {
		found, err := r.locator.Locate(ctx, item.Product, r.repo.Rerun, exp.DataID)
		if err != nil {
			logger.WarnCtx(ctx, "%v", err)
			continue
		}
		if !found {
			logger.WarnCtx(ctx, "%s %s not produced", item.Product, exp.DataID)
			continue
		}
		err = r.datastore.Put(ctx, &model.DatasetRef{
			DatasetType: item.Product,
			DataID:      exp.DataID,
			Run:         r.repo.Rerun,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *TaskRunner) runExtract(ctx context.Context, item *model.WorkItem) (model.JobResult, error) {
	start := time.Now()
	fluxes, err := r.measurer.Measure(ctx, item.Exposures)
	if err != nil {
		return model.JobResult{ReturnCode: drpcmd.ReturnCode(err)}, err
	}
	return model.JobResult{
		ItemID:     item.ID,
		ReturnCode: 0,
		Status:     model.StatusOK,
		Elapsed:    time.Since(start).Seconds(),
		Fluxes:     fluxes,
	}, nil
}
