package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"drpactor/internal/model"
	"drpactor/pkg/config"
	"drpactor/pkg/interfaces"

	"github.com/stretchr/testify/require"
)

type memDatastore struct {
	mu      sync.Mutex
	refs    map[string]*model.DatasetRef
	queries int
}

func newMemDatastore() *memDatastore {
	return &memDatastore{refs: make(map[string]*model.DatasetRef)}
}

func refKey(datasetType string, id model.DataID) string {
	return fmt.Sprintf("%s/%d/%s/%d", datasetType, id.Visit, id.Arm, id.Spectrograph)
}

func (m *memDatastore) Exists(ctx context.Context, datasetType string, id model.DataID) (bool, error) {
	ref, err := m.Get(ctx, datasetType, id)
	return ref != nil, err
}

func (m *memDatastore) Get(_ context.Context, datasetType string, id model.DataID) (*model.DatasetRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	return m.refs[refKey(datasetType, id)], nil
}

func (m *memDatastore) Put(_ context.Context, ref *model.DatasetRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refs[refKey(ref.DatasetType, ref.DataID)] = ref
	return nil
}

func (m *memDatastore) GetURI(ctx context.Context, datasetType string, id model.DataID) (string, error) {
	ref, _ := m.Get(ctx, datasetType, id)
	if ref == nil {
		return "", errors.New("not found")
	}
	return ref.URI, nil
}

func (m *memDatastore) register(datasetType string, id model.DataID) {
	_ = m.Put(context.Background(), &model.DatasetRef{DatasetType: datasetType, DataID: id, URI: refKey(datasetType, id)})
}

func (m *memDatastore) queryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries
}

// fakeExecutor records submissions. onSubmit, when set, decides what
// happens to each item.
type fakeExecutor struct {
	mu       sync.Mutex
	items    []*model.WorkItem
	onSubmit func(item *model.WorkItem, done interfaces.DoneFunc)
}

func (f *fakeExecutor) Submit(_ context.Context, item *model.WorkItem, done interfaces.DoneFunc) error {
	f.mu.Lock()
	f.items = append(f.items, item)
	hook := f.onSubmit
	f.mu.Unlock()

	if hook != nil {
		go hook(item, done)
	}
	return nil
}

func (f *fakeExecutor) Close() error { return nil }

func (f *fakeExecutor) submitted() []*model.WorkItem {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*model.WorkItem(nil), f.items...)
}

func (f *fakeExecutor) count(kind model.JobKind) int {
	n := 0
	for _, item := range f.submitted() {
		if item.Kind == kind {
			n++
		}
	}
	return n
}

type recordingSink struct {
	mu    sync.Mutex
	lines []model.StatusLine
}

func (r *recordingSink) Emit(_ context.Context, line model.StatusLine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
}

func (r *recordingSink) find(stage string, visit int) (model.StatusLine, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, line := range r.lines {
		if line.Stage == stage && line.Visit == visit {
			return line, true
		}
	}
	return model.StatusLine{}, false
}

func testConfig() config.EngineConfig {
	cfg := config.Default().Engine
	cfg.Settings = config.SettingsConfig{DoAutoIngest: true, DoAutoReduce: true}
	cfg.Pipelines.Reduce = "$DRP_PFS_DIR/pipelines/reduceExposure.yaml"
	cfg.Pipelines.Detrend = "$DRP_PFS_DIR/pipelines/detrend.yaml"
	cfg.ResultTimeoutMs = 2000
	cfg.SleepIntervalMs = 10
	return cfg
}

func startEngine(t *testing.T, cfg config.EngineConfig, deps Deps) *Engine {
	t.Helper()
	eng, err := New(cfg, config.RepoConfig{RawCollection: "PFS/raw/all", Rerun: "drp/rerun"}, deps)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = eng.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})
	<-eng.Started()
	return eng
}

func channel(visit int, arm string, spec int) model.DataID {
	return model.DataID{Visit: visit, Arm: arm, Spectrograph: spec}
}

func rawFilename(id model.DataID) string {
	armNums := map[string]int{"b": 1, "r": 2, "n": 3, "m": 4}
	return fmt.Sprintf("PFSA%06d%d%d.fits", id.Visit, id.Spectrograph, armNums[id.Arm])
}

// declareIngestedVisit registers a visit whose raws and pfsConfig are
// already in the datastore.
func declareIngestedVisit(t *testing.T, eng *Engine, ds *memDatastore, visit int, ids ...model.DataID) {
	t.Helper()
	ctx := context.Background()
	ds.register(model.DatasetPfsConfig, model.DataID{Visit: visit})
	require.NoError(t, eng.NewPfsConfig(ctx, visit, fmt.Sprintf("/data/raw/2024-01-01/pfsConfig/pfsConfig-0x1-%06d.fits", visit)))
	for _, id := range ids {
		ds.register(model.DatasetRaw, id)
		require.NoError(t, eng.NewExposure(ctx, "/data/raw", "2024-01-01", rawFilename(id)))
	}
}

func (r *recordingSink) count(stage string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, line := range r.lines {
		if line.Stage == stage {
			n++
		}
	}
	return n
}

// completeImmediately reports every item as a successful process exit
// without registering any product.
func completeImmediately(item *model.WorkItem, done interfaces.DoneFunc) {
	done(model.JobResult{ItemID: item.ID, Status: model.StatusOK})
}
