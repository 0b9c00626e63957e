package jobs

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"drpactor/internal/engine"
	"drpactor/internal/model"
	"drpactor/pkg/config"
	"drpactor/pkg/interfaces"
	"drpactor/pkg/lock"
	"drpactor/pkg/store/db"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingJob struct {
	mu   sync.Mutex
	runs int
	ran  chan struct{}
}

func newCountingJob() *countingJob {
	return &countingJob{ran: make(chan struct{}, 16)}
}

func (j *countingJob) Name() string            { return "counting" }
func (j *countingJob) Interval() time.Duration { return time.Minute }

func (j *countingJob) Run(ctx context.Context) error {
	j.mu.Lock()
	j.runs++
	j.mu.Unlock()
	j.ran <- struct{}{}
	return nil
}

func (j *countingJob) count() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.runs
}

func waitRun(t *testing.T, j *countingJob) {
	t.Helper()
	select {
	case <-j.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run")
	}
}

func TestManager_RunsImmediatelyThenOnInterval(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC))
	m := NewManager(context.Background(), clk, nil)
	job := newCountingJob()
	m.Register(job)
	m.Start()
	defer func() {
		m.Stop()
		m.Wait()
	}()

	waitRun(t, job)
	require.NoError(t, clk.WaitAdvance(time.Minute, 5*time.Second, 1))
	waitRun(t, job)
	assert.Equal(t, 2, job.count())
}

type alignedJob struct {
	*countingJob
}

func (alignedJob) AlignToInterval() bool { return true }

func TestManager_AlignedJobWaitsForBoundary(t *testing.T) {
	clk := testclock.NewClock(time.Date(2024, 1, 1, 0, 0, 30, 0, time.UTC))
	m := NewManager(context.Background(), clk, nil)
	job := alignedJob{newCountingJob()}
	m.Register(job)
	m.Start()
	defer func() {
		m.Stop()
		m.Wait()
	}()

	require.NoError(t, clk.WaitAdvance(29*time.Second, 5*time.Second, 1))
	assert.Equal(t, 0, job.count())

	require.NoError(t, clk.WaitAdvance(time.Second, 5*time.Second, 1))
	waitRun(t, job.countingJob)
}

func TestManager_SkipsWhenLockHeldElsewhere(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	other := lock.NewRedisDistributedLock(client, "drp:jobs:counting")
	acquired, err := other.TryLock(context.Background())
	require.NoError(t, err)
	require.True(t, acquired)

	m := NewManager(context.Background(), testclock.NewClock(time.Now()), func(name string) lock.DistributedLock {
		return lock.NewRedisDistributedLock(client, "drp:jobs:"+name)
	})
	job := newCountingJob()
	m.executeJob(job)
	assert.Equal(t, 0, job.count())

	require.NoError(t, other.Unlock(context.Background()))
	m.executeJob(job)
	assert.Equal(t, 1, job.count())
}

type fakeLeftovers struct {
	leftovers []int
	visits    map[int]*model.Visit
	redriven  []int
}

func (f *fakeLeftovers) CheckLeftOvers(ctx context.Context) ([]int, error) {
	return f.leftovers, nil
}

func (f *fakeLeftovers) Visit(ctx context.Context, visit int) (*model.Visit, error) {
	v, ok := f.visits[visit]
	if !ok {
		return nil, fmt.Errorf("visit %d not found", visit)
	}
	return v, nil
}

func (f *fakeLeftovers) NewVisit(ctx context.Context, visit int) error {
	f.redriven = append(f.redriven, visit)
	return nil
}

func TestLeftoverJob_RedrivesClosedPendingOnly(t *testing.T) {
	open := model.NewVisit(100, nil)
	closed := model.NewVisit(101, nil)
	closed.Closed = true
	failed := model.NewVisit(102, nil)
	failed.Closed = true
	failed.State = model.StateIdle
	failed.Outcome = model.OutcomeFailed

	src := &fakeLeftovers{
		leftovers: []int{100, 101, 102, 103},
		visits:    map[int]*model.Visit{100: open, 101: closed, 102: failed},
	}
	job := NewLeftoverJob(src, time.Minute)

	require.NoError(t, job.Run(context.Background()))
	assert.Equal(t, []int{101}, src.redriven)
}

func TestLeftoverJob_LeavesOpenVisitAlone(t *testing.T) {
	open := model.NewVisit(100, model.NewPfsConfig(100, "/data/pfsConfig-0x1-000100.fits"))
	open.AddExposure(&model.Exposure{DataID: model.DataID{Visit: 100, Arm: "b", Spectrograph: 1}})

	src := &fakeLeftovers{
		leftovers: []int{100},
		visits:    map[int]*model.Visit{100: open},
	}
	job := NewLeftoverJob(src, time.Minute)

	require.NoError(t, job.Run(context.Background()))
	require.NoError(t, job.Run(context.Background()))
	assert.Empty(t, src.redriven)
}

// heldExecutor records submissions and never completes them
type heldExecutor struct {
	mu    sync.Mutex
	items []*model.WorkItem
}

func (h *heldExecutor) Submit(_ context.Context, item *model.WorkItem, _ interfaces.DoneFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.items = append(h.items, item)
	return nil
}

func (h *heldExecutor) Close() error { return nil }

func (h *heldExecutor) submitted() []*model.WorkItem {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*model.WorkItem(nil), h.items...)
}

func TestLeftoverJob_OpenVisitGetsSingleIngestBatch(t *testing.T) {
	ds, err := db.NewDatastore(config.DatastoreConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "registry.db"),
		AutoMigrate: true,
	})
	require.NoError(t, err)
	defer ds.Close()

	cfg := config.Default().Engine
	cfg.Settings = config.SettingsConfig{DoAutoIngest: true, DoAutoReduce: true}
	exec := &heldExecutor{}
	eng, err := engine.New(cfg, config.RepoConfig{RawCollection: "PFS/raw/all"}, engine.Deps{
		Datastore: db.NewDatasetRepository(ds),
		Executor:  exec,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		_ = eng.Run(ctx)
	}()
	defer func() {
		cancel()
		<-stopped
	}()
	<-eng.Started()

	bg := context.Background()
	require.NoError(t, eng.NewPfsConfig(bg, 100, "/data/raw/2024-01-01/pfsConfig/pfsConfig-0x1-000100.fits"))
	require.NoError(t, eng.NewExposure(bg, "/data/raw", "2024-01-01", "PFSA00010011.fits"))

	job := NewLeftoverJob(eng, time.Minute)
	require.NoError(t, job.Run(bg))
	assert.Empty(t, exec.submitted(), "open visit must wait for its close signal")

	require.NoError(t, eng.NewExposure(bg, "/data/raw", "2024-01-01", "PFSA00010012.fits"))
	require.NoError(t, eng.NewVisit(bg, 100))

	items := exec.submitted()
	require.Len(t, items, 1)
	assert.Equal(t, model.JobIngest, items[0].Kind)
	assert.Len(t, items[0].Paths, 3)

	// closed and ingesting: the sweep leaves it to the in-flight ingest
	require.NoError(t, job.Run(bg))
	assert.Len(t, exec.submitted(), 1)
}

func TestStatusRetentionJob(t *testing.T) {
	ds, err := db.NewDatastore(config.DatastoreConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "registry.db"),
		AutoMigrate: true,
	})
	require.NoError(t, err)
	defer ds.Close()
	history := db.NewStatusEventRepository(ds)
	ctx := context.Background()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	old := model.StatusLine{Stage: model.StageIngest, Visit: 100, Status: model.StatusOK, EmittedAt: now.Add(-48 * time.Hour)}
	recent := model.StatusLine{Stage: model.StageReduce, Visit: 100, Status: model.StatusOK, EmittedAt: now.Add(-time.Hour)}
	require.NoError(t, history.Record(ctx, old))
	require.NoError(t, history.Record(ctx, recent))

	job := NewStatusRetentionJob(history, 24*time.Hour, testclock.NewClock(now))
	require.NoError(t, job.Run(ctx))

	lines, err := history.ListByVisit(ctx, 100)
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, model.StageReduce, lines[0].Stage)
}
