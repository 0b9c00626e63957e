package engine

import (
	"context"
	"testing"
	"time"

	"drpactor/internal/model"
	"drpactor/pkg/config"
	"drpactor/pkg/executor"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testTimeout  = time.Second
	testInterval = 200 * time.Millisecond
)

func newClockedEngine(t *testing.T, granularity string) (*Engine, *memDatastore, *recordingSink, *testclock.Clock) {
	t.Helper()
	ds := newMemDatastore()
	sink := &recordingSink{}
	clk := testclock.NewClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	cfg := testConfig()
	cfg.Granularity = granularity
	cfg.ResultTimeoutMs = int(testTimeout / time.Millisecond)
	cfg.SleepIntervalMs = int(testInterval / time.Millisecond)

	eng := startEngine(t, cfg, Deps{
		Datastore: ds,
		Executor:  &fakeExecutor{onSubmit: completeImmediately},
		Status:    sink,
		Clock:     clk,
	})
	return eng, ds, sink, clk
}

func TestProductWait_TimesOut(t *testing.T) {
	eng, ds, sink, clk := newClockedEngine(t, GranularityVisit)
	ctx := context.Background()

	declareIngestedVisit(t, eng, ds, 100, channel(100, "b", 1))
	start := clk.Now()
	require.NoError(t, eng.NewVisit(ctx, 100))

	steps := int(testTimeout / testInterval)
	for i := 0; i < steps-1; i++ {
		require.NoError(t, clk.WaitAdvance(testInterval, time.Second, 1))
	}
	_, early := sink.find(model.StageReduce, 100)
	assert.False(t, early, "no status before the timeout")

	require.NoError(t, clk.WaitAdvance(testInterval, time.Second, 1))
	require.Eventually(t, func() bool {
		_, ok := sink.find(model.StageReduce, 100)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	line, _ := sink.find(model.StageReduce, 100)
	assert.Equal(t, model.StatusFailed, line.Status)
	assert.Equal(t, -1, line.ReturnCode)
	assert.Equal(t, testTimeout, line.EmittedAt.Sub(start))

	v, err := eng.Visit(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, v.State)
	assert.Equal(t, model.OutcomeFailed, v.Outcome)
	assert.Nil(t, v.Exposures[0].ReducedProductRef)

	keys, err := eng.InFlight(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)

	leftovers, err := eng.CheckLeftOvers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{100}, leftovers)
}

func TestProductWait_ProductAppearsLate(t *testing.T) {
	eng, ds, sink, clk := newClockedEngine(t, GranularityVisit)
	ctx := context.Background()

	declareIngestedVisit(t, eng, ds, 100, channel(100, "b", 1))
	require.NoError(t, eng.NewVisit(ctx, 100))

	require.NoError(t, clk.WaitAdvance(testInterval, time.Second, 1))
	// the first re-check must have found nothing and re-armed
	require.NoError(t, clk.WaitAdvance(0, time.Second, 1))
	ds.register(model.DatasetPfsArm, channel(100, "b", 1))
	require.NoError(t, clk.WaitAdvance(testInterval, time.Second, 1))

	require.Eventually(t, func() bool {
		_, ok := sink.find(model.StageReduce, 100)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	line, _ := sink.find(model.StageReduce, 100)
	assert.Equal(t, model.StatusOK, line.Status)
	assert.Equal(t, 0, line.ReturnCode)

	v, err := eng.Visit(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeSuccess, v.Outcome)
	require.NotNil(t, v.Exposures[0].ReducedProductRef)
	assert.Equal(t, model.DatasetPfsArm, v.Exposures[0].ReducedProductRef.DatasetType)
}

func TestProductWait_ExitOKButProductMissing(t *testing.T) {
	ds := newMemDatastore()
	sink := &recordingSink{}
	clk := testclock.NewClock(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	b1, r1 := channel(100, "b", 1), channel(100, "r", 1)
	runner := executor.NewTaskRunner(executor.TaskRunnerDeps{
		Datastore: ds,
		Pipeline:  &recordingPipeline{},
		Locator:   &productLocator{missing: map[model.DataID]bool{r1: true}},
		Repo:      config.RepoConfig{Rerun: "drp/rerun"},
	})
	pool, err := executor.NewPool(1, runner)
	require.NoError(t, err)
	defer pool.Close()

	cfg := testConfig()
	cfg.ResultTimeoutMs = int(testTimeout / time.Millisecond)
	cfg.SleepIntervalMs = int(testInterval / time.Millisecond)
	eng := startEngine(t, cfg, Deps{Datastore: ds, Executor: pool, Status: sink, Clock: clk})
	ctx := context.Background()

	declareIngestedVisit(t, eng, ds, 100, b1, r1)
	require.NoError(t, eng.NewVisit(ctx, 100))

	for i := 0; i < int(testTimeout/testInterval); i++ {
		require.NoError(t, clk.WaitAdvance(testInterval, time.Second, 1))
	}
	require.Eventually(t, func() bool {
		_, ok := sink.find(model.StageReduce, 100)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	line, _ := sink.find(model.StageReduce, 100)
	assert.Equal(t, model.StatusFailed, line.Status)
	assert.Equal(t, -1, line.ReturnCode)

	v, err := eng.Visit(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, v.State)
	assert.Equal(t, model.OutcomeFailed, v.Outcome)
	assert.NotNil(t, v.Exposure("b", 1).ReducedProductRef)
	assert.Nil(t, v.Exposure("r", 1).ReducedProductRef)
}

func TestProductWait_PartialExposuresFailVisitOnce(t *testing.T) {
	eng, ds, sink, clk := newClockedEngine(t, GranularityExposure)
	ctx := context.Background()

	declareIngestedVisit(t, eng, ds, 100, channel(100, "b", 1), channel(100, "r", 1))
	ds.register(model.DatasetPfsArm, channel(100, "b", 1))
	require.NoError(t, eng.NewVisit(ctx, 100))

	for i := 0; i < int(testTimeout/testInterval); i++ {
		require.NoError(t, clk.WaitAdvance(testInterval, time.Second, 1))
	}
	require.Eventually(t, func() bool {
		return sink.count(model.StageReduce) > 0
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, sink.count(model.StageReduce))
	v, err := eng.Visit(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeFailed, v.Outcome)

	b := v.Exposure("b", 1)
	r := v.Exposure("r", 1)
	assert.Equal(t, model.OutcomeSuccess, b.Outcome)
	assert.NotNil(t, b.ReducedProductRef)
	assert.Equal(t, model.OutcomeFailed, r.Outcome)
}

func TestProductWait_QaAfterSuccessfulReduce(t *testing.T) {
	eng, ds, sink, _ := newClockedEngine(t, GranularityVisit)
	ctx := context.Background()

	on := true
	eng.SetSettings(SettingsOverride{DoExtractionQa: &on})

	declareIngestedVisit(t, eng, ds, 100, channel(100, "b", 1))
	ds.register(model.DatasetPfsArm, channel(100, "b", 1))
	ds.register(model.DatasetExtQaStats, channel(100, "b", 1))
	require.NoError(t, eng.NewVisit(ctx, 100))

	require.Eventually(t, func() bool {
		_, ok := sink.find(model.StageExtractionQa, 100)
		return ok
	}, 2*time.Second, 5*time.Millisecond)

	line, _ := sink.find(model.StageExtractionQa, 100)
	assert.Equal(t, model.StatusOK, line.Status)
	_, detMap := sink.find(model.StageDetectorMapQa, 100)
	assert.False(t, detMap)

	v, err := eng.Visit(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, model.StateIdle, v.State, "qa leaves the record state alone")
}
