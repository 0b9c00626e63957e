package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"drpactor/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcRunner func(ctx context.Context, item *model.WorkItem) (model.JobResult, error)

func (f funcRunner) Run(ctx context.Context, item *model.WorkItem) (model.JobResult, error) {
	return f(ctx, item)
}

func TestNewPool_Invalid(t *testing.T) {
	_, err := NewPool(0, funcRunner(nil))
	assert.Error(t, err)
	_, err = NewPool(2, nil)
	assert.Error(t, err)
}

func TestPool_BoundedConcurrency(t *testing.T) {
	var running, peak int32
	release := make(chan struct{})

	pool, err := NewPool(2, funcRunner(func(ctx context.Context, item *model.WorkItem) (model.JobResult, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&running, -1)
		return model.JobResult{Status: model.StatusOK}, nil
	}))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		item := model.NewWorkItem(model.JobReduce, "visit")
		require.NoError(t, pool.Submit(context.Background(), item, func(r model.JobResult) {
			assert.Equal(t, item.ID, r.ItemID)
			wg.Done()
		}))
	}

	assert.Eventually(t, func() bool {
		queued, busy := pool.Stats()
		return queued == 4 && busy == 2
	}, time.Second, 5*time.Millisecond)

	close(release)
	wg.Wait()
	assert.Equal(t, int32(2), atomic.LoadInt32(&peak))

	require.NoError(t, pool.Close())
	assert.ErrorIs(t, pool.Submit(context.Background(), model.NewWorkItem(model.JobReduce, "x"), nil), ErrPoolClosed)
}

func TestRunSafely(t *testing.T) {
	item := model.NewWorkItem(model.JobIngest, "000100")

	res := RunSafely(context.Background(), funcRunner(func(ctx context.Context, item *model.WorkItem) (model.JobResult, error) {
		panic("boom")
	}), item)
	assert.Equal(t, -1, res.ReturnCode)
	assert.Equal(t, model.StatusFailed, res.Status)
	assert.Contains(t, res.Error, "boom")

	res = RunSafely(context.Background(), funcRunner(func(ctx context.Context, item *model.WorkItem) (model.JobResult, error) {
		return model.JobResult{ReturnCode: 3}, errors.New("exit 3")
	}), item)
	assert.Equal(t, 3, res.ReturnCode)
	assert.Equal(t, model.StatusFailed, res.Status)

	res = RunSafely(context.Background(), funcRunner(func(ctx context.Context, item *model.WorkItem) (model.JobResult, error) {
		return model.JobResult{Status: model.StatusOK, Elapsed: 1.5}, nil
	}), item)
	assert.Equal(t, item.ID, res.ItemID)
	assert.Equal(t, 1.5, res.Elapsed)
}
