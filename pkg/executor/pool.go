package executor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"drpactor/internal/model"
	"drpactor/pkg/interfaces"
	"drpactor/pkg/logger"
)

// ErrPoolClosed is returned by Submit after Close
var ErrPoolClosed = errors.New("executor pool closed")

type job struct {
	ctx  context.Context
	item *model.WorkItem
	done interfaces.DoneFunc
}

// Pool bounded set of workers running items through a Runner. Submit never
// blocks: items wait in an unbounded FIFO until a worker is free.
type Pool struct {
	runner interfaces.Runner
	size   int

	mu      sync.Mutex
	cond    *sync.Cond
	pending []job
	closed  bool
	busy    int

	wg sync.WaitGroup
}

// NewPool starts size workers
func NewPool(size int, runner interfaces.Runner) (*Pool, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid pool size %d", size)
	}
	if runner == nil {
		return nil, fmt.Errorf("pool requires a runner")
	}

	p := &Pool{runner: runner, size: size}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < size; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	logger.Infof("executor pool started with %d workers", size)
	return p, nil
}

// Submit queues an item; done is called from a worker goroutine once the
// runner returns.
func (p *Pool) Submit(ctx context.Context, item *model.WorkItem, done interfaces.DoneFunc) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	if item.SubmittedAt.IsZero() {
		item.SubmittedAt = time.Now()
	}
	// detach from the caller's cancellation, submitted work is never cancelled
	p.pending = append(p.pending, job{ctx: context.WithoutCancel(ctx), item: item, done: done})
	p.cond.Signal()
	return nil
}

// Stats returns (queued, running)
func (p *Pool) Stats() (int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending), p.busy
}

// Close stops accepting items, drains the queue and waits for the workers.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	p.wg.Wait()
	return nil
}

func (p *Pool) next() (job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.pending) == 0 && !p.closed {
		p.cond.Wait()
	}
	if len(p.pending) == 0 {
		return job{}, false
	}
	j := p.pending[0]
	p.pending[0] = job{}
	p.pending = p.pending[1:]
	p.busy++
	return j, true
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		j, ok := p.next()
		if !ok {
			return
		}

		result := RunSafely(j.ctx, p.runner, j.item)

		p.mu.Lock()
		p.busy--
		p.mu.Unlock()

		logger.DebugCtx(j.ctx, "worker %d finished %s %s: rc=%d", id, j.item.Kind, j.item.Target, result.ReturnCode)
		if j.done != nil {
			j.done(result)
		}
	}
}

// RunSafely runs one item and converts errors and panics into a failed
// result. Nothing escapes the worker boundary.
func RunSafely(ctx context.Context, runner interfaces.Runner, item *model.WorkItem) (result model.JobResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorCtx(ctx, "panic running %s %s: %v\n%s", item.Kind, item.Target, r, debug.Stack())
			result = model.Failed(item, fmt.Errorf("panic: %v", r))
			result.Elapsed = time.Since(start).Seconds()
		}
	}()

	result, err := runner.Run(ctx, item)
	if err != nil {
		logger.ErrorCtx(ctx, "%s %s failed: %v", item.Kind, item.Target, err)
		failed := model.Failed(item, err)
		if result.ReturnCode != 0 {
			failed.ReturnCode = result.ReturnCode
		}
		failed.Elapsed = time.Since(start).Seconds()
		return failed
	}
	result.ItemID = item.ID
	if result.Elapsed == 0 {
		result.Elapsed = time.Since(start).Seconds()
	}
	return result
}
