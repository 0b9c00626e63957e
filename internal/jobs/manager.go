package jobs

import (
	"context"
	"sync"
	"time"

	"drpactor/pkg/lock"
	"drpactor/pkg/logger"

	"github.com/juju/clock"
)

// Job represents a periodic background task.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// AlignedJob is a job that runs at aligned time boundaries (e.g., on the hour).
type AlignedJob interface {
	Job
	AlignToInterval() bool
}

// LockFactory returns the lock guarding one job, nil runs unguarded
type LockFactory func(name string) lock.DistributedLock

// Manager orchestrates the lifecycle of background jobs.
type Manager struct {
	ctx     context.Context
	cancel  context.CancelFunc
	clock   clock.Clock
	locks   LockFactory
	jobs    []Job
	started bool

	mu sync.Mutex
	wg sync.WaitGroup
}

// NewManager creates a job manager bound to the provided context.
func NewManager(parent context.Context, clk clock.Clock, locks LockFactory) *Manager {
	if clk == nil {
		clk = clock.WallClock
	}
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		ctx:    ctx,
		cancel: cancel,
		clock:  clk,
		locks:  locks,
		jobs:   make([]Job, 0),
	}
}

// Register adds a job to the manager.
func (m *Manager) Register(job Job) {
	if job == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs = append(m.jobs, job)
}

// Start launches all registered jobs.
func (m *Manager) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	jobs := append([]Job(nil), m.jobs...)
	m.mu.Unlock()

	for _, job := range jobs {
		m.wg.Add(1)
		go m.runJob(job)
	}
}

// Stop signals all jobs to stop.
func (m *Manager) Stop() {
	m.cancel()
}

// Wait blocks until all jobs exit.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) runJob(job Job) {
	defer m.wg.Done()

	interval := job.Interval()
	if interval <= 0 {
		interval = time.Minute
	}

	alignedJob, shouldAlign := job.(AlignedJob)
	if shouldAlign && alignedJob.AlignToInterval() {
		now := m.clock.Now()
		next := now.Truncate(interval).Add(interval)
		logger.InfoCtx(m.ctx, "job %s will start at next aligned time: %v", job.Name(), next.Format("15:04:05"))

		select {
		case <-m.ctx.Done():
			return
		case <-m.clock.After(next.Sub(now)):
		}
	}
	m.executeJob(job)

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-m.clock.After(interval):
			m.executeJob(job)
		}
	}
}

func (m *Manager) executeJob(job Job) {
	if m.locks != nil {
		l := m.locks(job.Name())
		if l != nil {
			acquired, err := l.TryLock(m.ctx)
			if err != nil {
				logger.WarnCtx(m.ctx, "background job %s: lock failed: %v", job.Name(), err)
				return
			}
			if !acquired {
				logger.DebugCtx(m.ctx, "background job %s running on another instance", job.Name())
				return
			}
			defer func() {
				if err := l.Unlock(context.Background()); err != nil {
					logger.WarnCtx(m.ctx, "background job %s: unlock failed: %v", job.Name(), err)
				}
			}()
		}
	}

	if err := job.Run(m.ctx); err != nil {
		logger.WarnCtx(m.ctx, "background job %s failed: %v", job.Name(), err)
	}
}
