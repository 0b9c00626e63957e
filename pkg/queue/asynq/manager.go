package asynq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"drpactor/internal/model"
	"drpactor/pkg/config"
	"drpactor/pkg/executor"
	"drpactor/pkg/interfaces"
	"drpactor/pkg/logger"

	"github.com/hibiken/asynq"
)

const (
	TypeWorkItem = "drp:work_item"
	QueueName    = "default"

	resultRetention = 24 * time.Hour
)

func redisOpt(cfg config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// Executor dispatches work items through the asynq queue. Results written by
// the worker are picked up by polling the task info.
type Executor struct {
	client       *asynq.Client
	inspector    *asynq.Inspector
	cfg          config.QueueConfig
	pollInterval time.Duration

	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewExecutor creates a queue executor
func NewExecutor(redisCfg config.RedisConfig, cfg config.QueueConfig) *Executor {
	opt := redisOpt(redisCfg)
	ctx, cancel := context.WithCancel(context.Background())
	return &Executor{
		client:       asynq.NewClient(opt),
		inspector:    asynq.NewInspector(opt),
		cfg:          cfg,
		pollInterval: time.Second,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Submit enqueues the item and calls done once its result is available
func (e *Executor) Submit(ctx context.Context, item *model.WorkItem, done interfaces.DoneFunc) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return executor.ErrPoolClosed
	}

	if item.SubmittedAt.IsZero() {
		item.SubmittedAt = time.Now()
	}
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal work item: %w", err)
	}

	timeout := time.Duration(e.cfg.TaskTimeout) * time.Second
	opts := []asynq.Option{
		asynq.TaskID(item.ID),
		asynq.Queue(QueueName),
		asynq.Timeout(timeout),
		asynq.MaxRetry(e.cfg.MaxRetry),
		asynq.Retention(resultRetention),
	}

	info, err := e.client.EnqueueContext(ctx, asynq.NewTask(TypeWorkItem, payload), opts...)
	if err != nil {
		return fmt.Errorf("failed to enqueue work item: %w", err)
	}
	logger.InfoCtx(ctx, "work item enqueued, id: %s, kind: %s, target: %s, queue: %s", item.ID, item.Kind, item.Target, info.Queue)

	e.wg.Add(1)
	go e.await(item, done)
	return nil
}

func (e *Executor) await(item *model.WorkItem, done interfaces.DoneFunc) {
	defer e.wg.Done()

	result := e.poll(item)
	if done != nil {
		done(result)
	}
}

func (e *Executor) poll(item *model.WorkItem) model.JobResult {
	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.ctx.Done():
			return model.Failed(item, errors.New("executor closed before result"))
		case <-ticker.C:
		}

		info, err := e.inspector.GetTaskInfo(QueueName, item.ID)
		if err != nil {
			if errors.Is(err, asynq.ErrTaskNotFound) {
				return model.Failed(item, fmt.Errorf("task %s disappeared", item.ID))
			}
			logger.Warnf("failed to get task info %s: %v", item.ID, err)
			continue
		}

		switch info.State {
		case asynq.TaskStateCompleted:
			result, err := DecodeResult(info.Result)
			if err != nil {
				return model.Failed(item, err)
			}
			result.ItemID = item.ID
			return *result
		case asynq.TaskStateArchived:
			return model.Failed(item, fmt.Errorf("task %s archived: %s", item.ID, info.LastErr))
		}
	}
}

// Pending returns the number of items waiting in the queue
func (e *Executor) Pending() (int, error) {
	stats, err := e.inspector.GetQueueInfo(QueueName)
	if err != nil {
		return 0, err
	}
	return stats.Pending, nil
}

// Close stops polling and closes the redis connections
func (e *Executor) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.cancel()
	e.wg.Wait()
	if err := e.inspector.Close(); err != nil {
		logger.Warnf("failed to close inspector: %v", err)
	}
	return e.client.Close()
}

// DecodeResult decodes a result written by Handler
func DecodeResult(raw []byte) (*model.JobResult, error) {
	if len(raw) == 0 {
		return nil, errors.New("empty task result")
	}
	var result model.JobResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to decode task result: %w", err)
	}
	return &result, nil
}

// Handler worker side of the queue, runs items through a Runner
type Handler struct {
	runner interfaces.Runner
}

// NewHandler creates a handler
func NewHandler(runner interfaces.Runner) *Handler {
	return &Handler{runner: runner}
}

// Execute runs one encoded item and returns the encoded result
func (h *Handler) Execute(ctx context.Context, payload []byte) ([]byte, error) {
	var item model.WorkItem
	if err := json.Unmarshal(payload, &item); err != nil {
		// malformed payloads are not worth retrying
		return nil, fmt.Errorf("invalid work item: %v: %w", err, asynq.SkipRetry)
	}
	result := executor.RunSafely(ctx, h.runner, &item)
	return json.Marshal(result)
}

// ProcessTask implements asynq.Handler. Failures travel in the result so the
// task itself always completes.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	out, err := h.Execute(ctx, t.Payload())
	if err != nil {
		return err
	}
	if w := t.ResultWriter(); w != nil {
		if _, err := w.Write(out); err != nil {
			return fmt.Errorf("failed to write result: %w", err)
		}
	}
	return nil
}

// Server asynq server running work items
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
}

// NewServer creates the worker side server
func NewServer(redisCfg config.RedisConfig, cfg config.QueueConfig, runner interfaces.Runner) *Server {
	server := asynq.NewServer(
		redisOpt(redisCfg),
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				QueueName: 10,
			},
			RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
				return time.Duration(n) * time.Second
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.Handle(TypeWorkItem, NewHandler(runner))
	return &Server{server: server, mux: mux}
}

// Start starts processing
func (s *Server) Start() error {
	logger.InfoCtx(context.Background(), "starting queue server")
	return s.server.Start(s.mux)
}

// Stop stops processing
func (s *Server) Stop() {
	logger.InfoCtx(context.Background(), "stopping queue server")
	s.server.Stop()
	s.server.Shutdown()
}
