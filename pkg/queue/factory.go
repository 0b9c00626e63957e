package queue

import (
	"fmt"

	"drpactor/pkg/config"
	"drpactor/pkg/executor"
	"drpactor/pkg/executor/k8s"
	"drpactor/pkg/interfaces"
	"drpactor/pkg/queue/asynq"
)

// CreateExecutor builds the executor for the configured backend. local and
// k8s run items through a bounded in-process pool; queue hands them to
// remote drpworker processes.
func CreateExecutor(cfg *config.Config, runner interfaces.Runner) (interfaces.Executor, error) {
	switch cfg.Executor.Backend {
	case "local", "":
		return executor.NewPool(cfg.Engine.NumWorkers, runner)
	case "k8s":
		client, err := k8s.NewClient()
		if err != nil {
			return nil, err
		}
		jobRunner, err := k8s.NewJobRunner(client, cfg.Executor.K8s)
		if err != nil {
			return nil, err
		}
		return executor.NewPool(cfg.Engine.NumWorkers, jobRunner)
	case "queue":
		return asynq.NewExecutor(cfg.Redis, cfg.Executor.Queue), nil
	default:
		return nil, fmt.Errorf("unsupported executor backend: %s", cfg.Executor.Backend)
	}
}
