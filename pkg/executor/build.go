package executor

import (
	"os"
	"path/filepath"

	"drpactor/pkg/config"
	"drpactor/pkg/drpcmd"
	"drpactor/pkg/ingest"
	"drpactor/pkg/interfaces"
	"drpactor/pkg/measure"
	"drpactor/pkg/pipeline"
)

// NewRunnerFromConfig wires the butler, pipetask and flux measurement
// commands of cfg into a TaskRunner. Used in-process by the local backend
// and by drpworker.
func NewRunnerFromConfig(cfg *config.Config, ds interfaces.Datastore) *TaskRunner {
	cmds := drpcmd.NewRunner()
	butler := ingest.NewButlerIngester(cfg.Executor.Command.Butler, cfg.Repo, cmds)
	graphDir := filepath.Join(os.TempDir(), "drpactor", "qgraph")

	return NewTaskRunner(TaskRunnerDeps{
		Datastore: ds,
		Ingester:  butler,
		Chainer:   butler,
		Pipeline:  pipeline.NewPipetask(cfg.Executor.Command.Pipetask, cfg.Repo, cfg.Engine.TaskThreads, graphDir, cmds),
		Measurer:  measure.NewCommandMeasurer(cfg.Executor.Command.Measure, cfg.Repo, cmds),
		Locator:   butler,
		Repo:      cfg.Repo,
	})
}
