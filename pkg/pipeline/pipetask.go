package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"drpactor/pkg/config"
	"drpactor/pkg/drpcmd"
	"drpactor/pkg/interfaces"

	"github.com/google/uuid"
)

// Pipetask builds and runs quantum graphs with the pipetask CLI
type Pipetask struct {
	pipetask    string
	repo        config.RepoConfig
	taskThreads int
	graphDir    string
	runner      *drpcmd.Runner
}

// NewPipetask creates the pipeline executor. Graph files are written to graphDir.
func NewPipetask(pipetask string, repo config.RepoConfig, taskThreads int, graphDir string, runner *drpcmd.Runner) *Pipetask {
	return &Pipetask{
		pipetask:    pipetask,
		repo:        repo,
		taskThreads: taskThreads,
		graphDir:    graphDir,
		runner:      runner,
	}
}

// inputs raw, calib and chained collections searched by every graph
func (p *Pipetask) inputs() string {
	inputs := []string{p.repo.RawCollection, p.repo.Calib}
	if p.repo.Chain != "" {
		inputs = append(inputs, p.repo.Chain)
	}
	return strings.Join(inputs, ",")
}

// MakeGraph builds the quantum graph of pipeline restricted by where.
func (p *Pipetask) MakeGraph(ctx context.Context, pipeline, where string) (*interfaces.QuantumGraph, error) {
	if err := os.MkdirAll(p.graphDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create graph directory: %w", err)
	}
	path := filepath.Join(p.graphDir, uuid.New().String()+".qgraph")

	cmd := &drpcmd.Command{
		Head:   p.pipetask,
		Target: "qgraph",
		Args: []string{
			"-b", p.repo.Root,
			"-i", p.inputs(),
			"-o", p.repo.Rerun,
			"-p", os.ExpandEnv(pipeline),
			"-d", where,
			"--save-qgraph", path,
		},
	}
	if err := p.runner.Run(ctx, cmd).Err(cmd); err != nil {
		return nil, fmt.Errorf("failed to build graph for %q: %w", where, err)
	}
	return &interfaces.QuantumGraph{Path: path, Pipeline: pipeline, Where: where}, nil
}

// RunGraph executes a saved graph with numProc processes.
func (p *Pipetask) RunGraph(ctx context.Context, graph *interfaces.QuantumGraph, numProc int, failFast bool) error {
	args := []string{
		"-b", p.repo.Root,
		"-i", p.inputs(),
		"-o", p.repo.Rerun,
		"--qgraph", graph.Path,
		"-j", strconv.Itoa(numProc),
		"--register-dataset-types",
	}
	if failFast {
		args = append(args, "--fail-fast")
	}
	cmd := &drpcmd.Command{Head: p.pipetask, Target: "run", Args: args}
	if p.taskThreads > 1 {
		cmd.Config = map[string]interface{}{"numThreads": p.taskThreads}
	}

	defer os.Remove(graph.Path)
	if err := p.runner.Run(ctx, cmd).Err(cmd); err != nil {
		return fmt.Errorf("failed to run graph for %q: %w", graph.Where, err)
	}
	return nil
}
