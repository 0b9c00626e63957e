package interfaces

import (
	"context"

	"drpactor/internal/model"
)

// QuantumGraph handle returned by MakeGraph
type QuantumGraph struct {
	Path     string `json:"path"`
	Pipeline string `json:"pipeline"`
	Where    string `json:"where"`
}

// PipelineExecutor builds and runs pipeline graphs
type PipelineExecutor interface {
	// MakeGraph builds the execution graph of a pipeline restricted by a where clause
	MakeGraph(ctx context.Context, pipeline, where string) (*QuantumGraph, error)

	// RunGraph executes a graph with bounded process concurrency
	RunGraph(ctx context.Context, graph *QuantumGraph, numProc int, failFast bool) error
}

// ProductLocator confirms that a pipeline output exists in the repository.
// A zero exit status alone does not guarantee it.
type ProductLocator interface {
	Locate(ctx context.Context, datasetType, collection string, id model.DataID) (bool, error)
}
