package interfaces

import (
	"context"

	"drpactor/internal/model"
)

// Datastore versioned catalog mapping dataset identities to products.
// Implementations must be safe for concurrent use by workers.
type Datastore interface {
	// Exists reports whether a dataset is registered
	Exists(ctx context.Context, datasetType string, id model.DataID) (bool, error)

	// Get returns the dataset reference, nil when absent
	Get(ctx context.Context, datasetType string, id model.DataID) (*model.DatasetRef, error)

	// Put registers a product, replacing any previous registration of the same identity
	Put(ctx context.Context, ref *model.DatasetRef) error

	// GetURI returns the product location
	GetURI(ctx context.Context, datasetType string, id model.DataID) (string, error)
}
