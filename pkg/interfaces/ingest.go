package interfaces

import "context"

// IngestBackend registers raw files into the datastore.
// Batch oriented, idempotent on already-registered paths.
type IngestBackend interface {
	Ingest(ctx context.Context, paths []string, mode string) error
}

// CollectionChainer appends the raw run collection to a chained collection
type CollectionChainer interface {
	ExtendChain(ctx context.Context) error
}
