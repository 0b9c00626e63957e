package model

import "context"

// PfsConfig per-visit configuration record. Filepath is empty until resolved.
type PfsConfig struct {
	Visit    int    `json:"visit"`
	Filepath string `json:"filepath,omitempty"`
	Ingested bool   `json:"ingested"`
}

// NewPfsConfig creates a configuration record, path may be empty.
func NewPfsConfig(visit int, path string) *PfsConfig {
	return &PfsConfig{Visit: visit, Filepath: path}
}

// DataID identity tuple of the pfsConfig dataset
func (c *PfsConfig) DataID() DataID {
	return DataID{Visit: c.Visit}
}

// Resolved reports whether the file location is known.
func (c *PfsConfig) Resolved() bool {
	return c.Filepath != ""
}

// Initialize refreshes Ingested from the datastore, see Exposure.Initialize.
func (c *PfsConfig) Initialize(ctx context.Context, ds DatasetQuerier) {
	if c.Ingested {
		return
	}
	exists, err := ds.Exists(ctx, DatasetPfsConfig, c.DataID())
	if err != nil {
		return
	}
	c.Ingested = exists
}
