package model

import (
	"context"
	"fmt"
)

// Visit aggregates one configuration record and the exposures of every
// channel that reported for the visit.
type Visit struct {
	Lifecycle

	ID         int         `json:"visit"`
	SequenceID int         `json:"sequence_id,omitempty"`
	Config     *PfsConfig  `json:"pfs_config"`
	Exposures  []*Exposure `json:"exposures"`
	Processed  bool        `json:"processed"`
	Closed     bool        `json:"closed"` // every channel has reported
}

// NewVisit creates a visit. A nil config is replaced by an unresolved placeholder.
func NewVisit(id int, config *PfsConfig) *Visit {
	if config == nil {
		config = NewPfsConfig(id, "")
	}
	return &Visit{
		Lifecycle: Lifecycle{State: StateUnknown},
		ID:        id,
		Config:    config,
		Exposures: make([]*Exposure, 0, 8),
	}
}

// Key identifies the visit within the engine.
func (v *Visit) Key() string {
	return fmt.Sprintf("%06d", v.ID)
}

// AddExposure appends an exposure. No side effect beyond the append.
func (v *Visit) AddExposure(exp *Exposure) {
	v.Exposures = append(v.Exposures, exp)
}

// Exposure returns the exposure of the given channel, if reported.
func (v *Visit) Exposure(arm string, spectrograph int) *Exposure {
	for _, exp := range v.Exposures {
		if exp.Arm == arm && exp.Spectrograph == spectrograph {
			return exp
		}
	}
	return nil
}

// IsIngested is true iff the config and every exposure are ingested. A visit
// without exposures is never ingested.
func (v *Visit) IsIngested() bool {
	if len(v.Exposures) == 0 {
		return false
	}
	if !v.Config.Ingested {
		return false
	}
	for _, exp := range v.Exposures {
		if !exp.Ingested {
			return false
		}
	}
	return true
}

// Initialize refreshes every member from the datastore.
func (v *Visit) Initialize(ctx context.Context, ds DatasetQuerier) {
	v.Config.Initialize(ctx, ds)
	for _, exp := range v.Exposures {
		exp.Initialize(ctx, ds)
	}
}

// Unregistered returns the exposures not yet ingested.
func (v *Visit) Unregistered() []*Exposure {
	var out []*Exposure
	for _, exp := range v.Exposures {
		if !exp.Ingested {
			out = append(out, exp)
		}
	}
	return out
}
