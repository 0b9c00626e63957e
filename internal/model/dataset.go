package model

import (
	"context"
	"fmt"
	"time"
)

// Dataset types known to the orchestrator
const (
	DatasetRaw           = "raw"
	DatasetPfsConfig     = "pfsConfig"
	DatasetCalexp        = "calexp"
	DatasetPfsArm        = "pfsArm"
	DatasetDmQaResidual  = "dmQaResidualImage"
	DatasetExtQaStats    = "extQaStats"
	DatasetDefects       = "defects"
	DatasetFlat          = "flat"
	DatasetIPC           = "ipc"
	DatasetFiberProfiles = "fiberProfiles"
	DatasetDetectorMap   = "detectorMap"
)

// DataID identity tuple of a dataset. Arm and Spectrograph are empty for
// per-visit datasets such as pfsConfig.
type DataID struct {
	Visit        int    `json:"visit"`
	Arm          string `json:"arm,omitempty"`
	Spectrograph int    `json:"spectrograph,omitempty"`
}

func (d DataID) String() string {
	if d.Arm == "" {
		return fmt.Sprintf("visit=%d", d.Visit)
	}
	return fmt.Sprintf("visit=%d arm=%s spectrograph=%d", d.Visit, d.Arm, d.Spectrograph)
}

// Camera returns the channel name, e.g. "b1".
func (d DataID) Camera() string {
	return fmt.Sprintf("%s%d", d.Arm, d.Spectrograph)
}

// Where renders the data query selecting this dataset.
func (d DataID) Where() string {
	if d.Arm == "" {
		return fmt.Sprintf("visit=%d", d.Visit)
	}
	return fmt.Sprintf("visit=%d AND arm='%s' AND spectrograph=%d", d.Visit, d.Arm, d.Spectrograph)
}

// CameraKey calibration cache key
type CameraKey struct {
	Spectrograph int
	Arm          string
}

// DatasetRef reference to a registered product
type DatasetRef struct {
	DatasetType string         `json:"dataset_type"`
	DataID      DataID         `json:"data_id"`
	Run         string         `json:"run"`
	URI         string         `json:"uri"`
	Metadata    map[string]int `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// DatasetQuerier is the read side of the datastore that records need to
// refresh their state.
type DatasetQuerier interface {
	Exists(ctx context.Context, datasetType string, id DataID) (bool, error)
	Get(ctx context.Context, datasetType string, id DataID) (*DatasetRef, error)
}
