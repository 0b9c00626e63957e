package engine

import (
	"context"

	"drpactor/internal/model"
	"drpactor/pkg/interfaces"
	"drpactor/pkg/logger"
)

// calibCache calibration bundles per channel, filled on the loop before
// dispatch and never invalidated. Lookups that hit a datastore error are
// not cached.
type calibCache struct {
	datastore interfaces.Datastore
	bundles   map[model.CameraKey]model.CalibBundle
}

func newCalibCache(ds interfaces.Datastore) *calibCache {
	return &calibCache{
		datastore: ds,
		bundles:   make(map[model.CameraKey]model.CalibBundle),
	}
}

func (c *calibCache) Get(ctx context.Context, key model.CameraKey) model.CalibBundle {
	if bundle, ok := c.bundles[key]; ok {
		return bundle
	}

	id := model.DataID{Arm: key.Arm, Spectrograph: key.Spectrograph}
	failed := false
	lookup := func(datasetType string) string {
		exists, err := c.datastore.Exists(ctx, datasetType, id)
		if err != nil {
			failed = true
			return ""
		}
		if !exists {
			return ""
		}
		uri, err := c.datastore.GetURI(ctx, datasetType, id)
		if err != nil {
			failed = true
			return ""
		}
		return uri
	}

	bundle := model.CalibBundle{
		Defects: lookup(model.DatasetDefects),
		Flat:    lookup(model.DatasetFlat),
		IPC:     lookup(model.DatasetIPC),
	}
	if failed {
		logger.WarnCtx(ctx, "calibrations of %s%d could not be resolved", key.Arm, key.Spectrograph)
		return bundle
	}
	c.bundles[key] = bundle
	return bundle
}

func (c *calibCache) Len() int {
	return len(c.bundles)
}
