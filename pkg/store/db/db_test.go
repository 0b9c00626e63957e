package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"drpactor/internal/model"
	"drpactor/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDatastore(t *testing.T) *Datastore {
	t.Helper()
	ds, err := NewDatastore(config.DatastoreConfig{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "registry.sqlite3"),
		AutoMigrate: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })
	return ds
}

func TestDatasetRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewDatasetRepository(newTestDatastore(t))
	id := model.DataID{Visit: 100, Arm: "b", Spectrograph: 1}

	exists, err := repo.Exists(ctx, model.DatasetRaw, id)
	require.NoError(t, err)
	assert.False(t, exists)

	ref, err := repo.Get(ctx, model.DatasetRaw, id)
	require.NoError(t, err)
	assert.Nil(t, ref)

	_, err = repo.GetURI(ctx, model.DatasetRaw, id)
	assert.Error(t, err)

	require.NoError(t, repo.Put(ctx, &model.DatasetRef{
		DatasetType: model.DatasetRaw,
		DataID:      id,
		Run:         "PFS/raw/all",
		URI:         "/data/raw/2024-05-01/sps/PFSA00010011.fits",
		Metadata:    map[string]int{"W_CDROW0": 0, "W_CDROWN": 4299, "NAXIS2": 4300},
	}))

	exists, err = repo.Exists(ctx, model.DatasetRaw, id)
	require.NoError(t, err)
	assert.True(t, exists)

	// another channel of the same visit is still absent
	exists, err = repo.Exists(ctx, model.DatasetRaw, model.DataID{Visit: 100, Arm: "r", Spectrograph: 1})
	require.NoError(t, err)
	assert.False(t, exists)

	ref, err = repo.Get(ctx, model.DatasetRaw, id)
	require.NoError(t, err)
	require.NotNil(t, ref)
	assert.Equal(t, 4300, ref.Metadata["NAXIS2"])
	assert.False(t, model.IsWindowed(ref.Metadata))

	// put replaces
	require.NoError(t, repo.Put(ctx, &model.DatasetRef{DatasetType: model.DatasetRaw, DataID: id, URI: "/elsewhere.fits"}))
	uri, err := repo.GetURI(ctx, model.DatasetRaw, id)
	require.NoError(t, err)
	assert.Equal(t, "/elsewhere.fits", uri)

	require.NoError(t, repo.Put(ctx, &model.DatasetRef{DatasetType: model.DatasetPfsConfig, DataID: model.DataID{Visit: 100}}))
	refs, err := repo.ListByVisit(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, refs, 2)
}

func TestStatusEventRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewStatusEventRepository(newTestDatastore(t))

	old := time.Now().Add(-48 * time.Hour)
	require.NoError(t, repo.Record(ctx, model.StatusLine{Stage: model.StageIngest, Visit: 100, Status: model.StatusFailed, ReturnCode: -1, EmittedAt: old}))
	require.NoError(t, repo.Record(ctx, model.StatusLine{Stage: model.StageIngest, Visit: 100, Status: model.StatusOK, Elapsed: 1.5, Throughput: model.Throughput(1<<20, 1)}))
	require.NoError(t, repo.Record(ctx, model.StatusLine{Stage: model.StageReduce, Visit: 101, Status: model.StatusOK}))

	lines, err := repo.ListByVisit(ctx, 100)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, model.StatusFailed, lines[0].Status)
	assert.Equal(t, model.StatusOK, lines[1].Status)
	require.NotNil(t, lines[1].Throughput)
	assert.InDelta(t, 1.0, *lines[1].Throughput, 1e-9)

	deleted, err := repo.DeleteBefore(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	lines, err = repo.ListByVisit(ctx, 100)
	require.NoError(t, err)
	assert.Len(t, lines, 1)
}
