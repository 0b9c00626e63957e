package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"drpactor/internal/model"
	dbmodel "drpactor/pkg/store/db/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DatasetRepository dataset registry backed by the database. It implements
// interfaces.Datastore.
type DatasetRepository struct {
	ds *Datastore
}

// NewDatasetRepository creates a new dataset repository
func NewDatasetRepository(ds *Datastore) *DatasetRepository {
	return &DatasetRepository{ds: ds}
}

func (r *DatasetRepository) identity(ctx context.Context, datasetType string, id model.DataID) *gorm.DB {
	return r.ds.DB(ctx).
		Where("dataset_type = ? AND visit = ? AND arm = ? AND spectrograph = ?",
			datasetType, id.Visit, id.Arm, id.Spectrograph)
}

// Exists reports whether a dataset is registered
func (r *DatasetRepository) Exists(ctx context.Context, datasetType string, id model.DataID) (bool, error) {
	var count int64
	err := r.identity(ctx, datasetType, id).Model(&dbmodel.Dataset{}).Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to query %s %s: %w", datasetType, id, err)
	}
	return count > 0, nil
}

// Get returns the dataset reference, nil when absent
func (r *DatasetRepository) Get(ctx context.Context, datasetType string, id model.DataID) (*model.DatasetRef, error) {
	var row dbmodel.Dataset
	err := r.identity(ctx, datasetType, id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w", datasetType, id, err)
	}
	return toDatasetRef(&row), nil
}

// Put registers a product, replacing a previous registration of the same identity
func (r *DatasetRepository) Put(ctx context.Context, ref *model.DatasetRef) error {
	now := time.Now()
	row := &dbmodel.Dataset{
		DatasetType:  ref.DatasetType,
		Visit:        ref.DataID.Visit,
		Arm:          ref.DataID.Arm,
		Spectrograph: ref.DataID.Spectrograph,
		Run:          ref.Run,
		URI:          ref.URI,
		Metadata:     dbmodel.IntMapToJSONMap(ref.Metadata),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	err := r.ds.DB(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "dataset_type"}, {Name: "visit"}, {Name: "arm"}, {Name: "spectrograph"},
		},
		DoUpdates: clause.AssignmentColumns([]string{"run", "uri", "metadata", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return fmt.Errorf("failed to put %s %s: %w", ref.DatasetType, ref.DataID, err)
	}
	return nil
}

// GetURI returns the product location
func (r *DatasetRepository) GetURI(ctx context.Context, datasetType string, id model.DataID) (string, error) {
	ref, err := r.Get(ctx, datasetType, id)
	if err != nil {
		return "", err
	}
	if ref == nil {
		return "", fmt.Errorf("%s %s not registered", datasetType, id)
	}
	return ref.URI, nil
}

// ListByVisit returns every dataset registered for a visit
func (r *DatasetRepository) ListByVisit(ctx context.Context, visit int) ([]*model.DatasetRef, error) {
	var rows []*dbmodel.Dataset
	err := r.ds.DB(ctx).
		Where("visit = ?", visit).
		Order("dataset_type ASC, spectrograph ASC, arm ASC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list datasets of visit %d: %w", visit, err)
	}
	refs := make([]*model.DatasetRef, 0, len(rows))
	for _, row := range rows {
		refs = append(refs, toDatasetRef(row))
	}
	return refs, nil
}

func toDatasetRef(row *dbmodel.Dataset) *model.DatasetRef {
	return &model.DatasetRef{
		DatasetType: row.DatasetType,
		DataID:      model.DataID{Visit: row.Visit, Arm: row.Arm, Spectrograph: row.Spectrograph},
		Run:         row.Run,
		URI:         row.URI,
		Metadata:    dbmodel.JSONMapToIntMap(row.Metadata),
		CreatedAt:   row.CreatedAt,
	}
}
