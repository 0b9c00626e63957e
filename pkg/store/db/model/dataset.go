package model

import "time"

// Dataset registry row for dataset_registry table
type Dataset struct {
	ID           int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	DatasetType  string    `gorm:"column:dataset_type;type:varchar(64);not null;uniqueIndex:idx_dataset_identity,priority:1" json:"dataset_type"`
	Visit        int       `gorm:"column:visit;not null;uniqueIndex:idx_dataset_identity,priority:2;index:idx_visit" json:"visit"`
	Arm          string    `gorm:"column:arm;type:varchar(4);not null;default:'';uniqueIndex:idx_dataset_identity,priority:3" json:"arm"`
	Spectrograph int       `gorm:"column:spectrograph;not null;default:0;uniqueIndex:idx_dataset_identity,priority:4" json:"spectrograph"`
	Run          string    `gorm:"column:run;type:varchar(255)" json:"run"`
	URI          string    `gorm:"column:uri;type:text" json:"uri"`
	Metadata     JSONMap   `gorm:"column:metadata;type:json" json:"metadata"`
	CreatedAt    time.Time `gorm:"column:created_at;not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName specifies the table name for Dataset
func (Dataset) TableName() string {
	return "dataset_registry"
}
