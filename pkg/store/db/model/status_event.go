package model

import "time"

// StatusEvent persisted status line for status_events table
type StatusEvent struct {
	ID         int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Stage      string    `gorm:"column:stage;type:varchar(32);not null;index:idx_stage_visit,priority:1" json:"stage"`
	Visit      int       `gorm:"column:visit;not null;index:idx_stage_visit,priority:2;index:idx_visit_emitted,priority:1" json:"visit"`
	ReturnCode int       `gorm:"column:return_code;not null" json:"return_code"`
	Status     string    `gorm:"column:status;type:varchar(16);not null" json:"status"`
	Elapsed    float64   `gorm:"column:elapsed;not null" json:"elapsed"`
	Throughput *float64  `gorm:"column:throughput" json:"throughput,omitempty"`
	Text       string    `gorm:"column:text;type:text" json:"text"`
	EmittedAt  time.Time `gorm:"column:emitted_at;not null;index:idx_visit_emitted,priority:2;index:idx_emitted_at" json:"emitted_at"`
}

// TableName specifies the table name for StatusEvent
func (StatusEvent) TableName() string {
	return "status_events"
}
