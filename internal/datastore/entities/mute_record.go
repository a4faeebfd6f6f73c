package entities

import "time"

// MuteRecord silences a task. A nil MuteUntil is a permanent mute.
// At most one active mute exists per task.
type MuteRecord struct {
	ID              string       `gorm:"primaryKey;size:36"`
	UserID          string       `gorm:"size:64;not null"`
	TaskID          string       `gorm:"size:64;not null;index:idx_mute_task_status,priority:1"`
	DurationSeconds *int64
	MuteUntil       *time.Time   `gorm:"index:idx_mute_status_until,priority:2"`
	Reason          *string      `gorm:"size:255"`
	Status          RecordStatus `gorm:"size:16;not null;index:idx_mute_task_status,priority:2;index:idx_mute_status_until,priority:1"`
	CreatedAt       time.Time    `gorm:"not null"`
	UpdatedAt       time.Time    `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (MuteRecord) TableName() string {
	return "mute_records"
}
