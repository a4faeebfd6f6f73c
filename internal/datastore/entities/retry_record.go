package entities

import "time"

// RetryStatus is the state of a retry record.
type RetryStatus string

const (
	RetryPending   RetryStatus = "pending"
	RetryRetrying  RetryStatus = "retrying"
	RetryFailed    RetryStatus = "failed"
	RetrySucceeded RetryStatus = "succeeded"
)

// RetryRecord schedules redelivery of a failed notification.
// RetryCount never exceeds MaxRetries.
type RetryRecord struct {
	ID                   string      `gorm:"primaryKey;size:36"`
	NotificationRecordID string      `gorm:"size:36;not null;uniqueIndex"`
	RetryCount           int         `gorm:"not null;default:0"`
	NextRetryAt          time.Time   `gorm:"not null;index:idx_retry_status_next,priority:2"`
	BackoffMultiplier    float64     `gorm:"not null"`
	MaxRetries           int         `gorm:"not null"`
	Status               RetryStatus `gorm:"size:16;not null;index:idx_retry_status_next,priority:1"`
	ErrorMessage         *string     `gorm:"type:text"`
	CreatedAt            time.Time   `gorm:"not null"`
	UpdatedAt            time.Time   `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (RetryRecord) TableName() string {
	return "retry_records"
}
