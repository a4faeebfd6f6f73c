package entities

import "time"

// SnoozeDuration is one of the fixed snooze choices offered to users.
type SnoozeDuration string

const (
	Snooze15Minutes SnoozeDuration = "15m"
	Snooze1Hour     SnoozeDuration = "1h"
	SnoozeToday     SnoozeDuration = "today"
)

// Valid reports whether d is a known snooze duration.
func (d SnoozeDuration) Valid() bool {
	return d == Snooze15Minutes || d == Snooze1Hour || d == SnoozeToday
}

// RecordStatus is the status of snooze and mute records.
type RecordStatus string

const (
	RecordActive    RecordStatus = "active"
	RecordExpired   RecordStatus = "expired"
	RecordCancelled RecordStatus = "cancelled"
)

// SnoozeRecord defers a notification until SnoozeUntil.
// At most one active snooze exists per notification.
type SnoozeRecord struct {
	ID                   string         `gorm:"primaryKey;size:36"`
	UserID               string         `gorm:"size:64;not null"`
	TaskID               string         `gorm:"size:64;not null"`
	NotificationRecordID string         `gorm:"size:36;not null;index:idx_snooze_notification_status,priority:1"`
	Duration             SnoozeDuration `gorm:"size:8;not null"`
	SnoozeUntil          time.Time      `gorm:"not null;index:idx_snooze_status_until,priority:2"`
	OriginalScheduledAt  time.Time      `gorm:"not null"`
	SnoozeCount          int            `gorm:"not null;default:1"`
	Status               RecordStatus   `gorm:"size:16;not null;index:idx_snooze_status_until,priority:1;index:idx_snooze_notification_status,priority:2"`
	CreatedAt            time.Time      `gorm:"not null"`
	UpdatedAt            time.Time      `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (SnoozeRecord) TableName() string {
	return "snooze_records"
}
