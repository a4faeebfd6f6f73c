package entities

import "time"

// ProcessorLease grants one process the right to run a named job until ExpiresAt.
type ProcessorLease struct {
	Name      string    `gorm:"primaryKey;size:64"`
	Owner     string    `gorm:"size:128;not null"`
	ExpiresAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (ProcessorLease) TableName() string {
	return "processor_leases"
}

// All returns every model for migration.
func All() []any {
	return []any{
		&GeofenceEvent{},
		&NotificationRecord{},
		&SnoozeRecord{},
		&MuteRecord{},
		&RetryRecord{},
		&DedupClaim{},
		&TaskState{},
		&ProcessorLease{},
	}
}
