package entities

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Kind is the user-facing category of a notification.
type Kind string

const (
	KindApproach    Kind = "approach"
	KindArrival     Kind = "arrival"
	KindPostArrival Kind = "post_arrival"
)

// NotificationStatus is the lifecycle state of a notification record.
type NotificationStatus string

const (
	StatusPending   NotificationStatus = "pending"
	StatusDelivered NotificationStatus = "delivered"
	StatusCancelled NotificationStatus = "cancelled"
	StatusFailed    NotificationStatus = "failed"
	StatusSnoozed   NotificationStatus = "snoozed"
)

// Terminal reports whether no further transition is allowed.
func (s NotificationStatus) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled || s == StatusFailed
}

// Open reports whether the record may still be delivered.
func (s NotificationStatus) Open() bool {
	return s == StatusPending || s == StatusSnoozed
}

// Metadata is a JSON object stored in a text column.
type Metadata map[string]string

// Value implements driver.Valuer.
func (m Metadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (m *Metadata) Scan(value any) error {
	var data []byte
	switch v := value.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported metadata type %T", value)
	}
	if len(data) == 0 {
		*m = Metadata{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// NotificationRecord is one user-facing notification and its delivery state.
// Every transition increments Version and is applied with WHERE version = ?.
type NotificationRecord struct {
	ID             string             `gorm:"primaryKey;size:36"`
	UserID         string             `gorm:"size:64;not null;index:idx_notification_user_created,priority:1"`
	TaskID         string             `gorm:"size:64;not null;index:idx_notification_task_status,priority:1"`
	GeofenceID     string             `gorm:"size:64;not null"`
	EventID        string             `gorm:"size:36;not null"`
	Tier           Tier               `gorm:"size:16;not null"`
	Kind           Kind               `gorm:"size:16;not null"`
	Title          string             `gorm:"size:255;not null"`
	Body           string             `gorm:"type:text"`
	Confidence     float64            `gorm:"not null"`
	TriggeredAt    time.Time          `gorm:"not null"`
	ScheduledAt    time.Time          `gorm:"not null;index:idx_notification_status_scheduled,priority:2"`
	DeliveredAt    *time.Time
	Status         NotificationStatus `gorm:"size:16;not null;index:idx_notification_status_scheduled,priority:1;index:idx_notification_task_status,priority:2"`
	Attempts       int                `gorm:"not null;default:0"`
	LastAttemptAt  *time.Time
	ErrorMessage   *string            `gorm:"type:text"`
	Metadata       Metadata           `gorm:"type:text"`
	SnoozedFromID  *string            `gorm:"size:36;index"`
	ClaimToken     *string            `gorm:"size:36"`
	ClaimExpiresAt *time.Time
	Version        int                `gorm:"not null;default:1"`
	CreatedAt      time.Time          `gorm:"not null;index:idx_notification_user_created,priority:2"`
	UpdatedAt      time.Time          `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (NotificationRecord) TableName() string {
	return "notification_records"
}
