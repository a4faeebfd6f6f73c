package entities

import "time"

// DedupClaim holds the cooldown window for one (task, geofence, event type) key.
type DedupClaim struct {
	Key                  string    `gorm:"column:dedup_key;primaryKey;size:200"`
	NotificationRecordID string    `gorm:"size:36;not null;default:''"`
	ClaimedAt            time.Time `gorm:"not null;index"`
}

// TableName returns the table name for GORM.
func (DedupClaim) TableName() string {
	return "dedup_claims"
}

// DedupKey builds the claim key for an event.
func DedupKey(taskID, geofenceID string, eventType EventType) string {
	return taskID + "|" + geofenceID + "|" + string(eventType)
}
