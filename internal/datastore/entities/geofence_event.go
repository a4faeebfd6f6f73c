package entities

import "time"

// EventType is the kind of geofence transition reported by a client.
type EventType string

const (
	EventEnter EventType = "enter"
	EventExit  EventType = "exit"
	EventDwell EventType = "dwell"
)

// Tier is the proximity band a geofence event belongs to.
type Tier string

const (
	TierApproachWide Tier = "approach_wide"
	TierApproachNear Tier = "approach_near"
	TierArrival      Tier = "arrival"
	TierPostArrival  Tier = "post_arrival"
)

// Rank orders tiers from loosest to tightest. Unknown tiers rank 0.
func (t Tier) Rank() int {
	switch t {
	case TierApproachWide:
		return 1
	case TierApproachNear:
		return 2
	case TierArrival:
		return 3
	case TierPostArrival:
		return 4
	default:
		return 0
	}
}

// Valid reports whether t is a known tier.
func (t Tier) Valid() bool {
	return t.Rank() > 0
}

// Kind returns the notification kind produced by the tier.
func (t Tier) Kind() Kind {
	switch t {
	case TierApproachWide, TierApproachNear:
		return KindApproach
	case TierPostArrival:
		return KindPostArrival
	default:
		return KindArrival
	}
}

// Resolution is the outcome written once onto a geofence event.
type Resolution string

const (
	ResolutionNone       Resolution = ""
	ResolutionAccepted   Resolution = "accepted"
	ResolutionBundled    Resolution = "bundled"
	ResolutionSuppressed Resolution = "suppressed"
	ResolutionDiscarded  Resolution = "discarded"
)

// ConfidenceSource records where an event's confidence came from.
type ConfidenceSource string

const (
	ConfidenceClient   ConfidenceSource = "client"
	ConfidenceComputed ConfidenceSource = "computed"
)

// GeofenceEvent is a persisted geofence transition. Fact columns are never
// updated; the resolution columns are written exactly once.
type GeofenceEvent struct {
	ID               string           `gorm:"primaryKey;size:36"`
	UserID           string           `gorm:"size:64;not null;index"`
	TaskID           string           `gorm:"size:64;not null;index"`
	GeofenceID       string           `gorm:"size:64;not null"`
	EventType        EventType        `gorm:"size:16;not null"`
	Tier             Tier             `gorm:"size:16;not null"`
	Latitude         float64          `gorm:"not null"`
	Longitude        float64          `gorm:"not null"`
	AccuracyMeters   *float64
	Confidence       float64          `gorm:"not null"`
	ConfidenceSource ConfidenceSource `gorm:"size:16;not null"`
	OccurredAt       time.Time        `gorm:"not null"`
	CreatedAt        time.Time        `gorm:"index;not null"`

	Resolution           Resolution `gorm:"size:16;not null;default:''"`
	NotificationRecordID *string    `gorm:"size:36"`
	BundledWithID        *string    `gorm:"size:36"`
}

// TableName returns the table name for GORM.
func (GeofenceEvent) TableName() string {
	return "geofence_events"
}
