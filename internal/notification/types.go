package notification

import (
	"strings"
	"time"

	"github.com/tphakala/geonudge/internal/datastore/entities"
)

// Disposition is the outcome of a geofence report.
type Disposition string

const (
	DispositionAccepted   Disposition = "accepted"
	DispositionBundled    Disposition = "bundled"
	DispositionSuppressed Disposition = "suppressed"
	DispositionDiscarded  Disposition = "discarded"
)

// Reasons attached to non-accepted reports and cancellations.
const (
	ReasonTaskNotEligible = "TaskNotEligible"
	ReasonLowConfidence   = "LowConfidenceDiscarded"
	ReasonCooldown        = "CooldownActive"
	ReasonTighterTier     = "TighterTierNotified"
	ReasonOutranked       = "OutrankedByPending"
	ReasonSuperseded      = "superseded"
	ReasonTaskCompleted   = "task_completed"
	ReasonTaskMuted       = "task_muted"
	ReasonTaskInactive    = "task_inactive"
	ReasonUserAction      = "user_action"
)

// Geofence is the geometry of the fence that fired.
type Geofence struct {
	Latitude     float64 `json:"latitude"`
	Longitude    float64 `json:"longitude"`
	RadiusMeters float64 `json:"radiusMeters"`
}

// GeofenceReport is a transition reported by a mobile client.
type GeofenceReport struct {
	UserID         string    `json:"userId"`
	TaskID         string    `json:"taskId"`
	GeofenceID     string    `json:"geofenceId"`
	EventType      string    `json:"eventType"`
	Tier           string    `json:"tier,omitempty"`
	Latitude       float64   `json:"latitude"`
	Longitude      float64   `json:"longitude"`
	AccuracyMeters *float64  `json:"accuracyMeters,omitempty"`
	Confidence     *float64  `json:"confidence,omitempty"`
	Geofence       *Geofence `json:"geofence,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
}

// IntakeResult describes what happened to a report.
type IntakeResult struct {
	Disposition    Disposition                 `json:"disposition"`
	Reason         string                      `json:"reason,omitempty"`
	EventID        string                      `json:"eventId"`
	NotificationID string                      `json:"notificationId,omitempty"`
	Status         entities.NotificationStatus `json:"status,omitempty"`
	Confidence     float64                     `json:"confidence"`
}

// ActionResult describes the outcome of a user action.
type ActionResult struct {
	Action         string                      `json:"action"`
	NotificationID string                      `json:"notificationId"`
	Status         entities.NotificationStatus `json:"status"`
	FollowUpID     *string                     `json:"followUpId,omitempty"`
	SnoozeUntil    *time.Time                  `json:"snoozeUntil,omitempty"`
	MuteUntil      *time.Time                  `json:"muteUntil,omitempty"`
	Muted          bool                        `json:"muted,omitempty"`
	TaskCompleted  bool                        `json:"taskCompleted,omitempty"`
}

// HistoryFilter narrows a user's notification history.
type HistoryFilter struct {
	Statuses []entities.NotificationStatus
	Kind     entities.Kind
	TaskID   string
	Since    *time.Time
	Until    *time.Time
	Limit    int
}

// ParseStatuses parses a comma separated status list such as
// "pending,delivered". An empty string yields no filter.
func ParseStatuses(csv string) ([]entities.NotificationStatus, error) {
	var out []entities.NotificationStatus
	for part := range strings.SplitSeq(csv, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		switch s := entities.NotificationStatus(part); s {
		case entities.StatusPending, entities.StatusDelivered, entities.StatusCancelled,
			entities.StatusFailed, entities.StatusSnoozed:
			out = append(out, s)
		default:
			return nil, validationError("unknown notification status %q", part)
		}
	}
	return out, nil
}

// ParseKind parses a notification kind. An empty string yields no filter.
func ParseKind(s string) (entities.Kind, error) {
	switch k := entities.Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", entities.KindApproach, entities.KindArrival, entities.KindPostArrival:
		return k, nil
	default:
		return "", validationError("unknown notification kind %q", s)
	}
}

// History limits.
const (
	DefaultHistoryLimit = 50
	MaxHistoryLimit     = 500
)

// NotificationView is the externally visible form of a notification record.
type NotificationView struct {
	ID            string                      `json:"id" yaml:"id"`
	TaskID        string                      `json:"taskId" yaml:"taskId"`
	GeofenceID    string                      `json:"geofenceId" yaml:"geofenceId"`
	Tier          entities.Tier               `json:"tier" yaml:"tier"`
	Kind          entities.Kind               `json:"kind" yaml:"kind"`
	Title         string                      `json:"title" yaml:"title"`
	Body          string                      `json:"body" yaml:"body"`
	Confidence    float64                     `json:"confidence" yaml:"confidence"`
	Status        entities.NotificationStatus `json:"status" yaml:"status"`
	TriggeredAt   time.Time                   `json:"triggeredAt" yaml:"triggeredAt"`
	ScheduledAt   time.Time                   `json:"scheduledAt" yaml:"scheduledAt"`
	DeliveredAt   *time.Time                  `json:"deliveredAt,omitempty" yaml:"deliveredAt,omitempty"`
	Attempts      int                         `json:"attempts" yaml:"attempts"`
	ErrorMessage  *string                     `json:"errorMessage,omitempty" yaml:"errorMessage,omitempty"`
	SnoozedFromID *string                     `json:"snoozedFromId,omitempty" yaml:"snoozedFromId,omitempty"`
	Metadata      map[string]string           `json:"metadata,omitempty" yaml:"metadata,omitempty"`
	CreatedAt     time.Time                   `json:"createdAt" yaml:"createdAt"`
}

// NewView converts a record to its view.
func NewView(r *entities.NotificationRecord) NotificationView {
	return NotificationView{
		ID:            r.ID,
		TaskID:        r.TaskID,
		GeofenceID:    r.GeofenceID,
		Tier:          r.Tier,
		Kind:          r.Kind,
		Title:         r.Title,
		Body:          r.Body,
		Confidence:    r.Confidence,
		Status:        r.Status,
		TriggeredAt:   r.TriggeredAt,
		ScheduledAt:   r.ScheduledAt,
		DeliveredAt:   r.DeliveredAt,
		Attempts:      r.Attempts,
		ErrorMessage:  r.ErrorMessage,
		SnoozedFromID: r.SnoozedFromID,
		Metadata:      r.Metadata,
		CreatedAt:     r.CreatedAt,
	}
}

// StepResult is the outcome of one processor step.
type StepResult struct {
	Name     string        `json:"name" yaml:"name"`
	Items    int           `json:"items" yaml:"items"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Error    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// RunReport summarizes one processor run.
type RunReport struct {
	Job        string       `json:"job" yaml:"job"`
	StartedAt  time.Time    `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time    `json:"finishedAt" yaml:"finishedAt"`
	Steps      []StepResult `json:"steps" yaml:"steps"`
}

// Failed reports whether any step failed.
func (r *RunReport) Failed() bool {
	for _, s := range r.Steps {
		if s.Error != "" {
			return true
		}
	}
	return false
}

// Step returns the named step result.
func (r *RunReport) Step(name string) (StepResult, bool) {
	for _, s := range r.Steps {
		if s.Name == name {
			return s, true
		}
	}
	return StepResult{}, false
}
