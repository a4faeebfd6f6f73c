// Package events provides an asynchronous, non-blocking bus for notification
// lifecycle transitions. Publishers never wait on consumers.
package events

import "time"

// EventType names a lifecycle transition.
type EventType string

const (
	EventCreated     EventType = "created"
	EventDelivered   EventType = "delivered"
	EventFailed      EventType = "failed"
	EventExhausted   EventType = "exhausted"
	EventCancelled   EventType = "cancelled"
	EventSnoozed     EventType = "snoozed"
	EventReactivated EventType = "reactivated"
	EventMuted       EventType = "muted"
	EventUnmuted     EventType = "unmuted"
	EventBundled     EventType = "bundled"
	EventSuppressed  EventType = "suppressed"
	EventDiscarded   EventType = "discarded"
)

// LifecycleEvent describes one transition. NotificationID is empty for
// task-level events such as mutes and discarded reports.
type LifecycleEvent struct {
	Type           EventType `json:"type"`
	NotificationID string    `json:"notificationId,omitempty"`
	TaskID         string    `json:"taskId"`
	UserID         string    `json:"userId"`
	Status         string    `json:"status,omitempty"`
	Reason         string    `json:"reason,omitempty"`
	At             time.Time `json:"at"`
}

// EventConsumer processes lifecycle events
type EventConsumer interface {
	// Name returns the consumer name for identification
	Name() string

	// ProcessEvent processes a single event
	ProcessEvent(event LifecycleEvent) error
}

// Publisher accepts lifecycle events without blocking.
type Publisher interface {
	TryPublish(event LifecycleEvent) bool
}

// EventBusStats contains runtime statistics for monitoring
type EventBusStats struct {
	EventsReceived  uint64
	EventsProcessed uint64
	EventsDropped   uint64
	ConsumerErrors  uint64
}
