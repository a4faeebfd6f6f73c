// Package repository provides the persistence operations of the notification
// engine. Every state change is a conditional update so that concurrent
// writers never overwrite each other.
package repository

import "github.com/tphakala/geonudge/internal/errors"

// Sentinel errors for repository operations.
var (
	// ErrNotificationNotFound indicates the requested notification does not exist.
	ErrNotificationNotFound = errors.NewStd("notification not found")

	// ErrEventNotFound indicates the requested geofence event does not exist.
	ErrEventNotFound = errors.NewStd("geofence event not found")

	// ErrTaskNotFound indicates the task has never been synced.
	ErrTaskNotFound = errors.NewStd("task not found")

	// ErrSnoozeNotFound indicates no matching snooze record exists.
	ErrSnoozeNotFound = errors.NewStd("snooze not found")

	// ErrMuteNotFound indicates no active mute exists for the task.
	ErrMuteNotFound = errors.NewStd("mute not found")

	// ErrRetryNotFound indicates no retry record exists for the notification.
	ErrRetryNotFound = errors.NewStd("retry not found")

	// ErrDedupClaimNotFound indicates the dedup key was never claimed.
	ErrDedupClaimNotFound = errors.NewStd("dedup claim not found")

	// ErrEventResolved indicates the event already carries a resolution.
	ErrEventResolved = errors.NewStd("geofence event already resolved")
)
