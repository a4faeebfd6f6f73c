package notification

import (
	"github.com/tphakala/geonudge/internal/datastore/repository"
	"github.com/tphakala/geonudge/internal/errors"
)

const component = "notification"

var (
	// ErrConflict is returned when a record changed between read and write.
	// The caller may retry the operation.
	ErrConflict = errors.Newf("notification was modified concurrently").
			Component(component).
			Category(errors.CategoryConflict).
			Build()

	// ErrDeliveryExhausted signals that a failed delivery used up its retries
	// and the notification is now terminally failed.
	ErrDeliveryExhausted = errors.Newf("delivery retries exhausted").
				Component(component).
				Category(errors.CategoryRetry).
				Build()

	// ErrLeaseHeld is returned when another processor run holds the lease.
	ErrLeaseHeld = errors.Newf("processor lease is held by another run").
			Component(component).
			Category(errors.CategoryProcessor).
			Build()

	// ErrLeaseLost stops a run whose lease could not be renewed.
	ErrLeaseLost = errors.Newf("processor lease lost during run").
			Component(component).
			Category(errors.CategoryProcessor).
			Build()

	// ErrSnoozeCapReached is returned when a notification chain has been
	// snoozed the maximum number of times.
	ErrSnoozeCapReached = errors.Newf("snooze limit reached").
				Component(component).
				Category(errors.CategoryLimit).
				Build()

	// ErrRateLimited is returned when a user reports too many events.
	ErrRateLimited = errors.Newf("too many geofence reports").
			Component(component).
			Category(errors.CategoryLimit).
			Build()

	// ErrInvalidState is returned when an action does not apply to the
	// notification's current status.
	ErrInvalidState = errors.Newf("action not allowed in current notification state").
			Component(component).
			Category(errors.CategoryState).
			Build()

	// ErrNotFound is returned for unknown notification ids.
	ErrNotFound = errors.Newf("notification not found").
			Component(component).
			Category(errors.CategoryNotFound).
			Build()
)

// validationError builds a validation error for a malformed request.
func validationError(format string, args ...any) error {
	return errors.Newf(format, args...).
		Component(component).
		Category(errors.CategoryValidation).
		Build()
}

// withContext wraps a sentinel so that errors.Is still matches it while the
// error carries the given context.
func withContext(sentinel *errors.EnhancedError, kv ...any) error {
	b := errors.New(sentinel).Component(component).Category(sentinel.Category)
	for i := 0; i+1 < len(kv); i += 2 {
		if key, ok := kv[i].(string); ok {
			b = b.Context(key, kv[i+1])
		}
	}
	return b.Build()
}

// dbError wraps a store failure. Repository not-found errors for
// notifications are translated to ErrNotFound.
func dbError(err error, operation string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, repository.ErrNotificationNotFound) {
		return withContext(ErrNotFound, "operation", operation)
	}
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		return err
	}
	return errors.New(err).
		Component(component).
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}
