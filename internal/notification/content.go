package notification

import (
	"fmt"
	"strconv"

	"github.com/tphakala/geonudge/internal/datastore/entities"
)

// composeContent builds the title and body shown to the user.
func composeContent(task *entities.TaskState, tier entities.Tier) (title, body string) {
	title = task.Title
	if title == "" {
		title = "Reminder"
	}
	place := task.PlaceName
	if place == "" {
		place = "your destination"
	}

	switch tier.Kind() {
	case entities.KindApproach:
		body = fmt.Sprintf("You are getting close to %s. Don't forget: %s", place, title)
	case entities.KindPostArrival:
		body = fmt.Sprintf("Still at %s? Did you take care of: %s", place, title)
	default:
		body = fmt.Sprintf("You have arrived at %s. Don't forget: %s", place, title)
	}
	return title, body
}

// eventMetadata describes the triggering event on the record.
func eventMetadata(event *entities.GeofenceEvent, task *entities.TaskState) entities.Metadata {
	meta := entities.Metadata{
		"geofence_id":       event.GeofenceID,
		"event_type":        string(event.EventType),
		"tier":              string(event.Tier),
		"confidence_source": string(event.ConfidenceSource),
		"confidence":        strconv.FormatFloat(event.Confidence, 'f', 3, 64),
	}
	if task.PlaceName != "" {
		meta["place_name"] = task.PlaceName
	}
	return meta
}
