package notification

import (
	"strings"
	"time"

	"github.com/tphakala/geonudge/internal/datastore/entities"
)

// Action is a user response to a notification. The set of actions is closed:
// CompleteAction, SnoozeAction and MuteAction.
type Action interface {
	Name() string
	action()
}

// CompleteAction marks the task done.
type CompleteAction struct{}

// SnoozeAction postpones the notification.
type SnoozeAction struct {
	Duration entities.SnoozeDuration
}

// MuteAction silences the task. A nil Duration mutes until unmuted.
type MuteAction struct {
	Duration *time.Duration
}

func (CompleteAction) Name() string { return "complete" }
func (SnoozeAction) Name() string   { return "snooze" }
func (MuteAction) Name() string     { return "mute" }

func (CompleteAction) action() {}
func (SnoozeAction) action()   {}
func (MuteAction) action()     {}

// ParseAction resolves an action name and optional duration. Besides
// complete, snooze and mute it accepts the identifiers sent by older clients.
func ParseAction(name, duration string) (Action, error) {
	switch name {
	case "COMPLETE_ACTION":
		return CompleteAction{}, nil
	case "SNOOZE_15M_ACTION":
		return SnoozeAction{Duration: entities.Snooze15Minutes}, nil
	case "SNOOZE_1H_ACTION":
		return SnoozeAction{Duration: entities.Snooze1Hour}, nil
	case "SNOOZE_TODAY_ACTION":
		return SnoozeAction{Duration: entities.SnoozeToday}, nil
	case "MUTE_ACTION":
		return MuteAction{}, nil
	case "MUTE_1H_ACTION":
		d := time.Hour
		return MuteAction{Duration: &d}, nil
	}

	switch strings.ToLower(strings.TrimSpace(name)) {
	case "complete":
		return CompleteAction{}, nil
	case "snooze":
		d := entities.SnoozeDuration(strings.ToLower(strings.TrimSpace(duration)))
		if !d.Valid() {
			return nil, validationError("invalid snooze duration %q, expected 15m, 1h or today", duration)
		}
		return SnoozeAction{Duration: d}, nil
	case "mute":
		if strings.TrimSpace(duration) == "" {
			return MuteAction{}, nil
		}
		d, err := time.ParseDuration(strings.TrimSpace(duration))
		if err != nil || d <= 0 {
			return nil, validationError("invalid mute duration %q", duration)
		}
		return MuteAction{Duration: &d}, nil
	default:
		return nil, validationError("unknown action %q", name)
	}
}
