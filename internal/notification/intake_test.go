package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/errors"
)

func TestReport_Validation(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	tests := []struct {
		name   string
		modify func(*GeofenceReport)
	}{
		{"missing user", func(r *GeofenceReport) { r.UserID = "" }},
		{"missing task", func(r *GeofenceReport) { r.TaskID = " " }},
		{"missing geofence", func(r *GeofenceReport) { r.GeofenceID = "" }},
		{"unknown event type", func(r *GeofenceReport) { r.EventType = "teleport" }},
		{"unknown tier", func(r *GeofenceReport) { r.Tier = "nearby" }},
		{"latitude out of range", func(r *GeofenceReport) { r.Latitude = 91 }},
		{"longitude out of range", func(r *GeofenceReport) { r.Longitude = -181 }},
		{"confidence above one", func(r *GeofenceReport) { r.Confidence = ptr(1.2) }},
		{"negative accuracy", func(r *GeofenceReport) { r.AccuracyMeters = ptr(-5.0) }},
		{"no confidence and no geometry", func(r *GeofenceReport) { r.Confidence = nil }},
		{"zero radius", func(r *GeofenceReport) {
			r.Confidence = nil
			r.Geofence = &Geofence{Latitude: 60, Longitude: 24, RadiusMeters: 0}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := report("enter", "arrival", 0.9)
			tt.modify(&r)
			_, err := h.engine.ReportGeofenceEvent(t.Context(), r)
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err), "expected validation error, got %v", err)
		})
	}
}

func TestReport_EventAliases(t *testing.T) {
	t.Parallel()

	tests := []struct {
		eventType string
		wantType  entities.EventType
		wantTier  entities.Tier
	}{
		{"arrival", entities.EventEnter, entities.TierArrival},
		{"approach", entities.EventEnter, entities.TierApproachNear},
		{"post_arrival", entities.EventDwell, entities.TierPostArrival},
		{"ENTER", entities.EventEnter, entities.TierArrival},
		{"dwell", entities.EventDwell, entities.TierPostArrival},
	}

	for _, tt := range tests {
		t.Run(tt.eventType, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)

			res, err := h.engine.ReportGeofenceEvent(t.Context(), report(tt.eventType, "", 0.9))
			require.NoError(t, err)
			require.Equal(t, DispositionAccepted, res.Disposition)

			event, err := h.store.GetEvent(t.Context(), res.EventID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantType, event.EventType)
			assert.Equal(t, tt.wantTier, event.Tier)
			assert.Equal(t, entities.ResolutionAccepted, event.Resolution)
		})
	}
}

func TestReport_UnknownTask(t *testing.T) {
	t.Parallel()

	t.Run("rejected by default", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		r := report("enter", "arrival", 0.9)
		r.TaskID = "task-unknown"

		_, err := h.engine.ReportGeofenceEvent(t.Context(), r)
		require.Error(t, err)
		assert.True(t, errors.IsValidation(err))
	})

	t.Run("registered when accepted", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t, func(c *Config) { c.Intake.UnknownTask = UnknownTaskAccept })
		r := report("enter", "arrival", 0.9)
		r.TaskID = "task-new"

		res, err := h.engine.ReportGeofenceEvent(t.Context(), r)
		require.NoError(t, err)
		assert.Equal(t, DispositionAccepted, res.Disposition)

		task, err := h.store.GetTask(t.Context(), "task-new")
		require.NoError(t, err)
		assert.Equal(t, "user-1", task.UserID)
		assert.Equal(t, entities.TaskActive, task.Status)
	})
}

func TestReport_TaskOfAnotherUser(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	r := report("enter", "arrival", 0.9)
	r.UserID = "user-2"

	_, err := h.engine.ReportGeofenceEvent(t.Context(), r)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestReport_LowConfidenceDiscarded(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	res, err := h.engine.ReportGeofenceEvent(t.Context(), report("enter", "arrival", 0.3))
	require.NoError(t, err)
	assert.Equal(t, DispositionDiscarded, res.Disposition)
	assert.Equal(t, ReasonLowConfidence, res.Reason)
	assert.Empty(t, res.NotificationID)

	// The event is persisted before it is judged.
	event, err := h.store.GetEvent(t.Context(), res.EventID)
	require.NoError(t, err)
	assert.Equal(t, entities.ResolutionDiscarded, event.Resolution)
	assert.InDelta(t, 0.3, event.Confidence, 1e-9)
	assert.Equal(t, entities.ConfidenceClient, event.ConfidenceSource)
}

func TestReport_IneligibleTasks(t *testing.T) {
	t.Parallel()

	t.Run("inactive", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		_, err := h.engine.SyncTask(t.Context(), entities.TaskState{TaskID: "task-1", UserID: "user-1", Status: entities.TaskInactive})
		require.NoError(t, err)

		res, err := h.engine.ReportGeofenceEvent(t.Context(), report("enter", "arrival", 0.9))
		require.NoError(t, err)
		assert.Equal(t, DispositionDiscarded, res.Disposition)
		assert.Equal(t, ReasonTaskNotEligible, res.Reason)
	})

	t.Run("completed", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		_, err := h.engine.CompleteTask(t.Context(), "task-1")
		require.NoError(t, err)

		res, err := h.engine.ReportGeofenceEvent(t.Context(), report("enter", "arrival", 0.9))
		require.NoError(t, err)
		assert.Equal(t, DispositionDiscarded, res.Disposition)
		assert.Equal(t, ReasonTaskNotEligible, res.Reason)
	})

	t.Run("muted", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		_, err := h.engine.muter.Mute(t.Context(), "task-1", nil, "test")
		require.NoError(t, err)

		res, err := h.engine.ReportGeofenceEvent(t.Context(), report("enter", "arrival", 0.9))
		require.NoError(t, err)
		assert.Equal(t, DispositionDiscarded, res.Disposition)
		assert.Equal(t, ReasonTaskNotEligible, res.Reason)
	})

	t.Run("mute expired", func(t *testing.T) {
		t.Parallel()
		h := newHarness(t)
		_, err := h.engine.muter.Mute(t.Context(), "task-1", ptr(time.Hour), "test")
		require.NoError(t, err)
		h.clock.Advance(time.Hour + time.Second)

		res, err := h.engine.ReportGeofenceEvent(t.Context(), report("enter", "arrival", 0.9))
		require.NoError(t, err)
		assert.Equal(t, DispositionAccepted, res.Disposition)
	})
}

func TestReport_ComputedConfidence(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	r := report("enter", "arrival", 0)
	r.Confidence = nil
	r.Geofence = &Geofence{Latitude: r.Latitude, Longitude: r.Longitude, RadiusMeters: 100}

	res, err := h.engine.ReportGeofenceEvent(t.Context(), r)
	require.NoError(t, err)
	assert.Equal(t, DispositionAccepted, res.Disposition)
	assert.InDelta(t, 1.0, res.Confidence, 1e-9)

	event, err := h.store.GetEvent(t.Context(), res.EventID)
	require.NoError(t, err)
	assert.Equal(t, entities.ConfidenceComputed, event.ConfidenceSource)
}

func TestReport_ComputedConfidenceBelowFloor(t *testing.T) {
	t.Parallel()
	h := newHarness(t)

	// 0.03 degrees of latitude is about 3.3 km, far outside a 100 m fence.
	r := report("enter", "arrival", 0)
	r.Confidence = nil
	r.Geofence = &Geofence{Latitude: r.Latitude + 0.03, Longitude: r.Longitude, RadiusMeters: 100}

	res, err := h.engine.ReportGeofenceEvent(t.Context(), r)
	require.NoError(t, err)
	assert.Equal(t, DispositionDiscarded, res.Disposition)
	assert.Equal(t, ReasonLowConfidence, res.Reason)
	assert.InDelta(t, 0.0, res.Confidence, 1e-9)
}

func TestReport_RateLimited(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *Config) {
		c.Intake.RateLimit = RateLimitConfig{Enabled: true, Events: 2, Window: time.Minute, Buckets: 6, MaxKeys: 10}
	})

	for range 2 {
		_, err := h.engine.ReportGeofenceEvent(t.Context(), report("enter", "arrival", 0.9))
		require.NoError(t, err)
	}

	_, err := h.engine.ReportGeofenceEvent(t.Context(), report("enter", "arrival", 0.9))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.True(t, errors.IsCategory(err, errors.CategoryLimit))

	h.clock.Advance(2 * time.Minute)
	_, err = h.engine.ReportGeofenceEvent(t.Context(), report("enter", "arrival", 0.9))
	assert.NoError(t, err)
}

func TestReport_ScheduledAtByTier(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tier  string
		delay time.Duration
	}{
		{"arrival", 0},
		{"post_arrival", 0},
		{"approach_near", time.Minute},
		{"approach_wide", 2 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.tier, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t)
			eventType := "enter"
			if tt.tier == "post_arrival" {
				eventType = "dwell"
			}
			id := h.accept(t, report(eventType, tt.tier, 0.9))

			rec := h.record(t, id)
			assert.Equal(t, entities.StatusPending, rec.Status)
			assert.True(t, baseTime.Add(tt.delay).Equal(rec.ScheduledAt), "scheduled at %v", rec.ScheduledAt)
			assert.Equal(t, entities.Tier(tt.tier).Kind(), rec.Kind)
		})
	}
}
