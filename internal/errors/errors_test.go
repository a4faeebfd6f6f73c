package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderSetsFields(t *testing.T) {
	t.Parallel()

	ee := Newf("task %s is unknown", "t1").
		Component("notification").
		Category(CategoryValidation).
		Priority(PriorityHigh).
		Context("task_id", "t1").
		Build()

	assert.Equal(t, "task t1 is unknown", ee.Error())
	assert.Equal(t, "notification", ee.GetComponent())
	assert.Equal(t, CategoryValidation, ee.Category)
	assert.Equal(t, PriorityHigh, ee.Priority)
	assert.Equal(t, "t1", ee.GetContext()["task_id"])
	assert.False(t, ee.Timestamp.IsZero())
}

func TestBuilderInvalidPriorityFallsBackToMedium(t *testing.T) {
	t.Parallel()

	ee := Newf("x").Priority("urgent").Build()
	assert.Equal(t, PriorityMedium, ee.Priority)
}

func TestDetectCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want ErrorCategory
	}{
		{"deadline", context.DeadlineExceeded, CategoryTimeout},
		{"connection", fmt.Errorf("connection refused"), CategoryNetwork},
		{"invalid", fmt.Errorf("invalid event type"), CategoryValidation},
		{"wrapped enhanced", fmt.Errorf("outer: %w", Newf("inner").Category(CategoryConflict).Build()), CategoryConflict},
		{"other", fmt.Errorf("boom"), CategoryGeneric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, New(tt.err).Build().Category)
		})
	}
}

func TestSentinelIdentity(t *testing.T) {
	t.Parallel()

	errA := Newf("a").Category(CategoryConflict).Build()
	errB := Newf("b").Category(CategoryConflict).Build()

	wrapped := New(errA).Context("id", "n1").Build()
	require.ErrorIs(t, wrapped, errA)
	assert.NotErrorIs(t, wrapped, errB)
	assert.ErrorIs(t, fmt.Errorf("layer: %w", wrapped), errA)
}

func TestIsCategoryWalksChain(t *testing.T) {
	t.Parallel()

	inner := Newf("row changed").Category(CategoryConflict).Build()
	outer := New(fmt.Errorf("snooze: %w", inner)).Category(CategoryDatabase).Build()

	assert.True(t, IsCategory(outer, CategoryDatabase))
	assert.True(t, IsConflict(outer))
	assert.False(t, IsNotFound(outer))
	assert.False(t, IsCategory(fmt.Errorf("plain"), CategoryGeneric))
	assert.Equal(t, CategoryDatabase, CategoryOf(outer))
	assert.Equal(t, CategoryGeneric, CategoryOf(fmt.Errorf("plain")))
}

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(ee *EnhancedError) { r.reported = append(r.reported, ee) }
func (r *recordingReporter) IsEnabled() bool               { return true }

// Not parallel: installs a global reporter.
func TestTelemetryReporterFiltersClientCategories(t *testing.T) {
	rec := &recordingReporter{}
	SetTelemetryReporter(rec)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	Newf("bad input").Category(CategoryValidation).Build()
	Newf("db down").Category(CategoryDatabase).Build()

	require.Len(t, rec.reported, 1)
	assert.Equal(t, CategoryDatabase, rec.reported[0].Category)
}

func TestScrubMessage(t *testing.T) {
	t.Parallel()

	got := scrubMessage("POST https://hooks.example.com/x?token=secret failed")
	assert.Equal(t, "POST https://hooks.example.com/x?[REDACTED] failed", got)
}
