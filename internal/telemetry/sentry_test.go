package telemetry

import (
	"testing"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/geonudge/internal/conf"
)

func TestInit_Disabled(t *testing.T) {
	settings := &conf.Settings{}
	require.NoError(t, Init(settings, nil))
	require.NoError(t, Init(nil, nil))
	assert.False(t, initialized.Load())

	// Flush without Init is a no-op.
	Flush(0)
}

func TestInit_InvalidDSN(t *testing.T) {
	settings := &conf.Settings{}
	settings.Sentry.Enabled = true
	settings.Sentry.DSN = "not-a-dsn"

	err := Init(settings, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sentry initialization failed")
	assert.False(t, initialized.Load())
}

func TestRelease(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "geonudge@1.2.3", release("1.2.3"))
	assert.Equal(t, "geonudge@dev", release(""))
}

func TestApplyPrivacyFilters(t *testing.T) {
	t.Parallel()

	event := &sentry.Event{
		ServerName: "host-1",
		User:       sentry.User{ID: "user-1", IPAddress: "10.0.0.1"},
		Contexts: map[string]sentry.Context{
			"device":  {"arch": "amd64"},
			"os":      {"name": "linux"},
			"runtime": {"name": "go"},
			"value":   {"value": "kept"},
		},
		Extra: map[string]any{
			"component":  "delivery",
			"error_type": "network",
			"url":        "https://example.com/?token=secret",
		},
		Tags: map[string]string{
			"hostname":  "host-1",
			"component": "delivery",
		},
		Request: &sentry.Request{URL: "https://example.com/?token=secret"},
	}

	got := applyPrivacyFilters(event)
	require.NotNil(t, got)
	assert.Empty(t, got.ServerName)
	assert.True(t, got.User.IsEmpty())
	assert.NotContains(t, got.Contexts, "device")
	assert.NotContains(t, got.Contexts, "os")
	assert.NotContains(t, got.Contexts, "runtime")
	assert.Contains(t, got.Contexts, "value")
	assert.Equal(t, map[string]any{"component": "delivery", "error_type": "network"}, got.Extra)
	assert.Equal(t, map[string]string{"component": "delivery"}, got.Tags)
	assert.Nil(t, got.Request)

	assert.Nil(t, applyPrivacyFilters(nil))
}
