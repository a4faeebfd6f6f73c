package notification

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/geonudge/internal/errors"
)

func newTestBreaker(t *testing.T, clock Clock, cfg CircuitBreakerConfig) *CircuitBreaker {
	t.Helper()
	return NewCircuitBreaker(cfg, clock, nil, "test", testLogger())
}

func failing(context.Context) error { return errors.NewStd("send failed") }

func succeeding(context.Context) error { return nil }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(baseTime)
	cb := newTestBreaker(t, clock, CircuitBreakerConfig{MaxFailures: 3, Timeout: time.Minute, HalfOpenMaxRequests: 1})

	for range 2 {
		require.Error(t, cb.Call(t.Context(), failing))
		assert.Equal(t, StateClosed, cb.State())
	}
	require.Error(t, cb.Call(t.Context(), failing))
	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, 3, cb.Failures())
	assert.False(t, cb.IsHealthy())

	called := false
	err := cb.Call(t.Context(), func(context.Context) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	t.Parallel()
	cb := newTestBreaker(t, newFakeClock(baseTime), CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute, HalfOpenMaxRequests: 1})

	require.Error(t, cb.Call(t.Context(), failing))
	require.NoError(t, cb.Call(t.Context(), succeeding))
	require.Error(t, cb.Call(t.Context(), failing))

	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 1, cb.Failures())
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		probe func(context.Context) error
		want  CircuitState
	}{
		{"probe succeeds", succeeding, StateClosed},
		{"probe fails", failing, StateOpen},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			clock := newFakeClock(baseTime)
			cb := newTestBreaker(t, clock, CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Minute, HalfOpenMaxRequests: 1})

			require.Error(t, cb.Call(t.Context(), failing))
			require.Equal(t, StateOpen, cb.State())

			clock.Advance(time.Minute)
			_ = cb.Call(t.Context(), tt.probe)
			assert.Equal(t, tt.want, cb.State())
		})
	}
}

func TestCircuitBreaker_HalfOpenLimitsRequests(t *testing.T) {
	t.Parallel()
	clock := newFakeClock(baseTime)
	cb := newTestBreaker(t, clock, CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Minute, HalfOpenMaxRequests: 1})

	require.Error(t, cb.Call(t.Context(), failing))
	clock.Advance(time.Minute)

	probeStarted := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Call(t.Context(), func(context.Context) error {
			close(probeStarted)
			<-release
			return nil
		})
	}()
	<-probeStarted

	err := cb.Call(t.Context(), succeeding)
	require.ErrorIs(t, err, ErrTooManyRequests)

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_CancellationIsNotAFailure(t *testing.T) {
	t.Parallel()
	cb := newTestBreaker(t, newFakeClock(baseTime), CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Minute, HalfOpenMaxRequests: 1})

	err := cb.Call(t.Context(), func(context.Context) error { return context.Canceled })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.State())
	assert.Zero(t, cb.Failures())
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()
	cb := newTestBreaker(t, newFakeClock(baseTime), CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Hour, HalfOpenMaxRequests: 1})

	require.Error(t, cb.Call(t.Context(), failing))
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	stats := cb.GetStats()
	assert.Equal(t, StateClosed, stats.State)
	assert.Zero(t, stats.Failures)
	assert.True(t, stats.LastFailureTime.IsZero())
}

func TestCircuitBreakerConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     CircuitBreakerConfig
		wantErr bool
	}{
		{"defaults", DefaultCircuitBreakerConfig(), false},
		{"zero failures", CircuitBreakerConfig{MaxFailures: 0, Timeout: time.Second, HalfOpenMaxRequests: 1}, true},
		{"zero timeout", CircuitBreakerConfig{MaxFailures: 1, Timeout: 0, HalfOpenMaxRequests: 1}, true},
		{"zero half-open requests", CircuitBreakerConfig{MaxFailures: 1, Timeout: time.Second}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCircuitState_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "unknown", CircuitState(42).String())
}
