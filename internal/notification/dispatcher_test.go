package notification

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/geonudge/internal/datastore/entities"
)

func TestDispatcher_DeliversDueRecords(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()
	h.addTask(t, "task-2", "user-1")

	first := h.accept(t, report("enter", "arrival", 0.9))
	r := report("enter", "arrival", 0.9)
	r.TaskID = "task-2"
	second := h.accept(t, r)

	summary, err := h.engine.dispatcher.DeliverDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Delivered)
	assert.ElementsMatch(t, []string{first, second}, h.gateway.Sent())

	for _, id := range []string{first, second} {
		rec := h.record(t, id)
		assert.Equal(t, entities.StatusDelivered, rec.Status)
		assert.Nil(t, rec.ClaimToken)
	}

	// Delivered records are not sent again.
	summary, err = h.engine.dispatcher.DeliverDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, summary.Total())
	assert.Len(t, h.gateway.Sent(), 2)
}

func TestDispatcher_ClaimPreventsDoubleSend(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()
	id := h.accept(t, report("enter", "arrival", 0.9))

	now := h.clock.Now()
	ok, err := h.store.ClaimNotification(ctx, id, "other-sender", now, now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, ok)

	outcome, err := h.engine.dispatcher.Deliver(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)

	summary, err := h.engine.dispatcher.DeliverDue(ctx, 10)
	require.NoError(t, err)
	assert.Zero(t, summary.Total(), "claimed records are not listed as due")
	assert.Empty(t, h.gateway.Sent())

	// An expired claim can be taken over.
	h.clock.Advance(2 * time.Minute)
	outcome, err = h.engine.dispatcher.Deliver(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDelivered, outcome)
	assert.Equal(t, []string{id}, h.gateway.Sent())
}

func TestDispatcher_SkipsRecordsThatAreNotPending(t *testing.T) {
	t.Parallel()
	h := newHarness(t)
	ctx := t.Context()
	id := h.accept(t, report("enter", "arrival", 0.9))
	require.NoError(t, h.engine.lifecycle.Cancel(ctx, id, "test"))

	outcome, err := h.engine.dispatcher.Deliver(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipped, outcome)
	assert.Zero(t, h.gateway.Calls())
}

func TestDispatcher_GatewayTimeout(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *Config) { c.Dispatcher.Timeout = 50 * time.Millisecond })
	ctx := t.Context()
	h.gateway.block = true

	id := h.accept(t, report("enter", "arrival", 0.9))

	outcome, err := h.engine.dispatcher.Deliver(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRetryScheduled, outcome)

	rec := h.record(t, id)
	assert.Equal(t, entities.StatusPending, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	require.NotNil(t, rec.ErrorMessage)
	assert.Contains(t, *rec.ErrorMessage, "deadline exceeded")
	assert.Nil(t, rec.ClaimToken)
}

func TestDispatcher_CircuitBreakerOpens(t *testing.T) {
	t.Parallel()
	h := newHarness(t, func(c *Config) {
		c.Dispatcher.Concurrency = 1
		c.Dispatcher.CircuitBreaker = CircuitBreakerConfig{MaxFailures: 2, Timeout: 30 * time.Second, HalfOpenMaxRequests: 1}
	})
	ctx := t.Context()
	h.gateway.failAll = true

	var ids []string
	for _, task := range []string{"task-1", "task-2", "task-3"} {
		if task != "task-1" {
			h.addTask(t, task, "user-1")
		}
		r := report("enter", "arrival", 0.9)
		r.TaskID = task
		ids = append(ids, h.accept(t, r))
	}

	summary, err := h.engine.dispatcher.DeliverDue(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Retried)
	assert.Equal(t, 2, h.gateway.Calls(), "the third send is rejected by the open breaker")
	assert.Equal(t, StateOpen, h.engine.Breaker().State())

	// Rejected sends still count as attempts and are retried.
	for _, id := range ids {
		assert.Equal(t, 1, h.record(t, id).Attempts)
	}

	// After the breaker timeout a probe goes through and closes it.
	h.gateway.failAll = false
	h.clock.Advance(time.Minute)
	_, err = h.engine.RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateClosed, h.engine.Breaker().State())
	assert.Len(t, h.gateway.Sent(), 3)
}
