package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/geonudge/internal/conf"
	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/logger"
	"github.com/tphakala/geonudge/internal/notification"
	"github.com/tphakala/geonudge/internal/observability"
)

// fakeEngine records calls and returns canned results.
type fakeEngine struct {
	mu sync.Mutex

	report    notification.GeofenceReport
	intake    notification.IntakeResult
	action    notification.Action
	actionID  string
	filter    notification.HistoryFilter
	task      entities.TaskState
	cancelled int
	muted     bool
	views     []notification.NotificationView
	err       error
	runs      int
}

func (f *fakeEngine) ReportGeofenceEvent(_ context.Context, report notification.GeofenceReport) (notification.IntakeResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.report = report
	return f.intake, f.err
}

func (f *fakeEngine) PerformNotificationAction(_ context.Context, id string, action notification.Action) (notification.ActionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actionID = id
	f.action = action
	if f.err != nil {
		return notification.ActionResult{}, f.err
	}
	return notification.ActionResult{Action: action.Name(), NotificationID: id, Status: entities.StatusSnoozed}, nil
}

func (f *fakeEngine) GetNotification(_ context.Context, id string) (notification.NotificationView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return notification.NotificationView{}, f.err
	}
	return notification.NotificationView{ID: id, Status: entities.StatusPending}, nil
}

func (f *fakeEngine) GetNotificationHistory(_ context.Context, _ string, filter notification.HistoryFilter) ([]notification.NotificationView, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filter = filter
	return f.views, f.err
}

func (f *fakeEngine) SyncTask(_ context.Context, task entities.TaskState) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.task = task
	return f.cancelled, f.err
}

func (f *fakeEngine) Unmute(context.Context, string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.muted, f.err
}

func (f *fakeEngine) RunNow(context.Context) (*notification.RunReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs++
	if f.err != nil {
		return nil, f.err
	}
	return &notification.RunReport{Job: "processor", Steps: []notification.StepResult{{Name: "retries", Items: 2}}}, nil
}

func (f *fakeEngine) Breaker() *notification.CircuitBreaker { return nil }

func newTestServer(t *testing.T, engine Engine, configure func(*conf.Settings)) *Server {
	t.Helper()
	settings := &conf.Settings{}
	settings.WebServer.Listen = "127.0.0.1:0"
	settings.Metrics.Enabled = true
	settings.Metrics.Path = "/metrics"
	settings.Version = "test"
	if configure != nil {
		configure(settings)
	}
	m, err := observability.NewMetrics()
	require.NoError(t, err)

	s, err := New(settings, engine,
		WithMetrics(m),
		WithLogger(logger.NewSlogLogger(nil, logger.LogLevelError, time.UTC)))
	require.NoError(t, err)
	return s
}

func doRequest(t *testing.T, s *Server, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestReportGeofenceEvent(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		disposition notification.Disposition
		want        int
	}{
		{"accepted", notification.DispositionAccepted, http.StatusAccepted},
		{"bundled", notification.DispositionBundled, http.StatusOK},
		{"suppressed", notification.DispositionSuppressed, http.StatusOK},
		{"discarded", notification.DispositionDiscarded, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			engine := &fakeEngine{intake: notification.IntakeResult{Disposition: tt.disposition, EventID: "e-1"}}
			s := newTestServer(t, engine, nil)

			rec := doRequest(t, s, http.MethodPost, "/api/v1/geofence-events",
				`{"userId":"user-1","taskId":"task-1","geofenceId":"geo-1","eventType":"enter","latitude":60.1,"longitude":24.9}`)

			require.Equal(t, tt.want, rec.Code)
			got := decode[notification.IntakeResult](t, rec)
			assert.Equal(t, tt.disposition, got.Disposition)
			assert.Equal(t, "geo-1", engine.report.GeofenceID)
			assert.InDelta(t, 60.1, engine.report.Latitude, 1e-9)
		})
	}
}

func TestReportGeofenceEvent_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		body string
		want int
	}{
		{"malformed body", nil, `{"userId":`, http.StatusBadRequest},
		{"validation", errors.Newf("eventType is required").Category(errors.CategoryValidation).Build(), `{}`, http.StatusBadRequest},
		{"rate limited", notification.ErrRateLimited, `{}`, http.StatusTooManyRequests},
		{"database", errors.Newf("disk full").Category(errors.CategoryDatabase).Build(), `{}`, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t, &fakeEngine{err: tt.err}, nil)
			rec := doRequest(t, s, http.MethodPost, "/api/v1/geofence-events", tt.body)

			require.Equal(t, tt.want, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			assert.Equal(t, tt.want, resp.Code)
			assert.Len(t, resp.CorrelationID, 8)
			if tt.want == http.StatusInternalServerError {
				assert.NotContains(t, resp.Error, "disk full", "server errors are not echoed")
			}
		})
	}
}

func TestPerformAction(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{}
	s := newTestServer(t, engine, nil)

	rec := doRequest(t, s, http.MethodPost, "/api/v1/notifications/n-1/actions", `{"action":"snooze","duration":"1h"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[notification.ActionResult](t, rec)
	assert.Equal(t, "n-1", got.NotificationID)
	assert.Equal(t, "n-1", engine.actionID)
	snooze, ok := engine.action.(notification.SnoozeAction)
	require.True(t, ok)
	assert.Equal(t, entities.Snooze1Hour, snooze.Duration)

	rec = doRequest(t, s, http.MethodPost, "/api/v1/notifications/n-1/actions", `{"action":"dance"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPerformAction_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"not found", notification.ErrNotFound, http.StatusNotFound},
		{"invalid state", notification.ErrInvalidState, http.StatusConflict},
		{"conflict", notification.ErrConflict, http.StatusConflict},
		{"snooze cap", notification.ErrSnoozeCapReached, http.StatusTooManyRequests},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := newTestServer(t, &fakeEngine{err: tt.err}, nil)
			rec := doRequest(t, s, http.MethodPost, "/api/v1/notifications/n-1/actions", `{"action":"complete"}`)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestGetNotification(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeEngine{}, nil)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/notifications/n-7", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "n-7", decode[notification.NotificationView](t, rec).ID)

	s = newTestServer(t, &fakeEngine{err: notification.ErrNotFound}, nil)
	rec = doRequest(t, s, http.MethodGet, "/api/v1/notifications/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetHistory(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{views: []notification.NotificationView{{ID: "n-2"}, {ID: "n-1"}}}
	s := newTestServer(t, engine, nil)

	rec := doRequest(t, s, http.MethodGet,
		"/api/v1/users/user-1/notifications?status=pending,delivered&kind=arrival&task=task-1&since=2026-03-01T00:00:00Z&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[HistoryResponse](t, rec)
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, []entities.NotificationStatus{entities.StatusPending, entities.StatusDelivered}, engine.filter.Statuses)
	assert.Equal(t, entities.KindArrival, engine.filter.Kind)
	assert.Equal(t, "task-1", engine.filter.TaskID)
	assert.Equal(t, 10, engine.filter.Limit)
	require.NotNil(t, engine.filter.Since)
	assert.Equal(t, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC), engine.filter.Since.UTC())
}

func TestGetHistory_EmptyIsArray(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeEngine{}, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/users/user-1/notifications", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"notifications":[]`)
}

func TestGetHistory_InvalidQuery(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeEngine{}, nil)

	for _, query := range []string{"status=lost", "kind=departure", "since=yesterday", "limit=-1", "limit=ten"} {
		rec := doRequest(t, s, http.MethodGet, "/api/v1/users/user-1/notifications?"+query, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestSyncTask(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{cancelled: 2}
	s := newTestServer(t, engine, nil)

	rec := doRequest(t, s, http.MethodPut, "/api/v1/tasks/task-1",
		`{"userId":"user-1","title":"Buy milk","placeName":"Store","status":"Completed"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[TaskResponse](t, rec)
	assert.Equal(t, TaskResponse{TaskID: "task-1", Status: entities.TaskCompleted, Cancelled: 2}, got)
	assert.Equal(t, "task-1", engine.task.TaskID)
	assert.Equal(t, "Store", engine.task.PlaceName)
	assert.Equal(t, entities.TaskCompleted, engine.task.Status)

	rec = doRequest(t, s, http.MethodPut, "/api/v1/tasks/task-2", `{"userId":"user-1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, entities.TaskActive, decode[TaskResponse](t, rec).Status)
}

func TestUnmuteTask(t *testing.T) {
	t.Parallel()

	s := newTestServer(t, &fakeEngine{muted: true}, nil)
	rec := doRequest(t, s, http.MethodDelete, "/api/v1/tasks/task-1/mute", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	s = newTestServer(t, &fakeEngine{muted: false}, nil)
	rec = doRequest(t, s, http.MethodDelete, "/api/v1/tasks/task-1/mute", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunProcessor_AdminAuth(t *testing.T) {
	t.Parallel()
	engine := &fakeEngine{}
	s := newTestServer(t, engine, func(s *conf.Settings) { s.WebServer.AdminToken = "s3cret" })

	rec := doRequest(t, s, http.MethodPost, "/api/v1/admin/processor/run", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, http.StatusUnauthorized, decode[ErrorResponse](t, rec).Code)
	assert.Zero(t, engine.runs)

	rec = doRequest(t, s, http.MethodPost, "/api/v1/admin/processor/run", "", "Authorization", "Bearer s3cret")
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[notification.RunReport](t, rec)
	assert.Equal(t, "processor", report.Job)
	assert.Equal(t, 1, engine.runs)
}

func TestRunProcessor_LeaseHeld(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeEngine{err: notification.ErrLeaseHeld}, nil)
	rec := doRequest(t, s, http.MethodPost, "/api/v1/admin/processor/run", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeEngine{}, nil)

	rec := doRequest(t, s, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	health := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", health["status"])
	assert.Equal(t, "test", health["version"])

	rec = doRequest(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "geonudge_")

	s = newTestServer(t, &fakeEngine{}, func(s *conf.Settings) { s.Metrics.Enabled = false })
	rec = doRequest(t, s, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnknownRouteUsesErrorShape(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeEngine{}, nil)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, http.StatusNotFound, decode[ErrorResponse](t, rec).Code)
}

func TestServe_ShutsDownOnCancel(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, &fakeEngine{}, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:noctx // test request
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Listen = "8080"
	require.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.MetricsPath = "metrics"
	require.Error(t, cfg.Validate())

	_, err := New(&conf.Settings{}, nil)
	require.Error(t, err)
}
