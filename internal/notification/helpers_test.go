package notification

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/tphakala/geonudge/internal/datastore"
	"github.com/tphakala/geonudge/internal/datastore/entities"
	"github.com/tphakala/geonudge/internal/datastore/repository"
	"github.com/tphakala/geonudge/internal/errors"
	"github.com/tphakala/geonudge/internal/logger"
	"github.com/tphakala/geonudge/internal/observability"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("github.com/patrickmn/go-cache.(*janitor).Run"),
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
		goleak.IgnoreTopFunction("gopkg.in/natefinch/lumberjack%2ev2.(*Logger).millRun"),
	)
}

var baseTime = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// fakeClock is a manually advanced Clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeGateway records sends and fails the next failNext calls.
type fakeGateway struct {
	mu       sync.Mutex
	sent     []string
	calls    int
	failNext int
	failAll  bool
	block    bool
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) Send(ctx context.Context, record *entities.NotificationRecord) error {
	g.mu.Lock()
	g.calls++
	block := g.block
	fail := g.failAll || g.failNext > 0
	if g.failNext > 0 {
		g.failNext--
	}
	if !fail && !block {
		g.sent = append(g.sent, record.ID)
	}
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return errors.NewStd("gateway unavailable")
	}
	return nil
}

func (g *fakeGateway) Sent() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.sent...)
}

func (g *fakeGateway) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

func (g *fakeGateway) setFailNext(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failNext = n
}

func (g *fakeGateway) setBlock(block bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.block = block
}

func (g *fakeGateway) setFailAll(fail bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failAll = fail
}

// fakeCompleter records task completions forwarded to the task service.
type fakeCompleter struct {
	mu    sync.Mutex
	tasks []string
	err   error
}

func (c *fakeCompleter) CompleteTask(_ context.Context, taskID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.tasks = append(c.tasks, taskID)
	return nil
}

type harness struct {
	engine    *Engine
	store     *repository.Store
	clock     *fakeClock
	gateway   *fakeGateway
	completer *fakeCompleter
	metrics   *observability.Metrics
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Snooze.Location = time.UTC
	cfg.Dispatcher.Rate = 0
	cfg.Dispatcher.Timeout = 2 * time.Second
	cfg.Intake.RateLimit.Enabled = false
	return cfg
}

func openTestStore(t *testing.T) *repository.Store {
	t.Helper()
	mgr, err := datastore.OpenSQLite(filepath.Join(t.TempDir(), "engine.db"), nil)
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize())
	t.Cleanup(func() { _ = mgr.Close() })
	return repository.NewStore(mgr.DB(), false)
}

func testLogger() logger.Logger {
	return logger.NewSlogLogger(nil, logger.LogLevelError, time.UTC)
}

// newHarness builds an engine on a fresh SQLite database with a fake clock
// and gateway. A task "task-1" owned by "user-1" is registered.
func newHarness(t *testing.T, mutate ...func(*Config)) *harness {
	t.Helper()

	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}

	m, err := observability.NewMetrics()
	require.NoError(t, err)

	h := &harness{
		store:     openTestStore(t),
		clock:     newFakeClock(baseTime),
		gateway:   &fakeGateway{},
		completer: &fakeCompleter{},
		metrics:   m,
	}
	h.engine = NewEngine(cfg, Deps{
		Store:     h.store,
		Gateway:   h.gateway,
		Metrics:   m,
		Log:       testLogger(),
		Clock:     h.clock,
		Completer: h.completer,
	})
	h.addTask(t, "task-1", "user-1")
	return h
}

func (h *harness) addTask(t *testing.T, taskID, userID string) {
	t.Helper()
	_, err := h.engine.SyncTask(t.Context(), entities.TaskState{
		TaskID:    taskID,
		UserID:    userID,
		Title:     "Buy milk",
		PlaceName: "Corner Shop",
		Status:    entities.TaskActive,
	})
	require.NoError(t, err)
}

func (h *harness) record(t *testing.T, id string) *entities.NotificationRecord {
	t.Helper()
	r, err := h.store.GetNotification(t.Context(), id)
	require.NoError(t, err)
	return r
}

// report builds a client-scored report for task-1.
func report(eventType, tier string, confidence float64) GeofenceReport {
	return GeofenceReport{
		UserID:     "user-1",
		TaskID:     "task-1",
		GeofenceID: "geo-1",
		EventType:  eventType,
		Tier:       tier,
		Latitude:   60.1699,
		Longitude:  24.9384,
		Confidence: &confidence,
	}
}

// accept reports an arrival and returns the created notification id.
func (h *harness) accept(t *testing.T, r GeofenceReport) string {
	t.Helper()
	res, err := h.engine.ReportGeofenceEvent(t.Context(), r)
	require.NoError(t, err)
	require.Equal(t, DispositionAccepted, res.Disposition, "reason: %s", res.Reason)
	require.NotEmpty(t, res.NotificationID)
	return res.NotificationID
}

func ptr[T any](v T) *T { return &v }
