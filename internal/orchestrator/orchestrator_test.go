package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uivet/uivet/internal/automation"
	"github.com/uivet/uivet/internal/bus"
	"github.com/uivet/uivet/internal/result"
	"github.com/uivet/uivet/internal/scheduler"
	"github.com/uivet/uivet/internal/spec"
	"github.com/uivet/uivet/internal/state"
	"github.com/uivet/uivet/internal/visual"
)

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) record(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, event)
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]string, len(r.events))
	copy(out, r.events)

	return out
}

type fakeScheduler struct {
	rec        *recorder
	enqueueErr error

	mu          sync.Mutex
	enqueued    []*spec.Test
	screenshots []state.Screenshot
	evictions   int
}

func (f *fakeScheduler) Start(context.Context) error { f.rec.record("scheduler.start"); return nil }

func (f *fakeScheduler) Stop() error { f.rec.record("scheduler.stop"); return nil }

func (f *fakeScheduler) Enqueue(test *spec.Test) error {
	if f.enqueueErr != nil {
		return f.enqueueErr
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.enqueued = append(f.enqueued, test)

	return nil
}

func (f *fakeScheduler) Snapshot() (*state.Snapshot, error) {
	return state.NewSnapshot(state.ExecutionConfig{}, state.ConcurrencyConfig{}), nil
}

func (f *fakeScheduler) AddScreenshot(shot state.Screenshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.screenshots = append(f.screenshots, shot)

	return nil
}

func (f *fakeScheduler) EvictScreenshots(time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.evictions++

	return 0, nil
}

func (f *fakeScheduler) evictionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.evictions
}

type fakeComponent struct {
	rec  *recorder
	name string
}

func (f *fakeComponent) Start(context.Context) error { f.rec.record(f.name + ".start"); return nil }

func (f *fakeComponent) Stop() error { f.rec.record(f.name + ".stop"); return nil }

type fakeBackend struct{ fakeComponent }

func (f *fakeBackend) ExecuteStep(context.Context, spec.AutomationStep, string) (*result.StepResult, error) {
	return &result.StepResult{Status: result.StatusPass}, nil
}

func (f *fakeBackend) CaptureScreenshot(context.Context, string, string) (string, error) {
	return "", nil
}

func (f *fakeBackend) CollectMetrics(context.Context, string) (*result.PerformanceMetrics, error) {
	return result.EmptyMetrics(), nil
}

type fakeOracle struct {
	fakeComponent

	mu        sync.Mutex
	evictions int
}

func (f *fakeOracle) StoreScreenshot(context.Context, string, string) (string, error) {
	return "ref", nil
}

func (f *fakeOracle) Analyze(context.Context, string, string, spec.Expectations) (*result.VisualAnalysis, error) {
	return nil, visual.ErrOracleUnavailable
}

func (f *fakeOracle) Compare(context.Context, string, string, float64) (*visual.CompareResult, error) {
	return nil, visual.ErrOracleUnavailable
}

func (f *fakeOracle) EvictStale(time.Duration) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.evictions++

	return 0, nil
}

func (f *fakeOracle) evictionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.evictions
}

type fakeHub struct {
	fakeComponent

	mu        sync.Mutex
	published []*bus.Message
}

func (f *fakeHub) Publish(msg *bus.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.published = append(f.published, msg)
}

func (f *fakeHub) Handler() http.Handler {
	return http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
}

func (f *fakeHub) SubscriberCount() int { return 0 }

func (f *fakeHub) publishedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return len(f.published)
}

var (
	_ scheduler.Scheduler = (*fakeScheduler)(nil)
	_ automation.Backend  = (*fakeBackend)(nil)
	_ visual.Oracle       = (*fakeOracle)(nil)
	_ bus.Hub             = (*fakeHub)(nil)
)

type fixture struct {
	orch    *Orchestrator
	sched   *fakeScheduler
	backend *fakeBackend
	oracle  *fakeOracle
	hub     *fakeHub
	rec     *recorder
}

func newFixture(mods ...func(*Config)) *fixture {
	rec := &recorder{}
	sched := &fakeScheduler{rec: rec}
	backend := &fakeBackend{fakeComponent{rec: rec, name: "backend"}}
	oracle := &fakeOracle{fakeComponent: fakeComponent{rec: rec, name: "oracle"}}
	hub := &fakeHub{fakeComponent: fakeComponent{rec: rec, name: "hub"}}

	cfg := &Config{
		Logger:    newTestLogger(),
		Scheduler: sched,
		Backend:   backend,
		Oracle:    oracle,
		Hub:       hub,
	}

	for _, mod := range mods {
		mod(cfg)
	}

	return &fixture{
		orch:    New(cfg),
		sched:   sched,
		backend: backend,
		oracle:  oracle,
		hub:     hub,
		rec:     rec,
	}
}

func TestStartStopOrder(t *testing.T) {
	t.Parallel()

	f := newFixture()

	require.NoError(t, f.orch.Start(context.Background()))
	require.NoError(t, f.orch.Stop())

	assert.Equal(t, []string{
		"backend.start",
		"oracle.start",
		"hub.start",
		"scheduler.start",
		"scheduler.stop",
		"hub.stop",
		"oracle.stop",
		"backend.stop",
	}, f.rec.snapshot())
}

func TestQueueTestAssignsID(t *testing.T) {
	t.Parallel()

	f := newFixture()

	id, err := f.orch.QueueTest(&spec.Test{Name: "landing page"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Len(t, f.sched.enqueued, 1)
	assert.Equal(t, id, f.sched.enqueued[0].ID)
}

func TestQueueTestKeepsExistingID(t *testing.T) {
	t.Parallel()

	f := newFixture()

	id, err := f.orch.QueueTest(&spec.Test{ID: "preset", Name: "landing page"})
	require.NoError(t, err)
	assert.Equal(t, "preset", id)
}

func TestQueueTestPropagatesError(t *testing.T) {
	t.Parallel()

	f := newFixture()
	f.sched.enqueueErr = errors.New("queue full")

	_, err := f.orch.QueueTest(&spec.Test{Name: "landing page"})
	require.Error(t, err)
}

func TestAddScreenshotStampsIdentity(t *testing.T) {
	t.Parallel()

	f := newFixture()

	metadata := state.ScreenshotMetadata{
		Viewport: state.Viewport{Width: 1280, Height: 720},
		Browser:  "chrome",
	}

	id, err := f.orch.AddScreenshot("t-1", "aGVsbG8=", metadata)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	require.Len(t, f.sched.screenshots, 1)
	shot := f.sched.screenshots[0]

	assert.Equal(t, id, shot.ID)
	assert.Equal(t, "t-1", shot.TestID)
	assert.False(t, shot.Timestamp.IsZero())
	assert.Equal(t, metadata, shot.Metadata)
}

func TestBroadcastPublishesValidMessage(t *testing.T) {
	t.Parallel()

	f := newFixture()

	id, err := f.orch.Broadcast([]byte(`{"type":"log","payload":{"level":"info","message":"hi"}}`))
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, f.hub.publishedCount())
}

func TestBroadcastRejectsInvalidMessage(t *testing.T) {
	t.Parallel()

	f := newFixture()

	_, err := f.orch.Broadcast([]byte(`{"type":"nope","payload":{}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, bus.ErrInvalidMessage)
	assert.Zero(t, f.hub.publishedCount())
}

func TestHousekeepingEvictsBothStores(t *testing.T) {
	t.Parallel()

	f := newFixture(func(cfg *Config) {
		cfg.GCInterval = 20 * time.Millisecond
	})

	require.NoError(t, f.orch.Start(context.Background()))
	t.Cleanup(func() { _ = f.orch.Stop() })

	require.Eventually(t, func() bool {
		return f.oracle.evictionCount() > 0 && f.sched.evictionCount() > 0
	}, 2*time.Second, 10*time.Millisecond)
}
