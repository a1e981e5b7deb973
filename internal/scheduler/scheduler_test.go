package scheduler

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/uivet/uivet/internal/automation"
	"github.com/uivet/uivet/internal/bus"
	"github.com/uivet/uivet/internal/result"
	"github.com/uivet/uivet/internal/spec"
	"github.com/uivet/uivet/internal/state"
	"github.com/uivet/uivet/internal/visual"
)

var (
	_ automation.Backend = (*fakeBackend)(nil)
	_ visual.Oracle      = (*fakeOracle)(nil)
)

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

type fakeBackend struct {
	mu         sync.Mutex
	executed   []string
	failTarget string
	execErr    error
	blockCh    chan struct{}
	metricsErr error
}

func (f *fakeBackend) Start(context.Context) error { return nil }

func (f *fakeBackend) Stop() error { return nil }

func (f *fakeBackend) ExecuteStep(ctx context.Context, step spec.AutomationStep, targetURL string) (*result.StepResult, error) {
	f.mu.Lock()
	f.executed = append(f.executed, targetURL)
	execErr := f.execErr
	failTarget := f.failTarget
	block := f.blockCh
	f.mu.Unlock()

	if execErr != nil {
		return nil, execErr
	}

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	res := &result.StepResult{Status: result.StatusPass, Action: string(step.Action), Duration: 1}

	if failTarget != "" && step.Target == failTarget {
		res.Status = result.StatusFail
		res.Error = fmt.Sprintf("no element matches selector %q", step.Target)
	}

	return res, nil
}

func (f *fakeBackend) CaptureScreenshot(context.Context, string, string) (string, error) {
	return base64.StdEncoding.EncodeToString([]byte("png")), nil
}

func (f *fakeBackend) CollectMetrics(context.Context, string) (*result.PerformanceMetrics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.metricsErr != nil {
		return nil, f.metricsErr
	}

	metrics := result.EmptyMetrics()
	metrics.Performance = result.PagePerformance{FCP: 120, LCP: 340, CLS: 0.02}
	metrics.Network.Requests = 5

	return metrics, nil
}

func (f *fakeBackend) executedTargets() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, len(f.executed))
	copy(out, f.executed)

	return out
}

type fakeOracle struct {
	mu         sync.Mutex
	stored     int
	analyses   int
	analyzeErr error
	compareRes *visual.CompareResult
	compareErr error
}

func (f *fakeOracle) Start(context.Context) error { return nil }

func (f *fakeOracle) Stop() error { return nil }

func (f *fakeOracle) StoreScreenshot(context.Context, string, string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.stored++

	return fmt.Sprintf("ref-%d", f.stored), nil
}

func (f *fakeOracle) Analyze(context.Context, string, string, spec.Expectations) (*result.VisualAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.analyzeErr != nil {
		return nil, f.analyzeErr
	}

	f.analyses++

	return &result.VisualAnalysis{
		Observations: []string{fmt.Sprintf("analysis-%d", f.analyses)},
		Issues:       []result.VisualIssue{},
		Scores:       result.Scores{Layout: 90, Accessibility: 85, Overall: 88},
	}, nil
}

func (f *fakeOracle) Compare(context.Context, string, string, float64) (*visual.CompareResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.compareErr != nil {
		return nil, f.compareErr
	}

	if f.compareRes != nil {
		return f.compareRes, nil
	}

	return &visual.CompareResult{Matches: true, Differences: []string{}}, nil
}

func (f *fakeOracle) EvictStale(time.Duration) (int, error) { return 0, nil }

type harness struct {
	sched     Scheduler
	backend   *fakeBackend
	oracle    *fakeOracle
	statePath string
}

func defaultConfig() Config {
	return Config{
		Execution: state.ExecutionConfig{
			VisualTimeoutMs:     5000,
			AutomationTimeoutMs: 5000,
			TotalTimeoutMs:      10000,
			Retries:             state.RetryConfig{Count: 2, Backoff: state.BackoffExponential},
		},
		Concurrency: state.ConcurrencyConfig{MaxParallel: 2, PerBrowser: 1},
		Capture: state.ScreenshotMetadata{
			Viewport: state.Viewport{Width: 1920, Height: 1080},
			Browser:  "chrome",
		},
	}
}

func newHarness(t *testing.T, mods ...func(*Config)) *harness {
	t.Helper()

	cfg := defaultConfig()
	for _, mod := range mods {
		mod(&cfg)
	}

	log := newTestLogger()
	statePath := filepath.Join(t.TempDir(), "test-state.json")
	backend := &fakeBackend{}
	oracle := &fakeOracle{}

	sched := New(log, cfg, state.NewFileStore(log, statePath), backend, oracle, result.NewAggregator(log), bus.NewHub(log))

	return &harness{
		sched:     sched,
		backend:   backend,
		oracle:    oracle,
		statePath: statePath,
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()

	require.NoError(t, h.sched.Start(context.Background()))
	t.Cleanup(func() { _ = h.sched.Stop() })
}

// waitDone blocks until the queue is idle with the given number of
// terminal tests.
func waitDone(t *testing.T, sched Scheduler, done int) *state.Snapshot {
	t.Helper()

	var snap *state.Snapshot

	require.Eventually(t, func() bool {
		var err error

		snap, err = sched.Snapshot()
		if err != nil {
			return false
		}

		return snap.Phase == state.PhaseSetup &&
			len(snap.Queue.Pending) == 0 &&
			len(snap.Queue.Running) == 0 &&
			len(snap.Queue.Completed)+len(snap.Queue.Failed) == done
	}, 5*time.Second, 10*time.Millisecond)

	return snap
}

func queuedTest(id, url string, steps ...spec.AutomationStep) *spec.Test {
	return &spec.Test{
		ID:     id,
		Name:   "test " + id,
		Target: spec.Target{URL: url},
		Visual: spec.VisualSpec{Instructions: "check the layout"},
		Automation: spec.AutomationSpec{
			Steps:      steps,
			Assertions: &spec.Assertions{Functional: true},
		},
	}
}

func clickStep(target string) spec.AutomationStep {
	return spec.AutomationStep{Action: spec.ActionClick, Target: target}
}

func TestStartWritesThroughFreshState(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	_, err := os.Stat(h.statePath)
	require.NoError(t, err)

	snap, err := h.sched.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, state.PhaseSetup, snap.Phase)
	assert.Empty(t, snap.Queue.Pending)
	assert.Equal(t, int64(10000), snap.Execution.TotalTimeoutMs)
}

func TestEnqueueBeforeStart(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	err := h.sched.Enqueue(queuedTest("t-1", "https://example.com"))
	require.Error(t, err)

	_, err = h.sched.Snapshot()
	require.Error(t, err)
}

func TestTestsExecuteInEnqueueOrder(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	urls := []string{
		"https://example.com/a",
		"https://example.com/b",
		"https://example.com/c",
	}

	for i, url := range urls {
		require.NoError(t, h.sched.Enqueue(queuedTest(fmt.Sprintf("t-%d", i), url, clickStep("#go"))))
	}

	snap := waitDone(t, h.sched, 3)

	assert.Equal(t, urls, h.backend.executedTargets())
	assert.Len(t, snap.Queue.Completed, 3)
	assert.Len(t, snap.Results, 3)
}

func TestSecondTestWaitsForFirst(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.backend.blockCh = make(chan struct{})
	h.start(t)

	first := queuedTest("t-1", "https://example.com/1", clickStep("#a"))
	second := queuedTest("t-2", "https://example.com/2", clickStep("#b"))

	require.NoError(t, h.sched.Enqueue(first))
	require.NoError(t, h.sched.Enqueue(second))

	require.Eventually(t, func() bool {
		snap, err := h.sched.Snapshot()

		return err == nil && len(snap.Queue.Running) == 1 && snap.Queue.Running[0].ID == "t-1"
	}, 5*time.Second, 10*time.Millisecond)

	snap, err := h.sched.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, state.PhaseRunning, snap.Phase)
	require.Len(t, snap.Queue.Pending, 1)
	assert.Equal(t, "t-2", snap.Queue.Pending[0].ID)
	require.NotNil(t, snap.CurrentTest)
	assert.Equal(t, "t-1", snap.CurrentTest.ID)

	// Only the first test has touched the backend so far.
	assert.Equal(t, []string{"https://example.com/1"}, h.backend.executedTargets())

	close(h.backend.blockCh)

	waitDone(t, h.sched, 2)

	assert.Equal(t, []string{"https://example.com/1", "https://example.com/2"}, h.backend.executedTargets())
}

func TestFailingSelectorFailsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.backend.failTarget = "#missing"
	h.start(t)

	require.NoError(t, h.sched.Enqueue(queuedTest("t-1", "https://example.com", clickStep("#missing"))))

	snap := waitDone(t, h.sched, 1)

	require.Len(t, snap.Results, 1)
	res := snap.Results[0]

	assert.Equal(t, result.StatusFail, res.Status)
	require.Len(t, res.Automation.Steps, 1)
	assert.Equal(t, result.StatusFail, res.Automation.Steps[0].Status)
	assert.Equal(t, "click", res.Automation.Steps[0].Action)
	assert.NotEmpty(t, res.Automation.Steps[0].Error)

	require.Len(t, snap.Queue.Failed, 1)
	assert.Equal(t, "t-1", snap.Queue.Failed[0].ID)
	assert.Empty(t, snap.Queue.Completed)
}

func TestStepFailureAbortsRemainingSteps(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.backend.failTarget = "#second"
	h.start(t)

	test := queuedTest("t-1", "https://example.com",
		clickStep("#first"),
		clickStep("#second"),
		clickStep("#third"),
	)

	require.NoError(t, h.sched.Enqueue(test))

	snap := waitDone(t, h.sched, 1)

	require.Len(t, snap.Results, 1)
	res := snap.Results[0]

	assert.Equal(t, result.StatusFail, res.Status)
	require.Len(t, res.Automation.Steps, 2)
	assert.Equal(t, result.StatusPass, res.Automation.Steps[0].Status)
	assert.Equal(t, result.StatusFail, res.Automation.Steps[1].Status)

	// The third step never reached the backend.
	assert.Len(t, h.backend.executedTargets(), 2)
}

func TestMetricsFailureDoesNotAbortRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.backend.metricsErr = context.DeadlineExceeded
	h.start(t)

	test := queuedTest("t-1", "https://example.com", clickStep("#go"))
	test.Automation.Assertions.Performance = true

	require.NoError(t, h.sched.Enqueue(test))

	snap := waitDone(t, h.sched, 1)

	require.Len(t, snap.Results, 1)
	res := snap.Results[0]

	assert.Equal(t, result.StatusPass, res.Status)

	require.NotNil(t, res.Automation.Performance)
	perf := res.Automation.Performance
	assert.Zero(t, perf.Performance.FCP)
	assert.Zero(t, perf.Performance.LCP)
	assert.Zero(t, perf.Performance.CLS)
	assert.Equal(t, 1, perf.Network.Failures)
}

func TestMetricsCollectedOncePerRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	test := queuedTest("t-1", "https://example.com", clickStep("#go"))
	test.Automation.Assertions.Performance = true

	require.NoError(t, h.sched.Enqueue(test))

	snap := waitDone(t, h.sched, 1)

	require.Len(t, snap.Results, 1)
	perf := snap.Results[0].Automation.Performance
	require.NotNil(t, perf)
	assert.Equal(t, 120.0, perf.Performance.FCP)
	assert.Equal(t, 5, perf.Network.Requests)
}

func TestPassRateExact(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.backend.failTarget = "#broken"
	h.start(t)

	require.NoError(t, h.sched.Enqueue(queuedTest("t-1", "https://example.com/1", clickStep("#ok"))))
	require.NoError(t, h.sched.Enqueue(queuedTest("t-2", "https://example.com/2", clickStep("#broken"))))
	require.NoError(t, h.sched.Enqueue(queuedTest("t-3", "https://example.com/3", clickStep("#ok"))))
	require.NoError(t, h.sched.Enqueue(queuedTest("t-4", "https://example.com/4", clickStep("#broken"))))

	snap := waitDone(t, h.sched, 4)

	assert.Equal(t, 4, snap.Analytics.TotalRuns)
	assert.Equal(t, 50.0, snap.Analytics.PassRate)
	assert.Len(t, snap.Queue.Completed, 2)
	assert.Len(t, snap.Queue.Failed, 2)
}

func TestQueueListsStayDisjoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.backend.failTarget = "#broken"
	h.start(t)

	require.NoError(t, h.sched.Enqueue(queuedTest("t-1", "https://example.com/1", clickStep("#ok"))))
	require.NoError(t, h.sched.Enqueue(queuedTest("t-2", "https://example.com/2", clickStep("#broken"))))

	snap := waitDone(t, h.sched, 2)

	seen := map[string]int{}

	for _, list := range [][]spec.Test{snap.Queue.Pending, snap.Queue.Running, snap.Queue.Completed, snap.Queue.Failed} {
		for _, item := range list {
			seen[item.ID]++
		}
	}

	assert.Equal(t, map[string]int{"t-1": 1, "t-2": 1}, seen)
}

func TestVisualAnalysisReplacedPerStep(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	test := queuedTest("t-1", "https://example.com",
		clickStep("#a"),
		clickStep("#b"),
		clickStep("#c"),
	)
	test.Automation.Assertions.Visual = true

	require.NoError(t, h.sched.Enqueue(test))

	snap := waitDone(t, h.sched, 1)

	require.Len(t, snap.Results, 1)
	res := snap.Results[0]

	require.NotNil(t, res.Visual)
	assert.Equal(t, []string{"analysis-3"}, res.Visual.Observations)
	assert.Equal(t, result.Scores{Layout: 90, Accessibility: 85, Overall: 88}, res.Visual.Scores)

	// One screenshot per passed step landed in session state.
	assert.Len(t, snap.Screenshots, 3)
	assert.Equal(t, "chrome", snap.Screenshots[0].Metadata.Browser)
}

func TestVisualAnalysisUnavailableIsContained(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.oracle.analyzeErr = visual.ErrOracleUnavailable
	h.start(t)

	test := queuedTest("t-1", "https://example.com", clickStep("#go"))
	test.Automation.Assertions.Visual = true

	require.NoError(t, h.sched.Enqueue(test))

	snap := waitDone(t, h.sched, 1)

	require.Len(t, snap.Results, 1)
	res := snap.Results[0]

	assert.Equal(t, result.StatusPass, res.Status)
	assert.Nil(t, res.Visual)

	// The capture itself still happened and was retained.
	assert.Len(t, snap.Screenshots, 1)
}

func TestBaselineMismatchRecordsIssue(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.oracle.compareRes = &visual.CompareResult{
		Matches:     false,
		Differences: []string{"header shifted"},
	}
	h.start(t)

	test := queuedTest("t-1", "https://example.com", clickStep("#go"))
	test.Automation.Assertions.Visual = true
	test.Visual.Screenshots = &spec.BaselineSpec{Baseline: "baseline-1", Tolerance: 0.1}

	require.NoError(t, h.sched.Enqueue(test))

	snap := waitDone(t, h.sched, 1)

	require.Len(t, snap.Results, 1)
	res := snap.Results[0]

	require.NotNil(t, res.Visual)
	require.Len(t, res.Visual.Issues, 1)

	issue := res.Visual.Issues[0]
	assert.Equal(t, result.SeverityMajor, issue.Severity)
	assert.Contains(t, issue.Description, "header shifted")
	assert.Equal(t, "ref-1", issue.Location.Screenshot)

	found := false

	for description := range snap.Analytics.CommonIssues {
		if strings.Contains(description, "header shifted") {
			found = true
		}
	}

	assert.True(t, found, "baseline issue should be counted in common issues")
}

func TestStrandedRunningTestsRequeued(t *testing.T) {
	t.Parallel()

	log := newTestLogger()
	cfg := defaultConfig()
	statePath := filepath.Join(t.TempDir(), "test-state.json")
	store := state.NewFileStore(log, statePath)

	stranded := queuedTest("t-1", "https://example.com/1", clickStep("#a"))
	waiting := queuedTest("t-2", "https://example.com/2", clickStep("#b"))

	snap := state.NewSnapshot(cfg.Execution, cfg.Concurrency)
	snap.Queue.Running = append(snap.Queue.Running, *stranded)
	snap.Queue.Pending = append(snap.Queue.Pending, *waiting)
	snap.Phase = state.PhaseRunning
	snap.CurrentTest = stranded.Clone()

	require.NoError(t, store.Save(context.Background(), snap))

	backend := &fakeBackend{}
	sched := New(log, cfg, store, backend, &fakeOracle{}, result.NewAggregator(log), bus.NewHub(log))

	require.NoError(t, sched.Start(context.Background()))
	t.Cleanup(func() { _ = sched.Stop() })

	final := waitDone(t, sched, 2)

	// The stranded test ran again, ahead of the one that was waiting.
	assert.Equal(t, []string{"https://example.com/1", "https://example.com/2"}, backend.executedTargets())
	assert.Len(t, final.Queue.Completed, 2)
}

func TestTotalTimeoutFailsRun(t *testing.T) {
	t.Parallel()

	h := newHarness(t, func(cfg *Config) {
		cfg.Execution.TotalTimeoutMs = 100
	})
	h.backend.blockCh = make(chan struct{})
	h.start(t)

	require.NoError(t, h.sched.Enqueue(queuedTest("t-1", "https://example.com", clickStep("#slow"))))

	snap := waitDone(t, h.sched, 1)

	require.Len(t, snap.Results, 1)
	res := snap.Results[0]

	assert.Equal(t, result.StatusFail, res.Status)
	require.Len(t, res.Automation.Steps, 1)
	assert.Equal(t, result.StatusFail, res.Automation.Steps[0].Status)
	assert.Contains(t, res.Automation.Steps[0].Error, "deadline")
}

func TestBackendFailureOutsideStepIsRunError(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.backend.execErr = errors.New("browser crashed")
	h.start(t)

	require.NoError(t, h.sched.Enqueue(queuedTest("t-1", "https://example.com", clickStep("#go"))))

	snap := waitDone(t, h.sched, 1)

	require.Len(t, snap.Results, 1)
	res := snap.Results[0]

	assert.Equal(t, result.StatusError, res.Status)
	assert.Empty(t, res.Automation.Steps)

	require.Len(t, snap.Queue.Failed, 1)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	require.NoError(t, h.sched.Enqueue(queuedTest("t-1", "https://example.com", clickStep("#go"))))
	waitDone(t, h.sched, 1)

	first, err := h.sched.Snapshot()
	require.NoError(t, err)

	first.Queue.Completed[0].Name = "mutated"
	first.Analytics.CommonIssues["injected"] = 99

	second, err := h.sched.Snapshot()
	require.NoError(t, err)

	assert.Equal(t, "test t-1", second.Queue.Completed[0].Name)
	assert.NotContains(t, second.Analytics.CommonIssues, "injected")
}

func TestAddScreenshotPersists(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	shot := state.Screenshot{
		ID:        "shot-1",
		TestID:    "t-1",
		Data:      base64.StdEncoding.EncodeToString([]byte("png")),
		Timestamp: time.Now().UTC(),
		Metadata: state.ScreenshotMetadata{
			Viewport: state.Viewport{Width: 800, Height: 600},
			Browser:  "chrome",
		},
	}

	require.NoError(t, h.sched.AddScreenshot(shot))

	snap, err := h.sched.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Screenshots, 1)
	assert.Equal(t, "shot-1", snap.Screenshots[0].ID)

	// Survives a reload from disk.
	reloaded, err := state.NewFileStore(newTestLogger(), h.statePath).Load(context.Background())
	require.NoError(t, err)
	require.Len(t, reloaded.Screenshots, 1)
	assert.Equal(t, "shot-1", reloaded.Screenshots[0].ID)
}

func TestEvictScreenshots(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.start(t)

	old := state.Screenshot{ID: "old", Timestamp: time.Now().UTC().Add(-25 * time.Hour)}
	fresh := state.Screenshot{ID: "fresh", Timestamp: time.Now().UTC()}

	require.NoError(t, h.sched.AddScreenshot(old))
	require.NoError(t, h.sched.AddScreenshot(fresh))

	evicted, err := h.sched.EvictScreenshots(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, evicted)

	snap, err := h.sched.Snapshot()
	require.NoError(t, err)
	require.Len(t, snap.Screenshots, 1)
	assert.Equal(t, "fresh", snap.Screenshots[0].ID)

	evicted, err = h.sched.EvictScreenshots(24 * time.Hour)
	require.NoError(t, err)
	assert.Zero(t, evicted)
}
