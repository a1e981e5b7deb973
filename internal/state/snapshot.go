// Package state owns the durable orchestrator snapshot and its store.
// The snapshot is the root aggregate: queue lists, execution settings, the
// current-phase pointer and the accumulated results. It is owned
// exclusively by the scheduler and persisted wholesale after every
// mutating operation.
package state

import (
	"time"

	"github.com/uivet/uivet/internal/result"
	"github.com/uivet/uivet/internal/spec"
)

// Phase is the scheduler's position in the run cycle.
type Phase string

// Run phases. Only PhaseSetup admits dequeuing the next test.
const (
	PhaseSetup    Phase = "setup"
	PhaseRunning  Phase = "running"
	PhaseAnalysis Phase = "analysis"
	PhaseCleanup  Phase = "cleanup"
)

// Backoff policies carried by RetryConfig.
const (
	BackoffLinear      = "linear"
	BackoffExponential = "exponential"
)

// QueueState holds the four disjoint work lists. A test identity lives in
// exactly one list at any observation.
type QueueState struct {
	Pending   []spec.Test `json:"pending"`
	Running   []spec.Test `json:"running"`
	Completed []spec.Test `json:"completed"`
	Failed    []spec.Test `json:"failed"`
}

// ConcurrencyConfig is carried in the snapshot but not enforced; execution
// is single-flight. Reserved for a future multi-worker mode.
type ConcurrencyConfig struct {
	MaxParallel int `json:"maxParallel"`
	PerBrowser  int `json:"perBrowser"`
}

// RetryConfig is carried in the snapshot; the scheduler applies no retries
// itself. Navigation retry lives inside the automation backend.
type RetryConfig struct {
	Count   int    `json:"count"`
	Backoff string `json:"backoff"`
}

// ExecutionConfig declares the three run deadlines in milliseconds plus
// the reserved retry policy.
type ExecutionConfig struct {
	VisualTimeoutMs     int64       `json:"visualTimeout"`
	AutomationTimeoutMs int64       `json:"automationTimeout"`
	TotalTimeoutMs      int64       `json:"totalTimeout"`
	Retries             RetryConfig `json:"retries"`
}

// VisualTimeout is the deadline for one analyze or compare call.
func (c ExecutionConfig) VisualTimeout() time.Duration {
	return time.Duration(c.VisualTimeoutMs) * time.Millisecond
}

// AutomationTimeout is the deadline for one step, capture or metrics call.
func (c ExecutionConfig) AutomationTimeout() time.Duration {
	return time.Duration(c.AutomationTimeoutMs) * time.Millisecond
}

// TotalTimeout bounds one whole run including all steps and analysis.
func (c ExecutionConfig) TotalTimeout() time.Duration {
	return time.Duration(c.TotalTimeoutMs) * time.Millisecond
}

// Viewport is a browser viewport size in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ScreenshotMetadata describes how a screenshot was captured.
type ScreenshotMetadata struct {
	Viewport Viewport `json:"viewport"`
	Browser  string   `json:"browser"`
}

// Screenshot is one captured or submitted image. It stays in session state
// and is mirrored to disk by the visual store, which garbage-collects it
// after the retention window independent of test lifecycle.
type Screenshot struct {
	ID        string             `json:"id"`
	TestID    string             `json:"testId"`
	Data      string             `json:"data"`
	Timestamp time.Time          `json:"timestamp"`
	Metadata  ScreenshotMetadata `json:"metadata"`
}

// Snapshot is the root aggregate persisted wholesale after every mutation.
type Snapshot struct {
	Queue       QueueState          `json:"queue"`
	Concurrency ConcurrencyConfig   `json:"concurrency"`
	Execution   ExecutionConfig     `json:"execution"`
	Phase       Phase               `json:"phase"`
	CurrentTest *spec.Test          `json:"currentTest"`
	Screenshots []Screenshot        `json:"screenshots"`
	Results     []result.TestResult `json:"results"`
	History     []result.TestResult `json:"history"`
	Analytics   result.Analytics    `json:"analytics"`
}

// NewSnapshot returns the default snapshot used on first run. Lists are
// initialized non-nil so the persisted JSON carries [] rather than null.
func NewSnapshot(exec ExecutionConfig, conc ConcurrencyConfig) *Snapshot {
	return &Snapshot{
		Queue: QueueState{
			Pending:   []spec.Test{},
			Running:   []spec.Test{},
			Completed: []spec.Test{},
			Failed:    []spec.Test{},
		},
		Concurrency: conc,
		Execution:   exec,
		Phase:       PhaseSetup,
		Screenshots: []Screenshot{},
		Results:     []result.TestResult{},
		History:     []result.TestResult{},
		Analytics:   result.NewAnalytics(),
	}
}

// Clone returns a deep copy safe to hand to readers while the scheduler
// keeps mutating the original.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return nil
	}

	c := *s
	c.Queue = QueueState{
		Pending:   cloneTests(s.Queue.Pending),
		Running:   cloneTests(s.Queue.Running),
		Completed: cloneTests(s.Queue.Completed),
		Failed:    cloneTests(s.Queue.Failed),
	}
	c.CurrentTest = s.CurrentTest.Clone()
	c.Screenshots = cloneScreenshots(s.Screenshots)
	c.Results = cloneResults(s.Results)
	c.History = cloneResults(s.History)
	c.Analytics = s.Analytics.Clone()

	return &c
}

func cloneTests(in []spec.Test) []spec.Test {
	if in == nil {
		return nil
	}
	out := make([]spec.Test, len(in))
	for i := range in {
		out[i] = *in[i].Clone()
	}
	return out
}

func cloneScreenshots(in []Screenshot) []Screenshot {
	if in == nil {
		return nil
	}
	out := make([]Screenshot, len(in))
	copy(out, in)
	return out
}

func cloneResults(in []result.TestResult) []result.TestResult {
	if in == nil {
		return nil
	}
	out := make([]result.TestResult, len(in))
	for i := range in {
		out[i] = *in[i].Clone()
	}
	return out
}
