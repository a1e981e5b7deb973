package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/uivet/uivet/internal/bus"
	"github.com/uivet/uivet/internal/result"
	"github.com/uivet/uivet/internal/spec"
	"github.com/uivet/uivet/internal/state"
	"github.com/uivet/uivet/internal/visual"
)

// execute runs one dequeued test through running, analysis and cleanup.
// Everything that can go wrong inside the run is captured into its
// TestResult; nothing propagates out of here.
func (s *scheduler) execute(test *spec.Test) {
	exec := s.executionCfg()

	runCtx, cancel := context.WithTimeout(s.rootCtx, exec.TotalTimeout())
	defer cancel()

	log := s.log.WithFields(logrus.Fields{
		"test_id": test.ID,
		"name":    test.Name,
	})
	log.Info("Test started")

	started := time.Now()

	s.publish(bus.MessageTestUpdate, bus.TestUpdatePayload{TestID: test.ID, Status: "running"})
	s.publishStatus()

	var (
		steps       []result.StepResult
		visualRes   *result.VisualAnalysis
		perf        *result.PerformanceMetrics
		lastShotRef string
		runErr      error
	)

	assertions := test.Automation.Assertions
	if assertions == nil {
		// Intake validation requires assertions, but the queue itself
		// does not revalidate; treat a bare spec as all-off.
		assertions = &spec.Assertions{}
	}

	for i := range test.Automation.Steps {
		step := test.Automation.Steps[i]

		if runCtx.Err() != nil {
			steps = append(steps, result.StepResult{
				Status: result.StatusFail,
				Action: string(step.Action),
				Error:  "total timeout exceeded",
			})

			break
		}

		stepRes, err := s.runStep(runCtx, exec, step, test.Target.URL)
		if err != nil {
			runErr = err

			log.WithError(err).Error("Backend failure outside step execution")

			break
		}

		steps = append(steps, *stepRes)

		if stepRes.Status != result.StatusPass {
			log.WithFields(logrus.Fields{
				"step":   i,
				"action": step.Action,
			}).Warn("Step failed, aborting remaining steps")

			break
		}

		if assertions.Visual {
			visualRes, lastShotRef = s.visualCheck(runCtx, exec, test, visualRes, lastShotRef)
		}
	}

	// A spec with no steps still gets one visual pass when asked for.
	if assertions.Visual && runErr == nil && len(test.Automation.Steps) == 0 {
		visualRes, lastShotRef = s.visualCheck(runCtx, exec, test, visualRes, lastShotRef)
	}

	s.setPhase(state.PhaseAnalysis)

	if runErr == nil {
		if assertions.Performance {
			perf = s.collectMetrics(runCtx, exec, test.Target.URL)
		}

		if assertions.Visual && test.Visual.Screenshots != nil && lastShotRef != "" {
			visualRes = s.compareBaseline(runCtx, exec, test, visualRes, lastShotRef)
		}
	}

	s.setPhase(state.PhaseCleanup)
	s.finalize(test, started, steps, perf, visualRes, runErr)
}

// runStep executes one automation step under the automation deadline.
// Deadline and cancellation failures belong to the step, not the run;
// any other backend error means the backend itself is unusable.
func (s *scheduler) runStep(ctx context.Context, exec state.ExecutionConfig, step spec.AutomationStep, targetURL string) (*result.StepResult, error) {
	stepCtx, cancel := context.WithTimeout(ctx, exec.AutomationTimeout())
	defer cancel()

	res, err := s.backend.ExecuteStep(stepCtx, step, targetURL)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return &result.StepResult{
				Status: result.StatusFail,
				Action: string(step.Action),
				Error:  err.Error(),
			}, nil
		}

		return nil, err
	}

	return res, nil
}

// visualCheck captures the page, stores the image and asks the oracle
// for a verdict. Each successful analysis replaces the previous one, so
// a run's result carries only the last verdict. Every failure along the
// way is contained: the previous analysis and reference survive.
func (s *scheduler) visualCheck(ctx context.Context, exec state.ExecutionConfig, test *spec.Test, prev *result.VisualAnalysis, prevRef string) (*result.VisualAnalysis, string) {
	log := s.log.WithField("test_id", test.ID)

	capCtx, capCancel := context.WithTimeout(ctx, exec.AutomationTimeout())
	data, err := s.backend.CaptureScreenshot(capCtx, test.Target.URL, "")

	capCancel()

	if err != nil {
		log.WithError(err).Debug("Screenshot capture failed")

		return prev, prevRef
	}

	ref, err := s.oracle.StoreScreenshot(ctx, data, test.ID)
	if err != nil {
		log.WithError(err).Warn("Screenshot storage failed")

		return prev, prevRef
	}

	shot := state.Screenshot{
		ID:        uuid.New().String(),
		TestID:    test.ID,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Metadata:  s.cfg.Capture,
	}

	if err := s.AddScreenshot(shot); err != nil {
		log.WithError(err).Warn("Recording screenshot in session state failed")
	}

	anCtx, anCancel := context.WithTimeout(ctx, exec.VisualTimeout())
	analysis, err := s.oracle.Analyze(anCtx, ref, test.Visual.Instructions, test.Visual.Expectations)

	anCancel()

	if err != nil {
		log.WithError(err).Debug("Visual analysis unavailable")

		return prev, ref
	}

	analysis.Scores = visual.ClampScores(analysis.Scores)

	return analysis, ref
}

// collectMetrics gathers the run's single performance bundle. A
// collection failure is recorded as an empty bundle with one network
// failure, never as a failed run.
func (s *scheduler) collectMetrics(ctx context.Context, exec state.ExecutionConfig, targetURL string) *result.PerformanceMetrics {
	mCtx, cancel := context.WithTimeout(ctx, exec.AutomationTimeout())
	defer cancel()

	metrics, err := s.backend.CollectMetrics(mCtx, targetURL)
	if err != nil {
		s.log.WithError(err).Warn("Metrics collection failed, recording empty bundle")

		metrics = result.EmptyMetrics()
		metrics.Network.Failures = 1
	}

	return metrics
}

// compareBaseline checks the run's final screenshot against the
// configured baseline. A mismatch surfaces as a major visual issue on
// the analysis; comparison failures are contained.
func (s *scheduler) compareBaseline(ctx context.Context, exec state.ExecutionConfig, test *spec.Test, analysis *result.VisualAnalysis, currentRef string) *result.VisualAnalysis {
	baseline := test.Visual.Screenshots

	cmpCtx, cancel := context.WithTimeout(ctx, exec.VisualTimeout())
	defer cancel()

	verdict, err := s.oracle.Compare(cmpCtx, baseline.Baseline, currentRef, baseline.Tolerance)
	if err != nil {
		s.log.WithError(err).Debug("Baseline comparison unavailable")

		return analysis
	}

	if verdict.Matches {
		return analysis
	}

	if analysis == nil {
		analysis = &result.VisualAnalysis{
			Observations: []string{},
			Issues:       []result.VisualIssue{},
		}
	}

	description := "Current page diverges from baseline screenshot"
	if len(verdict.Differences) > 0 {
		description = fmt.Sprintf("%s: %s", description, strings.Join(verdict.Differences, "; "))
	}

	analysis.Issues = append(analysis.Issues, result.VisualIssue{
		Severity:       result.SeverityMajor,
		Description:    description,
		Recommendation: "Review the visual changes against the baseline and update it if they are intended",
		Location: result.IssueLocation{
			Screenshot: currentRef,
		},
	})

	return analysis
}

// finalize closes out a run: the result is appended, the test moves to
// its terminal list, analytics fold in the outcome, and the phase
// returns to setup so the loop can dequeue again.
func (s *scheduler) finalize(test *spec.Test, started time.Time, steps []result.StepResult, perf *result.PerformanceMetrics, visualRes *result.VisualAnalysis, runErr error) {
	res := s.agg.BuildResult(test.ID, started, steps, perf, visualRes, runErr)

	s.mu.Lock()

	s.snap.Results = append(s.snap.Results, *res.Clone())
	s.snap.History = append(s.snap.History, *res.Clone())

	s.snap.Queue.Running = removeTest(s.snap.Queue.Running, test.ID)

	if res.Status == result.StatusPass {
		s.snap.Queue.Completed = append(s.snap.Queue.Completed, *test.Clone())
	} else {
		s.snap.Queue.Failed = append(s.snap.Queue.Failed, *test.Clone())
	}

	s.agg.UpdateAnalytics(&s.snap.Analytics, res, len(s.snap.Queue.Completed), s.snap.Results)

	s.snap.Phase = state.PhaseSetup
	s.snap.CurrentTest = nil

	err := s.persistLocked()

	s.mu.Unlock()

	if err != nil {
		s.log.WithError(err).Error("Persisting run outcome failed")
	}

	s.publish(bus.MessageTestUpdate, bus.TestUpdatePayload{
		TestID: test.ID,
		Status: string(res.Status),
	})
	s.publishStatus()

	s.log.WithFields(logrus.Fields{
		"test_id":  test.ID,
		"status":   res.Status,
		"duration": res.Duration,
	}).Info("Test finished")
}

func (s *scheduler) executionCfg() state.ExecutionConfig {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.snap.Execution
}

func removeTest(tests []spec.Test, id string) []spec.Test {
	out := tests[:0]

	for _, t := range tests {
		if t.ID != id {
			out = append(out, t)
		}
	}

	return out
}
