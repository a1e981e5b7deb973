package result

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Aggregator merges step outcomes, performance metrics and visual findings
// into one TestResult and folds finished runs into the rolling analytics.
// This is a concrete implementation without an interface abstraction.
type Aggregator struct {
	log logrus.FieldLogger
}

// NewAggregator creates a result aggregator.
func NewAggregator(log logrus.FieldLogger) *Aggregator {
	return &Aggregator{
		log: log.WithField("component", "result_aggregator"),
	}
}

// BuildResult produces the terminal record for one run. The status rule is
// deterministic: error when the run broke outside step execution, fail when
// any recorded step failed, pass otherwise.
func (a *Aggregator) BuildResult(
	testID string,
	started time.Time,
	steps []StepResult,
	perf *PerformanceMetrics,
	visual *VisualAnalysis,
	runErr error,
) *TestResult {
	status := StatusPass

	switch {
	case runErr != nil:
		status = StatusError
	default:
		for _, step := range steps {
			if step.Status != StatusPass {
				status = StatusFail
				break
			}
		}
	}

	if steps == nil {
		steps = []StepResult{}
	}

	res := &TestResult{
		ID:        uuid.New().String(),
		TestID:    testID,
		Timestamp: started,
		Duration:  time.Since(started).Milliseconds(),
		Status:    status,
		Visual:    visual,
		Automation: AutomationResults{
			Steps:       steps,
			Performance: perf,
		},
	}

	fields := logrus.Fields{
		"test_id":  testID,
		"status":   status,
		"steps":    len(steps),
		"duration": res.Duration,
	}
	if runErr != nil {
		fields["error"] = runErr.Error()
	}
	a.log.WithFields(fields).Debug("aggregated test result")

	return res
}

// UpdateAnalytics folds one finished run into the rolling aggregate.
// PassRate divides the cumulative completed count by the cumulative run
// count; averageDuration is the mean over the session's result list; issue
// descriptions are counted by exact string match, no normalization.
func (a *Aggregator) UpdateAnalytics(
	analytics *Analytics,
	res *TestResult,
	completedCount int,
	sessionResults []TestResult,
) {
	if analytics.CommonIssues == nil {
		analytics.CommonIssues = make(map[string]int)
	}

	analytics.TotalRuns++
	analytics.PassRate = float64(completedCount) / float64(analytics.TotalRuns) * 100.0

	analytics.AverageDuration = 0
	if len(sessionResults) > 0 {
		var total int64
		for i := range sessionResults {
			total += sessionResults[i].Duration
		}
		analytics.AverageDuration = float64(total) / float64(len(sessionResults))
	}

	if res.Visual != nil {
		for _, issue := range res.Visual.Issues {
			analytics.CommonIssues[issue.Description]++
		}
	}

	a.log.WithFields(logrus.Fields{
		"total_runs": analytics.TotalRuns,
		"pass_rate":  analytics.PassRate,
	}).Debug("updated analytics")
}
