package result

import (
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)
	return log
}

func TestBuildResultStatus(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(newTestLogger())

	tests := []struct {
		name   string
		steps  []StepResult
		runErr error
		want   Status
	}{
		{
			name: "all steps pass",
			steps: []StepResult{
				{Status: StatusPass, Action: "click"},
				{Status: StatusPass, Action: "type"},
			},
			want: StatusPass,
		},
		{
			name: "one step fails",
			steps: []StepResult{
				{Status: StatusPass, Action: "click"},
				{Status: StatusFail, Action: "click", Error: "no such element"},
			},
			want: StatusFail,
		},
		{
			name:  "zero steps pass vacuously",
			steps: nil,
			want:  StatusPass,
		},
		{
			name: "run error wins over passing steps",
			steps: []StepResult{
				{Status: StatusPass, Action: "click"},
			},
			runErr: errors.New("backend not started"),
			want:   StatusError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := agg.BuildResult("test-1", time.Now(), tt.steps, nil, nil, tt.runErr)

			assert.Equal(t, tt.want, res.Status)
			assert.Equal(t, "test-1", res.TestID)
			assert.NotEmpty(t, res.ID)
			assert.NotNil(t, res.Automation.Steps)
			assert.GreaterOrEqual(t, res.Duration, int64(0))
		})
	}
}

func TestBuildResultCarriesSections(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(newTestLogger())

	perf := EmptyMetrics()
	perf.Network.Failures = 1
	visual := &VisualAnalysis{
		Observations: []string{"header renders"},
		Scores:       Scores{Layout: 90, Accessibility: 85, Overall: 88},
	}

	res := agg.BuildResult("test-2", time.Now(), []StepResult{{Status: StatusPass, Action: "wait"}}, perf, visual, nil)

	require.NotNil(t, res.Automation.Performance)
	assert.Equal(t, 1, res.Automation.Performance.Network.Failures)
	require.NotNil(t, res.Visual)
	assert.Equal(t, 90, res.Visual.Scores.Layout)
}

func TestUpdateAnalyticsPassRate(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(newTestLogger())
	analytics := NewAnalytics()

	// Four runs, two passes: pass rate must land on exactly 50.
	outcomes := []Status{StatusPass, StatusFail, StatusPass, StatusError}
	completed := 0
	session := make([]TestResult, 0, len(outcomes))

	for i, status := range outcomes {
		res := TestResult{
			ID:       "run",
			TestID:   "test",
			Status:   status,
			Duration: int64(100 * (i + 1)),
		}
		session = append(session, res)
		if status == StatusPass {
			completed++
		}

		agg.UpdateAnalytics(&analytics, &res, completed, session)
	}

	assert.Equal(t, 4, analytics.TotalRuns)
	assert.InDelta(t, 50.0, analytics.PassRate, 0.000001)
	assert.InDelta(t, 250.0, analytics.AverageDuration, 0.000001)
}

func TestUpdateAnalyticsCountsIssuesByExactDescription(t *testing.T) {
	t.Parallel()

	agg := NewAggregator(newTestLogger())
	analytics := NewAnalytics()

	first := TestResult{
		Status: StatusPass,
		Visual: &VisualAnalysis{
			Issues: []VisualIssue{
				{Severity: SeverityMinor, Description: "low contrast text"},
				{Severity: SeverityMajor, Description: "overlapping buttons"},
			},
		},
	}
	second := TestResult{
		Status: StatusPass,
		Visual: &VisualAnalysis{
			Issues: []VisualIssue{
				{Severity: SeverityMinor, Description: "low contrast text"},
				{Severity: SeverityMinor, Description: "Low contrast text"},
			},
		},
	}

	agg.UpdateAnalytics(&analytics, &first, 1, []TestResult{first})
	agg.UpdateAnalytics(&analytics, &second, 2, []TestResult{first, second})

	assert.Equal(t, 2, analytics.CommonIssues["low contrast text"])
	assert.Equal(t, 1, analytics.CommonIssues["Low contrast text"])
	assert.Equal(t, 1, analytics.CommonIssues["overlapping buttons"])
}

func TestEmptyMetricsShape(t *testing.T) {
	t.Parallel()

	m := EmptyMetrics()

	assert.Zero(t, m.Performance.FCP)
	assert.Zero(t, m.Performance.LCP)
	assert.Zero(t, m.Performance.CLS)
	assert.NotNil(t, m.Console.Errors)
	assert.NotNil(t, m.Console.Warnings)
	assert.Zero(t, m.Network.Requests)
	assert.Zero(t, m.Network.Failures)
}

func TestTestResultCloneIsDeep(t *testing.T) {
	t.Parallel()

	original := &TestResult{
		ID:     "r1",
		TestID: "t1",
		Status: StatusPass,
		Visual: &VisualAnalysis{
			Observations: []string{"fine"},
			Issues:       []VisualIssue{{Description: "nit"}},
		},
		Automation: AutomationResults{
			Steps:       []StepResult{{Status: StatusPass, Action: "click"}},
			Performance: EmptyMetrics(),
		},
	}

	clone := original.Clone()
	require.Equal(t, original, clone)

	clone.Visual.Observations[0] = "changed"
	clone.Automation.Steps[0].Status = StatusFail
	clone.Automation.Performance.Network.Requests = 9

	assert.Equal(t, "fine", original.Visual.Observations[0])
	assert.Equal(t, StatusPass, original.Automation.Steps[0].Status)
	assert.Zero(t, original.Automation.Performance.Network.Requests)
}
