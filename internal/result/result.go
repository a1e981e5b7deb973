// Package result holds the outcome model for one test run and the rolling
// analytics derived from finished runs.
package result

import "time"

// Status classifies step and run outcomes.
type Status string

const (
	// StatusPass means every recorded step passed and nothing broke around them.
	StatusPass Status = "pass"
	// StatusFail means at least one step failed.
	StatusFail Status = "fail"
	// StatusError means the run broke outside step execution.
	StatusError Status = "error"
)

// StepResult is the outcome of one automation step. Immutable once produced.
type StepResult struct {
	Status   Status `json:"status"`
	Action   string `json:"action"`
	Duration int64  `json:"duration"`
	Error    string `json:"error,omitempty"`
}

// PagePerformance carries the core paint and layout metrics. Zero means
// the value was not collected.
type PagePerformance struct {
	FCP float64 `json:"fcp"`
	LCP float64 `json:"lcp"`
	CLS float64 `json:"cls"`
}

// ConsoleActivity lists console errors and warnings in emission order.
type ConsoleActivity struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// NetworkTiming is the connection timing triple in milliseconds.
type NetworkTiming struct {
	DNS  float64 `json:"dns"`
	TCP  float64 `json:"tcp"`
	TTFB float64 `json:"ttfb"`
}

// NetworkActivity counts requests and failures seen during collection.
type NetworkActivity struct {
	Requests int           `json:"requests"`
	Failures int           `json:"failures"`
	Timing   NetworkTiming `json:"timing"`
}

// PerformanceMetrics is the bundle produced at most once per run, when the
// performance assertion is set.
type PerformanceMetrics struct {
	Performance PagePerformance `json:"performance"`
	Console     ConsoleActivity `json:"console"`
	Network     NetworkActivity `json:"network"`
}

// EmptyMetrics returns a zeroed bundle with non-nil lists, used when
// collection was requested but produced nothing.
func EmptyMetrics() *PerformanceMetrics {
	return &PerformanceMetrics{
		Console: ConsoleActivity{
			Errors:   []string{},
			Warnings: []string{},
		},
	}
}

// Severity ranks a visual issue.
type Severity string

// Issue severities.
const (
	SeverityCritical Severity = "critical"
	SeverityMajor    Severity = "major"
	SeverityMinor    Severity = "minor"
)

// Coordinates is a pixel position within a screenshot.
type Coordinates struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// IssueLocation pins an issue to a selector, screenshot and position.
type IssueLocation struct {
	Selector    string      `json:"selector"`
	Screenshot  string      `json:"screenshot"`
	Coordinates Coordinates `json:"coordinates"`
}

// VisualIssue is one finding reported by the visual oracle. Findings are
// additive and never mutated after creation.
type VisualIssue struct {
	Severity       Severity      `json:"severity"`
	Description    string        `json:"description"`
	Recommendation string        `json:"recommendation"`
	Location       IssueLocation `json:"location"`
}

// Scores are the three quality scores, each bounded to [0,100].
type Scores struct {
	Layout        int `json:"layout"`
	Accessibility int `json:"accessibility"`
	Overall       int `json:"overall"`
}

// VisualAnalysis is one oracle verdict for a screenshot.
type VisualAnalysis struct {
	Observations []string      `json:"observations"`
	Issues       []VisualIssue `json:"issues"`
	Scores       Scores        `json:"scores"`
}

// Clone returns a deep copy of the analysis.
func (v *VisualAnalysis) Clone() *VisualAnalysis {
	if v == nil {
		return nil
	}

	c := *v
	c.Observations = cloneStrings(v.Observations)
	if v.Issues != nil {
		c.Issues = make([]VisualIssue, len(v.Issues))
		copy(c.Issues, v.Issues)
	}

	return &c
}

// AutomationResults groups the per-step outcomes with the optional
// performance bundle.
type AutomationResults struct {
	Steps       []StepResult        `json:"steps"`
	Performance *PerformanceMetrics `json:"performance,omitempty"`
}

// TestResult is the terminal record for one execution. Created once per
// run, appended to history, never mutated in place afterwards.
type TestResult struct {
	ID         string            `json:"id"`
	TestID     string            `json:"testId"`
	Timestamp  time.Time         `json:"timestamp"`
	Duration   int64             `json:"duration"`
	Status     Status            `json:"status"`
	Visual     *VisualAnalysis   `json:"visualAnalysis,omitempty"`
	Automation AutomationResults `json:"automationResults"`
}

// Clone returns a deep copy of the result.
func (r *TestResult) Clone() *TestResult {
	if r == nil {
		return nil
	}

	c := *r
	c.Visual = r.Visual.Clone()
	if r.Automation.Steps != nil {
		c.Automation.Steps = make([]StepResult, len(r.Automation.Steps))
		copy(c.Automation.Steps, r.Automation.Steps)
	}

	if perf := r.Automation.Performance; perf != nil {
		p := *perf
		p.Console.Errors = cloneStrings(perf.Console.Errors)
		p.Console.Warnings = cloneStrings(perf.Console.Warnings)
		c.Automation.Performance = &p
	}

	return &c
}

// Analytics is the process-wide rolling aggregate over runs.
type Analytics struct {
	TotalRuns       int            `json:"totalRuns"`
	PassRate        float64        `json:"passRate"`
	AverageDuration float64        `json:"averageDuration"`
	CommonIssues    map[string]int `json:"commonIssues"`
}

// NewAnalytics returns an empty aggregate with an initialized issue map.
func NewAnalytics() Analytics {
	return Analytics{CommonIssues: make(map[string]int)}
}

// Clone returns a deep copy of the aggregate.
func (a Analytics) Clone() Analytics {
	c := a
	c.CommonIssues = make(map[string]int, len(a.CommonIssues))
	for k, v := range a.CommonIssues {
		c.CommonIssues[k] = v
	}

	return c
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
