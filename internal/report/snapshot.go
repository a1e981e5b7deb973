package report

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/uivet/uivet/internal/result"
	"github.com/uivet/uivet/internal/spec"
	"github.com/uivet/uivet/internal/state"
)

const (
	maxErrorLength  = 50
	maxCommonIssues = 3
)

// Formatter renders a state snapshot as a terminal report.
type Formatter struct {
	log    logrus.FieldLogger
	colors *ColorHelper
}

// NewFormatter creates a new snapshot formatter.
func NewFormatter(log logrus.FieldLogger) *Formatter {
	return &Formatter{
		log:    log.WithField("component", "report"),
		colors: NewColorHelper(),
	}
}

// Format converts a snapshot into the full report: engine overview,
// session results with failure details, and the rolling summary.
func (f *Formatter) Format(snap *state.Snapshot) string {
	var builder strings.Builder

	builder.WriteString(f.formatEngine(snap))
	builder.WriteString(f.formatResults(snap))
	builder.WriteString(f.formatSummary(snap.Analytics))

	return builder.String()
}

func (f *Formatter) formatEngine(snap *state.Snapshot) string {
	phase := string(snap.Phase)
	if snap.Phase == state.PhaseRunning {
		phase = f.colors.Info(phase)
	}

	current := f.colors.Muted("(idle)")
	if snap.CurrentTest != nil {
		current = f.colors.Bold(snap.CurrentTest.Name)
	}

	failedValue := fmt.Sprintf("%d", len(snap.Queue.Failed))
	if len(snap.Queue.Failed) > 0 {
		failedValue = f.colors.Failure(failedValue)
	}

	var screenshotBytes int64
	for i := range snap.Screenshots {
		screenshotBytes += int64(len(snap.Screenshots[i].Data))
	}

	var (
		headers = []string{"Metric", "Value"}
		rows    = [][]string{
			{"Phase", phase},
			{"Current Test", current},
			{"Pending", fmt.Sprintf("%d", len(snap.Queue.Pending))},
			{"Running", fmt.Sprintf("%d", len(snap.Queue.Running))},
			{"Completed", fmt.Sprintf("%d", len(snap.Queue.Completed))},
			{"Failed", failedValue},
			{"Screenshots", fmt.Sprintf("%d (%s)", len(snap.Screenshots), Bytes(screenshotBytes))},
		}
	)

	return "\n" + f.colors.Header("▸ Engine") + "\n\n" + renderTableString(headers, rows)
}

func (f *Formatter) formatResults(snap *state.Snapshot) string {
	output := "\n" + f.colors.Header("▸ Session Results") + "\n\n"

	if len(snap.Results) == 0 {
		return output + f.colors.Muted("No tests executed this session") + "\n"
	}

	var (
		names      = testNames(snap)
		headers    = []string{"Test", "Status", "Steps", "Duration", "Details"}
		rows       = make([][]string, 0, len(snap.Results))
		failedRuns = make([]result.TestResult, 0)
	)

	for i := range snap.Results {
		res := snap.Results[i]

		passed, total := stepCounts(res)

		var details string
		if res.Status != result.StatusPass {
			failedRuns = append(failedRuns, res)

			if failed := total - passed; failed > 0 {
				details = f.colors.Failure(fmt.Sprintf("%d/%d steps failed", failed, total))
			}

			if msg := firstStepError(res); msg != "" {
				if len(msg) > maxErrorLength {
					msg = msg[:maxErrorLength-3] + "..."
				}

				if details != "" {
					details += " - "
				}

				details += f.colors.Muted(msg)
			}
		}

		if res.Visual != nil && len(res.Visual.Issues) > 0 {
			note := f.colors.Warning(fmt.Sprintf("%d visual issues", len(res.Visual.Issues)))
			if details != "" {
				details += " - "
			}
			details += note
		}

		rows = append(rows, []string{
			displayName(names, res.TestID),
			f.colors.FormatStatus(res.Status),
			f.colors.FormatSteps(passed, total),
			Millis(res.Duration),
			details,
		})
	}

	output += renderTableString(headers, rows)

	if len(failedRuns) > 0 {
		output += f.formatFailureDetails(failedRuns, names)
	}

	return output
}

// formatFailureDetails creates a detailed section showing every failed run
// with its step errors and visual issues.
func (f *Formatter) formatFailureDetails(failedRuns []result.TestResult, names map[string]string) string {
	var builder strings.Builder

	builder.WriteString("\n" + f.colors.Header("▸ Failed Run Details") + "\n\n")

	for i := range failedRuns {
		res := failedRuns[i]

		if i > 0 {
			builder.WriteString("\n")
		}

		builder.WriteString(fmt.Sprintf("%s (%s)\n", displayName(names, res.TestID), Millis(res.Duration)))

		detailed := false

		for n, step := range res.Automation.Steps {
			if step.Status == result.StatusPass {
				continue
			}

			detailed = true
			msg := step.Error
			if msg == "" {
				msg = "step failed"
			}

			builder.WriteString(
				fmt.Sprintf("  %s %s %d (%s): %s\n",
					f.colors.Failure("✗"),
					f.colors.Bold("Step"),
					n+1,
					step.Action,
					msg,
				),
			)
		}

		if res.Visual != nil {
			for _, issue := range res.Visual.Issues {
				detailed = true

				builder.WriteString(
					fmt.Sprintf("  %s %s: %s\n",
						f.formatSeverity(issue.Severity),
						f.colors.Bold(issue.Location.Selector),
						issue.Description,
					),
				)
			}
		}

		if !detailed {
			builder.WriteString(
				fmt.Sprintf("  %s: run broke outside step execution\n", f.colors.Failure("Error")),
			)
		}
	}

	return builder.String()
}

func (f *Formatter) formatSeverity(severity result.Severity) string {
	switch severity {
	case result.SeverityCritical:
		return f.colors.Failure(string(severity))
	case result.SeverityMajor:
		return f.colors.Warning(string(severity))
	default:
		return f.colors.Muted(string(severity))
	}
}

func (f *Formatter) formatSummary(analytics result.Analytics) string {
	passValue := f.colors.Muted("n/a")
	if analytics.TotalRuns > 0 {
		passValue = f.colors.FormatPercentage(analytics.PassRate)
	}

	var (
		headers = []string{"Metric", "Value"}
		rows    = [][]string{
			{"Total Runs", f.colors.Bold(fmt.Sprintf("%d", analytics.TotalRuns))},
			{"Pass Rate", passValue},
			{"Average Duration", Millis(int64(analytics.AverageDuration))},
			{"Common Issues", f.formatCommonIssues(analytics.CommonIssues)},
		}
	)

	return "\n" + f.colors.Header("▸ Summary") + "\n\n" + renderTableString(headers, rows)
}

// formatCommonIssues lists the most frequent visual issue descriptions,
// most common first, ties broken by description.
func (f *Formatter) formatCommonIssues(issues map[string]int) string {
	if len(issues) == 0 {
		return f.colors.Muted("(none)")
	}

	descriptions := make([]string, 0, len(issues))
	for desc := range issues {
		descriptions = append(descriptions, desc)
	}

	sort.Slice(descriptions, func(a, b int) bool {
		if issues[descriptions[a]] != issues[descriptions[b]] {
			return issues[descriptions[a]] > issues[descriptions[b]]
		}
		return descriptions[a] < descriptions[b]
	})

	if len(descriptions) > maxCommonIssues {
		descriptions = descriptions[:maxCommonIssues]
	}

	parts := make([]string, 0, len(descriptions))
	for _, desc := range descriptions {
		parts = append(parts, fmt.Sprintf("%s ×%d", desc, issues[desc]))
	}

	return strings.Join(parts, ", ")
}

// testNames maps test identities to display names using the queue lists
// and the in-flight test.
func testNames(snap *state.Snapshot) map[string]string {
	names := make(map[string]string)

	collect := func(tests []spec.Test) {
		for i := range tests {
			if tests[i].ID != "" {
				names[tests[i].ID] = tests[i].Name
			}
		}
	}

	collect(snap.Queue.Pending)
	collect(snap.Queue.Running)
	collect(snap.Queue.Completed)
	collect(snap.Queue.Failed)

	if snap.CurrentTest != nil && snap.CurrentTest.ID != "" {
		names[snap.CurrentTest.ID] = snap.CurrentTest.Name
	}

	return names
}

func displayName(names map[string]string, testID string) string {
	if name := names[testID]; name != "" {
		return name
	}
	return testID
}

func stepCounts(res result.TestResult) (passed, total int) {
	total = len(res.Automation.Steps)
	for _, step := range res.Automation.Steps {
		if step.Status == result.StatusPass {
			passed++
		}
	}
	return passed, total
}

func firstStepError(res result.TestResult) string {
	for _, step := range res.Automation.Steps {
		if step.Error != "" {
			return step.Error
		}
	}
	return ""
}
