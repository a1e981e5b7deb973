// Package automation drives browser sessions for automated test steps.
package automation

import (
	"context"
	"errors"

	"github.com/uivet/uivet/internal/result"
	"github.com/uivet/uivet/internal/spec"
)

// ErrNotStarted is returned when a backend is used before Start.
var ErrNotStarted = errors.New("automation backend not started")

// Backend executes automation steps against a live page and reports
// what happened. Step-level failures (bad selectors, timeouts, missing
// preconditions) come back inside the StepResult; the error return is
// reserved for the backend itself being unusable.
type Backend interface {
	// Start launches the underlying browser session.
	Start(ctx context.Context) error

	// Stop tears the session down.
	Stop() error

	// ExecuteStep runs a single automation step against targetURL,
	// navigating first if the session is on a different page.
	ExecuteStep(ctx context.Context, step spec.AutomationStep, targetURL string) (*result.StepResult, error)

	// CaptureScreenshot returns a base64-encoded PNG of the page, or of
	// a single element when selector is non-empty.
	CaptureScreenshot(ctx context.Context, targetURL, selector string) (string, error)

	// CollectMetrics gathers performance, console and network metrics
	// for the current page.
	CollectMetrics(ctx context.Context, targetURL string) (*result.PerformanceMetrics, error)
}
