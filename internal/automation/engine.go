package automation

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/sirupsen/logrus"

	"github.com/uivet/uivet/internal/result"
	"github.com/uivet/uivet/internal/spec"
)

const (
	defaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	screenshotQuality = 90
)

// EngineConfig controls the browser session an engine drives.
type EngineConfig struct {
	Headless     bool
	WindowWidth  int
	WindowHeight int
	UserAgent    string

	// NavigationRetries is how many attempts a page load gets before the
	// run is declared failed.
	NavigationRetries    int
	NavigationRetryDelay time.Duration
}

// DefaultEngineConfig returns the engine configuration used when none
// is provided.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Headless:             true,
		WindowWidth:          1920,
		WindowHeight:         1080,
		UserAgent:            defaultUserAgent,
		NavigationRetries:    3,
		NavigationRetryDelay: 2 * time.Second,
	}
}

type engine struct {
	log logrus.FieldLogger
	cfg EngineConfig

	mu            sync.Mutex
	started       bool
	currentURL    string
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc

	watch pageWatch
}

// NewEngine creates a chromedp-backed automation backend.
func NewEngine(log logrus.FieldLogger, cfg EngineConfig) Backend {
	if cfg.NavigationRetries <= 0 {
		cfg.NavigationRetries = DefaultEngineConfig().NavigationRetries
	}

	if cfg.NavigationRetryDelay <= 0 {
		cfg.NavigationRetryDelay = DefaultEngineConfig().NavigationRetryDelay
	}

	return &engine{
		log: log.WithField("component", "automation"),
		cfg: cfg,
	}
}

func (e *engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
		chromedp.NoSandbox,
		chromedp.UserAgent(e.cfg.UserAgent),
		chromedp.WindowSize(e.cfg.WindowWidth, e.cfg.WindowHeight),
	)

	if e.cfg.Headless {
		opts = append(opts, chromedp.Headless)
	}

	// The browser outlives the Start call, so the allocator hangs off
	// the background context rather than ctx.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	e.watch.attach(browserCtx)

	launchCtx := browserCtx

	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc

		launchCtx, cancel = context.WithDeadline(launchCtx, deadline)
		defer cancel()
	}

	if err := chromedp.Run(launchCtx, network.Enable(), runtime.Enable()); err != nil {
		browserCancel()
		allocCancel()

		return fmt.Errorf("launching browser: %w", err)
	}

	e.allocCancel = allocCancel
	e.browserCtx = browserCtx
	e.browserCancel = browserCancel
	e.started = true

	e.log.WithFields(logrus.Fields{
		"headless": e.cfg.Headless,
		"window":   fmt.Sprintf("%dx%d", e.cfg.WindowWidth, e.cfg.WindowHeight),
	}).Info("Browser session started")

	return nil
}

func (e *engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return nil
	}

	e.browserCancel()
	e.allocCancel()

	e.started = false
	e.currentURL = ""

	e.log.Info("Browser session stopped")

	return nil
}

func (e *engine) ExecuteStep(ctx context.Context, step spec.AutomationStep, targetURL string) (*result.StepResult, error) {
	runCtx, cancel, err := e.runContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	started := time.Now()
	res := &result.StepResult{
		Status: result.StatusPass,
		Action: string(step.Action),
	}

	fail := func(msg string) (*result.StepResult, error) {
		res.Status = result.StatusFail
		res.Error = msg
		res.Duration = time.Since(started).Milliseconds()

		e.log.WithFields(logrus.Fields{
			"action": step.Action,
			"target": step.Target,
		}).WithError(fmt.Errorf("%s", msg)).Debug("Step failed")

		return res, nil
	}

	if msg := checkStepPreconditions(step); msg != "" {
		return fail(msg)
	}

	if err := e.ensureTarget(runCtx, targetURL); err != nil {
		return fail(fmt.Sprintf("navigating to %s: %v", targetURL, err))
	}

	action, err := buildAction(step)
	if err != nil {
		return fail(err.Error())
	}

	stepCtx := runCtx

	// A step timeout bounds the action itself; for wait steps the value
	// is the sleep duration instead.
	if step.TimeoutMs > 0 && step.Action != spec.ActionWait {
		var stepCancel context.CancelFunc

		stepCtx, stepCancel = context.WithTimeout(runCtx, time.Duration(step.TimeoutMs)*time.Millisecond)
		defer stepCancel()
	}

	if err := chromedp.Run(stepCtx, action); err != nil {
		return fail(err.Error())
	}

	res.Duration = time.Since(started).Milliseconds()

	return res, nil
}

func (e *engine) CaptureScreenshot(ctx context.Context, targetURL, selector string) (string, error) {
	runCtx, cancel, err := e.runContext(ctx)
	if err != nil {
		return "", err
	}
	defer cancel()

	if err := e.ensureTarget(runCtx, targetURL); err != nil {
		return "", err
	}

	var buf []byte

	var action chromedp.Action
	if selector != "" {
		action = chromedp.Screenshot(selector, &buf, chromedp.NodeVisible, chromedp.ByQuery)
	} else {
		action = chromedp.FullScreenshot(&buf, screenshotQuality)
	}

	if err := chromedp.Run(runCtx, action); err != nil {
		return "", fmt.Errorf("capturing screenshot: %w", err)
	}

	return base64.StdEncoding.EncodeToString(buf), nil
}

func (e *engine) CollectMetrics(ctx context.Context, targetURL string) (*result.PerformanceMetrics, error) {
	runCtx, cancel, err := e.runContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	if err := e.ensureTarget(runCtx, targetURL); err != nil {
		return nil, err
	}

	metrics := result.EmptyMetrics()

	requests, failures, consoleErrs, consoleWarns := e.watch.snapshot()
	metrics.Network.Requests = requests
	metrics.Network.Failures = failures
	metrics.Console.Errors = consoleErrs
	metrics.Console.Warnings = consoleWarns

	// Extraction is best effort: a page that blocks one probe should not
	// cost us the rest of the metrics.
	var navEntry *navTimingEntry
	if err := chromedp.Run(runCtx, chromedp.Evaluate(navTimingJS, &navEntry)); err != nil {
		e.log.WithError(err).Debug("Navigation timing extraction failed")
	} else {
		metrics.Network.Timing = extractNetworkTiming(navEntry)
	}

	var paintEntry paintMetricsEntry

	err = chromedp.Run(runCtx, chromedp.Evaluate(paintMetricsJS, &paintEntry,
		func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
			return p.WithAwaitPromise(true)
		}))
	if err != nil {
		e.log.WithError(err).Debug("Paint metrics extraction failed")
	} else {
		metrics.Performance.FCP = paintEntry.FCP
		metrics.Performance.LCP = paintEntry.LCP
		metrics.Performance.CLS = paintEntry.CLS
	}

	return metrics, nil
}

// runContext binds the caller's deadline onto the browser context so
// actions run in the live session but still honor scheduler timeouts.
func (e *engine) runContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started {
		return nil, nil, ErrNotStarted
	}

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel := context.WithDeadline(e.browserCtx, deadline)

		return runCtx, cancel, nil
	}

	return e.browserCtx, func() {}, nil
}

// ensureTarget navigates to targetURL if the session is not already
// there. Page-scoped counters reset on every fresh navigation.
func (e *engine) ensureTarget(ctx context.Context, targetURL string) error {
	if targetURL == "" {
		return nil
	}

	e.mu.Lock()
	onPage := e.currentURL == targetURL
	e.mu.Unlock()

	if onPage {
		return nil
	}

	return e.navigate(ctx, targetURL)
}

func (e *engine) navigate(ctx context.Context, url string) error {
	var lastErr error

	for attempt := 1; attempt <= e.cfg.NavigationRetries; attempt++ {
		e.watch.reset()

		if err := chromedp.Run(ctx, chromedp.Navigate(url)); err != nil {
			lastErr = err

			e.log.WithError(err).WithFields(logrus.Fields{
				"url":     url,
				"attempt": attempt,
			}).Warn("Navigation failed")

			if attempt < e.cfg.NavigationRetries {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(e.cfg.NavigationRetryDelay):
				}
			}

			continue
		}

		e.mu.Lock()
		e.currentURL = url
		e.mu.Unlock()

		return nil
	}

	return fmt.Errorf("navigating to %s after %d attempts: %w", url, e.cfg.NavigationRetries, lastErr)
}

// checkStepPreconditions reports why a step cannot run, or "" when it
// can. Catching these before touching the browser keeps the failure
// message actionable.
func checkStepPreconditions(step spec.AutomationStep) string {
	switch step.Action {
	case spec.ActionClick, spec.ActionHover, spec.ActionScroll:
		if step.Target == "" {
			return fmt.Sprintf("%s step requires a target selector", step.Action)
		}
	case spec.ActionType:
		if step.Target == "" {
			return "type step requires a target selector"
		}

		if step.Value == "" {
			return "type step requires a value"
		}
	case spec.ActionWait:
	}

	return ""
}

func buildAction(step spec.AutomationStep) (chromedp.Action, error) {
	switch step.Action {
	case spec.ActionClick:
		return chromedp.Click(step.Target, chromedp.ByQuery), nil
	case spec.ActionType:
		return chromedp.SendKeys(step.Target, step.Value, chromedp.ByQuery), nil
	case spec.ActionHover:
		// No first-class hover in chromedp, so dispatch the event from
		// inside the page.
		js := fmt.Sprintf(
			`document.querySelector(%q).dispatchEvent(new MouseEvent('mouseover', { bubbles: true }))`,
			step.Target,
		)

		return chromedp.Evaluate(js, nil), nil
	case spec.ActionScroll:
		return chromedp.ScrollIntoView(step.Target, chromedp.ByQuery), nil
	case spec.ActionWait:
		waitMs := step.TimeoutMs
		if waitMs <= 0 {
			waitMs = spec.DefaultWaitMs
		}

		return chromedp.Sleep(time.Duration(waitMs) * time.Millisecond), nil
	default:
		return nil, fmt.Errorf("unsupported action %q", step.Action)
	}
}

// Compile-time interface compliance check.
var _ Backend = (*engine)(nil)
