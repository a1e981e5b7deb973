package automation

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// pageWatch accumulates network and console activity emitted by the
// browser between navigations.
type pageWatch struct {
	mu sync.Mutex

	requests int
	failures int

	consoleErrors   []string
	consoleWarnings []string
}

// attach subscribes to CDP events on the given chromedp context. Events
// keep flowing for the lifetime of the context, so attach once per
// browser session.
func (w *pageWatch) attach(ctx context.Context) {
	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			w.mu.Lock()
			w.requests++
			w.mu.Unlock()
		case *network.EventLoadingFailed:
			w.mu.Lock()
			w.failures++
			w.mu.Unlock()
		case *runtime.EventConsoleAPICalled:
			w.recordConsole(e)
		case *runtime.EventExceptionThrown:
			w.mu.Lock()
			w.consoleErrors = append(w.consoleErrors, exceptionText(e))
			w.mu.Unlock()
		}
	})
}

func (w *pageWatch) recordConsole(ev *runtime.EventConsoleAPICalled) {
	var entry string

	switch ev.Type {
	case runtime.APITypeError:
		entry = formatConsoleArgs(ev.Args)
		w.mu.Lock()
		w.consoleErrors = append(w.consoleErrors, entry)
		w.mu.Unlock()
	case runtime.APITypeWarning:
		entry = formatConsoleArgs(ev.Args)
		w.mu.Lock()
		w.consoleWarnings = append(w.consoleWarnings, entry)
		w.mu.Unlock()
	}
}

// reset clears all counters, typically before navigating to a new page.
func (w *pageWatch) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.requests = 0
	w.failures = 0
	w.consoleErrors = nil
	w.consoleWarnings = nil
}

// snapshot returns copies of the accumulated activity.
func (w *pageWatch) snapshot() (requests, failures int, errs, warns []string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	errs = make([]string, len(w.consoleErrors))
	copy(errs, w.consoleErrors)
	warns = make([]string, len(w.consoleWarnings))
	copy(warns, w.consoleWarnings)

	return w.requests, w.failures, errs, warns
}

func formatConsoleArgs(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))

	for _, arg := range args {
		switch {
		case arg == nil:
			continue
		case arg.Description != "":
			parts = append(parts, arg.Description)
		case arg.Value != nil:
			parts = append(parts, string(arg.Value))
		}
	}

	return strings.Join(parts, " ")
}

func exceptionText(ev *runtime.EventExceptionThrown) string {
	if ev.ExceptionDetails == nil {
		return "uncaught exception"
	}

	detail := ev.ExceptionDetails

	if detail.Exception != nil && detail.Exception.Description != "" {
		return detail.Exception.Description
	}

	return fmt.Sprintf("%s at line %d", detail.Text, detail.LineNumber)
}
