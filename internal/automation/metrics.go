package automation

import (
	"github.com/uivet/uivet/internal/result"
)

// navTimingJS pulls the Navigation Timing Level 2 entry for the current
// document. Returns null before the entry exists.
const navTimingJS = `(() => {
	const entries = performance.getEntriesByType('navigation');
	if (entries.length === 0) {
		return null;
	}
	const e = entries[0];
	return {
		domainLookupStart: e.domainLookupStart,
		domainLookupEnd: e.domainLookupEnd,
		connectStart: e.connectStart,
		connectEnd: e.connectEnd,
		secureConnectionStart: e.secureConnectionStart,
		requestStart: e.requestStart,
		responseStart: e.responseStart,
	};
})()`

// paintMetricsJS resolves with the paint metrics for the current page.
// Buffered observers replay entries recorded before the script ran; the
// timeout gives them a beat to flush before resolving.
const paintMetricsJS = `new Promise((resolve) => {
	const out = { fcp: 0, lcp: 0, cls: 0 };
	const paint = performance.getEntriesByType('paint').find((e) => e.name === 'first-contentful-paint');
	if (paint) {
		out.fcp = paint.startTime;
	}
	try {
		new PerformanceObserver((list) => {
			const entries = list.getEntries();
			if (entries.length > 0) {
				out.lcp = entries[entries.length - 1].startTime;
			}
		}).observe({ type: 'largest-contentful-paint', buffered: true });
		new PerformanceObserver((list) => {
			for (const entry of list.getEntries()) {
				if (!entry.hadRecentInput) {
					out.cls += entry.value;
				}
			}
		}).observe({ type: 'layout-shift', buffered: true });
	} catch (e) {
	}
	setTimeout(() => resolve(out), 250);
})`

// navTimingEntry mirrors the fields extracted by navTimingJS.
type navTimingEntry struct {
	DomainLookupStart     float64 `json:"domainLookupStart"`
	DomainLookupEnd       float64 `json:"domainLookupEnd"`
	ConnectStart          float64 `json:"connectStart"`
	ConnectEnd            float64 `json:"connectEnd"`
	SecureConnectionStart float64 `json:"secureConnectionStart"`
	RequestStart          float64 `json:"requestStart"`
	ResponseStart         float64 `json:"responseStart"`
}

// paintMetricsEntry mirrors the object resolved by paintMetricsJS.
type paintMetricsEntry struct {
	FCP float64 `json:"fcp"`
	LCP float64 `json:"lcp"`
	CLS float64 `json:"cls"`
}

// extractNetworkTiming derives connection phase durations from a raw
// navigation timing entry. When the connection was reused the browser
// reports equal start and end marks, which correctly yields zero.
func extractNetworkTiming(entry *navTimingEntry) result.NetworkTiming {
	if entry == nil {
		return result.NetworkTiming{}
	}

	timing := result.NetworkTiming{
		DNS:  entry.DomainLookupEnd - entry.DomainLookupStart,
		TTFB: entry.ResponseStart - entry.RequestStart,
	}

	// TLS handshakes are attributed separately, so stop the TCP phase at
	// secureConnectionStart when the page went over HTTPS.
	if entry.SecureConnectionStart > 0 {
		timing.TCP = entry.SecureConnectionStart - entry.ConnectStart
	} else {
		timing.TCP = entry.ConnectEnd - entry.ConnectStart
	}

	return timing
}
