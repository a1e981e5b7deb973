package config

import "time"

const (
	// DefaultAddr is the HTTP listen address.
	DefaultAddr = ":8080"
	// DefaultStateFile is the path of the persisted snapshot.
	DefaultStateFile = "test-state.json"
	// DefaultScreenshotDir is where the visual store keeps captured images.
	DefaultScreenshotDir = "screenshots"
	// DefaultLogLevel is the logrus level applied when LOG_LEVEL is unset.
	DefaultLogLevel = "info"
	// DefaultBrowser is recorded in screenshot metadata.
	DefaultBrowser = "chrome"
	// DefaultViewportWidth is the browser window width in CSS pixels.
	DefaultViewportWidth = 1920
	// DefaultViewportHeight is the browser window height in CSS pixels.
	DefaultViewportHeight = 1080
	// DefaultVisualTimeoutMs bounds one visual analyze or compare call.
	DefaultVisualTimeoutMs = 30000
	// DefaultAutomationTimeoutMs bounds one step, capture or metrics call.
	DefaultAutomationTimeoutMs = 60000
	// DefaultTotalTimeoutMs bounds one whole test run.
	DefaultTotalTimeoutMs = 300000
	// DefaultRetryCount is the declared retry count carried in state.
	DefaultRetryCount = 2
	// DefaultRetryBackoff is the declared backoff policy carried in state.
	DefaultRetryBackoff = "exponential"
	// DefaultMaxParallel is the declared parallelism carried in state.
	DefaultMaxParallel = 2
	// DefaultPerBrowser is the declared per-browser limit carried in state.
	DefaultPerBrowser = 1
	// DefaultGCInterval is how often stale screenshots are evicted.
	DefaultGCInterval = time.Hour
	// DefaultRetention is how long screenshots are kept before eviction.
	DefaultRetention = 24 * time.Hour
)
