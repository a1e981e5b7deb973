// Package config handles configuration loading and management
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	Addr          string
	StateFile     string
	ScreenshotDir string
	WatchDir      string
	LogLevel      string

	Headless       bool
	Browser        string
	ViewportWidth  int
	ViewportHeight int

	VisualTimeoutMs     int64
	AutomationTimeoutMs int64
	TotalTimeoutMs      int64
	RetryCount          int
	RetryBackoff        string

	MaxParallel int
	PerBrowser  int

	GCInterval time.Duration
	Retention  time.Duration
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		// It's okay if the file doesn't exist
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	cfg := &Config{
		Addr:          getEnv("UIVET_ADDR", DefaultAddr),
		StateFile:     getEnv("UIVET_STATE_FILE", DefaultStateFile),
		ScreenshotDir: getEnv("UIVET_SCREENSHOT_DIR", DefaultScreenshotDir),
		WatchDir:      getEnv("UIVET_WATCH_DIR", ""),
		LogLevel:      getEnv("LOG_LEVEL", DefaultLogLevel),
		Browser:       getEnv("UIVET_BROWSER", DefaultBrowser),
		RetryBackoff:  getEnv("UIVET_RETRY_BACKOFF", DefaultRetryBackoff),
	}

	var err error

	if cfg.Headless, err = getEnvBool("UIVET_HEADLESS", true); err != nil {
		return nil, err
	}

	if cfg.ViewportWidth, err = getEnvInt("UIVET_VIEWPORT_WIDTH", DefaultViewportWidth); err != nil {
		return nil, err
	}

	if cfg.ViewportHeight, err = getEnvInt("UIVET_VIEWPORT_HEIGHT", DefaultViewportHeight); err != nil {
		return nil, err
	}

	if cfg.VisualTimeoutMs, err = getEnvInt64("UIVET_VISUAL_TIMEOUT_MS", DefaultVisualTimeoutMs); err != nil {
		return nil, err
	}

	if cfg.AutomationTimeoutMs, err = getEnvInt64("UIVET_AUTOMATION_TIMEOUT_MS", DefaultAutomationTimeoutMs); err != nil {
		return nil, err
	}

	if cfg.TotalTimeoutMs, err = getEnvInt64("UIVET_TOTAL_TIMEOUT_MS", DefaultTotalTimeoutMs); err != nil {
		return nil, err
	}

	if cfg.RetryCount, err = getEnvInt("UIVET_RETRY_COUNT", DefaultRetryCount); err != nil {
		return nil, err
	}

	if cfg.MaxParallel, err = getEnvInt("UIVET_MAX_PARALLEL", DefaultMaxParallel); err != nil {
		return nil, err
	}

	if cfg.PerBrowser, err = getEnvInt("UIVET_PER_BROWSER", DefaultPerBrowser); err != nil {
		return nil, err
	}

	if cfg.GCInterval, err = getEnvDuration("UIVET_GC_INTERVAL", DefaultGCInterval); err != nil {
		return nil, err
	}

	if cfg.Retention, err = getEnvDuration("UIVET_RETENTION", DefaultRetention); err != nil {
		return nil, err
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return value, nil
}

func getEnvInt64(key string, defaultValue int64) (int64, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return value, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}

	return value, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}

	value, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return value, nil
}

func (c *Config) String() string {
	watchDisplay := c.WatchDir
	if watchDisplay == "" {
		watchDisplay = "(disabled)"
	}

	return fmt.Sprintf(`Current Configuration:
======================
Listen Address:         %s
State File:             %s
Screenshot Directory:   %s
Watch Directory:        %s
Log Level:              %s
Browser:                %s (headless: %t)
Viewport:               %dx%d
Visual Timeout:         %dms
Automation Timeout:     %dms
Total Timeout:          %dms
Retry Policy:           %d (%s)
Concurrency:            %d parallel, %d per browser
GC Interval:            %s
Screenshot Retention:   %s`,
		c.Addr,
		c.StateFile,
		c.ScreenshotDir,
		watchDisplay,
		c.LogLevel,
		c.Browser,
		c.Headless,
		c.ViewportWidth,
		c.ViewportHeight,
		c.VisualTimeoutMs,
		c.AutomationTimeoutMs,
		c.TotalTimeoutMs,
		c.RetryCount,
		c.RetryBackoff,
		c.MaxParallel,
		c.PerBrowser,
		c.GCInterval,
		c.Retention,
	)
}
