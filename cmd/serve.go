package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/uivet/uivet/internal/automation"
	"github.com/uivet/uivet/internal/bus"
	"github.com/uivet/uivet/internal/config"
	"github.com/uivet/uivet/internal/orchestrator"
	"github.com/uivet/uivet/internal/result"
	"github.com/uivet/uivet/internal/scheduler"
	"github.com/uivet/uivet/internal/server"
	"github.com/uivet/uivet/internal/state"
	"github.com/uivet/uivet/internal/visual"
	"github.com/uivet/uivet/internal/watcher"
)

var (
	serveAddr     string
	serveWatchDir string
	serveVerbose  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the test engine and HTTP API",
	Long: `Start the browser backend, visual oracle, broadcast hub and scheduler,
then serve the JSON API until interrupted.

Configuration comes from UIVET_* environment variables, optionally loaded
from a .env file. Flags override the environment.

Examples:
  uivet serve
  uivet serve --addr 127.0.0.1:9090 --watch-dir ./specs`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (overrides UIVET_ADDR)")
	serveCmd.Flags().StringVar(&serveWatchDir, "watch-dir", "", "Spec drop directory (overrides UIVET_WATCH_DIR)")
	serveCmd.Flags().BoolVar(&serveVerbose, "verbose", false, "Verbose output")
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if serveAddr != "" {
		cfg.Addr = serveAddr
	}

	if serveWatchDir != "" {
		cfg.WatchDir = serveWatchDir
	}

	log := newLogger(serveVerbose)

	orch, srv, specWatcher := buildEngine(log, cfg)

	ctx := context.Background()

	if err := orch.Start(ctx); err != nil {
		return fmt.Errorf("starting orchestrator: %w", err)
	}

	if err := srv.Start(ctx); err != nil {
		_ = orch.Stop()
		return fmt.Errorf("starting http server: %w", err)
	}

	if specWatcher != nil {
		if err := specWatcher.Start(ctx); err != nil {
			_ = srv.Stop()
			_ = orch.Stop()

			return fmt.Errorf("starting spec watcher: %w", err)
		}
	}

	log.WithField("addr", srv.Addr()).Info("uivet is ready")

	// Block until a termination signal, then shut down in reverse order.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.WithField("signal", sig.String()).Warn("Received termination signal, shutting down")

	var errs []error

	if specWatcher != nil {
		if err := specWatcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("stopping spec watcher: %w", err))
		}
	}

	if err := srv.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping http server: %w", err))
	}

	if err := orch.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping orchestrator: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs) //nolint:err113 // Include error list for debugging
	}

	log.Info("Shutdown complete")

	return nil
}

// buildEngine wires every component from the loaded configuration. The
// watcher is nil unless a watch directory is configured.
func buildEngine(log *logrus.Logger, cfg *config.Config) (*orchestrator.Orchestrator, *server.Server, *watcher.Watcher) {
	store := state.NewFileStore(log, cfg.StateFile)

	engineCfg := automation.DefaultEngineConfig()
	engineCfg.Headless = cfg.Headless
	engineCfg.WindowWidth = cfg.ViewportWidth
	engineCfg.WindowHeight = cfg.ViewportHeight

	backend := automation.NewEngine(log, engineCfg)
	oracle := visual.NewOracle(log, cfg.ScreenshotDir)
	hub := bus.NewHub(log)
	agg := result.NewAggregator(log)

	sched := scheduler.New(log, scheduler.Config{
		Execution: state.ExecutionConfig{
			VisualTimeoutMs:     cfg.VisualTimeoutMs,
			AutomationTimeoutMs: cfg.AutomationTimeoutMs,
			TotalTimeoutMs:      cfg.TotalTimeoutMs,
			Retries: state.RetryConfig{
				Count:   cfg.RetryCount,
				Backoff: cfg.RetryBackoff,
			},
		},
		Concurrency: state.ConcurrencyConfig{
			MaxParallel: cfg.MaxParallel,
			PerBrowser:  cfg.PerBrowser,
		},
		Capture: state.ScreenshotMetadata{
			Viewport: state.Viewport{Width: cfg.ViewportWidth, Height: cfg.ViewportHeight},
			Browser:  cfg.Browser,
		},
	}, store, backend, oracle, agg, hub)

	orch := orchestrator.New(&orchestrator.Config{
		Logger:     log,
		Scheduler:  sched,
		Backend:    backend,
		Oracle:     oracle,
		Hub:        hub,
		GCInterval: cfg.GCInterval,
		Retention:  cfg.Retention,
	})

	srv := server.New(log, server.Config{Addr: cfg.Addr}, orch)

	var specWatcher *watcher.Watcher
	if cfg.WatchDir != "" {
		specWatcher = watcher.New(log, watcher.Config{Dir: cfg.WatchDir}, orch)
	}

	return orch, srv, specWatcher
}
