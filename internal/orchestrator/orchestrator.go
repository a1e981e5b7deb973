// Package orchestrator composes the engine's components behind one
// facade: queueing tests, reading state, recording screenshots and
// broadcasting messages.
package orchestrator

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/uivet/uivet/internal/automation"
	"github.com/uivet/uivet/internal/bus"
	"github.com/uivet/uivet/internal/scheduler"
	"github.com/uivet/uivet/internal/spec"
	"github.com/uivet/uivet/internal/state"
	"github.com/uivet/uivet/internal/visual"
)

// Config wires the orchestrator's components and housekeeping policy.
type Config struct {
	Logger    logrus.FieldLogger
	Scheduler scheduler.Scheduler
	Backend   automation.Backend
	Oracle    visual.Oracle
	Hub       bus.Hub

	// GCInterval is how often stale screenshots are evicted; Retention
	// is how long they live.
	GCInterval time.Duration
	Retention  time.Duration
}

// Orchestrator coordinates the scheduler, backends and message hub.
// This is the concrete implementation without an interface abstraction.
type Orchestrator struct {
	log       logrus.FieldLogger
	scheduler scheduler.Scheduler
	backend   automation.Backend
	oracle    visual.Oracle
	hub       bus.Hub

	gcInterval time.Duration
	retention  time.Duration

	gcCancel context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a new orchestrator.
func New(cfg *Config) *Orchestrator {
	gcInterval := cfg.GCInterval
	if gcInterval <= 0 {
		gcInterval = time.Hour
	}

	retention := cfg.Retention
	if retention <= 0 {
		retention = visual.DefaultRetention
	}

	return &Orchestrator{
		log:        cfg.Logger.WithField("component", "orchestrator"),
		scheduler:  cfg.Scheduler,
		backend:    cfg.Backend,
		oracle:     cfg.Oracle,
		hub:        cfg.Hub,
		gcInterval: gcInterval,
		retention:  retention,
	}
}

// Start brings up all components and the housekeeping loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.log.Debug("Starting orchestrator")

	if err := o.backend.Start(ctx); err != nil {
		return fmt.Errorf("starting automation backend: %w", err)
	}

	if err := o.oracle.Start(ctx); err != nil {
		return fmt.Errorf("starting visual oracle: %w", err)
	}

	if err := o.hub.Start(ctx); err != nil {
		return fmt.Errorf("starting message hub: %w", err)
	}

	if err := o.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting scheduler: %w", err)
	}

	gcCtx, cancel := context.WithCancel(context.Background())
	o.gcCancel = cancel

	o.wg.Add(1)

	go o.gcLoop(gcCtx)

	o.log.Info("Orchestrator started")

	return nil
}

// Stop shuts all components down in reverse order of start.
func (o *Orchestrator) Stop() error {
	o.log.Debug("Stopping orchestrator")

	if o.gcCancel != nil {
		o.gcCancel()
		o.wg.Wait()
	}

	var errs []error

	if err := o.scheduler.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping scheduler: %w", err))
	}

	if err := o.hub.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping message hub: %w", err))
	}

	if err := o.oracle.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping visual oracle: %w", err))
	}

	if err := o.backend.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stopping automation backend: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors stopping orchestrator: %v", errs) //nolint:err113 // Include error list for debugging
	}

	o.log.Info("Orchestrator stopped")

	return nil
}

// QueueTest assigns identity to a validated test and enqueues it.
func (o *Orchestrator) QueueTest(test *spec.Test) (string, error) {
	if test.ID == "" {
		test.ID = uuid.New().String()
	}

	if err := o.scheduler.Enqueue(test); err != nil {
		return "", err
	}

	return test.ID, nil
}

// State returns a deep copy of the current snapshot.
func (o *Orchestrator) State() (*state.Snapshot, error) {
	return o.scheduler.Snapshot()
}

// AddScreenshot records an externally submitted screenshot, assigning
// its identity and capture timestamp.
func (o *Orchestrator) AddScreenshot(testID, data string, metadata state.ScreenshotMetadata) (string, error) {
	shot := state.Screenshot{
		ID:        uuid.New().String(),
		TestID:    testID,
		Data:      data,
		Timestamp: time.Now().UTC(),
		Metadata:  metadata,
	}

	if err := o.scheduler.AddScreenshot(shot); err != nil {
		return "", err
	}

	return shot.ID, nil
}

// Broadcast validates an inbound message envelope, stamps it and fans
// it out to subscribers. Delivery is fire-and-forget.
func (o *Orchestrator) Broadcast(raw []byte) (string, error) {
	msg, err := bus.ParseInbound(raw)
	if err != nil {
		return "", err
	}

	o.hub.Publish(msg)

	return msg.ID, nil
}

// WebsocketHandler exposes the hub's subscriber endpoint.
func (o *Orchestrator) WebsocketHandler() http.Handler {
	return o.hub.Handler()
}

// gcLoop periodically evicts screenshots past the retention window,
// both from the oracle's disk store and from session state.
func (o *Orchestrator) gcLoop(ctx context.Context) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			diskEvicted, err := o.oracle.EvictStale(o.retention)
			if err != nil {
				o.log.WithError(err).Warn("Screenshot store eviction failed")
			}

			sessionEvicted, err := o.scheduler.EvictScreenshots(o.retention)
			if err != nil {
				o.log.WithError(err).Warn("Session screenshot eviction failed")
			}

			if diskEvicted > 0 || sessionEvicted > 0 {
				o.log.WithFields(logrus.Fields{
					"disk":    diskEvicted,
					"session": sessionEvicted,
				}).Info("Evicted stale screenshots")
			}
		}
	}
}
