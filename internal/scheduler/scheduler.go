// Package scheduler owns the test queue, the phase state machine and
// the snapshot every other component observes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/uivet/uivet/internal/automation"
	"github.com/uivet/uivet/internal/bus"
	"github.com/uivet/uivet/internal/result"
	"github.com/uivet/uivet/internal/spec"
	"github.com/uivet/uivet/internal/state"
	"github.com/uivet/uivet/internal/visual"
)

var errNotStarted = errors.New("scheduler not started")

// Config carries the scheduling defaults used when no persisted state
// exists yet, plus the metadata stamped onto captured screenshots.
type Config struct {
	Execution   state.ExecutionConfig
	Concurrency state.ConcurrencyConfig
	Capture     state.ScreenshotMetadata
}

// Scheduler drives queued tests through their phases, one at a time.
type Scheduler interface {
	// Start loads persisted state and begins draining the queue.
	Start(ctx context.Context) error

	// Stop halts the scheduling loop, cancelling any in-flight run.
	Stop() error

	// Enqueue appends a test to the pending queue and wakes the loop.
	Enqueue(test *spec.Test) error

	// Snapshot returns a deep copy of the current state.
	Snapshot() (*state.Snapshot, error)

	// AddScreenshot records an externally submitted screenshot.
	AddScreenshot(shot state.Screenshot) error

	// EvictScreenshots drops session screenshots older than maxAge and
	// reports how many were removed.
	EvictScreenshots(maxAge time.Duration) (int, error)
}

type scheduler struct {
	log     logrus.FieldLogger
	cfg     Config
	store   state.Store
	backend automation.Backend
	oracle  visual.Oracle
	agg     *result.Aggregator
	hub     bus.Hub

	mu   sync.Mutex
	snap *state.Snapshot

	rootCtx    context.Context
	rootCancel context.CancelFunc
	wakeCh     chan struct{}
	wg         sync.WaitGroup
}

// New creates a new scheduler.
func New(log logrus.FieldLogger, cfg Config, store state.Store, backend automation.Backend, oracle visual.Oracle, agg *result.Aggregator, hub bus.Hub) Scheduler {
	return &scheduler{
		log:     log.WithField("component", "scheduler"),
		cfg:     cfg,
		store:   store,
		backend: backend,
		oracle:  oracle,
		agg:     agg,
		hub:     hub,
		wakeCh:  make(chan struct{}, 1),
	}
}

func (s *scheduler) Start(ctx context.Context) error {
	snap, err := s.loadOrInit(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()

	s.rootCtx, s.rootCancel = context.WithCancel(context.Background())

	s.wg.Add(1)

	go s.loop()

	// Anything left pending from a previous session drains immediately.
	s.wake()

	s.log.WithFields(logrus.Fields{
		"pending": len(snap.Queue.Pending),
		"history": len(snap.History),
	}).Info("Scheduler started")

	return nil
}

func (s *scheduler) Stop() error {
	if s.rootCancel == nil {
		return nil
	}

	s.rootCancel()
	s.wg.Wait()

	s.log.Info("Scheduler stopped")

	return nil
}

// loadOrInit restores persisted state, falling back to a fresh snapshot
// which is written through immediately so the state file exists from
// the first run onward.
func (s *scheduler) loadOrInit(ctx context.Context) (*state.Snapshot, error) {
	snap, err := s.store.Load(ctx)

	switch {
	case errors.Is(err, state.ErrNotFound):
		s.log.Info("No persisted state found, initializing")

		snap = state.NewSnapshot(s.cfg.Execution, s.cfg.Concurrency)
	case err != nil:
		s.log.WithError(err).Warn("Persisted state unreadable, starting fresh")

		snap = state.NewSnapshot(s.cfg.Execution, s.cfg.Concurrency)
	default:
		s.recover(snap)
	}

	if err := s.store.Save(ctx, snap); err != nil {
		return nil, fmt.Errorf("persisting initial state: %w", err)
	}

	return snap, nil
}

// recover normalizes a snapshot from a previous session: tests stranded
// mid-run are pushed back to the head of the pending queue, and the
// phase pointer is reset so the loop can dequeue again. Zeroed
// execution settings from hand-edited files fall back to the
// configured defaults.
func (s *scheduler) recover(snap *state.Snapshot) {
	if len(snap.Queue.Running) > 0 {
		s.log.WithField("stranded", len(snap.Queue.Running)).Warn("Requeueing tests stranded by previous session")

		snap.Queue.Pending = append(append([]spec.Test{}, snap.Queue.Running...), snap.Queue.Pending...)
		snap.Queue.Running = []spec.Test{}
	}

	snap.Phase = state.PhaseSetup
	snap.CurrentTest = nil

	if snap.Execution.VisualTimeoutMs <= 0 {
		snap.Execution.VisualTimeoutMs = s.cfg.Execution.VisualTimeoutMs
	}

	if snap.Execution.AutomationTimeoutMs <= 0 {
		snap.Execution.AutomationTimeoutMs = s.cfg.Execution.AutomationTimeoutMs
	}

	if snap.Execution.TotalTimeoutMs <= 0 {
		snap.Execution.TotalTimeoutMs = s.cfg.Execution.TotalTimeoutMs
	}
}

func (s *scheduler) Enqueue(test *spec.Test) error {
	s.mu.Lock()

	if s.snap == nil {
		s.mu.Unlock()

		return errNotStarted
	}

	s.snap.Queue.Pending = append(s.snap.Queue.Pending, *test.Clone())
	queued := len(s.snap.Queue.Pending)

	err := s.persistLocked()

	s.mu.Unlock()

	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"test_id": test.ID,
		"name":    test.Name,
		"pending": queued,
	}).Info("Test queued")

	s.publishStatus()
	s.wake()

	return nil
}

func (s *scheduler) Snapshot() (*state.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap == nil {
		return nil, errNotStarted
	}

	return s.snap.Clone(), nil
}

func (s *scheduler) AddScreenshot(shot state.Screenshot) error {
	s.mu.Lock()

	if s.snap == nil {
		s.mu.Unlock()

		return errNotStarted
	}

	s.snap.Screenshots = append(s.snap.Screenshots, shot)

	err := s.persistLocked()

	s.mu.Unlock()

	if err != nil {
		return err
	}

	s.publish(bus.MessageScreenshot, bus.ScreenshotPayload{
		ScreenshotID: shot.ID,
		TestID:       shot.TestID,
	})

	return nil
}

func (s *scheduler) EvictScreenshots(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap == nil {
		return 0, errNotStarted
	}

	cutoff := time.Now().Add(-maxAge)
	kept := s.snap.Screenshots[:0]

	for _, shot := range s.snap.Screenshots {
		if shot.Timestamp.After(cutoff) {
			kept = append(kept, shot)
		}
	}

	evicted := len(s.snap.Screenshots) - len(kept)
	s.snap.Screenshots = kept

	if evicted == 0 {
		return 0, nil
	}

	if err := s.persistLocked(); err != nil {
		return evicted, err
	}

	s.log.WithField("evicted", evicted).Debug("Session screenshots evicted")

	return evicted, nil
}

// loop is the single consumer of the queue. All test execution happens
// on this goroutine, which is what serializes snapshot mutation during
// runs.
func (s *scheduler) loop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.rootCtx.Done():
			return
		case <-s.wakeCh:
			s.drain()
		}
	}
}

// drain executes pending tests until the queue is empty. Iterating here
// rather than having runs trigger each other keeps the call stack flat
// no matter how long the backlog gets.
func (s *scheduler) drain() {
	for {
		if s.rootCtx.Err() != nil {
			return
		}

		test := s.tryDequeue()
		if test == nil {
			return
		}

		s.execute(test)
	}
}

// tryDequeue claims the head of the pending queue. The phase guard is
// what enforces single-flight execution: nothing dequeues until the
// previous run has fully reset the phase to setup.
func (s *scheduler) tryDequeue() *spec.Test {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap == nil || s.snap.Phase != state.PhaseSetup || len(s.snap.Queue.Pending) == 0 {
		return nil
	}

	test := s.snap.Queue.Pending[0]
	s.snap.Queue.Pending = s.snap.Queue.Pending[1:]
	s.snap.Queue.Running = append(s.snap.Queue.Running, test)
	s.snap.Phase = state.PhaseRunning
	s.snap.CurrentTest = test.Clone()

	if err := s.persistLocked(); err != nil {
		s.log.WithError(err).Error("Persisting dequeue failed")
	}

	return test.Clone()
}

func (s *scheduler) setPhase(phase state.Phase) {
	s.mu.Lock()

	s.snap.Phase = phase

	if err := s.persistLocked(); err != nil {
		s.log.WithError(err).Error("Persisting phase change failed")
	}

	s.mu.Unlock()

	s.publishStatus()
}

// persistLocked writes the snapshot through to the store. Callers must
// hold s.mu. Saves run on the background context so a shutdown still
// flushes the final state.
func (s *scheduler) persistLocked() error {
	if err := s.store.Save(context.Background(), s.snap); err != nil {
		return fmt.Errorf("saving state: %w", err)
	}

	return nil
}

func (s *scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *scheduler) publish(msgType bus.MessageType, payload interface{}) {
	if s.hub == nil {
		return
	}

	msg, err := bus.NewMessage(msgType, payload)
	if err != nil {
		s.log.WithError(err).Debug("Dropping broadcast message")

		return
	}

	s.hub.Publish(msg)
}

func (s *scheduler) publishStatus() {
	s.mu.Lock()

	if s.snap == nil {
		s.mu.Unlock()

		return
	}

	payload := bus.StatusPayload{
		Phase:      string(s.snap.Phase),
		QueueDepth: len(s.snap.Queue.Pending),
	}

	if s.snap.CurrentTest != nil {
		payload.CurrentTest = s.snap.CurrentTest.ID
	}

	s.mu.Unlock()

	s.publish(bus.MessageStatus, payload)
}

// Compile-time interface compliance check.
var _ Scheduler = (*scheduler)(nil)
