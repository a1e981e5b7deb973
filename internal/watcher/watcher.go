// Package watcher feeds spec files dropped into a directory onto the test
// queue. Operators and CI jobs write .yaml/.yml/.json files into the watch
// directory; each file is parsed, validated and enqueued, then renamed with
// an outcome suffix so no file is picked up twice.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/uivet/uivet/internal/spec"
)

const (
	// Suffixes appended to processed files so later scans skip them.
	suffixEnqueued = ".enqueued"
	suffixRejected = ".rejected"

	// DefaultDebounce is the quiet period a file must sit unchanged before
	// it is read, so half-written uploads are not parsed mid-write.
	DefaultDebounce = 500 * time.Millisecond

	scanWorkers = 4
)

// Sink receives validated specs. Implemented by the orchestrator.
type Sink interface {
	QueueTest(test *spec.Test) (string, error)
}

// Config contains the configuration for the spec directory watcher.
type Config struct {
	// Dir is the directory holding incoming spec files.
	Dir string
	// Debounce overrides DefaultDebounce when positive.
	Debounce time.Duration
}

// Watcher monitors the spec directory.
// This is the concrete implementation without an interface abstraction.
type Watcher struct {
	log  logrus.FieldLogger
	cfg  Config
	sink Sink

	mu      sync.Mutex
	started bool
	pending map[string]time.Time

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watcher delivering specs from cfg.Dir to the sink.
func New(log logrus.FieldLogger, cfg Config, sink Sink) *Watcher {
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	return &Watcher{
		log:     log.WithField("component", "watcher"),
		cfg:     cfg,
		sink:    sink,
		pending: make(map[string]time.Time),
	}
}

// Start creates the watch directory if needed, registers it with fsnotify
// and begins the scan/event loop in the background. Files already present
// in the directory are processed first.
func (w *Watcher) Start(_ context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return errors.New("watcher already running")
	}
	w.started = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.cfg.Dir, 0755); err != nil {
		return fmt.Errorf("creating watch directory: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating filesystem watcher: %w", err)
	}

	if err := fsw.Add(w.cfg.Dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("watching %s: %w", w.cfg.Dir, err)
	}

	w.fsw = fsw

	runCtx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go w.run(runCtx)

	w.log.WithFields(logrus.Fields{
		"dir":      w.cfg.Dir,
		"debounce": w.cfg.Debounce,
	}).Info("Spec directory watcher started")

	return nil
}

// Stop closes the filesystem watcher and waits for the loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = false
	w.mu.Unlock()

	w.cancel()
	closeErr := w.fsw.Close()
	w.wg.Wait()

	if closeErr != nil {
		return fmt.Errorf("closing filesystem watcher: %w", closeErr)
	}

	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	if err := w.scanExisting(ctx); err != nil {
		w.log.WithError(err).Warn("Initial spec directory scan aborted")
	}

	ticker := time.NewTicker(w.cfg.Debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}

			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 || !isSpecFile(event.Name) {
				continue
			}

			w.mu.Lock()
			w.pending[event.Name] = time.Now()
			w.mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("Filesystem watcher error")

		case <-ticker.C:
			w.processPending()
		}
	}
}

// scanExisting enqueues spec files already sitting in the directory when the
// watcher starts, fanned out over a small worker pool. Per-file failures are
// contained; only cancellation stops the scan.
func (w *Watcher) scanExisting(ctx context.Context) error {
	entries, err := os.ReadDir(w.cfg.Dir)
	if err != nil {
		return fmt.Errorf("reading watch directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(w.cfg.Dir, entry.Name())
		if isSpecFile(path) {
			files = append(files, path)
		}
	}

	if len(files) == 0 {
		return nil
	}

	sort.Strings(files)
	w.log.WithField("files", len(files)).Info("Processing existing spec files")

	workChan := make(chan string, len(files))
	for _, file := range files {
		workChan <- file
	}
	close(workChan)

	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < scanWorkers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case path, ok := <-workChan:
					if !ok {
						return nil
					}
					w.processFile(path)
				}
			}
		})
	}

	return g.Wait()
}

// processPending handles files whose last event is older than the debounce
// window. Ripe files are processed in name order so a batch dropped together
// enqueues deterministically.
func (w *Watcher) processPending() {
	threshold := time.Now().Add(-w.cfg.Debounce)

	w.mu.Lock()
	var ripe []string
	for file, stamp := range w.pending {
		if stamp.Before(threshold) {
			ripe = append(ripe, file)
			delete(w.pending, file)
		}
	}
	w.mu.Unlock()

	sort.Strings(ripe)

	for _, file := range ripe {
		w.processFile(file)
	}
}

func (w *Watcher) processFile(path string) {
	if _, err := os.Stat(path); err != nil {
		// Renamed by an earlier pass or removed by the operator.
		return
	}

	test, err := spec.ParseFile(path)
	if err == nil {
		err = test.Validate()
	}

	if err != nil {
		w.log.WithError(err).WithField("file", path).Warn("Rejecting spec file")
		w.markProcessed(path, suffixRejected)

		return
	}

	id, err := w.sink.QueueTest(test)
	if err != nil {
		// Left in place so the next event or restart retries it.
		w.log.WithError(err).WithField("file", path).Error("Failed to enqueue spec file")

		return
	}

	w.log.WithFields(logrus.Fields{
		"file":    path,
		"test_id": id,
	}).Info("Spec file enqueued")

	w.markProcessed(path, suffixEnqueued)
}

func (w *Watcher) markProcessed(path, suffix string) {
	if err := os.Rename(path, path+suffix); err != nil {
		w.log.WithError(err).WithField("file", path).Warn("Failed to rename processed spec file")
	}
}

func isSpecFile(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return false
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml", ".json":
		return true
	default:
		return false
	}
}
