package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrNotFound reports that no snapshot has been persisted yet.
var ErrNotFound = errors.New("state snapshot not found")

// Store loads and saves the full snapshot. Save overwrites wholesale;
// there are no partial updates and no append log, so crash recovery
// resumes from the last fully written snapshot.
type Store interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

type fileStore struct {
	log  logrus.FieldLogger
	path string
	mu   sync.Mutex
}

// NewFileStore creates a store keeping the snapshot in one pretty-printed
// JSON file at path. The parent directory is created on first save.
func NewFileStore(log logrus.FieldLogger, path string) Store {
	return &fileStore{
		log:  log.WithField("component", "state_store"),
		path: path,
	}
}

func (s *fileStore) Load(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading state file: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("parsing state file: %w", err)
	}

	s.log.WithFields(logrus.Fields{
		"path":    s.path,
		"pending": len(snap.Queue.Pending),
		"history": len(snap.History),
	}).Debug("loaded state snapshot")

	return &snap, nil
}

func (s *fileStore) Save(ctx context.Context, snap *Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling snapshot: %w", err)
	}

	// Write via temp file, then rename into place
	tmpPath := s.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("writing temp state file: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("replacing state file: %w", err)
	}

	return nil
}

// Compile-time interface compliance check
var _ Store = (*fileStore)(nil)
