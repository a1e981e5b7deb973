package visual

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const manifestFilename = "manifest.json"

// DefaultRetention is how long screenshots stay on disk before eviction.
const DefaultRetention = 24 * time.Hour

// ErrNotStored reports a reference the store has no entry for.
var ErrNotStored = errors.New("screenshot not in store")

// StoreEntry records one screenshot held on disk.
type StoreEntry struct {
	ID       string    `json:"id"`
	OwnerID  string    `json:"ownerId"`
	Size     int64     `json:"size"`
	StoredAt time.Time `json:"storedAt"`
}

// storeManifest tracks all stored screenshots, keyed by screenshot ID.
type storeManifest struct {
	Entries map[string]*StoreEntry `json:"entries"`
}

// ScreenshotStore keeps decoded screenshots on disk next to a JSON
// manifest, evicting entries that age past the retention window.
type ScreenshotStore struct {
	log logrus.FieldLogger
	dir string

	mu       sync.RWMutex
	manifest *storeManifest
}

// NewScreenshotStore creates a screenshot store rooted at dir.
func NewScreenshotStore(log logrus.FieldLogger, dir string) *ScreenshotStore {
	return &ScreenshotStore{
		log:      log.WithField("component", "screenshot_store"),
		dir:      dir,
		manifest: &storeManifest{Entries: make(map[string]*StoreEntry)},
	}
}

// Start creates the storage directory and loads the manifest.
func (s *ScreenshotStore) Start(_ context.Context) error {
	s.log.WithField("dir", s.dir).Debug("starting screenshot store")

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("creating screenshot directory: %w", err)
	}

	if err := s.loadManifest(); err != nil {
		s.log.WithError(err).Warn("failed to load manifest, starting with empty store")
		s.manifest = &storeManifest{Entries: make(map[string]*StoreEntry)}
	}

	s.log.WithField("entries", len(s.manifest.Entries)).Info("screenshot store started")

	return nil
}

// Stop persists the manifest.
func (s *ScreenshotStore) Stop() error {
	s.log.Debug("stopping screenshot store")

	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.saveManifest(); err != nil {
		return fmt.Errorf("saving manifest: %w", err)
	}

	return nil
}

// Put decodes the base64 payload and files it under a fresh reference.
func (s *ScreenshotStore) Put(ctx context.Context, imageData, ownerID string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(imageData)
	if err != nil {
		return "", fmt.Errorf("decoding screenshot payload: %w", err)
	}

	id := uuid.New().String()

	// Write via temp file, then rename into place
	tmpPath := filepath.Join(s.dir, id+".tmp")
	if err := os.WriteFile(tmpPath, raw, 0644); err != nil {
		return "", fmt.Errorf("writing screenshot: %w", err)
	}

	if err := os.Rename(tmpPath, s.entryPath(id)); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("moving screenshot into store: %w", err)
	}

	s.mu.Lock()
	s.manifest.Entries[id] = &StoreEntry{
		ID:       id,
		OwnerID:  ownerID,
		Size:     int64(len(raw)),
		StoredAt: time.Now(),
	}

	if err := s.saveManifest(); err != nil {
		s.log.WithError(err).Warn("failed to save manifest after store")
	}
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"id":    id,
		"owner": ownerID,
		"size":  len(raw),
	}).Debug("stored screenshot")

	return id, nil
}

// Path resolves a reference to its on-disk location.
func (s *ScreenshotStore) Path(ref string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.manifest.Entries[ref]; !ok {
		return "", fmt.Errorf("%w: %s", ErrNotStored, ref)
	}

	return s.entryPath(ref), nil
}

// Len reports how many screenshots the store currently holds.
func (s *ScreenshotStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.manifest.Entries)
}

// EvictStale removes entries stored before the retention cutoff, oldest
// first, and reports how many were deleted.
func (s *ScreenshotStore) EvictStale(maxAge time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)

	entries := make([]*StoreEntry, 0, len(s.manifest.Entries))
	for _, entry := range s.manifest.Entries {
		entries = append(entries, entry)
	}

	// Sort by storage time (oldest first)
	sort.Sort(byStoredAt(entries))

	deleted := 0
	for _, entry := range entries {
		if !entry.StoredAt.Before(cutoff) {
			break
		}

		path := s.entryPath(entry.ID)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.WithError(err).WithField("file", path).Warn("failed to delete screenshot")
		}

		delete(s.manifest.Entries, entry.ID)
		deleted++
	}

	if deleted > 0 {
		if err := s.saveManifest(); err != nil {
			return deleted, fmt.Errorf("saving manifest after eviction: %w", err)
		}
	}

	s.log.WithFields(logrus.Fields{
		"evicted": deleted,
		"max_age": maxAge,
	}).Debug("screenshot eviction complete")

	return deleted, nil
}

func (s *ScreenshotStore) entryPath(id string) string {
	return filepath.Join(s.dir, id+".png")
}

// loadManifest loads the store manifest from disk
func (s *ScreenshotStore) loadManifest() error {
	data, err := os.ReadFile(filepath.Join(s.dir, manifestFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No manifest yet
		}
		return fmt.Errorf("reading manifest: %w", err)
	}

	var manifest storeManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return fmt.Errorf("parsing manifest: %w", err)
	}

	if manifest.Entries == nil {
		manifest.Entries = make(map[string]*StoreEntry)
	}
	s.manifest = &manifest

	return nil
}

// saveManifest saves the store manifest to disk
// Caller must hold at least a read lock (s.mu.RLock() or s.mu.Lock())
func (s *ScreenshotStore) saveManifest() error {
	data, err := json.MarshalIndent(s.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling manifest: %w", err)
	}

	if err := os.WriteFile(filepath.Join(s.dir, manifestFilename), data, 0644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}

	return nil
}

// byStoredAt sorts store entries by storage time (oldest first)
type byStoredAt []*StoreEntry

// Len implements sort.Interface
func (b byStoredAt) Len() int { return len(b) }

// Less implements sort.Interface (oldest first)
func (b byStoredAt) Less(i, j int) bool { return b[i].StoredAt.Before(b[j].StoredAt) }

// Swap implements sort.Interface
func (b byStoredAt) Swap(i, j int) { b[i], b[j] = b[j], b[i] }
