// Package store persists playback sessions and reading history on the
// local filesystem.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/vrwarp/versicle/playback"
)

// FileStore keeps one session per book under a base directory. The full
// queue snapshot and the lightweight position record live in separate
// files so frequent position writes never rewrite the queue payload.
type FileStore struct {
	fs   afero.Fs
	base string
}

// NewFileStore creates a store rooted at base on the OS filesystem.
func NewFileStore(base string) (*FileStore, error) {
	return NewFileStoreFS(afero.NewOsFs(), base)
}

// NewFileStoreFS creates a store over an arbitrary filesystem. Tests use
// an in-memory one.
func NewFileStoreFS(fs afero.Fs, base string) (*FileStore, error) {
	if err := fs.MkdirAll(base, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	return &FileStore{fs: fs, base: base}, nil
}

func (s *FileStore) queuePath(bookID string) string {
	return filepath.Join(s.base, sanitize(bookID)+".queue.json")
}

func (s *FileStore) positionPath(bookID string) string {
	return filepath.Join(s.base, sanitize(bookID)+".position.json")
}

// SaveQueueSnapshot writes the full session including the queue payload.
func (s *FileStore) SaveQueueSnapshot(ctx context.Context, snap playback.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap.BookID == "" {
		return fmt.Errorf("snapshot has no book id")
	}
	if err := s.writeJSON(s.queuePath(snap.BookID), snap); err != nil {
		return fmt.Errorf("save queue snapshot: %w", err)
	}
	// The position file would otherwise shadow the fresh snapshot.
	return s.writeJSON(s.positionPath(snap.BookID), positionRecord{
		CurrentIndex:   snap.CurrentIndex,
		SectionIndex:   snap.SectionIndex,
		LastLocationID: snap.LastLocationID,
		PausedAt:       snap.PausedAt,
	})
}

// SavePositionOnly writes the lightweight position record, leaving the
// queue payload untouched.
func (s *FileStore) SavePositionOnly(ctx context.Context, snap playback.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap.BookID == "" {
		return fmt.Errorf("snapshot has no book id")
	}
	rec := positionRecord{
		CurrentIndex:   snap.CurrentIndex,
		SectionIndex:   snap.SectionIndex,
		LastLocationID: snap.LastLocationID,
		PausedAt:       snap.PausedAt,
	}
	if err := s.writeJSON(s.positionPath(snap.BookID), rec); err != nil {
		return fmt.Errorf("save position: %w", err)
	}
	return nil
}

// LoadLastSnapshot returns the persisted session for bookID, overlaying
// the newer position record onto the queue snapshot. Returns
// playback.ErrNoSnapshot when no session was ever saved.
func (s *FileStore) LoadLastSnapshot(ctx context.Context, bookID string) (playback.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return playback.Snapshot{}, err
	}

	var snap playback.Snapshot
	if err := s.readJSON(s.queuePath(bookID), &snap); err != nil {
		if os.IsNotExist(err) {
			return playback.Snapshot{}, playback.ErrNoSnapshot
		}
		return playback.Snapshot{}, fmt.Errorf("load snapshot: %w", err)
	}

	var rec positionRecord
	if err := s.readJSON(s.positionPath(bookID), &rec); err == nil {
		snap.CurrentIndex = rec.CurrentIndex
		snap.SectionIndex = rec.SectionIndex
		snap.LastLocationID = rec.LastLocationID
		snap.PausedAt = rec.PausedAt
	}

	if snap.CurrentIndex < 0 {
		snap.CurrentIndex = 0
	}
	if snap.CurrentIndex >= len(snap.Queue) && len(snap.Queue) > 0 {
		snap.CurrentIndex = len(snap.Queue) - 1
	}
	return snap, nil
}

type positionRecord struct {
	CurrentIndex   int       `json:"currentIndex"`
	SectionIndex   int       `json:"sectionIndex"`
	LastLocationID string    `json:"lastLocationId,omitempty"`
	PausedAt       time.Time `json:"pausedAt,omitempty"`
}

func (s *FileStore) writeJSON(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := afero.WriteFile(s.fs, tmp, data, 0o644); err != nil {
		return err
	}
	return s.fs.Rename(tmp, path)
}

func (s *FileStore) readJSON(path string, v any) error {
	data, err := afero.ReadFile(s.fs, path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// sanitize makes a book id safe to use as a file name.
func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, id)
}
