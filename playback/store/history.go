package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/afero"
)

// HistoryEntry is one reading-progress record.
type HistoryEntry struct {
	BookID     string    `json:"bookId"`
	LocationID string    `json:"locationId"`
	Source     string    `json:"source"`
	Label      string    `json:"label,omitempty"`
	Completed  bool      `json:"completed"`
	Timestamp  time.Time `json:"timestamp"`
}

// JSONLHistory appends reading-progress records to a JSON Lines file,
// one entry per line.
type JSONLHistory struct {
	mu   sync.Mutex
	fs   afero.Fs
	path string
	now  func() time.Time
}

// NewJSONLHistory creates a recorder writing to path on the OS
// filesystem.
func NewJSONLHistory(path string) (*JSONLHistory, error) {
	return NewJSONLHistoryFS(afero.NewOsFs(), path)
}

// NewJSONLHistoryFS creates a recorder over an arbitrary filesystem.
func NewJSONLHistoryFS(fs afero.Fs, path string) (*JSONLHistory, error) {
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	return &JSONLHistory{fs: fs, path: path, now: time.Now}, nil
}

// UpdateReadingHistory appends one entry.
func (h *JSONLHistory) UpdateReadingHistory(ctx context.Context, bookID, locationID, source, label string, completed bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(HistoryEntry{
		BookID:     bookID,
		LocationID: locationID,
		Source:     source,
		Label:      label,
		Completed:  completed,
		Timestamp:  h.now(),
	})
	if err != nil {
		return err
	}
	line = append(line, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()

	f, err := h.fs.OpenFile(h.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append history: %w", err)
	}
	return nil
}

// Entries reads back every recorded entry, oldest first.
func (h *JSONLHistory) Entries() ([]HistoryEntry, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	data, err := afero.ReadFile(h.fs, h.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []HistoryEntry
	dec := json.NewDecoder(bytes.NewReader(data))
	for dec.More() {
		var e HistoryEntry
		if err := dec.Decode(&e); err != nil {
			return entries, fmt.Errorf("decode history: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
