package playback

import (
	"context"
	"time"
)

// Collaborator interfaces the engine consumes. The engine owns playback
// state only; content extraction, persistence mechanics, rendering and
// platform integration live behind these contracts.

// ContentPipeline loads the narratable queue for a section, including
// synthetic announcement items when a section has no narratable text.
type ContentPipeline interface {
	LoadNarratableQueue(ctx context.Context, sectionIndex int) ([]QueueItem, error)
	// SectionCount returns how many sections the current book has.
	SectionCount() int
}

// Lexicon applies pronunciation substitution to an item's text
// immediately before it is handed to a provider.
type Lexicon interface {
	Apply(text string) string
}

// Snapshot is the persisted playback session for one book. The heavy
// Queue payload is only rewritten when the queue itself changes; position
// updates persist the lightweight fields alone.
type Snapshot struct {
	BookID         string      `json:"bookId"`
	Queue          []QueueItem `json:"queue,omitempty"`
	CurrentIndex   int         `json:"currentIndex"`
	SectionIndex   int         `json:"sectionIndex"`
	LastLocationID string      `json:"lastLocationId,omitempty"`
	PausedAt       time.Time   `json:"pausedAt,omitempty"`
}

// SnapshotStore persists playback sessions. Implementations return
// ErrNoSnapshot from LoadLastSnapshot when no session exists.
type SnapshotStore interface {
	SaveQueueSnapshot(ctx context.Context, snap Snapshot) error
	SavePositionOnly(ctx context.Context, snap Snapshot) error
	LoadLastSnapshot(ctx context.Context, bookID string) (Snapshot, error)
}

// HistoryRecorder receives reading-progress reports. completed is true
// when the utterance finished naturally, false when it was interrupted
// mid-utterance.
type HistoryRecorder interface {
	UpdateReadingHistory(ctx context.Context, bookID, locationID, source, label string, completed bool) error
}

// VisualReader is the rendition collaborator: it turns location
// identifiers into on-screen position and highlight.
type VisualReader interface {
	DisplayLocation(locationID string)
	AddHighlight(locationID string)
	RemoveHighlight(locationID string)
}

// NowPlayingInfo is the media-session metadata published while narrating.
type NowPlayingInfo struct {
	BookID  string
	Title   string
	Section int
	Playing bool
}

// Platform is the media-session and background-audio bridge. SetKeepAlive
// returning an error is a capability denial: playback halts rather than
// continuing in a state the user cannot see.
type Platform interface {
	SetKeepAlive(on bool) error
	SetNowPlaying(info NowPlayingInfo) error
	SetPosition(position, duration time.Duration) error
}
