// Package align maps speech provider timing signals to the location that
// should be highlighted in the visual reader.
package align

import (
	"sort"
	"sync"
	"time"

	"github.com/vrwarp/versicle/playback/provider"
)

// Reader is the visual rendition the tracker drives. It is told to
// display and highlight locations only while the document is in the
// foreground.
type Reader interface {
	DisplayLocation(locationID string)
	AddHighlight(locationID string)
	RemoveHighlight(locationID string)
}

// Tracker consumes boundary, timeupdate and meta events from the active
// provider and exposes the one location that should be highlighted right
// now. Coarse sentence-level providers and dense per-word providers both
// resolve to the same contract: a single active location, cleared when
// playback stops.
//
// While the document is backgrounded the tracker remembers only the most
// recent pending location and applies it in one shot on return to the
// foreground, instead of replaying every missed highlight.
//
// This is the one piece of state deliberately touched outside the
// orchestrator's task chain (by the foreground transition handler); it
// only produces a catch-up display action and never mutates playback
// state, so it carries its own lock.
type Tracker struct {
	mu sync.Mutex

	reader     Reader
	foreground bool

	active       string
	itemLocation string
	pending      string
	hasPending   bool

	alignment []provider.AlignmentPoint
	duration  time.Duration
	position  time.Duration
}

// NewTracker creates a tracker over the given reader, starting in the
// foreground.
func NewTracker(reader Reader) *Tracker {
	return &Tracker{
		reader:     reader,
		foreground: true,
	}
}

// BeginItem resets per-utterance alignment state and highlights the new
// item's location. Announcement items pass an empty location, which
// clears the highlight.
func (t *Tracker) BeginItem(locationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.itemLocation = locationID
	t.alignment = nil
	t.duration = 0
	t.position = 0
	t.applyLocked(locationID)
}

// Observe consumes one provider event. Only timing-bearing events matter;
// others are ignored.
func (t *Tracker) Observe(ev provider.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch ev.Kind {
	case provider.EventMeta:
		t.alignment = ev.Alignment
		t.duration = ev.Duration
	case provider.EventBoundary:
		t.applyLocked(t.itemLocation)
	case provider.EventTimeUpdate:
		t.position = ev.Position
		if ev.Duration > 0 {
			t.duration = ev.Duration
		}
		t.applyLocked(t.itemLocation)
	}
}

// applyLocked moves the highlight to locationID, or defers it while
// backgrounded.
func (t *Tracker) applyLocked(locationID string) {
	if !t.foreground {
		t.pending = locationID
		t.hasPending = true
		return
	}
	if locationID == t.active {
		return
	}
	if t.active != "" {
		t.reader.RemoveHighlight(t.active)
	}
	if locationID != "" {
		t.reader.AddHighlight(locationID)
		t.reader.DisplayLocation(locationID)
	}
	t.active = locationID
}

// SetForeground switches display mode. Returning to the foreground
// applies the most recent pending location once.
func (t *Tracker) SetForeground(foreground bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.foreground = foreground
	if foreground && t.hasPending {
		pending := t.pending
		t.hasPending = false
		t.pending = ""
		t.applyLocked(pending)
	}
}

// Active returns the location currently highlighted, or empty.
func (t *Tracker) Active() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// OffsetAt resolves a playback position to a character offset in the
// current utterance using the alignment table when one was delivered.
// Without a table it returns 0, matching coarse sentence-level providers.
func (t *Tracker) OffsetAt(position time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.alignment) == 0 {
		return 0
	}
	// Largest point with Time <= position.
	i := sort.Search(len(t.alignment), func(i int) bool {
		return t.alignment[i].Time > position
	})
	if i == 0 {
		return t.alignment[0].Offset
	}
	return t.alignment[i-1].Offset
}

// Clear removes any active or pending highlight.
func (t *Tracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active != "" && t.foreground {
		t.reader.RemoveHighlight(t.active)
	}
	t.active = ""
	t.itemLocation = ""
	t.pending = ""
	t.hasPending = false
	t.alignment = nil
}
