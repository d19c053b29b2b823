// Package playback implements the TTS playback orchestration engine: the
// narration queue, its skip-aware virtual timeline, the playback state
// machine and the orchestrator that drives interchangeable speech
// providers.
package playback

import (
	"sort"
	"sync"
	"time"
	"unicode/utf8"
)

// QueueItem is one narratable unit, typically a sentence. Items can
// subsume several raw segmentation indices when the content pipeline
// merges short fragments into one utterance.
type QueueItem struct {
	// Text is the text to speak, before pronunciation substitution.
	Text string `json:"text"`
	// LocationID is an opaque handle into the visual reader. Empty for
	// synthetic announcements.
	LocationID string `json:"locationId,omitempty"`
	// IsAnnouncement marks pre-roll or empty-chapter filler, which is
	// excluded from reading-progress tracking.
	IsAnnouncement bool `json:"isAnnouncement,omitempty"`
	// Skipped is derived from the skip mask; skipped items contribute
	// zero virtual length.
	Skipped bool `json:"skipped,omitempty"`
	// SourceIndices are the raw segmentation indices this item subsumes.
	SourceIndices []int `json:"sourceIndices,omitempty"`
}

// VirtualLength returns the item's contribution to the virtual timeline:
// zero when skipped, its character count otherwise.
func (i QueueItem) VirtualLength() int {
	if i.Skipped {
		return 0
	}
	return utf8.RuneCountInString(i.Text)
}

// StateManager owns the narration queue, the current position and the
// skip mask, and maintains the virtual timeline used for duration
// estimates and time-based seeking.
//
// The virtual timeline is a prefix sum over item virtual lengths,
// recomputed whenever the queue or mask changes and queried in O(log n).
type StateManager struct {
	mu sync.RWMutex

	items        []QueueItem
	index        int
	sectionIndex int
	mask         map[int]struct{}

	// prefix[i] is the virtual length of items before index i;
	// prefix[len(items)] is the total virtual length.
	prefix []int

	charsPerMinute float64
	generation     uint64
}

// NewStateManager creates a state manager with the given reading rate in
// characters per minute.
func NewStateManager(charsPerMinute float64) *StateManager {
	if charsPerMinute <= 0 {
		charsPerMinute = 900
	}
	return &StateManager{
		charsPerMinute: charsPerMinute,
		mask:           make(map[int]struct{}),
		prefix:         []int{0},
	}
}

// SetQueue replaces the queue, resets the skip mask and clamps startIndex
// into range. The virtual timeline is recomputed.
func (m *StateManager) SetQueue(items []QueueItem, startIndex, sectionIndex int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items = append([]QueueItem(nil), items...)
	for i := range m.items {
		m.items[i].Skipped = false
	}
	m.mask = make(map[int]struct{})
	m.index = clampIndex(startIndex, len(m.items))
	m.sectionIndex = sectionIndex
	m.generation++
	m.recomputeLocked()
}

// ApplySkippedMask marks each item skipped iff all of its source indices
// are present in the mask. A merged item that is only partially excluded
// stays narrated, since dropping part of a merged utterance would corrupt
// alignment. The virtual timeline is recomputed.
func (m *StateManager) ApplySkippedMask(rawIndices []int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.mask = make(map[int]struct{}, len(rawIndices))
	for _, idx := range rawIndices {
		m.mask[idx] = struct{}{}
	}

	for i := range m.items {
		m.items[i].Skipped = m.coveredLocked(m.items[i].SourceIndices)
	}
	m.recomputeLocked()
}

// coveredLocked reports whether every source index is masked. Items with
// no source indices (announcements) are never skipped.
func (m *StateManager) coveredLocked(src []int) bool {
	if len(src) == 0 {
		return false
	}
	for _, idx := range src {
		if _, ok := m.mask[idx]; !ok {
			return false
		}
	}
	return true
}

func (m *StateManager) recomputeLocked() {
	m.prefix = make([]int, len(m.items)+1)
	for i, item := range m.items {
		m.prefix[i+1] = m.prefix[i] + item.VirtualLength()
	}
}

func clampIndex(index, length int) int {
	if length == 0 {
		return 0
	}
	if index < 0 {
		return 0
	}
	if index >= length {
		return length - 1
	}
	return index
}

// Next advances to the nearest non-skipped item after the current index.
// It returns the new index and false when no such item exists, signalling
// end of queue; the index does not move in that case.
func (m *StateManager) Next() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := m.index + 1; i < len(m.items); i++ {
		if !m.items[i].Skipped {
			m.index = i
			return i, true
		}
	}
	return m.index, false
}

// Prev retreats to the nearest non-skipped item before the current index.
// When none exists it is a no-op.
func (m *StateManager) Prev() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := m.index - 1; i >= 0; i-- {
		if !m.items[i].Skipped {
			m.index = i
			return i, true
		}
	}
	return m.index, false
}

// JumpTo sets the current index directly, clamped into range. It does not
// consult the skip mask; mask-aware movement uses Next, Prev or
// SeekToTime.
func (m *StateManager) JumpTo(index int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = clampIndex(index, len(m.items))
	return m.index
}

// charsPerSecond returns the virtual reading rate for a playback speed.
func (m *StateManager) charsPerSecond(speed float64) float64 {
	if speed <= 0 {
		speed = 1.0
	}
	return m.charsPerMinute * speed / 60.0
}

// SeekToTime moves the current index to the item covering the given
// virtual playback time. Skipped items are transparently passed over. It
// reports whether the index actually changed; false is a meaningful
// result for idempotence checks.
func (m *StateManager) SeekToTime(t time.Duration, speed float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.items) == 0 {
		return false
	}

	offset := int(t.Seconds() * m.charsPerSecond(speed))
	if offset < 0 {
		offset = 0
	}

	total := m.prefix[len(m.items)]
	var target int
	if offset >= total {
		target = m.lastNarratableLocked()
	} else {
		// Smallest i with prefix[i+1] > offset. Skipped items have
		// prefix[i+1] == prefix[i] and are never selected.
		target = sort.Search(len(m.items), func(i int) bool {
			return m.prefix[i+1] > offset
		})
	}

	if target == m.index {
		return false
	}
	m.index = target
	return true
}

func (m *StateManager) lastNarratableLocked() int {
	for i := len(m.items) - 1; i >= 0; i-- {
		if !m.items[i].Skipped {
			return i
		}
	}
	return clampIndex(m.index, len(m.items))
}

// TimeAt returns the virtual playback time at the start of the item at
// index, at the given speed.
func (m *StateManager) TimeAt(index int, speed float64) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.items) == 0 {
		return 0
	}
	index = clampIndex(index, len(m.items))
	return m.durationForLocked(m.prefix[index], speed)
}

// TotalDuration estimates the full virtual duration of the queue.
func (m *StateManager) TotalDuration(speed float64) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.durationForLocked(m.prefix[len(m.items)], speed)
}

// RemainingDuration estimates the virtual duration from the start of the
// current item to the end of the queue.
func (m *StateManager) RemainingDuration(speed float64) time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.items) == 0 {
		return 0
	}
	remaining := m.prefix[len(m.items)] - m.prefix[m.index]
	return m.durationForLocked(remaining, speed)
}

func (m *StateManager) durationForLocked(chars int, speed float64) time.Duration {
	if chars <= 0 {
		return 0
	}
	return time.Duration(float64(chars) / m.charsPerSecond(speed) * float64(time.Second))
}

// TotalVirtualLength returns the sum of non-skipped item lengths.
func (m *StateManager) TotalVirtualLength() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.prefix[len(m.items)]
}

// Current returns the item at the current index.
func (m *StateManager) Current() (QueueItem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.index < 0 || m.index >= len(m.items) {
		return QueueItem{}, false
	}
	return m.items[m.index], true
}

// ItemAt returns the item at the given index.
func (m *StateManager) ItemAt(index int) (QueueItem, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if index < 0 || index >= len(m.items) {
		return QueueItem{}, false
	}
	return m.items[index], true
}

// NextNarratable returns the index of the first non-skipped item at or
// after the given index, without moving the current position.
func (m *StateManager) NextNarratable(from int) (int, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for i := max(from, 0); i < len(m.items); i++ {
		if !m.items[i].Skipped {
			return i, true
		}
	}
	return 0, false
}

// Index returns the current index.
func (m *StateManager) Index() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.index
}

// SectionIndex returns the section the queue belongs to.
func (m *StateManager) SectionIndex() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sectionIndex
}

// Len returns the number of items in the queue.
func (m *StateManager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

// Items returns a copy of the queue contents.
func (m *StateManager) Items() []QueueItem {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]QueueItem(nil), m.items...)
}

// Generation increments whenever SetQueue replaces the queue. Persistence
// uses it to decide when the heavy queue snapshot must be rewritten.
func (m *StateManager) Generation() uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.generation
}
