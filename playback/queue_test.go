package playback

import (
	"testing"
	"time"
)

// tenCharItems builds n items of exactly ten runes each, one source
// index per item.
func tenCharItems(n int) []QueueItem {
	items := make([]QueueItem, n)
	for i := range items {
		items[i] = QueueItem{
			Text:          "abcdefghij",
			LocationID:    "loc",
			SourceIndices: []int{i},
		}
	}
	return items
}

func TestVirtualLength(t *testing.T) {
	tests := []struct {
		name string
		item QueueItem
		want int
	}{
		{"plain", QueueItem{Text: "hello"}, 5},
		{"skipped", QueueItem{Text: "hello", Skipped: true}, 0},
		{"empty", QueueItem{}, 0},
		{"multibyte runes", QueueItem{Text: "héllo"}, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.VirtualLength(); got != tt.want {
				t.Errorf("VirtualLength() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestSetQueueResetsMask(t *testing.T) {
	m := NewStateManager(900)
	m.SetQueue(tenCharItems(3), 0, 0)
	m.ApplySkippedMask([]int{1})

	if got := m.TotalVirtualLength(); got != 20 {
		t.Fatalf("masked total = %d, want 20", got)
	}

	// Replacing the queue clears both mask and skipped flags.
	m.SetQueue(tenCharItems(3), 0, 0)
	if got := m.TotalVirtualLength(); got != 30 {
		t.Errorf("total after SetQueue = %d, want 30", got)
	}
	for i, item := range m.Items() {
		if item.Skipped {
			t.Errorf("item %d still skipped after SetQueue", i)
		}
	}
}

func TestSetQueueClampsStartIndex(t *testing.T) {
	m := NewStateManager(900)

	m.SetQueue(tenCharItems(3), 10, 0)
	if got := m.Index(); got != 2 {
		t.Errorf("index = %d, want 2", got)
	}
	m.SetQueue(tenCharItems(3), -4, 0)
	if got := m.Index(); got != 0 {
		t.Errorf("index = %d, want 0", got)
	}
	m.SetQueue(nil, 5, 0)
	if got := m.Index(); got != 0 {
		t.Errorf("index on empty queue = %d, want 0", got)
	}
}

func TestApplySkippedMask(t *testing.T) {
	m := NewStateManager(900)
	items := tenCharItems(5)
	// Item 2 subsumes raw indices 2 and 3.
	items[2].SourceIndices = []int{2, 3}
	items = append(items[:3], items[4:]...)
	announcement := QueueItem{Text: "Chapter One", IsAnnouncement: true}
	items = append([]QueueItem{announcement}, items...)
	m.SetQueue(items, 0, 0)

	t.Run("partial coverage keeps merged item", func(t *testing.T) {
		m.ApplySkippedMask([]int{2})
		for _, item := range m.Items() {
			if item.Skipped {
				t.Errorf("item %q skipped with partial mask", item.Text)
			}
		}
	})

	t.Run("full coverage skips merged item", func(t *testing.T) {
		m.ApplySkippedMask([]int{2, 3})
		skipped := 0
		for _, item := range m.Items() {
			if item.Skipped {
				skipped++
			}
		}
		if skipped != 1 {
			t.Errorf("skipped %d items, want 1", skipped)
		}
	})

	t.Run("announcements never skipped", func(t *testing.T) {
		m.ApplySkippedMask([]int{0, 1, 2, 3, 4})
		first := m.Items()[0]
		if !first.IsAnnouncement || first.Skipped {
			t.Errorf("announcement skipped: %+v", first)
		}
	})

	t.Run("empty mask restores everything", func(t *testing.T) {
		m.ApplySkippedMask(nil)
		for _, item := range m.Items() {
			if item.Skipped {
				t.Errorf("item %q skipped with empty mask", item.Text)
			}
		}
	})
}

func TestNextPrevSkipAware(t *testing.T) {
	m := NewStateManager(900)
	m.SetQueue(tenCharItems(5), 0, 0)
	m.ApplySkippedMask([]int{1, 2})

	idx, ok := m.Next()
	if !ok || idx != 3 {
		t.Fatalf("Next() = %d, %v, want 3, true", idx, ok)
	}
	idx, ok = m.Next()
	if !ok || idx != 4 {
		t.Fatalf("Next() = %d, %v, want 4, true", idx, ok)
	}
	idx, ok = m.Next()
	if ok {
		t.Fatalf("Next() past end = %d, %v, want no move", idx, ok)
	}
	if m.Index() != 4 {
		t.Fatalf("index moved on exhausted Next: %d", m.Index())
	}

	idx, ok = m.Prev()
	if !ok || idx != 3 {
		t.Fatalf("Prev() = %d, %v, want 3, true", idx, ok)
	}
	idx, ok = m.Prev()
	if !ok || idx != 0 {
		t.Fatalf("Prev() = %d, %v, want 0, true", idx, ok)
	}
	if _, ok = m.Prev(); ok {
		t.Fatal("Prev() at start should not move")
	}
}

func TestJumpToIgnoresMask(t *testing.T) {
	m := NewStateManager(900)
	m.SetQueue(tenCharItems(5), 0, 0)
	m.ApplySkippedMask([]int{2})

	if got := m.JumpTo(2); got != 2 {
		t.Errorf("JumpTo(2) = %d, want 2 even though skipped", got)
	}
	if got := m.JumpTo(99); got != 4 {
		t.Errorf("JumpTo(99) = %d, want 4", got)
	}
	if got := m.JumpTo(-1); got != 0 {
		t.Errorf("JumpTo(-1) = %d, want 0", got)
	}
}

func TestSeekToTime(t *testing.T) {
	// 900 chars per minute = 15 chars per second; each ten-char item
	// covers 2/3 of a second at speed 1.
	m := NewStateManager(900)
	m.SetQueue(tenCharItems(5), 0, 0)
	m.ApplySkippedMask([]int{1, 2})

	tests := []struct {
		name      string
		t         time.Duration
		wantIndex int
		wantMoved bool
	}{
		{"zero stays on first", 0, 0, false},
		{"inside first item", 500 * time.Millisecond, 0, false},
		// Offset 10..19 belongs to item 3: items 1 and 2 are skipped and
		// contribute nothing to the timeline.
		{"second virtual item", 700 * time.Millisecond, 3, true},
		{"third virtual item", 1500 * time.Millisecond, 4, true},
		{"past the end clamps to last narratable", time.Hour, 4, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			moved := m.SeekToTime(tt.t, 1.0)
			if m.Index() != tt.wantIndex {
				t.Errorf("index = %d, want %d", m.Index(), tt.wantIndex)
			}
			if moved != tt.wantMoved {
				t.Errorf("moved = %v, want %v", moved, tt.wantMoved)
			}
		})
	}
}

func TestSeekToTimeSpeedScales(t *testing.T) {
	m := NewStateManager(900)
	m.SetQueue(tenCharItems(5), 0, 0)

	// At 2x speed the reading rate doubles, so one second covers 30
	// chars: the seek lands on item 3.
	if !m.SeekToTime(time.Second, 2.0) {
		t.Fatal("seek did not move")
	}
	if got := m.Index(); got != 3 {
		t.Errorf("index = %d, want 3", got)
	}
}

func TestDurations(t *testing.T) {
	m := NewStateManager(900)
	m.SetQueue(tenCharItems(5), 0, 0)

	// 15 chars/sec at 900 chars/minute.
	at15 := func(chars float64) time.Duration {
		return time.Duration(chars / 15.0 * float64(time.Second))
	}

	if got, want := m.TotalDuration(1.0), at15(50); got != want {
		t.Errorf("TotalDuration = %v, want %v", got, want)
	}

	m.JumpTo(3)
	if got, want := m.RemainingDuration(1.0), at15(20); got != want {
		t.Errorf("RemainingDuration = %v, want %v", got, want)
	}

	m.ApplySkippedMask([]int{4})
	if got, want := m.RemainingDuration(1.0), at15(10); got != want {
		t.Errorf("RemainingDuration with mask = %v, want %v", got, want)
	}
}

func TestNextNarratable(t *testing.T) {
	m := NewStateManager(900)
	m.SetQueue(tenCharItems(4), 0, 0)
	m.ApplySkippedMask([]int{0, 1})

	idx, ok := m.NextNarratable(0)
	if !ok || idx != 2 {
		t.Errorf("NextNarratable(0) = %d, %v, want 2, true", idx, ok)
	}
	if m.Index() != 0 {
		t.Error("NextNarratable moved the current index")
	}

	m.ApplySkippedMask([]int{0, 1, 2, 3})
	if _, ok := m.NextNarratable(0); ok {
		t.Error("NextNarratable found an item in a fully masked queue")
	}
}

func TestGeneration(t *testing.T) {
	m := NewStateManager(900)
	gen := m.Generation()

	m.SetQueue(tenCharItems(2), 0, 0)
	if m.Generation() == gen {
		t.Error("SetQueue did not bump generation")
	}

	gen = m.Generation()
	m.JumpTo(1)
	m.ApplySkippedMask([]int{0})
	if m.Generation() != gen {
		t.Error("position and mask changes must not bump generation")
	}
}
