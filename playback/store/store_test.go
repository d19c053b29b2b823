package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/vrwarp/versicle/playback"
)

func newMemStore(t *testing.T) (*FileStore, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	s, err := NewFileStoreFS(fs, "/data/sessions")
	if err != nil {
		t.Fatalf("NewFileStoreFS: %v", err)
	}
	return s, fs
}

func sampleSnapshot() playback.Snapshot {
	return playback.Snapshot{
		BookID: "book-1",
		Queue: []playback.QueueItem{
			{Text: "Chapter One", IsAnnouncement: true},
			{Text: "It was a dark night.", LocationID: "s0.0", SourceIndices: []int{0}},
			{Text: "The wind howled.", LocationID: "s0.1", SourceIndices: []int{1}, Skipped: true},
		},
		CurrentIndex:   1,
		SectionIndex:   0,
		LastLocationID: "s0.0",
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	s, _ := newMemStore(t)
	ctx := context.Background()
	snap := sampleSnapshot()

	if err := s.SaveQueueSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveQueueSnapshot: %v", err)
	}
	got, err := s.LoadLastSnapshot(ctx, "book-1")
	if err != nil {
		t.Fatalf("LoadLastSnapshot: %v", err)
	}

	if got.BookID != snap.BookID || got.CurrentIndex != snap.CurrentIndex {
		t.Errorf("got %+v, want %+v", got, snap)
	}
	if len(got.Queue) != 3 {
		t.Fatalf("queue = %d items, want 3", len(got.Queue))
	}
	if !got.Queue[0].IsAnnouncement || !got.Queue[2].Skipped {
		t.Errorf("queue flags lost: %+v", got.Queue)
	}
	if got.Queue[1].LocationID != "s0.0" || len(got.Queue[1].SourceIndices) != 1 {
		t.Errorf("queue item lost detail: %+v", got.Queue[1])
	}
}

func TestLoadMissingSnapshot(t *testing.T) {
	s, _ := newMemStore(t)

	_, err := s.LoadLastSnapshot(context.Background(), "never-saved")
	if !errors.Is(err, playback.ErrNoSnapshot) {
		t.Errorf("LoadLastSnapshot = %v, want ErrNoSnapshot", err)
	}
}

func TestPositionOverlaysQueueSnapshot(t *testing.T) {
	s, _ := newMemStore(t)
	ctx := context.Background()
	snap := sampleSnapshot()

	if err := s.SaveQueueSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveQueueSnapshot: %v", err)
	}

	// A later lightweight save moves the position without touching the
	// queue payload.
	paused := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	snap.CurrentIndex = 2
	snap.LastLocationID = "s0.1"
	snap.PausedAt = paused
	if err := s.SavePositionOnly(ctx, snap); err != nil {
		t.Fatalf("SavePositionOnly: %v", err)
	}

	got, err := s.LoadLastSnapshot(ctx, "book-1")
	if err != nil {
		t.Fatalf("LoadLastSnapshot: %v", err)
	}
	if got.CurrentIndex != 2 || got.LastLocationID != "s0.1" {
		t.Errorf("position not overlaid: index %d location %q", got.CurrentIndex, got.LastLocationID)
	}
	if !got.PausedAt.Equal(paused) {
		t.Errorf("PausedAt = %v, want %v", got.PausedAt, paused)
	}
	if len(got.Queue) != 3 {
		t.Errorf("queue payload lost on position overlay: %d items", len(got.Queue))
	}
}

func TestPositionOnlyWithoutSnapshot(t *testing.T) {
	s, _ := newMemStore(t)
	ctx := context.Background()

	snap := sampleSnapshot()
	snap.Queue = nil
	if err := s.SavePositionOnly(ctx, snap); err != nil {
		t.Fatalf("SavePositionOnly: %v", err)
	}

	// Without a queue snapshot there is nothing to resume from.
	if _, err := s.LoadLastSnapshot(ctx, "book-1"); !errors.Is(err, playback.ErrNoSnapshot) {
		t.Errorf("LoadLastSnapshot = %v, want ErrNoSnapshot", err)
	}
}

func TestQueueSaveResetsStalePosition(t *testing.T) {
	s, _ := newMemStore(t)
	ctx := context.Background()
	snap := sampleSnapshot()

	if err := s.SaveQueueSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveQueueSnapshot: %v", err)
	}
	snap.CurrentIndex = 2
	if err := s.SavePositionOnly(ctx, snap); err != nil {
		t.Fatalf("SavePositionOnly: %v", err)
	}

	// Re-saving the queue (a regeneration) rewrites the position record
	// too, so the stale index cannot shadow the fresh snapshot.
	snap.CurrentIndex = 0
	if err := s.SaveQueueSnapshot(ctx, snap); err != nil {
		t.Fatalf("second SaveQueueSnapshot: %v", err)
	}
	got, err := s.LoadLastSnapshot(ctx, "book-1")
	if err != nil {
		t.Fatalf("LoadLastSnapshot: %v", err)
	}
	if got.CurrentIndex != 0 {
		t.Errorf("CurrentIndex = %d, want fresh snapshot position", got.CurrentIndex)
	}
}

func TestLoadClampsOutOfRangeIndex(t *testing.T) {
	s, _ := newMemStore(t)
	ctx := context.Background()
	snap := sampleSnapshot()

	if err := s.SaveQueueSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveQueueSnapshot: %v", err)
	}
	snap.CurrentIndex = 99
	if err := s.SavePositionOnly(ctx, snap); err != nil {
		t.Fatalf("SavePositionOnly: %v", err)
	}

	got, err := s.LoadLastSnapshot(ctx, "book-1")
	if err != nil {
		t.Fatalf("LoadLastSnapshot: %v", err)
	}
	if got.CurrentIndex != len(got.Queue)-1 {
		t.Errorf("CurrentIndex = %d, want clamped to %d", got.CurrentIndex, len(got.Queue)-1)
	}
}

func TestSaveRejectsEmptyBookID(t *testing.T) {
	s, _ := newMemStore(t)
	ctx := context.Background()

	if err := s.SaveQueueSnapshot(ctx, playback.Snapshot{}); err == nil {
		t.Error("SaveQueueSnapshot accepted empty book id")
	}
	if err := s.SavePositionOnly(ctx, playback.Snapshot{}); err == nil {
		t.Error("SavePositionOnly accepted empty book id")
	}
}

func TestSaveHonorsCancelledContext(t *testing.T) {
	s, _ := newMemStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.SaveQueueSnapshot(ctx, sampleSnapshot()); !errors.Is(err, context.Canceled) {
		t.Errorf("SaveQueueSnapshot = %v, want context.Canceled", err)
	}
}

func TestSessionsAreIsolatedPerBook(t *testing.T) {
	s, _ := newMemStore(t)
	ctx := context.Background()

	a := sampleSnapshot()
	b := sampleSnapshot()
	b.BookID = "book-2"
	b.CurrentIndex = 2
	if err := s.SaveQueueSnapshot(ctx, a); err != nil {
		t.Fatalf("save a: %v", err)
	}
	if err := s.SaveQueueSnapshot(ctx, b); err != nil {
		t.Fatalf("save b: %v", err)
	}

	gotA, err := s.LoadLastSnapshot(ctx, "book-1")
	if err != nil {
		t.Fatalf("load a: %v", err)
	}
	gotB, err := s.LoadLastSnapshot(ctx, "book-2")
	if err != nil {
		t.Fatalf("load b: %v", err)
	}
	if gotA.CurrentIndex != 1 || gotB.CurrentIndex != 2 {
		t.Errorf("sessions bled together: a=%d b=%d", gotA.CurrentIndex, gotB.CurrentIndex)
	}
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"abc123", "abc123"},
		{"a/b\\c", "a_b_c"},
		{"book id!", "book_id_"},
		{"v1.2-rc_3", "v1.2-rc_3"},
	}
	for _, tt := range tests {
		if got := sanitize(tt.in); got != tt.want {
			t.Errorf("sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNoLeftoverTempFiles(t *testing.T) {
	s, fs := newMemStore(t)
	if err := s.SaveQueueSnapshot(context.Background(), sampleSnapshot()); err != nil {
		t.Fatalf("SaveQueueSnapshot: %v", err)
	}

	infos, err := afero.ReadDir(fs, "/data/sessions")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	for _, info := range infos {
		if name := info.Name(); len(name) > 4 && name[len(name)-4:] == ".tmp" {
			t.Errorf("temp file left behind: %s", name)
		}
	}
}
