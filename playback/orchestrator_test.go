package playback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/vrwarp/versicle/playback/audio"
	"github.com/vrwarp/versicle/playback/provider"
)

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func sentenceItems(texts ...string) []QueueItem {
	items := make([]QueueItem, len(texts))
	for i, text := range texts {
		items[i] = QueueItem{
			Text:          text,
			LocationID:    fmt.Sprintf("loc%d", i),
			SourceIndices: []int{i},
		}
	}
	return items
}

type fakePipeline struct {
	mu       sync.Mutex
	sections [][]QueueItem
	err      error
	loads    int
}

func (f *fakePipeline) LoadNarratableQueue(ctx context.Context, sectionIndex int) ([]QueueItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if f.err != nil {
		return nil, f.err
	}
	if sectionIndex < 0 || sectionIndex >= len(f.sections) {
		return nil, fmt.Errorf("section %d out of range", sectionIndex)
	}
	return append([]QueueItem(nil), f.sections[sectionIndex]...), nil
}

func (f *fakePipeline) SectionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sections)
}

type memStore struct {
	mu            sync.Mutex
	snap          Snapshot
	has           bool
	queueSaves    int
	positionSaves int
}

func (s *memStore) SaveQueueSnapshot(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = snap
	s.has = true
	s.queueSaves++
	return nil
}

func (s *memStore) SavePositionOnly(_ context.Context, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.has {
		queue := s.snap.Queue
		s.snap = snap
		s.snap.Queue = queue
	}
	s.positionSaves++
	return nil
}

func (s *memStore) LoadLastSnapshot(_ context.Context, bookID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.has || s.snap.BookID != bookID {
		return Snapshot{}, ErrNoSnapshot
	}
	return s.snap, nil
}

func (s *memStore) counts() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueSaves, s.positionSaves
}

type historyCall struct {
	locationID string
	label      string
	completed  bool
}

type memHistory struct {
	mu    sync.Mutex
	calls []historyCall
}

func (h *memHistory) UpdateReadingHistory(_ context.Context, _, locationID, _, label string, completed bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, historyCall{locationID: locationID, label: label, completed: completed})
	return nil
}

func (h *memHistory) snapshot() []historyCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]historyCall(nil), h.calls...)
}

type fakePlatform struct {
	mu        sync.Mutex
	keepAlive bool
	denial    error
}

func (p *fakePlatform) SetKeepAlive(on bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if on && p.denial != nil {
		return p.denial
	}
	p.keepAlive = on
	return nil
}

func (p *fakePlatform) SetNowPlaying(NowPlayingInfo) error { return nil }

func (p *fakePlatform) SetPosition(_, _ time.Duration) error { return nil }

func (p *fakePlatform) alive() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.keepAlive
}

// newTestEngine builds an engine over a manually driven preview provider.
func newTestEngine(t *testing.T, deps Deps) (*Orchestrator, *provider.PreviewProvider) {
	t.Helper()

	pp := provider.NewPreviewProvider(provider.DefaultPreviewConfig())
	pp.SetManual(true)

	cfg := DefaultConfig()
	cfg.Provider = "preview"

	if deps.Providers == nil {
		deps.Providers = map[provider.Kind]provider.Provider{provider.KindPreview: pp}
	} else {
		deps.Providers[provider.KindPreview] = pp
	}
	if deps.Pipeline == nil {
		deps.Pipeline = &fakePipeline{sections: [][]QueueItem{sentenceItems("First sentence here.", "Second sentence here.", "Third sentence here.")}}
	}

	o, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { o.Close() })

	if err := o.LoadBook("book-1", "Test Book"); err != nil {
		t.Fatalf("LoadBook: %v", err)
	}
	o.Wait()
	return o, pp
}

func TestPlayStartsNarration(t *testing.T) {
	o, pp := newTestEngine(t, Deps{})

	o.Play()
	o.Wait()

	if got := o.Status(); got != StatusPlaying {
		t.Fatalf("status = %s, want playing", got)
	}
	if got := pp.LastText(); got != "First sentence here." {
		t.Errorf("narrating %q, want first item", got)
	}
	if pp.PlayCalls() != 1 {
		t.Errorf("play calls = %d, want 1", pp.PlayCalls())
	}
}

func TestPlayWhilePlayingIsNoop(t *testing.T) {
	o, pp := newTestEngine(t, Deps{})

	o.Play()
	o.Play()
	o.Wait()

	if pp.PlayCalls() != 1 {
		t.Errorf("play calls = %d, want 1", pp.PlayCalls())
	}
}

func TestNaturalEndAdvances(t *testing.T) {
	o, pp := newTestEngine(t, Deps{})

	o.Play()
	o.Wait()
	pp.FinishUtterance()

	waitFor(t, "advance to second item", func() bool {
		return o.CurrentIndex() == 1 && o.Status() == StatusPlaying
	})
	if got := pp.LastText(); got != "Second sentence here." {
		t.Errorf("narrating %q, want second item", got)
	}
}

func TestQueueExhaustionCompletes(t *testing.T) {
	pipeline := &fakePipeline{sections: [][]QueueItem{sentenceItems("Only sentence here.")}}
	o, pp := newTestEngine(t, Deps{Pipeline: pipeline})

	o.Play()
	o.Wait()
	pp.FinishUtterance()

	waitFor(t, "completed status", func() bool { return o.Status() == StatusCompleted })
}

func TestSectionAdvanceOnExhaustion(t *testing.T) {
	pipeline := &fakePipeline{sections: [][]QueueItem{
		sentenceItems("Chapter one sentence."),
		sentenceItems("Chapter two sentence."),
	}}
	o, pp := newTestEngine(t, Deps{Pipeline: pipeline})

	o.Play()
	o.Wait()
	pp.FinishUtterance()

	waitFor(t, "advance into second section", func() bool {
		return pp.LastText() == "Chapter two sentence." && o.Status() == StatusPlaying
	})

	pp.FinishUtterance()
	waitFor(t, "completed after final section", func() bool { return o.Status() == StatusCompleted })
}

func TestPauseAndResumeInPlace(t *testing.T) {
	o, pp := newTestEngine(t, Deps{})

	o.Play()
	o.Pause()
	o.Wait()

	if got := o.Status(); got != StatusPaused {
		t.Fatalf("status = %s, want paused", got)
	}

	// A short pause resumes in place with no rewind.
	o.Resume()
	o.Wait()

	if got := o.Status(); got != StatusPlaying {
		t.Fatalf("status = %s, want playing", got)
	}
	if got := o.CurrentIndex(); got != 0 {
		t.Errorf("index = %d, want 0", got)
	}
	if pp.PlayCalls() != 2 {
		t.Errorf("play calls = %d, want 2", pp.PlayCalls())
	}
}

func TestStopIsIdempotent(t *testing.T) {
	o, _ := newTestEngine(t, Deps{})

	o.Play()
	o.Stop()
	o.Stop()
	o.Wait()

	if got := o.Status(); got != StatusStopped {
		t.Fatalf("status = %s, want stopped", got)
	}
}

func TestBenignInterruptionNotSurfaced(t *testing.T) {
	o, _ := newTestEngine(t, Deps{})

	sub := o.Subscribe()
	var mu sync.Mutex
	var errs []error
	go func() {
		for u := range sub.Updates {
			if u.Err != nil {
				mu.Lock()
				errs = append(errs, u.Err)
				mu.Unlock()
			}
		}
	}()

	o.Play()
	o.Stop()
	o.Wait()
	// Give the provider's interruption event time to arrive and be
	// swallowed.
	time.Sleep(50 * time.Millisecond)
	o.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(errs) != 0 {
		t.Fatalf("deliberate stop surfaced errors: %v", errs)
	}
}

func TestNextWhilePlayingRestarts(t *testing.T) {
	o, pp := newTestEngine(t, Deps{})

	o.Play()
	o.Next()
	o.Wait()

	if got := o.CurrentIndex(); got != 1 {
		t.Fatalf("index = %d, want 1", got)
	}
	if got := o.Status(); got != StatusPlaying {
		t.Fatalf("status = %s, want playing", got)
	}
	if got := pp.LastText(); got != "Second sentence here." {
		t.Errorf("narrating %q, want second item", got)
	}
}

func TestNextWhilePausedDropsToStopped(t *testing.T) {
	o, _ := newTestEngine(t, Deps{})

	o.Play()
	o.Pause()
	o.Next()
	o.Wait()

	if got := o.Status(); got != StatusStopped {
		t.Fatalf("status = %s, want stopped", got)
	}
	if got := o.CurrentIndex(); got != 1 {
		t.Errorf("index = %d, want 1", got)
	}
}

func TestSeekToTimeWhilePlayingRestarts(t *testing.T) {
	o, pp := newTestEngine(t, Deps{})

	o.Play()
	// 21-char items at 15 chars/sec: 2 seconds lands on the second item.
	o.SeekToTime(2 * time.Second)
	o.Wait()

	if got := o.CurrentIndex(); got != 1 {
		t.Fatalf("index = %d, want 1", got)
	}
	if pp.PlayCalls() != 2 {
		t.Errorf("play calls = %d, want 2", pp.PlayCalls())
	}
}

func TestSetSkipMaskAdvancesOffCurrentItem(t *testing.T) {
	o, pp := newTestEngine(t, Deps{})

	o.Play()
	o.SetSkipMask([]int{0})
	o.Wait()

	if got := o.CurrentIndex(); got != 1 {
		t.Fatalf("index = %d, want 1", got)
	}
	if got := pp.LastText(); got != "Second sentence here." {
		t.Errorf("narrating %q, want second item", got)
	}
}

func TestFallbackSwapsToDeviceAndRetries(t *testing.T) {
	synth := &fakeSynth{}
	device := provider.NewDeviceProvider(synth, audio.NewMockPlayer())
	o, pp := newTestEngine(t, Deps{
		Providers: map[provider.Kind]provider.Provider{provider.KindDevice: device},
	})

	sub := o.Subscribe()
	var mu sync.Mutex
	var errs []error
	go func() {
		for u := range sub.Updates {
			if u.Err != nil {
				mu.Lock()
				errs = append(errs, u.Err)
				mu.Unlock()
			}
		}
	}()

	pp.FailNext(errors.New("synthesis exploded"))
	o.Play()

	// The retry lands on the device provider, whose mock player finishes
	// clips instantly, so the whole queue runs to completion.
	waitFor(t, "completion on fallback provider", func() bool {
		return o.Status() == StatusCompleted
	})

	if synth.count() == 0 {
		t.Error("device synthesizer never invoked after fallback")
	}
	mu.Lock()
	defer mu.Unlock()
	if len(errs) == 0 {
		t.Error("provider failure was not surfaced to subscribers")
	}
}

func TestDeviceFailureHalts(t *testing.T) {
	synth := &fakeSynth{fail: errors.New("model missing")}
	device := provider.NewDeviceProvider(synth, audio.NewMockPlayer())

	cfg := DefaultConfig()
	cfg.Provider = "device"
	o, err := New(cfg, Deps{
		Providers: map[provider.Kind]provider.Provider{provider.KindDevice: device},
		Pipeline:  &fakePipeline{sections: [][]QueueItem{sentenceItems("Doomed sentence here.")}},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { o.Close() })

	sub := o.Subscribe()
	var mu sync.Mutex
	var errs []error
	go func() {
		for u := range sub.Updates {
			if u.Err != nil {
				mu.Lock()
				errs = append(errs, u.Err)
				mu.Unlock()
			}
		}
	}()

	o.LoadBook("book-1", "Test Book")
	o.Play()
	o.Wait()

	if got := o.Status(); got != StatusStopped {
		t.Fatalf("status = %s, want stopped after halt", got)
	}
	waitFor(t, "halt error surfaced", func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, err := range errs {
			if errors.Is(err, ErrProviderHalted) {
				return true
			}
		}
		return false
	})
}

func TestContentLoadFailureNarratesAnnouncement(t *testing.T) {
	pipeline := &fakePipeline{err: errors.New("extraction failed")}
	history := &memHistory{}
	o, pp := newTestEngine(t, Deps{Pipeline: pipeline, History: history})

	o.Play()
	o.Wait()

	if got := o.Status(); got != StatusPlaying {
		t.Fatalf("status = %s, want playing", got)
	}
	if got := pp.LastText(); got != emptySectionText {
		t.Errorf("narrating %q, want announcement", got)
	}

	pp.FinishUtterance()
	waitFor(t, "completed", func() bool { return o.Status() == StatusCompleted })

	if calls := history.snapshot(); len(calls) != 0 {
		t.Errorf("announcement produced history entries: %v", calls)
	}
}

func TestHistoryExcludesAnnouncements(t *testing.T) {
	items := append([]QueueItem{{Text: "Chapter One", IsAnnouncement: true}},
		sentenceItems("Real sentence here.")...)
	pipeline := &fakePipeline{sections: [][]QueueItem{items}}
	history := &memHistory{}
	o, pp := newTestEngine(t, Deps{Pipeline: pipeline, History: history})

	o.Play()
	o.Wait()
	pp.FinishUtterance() // announcement
	waitFor(t, "advance past announcement", func() bool { return o.CurrentIndex() == 1 })
	pp.FinishUtterance() // real item
	waitFor(t, "completed", func() bool { return o.Status() == StatusCompleted })

	calls := history.snapshot()
	if len(calls) != 1 {
		t.Fatalf("history calls = %d, want 1: %v", len(calls), calls)
	}
	if calls[0].locationID != "loc0" || !calls[0].completed {
		t.Errorf("unexpected history entry: %+v", calls[0])
	}
}

func TestPauseRecordsInterruptedHistory(t *testing.T) {
	history := &memHistory{}
	o, _ := newTestEngine(t, Deps{History: history})

	o.Play()
	o.Pause()
	o.Wait()

	calls := history.snapshot()
	if len(calls) != 1 {
		t.Fatalf("history calls = %d, want 1", len(calls))
	}
	if calls[0].completed {
		t.Error("pause recorded a completed entry")
	}
}

func TestPersistCadence(t *testing.T) {
	store := &memStore{}
	o, _ := newTestEngine(t, Deps{Store: store})

	queueSaves, _ := store.counts()
	if queueSaves != 1 {
		t.Fatalf("queue saves after load = %d, want 1", queueSaves)
	}

	// Position-only moves must not rewrite the heavy queue payload.
	o.Play()
	o.Next()
	o.Pause()
	o.Wait()

	queueSaves, positionSaves := store.counts()
	if queueSaves != 1 {
		t.Errorf("queue saves = %d, want 1", queueSaves)
	}
	if positionSaves < 3 {
		t.Errorf("position saves = %d, want at least 3", positionSaves)
	}
}

func TestSnapshotRestoreAppliesRewind(t *testing.T) {
	store := &memStore{
		has: true,
		snap: Snapshot{
			BookID:       "book-1",
			Queue:        sentenceItems("a.", "b.", "c.", "d.", "e.", "f.", "g.", "h.", "i.", "j."),
			CurrentIndex: 8,
			SectionIndex: 0,
			PausedAt:     time.Now().Add(-10 * time.Minute),
		},
	}
	o, _ := newTestEngine(t, Deps{Store: store})

	if got := o.CurrentIndex(); got != 8 {
		t.Fatalf("restored index = %d, want 8", got)
	}

	// A ten minute gap on an event-driven provider rewinds five items.
	o.Play()
	o.Wait()

	if got := o.CurrentIndex(); got != 3 {
		t.Fatalf("index after smart resume = %d, want 3", got)
	}
	if got := o.Status(); got != StatusPlaying {
		t.Fatalf("status = %s, want playing", got)
	}
}

func TestRapidPlayPauseStopSettlesStopped(t *testing.T) {
	o, _ := newTestEngine(t, Deps{})

	// Issued back-to-back with no waits; the chain must apply them in
	// submission order and settle at stopped.
	o.Play()
	o.Pause()
	o.Stop()
	o.Wait()

	if got := o.Status(); got != StatusStopped {
		t.Fatalf("status = %s, want stopped", got)
	}

	// The engine is still usable afterwards.
	o.Play()
	o.Wait()
	if got := o.Status(); got != StatusPlaying {
		t.Errorf("status after restart = %s, want playing", got)
	}
}

func TestHistoryLabelKeepsRuneBoundaries(t *testing.T) {
	long := strings.Repeat("é", 60)
	pipeline := &fakePipeline{sections: [][]QueueItem{sentenceItems(long)}}
	hist := &memHistory{}
	o, _ := newTestEngine(t, Deps{Pipeline: pipeline, History: hist})

	o.Play()
	o.Pause()
	o.Wait()

	calls := hist.snapshot()
	if len(calls) != 1 {
		t.Fatalf("history calls = %d, want 1", len(calls))
	}
	label := calls[0].label
	if !utf8.ValidString(label) {
		t.Fatalf("label is not valid UTF-8: %q", label)
	}
	if want := strings.Repeat("é", 48); label != want {
		t.Errorf("label = %q, want first 48 runes", label)
	}
}

func TestInterruptedStartReleasesKeepAlive(t *testing.T) {
	platform := &fakePlatform{}
	o, pp := newTestEngine(t, Deps{Platform: platform})

	// The utterance is cancelled before audio begins. The engine must not
	// idle in loading with the background claim held.
	pp.FailNext(provider.ErrInterrupted)
	o.Play()
	o.Wait()

	if got := o.Status(); got != StatusStopped {
		t.Fatalf("status = %s, want stopped", got)
	}
	if platform.alive() {
		t.Error("keep-alive claim still held after aborted start")
	}
}

func TestSetSpeedOutOfRangeNotifiesSubscribers(t *testing.T) {
	o, _ := newTestEngine(t, Deps{})
	sub := o.Subscribe()
	defer o.Unsubscribe(sub.ID)

	o.SetSpeed(10.0)
	o.Wait()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case u := <-sub.Updates:
			if u.Err != nil && strings.Contains(u.Err.Error(), "out of range") {
				return
			}
		case <-deadline:
			t.Fatal("rejection never reached subscribers")
		}
	}
}

func TestSnapshotReflectsPosition(t *testing.T) {
	o, _ := newTestEngine(t, Deps{})

	o.Play()
	o.Next()
	o.Wait()

	snap := o.Snapshot()
	if snap.BookID != "book-1" {
		t.Errorf("BookID = %q, want book-1", snap.BookID)
	}
	if snap.CurrentIndex != 1 {
		t.Errorf("CurrentIndex = %d, want 1", snap.CurrentIndex)
	}
	if len(snap.Queue) != o.state.Len() {
		t.Errorf("queue = %d items, want %d", len(snap.Queue), o.state.Len())
	}
	if !snap.PausedAt.IsZero() {
		t.Errorf("PausedAt = %v while playing, want zero", snap.PausedAt)
	}
}

func TestSetSpeedRestartsUtterance(t *testing.T) {
	o, pp := newTestEngine(t, Deps{})

	o.Play()
	o.SetSpeed(1.5)
	o.Wait()

	if got := pp.LastOpts().Speed; got != 1.5 {
		t.Errorf("speed = %f, want 1.5", got)
	}
	if pp.PlayCalls() != 2 {
		t.Errorf("play calls = %d, want 2", pp.PlayCalls())
	}
}

func TestSetVoiceWhileStoppedDoesNotPlay(t *testing.T) {
	o, pp := newTestEngine(t, Deps{})

	o.SetVoice("preview-2")
	o.Play()
	o.Wait()

	if got := pp.LastOpts().VoiceID; got != "preview-2" {
		t.Errorf("voice = %q, want preview-2", got)
	}
	if pp.PlayCalls() != 1 {
		t.Errorf("play calls = %d, want 1", pp.PlayCalls())
	}
}

func TestCommandsAfterClose(t *testing.T) {
	o, _ := newTestEngine(t, Deps{})
	o.Close()

	if err := o.Play(); !errors.Is(err, ErrShutdown) {
		t.Errorf("Play after close = %v, want ErrShutdown", err)
	}
}

type fakeSynth struct {
	mu    sync.Mutex
	calls int
	fail  error
}

func (s *fakeSynth) Synthesize(_ context.Context, text string, _ provider.PlayOptions) (*audio.Clip, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.fail != nil {
		return nil, s.fail
	}
	return audio.NewPCMClip(make([]byte, 4410), 22050, 1), nil
}

func (s *fakeSynth) Voices() []provider.Voice {
	return []provider.Voice{{ID: "fake-voice", Name: "Fake", Language: "en-US", Installed: true}}
}

func (s *fakeSynth) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
