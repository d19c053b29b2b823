package playback

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/vrwarp/versicle/playback/align"
	"github.com/vrwarp/versicle/playback/provider"
)

// emptySectionText narrates in place of a section with no readable text.
const emptySectionText = "This chapter has no readable text."

// historySource tags reading-history entries produced by narration.
const historySource = "tts"

// Deps are the collaborators injected at the composition root. Pipeline
// and Providers are required; the rest default to no-ops.
type Deps struct {
	Providers map[provider.Kind]provider.Provider
	Pipeline  ContentPipeline
	Lexicon   Lexicon
	Store     SnapshotStore
	History   HistoryRecorder
	Reader    VisualReader
	Platform  Platform
}

// Orchestrator drives narration: it owns the queue and status, selects
// and hot-swaps the active speech provider, applies the smart-resume
// rewind policy, persists session snapshots and notifies subscribers of
// every transition.
//
// Every public mutating method is appended to a single FIFO task chain,
// so commands issued in rapid succession execute in submission order with
// no interleaving, and provider events are routed back through the same
// chain before they touch shared state. Commands settle; they never
// throw playback failures across the API boundary.
type Orchestrator struct {
	config Config
	logger *log.Logger

	chain   *taskChain
	state   *StateManager
	tracker *align.Tracker

	ctx    context.Context
	cancel context.CancelFunc

	pipeline ContentPipeline
	lexicon  Lexicon
	store    SnapshotStore
	history  HistoryRecorder
	platform Platform

	// Everything below is guarded by mu. Mutation happens only inside
	// chained tasks; the lock exists so accessors can read consistently.
	mu          sync.RWMutex
	machine     *statusMachine
	providers   map[provider.Kind]provider.Provider
	active      provider.Provider
	initialized map[provider.Kind]bool
	pumpCancel  context.CancelFunc

	bookID   string
	title    string
	speed    float64
	voiceID  string
	pausedAt time.Time

	lastPersistedGen uint64
	download         float64

	subMu       sync.Mutex
	subscribers map[uuid.UUID]*subscriber
}

// New constructs an orchestrator. There is deliberately no package-level
// instance; the application's composition root owns the lifecycle.
func New(config Config, deps Deps) (*Orchestrator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("content pipeline is required")
	}
	if len(deps.Providers) == 0 {
		return nil, fmt.Errorf("at least one speech provider is required")
	}
	initial, _ := provider.ParseKind(config.Provider)
	active, ok := deps.Providers[initial]
	if !ok {
		return nil, fmt.Errorf("configured provider %q not supplied", config.Provider)
	}

	if deps.Lexicon == nil {
		deps.Lexicon = noopLexicon{}
	}
	if deps.Store == nil {
		deps.Store = noopStore{}
	}
	if deps.Platform == nil {
		deps.Platform = noopPlatform{}
	}
	if deps.Reader == nil {
		deps.Reader = noopReader{}
	}

	logger := log.WithPrefix("playback")
	ctx, cancel := context.WithCancel(context.Background())

	o := &Orchestrator{
		config:      config,
		logger:      logger,
		chain:       newTaskChain(config.ChainBuffer, logger),
		state:       NewStateManager(config.CharsPerMinute),
		tracker:     align.NewTracker(deps.Reader),
		ctx:         ctx,
		cancel:      cancel,
		pipeline:    deps.Pipeline,
		lexicon:     deps.Lexicon,
		store:       deps.Store,
		history:     deps.History,
		platform:    deps.Platform,
		machine:     newStatusMachine(),
		providers:   deps.Providers,
		active:      active,
		initialized: make(map[provider.Kind]bool),
		speed:       config.Speed,
		voiceID:     config.VoiceID,
		download:    -1,
		subscribers: make(map[uuid.UUID]*subscriber),
	}

	o.startPump(active)
	return o, nil
}

// Status returns the current playback status.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.machine.Current()
}

// CurrentIndex returns the current queue index.
func (o *Orchestrator) CurrentIndex() int { return o.state.Index() }

// Queue returns a copy of the current queue.
func (o *Orchestrator) Queue() []QueueItem { return o.state.Items() }

// TotalDuration estimates the skip-aware duration of the whole queue.
func (o *Orchestrator) TotalDuration() time.Duration {
	o.mu.RLock()
	speed := o.speed
	o.mu.RUnlock()
	return o.state.TotalDuration(speed)
}

// RemainingDuration estimates the skip-aware duration left to narrate.
func (o *Orchestrator) RemainingDuration() time.Duration {
	o.mu.RLock()
	speed := o.speed
	o.mu.RUnlock()
	return o.state.RemainingDuration(speed)
}

// Wait blocks until every previously submitted command has settled.
func (o *Orchestrator) Wait() { o.chain.flush() }

// SetForeground informs the alignment tracker of document visibility.
// This deliberately bypasses the task chain: it only produces a catch-up
// display action and never mutates playback state.
func (o *Orchestrator) SetForeground(foreground bool) {
	o.tracker.SetForeground(foreground)
}

// Subscribe registers an update consumer. Delivery never blocks the
// engine; slow subscribers lose intermediate updates.
func (o *Orchestrator) Subscribe() Subscription {
	sub := &subscriber{id: uuid.New(), ch: make(chan Update, 16)}
	o.subMu.Lock()
	o.subscribers[sub.id] = sub
	o.subMu.Unlock()
	return Subscription{ID: sub.id, Updates: sub.ch}
}

// Unsubscribe removes a registration and closes its channel.
func (o *Orchestrator) Unsubscribe(id uuid.UUID) {
	o.subMu.Lock()
	defer o.subMu.Unlock()
	if sub, ok := o.subscribers[id]; ok {
		delete(o.subscribers, id)
		close(sub.ch)
	}
}

// Commands. Each settles by enqueueing onto the FIFO chain; the returned
// error only reports submission after shutdown, never playback failures.

// LoadBook makes bookID the current book, restoring its last persisted
// session when one exists and loading the first section otherwise.
func (o *Orchestrator) LoadBook(bookID, title string) error {
	return o.submit("load-book", func() error {
		o.stopLocked(false)
		o.mu.Lock()
		o.bookID = bookID
		o.title = title
		o.pausedAt = time.Time{}
		o.lastPersistedGen = 0
		o.mu.Unlock()
		return o.restoreOrLoadFirst()
	})
}

// LoadSection replaces the queue with the given section's content.
func (o *Orchestrator) LoadSection(sectionIndex int) error {
	return o.submit("load-section", func() error {
		wasPlaying := o.playingLocked()
		items := o.loadSectionItems(sectionIndex)
		o.state.SetQueue(items, 0, sectionIndex)
		if wasPlaying {
			return o.startPlaybackAt(o.state.Index())
		}
		o.persist()
		o.notify(nil)
		return nil
	})
}

// Play starts narration, resumes a paused session in place, or restores
// a prior session for the current book.
func (o *Orchestrator) Play() error {
	return o.submit("play", func() error {
		switch o.Status() {
		case StatusPlaying:
			return nil
		case StatusPaused:
			return o.resumeLocked()
		}
		if o.state.Len() == 0 {
			if err := o.restoreOrLoadFirst(); err != nil {
				return err
			}
		}
		// A restored session carries its pause timestamp, so starting it
		// goes through the smart-resume rewind.
		o.mu.RLock()
		restoredPause := o.pausedAt
		o.mu.RUnlock()
		if !restoredPause.IsZero() {
			return o.resumeLocked()
		}
		start, ok := o.state.NextNarratable(o.state.Index())
		if !ok {
			// Already past the end of the queue.
			o.transition(StatusStopped)
			o.notify(nil)
			return ErrQueueExhausted
		}
		o.state.JumpTo(start)
		return o.startPlaybackAt(start)
	})
}

// Pause suspends narration, recording the pause timestamp used by smart
// resume and persisting the position.
func (o *Orchestrator) Pause() error {
	return o.submit("pause", func() error {
		if s := o.Status(); s != StatusPlaying && s != StatusLoading {
			return nil
		}
		o.mu.Lock()
		o.pausedAt = time.Now()
		o.mu.Unlock()

		o.reportHistory(false)
		o.stopProvider()
		o.transition(StatusPaused)
		o.persist()
		o.notify(nil)
		return nil
	})
}

// Resume continues a paused session, applying the smart-resume rewind
// policy scaled by how long the pause lasted.
func (o *Orchestrator) Resume() error {
	return o.submit("resume", func() error {
		if o.Status() != StatusPaused {
			return nil
		}
		return o.resumeLocked()
	})
}

// Stop halts narration, persists the position, clears the highlight and
// releases platform claims. Idempotent.
func (o *Orchestrator) Stop() error {
	return o.submit("stop", func() error {
		o.stopLocked(true)
		o.notify(nil)
		return nil
	})
}

// Next advances to the nearest following non-skipped item. When paused it
// drops to stopped instead of silently resuming audio.
func (o *Orchestrator) Next() error {
	return o.submit("next", func() error { return o.step(true) })
}

// Prev retreats to the nearest preceding non-skipped item. When paused it
// drops to stopped instead of silently resuming audio.
func (o *Orchestrator) Prev() error {
	return o.submit("prev", func() error { return o.step(false) })
}

// JumpTo moves directly to an index, ignoring the skip mask.
func (o *Orchestrator) JumpTo(index int) error {
	return o.submit("jump-to", func() error {
		o.state.JumpTo(index)
		return o.afterNavigate()
	})
}

// SeekByOffset moves by a relative number of items, ignoring the mask.
func (o *Orchestrator) SeekByOffset(delta int) error {
	return o.submit("seek-by-offset", func() error {
		o.state.JumpTo(o.state.Index() + delta)
		return o.afterNavigate()
	})
}

// SeekToTime moves to the item covering the given virtual playback time,
// silently skipping masked items.
func (o *Orchestrator) SeekToTime(t time.Duration) error {
	return o.submit("seek-to-time", func() error {
		o.mu.RLock()
		speed := o.speed
		o.mu.RUnlock()
		if !o.state.SeekToTime(t, speed) {
			return nil
		}
		return o.afterNavigate()
	})
}

// SetSpeed changes the playback rate, restarting the current utterance
// when narrating.
func (o *Orchestrator) SetSpeed(speed float64) error {
	return o.submit("set-speed", func() error {
		if speed < 0.25 || speed > 4.0 {
			err := fmt.Errorf("speed %f out of range", speed)
			o.notify(err)
			return err
		}
		o.mu.Lock()
		o.speed = speed
		o.mu.Unlock()
		if o.playingLocked() {
			return o.startPlaybackAt(o.state.Index())
		}
		o.notify(nil)
		return nil
	})
}

// SetVoice changes the narration voice, restarting the current utterance
// when narrating.
func (o *Orchestrator) SetVoice(voiceID string) error {
	return o.submit("set-voice", func() error {
		o.mu.Lock()
		o.voiceID = voiceID
		o.mu.Unlock()
		if o.playingLocked() {
			return o.startPlaybackAt(o.state.Index())
		}
		o.notify(nil)
		return nil
	})
}

// SetProvider hot-swaps the active speech backend.
func (o *Orchestrator) SetProvider(kind provider.Kind) error {
	return o.submit("set-provider", func() error {
		wasPlaying := o.playingLocked()
		if err := o.swapTo(kind); err != nil {
			o.notify(err)
			return err
		}
		if wasPlaying {
			return o.startPlaybackAt(o.state.Index())
		}
		o.notify(nil)
		return nil
	})
}

// SetSkipMask replaces the set of excluded raw segment indices. An item
// is skipped only when every one of its source indices is masked.
func (o *Orchestrator) SetSkipMask(rawIndices []int) error {
	return o.submit("set-skip-mask", func() error {
		o.state.ApplySkippedMask(rawIndices)
		if cur, ok := o.state.Current(); ok && cur.Skipped && o.playingLocked() {
			next, found := o.state.NextNarratable(o.state.Index())
			if !found {
				return o.finishQueue()
			}
			o.state.JumpTo(next)
			return o.startPlaybackAt(next)
		}
		o.persist()
		o.notify(nil)
		return nil
	})
}

// PreviewVoice speaks a sample through the preview provider. Preview
// playback bypasses the main queue and produces no reading-history
// side effects.
func (o *Orchestrator) PreviewVoice(voiceID, sample string) error {
	return o.submit("preview-voice", func() error {
		p, ok := o.providerFor(provider.KindPreview)
		if !ok {
			return fmt.Errorf("no preview provider configured")
		}
		if err := o.ensureInit(p); err != nil {
			return err
		}
		o.mu.RLock()
		speed := o.speed
		o.mu.RUnlock()
		return p.Play(o.ctx, sample, provider.PlayOptions{VoiceID: voiceID, Speed: speed})
	})
}

// Voices lists the active provider's voice catalog.
func (o *Orchestrator) Voices() []provider.Voice {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.active.Voices()
}

// Close drains pending commands, halts playback and shuts down every
// provider.
func (o *Orchestrator) Close() error {
	o.submit("close-stop", func() error {
		o.stopLocked(true)
		return nil
	})
	o.chain.close()
	o.cancel()

	o.mu.Lock()
	if o.pumpCancel != nil {
		o.pumpCancel()
	}
	providers := o.providers
	o.mu.Unlock()

	for kind, p := range providers {
		if err := p.Shutdown(); err != nil {
			o.logger.Warn("provider shutdown failed", "provider", kind, "err", err)
		}
	}

	o.subMu.Lock()
	for id, sub := range o.subscribers {
		delete(o.subscribers, id)
		close(sub.ch)
	}
	o.subMu.Unlock()
	return nil
}

// Internals. Everything below runs inside chained tasks.

func (o *Orchestrator) submit(name string, fn func() error) error {
	if !o.chain.enqueue(name, fn) {
		return ErrShutdown
	}
	return nil
}

func (o *Orchestrator) playingLocked() bool {
	s := o.Status()
	return s == StatusPlaying || s == StatusLoading
}

func (o *Orchestrator) transition(to Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.machine.transition(to) {
		o.logger.Warn("invalid status transition", "from", o.machine.Current(), "to", to)
	}
}

func (o *Orchestrator) providerFor(kind provider.Kind) (provider.Provider, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	p, ok := o.providers[kind]
	return p, ok
}

func (o *Orchestrator) ensureInit(p provider.Provider) error {
	o.mu.Lock()
	done := o.initialized[p.Kind()]
	o.mu.Unlock()
	if done {
		return nil
	}
	if err := p.Init(o.ctx); err != nil {
		return fmt.Errorf("init %s provider: %w", p.Kind(), err)
	}
	o.mu.Lock()
	o.initialized[p.Kind()] = true
	o.mu.Unlock()
	return nil
}

// startPump routes the provider's event stream back into the task chain.
// Timing events feed the alignment tracker directly; lifecycle events are
// chained so they cannot interleave with user commands.
func (o *Orchestrator) startPump(p provider.Provider) {
	ctx, cancel := context.WithCancel(o.ctx)
	o.mu.Lock()
	o.pumpCancel = cancel
	o.mu.Unlock()

	go func() {
		events := p.Events()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				o.routeEvent(ev)
			}
		}
	}()
}

func (o *Orchestrator) routeEvent(ev provider.Event) {
	switch ev.Kind {
	case provider.EventBoundary, provider.EventTimeUpdate, provider.EventMeta:
		o.tracker.Observe(ev)
		if ev.Kind == provider.EventTimeUpdate {
			if err := o.platform.SetPosition(ev.Position, ev.Duration); err != nil {
				o.logger.Debug("platform position update failed", "err", err)
			}
		}
	case provider.EventStart:
		// Playback start is driven synchronously by startPlaybackAt.
	case provider.EventEnd:
		o.chain.enqueue("provider-end", o.handleEnd)
	case provider.EventError:
		o.chain.enqueue("provider-error", func() error { return o.handleProviderError(ev.Err) })
	case provider.EventDownloadProgress:
		o.chain.enqueue("download-progress", func() error {
			o.mu.Lock()
			if ev.Progress >= 1 {
				o.download = -1
			} else {
				o.download = ev.Progress
			}
			o.mu.Unlock()
			o.notify(nil)
			return nil
		})
	}
}

// loadSectionItems loads a section's queue, substituting a synthetic
// announcement when the pipeline fails or returns nothing.
func (o *Orchestrator) loadSectionItems(sectionIndex int) []QueueItem {
	items, err := o.pipeline.LoadNarratableQueue(o.ctx, sectionIndex)
	if err != nil {
		o.logger.Warn("content load failed, narrating announcement", "section", sectionIndex, "err", err)
		return []QueueItem{{Text: emptySectionText, IsAnnouncement: true}}
	}
	if len(items) == 0 {
		return []QueueItem{{Text: emptySectionText, IsAnnouncement: true}}
	}
	return items
}

// restoreOrLoadFirst restores the book's persisted session when present,
// otherwise loads section zero.
func (o *Orchestrator) restoreOrLoadFirst() error {
	o.mu.RLock()
	bookID := o.bookID
	o.mu.RUnlock()
	if bookID == "" {
		return ErrNoContent
	}

	snap, err := o.store.LoadLastSnapshot(o.ctx, bookID)
	if err == nil && len(snap.Queue) > 0 {
		o.state.SetQueue(snap.Queue, snap.CurrentIndex, snap.SectionIndex)
		o.mu.Lock()
		o.pausedAt = snap.PausedAt
		o.lastPersistedGen = o.state.Generation()
		o.mu.Unlock()
		o.notify(nil)
		return nil
	}
	if err != nil && err != ErrNoSnapshot {
		o.logger.Warn("snapshot restore failed", "book", bookID, "err", err)
	}

	items := o.loadSectionItems(0)
	o.state.SetQueue(items, 0, 0)
	o.persist()
	o.notify(nil)
	return nil
}

// startPlaybackAt begins narrating the item at index on the active
// provider. Pronunciation substitution is applied here, immediately
// before the text reaches the provider.
func (o *Orchestrator) startPlaybackAt(index int) error {
	item, ok := o.state.ItemAt(index)
	if !ok {
		o.transition(StatusStopped)
		o.notify(nil)
		return ErrQueueExhausted
	}
	o.state.JumpTo(index)

	o.transition(StatusLoading)
	o.notify(nil)

	if err := o.platform.SetKeepAlive(true); err != nil {
		err = fmt.Errorf("%w: %v", ErrBackgroundAudioDenied, err)
		o.transition(StatusStopped)
		o.notify(err)
		return err
	}

	o.mu.RLock()
	active := o.active
	speed := o.speed
	voiceID := o.voiceID
	title := o.title
	bookID := o.bookID
	o.mu.RUnlock()

	if err := o.ensureInit(active); err != nil {
		return o.handleProviderError(err)
	}

	text := o.lexicon.Apply(item.Text)
	opts := provider.PlayOptions{VoiceID: voiceID, Speed: speed}
	if err := active.Play(o.ctx, text, opts); err != nil {
		if IsBenignInterruption(err) {
			// The start was cancelled before audio began. Idling in
			// loading would hold the keep-alive claim forever.
			o.logger.Debug("utterance start interrupted", "err", err)
			if kerr := o.platform.SetKeepAlive(false); kerr != nil {
				o.logger.Debug("keep-alive release failed", "err", kerr)
			}
			o.transition(StatusStopped)
			o.notify(nil)
			return nil
		}
		return o.handleProviderError(err)
	}

	o.transition(StatusPlaying)
	o.tracker.BeginItem(item.LocationID)

	if err := o.platform.SetNowPlaying(NowPlayingInfo{
		BookID:  bookID,
		Title:   title,
		Section: o.state.SectionIndex(),
		Playing: true,
	}); err != nil {
		o.logger.Debug("media session update failed", "err", err)
	}

	// Best-effort look-ahead synthesis of the next narratable item.
	if next, found := o.state.NextNarratable(index + 1); found {
		if nextItem, ok := o.state.ItemAt(next); ok {
			go active.Preload(o.ctx, o.lexicon.Apply(nextItem.Text), opts)
		}
	}

	o.persist()
	o.notify(nil)
	return nil
}

// handleEnd reacts to natural utterance completion: report progress,
// advance within the queue, or advance into the next section, or finish.
func (o *Orchestrator) handleEnd() error {
	if !o.playingLocked() {
		// A pause or stop landed ahead of this event on the chain.
		return nil
	}

	o.reportHistory(true)

	if next, ok := o.state.Next(); ok {
		return o.startPlaybackAt(next)
	}

	nextSection := o.state.SectionIndex() + 1
	if nextSection < o.pipeline.SectionCount() {
		items := o.loadSectionItems(nextSection)
		o.state.SetQueue(items, 0, nextSection)
		return o.startPlaybackAt(0)
	}

	return o.finishQueue()
}

// finishQueue transitions to completed: the queue is exhausted and no
// further section exists.
func (o *Orchestrator) finishQueue() error {
	o.stopProvider()
	o.tracker.Clear()
	if err := o.platform.SetKeepAlive(false); err != nil {
		o.logger.Debug("keep-alive release failed", "err", err)
	}
	o.transition(StatusCompleted)
	o.persist()
	o.notify(nil)
	return nil
}

// handleProviderError implements the error taxonomy: benign
// interruptions are swallowed; failures on a non-fallback provider
// surface and trigger one swap-and-retry onto the on-device provider;
// fallback failures halt.
func (o *Orchestrator) handleProviderError(err error) error {
	if IsBenignInterruption(err) {
		o.logger.Debug("ignoring benign interruption", "err", err)
		return nil
	}

	o.mu.RLock()
	currentKind := o.active.Kind()
	o.mu.RUnlock()

	o.notify(err)

	nextKind, swap := provider.Fallback(currentKind, err)
	if swap {
		if _, ok := o.providerFor(nextKind); ok {
			o.logger.Warn("provider failed, falling back", "from", currentKind, "to", nextKind, "err", err)
			if swapErr := o.swapTo(nextKind); swapErr == nil {
				return o.retryCurrent()
			}
		}
	}

	o.logger.Error("speech provider halted", "provider", currentKind, "err", err)
	o.stopLocked(true)
	o.notify(fmt.Errorf("%w: %v", ErrProviderHalted, err))
	return err
}

// retryCurrent replays the current item once on the freshly swapped
// provider; a second failure halts rather than looping.
func (o *Orchestrator) retryCurrent() error {
	item, ok := o.state.Current()
	if !ok {
		return ErrQueueExhausted
	}

	o.mu.RLock()
	active := o.active
	speed := o.speed
	voiceID := o.voiceID
	o.mu.RUnlock()

	if err := o.ensureInit(active); err != nil {
		o.stopLocked(true)
		o.notify(fmt.Errorf("%w: %v", ErrProviderHalted, err))
		return err
	}

	text := o.lexicon.Apply(item.Text)
	if err := active.Play(o.ctx, text, provider.PlayOptions{VoiceID: voiceID, Speed: speed}); err != nil {
		o.stopLocked(true)
		o.notify(fmt.Errorf("%w: %v", ErrProviderHalted, err))
		return err
	}

	o.transition(StatusPlaying)
	o.tracker.BeginItem(item.LocationID)
	o.notify(nil)
	return nil
}

// swapTo makes kind the active provider and repoints the event pump.
func (o *Orchestrator) swapTo(kind provider.Kind) error {
	next, ok := o.providerFor(kind)
	if !ok {
		return fmt.Errorf("provider %s not configured", kind)
	}

	o.stopProvider()

	o.mu.Lock()
	if o.pumpCancel != nil {
		o.pumpCancel()
	}
	o.active = next
	o.mu.Unlock()

	if err := o.ensureInit(next); err != nil {
		return err
	}
	o.startPump(next)
	return nil
}

// resumeLocked applies the smart-resume rewind policy and restarts
// playback. The rewind unit follows the capabilities of the provider
// active at resume time: whole items for event-driven providers,
// wall-clock seconds mapped through the virtual timeline otherwise.
func (o *Orchestrator) resumeLocked() error {
	o.mu.RLock()
	pausedAt := o.pausedAt
	speed := o.speed
	caps := o.active.Capabilities()
	o.mu.RUnlock()

	var gap time.Duration
	if !pausedAt.IsZero() {
		gap = time.Since(pausedAt)
	}

	if caps.TimeAddressable {
		if rewind := o.config.Resume.RewindTime(gap); rewind > 0 {
			at := o.state.TimeAt(o.state.Index(), speed)
			target := at - rewind
			if target < 0 {
				target = 0
			}
			o.state.SeekToTime(target, speed)
		}
	} else {
		if rewind := o.config.Resume.RewindItems(gap); rewind > 0 {
			target := o.state.Index() - rewind
			if target < 0 {
				target = 0
			}
			o.state.JumpTo(target)
			if cur, ok := o.state.Current(); ok && cur.Skipped {
				if next, found := o.state.NextNarratable(target); found {
					o.state.JumpTo(next)
				}
			}
		}
	}

	o.mu.Lock()
	o.pausedAt = time.Time{}
	o.mu.Unlock()

	return o.startPlaybackAt(o.state.Index())
}

// step implements Next/Prev semantics. A paused session drops to stopped
// rather than surprising the user with audio.
func (o *Orchestrator) step(forward bool) error {
	wasPlaying := o.playingLocked()
	wasPaused := o.Status() == StatusPaused

	if wasPaused {
		o.stopLocked(true)
	}

	var moved bool
	if forward {
		_, moved = o.state.Next()
	} else {
		_, moved = o.state.Prev()
	}

	if moved && wasPlaying {
		return o.startPlaybackAt(o.state.Index())
	}
	if moved {
		o.persist()
	}
	o.notify(nil)
	return nil
}

// afterNavigate re-triggers playback after an explicit index move, with
// the same paused-drops-to-stopped rule as Next/Prev.
func (o *Orchestrator) afterNavigate() error {
	switch {
	case o.playingLocked():
		return o.startPlaybackAt(o.state.Index())
	case o.Status() == StatusPaused:
		o.stopLocked(true)
		o.notify(nil)
		return nil
	default:
		o.persist()
		o.notify(nil)
		return nil
	}
}

// stopProvider interrupts the active utterance. The resulting benign
// cancellation event is swallowed by the error taxonomy.
func (o *Orchestrator) stopProvider() {
	o.mu.RLock()
	active := o.active
	o.mu.RUnlock()
	if err := active.Stop(); err != nil {
		o.logger.Debug("provider stop failed", "err", err)
	}
}

// stopLocked brings the engine to a clean halt: persists position,
// reports the interruption, clears the highlight and releases platform
// claims. Idempotent.
func (o *Orchestrator) stopLocked(recordHistory bool) {
	if recordHistory && o.playingLocked() {
		o.reportHistory(false)
	}
	o.persist()
	o.stopProvider()
	o.tracker.Clear()
	if err := o.platform.SetKeepAlive(false); err != nil {
		o.logger.Debug("keep-alive release failed", "err", err)
	}
	if err := o.platform.SetNowPlaying(NowPlayingInfo{Playing: false}); err != nil {
		o.logger.Debug("media session update failed", "err", err)
	}
	o.transition(StatusStopped)
}

// reportHistory records reading progress for the current item.
// Announcement items are excluded; failures never block playback.
func (o *Orchestrator) reportHistory(completed bool) {
	if o.history == nil {
		return
	}
	item, ok := o.state.Current()
	if !ok || item.IsAnnouncement || item.LocationID == "" {
		return
	}

	o.mu.RLock()
	bookID := o.bookID
	o.mu.RUnlock()

	label := item.Text
	if runes := []rune(label); len(runes) > 48 {
		label = string(runes[:48])
	}
	if err := o.history.UpdateReadingHistory(o.ctx, bookID, item.LocationID, historySource, label, completed); err != nil {
		o.logger.Warn("reading history update failed", "err", err)
	}
}

// Snapshot returns the current session state, including the queue
// payload. Safe to call from any goroutine.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.RLock()
	bookID := o.bookID
	pausedAt := o.pausedAt
	o.mu.RUnlock()

	return Snapshot{
		BookID:         bookID,
		Queue:          o.state.Items(),
		CurrentIndex:   o.state.Index(),
		SectionIndex:   o.state.SectionIndex(),
		LastLocationID: o.tracker.Active(),
		PausedAt:       pausedAt,
	}
}

// persist writes a session snapshot. The heavy queue payload is only
// rewritten when the queue identity changed since the last write;
// otherwise only the lightweight position fields are saved. Persistence
// is best-effort and never blocks playback.
func (o *Orchestrator) persist() {
	o.mu.Lock()
	bookID := o.bookID
	pausedAt := o.pausedAt
	lastGen := o.lastPersistedGen
	o.mu.Unlock()

	if bookID == "" {
		return
	}

	snap := Snapshot{
		BookID:         bookID,
		CurrentIndex:   o.state.Index(),
		SectionIndex:   o.state.SectionIndex(),
		LastLocationID: o.tracker.Active(),
		PausedAt:       pausedAt,
	}

	gen := o.state.Generation()
	if gen != lastGen {
		snap.Queue = o.state.Items()
		if err := o.store.SaveQueueSnapshot(o.ctx, snap); err != nil {
			o.logger.Warn("queue snapshot save failed", "err", err)
			return
		}
		o.mu.Lock()
		o.lastPersistedGen = gen
		o.mu.Unlock()
		return
	}

	if err := o.store.SavePositionOnly(o.ctx, snap); err != nil {
		o.logger.Warn("position save failed", "err", err)
	}
}

// notify delivers an update to every subscriber without blocking.
func (o *Orchestrator) notify(err error) {
	o.mu.RLock()
	download := o.download
	o.mu.RUnlock()

	update := Update{
		Status:           o.Status(),
		ActiveLocationID: o.tracker.Active(),
		CurrentIndex:     o.state.Index(),
		Queue:            o.state.Items(),
		Err:              err,
		DownloadProgress: download,
		Timestamp:        time.Now(),
	}

	o.subMu.Lock()
	defer o.subMu.Unlock()
	for _, sub := range o.subscribers {
		select {
		case sub.ch <- update:
		default:
		}
	}
}

// No-op collaborator defaults.

type noopLexicon struct{}

func (noopLexicon) Apply(text string) string { return text }

type noopStore struct{}

func (noopStore) SaveQueueSnapshot(context.Context, Snapshot) error { return nil }
func (noopStore) SavePositionOnly(context.Context, Snapshot) error  { return nil }
func (noopStore) LoadLastSnapshot(context.Context, string) (Snapshot, error) {
	return Snapshot{}, ErrNoSnapshot
}

type noopPlatform struct{}

func (noopPlatform) SetKeepAlive(bool) error                   { return nil }
func (noopPlatform) SetNowPlaying(NowPlayingInfo) error        { return nil }
func (noopPlatform) SetPosition(time.Duration, time.Duration) error { return nil }

type noopReader struct{}

func (noopReader) DisplayLocation(string) {}
func (noopReader) AddHighlight(string)    {}
func (noopReader) RemoveHighlight(string) {}
