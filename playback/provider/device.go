package provider

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/vrwarp/versicle/playback/audio"
)

// utterance tracks one in-flight device utterance so a stop can be told
// apart from a natural end.
type utterance struct {
	done    <-chan struct{}
	stopped bool
}

// DeviceProvider synthesizes on the local machine and plays the result
// through an audio player. It is event-driven and exposes no utterance
// duration ahead of time; progress is reported as coarse sentence
// boundaries.
type DeviceProvider struct {
	synth  Synthesizer
	player audio.Player
	events chan Event
	logger *log.Logger

	mu          sync.Mutex
	initialized bool
	voices      []Voice
	preloaded   map[string]*audio.Clip
	current     *utterance
	closed      bool
}

// NewDeviceProvider creates an on-device provider over the given
// synthesizer and player.
func NewDeviceProvider(synth Synthesizer, player audio.Player) *DeviceProvider {
	return &DeviceProvider{
		synth:     synth,
		player:    player,
		events:    make(chan Event, 32),
		logger:    log.WithPrefix("provider.device"),
		preloaded: make(map[string]*audio.Clip),
	}
}

// Init warms the voice catalog.
func (p *DeviceProvider) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.voices = p.synth.Voices()
	p.initialized = true
	return nil
}

// Kind identifies this as the on-device variant.
func (p *DeviceProvider) Kind() Kind { return KindDevice }

// Capabilities reports that this variant is not time-addressable.
func (p *DeviceProvider) Capabilities() Capabilities {
	return Capabilities{TimeAddressable: false, RequiresNetwork: false}
}

// Voices returns the synthesizer's voice catalog.
func (p *DeviceProvider) Voices() []Voice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Voice(nil), p.voices...)
}

// Events returns the provider's event stream.
func (p *DeviceProvider) Events() <-chan Event { return p.events }

func preloadKey(text string, opts PlayOptions) string {
	return fmt.Sprintf("%s|%.2f|%s", opts.VoiceID, opts.Speed, text)
}

// Play synthesizes (or reuses preloaded audio for) the text and starts
// playback. Completion and interruption arrive on the event stream.
func (p *DeviceProvider) Play(ctx context.Context, text string, opts PlayOptions) error {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return ErrNotInitialized
	}
	p.stopCurrentLocked()

	clip, ok := p.preloaded[preloadKey(text, opts)]
	if ok {
		delete(p.preloaded, preloadKey(text, opts))
	}
	p.mu.Unlock()

	if !ok {
		var err error
		clip, err = p.synth.Synthesize(ctx, text, opts)
		if err != nil {
			return err
		}
	}

	done, err := p.player.Play(clip)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	u := &utterance{done: done}
	p.mu.Lock()
	p.current = u
	p.mu.Unlock()

	p.emit(Event{Kind: EventStart})
	p.emit(Event{Kind: EventBoundary, CharOffset: 0, Granularity: GranularitySentence})

	go p.waitForEnd(u)
	return nil
}

// waitForEnd turns player completion into an end or interruption event.
func (p *DeviceProvider) waitForEnd(u *utterance) {
	<-u.done

	p.mu.Lock()
	if p.current != u {
		// A later Play superseded this utterance; its stop path reported.
		p.mu.Unlock()
		return
	}
	stopped := u.stopped
	p.current = nil
	p.mu.Unlock()

	if stopped {
		p.emit(Event{Kind: EventError, Err: ErrInterrupted})
		return
	}
	p.emit(Event{Kind: EventEnd})
}

// Preload synthesizes the text ahead of time. Failures are swallowed.
func (p *DeviceProvider) Preload(ctx context.Context, text string, opts PlayOptions) {
	key := preloadKey(text, opts)

	p.mu.Lock()
	if _, ok := p.preloaded[key]; ok {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	clip, err := p.synth.Synthesize(ctx, text, opts)
	if err != nil {
		p.logger.Debug("preload failed", "err", err)
		return
	}

	p.mu.Lock()
	p.preloaded[key] = clip
	p.mu.Unlock()
}

// Pause pauses the player mid-utterance.
func (p *DeviceProvider) Pause() error { return p.player.Pause() }

// Resume continues a paused utterance.
func (p *DeviceProvider) Resume() error { return p.player.Resume() }

// Stop interrupts the current utterance. The interruption surfaces as a
// benign error event. Idempotent.
func (p *DeviceProvider) Stop() error {
	p.mu.Lock()
	p.stopCurrentLocked()
	p.mu.Unlock()
	return nil
}

func (p *DeviceProvider) stopCurrentLocked() {
	if p.current != nil {
		p.current.stopped = true
	}
	_ = p.player.Stop()
}

// Shutdown stops playback and drops preloaded audio.
func (p *DeviceProvider) Shutdown() error {
	p.mu.Lock()
	p.stopCurrentLocked()
	p.preloaded = make(map[string]*audio.Clip)
	p.closed = true
	p.mu.Unlock()
	return p.player.Close()
}

func (p *DeviceProvider) emit(ev Event) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("dropping event, stream full", "kind", ev.Kind)
	}
}
