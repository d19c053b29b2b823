package provider

import (
	"context"
	"strings"
	"sync"
	"time"
)

// PreviewConfig configures the preview provider.
type PreviewConfig struct {
	// WordsPerMinute drives the simulated utterance duration.
	WordsPerMinute int
	// TimeScale stretches simulated time; 0 completes utterances
	// immediately.
	TimeScale float64
}

// DefaultPreviewConfig returns the default preview settings.
func DefaultPreviewConfig() PreviewConfig {
	return PreviewConfig{WordsPerMinute: 150}
}

// PreviewProvider simulates synthesis without producing audio. It backs
// voice sampling, which bypasses the main queue and reading history, and
// doubles as the scripted backend in tests.
type PreviewProvider struct {
	config PreviewConfig
	events chan Event

	mu          sync.Mutex
	initialized bool
	voices      []Voice
	current     *utterance
	timer       *time.Timer
	closed      bool

	// Test controls.
	failNext error
	manual   bool

	playCalls    int
	preloadCalls int
	stopCalls    int
	lastText     string
	lastOpts     PlayOptions
}

// NewPreviewProvider creates a preview provider.
func NewPreviewProvider(config PreviewConfig) *PreviewProvider {
	if config.WordsPerMinute <= 0 {
		config.WordsPerMinute = 150
	}
	return &PreviewProvider{
		config: config,
		events: make(chan Event, 32),
		voices: []Voice{
			{ID: "preview-1", Name: "Preview Voice", Language: "en-US", Gender: "neutral", Installed: true},
			{ID: "preview-2", Name: "Preview Voice Alto", Language: "en-US", Gender: "female", Installed: true},
		},
	}
}

// Init marks the provider ready.
func (p *PreviewProvider) Init(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized = true
	return nil
}

// Kind identifies this as the preview variant.
func (p *PreviewProvider) Kind() Kind { return KindPreview }

// Capabilities reports a local, non-time-addressable backend.
func (p *PreviewProvider) Capabilities() Capabilities {
	return Capabilities{TimeAddressable: false, RequiresNetwork: false}
}

// Voices returns the built-in sample voices.
func (p *PreviewProvider) Voices() []Voice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Voice(nil), p.voices...)
}

// Events returns the provider's event stream.
func (p *PreviewProvider) Events() <-chan Event { return p.events }

// estimate returns the simulated speaking duration for the text.
func (p *PreviewProvider) estimate(text string, speed float64) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		words = 1
	}
	if speed <= 0 {
		speed = 1.0
	}
	perWord := time.Minute / time.Duration(p.config.WordsPerMinute)
	return time.Duration(float64(words) * float64(perWord) / speed)
}

// Play simulates one utterance.
func (p *PreviewProvider) Play(ctx context.Context, text string, opts PlayOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.initialized {
		return ErrNotInitialized
	}
	p.playCalls++
	p.lastText = text
	p.lastOpts = opts
	if p.failNext != nil {
		err := p.failNext
		p.failNext = nil
		return err
	}

	p.stopCurrentLocked()

	u := &utterance{}
	p.current = u

	p.emitLocked(Event{Kind: EventStart})
	p.emitLocked(Event{Kind: EventBoundary, CharOffset: 0, Granularity: GranularitySentence})

	if p.manual {
		return nil
	}

	simulated := time.Duration(float64(p.estimate(text, opts.Speed)) * p.config.TimeScale)
	if simulated <= 0 {
		p.current = nil
		p.emitLocked(Event{Kind: EventEnd})
		return nil
	}

	p.timer = time.AfterFunc(simulated, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.current != u {
			return
		}
		p.current = nil
		p.emitLocked(Event{Kind: EventEnd})
	})
	return nil
}

// Preload records the look-ahead request; nothing to synthesize.
func (p *PreviewProvider) Preload(ctx context.Context, text string, opts PlayOptions) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.preloadCalls++
}

// Pause is a no-op for simulated playback.
func (p *PreviewProvider) Pause() error { return nil }

// Resume is a no-op for simulated playback.
func (p *PreviewProvider) Resume() error { return nil }

// Stop interrupts the simulated utterance, surfacing the usual benign
// interruption event.
func (p *PreviewProvider) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopCalls++
	p.stopCurrentLocked()
	return nil
}

func (p *PreviewProvider) stopCurrentLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.current != nil {
		p.current = nil
		p.emitLocked(Event{Kind: EventError, Err: ErrInterrupted})
	}
}

// Shutdown stops the provider.
func (p *PreviewProvider) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.timer != nil {
		p.timer.Stop()
	}
	p.current = nil
	p.closed = true
	return nil
}

func (p *PreviewProvider) emitLocked(ev Event) {
	if p.closed {
		return
	}
	select {
	case p.events <- ev:
	default:
	}
}

// Test hooks.

// SetManual disables automatic utterance completion; tests drive
// completion with FinishUtterance.
func (p *PreviewProvider) SetManual(manual bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.manual = manual
}

// FailNext makes the next Play call return err.
func (p *PreviewProvider) FailNext(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext = err
}

// FinishUtterance completes the current utterance as if playback ended.
func (p *PreviewProvider) FinishUtterance() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	p.current = nil
	p.emitLocked(Event{Kind: EventEnd})
}

// Inject places an arbitrary event on the stream.
func (p *PreviewProvider) Inject(ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emitLocked(ev)
}

// PlayCalls returns how many times Play was invoked.
func (p *PreviewProvider) PlayCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playCalls
}

// PreloadCalls returns how many times Preload was invoked.
func (p *PreviewProvider) PreloadCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.preloadCalls
}

// LastText returns the text of the most recent Play call.
func (p *PreviewProvider) LastText() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastText
}

// LastOpts returns the options of the most recent Play call.
func (p *PreviewProvider) LastOpts() PlayOptions {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastOpts
}
