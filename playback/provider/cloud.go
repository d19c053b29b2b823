package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/charmbracelet/log"
	"github.com/googleapis/gax-go/v2"
	"github.com/hajimehoshi/go-mp3"

	"github.com/vrwarp/versicle/playback/audio"
)

// speechClient is the slice of the Google Text-to-Speech client the cloud
// provider uses. Tests substitute a fake.
type speechClient interface {
	SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest, opts ...gax.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error)
	ListVoices(ctx context.Context, req *texttospeechpb.ListVoicesRequest, opts ...gax.CallOption) (*texttospeechpb.ListVoicesResponse, error)
	Close() error
}

// CloudConfig configures the cloud provider.
type CloudConfig struct {
	LanguageCode string
	VoiceName    string
	SampleRate   int
	Timeout      time.Duration
}

// CloudProvider synthesizes through Google Cloud Text-to-Speech, decodes
// the returned MP3 and plays it locally. Unlike the device variant it
// knows the true utterance duration and emits continuous time updates plus
// an alignment table.
type CloudProvider struct {
	config CloudConfig
	client speechClient
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

// NewCloudProvider creates a cloud provider with a real Google client.
func NewCloudProvider(ctx context.Context, config CloudConfig, player audio.Player) (*CloudProvider, error) {
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("text-to-speech client: %w", err)
	}
	return newCloudProvider(config, client, player), nil
}

// newCloudProvider wires a cloud provider over any speech client.
func newCloudProvider(config CloudConfig, client speechClient, player audio.Player) *CloudProvider {
	if config.SampleRate == 0 {
		config.SampleRate = 22050
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	return &CloudProvider{
		config:    config,
		client:    client,
		player:    player,
		events:    make(chan Event, 32),
		logger:    log.WithPrefix("provider.cloud"),
		preloaded: make(map[string]*audio.Clip),
	}
}

// Init loads the remote voice catalog.
func (p *CloudProvider) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	resp, err := p.client.ListVoices(ctx, &texttospeechpb.ListVoicesRequest{
		LanguageCode: p.config.LanguageCode,
	})
	if err != nil {
		return fmt.Errorf("list voices: %w", err)
	}

	voices := make([]Voice, 0, len(resp.GetVoices()))
	for _, v := range resp.GetVoices() {
		lang := p.config.LanguageCode
		if codes := v.GetLanguageCodes(); len(codes) > 0 {
			lang = codes[0]
		}
		voices = append(voices, Voice{
			ID:        v.GetName(),
			Name:      v.GetName(),
			Language:  lang,
			Gender:    strings.ToLower(v.GetSsmlGender().String()),
			Installed: true,
		})
	}

	p.mu.Lock()
	p.voices = voices
	p.initialized = true
	p.mu.Unlock()
	return nil
}

// Kind identifies this as the cloud variant.
func (p *CloudProvider) Kind() Kind { return KindCloud }

// Capabilities reports time-addressable, network-backed playback.
func (p *CloudProvider) Capabilities() Capabilities {
	return Capabilities{TimeAddressable: true, RequiresNetwork: true}
}

// Voices returns the remote voice catalog loaded at Init.
func (p *CloudProvider) Voices() []Voice {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Voice(nil), p.voices...)
}

// Events returns the provider's event stream.
func (p *CloudProvider) Events() <-chan Event { return p.events }

// synthesize fetches and decodes one utterance, reporting fetch progress.
func (p *CloudProvider) synthesize(ctx context.Context, text string, opts PlayOptions, reportProgress bool) (*audio.Clip, error) {
	voice := opts.VoiceID
	if voice == "" {
		voice = p.config.VoiceName
	}
	speed := opts.Speed
	if speed <= 0 {
		speed = 1.0
	}

	if reportProgress {
		p.emit(Event{Kind: EventDownloadProgress, Progress: 0})
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	resp, err := p.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: p.config.LanguageCode,
			Name:         voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   texttospeechpb.AudioEncoding_MP3,
			SampleRateHertz: int32(p.config.SampleRate),
			SpeakingRate:    speed,
		},
	})
	if err != nil {
		if ctx.Err() == context.Canceled {
			return nil, ErrInterrupted
		}
		return nil, fmt.Errorf("%w: %v", ErrSynthesisFailed, err)
	}

	if reportProgress {
		p.emit(Event{Kind: EventDownloadProgress, Progress: 0.5})
	}

	clip, err := decodeMP3(resp.GetAudioContent(), p.config.SampleRate)
	if err != nil {
		return nil, err
	}

	if reportProgress {
		p.emit(Event{Kind: EventDownloadProgress, Progress: 1})
	}
	return clip, nil
}

// decodeMP3 decodes MP3 bytes to mono 16-bit PCM at the requested rate.
// go-mp3 always emits stereo; the two channels are averaged down.
func decodeMP3(data []byte, wantRate int) (*audio.Clip, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: mp3 decode: %v", ErrSynthesisFailed, err)
	}

	stereo, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("%w: mp3 read: %v", ErrSynthesisFailed, err)
	}

	mono := make([]byte, 0, len(stereo)/2)
	for i := 0; i+3 < len(stereo); i += 4 {
		l := int16(stereo[i]) | int16(stereo[i+1])<<8
		r := int16(stereo[i+2]) | int16(stereo[i+3])<<8
		m := int16((int32(l) + int32(r)) / 2)
		mono = append(mono, byte(m), byte(m>>8))
	}

	rate := int(dec.SampleRate())
	if rate != wantRate {
		return nil, fmt.Errorf("%w: decoder produced %dHz, want %dHz", ErrSynthesisFailed, rate, wantRate)
	}
	return audio.NewPCMClip(mono, rate, 1), nil
}

// buildAlignment estimates a word-level time-to-offset table by
// distributing the clip duration proportionally over rune offsets.
func buildAlignment(text string, duration time.Duration) []AlignmentPoint {
	total := utf8.RuneCountInString(text)
	if total == 0 || duration <= 0 {
		return nil
	}

	points := []AlignmentPoint{{Time: 0, Offset: 0}}
	offset := 0
	inWord := false
	for _, r := range text {
		if r == ' ' || r == '\t' || r == '\n' {
			inWord = false
		} else if !inWord {
			inWord = true
			if offset > 0 {
				t := time.Duration(float64(duration) * float64(offset) / float64(total))
				points = append(points, AlignmentPoint{Time: t, Offset: offset})
			}
		}
		offset++
	}
	return points
}

// Play fetches, decodes and starts the utterance, then streams meta,
// timeupdate and completion events.
func (p *CloudProvider) Play(ctx context.Context, text string, opts PlayOptions) error {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return ErrNotInitialized
	}
	p.stopCurrentLocked()

	key := preloadKey(text, opts)
	clip, ok := p.preloaded[key]
	if ok {
		delete(p.preloaded, key)
	}
	p.mu.Unlock()

	if !ok {
		var err error
		clip, err = p.synthesize(ctx, text, opts, true)
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

	p.emit(Event{Kind: EventStart, Duration: clip.Duration})
	p.emit(Event{Kind: EventMeta, Duration: clip.Duration, Alignment: buildAlignment(text, clip.Duration)})

	go p.trackPosition(u, clip.Duration)
	go p.waitForEnd(u)
	return nil
}

// trackPosition emits continuous position updates while the utterance
// plays. Updates may be dropped under load; completion never is.
func (p *CloudProvider) trackPosition(u *utterance, duration time.Duration) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-u.done:
			return
		case <-ticker.C:
			p.emit(Event{Kind: EventTimeUpdate, Position: p.player.Position(), Duration: duration})
		}
	}
}

func (p *CloudProvider) waitForEnd(u *utterance) {
	<-u.done

	p.mu.Lock()
	if p.current != u {
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

// Preload fetches the next utterance ahead of time. Failures are
// swallowed; look-ahead is best-effort latency hiding.
func (p *CloudProvider) Preload(ctx context.Context, text string, opts PlayOptions) {
	key := preloadKey(text, opts)

	p.mu.Lock()
	if _, ok := p.preloaded[key]; ok {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	clip, err := p.synthesize(ctx, text, opts, false)
	if err != nil {
		p.logger.Debug("preload failed", "err", err)
		return
	}

	p.mu.Lock()
	p.preloaded[key] = clip
	p.mu.Unlock()
}

// Pause pauses the decoded audio track in place.
func (p *CloudProvider) Pause() error { return p.player.Pause() }

// Resume continues the paused audio track.
func (p *CloudProvider) Resume() error { return p.player.Resume() }

// Stop interrupts the current utterance; the interruption surfaces as a
// benign error event. Idempotent.
func (p *CloudProvider) Stop() error {
	p.mu.Lock()
	p.stopCurrentLocked()
	p.mu.Unlock()
	return nil
}

func (p *CloudProvider) stopCurrentLocked() {
	if p.current != nil {
		p.current.stopped = true
	}
	_ = p.player.Stop()
}

// Shutdown stops playback and closes the remote client.
func (p *CloudProvider) Shutdown() error {
	p.mu.Lock()
	p.stopCurrentLocked()
	p.preloaded = make(map[string]*audio.Clip)
	p.closed = true
	p.mu.Unlock()
	return p.client.Close()
}

func (p *CloudProvider) emit(ev Event) {
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
