package audio

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
)

// Playback errors.
var (
	// ErrNothingToPlay is returned when Play is called with an empty clip.
	ErrNothingToPlay = errors.New("no audio to play")
	// ErrNotPlaying is returned when a control call requires active playback.
	ErrNotPlaying = errors.New("no audio is playing")
	// ErrPlayerClosed is returned after the player has been closed.
	ErrPlayerClosed = errors.New("audio player is closed")
)

// Player defines the playback capability speech providers drive.
// Play starts asynchronously and returns a channel that is closed when the
// clip finishes or is stopped.
type Player interface {
	Play(clip *Clip) (<-chan struct{}, error)
	Pause() error
	Resume() error
	Stop() error
	Position() time.Duration
	Playing() bool
	Close() error
}

// OtoPlayer plays PCM clips through the system audio device via oto.
// The oto context is process-wide and fixed to one sample rate, so clips
// must match the rate the player was created with.
type OtoPlayer struct {
	mu sync.Mutex

	ctx        *oto.Context
	sampleRate int
	channels   int

	player *oto.Player
	clip   *Clip
	done   chan struct{}

	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
	paused      bool
	playing     bool
	closed      bool
}

// NewOtoPlayer creates a player bound to an audio context with the given
// sample rate and channel count.
func NewOtoPlayer(sampleRate, channels int) (*OtoPlayer, error) {
	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   sampleRate,
		ChannelCount: channels,
		Format:       oto.FormatSignedInt16LE,
	})
	if err != nil {
		return nil, fmt.Errorf("audio context: %w", err)
	}
	<-ready

	return &OtoPlayer{
		ctx:        ctx,
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

// Play starts playback of the given clip, stopping any current one.
func (p *OtoPlayer) Play(clip *Clip) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPlayerClosed
	}
	if clip == nil || len(clip.Data) == 0 {
		return nil, ErrNothingToPlay
	}
	if clip.SampleRate != p.sampleRate || clip.Channels != p.channels {
		return nil, fmt.Errorf("clip format %dHz/%dch does not match context %dHz/%dch",
			clip.SampleRate, clip.Channels, p.sampleRate, p.channels)
	}

	p.stopLocked()

	p.clip = clip
	p.player = p.ctx.NewPlayer(bytes.NewReader(clip.Data))
	p.done = make(chan struct{})
	p.startedAt = time.Now()
	p.pausedTotal = 0
	p.paused = false
	p.playing = true
	p.player.Play()

	go p.watch(p.player, p.done)

	return p.done, nil
}

// watch closes the done channel once the oto player drains.
func (p *OtoPlayer) watch(player *oto.Player, done chan struct{}) {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for range ticker.C {
		p.mu.Lock()
		if p.player != player {
			// Superseded by a later Play or Stop; that path closed done.
			p.mu.Unlock()
			return
		}
		if !p.paused && !player.IsPlaying() {
			p.playing = false
			p.player = nil
			close(done)
			p.done = nil
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()
	}
}

// Pause temporarily stops playback.
func (p *OtoPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.playing || p.player == nil {
		return ErrNotPlaying
	}
	if p.paused {
		return nil
	}
	p.player.Pause()
	p.paused = true
	p.pausedAt = time.Now()
	return nil
}

// Resume continues playback after a pause.
func (p *OtoPlayer) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.playing || p.player == nil {
		return ErrNotPlaying
	}
	if !p.paused {
		return nil
	}
	p.pausedTotal += time.Since(p.pausedAt)
	p.paused = false
	p.player.Play()
	return nil
}

// Stop halts playback and releases the current clip. Idempotent.
func (p *OtoPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	return nil
}

func (p *OtoPlayer) stopLocked() {
	if p.player != nil {
		p.player.Pause()
		_ = p.player.Close()
		p.player = nil
	}
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	p.playing = false
	p.paused = false
	p.clip = nil
}

// Position returns the elapsed playback position within the current clip.
func (p *OtoPlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.playing {
		return 0
	}
	var pos time.Duration
	if p.paused {
		pos = p.pausedAt.Sub(p.startedAt) - p.pausedTotal
	} else {
		pos = time.Since(p.startedAt) - p.pausedTotal
	}
	if p.clip != nil && pos > p.clip.Duration {
		pos = p.clip.Duration
	}
	if pos < 0 {
		pos = 0
	}
	return pos
}

// Playing reports whether a clip is loaded and not yet finished.
func (p *OtoPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing && !p.paused
}

// Close stops playback and marks the player unusable.
func (p *OtoPlayer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopLocked()
	p.closed = true
	return nil
}
