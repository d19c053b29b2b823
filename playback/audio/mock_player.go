package audio

import (
	"sync"
	"time"
)

// MockPlayer simulates audio playback for tests and voice preview runs.
// With TimeScale 0 clips complete immediately; with TimeScale 1 they take
// their nominal duration.
type MockPlayer struct {
	mu sync.Mutex

	// TimeScale stretches or compresses simulated playback time.
	TimeScale float64

	// FailPlay, when set, is returned by the next Play call.
	FailPlay error

	clip    *Clip
	done    chan struct{}
	timer   *time.Timer
	playing bool
	paused  bool

	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration

	playCalls  int
	stopCalls  int
	pauseCalls int
}

// NewMockPlayer creates a mock player that completes clips instantly.
func NewMockPlayer() *MockPlayer {
	return &MockPlayer{}
}

// Play simulates starting playback of a clip.
func (p *MockPlayer) Play(clip *Clip) (<-chan struct{}, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.playCalls++
	if p.FailPlay != nil {
		err := p.FailPlay
		p.FailPlay = nil
		return nil, err
	}
	if clip == nil || len(clip.Data) == 0 {
		return nil, ErrNothingToPlay
	}

	p.stopLocked()

	p.clip = clip
	p.done = make(chan struct{})
	p.playing = true
	p.paused = false
	p.startedAt = time.Now()
	p.pausedTotal = 0

	simulated := time.Duration(float64(clip.Duration) * p.TimeScale)
	done := p.done
	if simulated <= 0 {
		p.playing = false
		close(done)
		p.done = nil
	} else {
		p.timer = time.AfterFunc(simulated, func() {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.done == done {
				p.playing = false
				close(done)
				p.done = nil
			}
		})
	}

	return done, nil
}

// Pause simulates pausing playback.
func (p *MockPlayer) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.pauseCalls++
	if !p.playing {
		return ErrNotPlaying
	}
	if p.paused {
		return nil
	}
	p.paused = true
	p.pausedAt = time.Now()
	if p.timer != nil {
		p.timer.Stop()
	}
	return nil
}

// Resume simulates resuming playback. The remaining simulated time is not
// rescheduled; callers that care use Stop to settle the done channel.
func (p *MockPlayer) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.playing {
		return ErrNotPlaying
	}
	if !p.paused {
		return nil
	}
	p.pausedTotal += time.Since(p.pausedAt)
	p.paused = false
	return nil
}

// Stop halts simulated playback. Idempotent.
func (p *MockPlayer) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopCalls++
	p.stopLocked()
	return nil
}

func (p *MockPlayer) stopLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.done != nil {
		close(p.done)
		p.done = nil
	}
	p.playing = false
	p.paused = false
	p.clip = nil
}

// Position returns the simulated playback position.
func (p *MockPlayer) Position() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.clip == nil {
		return 0
	}
	if p.TimeScale <= 0 {
		return p.clip.Duration
	}
	var pos time.Duration
	if p.paused {
		pos = p.pausedAt.Sub(p.startedAt) - p.pausedTotal
	} else {
		pos = time.Since(p.startedAt) - p.pausedTotal
	}
	pos = time.Duration(float64(pos) / p.TimeScale)
	if pos > p.clip.Duration {
		pos = p.clip.Duration
	}
	return pos
}

// Playing reports whether the mock is actively playing.
func (p *MockPlayer) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing && !p.paused
}

// Close stops playback.
func (p *MockPlayer) Close() error {
	return p.Stop()
}

// PlayCalls returns how many times Play was invoked.
func (p *MockPlayer) PlayCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playCalls
}

// StopCalls returns how many times Stop was invoked.
func (p *MockPlayer) StopCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopCalls
}

// PauseCalls returns how many times Pause was invoked.
func (p *MockPlayer) PauseCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pauseCalls
}
