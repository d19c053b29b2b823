package provider

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"

	"github.com/charmbracelet/log"

	"github.com/vrwarp/versicle/playback/audio"
)

// Synthesizer converts text to a playable clip. The device provider is
// written against this so tests can substitute a fake.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts PlayOptions) (*audio.Clip, error)
	Voices() []Voice
}

// PiperConfig configures the piper subprocess synthesizer.
type PiperConfig struct {
	Binary     string
	ModelPath  string
	SampleRate int
	// LengthScale stretches phoneme durations; it is derived from the
	// requested speed (scale = 1/speed).
	LengthScale float64
}

// PiperSynthesizer shells out to the piper binary and reads raw PCM from
// its stdout. A fresh process per utterance keeps failure isolation simple.
type PiperSynthesizer struct {
	config PiperConfig
	logger *log.Logger
}

// NewPiperSynthesizer creates a piper-backed synthesizer.
func NewPiperSynthesizer(config PiperConfig) *PiperSynthesizer {
	if config.SampleRate == 0 {
		config.SampleRate = 22050
	}
	return &PiperSynthesizer{
		config: config,
		logger: log.WithPrefix("piper"),
	}
}

// Synthesize runs piper over the text and returns the resulting clip.
func (s *PiperSynthesizer) Synthesize(ctx context.Context, text string, opts PlayOptions) (*audio.Clip, error) {
	scale := s.config.LengthScale
	if opts.Speed > 0 {
		scale = 1.0 / opts.Speed
	}
	if scale <= 0 {
		scale = 1.0
	}

	args := []string{
		"--model", s.config.ModelPath,
		"--output-raw",
		"--length-scale", fmt.Sprintf("%.3f", scale),
	}

	cmd := exec.CommandContext(ctx, s.config.Binary, args...)
	cmd.Stdin = bytes.NewBufferString(text + "\n")

	output, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ErrInterrupted
		}
		return nil, fmt.Errorf("%w: piper: %v", ErrSynthesisFailed, err)
	}
	if len(output) == 0 {
		return nil, fmt.Errorf("%w: piper produced no audio", ErrSynthesisFailed)
	}

	clip := audio.NewPCMClip(output, s.config.SampleRate, 1)
	s.logger.Debug("synthesized utterance", "bytes", len(output), "duration", clip.Duration)
	return clip, nil
}

// Voices lists the single configured model. Piper selects voices by model
// file, so the catalog has one entry per configured model path.
func (s *PiperSynthesizer) Voices() []Voice {
	return []Voice{{
		ID:        s.config.ModelPath,
		Name:      s.config.ModelPath,
		Language:  "en-US",
		Installed: true,
	}}
}
