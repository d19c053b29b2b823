// Package audio provides audio playback for synthesized speech.
package audio

import "time"

// Format represents the sample format of a clip.
type Format int

const (
	// FormatPCM16 represents 16-bit little-endian PCM audio.
	FormatPCM16 Format = iota
	// FormatMP3 represents MP3 compressed audio.
	FormatMP3
)

// Clip holds one decoded utterance worth of audio.
type Clip struct {
	Data       []byte        // Raw sample data
	Format     Format        // Sample format
	SampleRate int           // Sample rate in Hz
	Channels   int           // Number of channels
	Duration   time.Duration // Playback duration
}

// PCMDuration computes the playback duration of raw 16-bit PCM data.
func PCMDuration(byteLen, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	samples := byteLen / (2 * channels)
	return time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
}

// NewPCMClip builds a Clip from raw 16-bit PCM data, computing its duration.
func NewPCMClip(data []byte, sampleRate, channels int) *Clip {
	return &Clip{
		Data:       data,
		Format:     FormatPCM16,
		SampleRate: sampleRate,
		Channels:   channels,
		Duration:   PCMDuration(len(data), sampleRate, channels),
	}
}
