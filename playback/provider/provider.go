// Package provider defines the speech synthesis capability contract and
// its interchangeable backends.
package provider

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Provider errors.
var (
	// ErrInterrupted marks a benign cancellation caused by a deliberate
	// stop or restart. It must never surface to subscribers.
	ErrInterrupted = errors.New("utterance interrupted")
	// ErrNotInitialized is returned when a provider is used before Init.
	ErrNotInitialized = errors.New("provider not initialized")
	// ErrVoiceNotFound is returned when the requested voice is unknown.
	ErrVoiceNotFound = errors.New("requested voice not found")
	// ErrSynthesisFailed wraps backend synthesis failures.
	ErrSynthesisFailed = errors.New("speech synthesis failed")
)

// Kind identifies a provider variant. The orchestrator only consults it
// during construction and in the fallback path.
type Kind int

const (
	// KindDevice is on-device synthesis. It is the fallback of last resort.
	KindDevice Kind = iota
	// KindCloud is cloud synthesis with audio-file playback.
	KindCloud
	// KindPreview is the sampling backend used outside the main queue.
	KindPreview
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindDevice:
		return "device"
	case KindCloud:
		return "cloud"
	case KindPreview:
		return "preview"
	default:
		return "unknown"
	}
}

// ParseKind converts a configuration string to a Kind.
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(s) {
	case "device":
		return KindDevice, true
	case "cloud":
		return KindCloud, true
	case "preview":
		return KindPreview, true
	}
	return KindDevice, false
}

// Granularity describes how fine a boundary event is.
type Granularity int

const (
	// GranularitySentence marks utterance-level progress.
	GranularitySentence Granularity = iota
	// GranularityWord marks word-level progress.
	GranularityWord
)

// EventKind tags events on a provider's event stream.
type EventKind int

const (
	// EventStart fires when an utterance begins playing.
	EventStart EventKind = iota
	// EventEnd fires when an utterance finishes naturally.
	EventEnd
	// EventError carries a synthesis or playback failure.
	EventError
	// EventBoundary marks word or sentence progress within the utterance.
	EventBoundary
	// EventTimeUpdate carries a continuous playback position.
	EventTimeUpdate
	// EventMeta carries a time-to-text-offset alignment table.
	EventMeta
	// EventDownloadProgress reports voice asset or audio fetch progress.
	EventDownloadProgress
)

// String returns the string representation of the event kind.
func (k EventKind) String() string {
	switch k {
	case EventStart:
		return "start"
	case EventEnd:
		return "end"
	case EventError:
		return "error"
	case EventBoundary:
		return "boundary"
	case EventTimeUpdate:
		return "timeupdate"
	case EventMeta:
		return "meta"
	case EventDownloadProgress:
		return "download-progress"
	default:
		return "unknown"
	}
}

// AlignmentPoint maps a playback time to a character offset in the
// utterance text.
type AlignmentPoint struct {
	Time   time.Duration
	Offset int
}

// Event is one tagged occurrence on a provider's event stream.
type Event struct {
	Kind        EventKind
	Err         error            // EventError
	CharOffset  int              // EventBoundary
	Granularity Granularity      // EventBoundary
	Position    time.Duration    // EventTimeUpdate
	Duration    time.Duration    // EventStart/EventMeta, zero when unknown
	Alignment   []AlignmentPoint // EventMeta
	Progress    float64          // EventDownloadProgress, 0.0 to 1.0
}

// Voice represents one selectable synthesis voice.
type Voice struct {
	ID        string
	Name      string
	Language  string
	Gender    string
	Installed bool
}

// PlayOptions selects voice and rate for one utterance.
type PlayOptions struct {
	VoiceID string
	Speed   float64 // Multiplier, 1.0 = normal
}

// Capabilities describes what a provider variant can do. The orchestrator
// keys behavior off capabilities, never off concrete types.
type Capabilities struct {
	TimeAddressable bool // Exposes true duration and continuous position
	RequiresNetwork bool
}

// Provider is the capability set every speech backend implements.
// Play starts an utterance and returns once playback is underway; progress
// and completion arrive on the Events stream. Preload is best-effort
// look-ahead synthesis and swallows its own failures.
type Provider interface {
	Init(ctx context.Context) error
	Kind() Kind
	Capabilities() Capabilities
	Voices() []Voice
	Play(ctx context.Context, text string, opts PlayOptions) error
	Preload(ctx context.Context, text string, opts PlayOptions)
	Pause() error
	Resume() error
	Stop() error
	Events() <-chan Event
	Shutdown() error
}
