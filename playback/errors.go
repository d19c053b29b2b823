package playback

import (
	"context"
	"errors"

	"github.com/vrwarp/versicle/playback/provider"
)

// Engine errors.
var (
	// ErrNoContent indicates a section produced no narratable queue.
	ErrNoContent = errors.New("no narratable content")
	// ErrQueueExhausted indicates the current index is past the end of
	// the queue.
	ErrQueueExhausted = errors.New("queue exhausted")
	// ErrShutdown is returned for commands submitted after Close.
	ErrShutdown = errors.New("orchestrator has been shut down")
	// ErrNoSnapshot indicates no persisted session exists for a book.
	ErrNoSnapshot = errors.New("no persisted snapshot")
	// ErrBackgroundAudioDenied indicates the platform refused the
	// background playback claim. Playback halts rather than running in a
	// state the user cannot see.
	ErrBackgroundAudioDenied = errors.New("background audio denied")
	// ErrProviderHalted indicates the fallback provider itself failed,
	// leaving nothing to retry with.
	ErrProviderHalted = errors.New("speech provider halted")
)

// IsBenignInterruption reports whether an error is a cancellation caused
// by the engine's own stop or restart calls. Such errors are swallowed
// and never surface to subscribers.
func IsBenignInterruption(err error) bool {
	return errors.Is(err, provider.ErrInterrupted) || errors.Is(err, context.Canceled)
}
