package provider

import (
	"context"
	"errors"
)

// Fallback decides whether a playback error should trigger a provider
// swap. It returns the variant to retry with and true, or the current
// variant and false when playback should halt instead.
//
// Benign interruptions never trigger a swap, and the on-device variant is
// the fallback of last resort: a failure there halts playback.
func Fallback(current Kind, err error) (Kind, bool) {
	if err == nil || errors.Is(err, ErrInterrupted) || errors.Is(err, context.Canceled) {
		return current, false
	}
	if current == KindDevice {
		return current, false
	}
	return KindDevice, true
}
