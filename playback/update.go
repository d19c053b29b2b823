package playback

import (
	"time"

	"github.com/google/uuid"
)

// Update is the notification delivered to subscribers on every state
// transition.
type Update struct {
	Status           Status
	ActiveLocationID string
	CurrentIndex     int
	Queue            []QueueItem
	Err              error
	DownloadProgress float64 // negative when not downloading
	Timestamp        time.Time
}

// subscriber is one registered update consumer. Updates are delivered
// without blocking the task chain: a subscriber that stops draining loses
// intermediate updates, never the engine.
type subscriber struct {
	id uuid.UUID
	ch chan Update
}

// Subscription is a live registration on the orchestrator's notification
// channel.
type Subscription struct {
	ID      uuid.UUID
	Updates <-chan Update
}
