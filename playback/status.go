package playback

// Status represents the playback state machine's current state. Exactly
// one value holds at a time, mutated only by the orchestrator's task
// chain.
type Status int

const (
	// StatusStopped indicates no active playback session.
	StatusStopped Status = iota
	// StatusLoading indicates content or audio is being prepared.
	StatusLoading
	// StatusPlaying indicates narration is in progress.
	StatusPlaying
	// StatusPaused indicates narration is suspended in place.
	StatusPaused
	// StatusCompleted indicates the queue was exhausted with no further
	// section to advance into.
	StatusCompleted
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusLoading:
		return "loading"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Active reports whether narration is running or suspended.
func (s Status) Active() bool {
	return s == StatusPlaying || s == StatusPaused || s == StatusLoading
}

// statusMachine validates transitions. Any state may drop to stopped.
type statusMachine struct {
	current     Status
	transitions map[Status][]Status
}

func newStatusMachine() *statusMachine {
	return &statusMachine{
		current: StatusStopped,
		transitions: map[Status][]Status{
			StatusStopped:   {StatusLoading, StatusPlaying},
			StatusLoading:   {StatusPlaying, StatusStopped, StatusPaused, StatusCompleted},
			StatusPlaying:   {StatusPaused, StatusLoading, StatusStopped, StatusCompleted},
			StatusPaused:    {StatusPlaying, StatusLoading, StatusStopped},
			StatusCompleted: {StatusLoading, StatusPlaying, StatusStopped},
		},
	}
}

// transition moves to the target state when the move is valid, or reports
// false and stays put. Transitioning to stopped is always valid.
func (sm *statusMachine) transition(to Status) bool {
	if to == sm.current {
		return true
	}
	if to == StatusStopped {
		sm.current = to
		return true
	}
	for _, valid := range sm.transitions[sm.current] {
		if valid == to {
			sm.current = to
			return true
		}
	}
	return false
}

func (sm *statusMachine) Current() Status {
	return sm.current
}
