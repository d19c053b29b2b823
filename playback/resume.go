package playback

import "time"

// ResumePolicy decides how far playback rewinds when resuming after a
// pause, scaled by how long the pause lasted. Longer idle gaps rewind
// further; results always clamp to the section start. The unit depends on
// the active provider: whole queue items for event-driven providers,
// wall-clock seconds mapped through the virtual timeline for
// time-addressable ones.
type ResumePolicy struct {
	Enabled bool `yaml:"enabled" env:"VERSICLE_RESUME_ENABLED" envDefault:"true"`

	// ShortGap is the pause duration under which no rewind happens.
	ShortGap time.Duration `yaml:"short_gap" env:"VERSICLE_RESUME_SHORT_GAP" envDefault:"1m"`
	// LongGap is the pause duration at which the large rewind applies.
	LongGap time.Duration `yaml:"long_gap" env:"VERSICLE_RESUME_LONG_GAP" envDefault:"5m"`

	// Item rewind magnitudes for event-driven providers.
	MediumItems int `yaml:"medium_items" env:"VERSICLE_RESUME_MEDIUM_ITEMS" envDefault:"2"`
	LongItems   int `yaml:"long_items" env:"VERSICLE_RESUME_LONG_ITEMS" envDefault:"5"`

	// Time rewind magnitudes for time-addressable providers.
	MediumRewind time.Duration `yaml:"medium_rewind" env:"VERSICLE_RESUME_MEDIUM_REWIND" envDefault:"15s"`
	LongRewind   time.Duration `yaml:"long_rewind" env:"VERSICLE_RESUME_LONG_REWIND" envDefault:"45s"`
}

// DefaultResumePolicy returns the default smart-resume tuning.
func DefaultResumePolicy() ResumePolicy {
	return ResumePolicy{
		Enabled:      true,
		ShortGap:     time.Minute,
		LongGap:      5 * time.Minute,
		MediumItems:  2,
		LongItems:    5,
		MediumRewind: 15 * time.Second,
		LongRewind:   45 * time.Second,
	}
}

// RewindItems returns how many queue items to rewind for the given pause
// gap. Callers clamp the result to the section start.
func (p ResumePolicy) RewindItems(gap time.Duration) int {
	if !p.Enabled || gap < p.ShortGap {
		return 0
	}
	if gap < p.LongGap {
		return p.MediumItems
	}
	return p.LongItems
}

// RewindTime returns how much wall-clock time to rewind for the given
// pause gap. Callers clamp the result to the section start.
func (p ResumePolicy) RewindTime(gap time.Duration) time.Duration {
	if !p.Enabled || gap < p.ShortGap {
		return 0
	}
	if gap < p.LongGap {
		return p.MediumRewind
	}
	return p.LongRewind
}
