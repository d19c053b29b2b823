package playback

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/viper"

	"github.com/vrwarp/versicle/playback/provider"
)

// Config contains all playback engine options.
type Config struct {
	// Provider selects the initial speech backend: device, cloud or
	// preview.
	Provider string `yaml:"provider" env:"VERSICLE_TTS_PROVIDER" envDefault:"device"`
	// VoiceID selects the narration voice; empty uses the provider
	// default.
	VoiceID string `yaml:"voice_id" env:"VERSICLE_TTS_VOICE"`
	// Speed is the playback rate multiplier.
	Speed float64 `yaml:"speed" env:"VERSICLE_TTS_SPEED" envDefault:"1.0"`
	// CharsPerMinute is the virtual reading rate used for duration
	// estimates and time seeking.
	CharsPerMinute float64 `yaml:"chars_per_minute" env:"VERSICLE_TTS_CHARS_PER_MINUTE" envDefault:"900"`
	// ChainBuffer bounds the pending command queue.
	ChainBuffer int `yaml:"chain_buffer" env:"VERSICLE_TTS_CHAIN_BUFFER" envDefault:"64"`
	// SampleRate is the audio context sample rate in Hz.
	SampleRate int `yaml:"sample_rate" env:"VERSICLE_TTS_SAMPLE_RATE" envDefault:"22050"`

	Resume ResumePolicy `yaml:"resume"`

	Piper PiperSettings `yaml:"piper"`
	Cloud CloudSettings `yaml:"cloud"`
}

// PiperSettings configures on-device synthesis.
type PiperSettings struct {
	Binary    string `yaml:"binary" env:"VERSICLE_PIPER_BINARY" envDefault:"piper"`
	ModelPath string `yaml:"model_path" env:"VERSICLE_PIPER_MODEL_PATH"`
}

// CloudSettings configures cloud synthesis.
type CloudSettings struct {
	LanguageCode string        `yaml:"language_code" env:"VERSICLE_CLOUD_LANGUAGE_CODE" envDefault:"en-US"`
	VoiceName    string        `yaml:"voice_name" env:"VERSICLE_CLOUD_VOICE_NAME" envDefault:"en-US-Standard-A"`
	Timeout      time.Duration `yaml:"timeout" env:"VERSICLE_CLOUD_TIMEOUT" envDefault:"10s"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Provider:       "device",
		Speed:          1.0,
		CharsPerMinute: 900,
		ChainBuffer:    64,
		SampleRate:     22050,
		Resume:         DefaultResumePolicy(),
		Piper: PiperSettings{
			Binary: "piper",
		},
		Cloud: CloudSettings{
			LanguageCode: "en-US",
			VoiceName:    "en-US-Standard-A",
			Timeout:      10 * time.Second,
		},
	}
}

// LoadConfigFromEnv overlays environment variables onto the defaults.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}
	return cfg, cfg.Validate()
}

// LoadConfigFromViper overlays viper-managed settings onto the defaults.
func LoadConfigFromViper() (Config, error) {
	cfg := DefaultConfig()

	if viper.IsSet("tts.provider") {
		cfg.Provider = viper.GetString("tts.provider")
	}
	if viper.IsSet("tts.voice_id") {
		cfg.VoiceID = viper.GetString("tts.voice_id")
	}
	if viper.IsSet("tts.speed") {
		cfg.Speed = viper.GetFloat64("tts.speed")
	}
	if viper.IsSet("tts.chars_per_minute") {
		cfg.CharsPerMinute = viper.GetFloat64("tts.chars_per_minute")
	}
	if viper.IsSet("tts.sample_rate") {
		cfg.SampleRate = viper.GetInt("tts.sample_rate")
	}
	if viper.IsSet("tts.resume.enabled") {
		cfg.Resume.Enabled = viper.GetBool("tts.resume.enabled")
	}
	if viper.IsSet("tts.resume.short_gap") {
		cfg.Resume.ShortGap = viper.GetDuration("tts.resume.short_gap")
	}
	if viper.IsSet("tts.resume.long_gap") {
		cfg.Resume.LongGap = viper.GetDuration("tts.resume.long_gap")
	}
	if viper.IsSet("tts.piper.binary") {
		cfg.Piper.Binary = viper.GetString("tts.piper.binary")
	}
	if viper.IsSet("tts.piper.model_path") {
		cfg.Piper.ModelPath = viper.GetString("tts.piper.model_path")
	}
	if viper.IsSet("tts.cloud.language_code") {
		cfg.Cloud.LanguageCode = viper.GetString("tts.cloud.language_code")
	}
	if viper.IsSet("tts.cloud.voice_name") {
		cfg.Cloud.VoiceName = viper.GetString("tts.cloud.voice_name")
	}
	if viper.IsSet("tts.cloud.timeout") {
		cfg.Cloud.Timeout = viper.GetDuration("tts.cloud.timeout")
	}

	return cfg, cfg.Validate()
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if _, ok := provider.ParseKind(c.Provider); !ok {
		return fmt.Errorf("invalid provider %q: must be device, cloud or preview", c.Provider)
	}
	if c.Speed < 0.25 || c.Speed > 4.0 {
		return fmt.Errorf("speed must be between 0.25 and 4.0, got %f", c.Speed)
	}
	if c.CharsPerMinute < 100 || c.CharsPerMinute > 10000 {
		return fmt.Errorf("chars_per_minute must be between 100 and 10000, got %f", c.CharsPerMinute)
	}
	if c.SampleRate != 8000 && c.SampleRate != 16000 && c.SampleRate != 22050 &&
		c.SampleRate != 24000 && c.SampleRate != 44100 && c.SampleRate != 48000 {
		return fmt.Errorf("invalid sample rate %d", c.SampleRate)
	}
	if c.Resume.ShortGap > c.Resume.LongGap {
		return fmt.Errorf("resume short_gap %v exceeds long_gap %v", c.Resume.ShortGap, c.Resume.LongGap)
	}
	if c.Resume.MediumItems > c.Resume.LongItems {
		return fmt.Errorf("resume medium_items %d exceeds long_items %d", c.Resume.MediumItems, c.Resume.LongItems)
	}
	if c.Cloud.Timeout < time.Second {
		return fmt.Errorf("cloud timeout must be at least 1s, got %v", c.Cloud.Timeout)
	}
	return nil
}
