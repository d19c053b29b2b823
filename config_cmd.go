package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const defaultConfig = `# Versicle configuration
tts:
  # Speech provider: device, cloud or preview
  provider: "device"
  # Narration voice; empty uses the provider default
  voice_id: ""
  # Playback rate multiplier (0.25 to 4.0)
  speed: 1.0
  # Virtual reading rate used for duration estimates and time seeking
  chars_per_minute: 900
  # Audio output sample rate
  sample_rate: 22050

  # Smart resume: rewind a little after a pause so the listener regains
  # context. Gaps shorter than short_gap resume in place.
  resume:
    enabled: true
    short_gap: "1m"
    long_gap: "5m"

  # On-device synthesis (piper)
  piper:
    binary: "piper"
    # model_path: "/path/to/model.onnx"

  # Cloud synthesis (Google Cloud Text-to-Speech). Requires
  # GOOGLE_APPLICATION_CREDENTIALS in the environment.
  cloud:
    language_code: "en-US"
    voice_name: "en-US-Standard-A"
    timeout: "10s"
`

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Edit the versicle config file",
	Long:    "\nEdit the versicle config file. We'll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.",
	Example: "versicle config\nversicle config --config path/to/config.yml",
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Versicle", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		configFile = viper.GetViper().ConfigFileUsed()
		if configFile == "" {
			dir, err := dataDir()
			if err != nil {
				return err
			}
			configFile = filepath.Join(dir, "versicle.yaml")
		}
		if err := os.MkdirAll(filepath.Dir(configFile), 0o755); err != nil {
			return fmt.Errorf("could not write configuration file: %w", err)
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
