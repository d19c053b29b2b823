// Package main provides the entry point for the Versicle audiobook
// narrator.
package main

import (
	"context"
	"crypto/sha1"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/vrwarp/versicle/content"
	"github.com/vrwarp/versicle/lexicon"
	"github.com/vrwarp/versicle/playback"
	"github.com/vrwarp/versicle/playback/audio"
	"github.com/vrwarp/versicle/playback/provider"
	"github.com/vrwarp/versicle/playback/store"
	"github.com/vrwarp/versicle/ui"
)

var (
	// Version as provided by goreleaser.
	Version = ""
	// CommitSHA as provided by goreleaser.
	CommitSHA = ""

	configFile   string
	providerFlag string
	voiceFlag    string
	speedFlag    float64
	sampleText   string

	rootCmd = &cobra.Command{
		Use:   "versicle BOOK",
		Short: "Read books aloud in the terminal",
		Long:  "\nVersicle narrates a plain-text or markdown book with on-device or cloud speech synthesis, keeping your place between sessions.",
		SilenceErrors:    false,
		SilenceUsage:     true,
		TraverseChildren: true,
		Args:             cobra.ExactArgs(1),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return initConfig()
		},
		RunE: execute,
	}

	voicesCmd = &cobra.Command{
		Use:   "voices",
		Short: "List the voices of the configured provider",
		Args:  cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return initConfig()
		},
		RunE: listVoices,
	}

	previewCmd = &cobra.Command{
		Use:   "preview VOICE",
		Short: "Speak a short sample with the given voice",
		Args:  cobra.ExactArgs(1),
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return initConfig()
		},
		RunE: previewVoice,
	}
)

func initConfig() error {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		scope := gap.NewScope(gap.User, "versicle")
		dirs, err := scope.ConfigDirs()
		if err != nil {
			return fmt.Errorf("resolve config dirs: %w", err)
		}
		viper.SetConfigName("versicle")
		viper.SetConfigType("yaml")
		for _, dir := range dirs {
			viper.AddConfigPath(dir)
		}
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("versicle")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("read config: %w", err)
		}
	}
	return nil
}

// buildConfig merges defaults, the config file and command-line flags.
func buildConfig(cmd *cobra.Command) (playback.Config, error) {
	cfg, err := playback.LoadConfigFromViper()
	if err != nil {
		return cfg, err
	}
	if cmd.Flags().Changed("provider") {
		cfg.Provider = providerFlag
	}
	if cmd.Flags().Changed("voice") {
		cfg.VoiceID = voiceFlag
	}
	if cmd.Flags().Changed("speed") {
		cfg.Speed = speedFlag
	}
	return cfg, cfg.Validate()
}

func execute(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	bookPath := args[0]
	osFs := afero.NewOsFs()

	pipeline, err := content.NewTextPipeline(osFs, bookPath)
	if err != nil {
		return err
	}

	dataDir, err := dataDir()
	if err != nil {
		return err
	}

	snapshots, err := store.NewFileStore(filepath.Join(dataDir, "sessions"))
	if err != nil {
		return err
	}
	history, err := store.NewJSONLHistory(filepath.Join(dataDir, "history.jsonl"))
	if err != nil {
		return err
	}

	lex, err := lexicon.Load(filepath.Join(dataDir, "lexicon.yaml"))
	if err != nil {
		return err
	}

	providers, closePlayer, err := assembleProviders(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closePlayer()

	engine, err := playback.New(cfg, playback.Deps{
		Providers: providers,
		Pipeline:  pipeline,
		Lexicon:   lex,
		Store:     snapshots,
		History:   history,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.LoadBook(bookID(bookPath), bookTitle(bookPath)); err != nil {
		return err
	}

	watchConfig(engine)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	program := tea.NewProgram(ui.NewModel(engine, bookTitle(bookPath)), tea.WithAltScreen())

	g.Go(func() error {
		_, err := program.Run()
		cancel()
		return err
	})
	g.Go(func() error {
		<-ctx.Done()
		program.Quit()
		return nil
	})

	return g.Wait()
}

// assembleProviders builds the device, cloud and preview backends over a
// shared audio output. The returned closer releases the audio device.
func assembleProviders(ctx context.Context, cfg playback.Config) (map[provider.Kind]provider.Provider, func(), error) {
	player, err := audio.NewOtoPlayer(cfg.SampleRate, 1)
	if err != nil {
		return nil, nil, fmt.Errorf("open audio device: %w", err)
	}

	synth := provider.NewPiperSynthesizer(provider.PiperConfig{
		Binary:     cfg.Piper.Binary,
		ModelPath:  cfg.Piper.ModelPath,
		SampleRate: cfg.SampleRate,
	})
	providers := map[provider.Kind]provider.Provider{
		provider.KindDevice:  provider.NewDeviceProvider(synth, player),
		provider.KindPreview: provider.NewPreviewProvider(provider.PreviewConfig{WordsPerMinute: 150}),
	}

	if hasCloudCredentials() {
		cloud, err := provider.NewCloudProvider(ctx, provider.CloudConfig{
			LanguageCode: cfg.Cloud.LanguageCode,
			VoiceName:    cfg.Cloud.VoiceName,
			SampleRate:   cfg.SampleRate,
			Timeout:      cfg.Cloud.Timeout,
		}, player)
		if err != nil {
			log.Warn("cloud synthesis unavailable", "err", err)
		} else {
			providers[provider.KindCloud] = cloud
		}
	}

	return providers, func() { player.Close() }, nil
}

func hasCloudCredentials() bool {
	return os.Getenv("GOOGLE_APPLICATION_CREDENTIALS") != ""
}

// watchConfig applies speed and voice changes from the config file while
// the program runs.
func watchConfig(engine *playback.Orchestrator) {
	viper.OnConfigChange(func(_ fsnotify.Event) {
		if viper.IsSet("tts.speed") {
			if err := engine.SetSpeed(viper.GetFloat64("tts.speed")); err != nil {
				log.Warn("live speed update rejected", "err", err)
			}
		}
		if viper.IsSet("tts.voice_id") {
			if err := engine.SetVoice(viper.GetString("tts.voice_id")); err != nil {
				log.Warn("live voice update rejected", "err", err)
			}
		}
	})
	viper.WatchConfig()
}

func listVoices(cmd *cobra.Command, _ []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	providers, closePlayer, err := assembleProviders(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closePlayer()

	kind, _ := provider.ParseKind(cfg.Provider)
	p, ok := providers[kind]
	if !ok {
		return fmt.Errorf("provider %s unavailable", kind)
	}
	if err := p.Init(cmd.Context()); err != nil {
		return err
	}
	defer p.Shutdown()

	for _, v := range p.Voices() {
		fmt.Printf("%s\t%s\t%s\n", v.ID, v.Name, v.Language)
	}
	return nil
}

func previewVoice(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}

	providers, closePlayer, err := assembleProviders(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer closePlayer()

	engine, err := playback.New(cfg, playback.Deps{
		Providers: providers,
		Pipeline:  content.NewTextPipelineFromString(""),
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.PreviewVoice(args[0], sampleText); err != nil {
		return err
	}
	engine.Wait()
	// Give the sample time to finish before tearing the device down.
	time.Sleep(5 * time.Second)
	return nil
}

// bookID derives a stable identifier from the book's absolute path, so a
// renamed working directory still resumes the right session.
func bookID(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	sum := sha1.Sum([]byte(abs))
	return fmt.Sprintf("%x", sum[:8])
}

func bookTitle(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func dataDir() (string, error) {
	scope := gap.NewScope(gap.User, "versicle")
	dir, err := scope.DataPath("")
	if err != nil {
		return "", fmt.Errorf("resolve data dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	return dir, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: versicle.yaml in the user config dir)")
	rootCmd.Flags().StringVar(&providerFlag, "provider", "device", "speech provider: device, cloud or preview")
	rootCmd.Flags().StringVar(&voiceFlag, "voice", "", "narration voice id")
	rootCmd.Flags().Float64Var(&speedFlag, "speed", 1.0, "playback rate multiplier")
	previewCmd.Flags().StringVar(&sampleText, "text", "The quick brown fox jumps over the lazy dog.", "sample text to speak")

	rootCmd.AddCommand(voicesCmd, previewCmd, configCmd)

	rootCmd.Version = Version
	if len(CommitSHA) >= 7 {
		vt := rootCmd.VersionTemplate()
		rootCmd.SetVersionTemplate(vt[:len(vt)-1] + " (" + CommitSHA[0:7] + ")\n")
	}
}
