// Package main provides the watch CLI entry point.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/19watch/internal/api/tui"
	"github.com/osa030/19watch/internal/app/connectivity"
	"github.com/osa030/19watch/internal/app/input"
	"github.com/osa030/19watch/internal/app/playback"
	"github.com/osa030/19watch/internal/app/preview"
	"github.com/osa030/19watch/internal/app/session"
	"github.com/osa030/19watch/internal/app/settings"
	"github.com/osa030/19watch/internal/domain/media"
	"github.com/osa030/19watch/internal/infra/config"
	"github.com/osa030/19watch/internal/infra/logger"
	"github.com/osa030/19watch/internal/infra/mpv"
	"github.com/osa030/19watch/internal/infra/netprobe"
	"github.com/osa030/19watch/internal/infra/storage"
	"github.com/osa030/19watch/internal/infra/thumbnail"
)

var (
	app        = kingpin.New("19watch", "19watch terminal video player")
	configPath = app.Flag("config", "Path to config file").Default("config/watch.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: from config)").String()

	// play command (default)
	playCmd       = app.Command("play", "Watch a title (default)").Default()
	playContentID = playCmd.Arg("content-id", "Content identifier").Required().String()
	playURL       = playCmd.Arg("url", "Playable media URL or local path").Required().String()
	noPreview     = playCmd.Flag("no-preview", "Disable scrub previews").Bool()

	// settings commands
	settingsCmd    = app.Command("settings", "Inspect persisted player settings")
	showCmd        = settingsCmd.Command("show", "Show stored settings for a title")
	showContentID  = showCmd.Arg("content-id", "Content identifier").Required().String()
	clearCmd       = settingsCmd.Command("clear", "Forget stored settings for a title")
	clearContentID = clearCmd.Arg("content-id", "Content identifier").Required().String()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	loggerConfig := logger.Config{
		Output: cfg.Log.Output,
		Level:  cfg.Log.Level,
		File:   cfg.Log.File,
	}
	// Override with command-line flags if specified
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.Output = "file"
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	store := settings.New(settings.Options{
		Path:       cfg.Settings.Path,
		Fs:         storage.OsFs(),
		WriteDelay: cfg.Settings.WriteDelay(),
	})

	switch command {
	case showCmd.FullCommand():
		err = showSettings(os.Stdout, store, *showContentID)
	case clearCmd.FullCommand():
		err = clearSettings(os.Stdout, store, *clearContentID)
	default:
		err = play(cfg, store, media.Content{ID: *playContentID, URL: *playURL})
	}

	if closeErr := store.Close(); closeErr != nil {
		zlog.Error().Msgf("Failed to flush settings: %v", closeErr)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// play runs the watch surface. Using a separate function ensures deferred
// cleanup runs before main exits.
func play(cfg *config.Config, store *settings.Store, content media.Content) error {
	opener, err := newOpener(cfg)
	if err != nil {
		return err
	}

	deps := session.Deps{
		Opener: opener,
		Store:  store,
		Probe:  netprobe.New(),
		Keys:   input.DefaultKeyMap(),
	}
	if !*noPreview {
		encoder, err := thumbnail.NewEncoder(cfg.Preview.Config)
		if err != nil {
			return errors.Wrap(err, "invalid preview config")
		}
		deps.PreviewOpener = opener
		deps.Encoder = encoder
	}

	mgr := session.NewManager(sessionConfig(cfg), deps)
	defer func() {
		if err := mgr.Close(); err != nil {
			zlog.Error().Msgf("Failed to close session: %v", err)
		}
	}()
	mgr.Start()

	// A failed mount is shown as an error state with a reload action.
	if err := mgr.Mount(content); err != nil {
		zlog.Error().Msgf("Failed to mount %s: %v", content.ID, err)
	}

	return tui.Run(mgr)
}

// newOpener creates the configured media engine.
func newOpener(cfg *config.Config) (media.Opener, error) {
	switch cfg.Engine.Type {
	case "mpv":
		mpvConfig, err := mpv.ParseConfig(cfg.Engine.Settings)
		if err != nil {
			return nil, errors.Wrap(err, "invalid mpv settings")
		}
		return mpv.NewOpener(mpvConfig, storage.OsFs()), nil
	default:
		return nil, errors.Newf("unknown engine type: %s", cfg.Engine.Type)
	}
}

func sessionConfig(cfg *config.Config) session.Config {
	return session.Config{
		Playback: playback.Config{
			StallGrace:          cfg.Playback.StallGrace(),
			ResumeWriteInterval: cfg.Playback.ResumeWriteInterval(),
		},
		Preview: preview.Config{
			Debounce:       cfg.Preview.Debounce(),
			CaptureTimeout: cfg.Preview.CaptureTimeout(),
		},
		Input: input.Config{
			SkipSeconds:       cfg.Input.SkipSeconds,
			SkipWindow:        cfg.Input.SkipWindow(),
			MaxSkipMultiplier: cfg.Input.MaxSkipMultiplier,
			VolumeStep:        cfg.Input.VolumeStep,
			RateStep:          cfg.Input.RateStep,
		},
		Connectivity: connectivity.Config{
			PollInterval: cfg.Connectivity.PollInterval(),
			AdvisoryTTL:  cfg.Connectivity.AdvisoryTTL(),
		},
		Qualities: cfg.Playback.Qualities,
	}
}
