package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/petems/hear"
	"github.com/petems/hear/internal/app"
	"github.com/petems/hear/internal/audio"
	"github.com/petems/hear/internal/config"
	"github.com/petems/hear/internal/logging"
	"github.com/petems/hear/internal/permissions"
	"github.com/petems/hear/internal/tray"
	"github.com/rs/zerolog"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	// Load config from XDG/Library/AppData
	cfg, err := config.Load()
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)

	// macOS requires explicit microphone or screen recording approval before capture works
	if err := permissions.EnsurePermissions(hear.BackendName); err != nil {
		log.Fatal().Err(err).Msg("Required permissions not granted")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Create tray UI first (we'll pass it to app)
	trayUI := tray.New(nil, cfg, hear.BackendName, Version, Commit, log) // App reference set below

	// Create app with tray as status updater
	application := app.New(app.Config{
		Open:          opener(log),
		Config:        cfg,
		Logger:        log,
		StatusUpdater: trayUI,
	})

	// Set app reference in tray
	trayUI.SetApp(application)

	if err := application.Open(); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize audio capture")
	}

	log.Info().Str("backend", hear.BackendName).Msg("Hear starting...")

	// Setup shutdown signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutting down...")
		cancel()
	}()

	// Start tray UI - MUST run on main thread
	if err := trayUI.Run(ctx); err != nil {
		log.Fatal().Err(err).Msg("Tray error")
	}
}

// opener maps the audio config onto a capture session.
func opener(log zerolog.Logger) app.Opener {
	return func(cfg config.AudioConfig, onFrame func(audio.Frame), onError func(error)) (app.Capturer, error) {
		h, err := hear.New(hear.NewCallback(onFrame),
			hear.WithDevice(cfg.DeviceID),
			hear.WithSampleFormat(cfg.SampleFormat),
			hear.WithChannels(cfg.Channels),
			hear.WithSampleRate(cfg.SampleRate),
			hear.WithFramesPerBuffer(cfg.FramesPerBuffer),
			hear.WithLoopback(cfg.Loopback),
			hear.WithLogger(log),
			hear.WithErrorObserver(onError),
		)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
}
