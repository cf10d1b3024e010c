package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/petems/hear/internal/audio"
	"github.com/petems/hear/internal/capture"
	"github.com/petems/hear/internal/config"
	"github.com/rs/zerolog"
)

// SilenceDBFS is reported for a channel with no signal.
const SilenceDBFS = -96.0

// StatusUpdater is an interface for updating status (e.g., tray icon)
type StatusUpdater interface {
	SetIdle()
	SetRecording()
	SetError()
}

// Capturer is a capture session as seen by the monitor.
type Capturer interface {
	Start() error
	Stop() error
	Close() error
	State() capture.State
	Format() audio.Format
	Device() audio.Device
	Devices() ([]audio.Device, error)
}

// Opener builds a capture session for the configured device. onFrame and
// onError run on backend threads.
type Opener func(cfg config.AudioConfig, onFrame func(audio.Frame), onError func(error)) (Capturer, error)

type Config struct {
	Open          Opener
	Config        *config.Config
	Logger        zerolog.Logger
	StatusUpdater StatusUpdater // Optional - can be nil
}

// App toggles capture and keeps per-channel peak levels of what it hears.
type App struct {
	open   Opener
	cfg    *config.Config
	log    zerolog.Logger
	status StatusUpdater

	mu  sync.Mutex
	cap Capturer

	levelMu sync.Mutex
	levels  []float64
	frames  uint64
}

func New(cfg Config) *App {
	return &App{
		open:   cfg.Open,
		cfg:    cfg.Config,
		log:    cfg.Logger,
		status: cfg.StatusUpdater,
	}
}

// Open creates the capture session for the configured device.
func (a *App) Open() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.openLocked()
}

func (a *App) openLocked() error {
	c, err := a.open(a.cfg.Audio, a.onFrame, a.onError)
	if err != nil {
		return err
	}
	a.cap = c
	a.log.Info().
		Str("device", c.Device().Name).
		Str("format", c.Format().String()).
		Msg("Capture ready")
	return nil
}

// Toggle starts capture when idle and stops it when running.
func (a *App) Toggle() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cap == nil {
		a.log.Error().Msg("No capture session")
		a.setError()
		return
	}

	switch a.cap.State() {
	case capture.Running:
		a.stopLocked()
	default:
		a.startLocked()
	}
}

func (a *App) startLocked() {
	a.log.Info().Msg("Starting capture")
	a.resetLevels()

	if err := a.cap.Start(); err != nil {
		a.log.Error().Err(err).Msg("Failed to start capture")
		a.setError()
		// A failed session never recovers; reopen so the next toggle can retry.
		if a.cap.State() == capture.Failed {
			a.reopenLocked()
		}
		return
	}
	if a.status != nil {
		a.status.SetRecording()
	}
}

func (a *App) stopLocked() {
	a.log.Info().Msg("Stopping capture")

	if err := a.cap.Stop(); err != nil && !errors.Is(err, capture.ErrNothingToStop) {
		a.log.Error().Err(err).Msg("Stop error")
		a.setError()
		return
	}
	if a.status != nil {
		a.status.SetIdle()
	}
}

func (a *App) reopenLocked() {
	if err := a.cap.Close(); err != nil {
		a.log.Warn().Err(err).Msg("Close failed session")
	}
	a.cap = nil
	if err := a.openLocked(); err != nil {
		a.log.Error().Err(err).Msg("Failed to reopen capture")
	}
}

func (a *App) onFrame(f audio.Frame) {
	peaks := make([]float64, f.Channels())
	for c, samples := range f {
		peaks[c] = PeakDBFS(samples)
	}

	a.levelMu.Lock()
	a.levels = peaks
	a.frames++
	a.levelMu.Unlock()
}

func (a *App) onError(err error) {
	a.log.Error().Err(err).Msg("Capture stream failed")
	a.setError()
}

func (a *App) setError() {
	if a.status != nil {
		a.status.SetError()
	}
}

func (a *App) resetLevels() {
	a.levelMu.Lock()
	a.levels = nil
	a.frames = 0
	a.levelMu.Unlock()
}

// Levels returns the latest per-channel peaks in dBFS and how many frames
// arrived since capture started.
func (a *App) Levels() ([]float64, uint64) {
	a.levelMu.Lock()
	defer a.levelMu.Unlock()
	return append([]float64(nil), a.levels...), a.frames
}

// PeakDBFS returns the peak magnitude of samples in dBFS, floored at
// SilenceDBFS.
func PeakDBFS(samples []float32) float64 {
	var peak float64
	for _, s := range samples {
		if v := math.Abs(float64(s)); v > peak {
			peak = v
		}
	}
	if peak == 0 {
		return SilenceDBFS
	}
	db := 20 * math.Log10(peak)
	if db < SilenceDBFS {
		return SilenceDBFS
	}
	return db
}

func (a *App) Shutdown(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cap == nil {
		return nil
	}
	err := a.cap.Close()
	a.cap = nil
	return err
}

// Tray actions

// SetDevice switches capture to the named device and saves it.
func (a *App) SetDevice(id string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.cap != nil && a.cap.State() == capture.Running {
		return fmt.Errorf("cannot change device while capturing")
	}

	previous := a.cfg.Audio.DeviceID
	a.cfg.Audio.DeviceID = id

	if a.cap != nil {
		if err := a.cap.Close(); err != nil {
			a.log.Warn().Err(err).Msg("Close previous session")
		}
		a.cap = nil
	}
	if err := a.openLocked(); err != nil {
		a.cfg.Audio.DeviceID = previous
		if rerr := a.openLocked(); rerr != nil {
			a.log.Error().Err(rerr).Msg("Failed to restore previous device")
		}
		return err
	}
	return a.cfg.Save()
}

func (a *App) IsCapturing() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cap != nil && a.cap.State() == capture.Running
}

// Describe returns the selected device and its stream format.
func (a *App) Describe() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cap == nil {
		return "no capture session"
	}
	return fmt.Sprintf("%s: %s", a.cap.Device().Name, a.cap.Format())
}

func (a *App) ListDevices() ([]audio.Device, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cap == nil {
		return nil, fmt.Errorf("no capture session")
	}
	return a.cap.Devices()
}
