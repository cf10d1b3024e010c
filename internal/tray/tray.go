package tray

import (
	"context"
	"fmt"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/getlantern/systray"
	"github.com/petems/hear/internal/app"
	"github.com/petems/hear/internal/config"
	"github.com/petems/hear/internal/logging"
	"github.com/rs/zerolog"
)

// levelInterval is how often the meter in the title refreshes.
const levelInterval = 250 * time.Millisecond

type UI struct {
	app     *app.App
	cfg     *config.Config
	backend string
	version string
	commit  string
	log     zerolog.Logger

	mu     sync.Mutex
	status string

	// Menu items
	mStartStop  *systray.MenuItem
	mDevices    *systray.MenuItem
	mShowLevels *systray.MenuItem
}

// Status update methods for the app to call
func (u *UI) SetIdle() {
	u.updateStatus("idle")
	if u.mStartStop != nil {
		u.mStartStop.SetTitle("Start Capture")
	}
}

func (u *UI) SetRecording() {
	u.updateStatus("recording")
	if u.mStartStop != nil {
		u.mStartStop.SetTitle("Stop Capture")
	}
}

func (u *UI) SetError() {
	u.updateStatus("error")
	if u.mStartStop != nil {
		u.mStartStop.SetTitle("Start Capture")
	}
}

func New(application *app.App, cfg *config.Config, backend, version, commit string, log zerolog.Logger) *UI {
	return &UI{
		app:     application,
		cfg:     cfg,
		backend: backend,
		version: version,
		commit:  commit,
		log:     log,
		status:  "idle",
	}
}

// SetApp sets the app reference (for circular dependency resolution)
func (u *UI) SetApp(application *app.App) {
	u.app = application
}

// Run blocks in the system tray loop until Quit is chosen or ctx ends.
func (u *UI) Run(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		systray.Quit()
	}()
	systray.Run(u.onReady, u.onExit)
	return nil
}

func (u *UI) onReady() {
	// Use emoji instead of icon - speaker with initial status
	u.updateStatus("idle")
	systray.SetTooltip(fmt.Sprintf("Audio capture monitor (%s)", u.backend))

	// Build menu
	u.mStartStop = systray.AddMenuItem("Start Capture", "Start or stop capturing")
	systray.AddSeparator()

	u.mDevices = systray.AddMenuItem("Source", "Select capture source")
	u.buildDeviceMenu()

	mCopy := systray.AddMenuItem("Copy Stream Format", "Copy device and format to the clipboard")
	u.mShowLevels = systray.AddMenuItemCheckbox("Show Levels", "Show peak levels in the menu bar", u.cfg.Tray.ShowLevels)

	systray.AddSeparator()
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mAbout := systray.AddMenuItem("About", "About Hear")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	go u.meter()

	// Event loop
	go u.handleEvents(mCopy, mLogs, mAbout, mQuit)
}

func (u *UI) handleEvents(mCopy, mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mStartStop.ClickedCh:
			u.app.Toggle()
		case <-mCopy.ClickedCh:
			u.copyFormat()
		case <-u.mShowLevels.ClickedCh:
			u.toggleShowLevels()
		case <-mLogs.ClickedCh:
			u.openLogs()
		case <-mAbout.ClickedCh:
			u.showAbout()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

func (u *UI) buildDeviceMenu() {
	// Get devices from app
	devices, err := u.app.ListDevices()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list capture sources")
		return
	}

	deviceItems := make(map[string]*systray.MenuItem)

	for _, dev := range devices {
		item := u.mDevices.AddSubMenuItem(dev.Name, "")
		if dev.ID == u.cfg.Audio.DeviceID || (u.cfg.Audio.DeviceID == "" && dev.Default) {
			item.Check()
		}
		deviceItems[dev.ID] = item

		go func(deviceID, deviceName string, menuItem *systray.MenuItem) {
			for {
				<-menuItem.ClickedCh
				if err := u.app.SetDevice(deviceID); err != nil {
					u.log.Error().Err(err).Str("device", deviceName).Msg("Failed to change capture source")
					continue
				}
				// Uncheck all other items
				for id, itm := range deviceItems {
					if id != deviceID {
						itm.Uncheck()
					}
				}
				// Check this item
				menuItem.Check()
				u.log.Info().Str("device", deviceName).Msg("Changed capture source")
			}
		}(dev.ID, dev.Name, item)
	}
}

func (u *UI) copyFormat() {
	text := u.app.Describe()
	if err := clipboard.WriteAll(text); err != nil {
		u.log.Error().Err(err).Msg("Failed to copy stream format")
		return
	}
	u.log.Info().Str("format", text).Msg("Copied stream format")
}

func (u *UI) toggleShowLevels() {
	u.mu.Lock()
	u.cfg.Tray.ShowLevels = !u.cfg.Tray.ShowLevels
	show := u.cfg.Tray.ShowLevels
	u.mu.Unlock()

	if show {
		u.mShowLevels.Check()
	} else {
		u.mShowLevels.Uncheck()
	}
	if err := u.cfg.Save(); err != nil {
		u.log.Error().Err(err).Msg("Failed to save config")
	}
	u.log.Info().Bool("show_levels", show).Msg("Changed level display")
	u.refreshTitle(nil)
}

// meter refreshes the title with the latest peaks while capturing.
func (u *UI) meter() {
	ticker := time.NewTicker(levelInterval)
	defer ticker.Stop()

	for range ticker.C {
		u.mu.Lock()
		active := u.status == "recording" && u.cfg.Tray.ShowLevels
		u.mu.Unlock()
		if !active {
			continue
		}
		levels, _ := u.app.Levels()
		u.refreshTitle(levels)
	}
}

func (u *UI) openLogs() {
	path := logging.Path()

	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", path)
	case "windows":
		cmd = exec.Command("explorer", path)
	default:
		cmd = exec.Command("xdg-open", path)
	}
	if err := cmd.Start(); err != nil {
		u.log.Error().Err(err).Str("path", path).Msg("Failed to open logs")
		return
	}
	go cmd.Wait()
}

func (u *UI) showAbout() {
	// TODO: Show about dialog with native UI
	fmt.Printf("Hear %s (%s)\nAudio capture monitor, %s backend\n", u.version, u.commit, u.backend)
}

func (u *UI) onExit() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := u.app.Shutdown(ctx); err != nil {
		u.log.Error().Err(err).Msg("Shutdown error")
	}
}

// updateStatus sets the tray title with speaker emoji and status indicator
func (u *UI) updateStatus(status string) {
	u.mu.Lock()
	u.status = status
	u.mu.Unlock()
	u.refreshTitle(nil)
}

func (u *UI) refreshTitle(levels []float64) {
	u.mu.Lock()
	status := u.status
	show := u.cfg.Tray.ShowLevels
	u.mu.Unlock()

	systray.SetTitle(title(status, levels, show))
}

func title(status string, levels []float64, show bool) string {
	t := fmt.Sprintf("🔊 %s", emojiForStatus(status))
	if show && status == "recording" && len(levels) > 0 {
		t += " " + formatLevels(levels)
	}
	return t
}

// formatLevels renders per-channel peaks as "-12 / -9 dB".
func formatLevels(levels []float64) string {
	parts := make([]string, len(levels))
	for i, db := range levels {
		if db <= app.SilenceDBFS {
			parts[i] = "-∞"
			continue
		}
		parts[i] = fmt.Sprintf("%.0f", db)
	}
	return strings.Join(parts, " / ") + " dB"
}

// emojiForStatus returns the appropriate status emoji
func emojiForStatus(status string) string {
	switch status {
	case "recording":
		return "🔴" // Red - capturing
	case "idle":
		return "🟢" // Green - ready/idle
	case "error":
		return "⚪️" // White - error
	default:
		return "🟢" // Green - default to ready
	}
}
