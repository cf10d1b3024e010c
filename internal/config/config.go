package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/petems/hear/internal/audio"
)

type Config struct {
	LogLevel string      `json:"log_level"` // zerolog level name
	Audio    AudioConfig `json:"audio"`
	Tray     TrayConfig  `json:"tray"`
}

type AudioConfig struct {
	DeviceID        string  `json:"device_id"`     // device name, empty for the system default
	SampleFormat    string  `json:"sample_format"` // "f32", "i16", ...; empty for f32
	Channels        int     `json:"channels"`      // 0 = device default, capped at 2
	SampleRate      float64 `json:"sample_rate"`   // 0 = device default
	FramesPerBuffer int     `json:"frames_per_buffer"`
	Loopback        bool    `json:"loopback"` // capture the default output device (malgo backend)
}

type TrayConfig struct {
	ShowLevels bool `json:"show_levels"`
}

// DefaultAudio returns the audio settings used when nothing is configured.
func DefaultAudio() AudioConfig {
	return AudioConfig{
		DeviceID:        "",
		SampleFormat:    "f32",
		Channels:        0,
		SampleRate:      0,
		FramesPerBuffer: 512,
		Loopback:        false,
	}
}

// Default returns the full default config.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Audio:    DefaultAudio(),
		Tray: TrayConfig{
			ShowLevels: true,
		},
	}
}

// Load reads the config from disk or returns defaults
func Load() (*Config, error) {
	return LoadFrom(configPath())
}

// LoadFrom reads the config at path over the defaults. A missing file is not
// an error.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config to disk
func (c *Config) Save() error {
	return c.SaveTo(configPath())
}

// SaveTo writes the config to path, creating its directory.
func (c *Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Validate checks the whole config.
func (c *Config) Validate() error {
	return c.Audio.Validate()
}

// Validate checks value ranges and that the sample format is one the
// converter knows.
func (a AudioConfig) Validate() error {
	if _, err := audio.ParseEncoding(a.SampleFormat); err != nil {
		return err
	}
	if a.Channels < 0 {
		return fmt.Errorf("channels must not be negative, got %d", a.Channels)
	}
	if a.SampleRate < 0 {
		return fmt.Errorf("sample_rate must not be negative, got %v", a.SampleRate)
	}
	if a.FramesPerBuffer < 0 {
		return fmt.Errorf("frames_per_buffer must not be negative, got %d", a.FramesPerBuffer)
	}
	return nil
}

// Encoding returns the parsed sample format. Call Validate first.
func (a AudioConfig) Encoding() audio.Encoding {
	enc, _ := audio.ParseEncoding(a.SampleFormat)
	return enc
}

// Path returns the config file location.
func Path() string {
	return configPath()
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "hear", "config.json")
}
