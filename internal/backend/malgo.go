//go:build malgo && !screencapture

package backend

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/petems/hear/internal/audio"
	"github.com/petems/hear/internal/capture"
	"github.com/petems/hear/internal/config"
	"github.com/rs/zerolog"
)

// Name is the native API of this build.
const Name = "malgo"

// defaultSampleRate is requested when none is configured; miniaudio
// converts from the device rate internally.
const defaultSampleRate = 48000

// Malgo backend using miniaudio. Loopback captures what the default output
// device plays (WASAPI only).
type malgoBackend struct {
	cfg config.AudioConfig
	log zerolog.Logger
	ctx *malgo.AllocatedContext

	mu  sync.Mutex
	ids map[string]malgo.DeviceID
}

// New creates a miniaudio context for capture.
func New(cfg config.AudioConfig, log zerolog.Logger) (capture.Backend, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		log.Debug().Str("miniaudio", strings.TrimSpace(message)).Msg("Backend message")
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize malgo context: %w", err)
	}
	return &malgoBackend{
		cfg: cfg,
		log: log,
		ctx: ctx,
		ids: make(map[string]malgo.DeviceID),
	}, nil
}

func (m *malgoBackend) Name() string { return Name }

// sourceKind is the device class enumerated for selection; loopback
// captures from playback devices.
func (m *malgoBackend) sourceKind() malgo.DeviceType {
	if m.cfg.Loopback {
		return malgo.Playback
	}
	return malgo.Capture
}

func (m *malgoBackend) streamKind() malgo.DeviceType {
	if m.cfg.Loopback {
		return malgo.Loopback
	}
	return malgo.Capture
}

func (m *malgoBackend) Devices() ([]audio.Device, error) {
	infos, err := m.ctx.Devices(m.sourceKind())
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]audio.Device, 0, len(infos))
	for _, info := range infos {
		name := info.Name()
		m.ids[name] = info.ID
		result = append(result, audio.Device{
			ID:      name,
			Name:    name,
			Default: info.IsDefault != 0,
		})
	}
	return result, nil
}

func (m *malgoBackend) Probe() (audio.Device, audio.Format, error) {
	devices, err := m.Devices()
	if err != nil {
		return audio.Device{}, audio.Format{}, err
	}
	dev, err := pickDevice(devices, m.cfg.DeviceID)
	if err != nil {
		return audio.Device{}, audio.Format{}, err
	}

	rate := m.cfg.SampleRate
	if rate == 0 {
		rate = defaultSampleRate
	}
	return dev, audio.Format{
		Encoding: m.cfg.Encoding(),
		Layout: audio.Layout{
			Kind:     audio.Interleaved,
			Channels: resolveChannels(m.cfg.Channels, maxDefaultChannels),
		},
		SampleRate: rate,
	}, nil
}

// formatType maps an encoding to miniaudio's sample formats.
func formatType(enc audio.Encoding) (malgo.FormatType, bool) {
	switch enc {
	case audio.UInt8:
		return malgo.FormatU8, true
	case audio.Int16:
		return malgo.FormatS16, true
	case audio.Int32:
		return malgo.FormatS32, true
	case audio.Float32:
		return malgo.FormatF32, true
	default:
		return malgo.FormatUnknown, false
	}
}

func (m *malgoBackend) Open(dev audio.Device, f audio.Format, deliver func(audio.Packet), onError func(error)) (capture.Stream, error) {
	format, ok := formatType(f.Encoding)
	if !ok {
		return nil, unsupported("open "+Name+" stream", f.Encoding, "u8, i16, i32, f32")
	}

	channels := f.Layout.Channels
	deviceConfig := malgo.DefaultDeviceConfig(m.streamKind())
	deviceConfig.Capture.Format = format
	deviceConfig.Capture.Channels = uint32(channels)
	deviceConfig.SampleRate = uint32(f.SampleRate)
	deviceConfig.PeriodSizeInFrames = uint32(m.cfg.FramesPerBuffer)
	deviceConfig.Alsa.NoMMap = 1

	m.mu.Lock()
	id, ok := m.ids[dev.ID]
	m.mu.Unlock()
	if ok {
		deviceConfig.Capture.DeviceID = id.Pointer()
	}

	st := &malgoStream{}
	callbacks := malgo.DeviceCallbacks{
		Data: func(pOutputSample, pInputSamples []byte, frameCount uint32) {
			deliver(audio.Packet{Buffers: []audio.Buffer{{Data: pInputSamples, Channels: channels}}})
		},
		Stop: func() {
			// miniaudio also calls this for our own Stop.
			if !st.stopping.Load() {
				onError(fmt.Errorf("%w: %s", capture.ErrStreamStopped, dev.Name))
			}
		},
	}

	device, err := malgo.InitDevice(m.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize capture device: %w", err)
	}
	st.device = device

	m.log.Debug().
		Str("device", dev.Name).
		Str("format", formatName(format)).
		Int("channels", channels).
		Bool("loopback", m.cfg.Loopback).
		Msg("Malgo device initialized")

	return st, nil
}

func (m *malgoBackend) Close() error {
	if m.ctx == nil {
		return nil
	}
	err := m.ctx.Uninit()
	m.ctx.Free()
	m.ctx = nil
	if err != nil {
		return fmt.Errorf("malgo context uninit: %w", err)
	}
	return nil
}

type malgoStream struct {
	device   *malgo.Device
	stopping atomic.Bool
}

func (s *malgoStream) Start() error {
	s.stopping.Store(false)
	return s.device.Start()
}

func (s *malgoStream) Stop() error {
	s.stopping.Store(true)
	return s.device.Stop()
}

func (s *malgoStream) Close() error {
	s.stopping.Store(true)
	s.device.Uninit()
	return nil
}

// formatName returns human-readable format name
func formatName(format malgo.FormatType) string {
	switch format {
	case malgo.FormatU8:
		return "U8"
	case malgo.FormatS16:
		return "S16"
	case malgo.FormatS32:
		return "S32"
	case malgo.FormatF32:
		return "F32"
	default:
		return fmt.Sprintf("Unknown(%d)", format)
	}
}
