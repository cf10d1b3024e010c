//go:build !malgo && !screencapture

package backend

import (
	"errors"
	"fmt"

	"github.com/gordonklaus/portaudio"
	"github.com/petems/hear/internal/audio"
	"github.com/petems/hear/internal/capture"
	"github.com/petems/hear/internal/config"
	"github.com/rs/zerolog"
)

// Name is the native API of this build.
const Name = "portaudio"

type portAudioBackend struct {
	cfg config.AudioConfig
	log zerolog.Logger
}

// New creates a new PortAudio-based capture backend
func New(cfg config.AudioConfig, log zerolog.Logger) (capture.Backend, error) {
	if cfg.Loopback {
		return nil, &capture.ConfigurationError{
			Op:  "init " + Name,
			Err: errors.New("loopback capture needs the malgo backend (build with -tags malgo)"),
		}
	}
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &portAudioBackend{cfg: cfg, log: log}, nil
}

func (p *portAudioBackend) Name() string { return Name }

func (p *portAudioBackend) Probe() (audio.Device, audio.Format, error) {
	devices, err := p.Devices()
	if err != nil {
		return audio.Device{}, audio.Format{}, err
	}
	dev, err := pickDevice(devices, p.cfg.DeviceID)
	if err != nil {
		return audio.Device{}, audio.Format{}, err
	}
	info, err := p.lookup(dev.ID)
	if err != nil {
		return audio.Device{}, audio.Format{}, err
	}

	rate := p.cfg.SampleRate
	if rate == 0 {
		rate = info.DefaultSampleRate
	}
	return dev, audio.Format{
		Encoding: p.cfg.Encoding(),
		Layout: audio.Layout{
			Kind:     audio.Interleaved,
			Channels: resolveChannels(p.cfg.Channels, info.MaxInputChannels),
		},
		SampleRate: rate,
	}, nil
}

func (p *portAudioBackend) Devices() ([]audio.Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]audio.Device, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, audio.Device{
				ID:          d.Name,
				Name:        d.Name,
				Default:     d == defaultDevice,
				MaxChannels: d.MaxInputChannels,
			})
		}
	}

	return result, nil
}

func (p *portAudioBackend) lookup(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate devices: %w", err)
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: device not found: %s", capture.ErrNoDevice, name)
}

func (p *portAudioBackend) Open(dev audio.Device, f audio.Format, deliver func(audio.Packet), onError func(error)) (capture.Stream, error) {
	info, err := p.lookup(dev.ID)
	if err != nil {
		return nil, err
	}

	channels := f.Layout.Channels
	callback, err := inputCallback(f.Encoding, channels, deliver)
	if err != nil {
		return nil, err
	}

	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   info,
			Channels: channels,
			Latency:  info.DefaultLowInputLatency,
		},
		SampleRate:      f.SampleRate,
		FramesPerBuffer: p.cfg.FramesPerBuffer,
	}, callback)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}

	p.log.Debug().
		Str("device", info.Name).
		Int("channels", channels).
		Float64("sample_rate", f.SampleRate).
		Int("frames_per_buffer", p.cfg.FramesPerBuffer).
		Msg("PortAudio stream opened")

	// PortAudio has no asynchronous error callback; failures surface from
	// Start and Stop.
	return &portAudioStream{stream: stream}, nil
}

// inputCallback builds the typed PortAudio callback for enc. PortAudio
// hands over one interleaved buffer per call.
func inputCallback(enc audio.Encoding, channels int, deliver func(audio.Packet)) (any, error) {
	packet := func(b []byte) audio.Packet {
		return audio.Packet{Buffers: []audio.Buffer{{Data: b, Channels: channels}}}
	}

	switch enc {
	case audio.Float32:
		return func(in []float32) { deliver(packet(audio.BytesOf(in))) }, nil
	case audio.Int32:
		return func(in []int32) { deliver(packet(audio.BytesOf(in))) }, nil
	case audio.Int16:
		return func(in []int16) { deliver(packet(audio.BytesOf(in))) }, nil
	case audio.Int8:
		return func(in []int8) { deliver(packet(audio.BytesOf(in))) }, nil
	case audio.UInt8:
		return func(in []uint8) { deliver(packet(in)) }, nil
	default:
		return nil, unsupported("open "+Name+" stream", enc, "f32, i32, i16, i8, u8")
	}
}

func (p *portAudioBackend) Close() error {
	return portaudio.Terminate()
}

type portAudioStream struct {
	stream *portaudio.Stream
}

func (s *portAudioStream) Start() error {
	return s.stream.Start()
}

// Stop waits for the callback in progress, if any, to return.
func (s *portAudioStream) Stop() error {
	return s.stream.Stop()
}

func (s *portAudioStream) Close() error {
	return s.stream.Close()
}
