// Package hear delivers live audio from an input device, a loopback of the
// default output device, or a display's system-audio stream to a callback,
// normalized to one float32 sequence per channel whatever the native sample
// format was.
//
// Exactly one native backend is linked per build: PortAudio by default,
// miniaudio with -tags malgo, ScreenCaptureKit with -tags screencapture on
// macOS.
//
// Example:
//
//	cb := hear.NewCallback(func(f hear.Frame) {
//		fmt.Println(f.Channels(), f.Len())
//	})
//	h, err := hear.New(cb)
//	if err != nil {
//		return err
//	}
//	defer h.Close()
//	err = h.Start()
package hear

import (
	"errors"

	"github.com/petems/hear/internal/audio"
	"github.com/petems/hear/internal/backend"
	"github.com/petems/hear/internal/capture"
	"github.com/petems/hear/internal/config"
	"github.com/petems/hear/internal/observe"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
)

type (
	// Frame is one delivery: a float32 sequence per channel, roughly in [-1, 1].
	Frame = audio.Frame
	// Callback is the shared, serialized handle to the user closure.
	Callback = audio.Callback
	// Format is the encoding, layout and rate chosen at construction.
	Format = audio.Format
	// Device is a capture source reported by the backend.
	Device = audio.Device
	// State is the capture lifecycle state.
	State = capture.State

	ConfigurationError = capture.ConfigurationError
	LifecycleError     = capture.LifecycleError
)

const (
	Idle     = capture.Idle
	Starting = capture.Starting
	Running  = capture.Running
	Stopping = capture.Stopping
	Stopped  = capture.Stopped
	Failed   = capture.Failed
)

var (
	ErrNoDevice            = capture.ErrNoDevice
	ErrUnsupportedEncoding = capture.ErrUnsupportedEncoding
	ErrNothingToStop       = capture.ErrNothingToStop
	ErrSessionFailed       = capture.ErrSessionFailed
	ErrClosed              = capture.ErrClosed
	ErrStreamStopped       = capture.ErrStreamStopped
)

// BackendName is the native API linked into this build.
const BackendName = backend.Name

// NewCallback wraps fn so it can be shared with backend capture threads. fn
// runs for one frame at a time and should return promptly: a slow fn blocks
// the native thread that delivered the frame. Frames may differ in length
// between calls, and fn must not call Stop or Close.
func NewCallback(fn func(Frame)) *Callback {
	return audio.NewCallback(fn)
}

// Option configures New.
type Option func(*options)

type options struct {
	audio   config.AudioConfig
	log     zerolog.Logger
	onError func(error)
	meters  metric.MeterProvider
	backend capture.Backend
}

// WithDevice selects a device by name instead of the system default.
func WithDevice(name string) Option {
	return func(o *options) { o.audio.DeviceID = name }
}

// WithSampleFormat requests a native sample format ("f32", "i16", ...).
// Backends that cannot open it fail Start with a ConfigurationError.
func WithSampleFormat(format string) Option {
	return func(o *options) { o.audio.SampleFormat = format }
}

// WithChannels requests a channel count. Zero keeps the device default.
func WithChannels(n int) Option {
	return func(o *options) { o.audio.Channels = n }
}

// WithSampleRate requests a sample rate. Zero keeps the device default. No
// resampling is done; the rate is passed to the native API as is.
func WithSampleRate(hz float64) Option {
	return func(o *options) { o.audio.SampleRate = hz }
}

// WithFramesPerBuffer requests a native buffer size in frames.
func WithFramesPerBuffer(n int) Option {
	return func(o *options) { o.audio.FramesPerBuffer = n }
}

// WithLoopback captures the default output device instead of an input,
// where the backend supports it.
func WithLoopback(on bool) Option {
	return func(o *options) { o.audio.Loopback = on }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(o *options) { o.log = log }
}

// WithErrorObserver registers fn to be told when the native stream dies.
// fn is called from a backend thread.
func WithErrorObserver(fn func(error)) Option {
	return func(o *options) { o.onError = fn }
}

// WithMeterProvider records capture metrics (frames, samples, heuristic
// decodes, stream errors, open streams) through mp. By default nothing is
// recorded.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *options) { o.meters = mp }
}

func withBackend(b capture.Backend) Option {
	return func(o *options) { o.backend = b }
}

// Hear is one capture session.
type Hear struct {
	session *capture.Session
}

// New selects a device and format. It fails with a ConfigurationError if no
// device is available; it never falls back to guessed defaults.
func New(cb *Callback, opts ...Option) (*Hear, error) {
	o := options{
		audio: config.DefaultAudio(),
		log:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	if err := o.audio.Validate(); err != nil {
		return nil, &ConfigurationError{Op: "validate config", Err: err}
	}

	var metrics *observe.Metrics
	if o.meters != nil {
		var err error
		if metrics, err = observe.NewMetrics(o.meters); err != nil {
			return nil, &ConfigurationError{Op: "create metrics", Err: err}
		}
	}

	b := o.backend
	if b == nil {
		var err error
		b, err = backend.New(o.audio, o.log)
		if err != nil {
			var cfgErr *ConfigurationError
			if errors.As(err, &cfgErr) {
				return nil, err
			}
			return nil, &ConfigurationError{Op: "init " + backend.Name, Err: err}
		}
	}

	s, err := capture.New(b, cb, capture.Config{Logger: o.log, OnError: o.onError, Metrics: metrics})
	if err != nil {
		if cerr := b.Close(); cerr != nil {
			o.log.Warn().Err(cerr).Msg("Backend close after failed probe")
		}
		return nil, err
	}
	return &Hear{session: s}, nil
}

// Start begins capture. Calling it while running does nothing.
func (h *Hear) Start() error { return h.session.Start() }

// Stop ends capture and releases the native stream. It returns
// ErrNothingToStop if nothing was running.
func (h *Hear) Stop() error { return h.session.Stop() }

// Close stops capture if needed and releases the backend.
func (h *Hear) Close() error { return h.session.Close() }

// State reports the lifecycle state.
func (h *Hear) State() State { return h.session.State() }

// Format reports what the backend delivers for the selected device.
func (h *Hear) Format() Format { return h.session.Format() }

// Device reports the selected device.
func (h *Hear) Device() Device { return h.session.Device() }

// Devices lists the capture sources the backend can see.
func (h *Hear) Devices() ([]Device, error) { return h.session.Devices() }
