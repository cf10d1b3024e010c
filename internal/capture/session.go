package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/petems/hear/internal/audio"
	"github.com/petems/hear/internal/observe"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/metric"
)

// State is a capture session's lifecycle state.
type State int32

const (
	Idle State = iota
	Starting
	Running
	Stopping
	Failed
)

// Stopped is Idle for a session that has already run; it can be started again.
const Stopped = Idle

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config carries the optional collaborators of a Session.
type Config struct {
	Logger zerolog.Logger
	// OnError is called once, from a native thread, when an asynchronous
	// stream error moves the session to Failed. Optional.
	OnError func(error)
	// Metrics defaults to observe.Nop().
	Metrics *observe.Metrics
}

// Session owns at most one native stream and the callback it feeds.
//
// Start and Stop are serialized with each other. Frames are delivered from
// backend threads through the Callback, which runs the user closure for one
// frame at a time; a closure that blocks stalls the native thread, and a
// closure that calls Stop deadlocks on backends whose Stop waits for the
// callback to return.
type Session struct {
	backend Backend
	cb      *audio.Callback
	device  audio.Device
	format  audio.Format
	log     zerolog.Logger
	onError func(error)
	metrics *observe.Metrics
	tag     metric.MeasurementOption

	mu     sync.Mutex
	stream Stream
	cause  error
	closed bool

	state    atomic.Int32
	gen      atomic.Uint64 // generation of the most recently opened stream
	live     atomic.Uint64 // generation currently allowed to deliver, 0 for none
	fellBack atomic.Bool

	asyncMu  sync.Mutex
	asyncErr error
}

// New probes the backend for a device and format. A probe failure is a
// ConfigurationError and no session is returned.
func New(backend Backend, cb *audio.Callback, cfg Config) (*Session, error) {
	dev, format, err := backend.Probe()
	if err != nil {
		return nil, &ConfigurationError{Op: "probe " + backend.Name(), Err: err}
	}
	if cb == nil {
		cb = audio.NewCallback(nil)
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observe.Nop()
	}

	s := &Session{
		backend: backend,
		cb:      cb,
		device:  dev,
		format:  format,
		log:     cfg.Logger.With().Str("backend", backend.Name()).Logger(),
		onError: cfg.OnError,
		metrics: cfg.Metrics,
		tag:     observe.Backend(backend.Name()),
	}
	s.state.Store(int32(Idle))

	s.log.Info().
		Str("device", dev.Name).
		Stringer("format", format).
		Msg("Capture session created")
	return s, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Device returns the device selected at construction.
func (s *Session) Device() audio.Device { return s.device }

// Format returns the encoding and layout selected at construction.
func (s *Session) Format() audio.Format { return s.format }

// Devices lists the backend's capture sources.
func (s *Session) Devices() ([]audio.Device, error) {
	return s.backend.Devices()
}

// Start opens and starts a native stream. It is a no-op while Running. A
// failure to validate the format or acquire the stream moves the session to
// Failed; a Failed session never starts again.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &LifecycleError{Op: "start", Err: ErrClosed}
	}
	s.absorbAsyncLocked()

	switch s.State() {
	case Running:
		s.log.Debug().Msg("Start ignored, already running")
		return nil
	case Failed:
		return &LifecycleError{Op: "start", Err: failedErr(s.cause)}
	}

	s.state.Store(int32(Starting))

	if enc := s.format.Encoding; enc != audio.Unknown && !enc.Supported() {
		return s.failLocked(&ConfigurationError{
			Op:  "start",
			Err: fmt.Errorf("%w: %s", ErrUnsupportedEncoding, enc),
		})
	}

	gen := s.gen.Add(1)
	deliver, onError := s.bridge(gen)
	s.live.Store(gen)
	s.fellBack.Store(false)

	stream, err := s.backend.Open(s.device, s.format, deliver, onError)
	if err != nil {
		s.live.Store(0)
		s.metrics.RecordStreamError(context.Background(), s.backend.Name(), "open")
		var cfgErr *ConfigurationError
		if errors.As(err, &cfgErr) {
			return s.failLocked(err)
		}
		return s.failLocked(&LifecycleError{Op: "open stream", Err: err})
	}
	s.stream = stream
	s.metrics.OpenStreams.Add(context.Background(), 1, s.tag)

	if err := stream.Start(); err != nil {
		s.metrics.RecordStreamError(context.Background(), s.backend.Name(), "start")
		return s.failLocked(&LifecycleError{Op: "start stream", Err: err})
	}

	if !s.state.CompareAndSwap(int32(Starting), int32(Running)) {
		// The stream reported an error while starting.
		s.absorbAsyncLocked()
		s.releaseLocked()
		return &LifecycleError{Op: "start", Err: failedErr(s.cause)}
	}

	if s.format.Encoding == audio.Unknown {
		s.log.Debug().Str("conversion", audio.Heuristic.String()).Msg("No encoding metadata, byte-length heuristic may be used")
	} else {
		s.log.Debug().Str("conversion", audio.Explicit.String()).Stringer("encoding", s.format.Encoding).Msg("Conversion path selected")
	}
	s.log.Info().Str("device", s.device.Name).Msg("Capture started")
	return nil
}

// Stop releases the native stream. Stopping a session with no active stream
// returns ErrNothingToStop. A callback already running when Stop is called
// may finish after Stop returns; no new ones start.
func (s *Session) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return &LifecycleError{Op: "stop", Err: ErrClosed}
	}
	s.absorbAsyncLocked()

	switch s.State() {
	case Idle:
		return &LifecycleError{Op: "stop", Err: ErrNothingToStop}
	case Failed:
		s.releaseLocked()
		return &LifecycleError{Op: "stop", Err: failedErr(s.cause)}
	}

	if err := s.stopLocked(); err != nil {
		return &LifecycleError{Op: "stop", Err: err}
	}
	s.log.Info().Msg("Capture stopped")
	return nil
}

// Close stops a running stream and releases backend resources. It is safe
// to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	s.absorbAsyncLocked()

	if s.State() == Running {
		if err := s.stopLocked(); err != nil {
			s.log.Warn().Err(err).Msg("Stop during close failed")
		}
	}
	s.releaseLocked()

	return s.backend.Close()
}

func (s *Session) stopLocked() error {
	if !s.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		s.absorbAsyncLocked()
		s.releaseLocked()
		return failedErr(s.cause)
	}
	s.live.Store(0)

	var errs []error
	if s.stream != nil {
		errs = append(errs, s.stream.Stop(), s.stream.Close())
		s.stream = nil
		s.metrics.OpenStreams.Add(context.Background(), -1, s.tag)
	}
	s.state.Store(int32(Idle))
	return errors.Join(errs...)
}

// releaseLocked drops a stream held by a failed session.
func (s *Session) releaseLocked() {
	s.live.Store(0)
	if s.stream == nil {
		return
	}
	if err := s.stream.Stop(); err != nil {
		s.log.Debug().Err(err).Msg("Stop of failed stream")
	}
	if err := s.stream.Close(); err != nil {
		s.log.Debug().Err(err).Msg("Close of failed stream")
	}
	s.stream = nil
	s.metrics.OpenStreams.Add(context.Background(), -1, s.tag)
}

func (s *Session) failLocked(err error) error {
	s.live.Store(0)
	s.releaseLocked()
	s.cause = err
	s.state.Store(int32(Failed))
	s.log.Error().Err(err).Msg("Capture session failed")
	return err
}

// absorbAsyncLocked moves an asynchronously reported error into the
// session's failure state.
func (s *Session) absorbAsyncLocked() {
	s.asyncMu.Lock()
	err := s.asyncErr
	s.asyncMu.Unlock()

	if err != nil && s.cause == nil {
		s.cause = err
		s.state.Store(int32(Failed))
	}
}

// bridge returns the callbacks handed to the backend for stream generation gen.
func (s *Session) bridge(gen uint64) (func(audio.Packet), func(error)) {
	deliver := func(p audio.Packet) {
		if s.live.Load() != gen {
			return
		}
		frame, conv, err := audio.Shape(p, s.format)
		if err != nil {
			s.asyncFail(gen, "convert", &ConfigurationError{Op: "convert", Err: err})
			return
		}
		if conv == audio.Heuristic && s.fellBack.CompareAndSwap(false, true) {
			s.log.Warn().Str("conversion", conv.String()).Msg("Encoding metadata missing, guessing from buffer length")
		}
		s.metrics.RecordFrame(context.Background(), s.tag, samplesIn(frame), conv == audio.Heuristic)
		s.cb.Invoke(frame)
	}
	onError := func(err error) {
		s.asyncFail(gen, "async", err)
	}
	return deliver, onError
}

func (s *Session) asyncFail(gen uint64, kind string, err error) {
	if s.live.Load() != gen {
		return
	}
	if err == nil {
		err = ErrStreamStopped
	}

	s.asyncMu.Lock()
	first := s.asyncErr == nil
	if first {
		s.asyncErr = err
	}
	s.asyncMu.Unlock()
	if !first {
		return
	}

	s.live.CompareAndSwap(gen, 0)
	s.state.Store(int32(Failed))
	s.metrics.RecordStreamError(context.Background(), s.backend.Name(), kind)
	s.log.Error().Err(err).Msg("Native stream error")
	if s.onError != nil {
		s.onError(err)
	}
}

func samplesIn(f audio.Frame) int {
	n := 0
	for _, ch := range f {
		n += len(ch)
	}
	return n
}

func failedErr(cause error) error {
	if cause == nil {
		return ErrSessionFailed
	}
	return fmt.Errorf("%w: %w", ErrSessionFailed, cause)
}
