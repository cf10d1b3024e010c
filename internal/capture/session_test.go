package capture

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"testing"

	"github.com/petems/hear/internal/audio"
	"github.com/petems/hear/internal/observe"
	"github.com/rs/zerolog"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// Mock implementations for testing
type fakeBackend struct {
	mu       sync.Mutex
	format   audio.Format
	probeErr error
	openErr  error
	startErr error
	streams  []*fakeStream
	closed   bool
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Probe() (audio.Device, audio.Format, error) {
	if b.probeErr != nil {
		return audio.Device{}, audio.Format{}, b.probeErr
	}
	return audio.Device{ID: "fake0", Name: "Fake Input", Default: true, MaxChannels: 2}, b.format, nil
}

func (b *fakeBackend) Devices() ([]audio.Device, error) {
	return []audio.Device{{ID: "fake0", Name: "Fake Input", Default: true}}, nil
}

func (b *fakeBackend) Open(dev audio.Device, f audio.Format, deliver func(audio.Packet), onError func(error)) (Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openErr != nil {
		return nil, b.openErr
	}
	st := &fakeStream{deliver: deliver, onError: onError, startErr: b.startErr}
	b.streams = append(b.streams, st)
	return st, nil
}

func (b *fakeBackend) Close() error {
	b.closed = true
	return nil
}

func (b *fakeBackend) opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams)
}

func (b *fakeBackend) last() *fakeStream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streams[len(b.streams)-1]
}

type fakeStream struct {
	deliver  func(audio.Packet)
	onError  func(error)
	startErr error

	started, stopped, closed bool
}

func (s *fakeStream) Start() error {
	if s.startErr != nil {
		return s.startErr
	}
	s.started = true
	return nil
}

func (s *fakeStream) Stop() error {
	s.stopped = true
	return nil
}

func (s *fakeStream) Close() error {
	s.closed = true
	return nil
}

func stereoF32() audio.Format {
	return audio.Format{
		Encoding:   audio.Float32,
		Layout:     audio.Layout{Kind: audio.Interleaved, Channels: 2},
		SampleRate: 48000,
	}
}

func newSession(t *testing.T, b *fakeBackend, fn func(audio.Frame)) *Session {
	t.Helper()
	s, err := New(b, audio.NewCallback(fn), Config{Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

func TestNewPropagatesProbeFailure(t *testing.T) {
	_, err := New(&fakeBackend{probeErr: ErrNoDevice}, nil, Config{Logger: zerolog.Nop()})

	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if !errors.Is(err, ErrNoDevice) {
		t.Errorf("expected ErrNoDevice in chain, got %v", err)
	}
}

func TestStopBeforeStart(t *testing.T) {
	s := newSession(t, &fakeBackend{format: stereoF32()}, nil)

	err := s.Stop()
	if !errors.Is(err, ErrNothingToStop) {
		t.Fatalf("expected ErrNothingToStop, got %v", err)
	}
	var lcErr *LifecycleError
	if !errors.As(err, &lcErr) {
		t.Errorf("expected LifecycleError, got %T", err)
	}
	if s.State() != Idle {
		t.Errorf("expected idle, got %s", s.State())
	}
}

func TestStartIsIdempotent(t *testing.T) {
	b := &fakeBackend{format: stereoF32()}
	s := newSession(t, b, nil)

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if b.opened() != 1 {
		t.Errorf("expected 1 native stream, got %d", b.opened())
	}
	if s.State() != Running {
		t.Errorf("expected running, got %s", s.State())
	}
}

func TestStopReleasesStreamAndRestart(t *testing.T) {
	b := &fakeBackend{format: stereoF32()}
	s := newSession(t, b, nil)

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	first := b.last()
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	if !first.stopped || !first.closed {
		t.Errorf("expected stream stopped and closed, got stopped=%v closed=%v", first.stopped, first.closed)
	}
	if s.State() != Stopped {
		t.Errorf("expected stopped, got %s", s.State())
	}

	if err := s.Stop(); !errors.Is(err, ErrNothingToStop) {
		t.Errorf("expected ErrNothingToStop on second stop, got %v", err)
	}

	if err := s.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if b.opened() != 2 {
		t.Errorf("expected a fresh stream on restart, got %d opened", b.opened())
	}
}

func TestUnsupportedEncodingFailsStart(t *testing.T) {
	b := &fakeBackend{format: audio.Format{Encoding: audio.Int24, Layout: audio.Layout{Channels: 2}}}
	s := newSession(t, b, nil)

	err := s.Start()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %v", err)
	}
	if !errors.Is(err, ErrUnsupportedEncoding) {
		t.Errorf("expected ErrUnsupportedEncoding, got %v", err)
	}
	if s.State() != Failed {
		t.Errorf("expected failed, got %s", s.State())
	}
	if b.opened() != 0 {
		t.Errorf("expected no stream to be opened, got %d", b.opened())
	}

	err = s.Start()
	if !errors.Is(err, ErrSessionFailed) {
		t.Errorf("expected ErrSessionFailed on retry, got %v", err)
	}
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected original cause in chain, got %v", err)
	}
}

func TestOpenFailure(t *testing.T) {
	openErr := errors.New("device busy")
	s := newSession(t, &fakeBackend{format: stereoF32(), openErr: openErr}, nil)

	err := s.Start()
	if !errors.Is(err, openErr) {
		t.Fatalf("expected open error, got %v", err)
	}
	var lcErr *LifecycleError
	if !errors.As(err, &lcErr) {
		t.Errorf("expected LifecycleError, got %T", err)
	}
	if s.State() != Failed {
		t.Errorf("expected failed, got %s", s.State())
	}
}

func TestStreamStartFailureReleasesStream(t *testing.T) {
	b := &fakeBackend{format: stereoF32(), startErr: errors.New("no permission")}
	s := newSession(t, b, nil)

	if err := s.Start(); err == nil {
		t.Fatal("expected start error")
	}
	if !b.last().closed {
		t.Error("expected stream to be closed after failed start")
	}
	if s.State() != Failed {
		t.Errorf("expected failed, got %s", s.State())
	}
}

func TestFramesReachCallback(t *testing.T) {
	b := &fakeBackend{format: audio.Format{Encoding: audio.Int16, Layout: audio.Layout{Kind: audio.Interleaved, Channels: 2}}}

	var got []audio.Frame
	s := newSession(t, b, func(f audio.Frame) { got = append(got, f) })
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	data := make([]byte, 8)
	for i, v := range []int16{1000, -1000, 2000, -2000} {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	b.last().deliver(audio.Packet{Buffers: []audio.Buffer{{Data: data}}})

	if len(got) != 1 {
		t.Fatalf("expected 1 frame, got %d", len(got))
	}
	if got[0].Channels() != 2 || got[0].Len() != 2 {
		t.Fatalf("expected 2x2 frame, got %dx%d", got[0].Channels(), got[0].Len())
	}
	if got[0][0][1] <= 0 || got[0][1][1] >= 0 {
		t.Errorf("channels not split correctly: %v", got[0])
	}
}

func TestNoDeliveryAfterStop(t *testing.T) {
	b := &fakeBackend{format: stereoF32()}
	calls := 0
	s := newSession(t, b, func(audio.Frame) { calls++ })

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	st := b.last()
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	st.deliver(audio.Packet{Buffers: []audio.Buffer{{Data: make([]byte, 16)}}})
	if calls != 0 {
		t.Errorf("expected no callback after stop, got %d", calls)
	}
}

func TestAsyncErrorFailsSession(t *testing.T) {
	b := &fakeBackend{format: stereoF32()}
	var observed error
	s, err := New(b, nil, Config{
		Logger:  zerolog.Nop(),
		OnError: func(err error) { observed = err },
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	died := errors.New("device unplugged")
	st := b.last()
	st.onError(died)
	st.onError(errors.New("second report"))

	if s.State() != Failed {
		t.Fatalf("expected failed, got %s", s.State())
	}
	if observed != died {
		t.Errorf("expected observer to see %v, got %v", died, observed)
	}

	err = s.Stop()
	if !errors.Is(err, ErrSessionFailed) || !errors.Is(err, died) {
		t.Errorf("expected failure with cause, got %v", err)
	}
	if !st.closed {
		t.Error("expected failed stream to be released")
	}
	if err := s.Start(); !errors.Is(err, ErrSessionFailed) {
		t.Errorf("expected failed session to refuse start, got %v", err)
	}
}

func TestStaleErrorIgnored(t *testing.T) {
	b := &fakeBackend{format: stereoF32()}
	s := newSession(t, b, nil)

	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	old := b.last()
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	old.onError(nil)
	if s.State() != Idle {
		t.Errorf("expected stale stream error to be ignored, got %s", s.State())
	}
}

func TestUnsupportedPacketEncodingFails(t *testing.T) {
	b := &fakeBackend{format: audio.Format{Layout: audio.Layout{Channels: 1}}}
	s := newSession(t, b, nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	b.last().deliver(audio.Packet{
		Buffers:  []audio.Buffer{{Data: make([]byte, 6)}},
		Encoding: audio.Int24,
	})
	if s.State() != Failed {
		t.Errorf("expected failed, got %s", s.State())
	}
	var cfgErr *ConfigurationError
	if err := s.Stop(); !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError cause, got %v", err)
	}
}

func TestPlatformReportedUnreadableEncodingFails(t *testing.T) {
	b := &fakeBackend{format: audio.Format{Layout: audio.Layout{Kind: audio.PerChannelBuffers, Channels: 1}}}
	var called bool
	s := newSession(t, b, func(audio.Frame) { called = true })
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	b.last().deliver(audio.Packet{
		Buffers:  []audio.Buffer{{Data: make([]byte, 8), Channels: 1}},
		Encoding: audio.Unsupported,
	})
	if called {
		t.Error("callback ran for an unreadable packet")
	}
	if s.State() != Failed {
		t.Fatalf("expected failed, got %s", s.State())
	}
	err := s.Stop()
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Errorf("expected ConfigurationError cause, got %v", err)
	}
	if !errors.Is(err, ErrUnsupportedEncoding) {
		t.Errorf("expected ErrUnsupportedEncoding in chain, got %v", err)
	}
}

func TestCloseStopsRunningStream(t *testing.T) {
	b := &fakeBackend{format: stereoF32()}
	s := newSession(t, b, nil)
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	st := b.last()

	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if !st.stopped || !st.closed {
		t.Error("expected close to stop the running stream")
	}
	if !b.closed {
		t.Error("expected backend to be closed")
	}
	if err := s.Close(); err != nil {
		t.Errorf("second close: %v", err)
	}
	if err := s.Start(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := s.Stop(); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestConcurrentDeliveryDuringStop(t *testing.T) {
	b := &fakeBackend{format: stereoF32()}
	var mu sync.Mutex
	frames := 0
	s := newSession(t, b, func(audio.Frame) {
		mu.Lock()
		frames++
		mu.Unlock()
	})
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}
	st := b.last()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				st.deliver(audio.Packet{Buffers: []audio.Buffer{{Data: make([]byte, 32)}}})
			}
		}()
	}
	if err := s.Stop(); err != nil {
		t.Fatal(err)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if frames > 800 {
		t.Errorf("delivered more frames than sent: %d", frames)
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		Idle:     "idle",
		Starting: "starting",
		Running:  "running",
		Stopping: "stopping",
		Failed:   "failed",
	}
	for st, want := range tests {
		if st.String() != want {
			t.Errorf("expected %q, got %q", want, st.String())
		}
	}
}

func TestMetricsRecorded(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	met, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	b := &fakeBackend{format: audio.Format{Layout: audio.Layout{Kind: audio.Interleaved, Channels: 1}}}
	s, err := New(b, nil, Config{Logger: zerolog.Nop(), Metrics: met})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Start(); err != nil {
		t.Fatal(err)
	}

	// No metadata: 8 bytes guessed as two float32 samples.
	b.last().deliver(audio.Packet{Buffers: []audio.Buffer{{Data: make([]byte, 8)}}})
	if got := collectSum(t, reader, "hear.capture.open_streams"); got != 1 {
		t.Errorf("open streams while running = %d, want 1", got)
	}

	b.last().onError(errors.New("device unplugged"))
	_ = s.Stop()

	want := map[string]int64{
		"hear.capture.frames":           1,
		"hear.capture.samples":          2,
		"hear.capture.heuristic_frames": 1,
		"hear.capture.stream_errors":    1,
		"hear.capture.open_streams":     0,
	}
	for name, v := range want {
		if got := collectSum(t, reader, name); got != v {
			t.Errorf("%s = %d, want %d", name, got, v)
		}
	}
}

func collectSum(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}
