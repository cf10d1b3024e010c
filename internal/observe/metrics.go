// Package observe holds the OpenTelemetry instruments of the capture
// pipeline.
//
// Instruments are created from a [metric.MeterProvider]; [Nop] returns a set
// backed by the no-op provider so that callers never have to check for nil.
// Tests should use [NewMetrics] with an SDK provider and a manual reader.
package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// meterName is the instrumentation scope name used for all metrics.
const meterName = "github.com/petems/hear"

// Metrics holds the capture instruments. All fields are safe for concurrent
// use.
type Metrics struct {
	// Frames counts frames handed to the callback.
	Frames metric.Int64Counter

	// Samples counts samples handed to the callback, summed over channels.
	Samples metric.Int64Counter

	// HeuristicFrames counts frames decoded without encoding metadata.
	HeuristicFrames metric.Int64Counter

	// StreamErrors counts native stream failures. Use with attribute:
	//   attribute.String("kind", ...)
	StreamErrors metric.Int64Counter

	// OpenStreams tracks native streams currently held by sessions.
	OpenStreams metric.Int64UpDownCounter
}

// NewMetrics creates the instruments from mp.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.Frames, err = m.Int64Counter("hear.capture.frames",
		metric.WithDescription("Frames delivered to the callback."),
	); err != nil {
		return nil, err
	}
	if met.Samples, err = m.Int64Counter("hear.capture.samples",
		metric.WithDescription("Samples delivered to the callback, all channels."),
	); err != nil {
		return nil, err
	}
	if met.HeuristicFrames, err = m.Int64Counter("hear.capture.heuristic_frames",
		metric.WithDescription("Frames decoded by guessing the encoding from buffer length."),
	); err != nil {
		return nil, err
	}
	if met.StreamErrors, err = m.Int64Counter("hear.capture.stream_errors",
		metric.WithDescription("Native stream failures by kind."),
	); err != nil {
		return nil, err
	}
	if met.OpenStreams, err = m.Int64UpDownCounter("hear.capture.open_streams",
		metric.WithDescription("Native streams currently open."),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// Nop returns instruments that record nothing.
func Nop() *Metrics {
	m, err := NewMetrics(noop.NewMeterProvider())
	if err != nil {
		panic("observe: no-op instruments: " + err.Error())
	}
	return m
}

// Backend returns the measurement option that tags a recording with the
// backend name. Build it once per session; it is reused on the realtime path.
func Backend(name string) metric.MeasurementOption {
	return metric.WithAttributeSet(attribute.NewSet(attribute.String("backend", name)))
}

// RecordFrame records one delivered frame.
func (m *Metrics) RecordFrame(ctx context.Context, backend metric.MeasurementOption, samples int, heuristic bool) {
	m.Frames.Add(ctx, 1, backend)
	m.Samples.Add(ctx, int64(samples), backend)
	if heuristic {
		m.HeuristicFrames.Add(ctx, 1, backend)
	}
}

// RecordStreamError records a native stream failure of the given kind
// ("async", "convert", "open", "start").
func (m *Metrics) RecordStreamError(ctx context.Context, backend, kind string) {
	m.StreamErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("backend", backend),
			attribute.String("kind", kind),
		),
	)
}
