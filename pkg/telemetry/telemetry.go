// Package telemetry collects per-source byte deltas for the control loop.
//
// A source is anything with a cumulative byte counter: a local interface
// (read from sysfs) or a switch port reported by the SDN controller. Each
// source owns a bounded SampleBuffer. Samples are deltas between two
// consecutive counter reads; an unreadable counter or a counter that went
// backwards produces a gap, never a zero sample.
//
// Two collection loops are provided:
//   - Sampler polls one CounterSource per goroutine
//   - Poller polls one StatsSource (a whole device) and routes the per-port
//     deltas into the matching buffers through a DeltaTracker
package telemetry

import "errors"

// SourceID identifies a monitored source, typically the interface or port name.
type SourceID string

var (
	// ErrSourceUnavailable means the counter could not be read this tick.
	ErrSourceUnavailable = errors.New("telemetry source unavailable")

	// ErrMalformedTelemetry means the collaborator returned data of an unexpected shape.
	ErrMalformedTelemetry = errors.New("malformed telemetry")

	// ErrCounterReset means a cumulative counter decreased between two reads.
	ErrCounterReset = errors.New("counter reset")
)

// Observer receives sampling outcomes. Implementations must be safe for
// concurrent use since every sampling loop reports to the same observer.
type Observer interface {
	ObserveSample(id SourceID, delta uint64)
	ObserveGap(id SourceID, err error)
}

// NopObserver discards all observations.
type NopObserver struct{}

func (NopObserver) ObserveSample(SourceID, uint64) {}
func (NopObserver) ObserveGap(SourceID, error)     {}

// Float64s converts raw deltas for numeric processing.
func Float64s(samples []uint64) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = float64(s)
	}
	return out
}
