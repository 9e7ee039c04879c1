// Package forecast predicts near-future per-interval byte deltas from a
// window of recent samples.
//
// Two strategies implement Forecaster:
//   - Linear: next-interval extrapolation from the mean first difference of
//     the last five samples
//   - Spectral: frequency-domain extrapolation that assumes the dominant
//     periodic structure of the window continues into the horizon
//
// Cached wraps any Forecaster with a Cache keyed by the exact input Window,
// so an unchanged window is not re-transformed while its forecast is valid.
package forecast

import (
	"errors"
	"time"
)

// ErrInsufficientHistory is returned when fewer samples than RequiredHistory
// are supplied. No partial forecast accompanies it.
var ErrInsufficientHistory = errors.New("insufficient history")

// Forecaster turns a history of samples into a Forecast.
type Forecaster interface {
	// Predict forecasts from the newest RequiredHistory samples of history.
	Predict(history []float64) (Forecast, error)

	// RequiredHistory is the minimum number of samples Predict needs.
	RequiredHistory() int

	// Name identifies the strategy, e.g. "linear" or "spectral".
	Name() string
}

// Forecast is a sequence of predicted per-interval values.
type Forecast struct {
	// Values are predictions for consecutive future intervals, in the unit of
	// the input samples.
	Values []float64

	// Step is the sampling interval between two values.
	Step time.Duration

	// ComputedAt is when the forecast was produced.
	ComputedAt time.Time

	// ValidFor is how long after ComputedAt the forecast may be used.
	ValidFor time.Duration
}

// Expired reports whether the forecast is past its validity horizon at now.
func (f Forecast) Expired(now time.Time) bool {
	return now.Sub(f.ComputedAt) >= f.ValidFor
}

// Segment returns length values starting at the interval elapsed after
// ComputedAt. If that would overrun the forecast, the last length values are
// returned instead; if the forecast is shorter than length, all of it is.
// The result is a copy.
func (f Forecast) Segment(elapsed time.Duration, length int) []float64 {
	if length <= 0 || len(f.Values) == 0 {
		return nil
	}

	offset := 0
	if elapsed > 0 && f.Step > 0 {
		offset = int(elapsed / f.Step)
	}

	var seg []float64
	switch {
	case length >= len(f.Values):
		seg = f.Values
	case offset+length <= len(f.Values):
		seg = f.Values[offset : offset+length]
	default:
		seg = f.Values[len(f.Values)-length:]
	}

	out := make([]float64, len(seg))
	copy(out, seg)
	return out
}

func (f Forecast) clone() Forecast {
	f.Values = append([]float64(nil), f.Values...)
	return f
}
