package forecast

import (
	"fmt"
	"time"

	"github.com/HatiCode/linkguard/internal/clock"
)

// linearPoints is how many trailing samples the linear forecaster looks at.
const linearPoints = 5

// Linear predicts the next interval as the last sample plus the mean of the
// four first differences over the last five samples.
//
// It reacts quickly to ramps but has a one-interval horizon, so its forecasts
// are valid for a single step.
type Linear struct {
	step  time.Duration
	clock clock.Clock
}

// NewLinear creates a linear forecaster for samples taken every step.
func NewLinear(step time.Duration, c clock.Clock) *Linear {
	if step <= 0 {
		step = time.Second
	}
	return &Linear{step: step, clock: clock.OrReal(c)}
}

func (l *Linear) Name() string { return "linear" }

func (l *Linear) RequiredHistory() int { return linearPoints }

// Predict implements Forecaster. The forecast holds exactly one value.
func (l *Linear) Predict(history []float64) (Forecast, error) {
	if len(history) < linearPoints {
		return Forecast{}, fmt.Errorf("%w: linear needs %d samples, have %d", ErrInsufficientHistory, linearPoints, len(history))
	}

	recent := history[len(history)-linearPoints:]
	var sum float64
	for i := 1; i < len(recent); i++ {
		sum += recent[i] - recent[i-1]
	}
	next := recent[len(recent)-1] + sum/float64(len(recent)-1)

	return Forecast{
		Values:     []float64{next},
		Step:       l.step,
		ComputedAt: l.clock.Now(),
		ValidFor:   l.step,
	}, nil
}
