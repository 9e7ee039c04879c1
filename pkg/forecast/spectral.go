package forecast

import (
	"fmt"
	"math/cmplx"
	"time"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/HatiCode/linkguard/internal/clock"
)

// DefaultDenoiseFraction is the share of the strongest coefficient magnitude
// below which spectral components are treated as noise.
const DefaultDenoiseFraction = 0.25

// SpectralConfig configures a Spectral forecaster.
type SpectralConfig struct {
	// RequiredHistory is the window length n. Must be > 0.
	RequiredHistory int

	// PredictSamples is the horizon length. Defaults to RequiredHistory.
	PredictSamples int

	// DenoiseFraction in [0, 1). Coefficients whose magnitude is below
	// DenoiseFraction*max are zeroed. 0 keeps every coefficient.
	DenoiseFraction float64

	// Step is the sampling interval.
	Step time.Duration

	Clock clock.Clock
}

// Spectral forecasts by spectral interpolation: the window's spectrum is
// denoised, spread over a longer zero-padded spectrum and transformed back,
// and the part beyond the observed window is returned.
//
// Strongly periodic traffic keeps its shape in the forecast. Noise-like
// traffic loses most coefficients to the threshold and the forecast decays
// toward the window mean.
type Spectral struct {
	required int
	predict  int
	denoise  float64
	step     time.Duration
	clock    clock.Clock
}

// NewSpectral validates cfg and creates a Spectral forecaster.
func NewSpectral(cfg SpectralConfig) (*Spectral, error) {
	if cfg.RequiredHistory <= 0 {
		return nil, fmt.Errorf("spectral: required history must be > 0, got %d", cfg.RequiredHistory)
	}
	if cfg.DenoiseFraction < 0 || cfg.DenoiseFraction >= 1 {
		return nil, fmt.Errorf("spectral: denoise fraction must be in [0, 1), got %v", cfg.DenoiseFraction)
	}
	if cfg.PredictSamples <= 0 {
		cfg.PredictSamples = cfg.RequiredHistory
	}
	if cfg.Step <= 0 {
		cfg.Step = time.Second
	}
	return &Spectral{
		required: cfg.RequiredHistory,
		predict:  cfg.PredictSamples,
		denoise:  cfg.DenoiseFraction,
		step:     cfg.Step,
		clock:    clock.OrReal(cfg.Clock),
	}, nil
}

func (s *Spectral) Name() string { return "spectral" }

func (s *Spectral) RequiredHistory() int { return s.required }

// Horizon is how long a forecast stays valid: PredictSamples steps.
func (s *Spectral) Horizon() time.Duration {
	return time.Duration(s.predict) * s.step
}

// Predict implements Forecaster. The forecast holds PredictSamples values.
func (s *Spectral) Predict(history []float64) (Forecast, error) {
	if len(history) < s.required {
		return Forecast{}, fmt.Errorf("%w: spectral needs %d samples, have %d", ErrInsufficientHistory, s.required, len(history))
	}

	window := history[len(history)-s.required:]
	return Forecast{
		Values:     Extrapolate(window, s.predict, s.denoise),
		Step:       s.step,
		ComputedAt: s.clock.Now(),
		ValidFor:   s.Horizon(),
	}, nil
}

// Extrapolate returns nPredict values following window.
//
// With n = len(window) and N = n + nPredict, the n-point DFT of window is
// thresholded at denoise*max|X|, its first n/2+1 coefficients are placed at
// the low end of an N-point spectrum and the remaining ones at the high end.
// The inverse transform is scaled by N/n and the real part of its last
// nPredict samples is returned.
func Extrapolate(window []float64, nPredict int, denoise float64) []float64 {
	n := len(window)
	if n == 0 || nPredict <= 0 {
		return nil
	}

	seq := make([]complex128, n)
	for i, v := range window {
		seq[i] = complex(v, 0)
	}
	coeffs := fourier.NewCmplxFFT(n).Coefficients(nil, seq)

	if denoise > 0 {
		var peak float64
		for _, c := range coeffs {
			peak = max(peak, cmplx.Abs(c))
		}
		threshold := denoise * peak
		for i, c := range coeffs {
			if cmplx.Abs(c) < threshold {
				coeffs[i] = 0
			}
		}
	}

	total := n + nPredict
	padded := make([]complex128, total)
	half := n/2 + 1
	copy(padded[:half], coeffs[:half])
	if tail := n - half; tail > 0 {
		copy(padded[total-tail:], coeffs[half:])
	}

	// Sequence is unnormalized: dividing by total gives the inverse DFT, and
	// the total/n amplitude correction leaves a single division by n.
	extended := fourier.NewCmplxFFT(total).Sequence(nil, padded)

	out := make([]float64, nPredict)
	for i := range out {
		out[i] = real(extended[n+i]) / float64(n)
	}
	return out
}
