// Package models builds the configured forecaster.
package models

import (
	"fmt"
	"log/slog"

	"github.com/HatiCode/linkguard/cmd/linkguard/config"
	"github.com/HatiCode/linkguard/internal/clock"
	"github.com/HatiCode/linkguard/pkg/forecast"
)

// New creates the forecaster named by cfg.Model, wrapped in a window cache
// whose entries live for one forecast window.
func New(cfg *config.Config, clk clock.Clock, logger *slog.Logger) (*forecast.Cached, error) {
	var inner forecast.Forecaster

	switch cfg.Model {
	case "spectral":
		logger.Info("initializing spectral forecaster",
			"required_history", cfg.RequiredHistory(),
			"denoise_fraction", cfg.DenoiseFraction,
		)
		s, err := forecast.NewSpectral(forecast.SpectralConfig{
			RequiredHistory: cfg.RequiredHistory(),
			PredictSamples:  cfg.RequiredHistory(),
			DenoiseFraction: cfg.DenoiseFraction,
			Step:            cfg.SamplingInterval,
			Clock:           clk,
		})
		if err != nil {
			return nil, err
		}
		inner = s

	case "linear":
		logger.Info("initializing linear forecaster")
		inner = forecast.NewLinear(cfg.SamplingInterval, clk)

	default:
		return nil, fmt.Errorf("invalid model type %q", cfg.Model)
	}

	return forecast.NewCached(inner, forecast.NewCache(cfg.Window, clk)), nil
}
