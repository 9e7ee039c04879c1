// Package main implements the linkguard traffic-shaping controller.
//
// This file contains the ControlLoop which closes the loop on every link:
//
//	buffers → forecast → aggregate → decide → plan → enforce → store
//
// Telemetry collectors fill one sample buffer per source in their own
// goroutines. The decision loop runs Tick once per segment; each tick turns
// the newest window of every source into a forecast, sums the forecasted
// throughput of the protected and contending groups, picks a tier against the
// link thresholds and applies the resulting class ceilings. The outcome of
// each cycle is stored as a DecisionSnapshot for the HTTP API.
//
// Forecasts stay active until their validity horizon passes; in between, each
// cycle reads the segment of the active forecast that covers the next
// interval. Once a full window plus the time to refill it has elapsed, all
// history, cached and active forecasts are discarded.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/HatiCode/linkguard/cmd/linkguard/metrics"
	"github.com/HatiCode/linkguard/internal/clock"
	"github.com/HatiCode/linkguard/pkg/enforce"
	"github.com/HatiCode/linkguard/pkg/forecast"
	"github.com/HatiCode/linkguard/pkg/policy"
	"github.com/HatiCode/linkguard/pkg/storage"
	"github.com/HatiCode/linkguard/pkg/telemetry"
)

// Source is one monitored source of a link.
type Source struct {
	ID      telemetry.SourceID
	Role    policy.Role
	ClassID uint16
	Buffer  *telemetry.SampleBuffer
}

// Link is one defended bottleneck.
type Link struct {
	Name       string
	Target     string
	Thresholds policy.Thresholds
	Ceilings   policy.Ceilings
	Sources    []*Source
}

func (l *Link) classes() []policy.ClassRole {
	out := make([]policy.ClassRole, 0, len(l.Sources))
	for _, s := range l.Sources {
		if s.ClassID != 0 {
			out = append(out, policy.ClassRole{ClassID: s.ClassID, Role: s.Role})
		}
	}
	return out
}

// LoopConfig holds the timing of the control loop.
type LoopConfig struct {
	// SamplingInterval is the spacing of buffer samples.
	SamplingInterval time.Duration
	// Segment is the decision period.
	Segment time.Duration
	// SegmentSamples is the number of forecast values one decision averages.
	SegmentSamples int
	// ResetAfter is the long-horizon reset period. Zero disables resets.
	ResetAfter time.Duration
}

// ControlLoop owns the controller state: per-source buffers, active
// forecasts and the forecast cache. Tick must only be called from one
// goroutine; Ready may be called from any.
type ControlLoop struct {
	links      []*Link
	collectors []collector
	forecaster forecast.Forecaster
	cache      *forecast.Cache
	limiter    *enforce.RateLimiter
	store      storage.Store
	cfg        LoopConfig
	clock      clock.Clock
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// loop-owned
	active    map[telemetry.SourceID]forecast.Forecast
	lastReset time.Time
	cacheHits uint64
	cacheMiss uint64

	mu        sync.Mutex
	lastCycle time.Time
}

// NewControlLoop creates a control loop. cache may be nil when forecaster is
// not cached; metrics may be nil.
func NewControlLoop(
	links []*Link,
	collectors []collector,
	forecaster forecast.Forecaster,
	cache *forecast.Cache,
	limiter *enforce.RateLimiter,
	store storage.Store,
	cfg LoopConfig,
	clk clock.Clock,
	logger *slog.Logger,
	metrics *metrics.Metrics,
) *ControlLoop {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SegmentSamples <= 0 {
		cfg.SegmentSamples = 1
	}
	clk = clock.OrReal(clk)

	return &ControlLoop{
		links:      links,
		collectors: collectors,
		forecaster: forecaster,
		cache:      cache,
		limiter:    limiter,
		store:      store,
		cfg:        cfg,
		clock:      clk,
		logger:     logger,
		metrics:    metrics,
		active:     make(map[telemetry.SourceID]forecast.Forecast),
		lastReset:  clk.Now(),
	}
}

// Run starts every telemetry collector and the decision loop, and blocks
// until ctx is canceled. All goroutines have returned when Run does.
func (c *ControlLoop) Run(ctx context.Context) error {
	c.logger.Info("starting control loop",
		"links", len(c.links),
		"collectors", len(c.collectors),
		"model", c.forecaster.Name(),
		"segment", c.cfg.Segment,
		"reset_after", c.cfg.ResetAfter,
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, col := range c.collectors {
		col := col
		g.Go(func() error { return col.Run(gctx) })
	}
	g.Go(func() error { return c.decide(gctx) })

	err := g.Wait()
	c.logger.Info("control loop stopped")
	return err
}

func (c *ControlLoop) decide(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Segment)
	defer ticker.Stop()

	if err := c.Tick(ctx); err != nil {
		c.logger.Error("initial decision tick failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.Tick(ctx); err != nil {
				c.logger.Error("decision tick failed", "error", err)
			}
		}
	}
}

// Tick performs one decision cycle on every link, then discards history if
// the long-horizon reset is due. Errors of individual links are joined; a
// failing link never prevents the others from being decided.
// Exported for testing purposes.
func (c *ControlLoop) Tick(ctx context.Context) error {
	now := c.clock.Now()

	var errs []error
	for _, l := range c.links {
		if err := c.tickLink(ctx, l, now); err != nil {
			errs = append(errs, fmt.Errorf("link %s: %w", l.Name, err))
		}
	}

	c.recordCacheStats()

	c.mu.Lock()
	c.lastCycle = now
	c.mu.Unlock()

	if c.cfg.ResetAfter > 0 && now.Sub(c.lastReset) >= c.cfg.ResetAfter {
		c.reset(now)
	}
	return errors.Join(errs...)
}

func (c *ControlLoop) tickLink(ctx context.Context, l *Link, now time.Time) error {
	start := time.Now()

	estimates, sources := c.estimate(l, now)
	demand := policy.Aggregate(estimates)
	tier := policy.Decide(demand, l.Thresholds)
	plan := policy.Plan(tier, l.classes(), l.Ceilings)

	changed, failed := 0, 0
	if c.limiter.Pending(l.Target) {
		installed, err := c.limiter.Reinstall(ctx, l.Target)
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err != nil:
			// Class changes would target classes that do not exist yet.
			failed++
			plan = nil
			if c.metrics != nil {
				c.metrics.RecordEnforcement(l.Name, false)
				c.metrics.RecordError("enforce", "install_failed")
			}
		case installed:
			changed++
			if c.metrics != nil {
				c.metrics.RecordEnforcement(l.Name, true)
			}
		}
	}

	for _, a := range plan {
		applied, err := c.limiter.UpdateCeiling(ctx, l.Target, a.ClassID, a.CeilingBps)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failed++
			if c.metrics != nil {
				c.metrics.RecordEnforcement(l.Name, false)
				c.metrics.RecordError("enforce", "change_failed")
			}
			continue
		}
		if applied {
			changed++
			if c.metrics != nil {
				c.metrics.RecordEnforcement(l.Name, true)
			}
		}
	}

	applied := c.limiter.State().Applied(l.Target)
	ceilings := make([]storage.Ceiling, 0, len(applied))
	for _, spec := range applied {
		ceilings = append(ceilings, storage.Ceiling{ClassID: spec.ID, RateBps: spec.RateBps, CeilBps: spec.CeilBps})
	}

	snapshot := storage.DecisionSnapshot{
		Link:          l.Name,
		Target:        l.Target,
		CycleID:       uuid.NewString(),
		GeneratedAt:   now,
		Model:         c.forecaster.Name(),
		Tier:          tier.String(),
		ProtectedBps:  demand.ProtectedBps,
		ContendingBps: demand.ContendingBps,
		TotalBps:      demand.TotalBps(),
		HighBps:       l.Thresholds.High(),
		MidBps:        l.Thresholds.Mid(),
		Sources:       sources,
		Ceilings:      ceilings,
		Changed:       changed,
		Failed:        failed,
	}

	storeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := c.store.Put(storeCtx, snapshot); err != nil {
		if c.metrics != nil {
			c.metrics.RecordError("store", "put_failed")
		}
		return fmt.Errorf("store: %w", err)
	}

	if c.metrics != nil {
		c.metrics.SetPredicted(l.Name, demand.ProtectedBps, demand.ContendingBps)
		c.metrics.SetTier(l.Name, int(tier))
		for _, ce := range ceilings {
			c.metrics.SetCeiling(l.Name, ce.ClassID, ce.CeilBps)
		}
		c.metrics.RecordDecision(l.Name, time.Since(start).Seconds(), float64(now.Unix()))
	}

	c.logger.Info("decision cycle complete",
		"link", l.Name,
		"cycle_id", snapshot.CycleID,
		"tier", tier.String(),
		"protected_bps", demand.ProtectedBps,
		"contending_bps", demand.ContendingBps,
		"high_bps", snapshot.HighBps,
		"mid_bps", snapshot.MidBps,
		"changed", changed,
		"failed", failed,
		"total_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

// estimate forecasts every non-excluded source of l for the coming segment.
func (c *ControlLoop) estimate(l *Link, now time.Time) ([]policy.Estimate, []storage.SourceEstimate) {
	estimates := make([]policy.Estimate, 0, len(l.Sources))
	snapshots := make([]storage.SourceEstimate, 0, len(l.Sources))

	for _, s := range l.Sources {
		e := policy.Estimate{Source: string(s.ID), Role: s.Role}

		if s.Role != policy.RoleExcluded {
			segment, err := c.segment(s, now)
			switch {
			case errors.Is(err, forecast.ErrInsufficientHistory):
				c.logger.Debug("skipping source without enough history",
					"link", l.Name,
					"source", string(s.ID),
					"samples", s.Buffer.Len(),
				)
			case err != nil:
				c.logger.Warn("forecast failed", "link", l.Name, "source", string(s.ID), "error", err)
				if c.metrics != nil {
					c.metrics.RecordError("forecast", "predict_failed")
				}
			default:
				e.Bps = policy.BitsPerSecond(segment, c.cfg.SamplingInterval)
				e.Ready = true
			}
		}

		estimates = append(estimates, e)
		snapshots = append(snapshots, storage.SourceEstimate{
			Source: e.Source,
			Role:   string(e.Role),
			Bps:    e.Bps,
			Ready:  e.Ready,
		})
	}
	return estimates, snapshots
}

// segment returns the forecast values covering the next segment of s. The
// active forecast is reused until it expires.
func (c *ControlLoop) segment(s *Source, now time.Time) ([]float64, error) {
	f, ok := c.active[s.ID]
	if !ok || f.Expired(now) {
		history := telemetry.Float64s(s.Buffer.Tail(c.forecaster.RequiredHistory()))

		start := time.Now()
		next, err := c.forecaster.Predict(history)
		if err != nil {
			delete(c.active, s.ID)
			return nil, err
		}
		if c.metrics != nil {
			c.metrics.RecordForecast(c.forecaster.Name(), time.Since(start).Seconds())
		}
		c.active[s.ID] = next
		f = next
	}
	return f.Segment(now.Sub(f.ComputedAt), c.cfg.SegmentSamples), nil
}

// reset discards sample history, cached and active forecasts. Applied
// ceilings and counter baselines are kept.
func (c *ControlLoop) reset(now time.Time) {
	for _, l := range c.links {
		for _, s := range l.Sources {
			s.Buffer.Reset()
		}
	}
	if c.cache != nil {
		c.cache.Clear()
	}
	clear(c.active)
	c.lastReset = now

	if c.metrics != nil {
		c.metrics.RecordReset()
	}
	c.logger.Info("discarded sample history", "next_reset", now.Add(c.cfg.ResetAfter))
}

func (c *ControlLoop) recordCacheStats() {
	if c.cache == nil || c.metrics == nil {
		return
	}
	hits, misses := c.cache.Stats()
	c.metrics.AddCacheStats(hits-c.cacheHits, misses-c.cacheMiss)
	c.cacheHits, c.cacheMiss = hits, misses
}

// Ready reports an error until a decision cycle has completed, and when the
// last one is older than three segments.
func (c *ControlLoop) Ready() error {
	c.mu.Lock()
	last := c.lastCycle
	c.mu.Unlock()

	if last.IsZero() {
		return errors.New("no decision cycle completed yet")
	}
	if age := c.clock.Now().Sub(last); age > 3*c.cfg.Segment {
		return fmt.Errorf("last decision cycle is %v old", age.Truncate(time.Millisecond))
	}
	return nil
}
