package enforce

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter installs class hierarchies and updates class ceilings through a
// Sink. UpdateCeiling only reaches the sink when the ceiling differs from the
// last applied one. Calls must come from a single decision loop.
type RateLimiter struct {
	sink   Sink
	state  *State
	pacer  *rate.Limiter
	logger *slog.Logger

	// rates holds the guaranteed rate each class was installed with.
	rates map[Key]uint64
	// pending holds hierarchies whose installation failed, by target.
	pending map[string]Hierarchy
}

// Option configures a RateLimiter.
type Option func(*RateLimiter)

// WithPacing spaces sink calls at least interval apart. Zero disables pacing.
func WithPacing(interval time.Duration) Option {
	return func(l *RateLimiter) {
		if interval > 0 {
			l.pacer = rate.NewLimiter(rate.Every(interval), 1)
		}
	}
}

// WithState shares an existing State.
func WithState(s *State) Option {
	return func(l *RateLimiter) { l.state = s }
}

func NewRateLimiter(sink Sink, logger *slog.Logger, opts ...Option) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &RateLimiter{
		sink:    sink,
		state:   NewState(),
		logger:  logger,
		rates:   make(map[Key]uint64),
		pending: make(map[string]Hierarchy),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the applied-value state.
func (l *RateLimiter) State() *State { return l.state }

// Setup installs h on target and seeds the state with its classes. It should
// be called once per target. When the sink fails, h is kept and Reinstall
// retries it.
func (l *RateLimiter) Setup(ctx context.Context, target string, h Hierarchy) error {
	if err := h.Validate(); err != nil {
		return fmt.Errorf("hierarchy for %s: %w", target, err)
	}
	l.pending[target] = h
	if err := l.wait(ctx); err != nil {
		return err
	}
	if err := l.sink.Install(ctx, target, h); err != nil {
		l.logger.Warn("failed to install shaping hierarchy",
			"target", target,
			"sink", l.sink.Name(),
			"error", err,
		)
		return fmt.Errorf("%w: install on %s: %w", ErrEnforcementFailure, target, err)
	}

	delete(l.pending, target)
	for _, c := range h.Classes {
		l.rates[Key{Target: target, ClassID: c.ID}] = c.RateBps
		l.state.Set(target, ClassSpec{ID: c.ID, RateBps: c.RateBps, CeilBps: c.CeilBps})
	}
	l.logger.Info("installed shaping hierarchy",
		"target", target,
		"sink", l.sink.Name(),
		"classes", len(h.Classes),
	)
	return nil
}

// Pending reports whether target has a hierarchy that is not installed yet.
func (l *RateLimiter) Pending(target string) bool {
	_, ok := l.pending[target]
	return ok
}

// Reinstall retries the hierarchy of a target whose Setup failed. It reports
// whether an installation succeeded; targets without a pending hierarchy are
// left alone.
func (l *RateLimiter) Reinstall(ctx context.Context, target string) (bool, error) {
	h, ok := l.pending[target]
	if !ok {
		return false, nil
	}
	if err := l.Setup(ctx, target, h); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateCeiling sets the ceiling of classID on target to ceilBps. The
// guaranteed rate becomes min(installed rate, ceilBps). It reports whether
// the sink was called successfully. On failure the error wraps
// ErrEnforcementFailure and the state keeps the previous value.
func (l *RateLimiter) UpdateCeiling(ctx context.Context, target string, classID uint16, ceilBps uint64) (bool, error) {
	prev, ok := l.state.Get(target, classID)
	if ok && prev.CeilBps == ceilBps {
		return false, nil
	}

	rateBps := ceilBps
	if installed, ok := l.rates[Key{Target: target, ClassID: classID}]; ok {
		rateBps = min(installed, ceilBps)
	}
	next := ClassSpec{ID: classID, RateBps: rateBps, CeilBps: ceilBps}

	if err := l.wait(ctx); err != nil {
		return false, err
	}
	if err := l.sink.ChangeClass(ctx, target, next); err != nil {
		l.logger.Warn("failed to change class ceiling",
			"target", target,
			"class", classID,
			"ceil_bps", ceilBps,
			"error", err,
		)
		return false, fmt.Errorf("%w: class %d on %s: %w", ErrEnforcementFailure, classID, target, err)
	}

	l.state.Set(target, next)
	l.logger.Debug("changed class ceiling",
		"target", target,
		"class", classID,
		"prev_ceil_bps", prev.CeilBps,
		"ceil_bps", ceilBps,
	)
	return true, nil
}

func (l *RateLimiter) wait(ctx context.Context) error {
	if l.pacer == nil {
		return nil
	}
	return l.pacer.Wait(ctx)
}
