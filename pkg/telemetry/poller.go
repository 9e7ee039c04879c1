package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// StatsSource returns cumulative statistics for every port of one device.
// Collect should wrap ErrSourceUnavailable when the collaborator cannot be
// reached and ErrMalformedTelemetry when its reply cannot be interpreted.
type StatsSource interface {
	Collect(ctx context.Context) ([]PortStats, error)
	Name() string
}

// Binding connects a port to the buffer of the source it feeds.
type Binding struct {
	ID     SourceID
	Buffer *SampleBuffer
}

// Resolver maps a port to its binding. ok is false for unmonitored ports.
type Resolver func(PortStats) (Binding, bool)

// Poller periodically collects device-wide port statistics and appends the
// per-port deltas to the bound buffers. One Poller runs per device.
type Poller struct {
	source   StatsSource
	resolve  Resolver
	bound    []SourceID
	tracker  *DeltaTracker
	interval time.Duration
	logger   *slog.Logger
	observer Observer
}

// NewPoller creates a poller. bound lists every source resolve can return;
// a failed poll is a gap for each of them. interval defaults to 1s and
// tracker to an rx_bytes tracker when unset.
func NewPoller(source StatsSource, resolve Resolver, bound []SourceID, tracker *DeltaTracker, interval time.Duration, logger *slog.Logger, observer Observer) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	if tracker == nil {
		tracker = NewDeltaTracker(nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Poller{
		source:   source,
		resolve:  resolve,
		bound:    bound,
		tracker:  tracker,
		interval: interval,
		logger:   logger.With("stats_source", source.Name()),
		observer: observer,
	}
}

// Run polls until ctx is canceled and returns nil on cancellation.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Debug("poller started", "interval", p.interval)

	p.PollOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("poller stopped")
			return nil
		case <-ticker.C:
			p.PollOnce(ctx)
		}
	}
}

// PollOnce collects one round of statistics.
// Exported for testing purposes.
func (p *Poller) PollOnce(ctx context.Context) {
	stats, err := p.source.Collect(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		// Without a trustworthy reading every baseline is suspect.
		p.tracker.Reset()
		for _, id := range p.bound {
			p.observer.ObserveGap(id, err)
		}
		switch {
		case errors.Is(err, ErrMalformedTelemetry):
			p.logger.Warn("discarding malformed telemetry", "error", err)
		default:
			p.logger.Debug("stats source unavailable, skipping tick", "error", err)
		}
		return
	}

	seen := make(map[PortKey]struct{}, len(stats))
	for _, st := range stats {
		seen[st.Key] = struct{}{}

		b, ok := p.resolve(st)
		if !ok {
			continue
		}

		delta, ok, err := p.tracker.Observe(st)
		if err != nil {
			p.logger.Info("port counter reset", "source", string(b.ID), "error", err)
			p.observer.ObserveGap(b.ID, err)
			continue
		}
		if !ok {
			continue
		}
		b.Buffer.Append(delta)
		p.observer.ObserveSample(b.ID, delta)
	}

	// Ports missing from this reply lose their baseline.
	for _, key := range p.tracker.Tracked() {
		if _, ok := seen[key]; !ok {
			p.tracker.Forget(key)
		}
	}
}
