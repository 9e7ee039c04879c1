package telemetry

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// CounterSource reads an absolute, monotonically increasing byte counter.
// ReadCounter should wrap ErrSourceUnavailable when the counter cannot be read.
type CounterSource interface {
	ReadCounter(ctx context.Context) (uint64, error)
}

// Sampler periodically reads a CounterSource and appends deltas to a buffer.
//
// The sampler is the only writer of its buffer. A failed read drops the
// baseline so the next successful read starts a fresh interval instead of
// producing a delta that spans several ticks.
type Sampler struct {
	id       SourceID
	source   CounterSource
	buffer   *SampleBuffer
	interval time.Duration
	logger   *slog.Logger
	observer Observer

	// loop-owned
	prev     uint64
	havePrev bool

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

// NewSampler creates a sampler for one source. interval defaults to 1s when <= 0.
func NewSampler(id SourceID, source CounterSource, buffer *SampleBuffer, interval time.Duration, logger *slog.Logger, observer Observer) *Sampler {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	if observer == nil {
		observer = NopObserver{}
	}
	return &Sampler{
		id:       id,
		source:   source,
		buffer:   buffer,
		interval: interval,
		logger:   logger.With("source", string(id)),
		observer: observer,
	}
}

// ID returns the sampled source.
func (s *Sampler) ID() SourceID { return s.id }

// Buffer returns the buffer this sampler writes to.
func (s *Sampler) Buffer() *SampleBuffer { return s.buffer }

// Start runs the sampling loop in a background goroutine.
// Calling Start on a running or stopped sampler does nothing.
func (s *Sampler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil || s.stopped {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		_ = s.Run(ctx)
	}()
}

// Stop terminates a loop started with Start and waits for it to exit.
// It is safe to call multiple times.
func (s *Sampler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Run samples until ctx is canceled. It reads the baseline immediately and
// then samples once per interval. Run returns nil on cancellation.
func (s *Sampler) Run(ctx context.Context) error {
	s.logger.Debug("sampler started", "interval", s.interval)

	s.SampleOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("sampler stopped")
			return nil
		case <-ticker.C:
			s.SampleOnce(ctx)
		}
	}
}

// SampleOnce performs a single read and, when a baseline exists, appends the delta.
// Exported for testing purposes.
func (s *Sampler) SampleOnce(ctx context.Context) {
	current, err := s.source.ReadCounter(ctx)
	if err != nil {
		s.havePrev = false
		s.observer.ObserveGap(s.id, err)
		if errors.Is(err, ErrSourceUnavailable) {
			s.logger.Debug("counter unavailable, skipping tick", "error", err)
		} else {
			s.logger.Warn("counter read failed, skipping tick", "error", err)
		}
		return
	}

	if !s.havePrev {
		s.prev, s.havePrev = current, true
		return
	}

	if current < s.prev {
		s.logger.Info("counter reset detected", "previous", s.prev, "current", current)
		s.prev = current
		s.observer.ObserveGap(s.id, ErrCounterReset)
		return
	}

	delta := current - s.prev
	s.prev = current
	s.buffer.Append(delta)
	s.observer.ObserveSample(s.id, delta)
}
