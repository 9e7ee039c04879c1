package telemetry

import (
	"fmt"
	"sync"
)

// PortKey identifies a switch port by datapath and port number.
type PortKey struct {
	Device string
	Port   uint32
}

func (k PortKey) String() string {
	return fmt.Sprintf("%s:%d", k.Device, k.Port)
}

// PortStats carries cumulative counters for one port as reported by the
// SDN controller, plus the human-readable port name when known.
type PortStats struct {
	Key       PortKey
	Name      string
	RxBytes   uint64
	TxBytes   uint64
	RxPackets uint64
	TxPackets uint64
}

// CounterFunc selects the counter a DeltaTracker differentiates.
type CounterFunc func(PortStats) uint64

// RxBytes selects the received-bytes counter.
func RxBytes(s PortStats) uint64 { return s.RxBytes }

// TxBytes selects the transmitted-bytes counter.
func TxBytes(s PortStats) uint64 { return s.TxBytes }

// DeltaTracker turns cumulative per-port counters into interval deltas.
// It keeps the last cumulative value per port. Safe for concurrent use.
type DeltaTracker struct {
	mu      sync.Mutex
	counter CounterFunc
	last    map[PortKey]uint64
}

// NewDeltaTracker creates a tracker. counter defaults to RxBytes.
func NewDeltaTracker(counter CounterFunc) *DeltaTracker {
	if counter == nil {
		counter = RxBytes
	}
	return &DeltaTracker{
		counter: counter,
		last:    make(map[PortKey]uint64),
	}
}

// Observe records a cumulative reading. ok is false when no delta can be
// produced: either this is the first reading for the port (err == nil) or the
// counter went backwards (err wraps ErrCounterReset). In both cases the
// reading becomes the new baseline.
func (t *DeltaTracker) Observe(s PortStats) (delta uint64, ok bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.counter(s)
	prev, seen := t.last[s.Key]
	t.last[s.Key] = current

	if !seen {
		return 0, false, nil
	}
	if current < prev {
		return 0, false, fmt.Errorf("%w: port %s went from %d to %d", ErrCounterReset, s.Key, prev, current)
	}
	return current - prev, true, nil
}

// Forget drops the baseline of a port so its next reading starts fresh.
func (t *DeltaTracker) Forget(key PortKey) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.last, key)
}

// Reset drops every baseline.
func (t *DeltaTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.last)
}

// Tracked returns the ports that currently have a baseline.
func (t *DeltaTracker) Tracked() []PortKey {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]PortKey, 0, len(t.last))
	for k := range t.last {
		keys = append(keys, k)
	}
	return keys
}
