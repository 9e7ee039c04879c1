package telemetry

import "sync"

// SampleBuffer is a bounded FIFO of delta samples for a single source.
// It is safe for concurrent use: one sampling loop appends while the
// decision loop and HTTP handlers read copies.
//
// Once full, each Append evicts the oldest sample. Reads never return a
// slice that aliases internal storage.
type SampleBuffer struct {
	mu    sync.Mutex
	data  []uint64
	head  int // index of the oldest sample
	count int
}

// NewSampleBuffer creates a buffer holding at most capacity samples.
// Panics if capacity is not positive.
func NewSampleBuffer(capacity int) *SampleBuffer {
	if capacity <= 0 {
		panic("telemetry: buffer capacity must be positive")
	}
	return &SampleBuffer{data: make([]uint64, capacity)}
}

// Append adds a sample, evicting the oldest one when the buffer is full.
func (b *SampleBuffer) Append(delta uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count < len(b.data) {
		b.data[(b.head+b.count)%len(b.data)] = delta
		b.count++
		return
	}
	b.data[b.head] = delta
	b.head = (b.head + 1) % len(b.data)
}

// Snapshot returns all samples, oldest first.
func (b *SampleBuffer) Snapshot() []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.copyLocked(b.count)
}

// Tail returns the newest n samples (fewer if the buffer holds less), oldest first.
func (b *SampleBuffer) Tail(n int) []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > b.count {
		n = b.count
	}
	if n < 0 {
		n = 0
	}
	return b.copyLocked(n)
}

func (b *SampleBuffer) copyLocked(n int) []uint64 {
	out := make([]uint64, n)
	start := b.head + b.count - n
	for i := 0; i < n; i++ {
		out[i] = b.data[(start+i)%len(b.data)]
	}
	return out
}

// WindowedAverage downsamples the buffer by averaging consecutive groups of n
// samples. The final group may be shorter than n. For example, with samples
// [1 2 3 4 5 6] and n=2 it returns [1.5 3.5 5.5].
func (b *SampleBuffer) WindowedAverage(n int) []float64 {
	if n <= 0 {
		n = 1
	}
	samples := b.Snapshot()

	out := make([]float64, 0, (len(samples)+n-1)/n)
	for i := 0; i < len(samples); i += n {
		end := min(i+n, len(samples))
		var sum float64
		for _, s := range samples[i:end] {
			sum += float64(s)
		}
		out = append(out, sum/float64(end-i))
	}
	return out
}

// Len returns the number of stored samples.
func (b *SampleBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the buffer capacity.
func (b *SampleBuffer) Cap() int {
	return len(b.data)
}

// Reset discards all samples. Writers holding the buffer keep appending to it.
func (b *SampleBuffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.head = 0
	b.count = 0
}
