package forecast

import (
	"encoding/binary"
	"math"
)

// Window is an immutable, ordered run of samples taken from the tail of a
// buffer. Two windows are equal when every sample is bit-identical, which is
// what makes a Window usable as a cache key.
type Window struct {
	values []float64
	key    string
}

// NewWindow copies values into a new Window.
func NewWindow(values []float64) Window {
	v := make([]float64, len(values))
	copy(v, values)

	buf := make([]byte, 0, 8*len(v))
	for _, x := range v {
		buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(x))
	}
	return Window{values: v, key: string(buf)}
}

// Len returns the number of samples.
func (w Window) Len() int { return len(w.values) }

// At returns the i-th sample, oldest first.
func (w Window) At(i int) float64 { return w.values[i] }

// Values returns a copy of the samples.
func (w Window) Values() []float64 {
	out := make([]float64, len(w.values))
	copy(out, w.values)
	return out
}

// Key returns the bit-exact encoding of the window.
func (w Window) Key() string { return w.key }

// Equal reports whether both windows hold bit-identical samples.
func (w Window) Equal(o Window) bool { return w.key == o.key }
