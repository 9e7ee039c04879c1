package forecast

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HatiCode/linkguard/internal/clock"
)

// countingForecaster records how often the wrapped forecaster is invoked.
type countingForecaster struct {
	Forecaster
	mu    sync.Mutex
	calls int
}

func (c *countingForecaster) Predict(history []float64) (Forecast, error) {
	c.mu.Lock()
	c.calls++
	c.mu.Unlock()
	return c.Forecaster.Predict(history)
}

func (c *countingForecaster) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

func periodic(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 100
		}
	}
	return out
}

func TestCached_ReusesWithinWindow(t *testing.T) {
	mock := clock.NewMock(time.Time{})
	inner := &countingForecaster{Forecaster: newSpectral(t, 8, mock)}
	cached := NewCached(inner, NewCache(8*time.Second, mock))

	history := periodic(8)

	first, err := cached.Predict(history)
	require.NoError(t, err)

	mock.Advance(5 * time.Second)
	second, err := cached.Predict(history)
	require.NoError(t, err)

	assert.Equal(t, 1, inner.Calls())
	assert.Equal(t, first, second)
	assert.Equal(t, first.ComputedAt, second.ComputedAt)

	hits, misses := cached.Cache().Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(1), misses)
}

func TestCached_RecomputesAfterWindow(t *testing.T) {
	mock := clock.NewMock(time.Time{})
	inner := &countingForecaster{Forecaster: newSpectral(t, 8, mock)}
	cached := NewCached(inner, NewCache(8*time.Second, mock))

	history := periodic(8)

	first, err := cached.Predict(history)
	require.NoError(t, err)

	mock.Advance(8 * time.Second)
	second, err := cached.Predict(history)
	require.NoError(t, err)

	assert.Equal(t, 2, inner.Calls())
	assert.True(t, second.ComputedAt.After(first.ComputedAt))
	assert.Equal(t, first.Values, second.Values)
}

func TestCached_DifferentWindowMisses(t *testing.T) {
	mock := clock.NewMock(time.Time{})
	inner := &countingForecaster{Forecaster: newSpectral(t, 4, mock)}
	cached := NewCached(inner, NewCache(time.Minute, mock))

	_, err := cached.Predict([]float64{1, 2, 3, 4})
	require.NoError(t, err)
	_, err = cached.Predict([]float64{1, 2, 3, 5})
	require.NoError(t, err)
	// longer history with the same tail hits
	_, err = cached.Predict([]float64{0, 0, 1, 2, 3, 5})
	require.NoError(t, err)

	assert.Equal(t, 2, inner.Calls())
	assert.Equal(t, 2, cached.Cache().Len())
}

func TestCached_InsufficientHistory(t *testing.T) {
	inner := &countingForecaster{Forecaster: newSpectral(t, 8, nil)}
	cached := NewCached(inner, NewCache(time.Minute, nil))

	_, err := cached.Predict(periodic(7))
	assert.ErrorIs(t, err, ErrInsufficientHistory)
	assert.Equal(t, 0, inner.Calls())
	assert.Equal(t, 0, cached.Cache().Len())
}

func TestCached_ReturnsIndependentCopies(t *testing.T) {
	cached := NewCached(newSpectral(t, 4, nil), NewCache(time.Minute, nil))
	history := []float64{5, 5, 5, 5}

	first, err := cached.Predict(history)
	require.NoError(t, err)
	first.Values[0] = -1

	second, err := cached.Predict(history)
	require.NoError(t, err)
	assert.InDelta(t, 5, second.Values[0], 1e-9)
}

func TestCache_PutSweepsExpired(t *testing.T) {
	mock := clock.NewMock(time.Time{})
	c := NewCache(10*time.Second, mock)

	c.Put(NewWindow([]float64{1}), Forecast{Values: []float64{1}, ComputedAt: mock.Now()})
	mock.Advance(11 * time.Second)
	c.Put(NewWindow([]float64{2}), Forecast{Values: []float64{2}, ComputedAt: mock.Now()})

	assert.Equal(t, 1, c.Len())
	_, ok := c.Get(NewWindow([]float64{1}))
	assert.False(t, ok)
	f, ok := c.Get(NewWindow([]float64{2}))
	assert.True(t, ok)
	assert.Equal(t, []float64{2}, f.Values)
}

func TestCache_Clear(t *testing.T) {
	c := NewCache(time.Minute, nil)
	w := NewWindow([]float64{1, 2})
	c.Put(w, Forecast{Values: []float64{3}})

	c.Clear()

	assert.Equal(t, 0, c.Len())
	_, ok := c.Get(w)
	assert.False(t, ok)
}
