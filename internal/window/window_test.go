package window

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rewired-gh/quantstream/internal/models"
)

var t0 = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func at(i int, v float64) models.Sample {
	return models.Sample{Time: t0.Add(time.Duration(i) * time.Minute), Value: v}
}

func TestWindow_PushEvictsOldest(t *testing.T) {
	w, err := New[models.Sample](3)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, ok, err := w.Push(at(i, float64(i+1)))
		require.NoError(t, err)
		assert.False(t, ok, "no eviction before overflow")
	}
	assert.True(t, w.Full())

	ev, ok, err := w.Push(at(3, 4))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, ev.Value)
	assert.Equal(t, 3, w.Len())
	assert.Equal(t, 2.0, w.First().Value)
	assert.Equal(t, 4.0, w.Last().Value)
	assert.Equal(t, []float64{2, 3, 4}, w.Values())
}

func TestWindow_SizeNeverExceedsCapacity(t *testing.T) {
	w, err := New[models.Sample](5)
	require.NoError(t, err)
	for i := 0; i < 100; i++ {
		_, _, err := w.Push(at(i, float64(i)))
		require.NoError(t, err)
		assert.LessOrEqual(t, w.Len(), 5)
		if i >= 4 {
			assert.Equal(t, 5, w.Len())
		}
	}
}

func TestWindow_MinMax(t *testing.T) {
	w, _ := New[models.Sample](4)
	for i, v := range []float64{5, -2, 7, 3, 1} {
		_, _, _ = w.Push(at(i, v))
	}
	// -2 is still inside (5 was evicted)
	assert.Equal(t, -2.0, w.Min())
	assert.Equal(t, 7.0, w.Max())
}

func TestWindow_RejectsTimeTravel(t *testing.T) {
	w, _ := New[models.Sample](3)
	_, _, err := w.Push(at(5, 1))
	require.NoError(t, err)

	_, _, err = w.Push(at(4, 2))
	assert.True(t, errors.Is(err, models.ErrInvalidTime))
	assert.Equal(t, 1, w.Len(), "rejected push must not mutate")

	// equal stamps are allowed at the window level
	_, _, err = w.Push(at(5, 3))
	assert.NoError(t, err)

	// sentinel bypasses ordering
	_, _, err = w.Push(models.Sample{Time: models.NoTime, Value: 4})
	assert.NoError(t, err)
}

func TestWindow_Clone(t *testing.T) {
	w, _ := New[models.Sample](3)
	for i := 0; i < 3; i++ {
		_, _, _ = w.Push(at(i, float64(i)))
	}
	c := w.Clone()
	_, _, _ = c.Push(at(10, 99))
	assert.Equal(t, []float64{0, 1, 2}, w.Values())
	assert.Equal(t, []float64{1, 2, 99}, c.Values())
}

func TestNew_InvalidCapacity(t *testing.T) {
	_, err := New[models.Sample](0)
	assert.True(t, errors.Is(err, models.ErrInvalidConfig))
	_, err = NewQueue[models.Sample](-1)
	assert.True(t, errors.Is(err, models.ErrInvalidConfig))
}

func TestQueue_PushAndClone(t *testing.T) {
	q, err := NewQueue[models.Sample](2)
	require.NoError(t, err)

	_, ok, _ := q.Push(at(0, 1))
	assert.False(t, ok)
	_, ok, _ = q.Push(at(1, 2))
	assert.False(t, ok)
	ev, ok, err := q.Push(at(2, 3))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1.0, ev.Value)

	c := q.Clone()
	assert.Equal(t, 2, c.Len())

	ev, _, _ = c.Push(at(3, 4))
	assert.Equal(t, 2.0, ev.Value)
	assert.Equal(t, 2, q.Len())
	ev, _, _ = q.Push(at(3, 5))
	assert.Equal(t, 2.0, ev.Value, "clone must preserve source order")

	_, _, err = q.Push(at(1, 6))
	assert.True(t, errors.Is(err, models.ErrInvalidTime))
}
