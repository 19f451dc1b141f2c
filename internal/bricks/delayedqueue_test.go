package bricks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDelayedQueue_ImmediateGet(t *testing.T) {
	q := NewDelayedQueue[string]()
	q.Put("a", 0)

	v, ok := q.Get()
	require.True(t, ok)
	require.Equal(t, "a", v)
}

func TestDelayedQueue_DelaysDelivery(t *testing.T) {
	q := NewDelayedQueue[string]()
	start := time.Now()
	q.Put("late", 30*time.Millisecond)

	v, ok := q.Get()
	elapsed := time.Since(start)

	require.True(t, ok)
	require.Equal(t, "late", v)
	require.GreaterOrEqual(t, elapsed, 25*time.Millisecond)
}

func TestDelayedQueue_RemoveByPredicate(t *testing.T) {
	q := NewDelayedQueue[int]()
	q.Put(1, time.Hour)
	q.Put(2, time.Hour)

	got := q.Remove(func(v int) bool { return v == 2 })
	require.NotNil(t, got)
	require.Equal(t, 2, *got)

	require.Nil(t, q.Find(func(v int) bool { return v == 2 }))
	require.NotNil(t, q.Find(func(v int) bool { return v == 1 }))
}

func TestDelayedQueue_CloseDrainsThenStops(t *testing.T) {
	q := NewDelayedQueue[int]()
	q.Put(1, 0)
	q.Close()

	v, ok := q.Get()
	require.True(t, ok)
	require.Equal(t, 1, v)

	_, ok = q.Get()
	require.False(t, ok)
}
