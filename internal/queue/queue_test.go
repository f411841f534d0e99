package queue

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFIFOOrder(t *testing.T) {
	q := New()
	q.Enqueue("a")
	q.Enqueue("b")
	q.Enqueue("c")

	id, ok := q.Dequeue()
	require.True(t, ok)
	require.Equal(t, "a", id)

	id, ok = q.Dequeue()
	require.True(t, ok)
	require.Equal(t, "b", id)
}

func TestDequeueEmptyReturnsFalse(t *testing.T) {
	q := New()
	_, ok := q.Dequeue()
	require.False(t, ok)
}

func TestSizeAndClear(t *testing.T) {
	q := New()
	q.Enqueue("a")
	q.Enqueue("b")
	require.Equal(t, 2, q.Size())
	q.Clear()
	require.Equal(t, 0, q.Size())
	_, ok := q.Dequeue()
	require.False(t, ok)
}
