package store

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPutAndGet(t *testing.T) {
	s := New()
	require.NoError(t, s.Put(&Job{ID: "a", Status: StatusQueued, CreatedAt: time.Now()}))
	got := s.Get("a")
	require.NotNil(t, got)
	require.Equal(t, StatusQueued, got.Status)
}

func TestPutRejectsDuplicateID(t *testing.T) {
	s := New()
	require.NoError(t, s.Put(&Job{ID: "a", Status: StatusQueued}))
	err := s.Put(&Job{ID: "a", Status: StatusQueued})
	require.Error(t, err)
}

func TestGetMissingReturnsNil(t *testing.T) {
	s := New()
	require.Nil(t, s.Get("missing"))
}

func TestUpdateMutatesStoredJob(t *testing.T) {
	s := New()
	require.NoError(t, s.Put(&Job{ID: "a", Status: StatusQueued}))
	updated := s.Update("a", func(j *Job) { j.Status = StatusProcessing })
	require.Equal(t, StatusProcessing, updated.Status)
	require.Equal(t, StatusProcessing, s.Get("a").Status)
}

func TestUpdateMissingReturnsNil(t *testing.T) {
	s := New()
	require.Nil(t, s.Update("missing", func(j *Job) {}))
}

func TestCountsReflectsQueuedAndActive(t *testing.T) {
	s := New()
	require.NoError(t, s.Put(&Job{ID: "a", Status: StatusQueued}))
	require.NoError(t, s.Put(&Job{ID: "b", Status: StatusProcessing}))
	require.NoError(t, s.Put(&Job{ID: "c", Status: StatusRunning}))
	require.NoError(t, s.Put(&Job{ID: "d", Status: StatusCompleted}))

	queued, active := s.Counts()
	require.Equal(t, 1, queued)
	require.Equal(t, 2, active)
	require.Equal(t, 4, s.Len())
}

func TestConcurrentPutAndGet(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := string(rune('a' + i%26))
			_ = s.Put(&Job{ID: id, Status: StatusQueued})
			_ = s.Get(id)
		}()
	}
	wg.Wait()
}

func TestTerminalStates(t *testing.T) {
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusCancelled.Terminal())
	require.False(t, StatusQueued.Terminal())
	require.False(t, StatusRunning.Terminal())
}
