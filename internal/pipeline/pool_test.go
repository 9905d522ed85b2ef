package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestPool_Do(t *testing.T) {
	pool := NewPool("test", 2, 4, zap.NewNop())
	defer pool.Stop()

	t.Run("runs the task and returns its result", func(t *testing.T) {
		ran := false
		err := pool.Do(context.Background(), func() error {
			ran = true
			return nil
		})
		require.NoError(t, err)
		assert.True(t, ran)
	})

	t.Run("propagates the task error", func(t *testing.T) {
		boom := errors.New("boom")
		err := pool.Do(context.Background(), func() error { return boom })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("honors context cancellation while waiting", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		release := make(chan struct{})
		defer close(release)
		// Occupy both workers so the canceled wait is observable.
		for i := 0; i < 2; i++ {
			require.NoError(t, pool.Submit(context.Background(), func() { <-release }))
		}
		err := pool.Do(ctx, func() error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestPool_Backpressure(t *testing.T) {
	pool := NewPool("tiny", 1, 1, zap.NewNop())
	defer pool.Stop()

	release := make(chan struct{})
	// One task running, one queued: the pool is saturated.
	require.NoError(t, pool.Submit(context.Background(), func() { <-release }))
	require.NoError(t, pool.Submit(context.Background(), func() {}))

	submitted := make(chan error, 1)
	go func() {
		submitted <- pool.Submit(context.Background(), func() {})
	}()

	select {
	case err := <-submitted:
		t.Fatalf("submit should have blocked on a full queue, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-submitted:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("submit did not unblock after the queue drained")
	}
}

func TestPool_Stop(t *testing.T) {
	pool := NewPool("stopping", 1, 2, zap.NewNop())

	var mu sync.Mutex
	ran := 0
	require.NoError(t, pool.Submit(context.Background(), func() {
		mu.Lock()
		ran++
		mu.Unlock()
	}))

	pool.Stop()

	mu.Lock()
	assert.Equal(t, 1, ran, "accepted work finishes before Stop returns")
	mu.Unlock()

	err := pool.Submit(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrPoolStopped)
}

func TestDomainError(t *testing.T) {
	err := Domainf("recordCount must be greater than zero, got %d", 0)
	assert.Equal(t, "recordCount must be greater than zero, got 0", err.Error())
	assert.True(t, IsDomainError(err))
	assert.True(t, IsDomainError(errors.Join(errors.New("outer"), err)))
	assert.False(t, IsDomainError(errors.New("plain")))
}
