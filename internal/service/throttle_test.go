package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottleEnforcesSpacing(t *testing.T) {
	throttle := NewThrottle(20 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	require.NoError(t, throttle.Wait(ctx))
	require.NoError(t, throttle.Wait(ctx))
	require.NoError(t, throttle.Wait(ctx))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
}

func TestThrottleBackoffDelaysNextCall(t *testing.T) {
	throttle := NewThrottle(time.Millisecond)
	ctx := context.Background()

	require.NoError(t, throttle.Wait(ctx))
	throttle.Backoff(50 * time.Millisecond)

	start := time.Now()
	require.NoError(t, throttle.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestThrottleWaitHonorsContext(t *testing.T) {
	throttle := NewThrottle(time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	require.NoError(t, throttle.Wait(ctx))
	err := throttle.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestKeyQueueSerializesPerKey(t *testing.T) {
	queue := NewKeyQueue()

	var mu sync.Mutex
	order := make(map[string][]int)

	for i := 0; i < 50; i++ {
		i := i
		for _, key := range []string{"a", "b"} {
			key := key
			queue.Submit(key, func() {
				mu.Lock()
				order[key] = append(order[key], i)
				mu.Unlock()
			})
		}
	}
	queue.Close()

	for _, key := range []string{"a", "b"} {
		require.Len(t, order[key], 50)
		for i, v := range order[key] {
			assert.Equal(t, i, v, "work for key %q ran out of order", key)
		}
	}
}

func TestKeyQueueSubmitAfterCloseIsNoOp(t *testing.T) {
	queue := NewKeyQueue()
	queue.Close()

	ran := false
	queue.Submit("a", func() { ran = true })
	assert.False(t, ran)
}
