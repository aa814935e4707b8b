package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsAllJobs(t *testing.T) {
	pool, err := NewWorkerPool(context.Background(), 3, 10)
	require.NoError(t, err)

	var done, inFlight, peak atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, pool.Submit(context.Background(), func(ctx context.Context) {
			n := inFlight.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			done.Add(1)
		}))
	}
	pool.Wait()

	assert.Equal(t, int32(10), done.Load())
	assert.LessOrEqual(t, peak.Load(), int32(3))
}

func TestWorkerPool_CancelDropsQueuedJobs(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool, err := NewWorkerPool(ctx, 1, 10)
	require.NoError(t, err)

	started := make(chan struct{})
	var ran atomic.Int32
	require.NoError(t, pool.Submit(ctx, func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		ran.Add(1)
	}))
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(ctx, func(context.Context) { ran.Add(1) }))
	}
	<-started
	cancel()
	pool.Wait()

	assert.Equal(t, int32(1), ran.Load())
	assert.Error(t, pool.Submit(context.Background(), func(context.Context) {}))
}

func TestNewWorkerPool_Validates(t *testing.T) {
	_, err := NewWorkerPool(context.Background(), 0, 1)
	assert.Error(t, err)
	_, err = NewWorkerPool(context.Background(), 1, 0)
	assert.Error(t, err)
}
