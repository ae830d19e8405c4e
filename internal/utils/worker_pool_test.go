package utils

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_ProcessesAllSubmittedWork(t *testing.T) {
	pool := NewWorkerPool(4)
	pool.Start()
	defer pool.Stop()

	var done int64
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		err := pool.SubmitWait(ctx, func() {
			atomic.AddInt64(&done, 1)
		})
		require.NoError(t, err)
	}

	pool.Wait()
	assert.Equal(t, int64(100), atomic.LoadInt64(&done))
}

func TestWorkerPool_SubmitAfterStopFails(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Start()
	pool.Stop()

	assert.False(t, pool.Submit(func() {}))

	err := pool.SubmitWait(context.Background(), func() {})
	assert.Error(t, err)
}

func TestWorkerPool_SubmitWaitHonorsContext(t *testing.T) {
	pool := NewWorkerPool(1)
	pool.Start()
	defer pool.Stop()

	block := make(chan struct{})
	defer close(block)

	// Occupy the single worker and fill the queue
	pool.Submit(func() { <-block })
	for pool.Submit(func() { <-block }) {
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := pool.SubmitWait(ctx, func() {})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
