package utils

import (
	"context"
	"sync"
)

// WorkerPool distributes work across a fixed set of goroutines. The scanner
// uses one to process resolved items in parallel while the traversal
// goroutine stays single-threaded.
type WorkerPool struct {
	workers   int
	workQueue chan func()
	stopCh    chan struct{}
	wg        sync.WaitGroup
	taskWg    sync.WaitGroup
	running   bool
	mu        sync.RWMutex
}

// NewWorkerPool creates a pool with the given worker count. The queue is
// buffered at twice the worker count so submitters rarely block.
func NewWorkerPool(workers int) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	return &WorkerPool{
		workers:   workers,
		workQueue: make(chan func(), workers*2),
		stopCh:    make(chan struct{}),
	}
}

// Start launches the worker goroutines. Idempotent.
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()

	if wp.running {
		return
	}
	wp.running = true

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker()
	}
}

// Stop signals the workers, waits for in-flight work to finish, and drops
// anything still queued.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if !wp.running {
		wp.mu.Unlock()
		return
	}
	wp.running = false
	close(wp.stopCh)
	wp.mu.Unlock()

	wp.wg.Wait()

	// Account for queued work the workers never picked up
	for {
		select {
		case <-wp.workQueue:
			wp.taskWg.Done()
		default:
			return
		}
	}
}

// Submit queues work without blocking. Returns false if the queue is full
// or the pool is stopped.
func (wp *WorkerPool) Submit(work func()) bool {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if !wp.running {
		return false
	}

	wp.taskWg.Add(1)
	select {
	case wp.workQueue <- work:
		return true
	default:
		wp.taskWg.Done()
		return false
	}
}

// SubmitWait queues work, blocking until a slot frees up or ctx is done.
// This is the backpressure path: a full queue slows the producer instead of
// dropping items.
func (wp *WorkerPool) SubmitWait(ctx context.Context, work func()) error {
	wp.mu.RLock()
	if !wp.running {
		wp.mu.RUnlock()
		return context.Canceled
	}
	wp.taskWg.Add(1)
	wp.mu.RUnlock()

	select {
	case wp.workQueue <- work:
		return nil
	case <-wp.stopCh:
		wp.taskWg.Done()
		return context.Canceled
	case <-ctx.Done():
		wp.taskWg.Done()
		return ctx.Err()
	}
}

// Wait blocks until every queued item has completed. Callers stop
// submitting before waiting.
func (wp *WorkerPool) Wait() {
	wp.taskWg.Wait()
}

func (wp *WorkerPool) worker() {
	defer wp.wg.Done()

	for {
		select {
		case work := <-wp.workQueue:
			if work != nil {
				work()
			}
			wp.taskWg.Done()
		case <-wp.stopCh:
			return
		}
	}
}
