package utils

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// WorkerPool bounds the number of in-flight jobs and enforces a minimum
// interval between job starts. The interval is a politeness policy against
// the remote site, not a local resource constraint.
type WorkerPool struct {
	semaphore chan struct{}
	limiter   *rate.Limiter
	wg        sync.WaitGroup
}

// NewWorkerPool creates a WorkerPool with the given concurrency and minimum
// delay between job starts.
func NewWorkerPool(maxWorkers, rateLimitMs int) *WorkerPool {
	lim := rate.NewLimiter(rate.Inf, 1)
	if rateLimitMs > 0 {
		lim = rate.NewLimiter(rate.Every(time.Duration(rateLimitMs)*time.Millisecond), 1)
	}
	return &WorkerPool{
		semaphore: make(chan struct{}, maxWorkers),
		limiter:   lim,
	}
}

// Submit enqueues a job for execution in the pool. The job is dropped if ctx
// is cancelled before a worker slot and a rate token are acquired.
func (wp *WorkerPool) Submit(ctx context.Context, job func()) {
	wp.wg.Add(1)

	go func() {
		defer wp.wg.Done()

		select {
		case wp.semaphore <- struct{}{}:
		case <-ctx.Done():
			return
		}
		defer func() { <-wp.semaphore }()

		if err := wp.limiter.Wait(ctx); err != nil {
			return
		}
		job()
	}()
}

// Wait blocks until all submitted jobs have completed.
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

// IDSet is a thread-safe set for tracking listing IDs seen this run.
type IDSet struct {
	mu   sync.RWMutex
	seen map[string]struct{}
}

// NewIDSet creates an empty IDSet.
func NewIDSet() *IDSet {
	return &IDSet{seen: make(map[string]struct{})}
}

// Add returns true if the ID was newly added, false if already present.
func (s *IDSet) Add(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.seen[id]; exists {
		return false
	}
	s.seen[id] = struct{}{}
	return true
}

// Contains returns true if the ID has already been seen.
func (s *IDSet) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.seen[id]
	return exists
}

// Size returns the number of unique IDs tracked.
func (s *IDSet) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.seen)
}
