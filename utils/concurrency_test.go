package utils

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func TestIDSetNoDuplicates(t *testing.T) {
	s := NewIDSet()

	if !s.Add("1234567890") {
		t.Error("first Add should return true")
	}
	if s.Add("1234567890") {
		t.Error("second Add of same ID should return false")
	}
	if !s.Contains("1234567890") {
		t.Error("Contains should be true after Add")
	}
	if s.Size() != 1 {
		t.Errorf("size: got %d, want 1", s.Size())
	}
}

func TestIDSetConcurrency(t *testing.T) {
	s := NewIDSet()
	var added int64

	pool := NewWorkerPool(10, 0)
	for i := 0; i < 100; i++ {
		pool.Submit(context.Background(), func() {
			if s.Add("same-id") {
				atomic.AddInt64(&added, 1)
			}
		})
	}
	pool.Wait()

	if added != 1 {
		t.Errorf("expected exactly 1 successful add, got %d", added)
	}
}

func TestWorkerPoolRateLimit(t *testing.T) {
	rateLimitMs := 100
	pool := NewWorkerPool(1, rateLimitMs)

	var timestamps []time.Time
	mu := make(chan struct{}, 1)
	mu <- struct{}{}

	for i := 0; i < 3; i++ {
		pool.Submit(context.Background(), func() {
			<-mu
			timestamps = append(timestamps, time.Now())
			mu <- struct{}{}
		})
	}
	pool.Wait()

	if len(timestamps) != 3 {
		t.Fatalf("jobs run: got %d, want 3", len(timestamps))
	}
	for i := 1; i < len(timestamps); i++ {
		gap := timestamps[i].Sub(timestamps[i-1])
		min := time.Duration(rateLimitMs) * time.Millisecond
		if gap < min-5*time.Millisecond {
			t.Errorf("gap between job %d and %d: %v < minimum %v", i-1, i, gap, min)
		}
	}
}

func TestWorkerPoolCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := NewWorkerPool(1, 1000)
	var ran int64
	for i := 0; i < 5; i++ {
		pool.Submit(ctx, func() {
			atomic.AddInt64(&ran, 1)
		})
	}
	pool.Wait()

	// With the context already cancelled, jobs waiting on the rate limiter
	// must be dropped, not executed.
	if atomic.LoadInt64(&ran) > 1 {
		t.Errorf("expected at most 1 job to run after cancellation, got %d", ran)
	}
}
