package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestUnboundedSubmitRunsImmediately(t *testing.T) {
	s := New(Config{}, "test.unbounded")
	done := make(chan struct{})
	if err := s.Submit(context.Background(), Item{ID: "a", Run: func(ctx context.Context) { close(done) }}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("expected the unbounded scheduler to run the item promptly")
	}
}

func TestUnboundedSubmitBoundsConcurrencyToMaxConcurrency(t *testing.T) {
	s := New(Config{MaxConcurrency: 2}, "test.unbounded.concurrency")
	var inFlight, maxInFlight int64
	var wg sync.WaitGroup

	const n = 8
	wg.Add(n)
	for i := 0; i < n; i++ {
		err := s.Submit(context.Background(), Item{ID: "item", Run: func(ctx context.Context) {
			defer wg.Done()
			cur := atomic.AddInt64(&inFlight, 1)
			for {
				max := atomic.LoadInt64(&maxInFlight)
				if cur <= max || atomic.CompareAndSwapInt64(&maxInFlight, max, cur) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
		}})
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
	}
	wg.Wait()
	if got := atomic.LoadInt64(&maxInFlight); got > 2 {
		t.Errorf("expected at most 2 concurrent runs, observed %d", got)
	}
}

func TestBoundedSubmitRunsHighestPriorityFirst(t *testing.T) {
	s := New(Config{Bounded: true, MaxConcurrency: 1, AgingStep: time.Hour}, "test.bounded.priority")

	var mu sync.Mutex
	var order []string
	release := make(chan struct{})
	firstStarted := make(chan struct{})

	// Occupy the single worker slot so the next three submissions queue up
	// and are ordered by priority before any of them run.
	if err := s.Submit(context.Background(), Item{ID: "blocker", Priority: 0, Run: func(ctx context.Context) {
		close(firstStarted)
		<-release
	}}); err != nil {
		t.Fatalf("Submit blocker: %v", err)
	}
	<-firstStarted

	record := func(id string) func(ctx context.Context) {
		return func(ctx context.Context) {
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
		}
	}
	for _, it := range []Item{
		{ID: "low", Priority: 10, Run: record("low")},
		{ID: "high", Priority: 90, Run: record("high")},
		{ID: "mid", Priority: 50, Run: record("mid")},
	} {
		if err := s.Submit(context.Background(), it); err != nil {
			t.Fatalf("Submit %s: %v", it.ID, err)
		}
	}
	// Give the queue a moment to settle before releasing the blocker.
	time.Sleep(20 * time.Millisecond)
	close(release)

	deadline := time.After(time.Second)
	for {
		mu.Lock()
		done := len(order) == 3
		mu.Unlock()
		if done {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for queued items to run")
		case <-time.After(5 * time.Millisecond):
		}
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"high", "mid", "low"}
	for i, id := range want {
		if order[i] != id {
			t.Errorf("position %d: expected %q, got %v", i, id, order)
		}
	}
}

func TestBoundedSubmitRejectsOverCapacity(t *testing.T) {
	s := New(Config{Bounded: true, MaxConcurrency: 1, QueueCapacity: 1, AgingStep: time.Hour}, "test.bounded.capacity")
	release := make(chan struct{})
	started := make(chan struct{})
	if err := s.Submit(context.Background(), Item{ID: "blocker", Run: func(ctx context.Context) {
		close(started)
		<-release
	}}); err != nil {
		t.Fatalf("Submit blocker: %v", err)
	}
	<-started

	if err := s.Submit(context.Background(), Item{ID: "queued", Run: func(ctx context.Context) {}}); err != nil {
		t.Fatalf("Submit queued: %v", err)
	}
	if err := s.Submit(context.Background(), Item{ID: "overflow", Run: func(ctx context.Context) {}}); err != ErrQueueFull {
		t.Fatalf("expected ErrQueueFull once the queue is at capacity, got %v", err)
	}
	close(release)
}

func TestBoundedSchedulerAgingPreventsStarvation(t *testing.T) {
	s := New(Config{
		Bounded:        true,
		MaxConcurrency: 1,
		AgingStep:      10 * time.Millisecond,
		AgingBonus:     100,
		MaxPriority:    1000,
	}, "test.bounded.aging")

	lowRan := make(chan struct{})
	if err := s.Submit(context.Background(), Item{ID: "low", Priority: 1, Run: func(ctx context.Context) {
		close(lowRan)
	}}); err != nil {
		t.Fatalf("Submit low: %v", err)
	}

	// Keep submitting higher-priority work; without aging this would starve
	// "low" forever, but its effective priority grows by AgingBonus every
	// AgingStep while it waits, so it must eventually win the heap.
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-stop:
				return
			default:
				_ = s.Submit(context.Background(), Item{ID: "high", Priority: 90, Run: func(ctx context.Context) {
					time.Sleep(time.Millisecond)
				}})
				time.Sleep(time.Millisecond)
			}
		}
	}()

	select {
	case <-lowRan:
	case <-time.After(2 * time.Second):
		t.Fatal("expected the aging scheduler to eventually run the low-priority item")
	}
	close(stop)
}
