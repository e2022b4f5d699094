// Package scheduler orders pending module invocations for execution,
// either unbounded (run each item as soon as one of MaxConcurrency slots
// is free, in submission order, the dag.Engine.executeLevel shape) or
// under a bounded priority queue that ages waiting items so low-priority
// work is never starved.
package scheduler

import (
	"container/heap"
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/kbukum/flowforge/observability"
)

// ErrQueueFull is returned by Submit when a bounded Scheduler is at
// capacity and cannot accept another item.
var ErrQueueFull = errors.New("scheduler: queue full")

// Config selects and tunes the scheduling mode.
type Config struct {
	// Bounded enables the priority-queue mode. When false, Submit starts
	// each item as soon as a MaxConcurrency slot is free, with no
	// priority ordering.
	Bounded bool

	// MaxConcurrency caps how many items the scheduler runs at once, in
	// either mode. Defaults to 16.
	MaxConcurrency int

	// QueueCapacity caps how many items may wait in the bounded queue at
	// once. Zero means unbounded queueing (only MaxConcurrency limits
	// throughput).
	QueueCapacity int

	// AgingStep is how often a waiting item's effective priority is
	// bumped. Defaults to 5 seconds.
	AgingStep time.Duration

	// AgingBonus is added to an item's priority each AgingStep it spends
	// waiting. Defaults to 10.
	AgingBonus int

	// MaxPriority caps an item's effective (base + aged) priority.
	MaxPriority int
}

// ApplyDefaults fills zero-valued fields with the scheduler's defaults.
func (c *Config) ApplyDefaults() {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = 16
	}
	if c.AgingStep <= 0 {
		c.AgingStep = 5 * time.Second
	}
	if c.AgingBonus <= 0 {
		c.AgingBonus = 10
	}
	if c.MaxPriority <= 0 {
		c.MaxPriority = 100
	}
}

// Item is a unit of scheduled work: a module invocation waiting to run.
type Item struct {
	ID       string
	Priority int
	Run      func(ctx context.Context)

	enqueued  time.Time
	seq       int64 // FIFO tie-break for equal effective priority
	effective int   // Priority plus accrued aging bonus, capped at MaxPriority
	index     int   // heap.Interface bookkeeping
}

// Scheduler accepts Items and runs them, honoring Config's mode.
type Scheduler struct {
	cfg Config

	mu       sync.Mutex
	cond     *sync.Cond
	pq       priorityQueue
	inFlight int
	nextSeq  int64
	closed   bool

	unboundedSem chan struct{}

	depth   metric.Int64UpDownCounter
	running metric.Int64UpDownCounter
	rejects metric.Int64Counter
}

// New builds a Scheduler per cfg. metricsPrefix names the OpenTelemetry
// meter used for queue-depth and running-count instruments, following
// observability.Meter's name-a-meter-per-component convention.
func New(cfg Config, metricsPrefix string) *Scheduler {
	cfg.ApplyDefaults()
	s := &Scheduler{cfg: cfg}
	s.cond = sync.NewCond(&s.mu)

	meter := observability.Meter(metricsPrefix)
	s.depth, _ = meter.Int64UpDownCounter("scheduler.queue_depth",
		metric.WithDescription("Items waiting in the scheduler queue"))
	s.running, _ = meter.Int64UpDownCounter("scheduler.running",
		metric.WithDescription("Items currently executing"))
	s.rejects, _ = meter.Int64Counter("scheduler.rejected_total",
		metric.WithDescription("Items rejected because the queue was full"))

	if cfg.Bounded {
		go s.drainLoop()
	} else {
		s.unboundedSem = make(chan struct{}, cfg.MaxConcurrency)
	}
	return s
}

// Submit enqueues item. In unbounded mode, item runs as soon as a
// concurrency slot is free (no priority ordering). In bounded mode, item
// joins the aging priority queue, or Submit returns ErrQueueFull if
// QueueCapacity is set and already full.
func (s *Scheduler) Submit(ctx context.Context, item Item) error {
	if !s.cfg.Bounded {
		s.unboundedSem <- struct{}{}
		s.running.Add(ctx, 1)
		go func() {
			defer func() { <-s.unboundedSem; s.running.Add(ctx, -1) }()
			item.Run(ctx)
		}()
		return nil
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("scheduler: closed")
	}
	if s.cfg.QueueCapacity > 0 && len(s.pq) >= s.cfg.QueueCapacity {
		s.mu.Unlock()
		s.rejects.Add(ctx, 1)
		return ErrQueueFull
	}
	item.enqueued = time.Now()
	item.seq = s.nextSeq
	item.effective = item.Priority
	s.nextSeq++
	heap.Push(&s.pq, &item)
	s.depth.Add(ctx, 1)
	s.cond.Signal()
	s.mu.Unlock()
	return nil
}

// Close makes a bounded Scheduler reject new work at once; items already
// queued still drain, and already-running items are not interrupted.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()
}

// drainLoop is the bounded scheduler's single dispatch goroutine: it wakes
// whenever an item is submitted, a run completes, or the aging step fires,
// and starts as many highest-effective-priority items as concurrency
// allows.
func (s *Scheduler) drainLoop() {
	ticker := time.NewTicker(s.cfg.AgingStep)
	defer ticker.Stop()
	go func() {
		for range ticker.C {
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		}
	}()

	for {
		s.mu.Lock()
		for len(s.pq) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.pq) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		if s.inFlight >= s.cfg.MaxConcurrency {
			s.cond.Wait()
			s.mu.Unlock()
			continue
		}

		s.applyAgingLocked()
		item := heap.Pop(&s.pq).(*Item)
		s.inFlight++
		s.depth.Add(context.Background(), -1)
		s.running.Add(context.Background(), 1)
		s.mu.Unlock()

		go func(it *Item) {
			it.Run(context.Background())
			s.mu.Lock()
			s.inFlight--
			s.mu.Unlock()
			s.running.Add(context.Background(), -1)
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		}(item)
	}
}

// applyAgingLocked bumps each waiting item's effective priority by
// AgingBonus for every AgingStep it has spent in the queue, capped at
// MaxPriority, then re-heapifies. Requires s.mu held.
func (s *Scheduler) applyAgingLocked() {
	now := time.Now()
	changed := false
	for _, it := range s.pq {
		waited := now.Sub(it.enqueued)
		steps := int(waited / s.cfg.AgingStep)
		if steps <= 0 {
			continue
		}
		aged := it.Priority + steps*s.cfg.AgingBonus
		if aged > s.cfg.MaxPriority {
			aged = s.cfg.MaxPriority
		}
		if aged != it.effective {
			it.effective = aged
			changed = true
		}
	}
	if changed {
		heap.Init(&s.pq)
	}
}

// Len reports how many items are currently waiting.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pq)
}
