// Package schedule provides a single-goroutine deadline scheduler backed by a
// min-heap. Components that need many short-lived deadlines (admission wait
// timeouts, session warning/expiry) share one Scheduler instead of allocating
// an OS timer per entity, which keeps teardown deterministic.
package schedule

import (
	"container/heap"
	"sync"
	"time"
)

// entry is one pending deadline.
type entry struct {
	at       time.Time
	fn       func()
	index    int // heap index, -1 once removed
	fired    bool
	canceled bool
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *entryHeap) Push(x any)         { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Handle refers to a scheduled callback and allows cancellation.
type Handle struct {
	s *Scheduler
	e *entry
}

// Cancel removes the callback if it has not fired yet. It reports whether the
// callback was actually prevented from running; calling Cancel after the
// callback fired (or after a previous Cancel) is a safe no-op returning false.
func (h *Handle) Cancel() bool {
	if h == nil || h.s == nil {
		return false
	}
	h.s.mu.Lock()
	defer h.s.mu.Unlock()
	if h.e.fired || h.e.canceled {
		return false
	}
	h.e.canceled = true
	if h.e.index >= 0 {
		heap.Remove(&h.s.heap, h.e.index)
	}
	return true
}

// Scheduler dispatches callbacks at their deadlines from a single goroutine.
// Callbacks must not block for long; anything slow should hand off.
type Scheduler struct {
	mu     sync.Mutex
	heap   entryHeap
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
	now    func() time.Time
}

// New creates a running scheduler. Call Stop when done with it.
func New() *Scheduler {
	s := &Scheduler{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
		now:  time.Now,
	}
	go s.run()
	return s
}

// Schedule registers fn to run after d. The returned Handle can cancel it.
func (s *Scheduler) Schedule(d time.Duration, fn func()) *Handle {
	e := &entry{at: s.now().Add(d), fn: fn}
	s.mu.Lock()
	heap.Push(&s.heap, e)
	atHead := s.heap[0] == e
	s.mu.Unlock()
	if atHead {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
	return &Handle{s: s, e: e}
}

// Stop terminates the dispatch goroutine. Pending callbacks never fire.
func (s *Scheduler) Stop() {
	s.once.Do(func() { close(s.done) })
}

// Len returns the number of pending deadlines.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.heap.Len()
}

func (s *Scheduler) run() {
	const idleWait = time.Hour

	for {
		now := s.now()
		var due []func()

		s.mu.Lock()
		wait := idleWait
		for s.heap.Len() > 0 {
			next := s.heap[0]
			if next.canceled {
				heap.Pop(&s.heap)
				continue
			}
			if next.at.After(now) {
				wait = next.at.Sub(now)
				break
			}
			heap.Pop(&s.heap)
			// Marked before the callback runs so Cancel observes the fire.
			next.fired = true
			due = append(due, next.fn)
		}
		s.mu.Unlock()

		for _, fn := range due {
			fn()
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.done:
			timer.Stop()
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}
