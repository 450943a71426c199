// Package bulkhead bounds concurrent and queued work per logical backend
// service so one slow dependency cannot exhaust the process. Admission is
// strict FIFO; excess load fails fast instead of piling up.
package bulkhead

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"carecore/pkg/platform/schedule"
)

var tracer = otel.Tracer("carecore/bulkhead")

// Config bounds one named service. Immutable once the controller exists.
type Config struct {
	MaxConcurrency int
	QueueCapacity  int
	WaitTimeout    time.Duration
}

// Stats is a point-in-time snapshot of a controller's counters.
type Stats struct {
	Active         int
	QueueLength    int
	TotalExecuted  int64
	TotalQueued    int64
	TotalTimeouts  int64
	TotalQueueFull int64
	TotalDrained   int64
	AvgExecTime    time.Duration
}

// queuedOp is one pending admission request. It is owned exclusively by the
// controller's queue from enqueue until promotion, timeout, or drain.
type queuedOp struct {
	admit      chan error // buffered; resolved exactly once
	enqueuedAt time.Time
	timer      *schedule.Handle
}

// Controller serializes all admission state for one service behind a single
// mutex: active count, queue contents, and counters move together, which is
// what makes the promotion/timeout race impossible.
type Controller struct {
	service string
	cfg     Config
	sched   *schedule.Scheduler
	notify  func(Event)
	metrics *Metrics

	mu             sync.Mutex
	active         int
	queue          []*queuedOp
	totalExecuted  int64
	totalQueued    int64
	totalTimeouts  int64
	totalQueueFull int64
	totalDrained   int64
	avgExec        time.Duration
}

func newController(service string, cfg Config, sched *schedule.Scheduler, notify func(Event), metrics *Metrics) *Controller {
	return &Controller{
		service: service,
		cfg:     cfg,
		sched:   sched,
		notify:  notify,
		metrics: metrics,
	}
}

// Execute admits op under the service's concurrency bound. It runs op on the
// calling goroutine once admitted; queue-full and admission-timeout surface as
// typed errors, while op's own failures propagate unchanged.
func (c *Controller) Execute(ctx context.Context, op func(context.Context) error) error {
	c.mu.Lock()

	if c.active < c.cfg.MaxConcurrency {
		c.active++
		c.mu.Unlock()
		return c.run(ctx, op)
	}

	if len(c.queue) >= c.cfg.QueueCapacity {
		c.totalQueueFull++
		c.mu.Unlock()
		c.metrics.incQueueFull(c.service)
		c.publish(EventQueueFull, "")
		return &QueueFullError{Service: c.service, QueueCapacity: c.cfg.QueueCapacity}
	}

	q := &queuedOp{
		admit:      make(chan error, 1),
		enqueuedAt: time.Now(),
	}
	c.queue = append(c.queue, q)
	c.totalQueued++
	q.timer = c.sched.Schedule(c.cfg.WaitTimeout, func() { c.expire(q) })
	c.metrics.setQueueLength(c.service, len(c.queue))
	c.mu.Unlock()

	select {
	case err := <-q.admit:
		if err != nil {
			return err
		}
		return c.run(ctx, op)
	case <-ctx.Done():
		c.mu.Lock()
		if c.remove(q) {
			q.timer.Cancel()
			c.metrics.setQueueLength(c.service, len(c.queue))
			c.mu.Unlock()
			return ctx.Err()
		}
		c.mu.Unlock()
		// Resolved concurrently with the cancellation; honor the outcome so
		// an already-granted slot is not leaked.
		if err := <-q.admit; err != nil {
			return err
		}
		return c.run(ctx, op)
	}
}

// run executes op with the slot already held, then releases it and promotes
// the queue head. Bookkeeping sits in a defer so a panicking operation cannot
// leak its slot.
func (c *Controller) run(ctx context.Context, op func(context.Context) error) error {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "bulkhead.execute",
		trace.WithAttributes(attribute.String("bulkhead.service", c.service)))
	c.metrics.setActive(c.service, c.activeCount())

	defer func() {
		span.End()
		elapsed := time.Since(start)

		c.mu.Lock()
		c.active--
		c.totalExecuted++
		if c.avgExec == 0 {
			c.avgExec = elapsed
		} else {
			// EWMA with alpha 0.2.
			c.avgExec += (elapsed - c.avgExec) / 5
		}
		c.promote()
		active, depth := c.active, len(c.queue)
		c.mu.Unlock()

		c.metrics.incExecuted(c.service)
		c.metrics.observeExecTime(c.service, elapsed)
		c.metrics.setActive(c.service, active)
		c.metrics.setQueueLength(c.service, depth)
	}()

	return op(ctx)
}

// promote moves queue heads into free slots, FIFO. Caller holds c.mu.
func (c *Controller) promote() {
	for c.active < c.cfg.MaxConcurrency && len(c.queue) > 0 {
		q := c.queue[0]
		c.queue = c.queue[1:]
		// Cancel may report false if the deadline fired concurrently; the
		// expire callback finds q gone from the queue and does nothing, so
		// removal here is the deciding move.
		q.timer.Cancel()
		c.active++
		q.admit <- nil
	}
}

// expire resolves a queued operation that waited out its admission timeout.
// Runs on the scheduler goroutine.
func (c *Controller) expire(q *queuedOp) {
	c.mu.Lock()
	if !c.remove(q) {
		// Promoted (or drained) before the lock was acquired.
		c.mu.Unlock()
		return
	}
	c.totalTimeouts++
	depth := len(c.queue)
	c.mu.Unlock()

	c.metrics.incTimeouts(c.service)
	c.metrics.setQueueLength(c.service, depth)
	c.publish(EventAdmissionTimeout, "")
	q.admit <- &AdmissionTimeoutError{Service: c.service, WaitTimeout: c.cfg.WaitTimeout}
}

// remove deletes q from the queue, preserving order. Caller holds c.mu.
// Returns false when q was already promoted, expired, or drained.
func (c *Controller) remove(q *queuedOp) bool {
	for i, cand := range c.queue {
		if cand == q {
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			return true
		}
	}
	return false
}

// Drain rejects every pending entry with the stated reason and cancels each
// wait timer. Running operations are unaffected.
func (c *Controller) Drain(reason string) int {
	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	c.totalDrained += int64(len(pending))
	c.mu.Unlock()

	for _, q := range pending {
		q.timer.Cancel()
		q.admit <- &DrainedError{Service: c.service, Reason: reason}
	}
	if len(pending) > 0 {
		c.metrics.setQueueLength(c.service, 0)
		c.publish(EventDrained, reason)
	}
	return len(pending)
}

// Stats returns a snapshot of the controller's counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Active:         c.active,
		QueueLength:    len(c.queue),
		TotalExecuted:  c.totalExecuted,
		TotalQueued:    c.totalQueued,
		TotalTimeouts:  c.totalTimeouts,
		TotalQueueFull: c.totalQueueFull,
		TotalDrained:   c.totalDrained,
		AvgExecTime:    c.avgExec,
	}
}

func (c *Controller) activeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

func (c *Controller) publish(kind EventKind, reason string) {
	if c.notify == nil {
		return
	}
	c.notify(Event{Kind: kind, Service: c.service, Reason: reason, At: time.Now()})
}
