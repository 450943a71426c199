package bulkhead

import (
	"context"
	"log/slog"
	"sync"

	"carecore/pkg/platform/schedule"
)

// Registry holds one controller per service name, created lazily on first use
// and cached for the process lifetime. All controllers share one deadline
// scheduler so drains and shutdown cannot leak timers.
type Registry struct {
	configFor func(service string) Config
	sched     *schedule.Scheduler
	ownSched  bool
	logger    *slog.Logger
	metrics   *Metrics
	events    chan Event

	mu          sync.RWMutex
	controllers map[string]*Controller
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger for dropped-event reporting.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithScheduler shares an externally owned scheduler. The registry will not
// stop it on Close.
func WithScheduler(s *schedule.Scheduler) Option {
	return func(r *Registry) {
		r.sched = s
		r.ownSched = false
	}
}

// NewRegistry creates a registry. configFor resolves the bound for a service
// name; it is consulted once per name.
func NewRegistry(configFor func(service string) Config, opts ...Option) *Registry {
	r := &Registry{
		configFor:   configFor,
		controllers: make(map[string]*Controller),
		events:      make(chan Event, 64),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.sched == nil {
		r.sched = schedule.New()
		r.ownSched = true
	}
	return r
}

// Get returns the controller for service, creating it on first use.
func (r *Registry) Get(service string) *Controller {
	r.mu.RLock()
	c, ok := r.controllers[service]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.controllers[service]; ok {
		return c
	}
	c = newController(service, r.configFor(service), r.sched, r.publish, r.metrics)
	r.controllers[service] = c
	return c
}

// Execute admits op under the named service's bulkhead.
func (r *Registry) Execute(ctx context.Context, service string, op func(context.Context) error) error {
	return r.Get(service).Execute(ctx, op)
}

// Events is the notification channel for queue-full, timeout, and drain
// events. The caller is expected to drain it.
func (r *Registry) Events() <-chan Event {
	return r.events
}

// Stats snapshots every known controller.
func (r *Registry) Stats() map[string]Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Stats, len(r.controllers))
	for name, c := range r.controllers {
		out[name] = c.Stats()
	}
	return out
}

// DrainAll force-clears every queue, rejecting pending entries with reason.
// Returns the number of rejected operations.
func (r *Registry) DrainAll(reason string) int {
	r.mu.RLock()
	controllers := make([]*Controller, 0, len(r.controllers))
	for _, c := range r.controllers {
		controllers = append(controllers, c)
	}
	r.mu.RUnlock()

	total := 0
	for _, c := range controllers {
		total += c.Drain(reason)
	}
	return total
}

// Close stops the registry's scheduler when it owns one. Pending wait timers
// never fire afterwards, so callers should DrainAll first.
func (r *Registry) Close() {
	if r.ownSched {
		r.sched.Stop()
	}
}

func (r *Registry) publish(e Event) {
	select {
	case r.events <- e:
	default:
		if r.logger != nil {
			r.logger.Warn("bulkhead event dropped, channel full",
				"kind", string(e.Kind),
				"service", e.Service,
			)
		}
	}
}
