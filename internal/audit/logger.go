package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sink receives flushed batches. Implementations are append-only; whatever
// retention or fan-out happens behind them is not this package's concern.
type Sink interface {
	AppendBatch(ctx context.Context, events []Event) error
}

// Record is the caller-supplied part of an event. SubjectID is the raw
// national identifier; it is hashed during construction and never stored.
type Record struct {
	ActorID      string
	SessionID    string
	SubjectID    string
	Action       Action
	Resource     Resource
	ResourceID   string
	OutcomeCode  int
	CorrectionOf uuid.UUID

	// RiskOverride, when non-empty, replaces the classification table's
	// verdict for this event.
	RiskOverride RiskLevel
}

// Config holds the buffering knobs.
type Config struct {
	// BufferCapacity triggers an eager flush when reached.
	BufferCapacity int
	// FlushInterval paces the periodic flush in Run.
	FlushInterval time.Duration
	// HighWater is the buffer depth beyond which sustained sink failure is
	// escalated as a critical operational condition. Zero means 4x capacity.
	HighWater int
}

// Logger buffers integrity-hashed events and flushes them to a sink. Appends
// are serialized; a failed flush returns its batch to the front of the buffer
// so no event is ever dropped or reordered.
type Logger struct {
	cfg     Config
	key     []byte
	sink    Sink
	log     *slog.Logger
	metrics *Metrics
	now     func() time.Time

	// flushMu serializes flushes so re-buffered batches keep their order.
	flushMu sync.Mutex

	mu          sync.Mutex
	buf         []Event
	alarmRaised bool
}

// Option configures a Logger.
type Option func(*Logger)

// WithLogger sets the operational logger.
func WithLogger(log *slog.Logger) Option {
	return func(l *Logger) { l.log = log }
}

// WithMetrics attaches Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(l *Logger) { l.metrics = m }
}

// WithClock pins the timestamp source in tests.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// New creates an audit logger. key is the process-held secret for integrity
// hashing; it must not be empty.
func New(key []byte, sink Sink, cfg Config, opts ...Option) (*Logger, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("audit: integrity key is required")
	}
	if sink == nil {
		return nil, fmt.Errorf("audit: sink is required")
	}
	if cfg.BufferCapacity <= 0 {
		cfg.BufferCapacity = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 30 * time.Second
	}
	if cfg.HighWater <= 0 {
		cfg.HighWater = 4 * cfg.BufferCapacity
	}

	l := &Logger{
		cfg:  cfg,
		key:  key,
		sink: sink,
		log:  slog.Default(),
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Log constructs the full event synchronously and appends it to the buffer.
// The integrity hash is sealed as the construction's final step, so every
// buffered event already carries its proof. Critical events and a full buffer
// flush eagerly; flush failures stay internal and surface through metrics and
// the operational log.
func (l *Logger) Log(ctx context.Context, rec Record) Event {
	risk := rec.RiskOverride
	if risk == "" {
		risk = ClassifyRisk(rec.Action)
	}
	subjectHash := HashSubject(rec.SubjectID)

	e := Event{
		ID:              uuid.New(),
		Timestamp:       l.now(),
		ActorID:         rec.ActorID,
		SessionID:       rec.SessionID,
		SubjectHash:     subjectHash,
		Action:          rec.Action,
		Resource:        rec.Resource,
		ResourceID:      rec.ResourceID,
		OutcomeCode:     rec.OutcomeCode,
		RiskLevel:       risk,
		ComplianceFlags: deriveFlags(rec.Action, rec.Resource, subjectHash, risk),
		CorrectionOf:    rec.CorrectionOf,
	}
	e.IntegrityHash = integrityHash(l.key, e)

	l.mu.Lock()
	l.buf = append(l.buf, e)
	depth := len(l.buf)
	l.mu.Unlock()

	l.metrics.setBufferDepth(depth)
	l.metrics.incLogged(string(risk))
	l.checkHighWater(depth)

	if risk == RiskCritical || depth >= l.cfg.BufferCapacity {
		if err := l.Flush(ctx); err != nil {
			l.log.Error("eager audit flush failed, events re-buffered",
				"risk", string(risk),
				"buffer_depth", l.Depth(),
				"error", err,
			)
		}
	}
	return e
}

// LogCorrection appends a correction event referencing original. The original
// stays in the trail untouched.
func (l *Logger) LogCorrection(ctx context.Context, original uuid.UUID, rec Record) Event {
	rec.Action = ActionCorrection
	rec.CorrectionOf = original
	return l.Log(ctx, rec)
}

// Flush pushes the buffered events to the sink. On failure the batch returns
// to the front of the buffer in its original order.
func (l *Logger) Flush(ctx context.Context) error {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.Lock()
	batch := l.buf
	l.buf = nil
	l.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := l.sink.AppendBatch(ctx, batch); err != nil {
		l.mu.Lock()
		l.buf = append(batch, l.buf...)
		depth := len(l.buf)
		l.mu.Unlock()

		l.metrics.incFlushFailures()
		l.metrics.setBufferDepth(depth)
		l.checkHighWater(depth)
		return fmt.Errorf("audit flush (%d events): %w", len(batch), err)
	}

	l.mu.Lock()
	depth := len(l.buf)
	if depth < l.cfg.HighWater && l.alarmRaised {
		l.alarmRaised = false
		l.metrics.setHighWaterAlarm(false)
	}
	l.mu.Unlock()

	l.metrics.addFlushed(len(batch))
	l.metrics.setBufferDepth(depth)
	return nil
}

// Run flushes on a fixed interval until ctx is done, then performs one final
// flush with a short grace period.
func (l *Logger) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := l.Flush(flushCtx); err != nil {
				l.log.Error("final audit flush failed", "error", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if err := l.Flush(ctx); err != nil {
				l.log.Warn("periodic audit flush failed, will retry", "error", err)
			}
		}
	}
}

// Depth returns the current buffer depth.
func (l *Logger) Depth() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buf)
}

// Verify recomputes an event's integrity hash against the logger's key.
func (l *Logger) Verify(e Event) bool {
	return Verify(l.key, e)
}

// checkHighWater escalates sustained buffer growth exactly once per episode.
func (l *Logger) checkHighWater(depth int) {
	if depth < l.cfg.HighWater {
		return
	}
	l.mu.Lock()
	raise := !l.alarmRaised
	l.alarmRaised = true
	l.mu.Unlock()
	if raise {
		l.metrics.setHighWaterAlarm(true)
		l.log.Error("CRITICAL: audit buffer past high-water mark, sink is not draining",
			"buffer_depth", depth,
			"high_water", l.cfg.HighWater,
		)
	}
}
