package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/grcgate/grcgate/internal/observability"
)

// DefaultGenesisSeed seeds the chain when no seed is configured
const DefaultGenesisSeed = "grcgate-audit-genesis"

const sinkTimeout = 5 * time.Second

// Logger appends hash-chained events to a Store. Appends are serialized so the
// chain, and therefore every tenant's causal order, is strictly sequential.
type Logger struct {
	store   Store
	sinks   []Sink
	logger  *zap.Logger
	metrics *observability.Metrics
	genesis string
	now     func() time.Time

	mu       sync.Mutex
	lastSeq  uint64
	lastHash string
}

// Option configures a Logger
type Option func(*Logger)

// WithSink adds a fan-out sink
func WithSink(s Sink) Option {
	return func(l *Logger) { l.sinks = append(l.sinks, s) }
}

// WithClock overrides the event time source
func WithClock(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// WithMetrics records appended events and integrity failures
func WithMetrics(m *observability.Metrics) Option {
	return func(l *Logger) { l.metrics = m }
}

// NewLogger resumes the chain from the last stored event
func NewLogger(ctx context.Context, store Store, genesisSeed string, logger *zap.Logger, opts ...Option) (*Logger, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if genesisSeed == "" {
		genesisSeed = DefaultGenesisSeed
	}
	l := &Logger{
		store:   store,
		logger:  logger,
		genesis: GenesisHash(genesisSeed),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	last, err := store.Last(ctx)
	if err != nil {
		return nil, fmt.Errorf("load audit chain head: %w", err)
	}
	l.lastHash = l.genesis
	if last != nil {
		l.lastSeq = last.Sequence
		l.lastHash = last.IntegrityHash
	}
	l.logger.Debug("Audit chain loaded", zap.Uint64("sequence", l.lastSeq))
	return l, nil
}

// LogEvent assigns id, sequence, timestamp and hashes, then appends e.
// The stored event is returned.
func (l *Logger) LogEvent(ctx context.Context, e Event) (*Event, error) {
	if e.EventType == "" {
		return nil, fmt.Errorf("audit event type is required")
	}
	if e.Severity == "" {
		e.Severity = SeverityLow
	}
	details, err := normalizeDetails(e.Details)
	if err != nil {
		return nil, err
	}
	e.Details = details

	l.mu.Lock()
	e.ID = ulid.Make().String()
	e.Sequence = l.lastSeq + 1
	e.Timestamp = l.now().UTC()
	e.PrevHash = l.lastHash
	e.IntegrityHash, err = ComputeHash(e.PrevHash, &e)
	if err == nil {
		err = l.store.Append(ctx, &e)
	}
	if err != nil {
		l.mu.Unlock()
		l.logger.Error("Failed to append audit event",
			zap.String("event_type", string(e.EventType)),
			zap.String("tenant_id", e.TenantID),
			zap.Error(err))
		return nil, fmt.Errorf("append audit event: %w", err)
	}
	l.lastSeq = e.Sequence
	l.lastHash = e.IntegrityHash
	l.mu.Unlock()

	l.metrics.RecordAuditEvent(string(e.EventType), string(e.Severity))
	if e.Severity == SeverityCritical {
		l.logger.Warn("Critical audit event",
			zap.String("event_type", string(e.EventType)),
			zap.String("tenant_id", e.TenantID),
			zap.String("user_id", e.UserID),
			zap.Any("details", e.Details))
	}
	l.publish(ctx, &e)
	return &e, nil
}

// LogSecurityViolation appends a security_violation event whose severity
// follows the violation code
func (l *Logger) LogSecurityViolation(ctx context.Context, tenantID, userID, code string, details map[string]any) (*Event, error) {
	merged := make(map[string]any, len(details)+1)
	for k, v := range details {
		merged[k] = v
	}
	merged["code"] = code
	return l.LogEvent(ctx, Event{
		TenantID:  tenantID,
		UserID:    userID,
		EventType: EventSecurityViolation,
		Severity:  ViolationSeverity(code),
		Details:   merged,
	})
}

// QueryEvents returns matching events in chain order with their hashes
func (l *Logger) QueryEvents(ctx context.Context, f Filter) ([]*Event, int, error) {
	return l.store.Query(ctx, f)
}

// GetEvent returns one event by id
func (l *Logger) GetEvent(ctx context.Context, id string) (*Event, error) {
	return l.store.Get(ctx, id)
}

func (l *Logger) publish(ctx context.Context, e *Event) {
	if len(l.sinks) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()
	for _, s := range l.sinks {
		if err := s.Publish(ctx, e); err != nil {
			l.logger.Warn("Audit sink publish failed", zap.String("event_id", e.ID), zap.Error(err))
		}
	}
}

// Close closes the sinks
func (l *Logger) Close() error {
	var first error
	for _, s := range l.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// normalizeDetails deep-copies details through JSON so the hashed form is the
// stored form regardless of store or caller-side mutation
func normalizeDetails(details map[string]any) (map[string]any, error) {
	if len(details) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("audit details are not serializable: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
