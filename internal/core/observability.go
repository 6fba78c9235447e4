package core

import (
	"context"
	"time"
)

// Logger receives structured key/value log output from the service. The
// default logger discards everything.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// MetricsRecorder aggregates per-operation timing and outcome counters.
type MetricsRecorder interface {
	Observe(ctx context.Context, operation string, success bool, duration time.Duration)
}

// Tracer starts spans around service operations.
type Tracer interface {
	Start(ctx context.Context, operation string) (context.Context, TraceSpan)
}

// TraceSpan finalizes a span; a nil error marks it successful.
type TraceSpan interface {
	End(err error)
}

// AuditStatus labels the outcome of an audited operation.
type AuditStatus string

const (
	AuditStatusSuccess AuditStatus = "success"
	AuditStatusError   AuditStatus = "error"
)

// AuditEntry describes one completed service operation for audit sinks.
type AuditEntry struct {
	Operation string        `json:"operation"`
	Subject   EntityRef     `json:"subject,omitempty"`
	Group     EntityRef     `json:"group,omitempty"`
	GroupName string        `json:"group_name,omitempty"`
	Status    AuditStatus   `json:"status"`
	Error     string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// AuditRecorder receives audit entries. Implementations must not block.
type AuditRecorder interface {
	Record(ctx context.Context, entry AuditEntry)
}

// Clock supplies the service's notion of now, overridable in tests.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// Option configures a Service.
type Option func(*Service)

// WithLogger installs a structured logger.
func WithLogger(logger Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetricsRecorder installs a metrics sink for operation outcomes.
func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(s *Service) {
		s.metrics = recorder
	}
}

// WithTracer installs a tracer wrapping every service operation.
func WithTracer(tracer Tracer) Option {
	return func(s *Service) {
		s.tracer = tracer
	}
}

// WithAuditRecorder installs an audit sink.
func WithAuditRecorder(recorder AuditRecorder) Option {
	return func(s *Service) {
		s.audit = recorder
	}
}

// WithClock overrides the service clock.
func WithClock(clock Clock) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}
