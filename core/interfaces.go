package core

import (
	"context"
	"time"
)

// Logger interface - minimal logging interface
type Logger interface {
	Info(msg string, fields map[string]interface{})
	Error(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Debug(msg string, fields map[string]interface{})
}

// SpanRecorder creates, closes and exports spans. The bus opens a
// delivery/processing span pair per delivery attempt through this
// interface; the telemetry package provides the real implementation.
type SpanRecorder interface {
	// TraceID identifies the current end-to-end run.
	TraceID() string

	// StartSpan opens a span as a child of parentID (empty for the root
	// span). Safe for concurrent use from independent delivery paths.
	StartSpan(name, parentID string, attrs map[string]interface{}) SpanHandle

	// EndSpan closes the span exactly once. Closing a span twice is a
	// usage error surfaced as ErrDoubleClose, not silently ignored.
	EndSpan(h SpanHandle, err error) error

	// Flush exports completed spans to the sink.
	Flush(ctx context.Context) error

	// Shutdown force-closes any still-open spans as incomplete and
	// performs a final flush.
	Shutdown(ctx context.Context) error
}

// SpanHandle is an open span owned by the recorder.
type SpanHandle interface {
	ID() string
	SetAttribute(key string, value interface{})
}

// Metrics interface - optional metrics support
type Metrics interface {
	RecordMetric(name string, value float64, labels map[string]string)
}

// AgentInfo is the registration record published to an external
// registry, when one is configured.
type AgentInfo struct {
	Name         string    `json:"name"`
	Capability   string    `json:"capability"`
	RunID        string    `json:"run_id"`
	RegisteredAt time.Time `json:"registered_at"`
}

// AgentRegistry publishes agent registrations outside the process.
// Registration happens once at run start, removal on the terminal
// transition; registry failures never affect the run itself.
type AgentRegistry interface {
	Register(ctx context.Context, info *AgentInfo) error
	Unregister(ctx context.Context, name string) error
}

// Default no-op implementations

// NoOpLogger provides a no-op logger implementation
type NoOpLogger struct{}

func (n *NoOpLogger) Info(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Error(msg string, fields map[string]interface{}) {}
func (n *NoOpLogger) Warn(msg string, fields map[string]interface{})  {}
func (n *NoOpLogger) Debug(msg string, fields map[string]interface{}) {}

// NoOpMetrics provides a no-op metrics implementation
type NoOpMetrics struct{}

func (n *NoOpMetrics) RecordMetric(name string, value float64, labels map[string]string) {}

// NoOpRecorder provides a no-op span recorder implementation. Spans get
// ids so parent linkage in messages stays intact, but nothing is kept
// or exported.
type NoOpRecorder struct{}

func (n *NoOpRecorder) TraceID() string { return "" }

func (n *NoOpRecorder) StartSpan(name, parentID string, attrs map[string]interface{}) SpanHandle {
	return &noOpSpan{}
}

func (n *NoOpRecorder) EndSpan(h SpanHandle, err error) error { return nil }
func (n *NoOpRecorder) Flush(ctx context.Context) error       { return nil }
func (n *NoOpRecorder) Shutdown(ctx context.Context) error    { return nil }

type noOpSpan struct{}

func (s *noOpSpan) ID() string { return "" }

func (s *noOpSpan) SetAttribute(key string, value interface{}) {}

// SpanScope carries the recorder and the current processing span so an
// agent can open child spans for its own work (an external lookup, an
// optimization pass) without any ambient current-span global. Each
// execution branch receives its own scope through the context.
type SpanScope struct {
	Recorder SpanRecorder
	ParentID string
}

type spanScopeKey struct{}

// WithSpanScope attaches a span scope to the context.
func WithSpanScope(ctx context.Context, scope SpanScope) context.Context {
	return context.WithValue(ctx, spanScopeKey{}, scope)
}

// SpanScopeFrom retrieves the span scope from the context, if present.
func SpanScopeFrom(ctx context.Context) (SpanScope, bool) {
	scope, ok := ctx.Value(spanScopeKey{}).(SpanScope)
	return scope, ok
}

// Start opens a child span of the scope's processing span. Returns nil
// when the scope is empty; End tolerates a nil handle so agent code
// does not need to branch.
func (s SpanScope) Start(name string, attrs map[string]interface{}) SpanHandle {
	if s.Recorder == nil {
		return nil
	}
	return s.Recorder.StartSpan(name, s.ParentID, attrs)
}

// End closes a child span previously opened through Start.
func (s SpanScope) End(h SpanHandle, err error) error {
	if s.Recorder == nil || h == nil {
		return nil
	}
	return s.Recorder.EndSpan(h, err)
}
