package telemetry

import (
	"sync"
	"time"
)

// Status is the terminal status of a span.
type Status string

const (
	StatusUnset Status = "unset"
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Span is a timed record of one unit of work. It is owned by the
// recorder while open; once closed and exported it is immutable and
// owned by the sink. Identifiers are OTel-shaped hex strings (32
// characters for the trace id, 16 for the span id) so spans convert
// losslessly for OTLP export.
type Span struct {
	TraceID      string
	SpanID       string
	ParentSpanID string // empty only for the root span
	Name         string
	StartTime    time.Time
	EndTime      time.Time
	Status       Status
	StatusMsg    string

	mu     sync.Mutex
	attrs  map[string]interface{}
	ended  bool
	forced bool
}

// ID returns the span id (implements core.SpanHandle).
func (s *Span) ID() string { return s.SpanID }

// SetAttribute records a scalar attribute on the span
// (implements core.SpanHandle).
func (s *Span) SetAttribute(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		// A closed span may already be exported; it must not change.
		return
	}
	if s.attrs == nil {
		s.attrs = make(map[string]interface{})
	}
	s.attrs[key] = value
}

// Attributes returns a copy of the span attributes.
func (s *Span) Attributes() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]interface{}, len(s.attrs))
	for k, v := range s.attrs {
		out[k] = v
	}
	return out
}

// Forced reports whether the span was administratively closed at
// shutdown instead of by its owner.
func (s *Span) Forced() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forced
}
