package telemetry

import (
	"context"
	"sync"
)

// Sink ingests exported spans. Export is an idempotent, at-least-once
// push: re-exporting a span id must not corrupt the reconstructed
// tree, and a child may arrive before its parent.
type Sink interface {
	Export(ctx context.Context, spans []*Span) error
}

// MemorySink collects exported spans in memory, deduplicating by span
// id. Used by tests and by runs that only need the final tree locally.
type MemorySink struct {
	mu    sync.Mutex
	byID  map[string]*Span
	order []string
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{
		byID: make(map[string]*Span),
	}
}

// Export records the batch; spans already seen are ignored.
func (s *MemorySink) Export(ctx context.Context, spans []*Span) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, span := range spans {
		if _, seen := s.byID[span.SpanID]; seen {
			continue
		}
		s.byID[span.SpanID] = span
		s.order = append(s.order, span.SpanID)
	}
	return nil
}

// Len returns the number of distinct spans received.
func (s *MemorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// Spans returns the spans in arrival order.
func (s *MemorySink) Spans() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Span, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Span returns the span with the given id, if received.
func (s *MemorySink) Span(id string) (*Span, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	span, ok := s.byID[id]
	return span, ok
}

// Roots returns the spans without a parent, one per trace in a
// well-formed export.
func (s *MemorySink) Roots() []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	var roots []*Span
	for _, id := range s.order {
		if s.byID[id].ParentSpanID == "" {
			roots = append(roots, s.byID[id])
		}
	}
	return roots
}

// ChildrenOf returns the direct children of the given span in arrival
// order. Tree reconstruction works from ids alone, so arrival order of
// parents and children does not matter.
func (s *MemorySink) ChildrenOf(parentID string) []*Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	var children []*Span
	for _, id := range s.order {
		if s.byID[id].ParentSpanID == parentID {
			children = append(children, s.byID[id])
		}
	}
	return children
}
