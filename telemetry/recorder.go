package telemetry

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/traceline/agentbus/core"
)

// Recorder creates, closes and exports spans for one run (implements
// core.SpanRecorder). It keeps the open-span table and the completed
// spans that have not yet been exported; span-id generation is
// collision-free under concurrent starts.
//
// Completed spans stay in memory until a sink export succeeds, so a
// failing sink never loses spans: the next Flush retries them.
type Recorder struct {
	mu        sync.Mutex
	traceID   string
	open      map[string]*Span
	completed []*Span
	used      map[string]struct{}

	sink   Sink
	logger core.Logger
}

// RecorderOption configures a Recorder
type RecorderOption func(*Recorder)

// WithRecorderLogger sets the recorder logger
func WithRecorderLogger(logger core.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = logger }
}

// NewRecorder creates a recorder exporting to the given sink. A fresh
// trace id is generated; it identifies the whole run.
func NewRecorder(sink Sink, opts ...RecorderOption) (*Recorder, error) {
	if sink == nil {
		sink = NewMemorySink()
	}

	traceID, err := newHexID(16)
	if err != nil {
		return nil, fmt.Errorf("failed to generate trace id: %w", err)
	}

	r := &Recorder{
		traceID: traceID,
		open:    make(map[string]*Span),
		used:    make(map[string]struct{}),
		sink:    sink,
		logger:  &core.NoOpLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// newHexID returns n random bytes hex-encoded, rejecting the all-zero
// value (invalid in OTel id spaces).
func newHexID(n int) (string, error) {
	buf := make([]byte, n)
	for {
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		zero := true
		for _, b := range buf {
			if b != 0 {
				zero = false
				break
			}
		}
		if !zero {
			return hex.EncodeToString(buf), nil
		}
	}
}

// TraceID returns the run's trace id.
func (r *Recorder) TraceID() string { return r.traceID }

// StartSpan opens a span as a child of parentID (empty for the root
// span). Safe for concurrent use; span ids never collide within a run.
func (r *Recorder) StartSpan(name, parentID string, attrs map[string]interface{}) core.SpanHandle {
	r.mu.Lock()
	defer r.mu.Unlock()

	var spanID string
	for {
		id, err := newHexID(8)
		if err != nil {
			// crypto/rand failure leaves no usable entropy source;
			// counter-derived ids would collide across processes.
			panic(fmt.Sprintf("span id generation failed: %v", err))
		}
		if _, taken := r.used[id]; !taken {
			spanID = id
			break
		}
	}
	r.used[spanID] = struct{}{}

	copied := make(map[string]interface{}, len(attrs))
	for k, v := range attrs {
		copied[k] = v
	}

	span := &Span{
		TraceID:      r.traceID,
		SpanID:       spanID,
		ParentSpanID: parentID,
		Name:         name,
		StartTime:    time.Now().UTC(),
		Status:       StatusUnset,
		attrs:        copied,
	}
	r.open[spanID] = span

	r.logger.Debug("Span started", map[string]interface{}{
		"span_id":   spanID,
		"parent_id": parentID,
		"name":      name,
	})
	return span
}

// EndSpan closes the span exactly once, setting its end time and
// status. Closing a span twice returns ErrDoubleClose: that is a bus
// bug, not a condition to be swallowed. Spans force-closed at shutdown
// are the one exception; a late close from an unresponsive agent that
// outlived the run is then a no-op.
func (r *Recorder) EndSpan(h core.SpanHandle, cause error) error {
	span, ok := h.(*Span)
	if !ok || span == nil {
		return &core.BusError{Op: "recorder.EndSpan", Kind: "recorder", Err: core.ErrDoubleClose,
			Message: "not a recorder-owned span handle"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	span.mu.Lock()
	if span.ended {
		forced := span.forced
		span.mu.Unlock()
		if forced {
			return nil
		}
		return &core.BusError{Op: "recorder.EndSpan", Kind: "recorder", ID: span.SpanID, Err: core.ErrDoubleClose}
	}
	span.ended = true
	span.EndTime = time.Now().UTC()
	if cause != nil {
		span.Status = StatusError
		span.StatusMsg = cause.Error()
	} else {
		span.Status = StatusOK
	}
	span.mu.Unlock()

	delete(r.open, span.SpanID)
	r.completed = append(r.completed, span)
	return nil
}

// OpenCount returns the number of spans not yet closed.
func (r *Recorder) OpenCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// PendingExport returns the number of completed spans awaiting a
// successful export.
func (r *Recorder) PendingExport() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.completed)
}

// Flush exports completed spans to the sink. On sink failure the spans
// are kept and retried on the next call; the error wraps
// ErrSinkExport so callers can treat it as non-fatal.
func (r *Recorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	batch := r.completed
	r.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	if err := r.sink.Export(ctx, batch); err != nil {
		r.logger.Error("Span export failed, will retry", map[string]interface{}{
			"spans": len(batch),
			"error": err.Error(),
		})
		return &core.BusError{Op: "recorder.Flush", Kind: "export", Err: core.ErrSinkExport,
			Message: err.Error()}
	}

	// Spans are only appended, so the exported prefix can be dropped.
	r.mu.Lock()
	r.completed = r.completed[len(batch):]
	r.mu.Unlock()
	return nil
}

// Shutdown force-closes any still-open spans as incomplete and runs a
// final flush. Called once per run at the terminal transition.
func (r *Recorder) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for id, span := range r.open {
		span.mu.Lock()
		span.ended = true
		span.forced = true
		span.EndTime = time.Now().UTC()
		span.Status = StatusError
		span.StatusMsg = core.ErrIncompleteRun.Error()
		span.mu.Unlock()

		delete(r.open, id)
		r.completed = append(r.completed, span)

		r.logger.Warn("Span force-closed at shutdown", map[string]interface{}{
			"span_id": id,
			"name":    span.Name,
		})
	}
	r.mu.Unlock()

	return r.Flush(ctx)
}
