package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/traceline/agentbus/core"
)

func TestNewRecorderGeneratesTraceID(t *testing.T) {
	r, err := NewRecorder(NewMemorySink())
	if err != nil {
		t.Fatal(err)
	}
	if len(r.TraceID()) != 32 {
		t.Errorf("trace id %q, want 32 hex chars", r.TraceID())
	}

	other, err := NewRecorder(NewMemorySink())
	if err != nil {
		t.Fatal(err)
	}
	if r.TraceID() == other.TraceID() {
		t.Error("trace ids must differ between recorders")
	}
}

func TestSpanLifecycle(t *testing.T) {
	sink := NewMemorySink()
	r, err := NewRecorder(sink)
	if err != nil {
		t.Fatal(err)
	}

	root := r.StartSpan("run", "", map[string]interface{}{"run.name": "test"})
	if len(root.ID()) != 16 {
		t.Errorf("span id %q, want 16 hex chars", root.ID())
	}
	child := r.StartSpan("child", root.ID(), nil)

	if got := r.OpenCount(); got != 2 {
		t.Errorf("open count = %d, want 2", got)
	}

	if err := r.EndSpan(child, nil); err != nil {
		t.Fatalf("end child: %v", err)
	}
	if err := r.EndSpan(root, errors.New("run failed")); err != nil {
		t.Fatalf("end root: %v", err)
	}
	if got := r.OpenCount(); got != 0 {
		t.Errorf("open count = %d, want 0", got)
	}
	if got := r.PendingExport(); got != 2 {
		t.Errorf("pending export = %d, want 2", got)
	}

	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := r.PendingExport(); got != 0 {
		t.Errorf("pending after flush = %d, want 0", got)
	}
	if sink.Len() != 2 {
		t.Errorf("sink spans = %d, want 2", sink.Len())
	}

	got, ok := sink.Span(root.ID())
	if !ok {
		t.Fatal("root span not exported")
	}
	if got.Status != StatusError || got.StatusMsg != "run failed" {
		t.Errorf("root status = %s %q", got.Status, got.StatusMsg)
	}
	if got.EndTime.Before(got.StartTime) {
		t.Error("end time before start time")
	}

	childSpan, _ := sink.Span(child.ID())
	if childSpan.ParentSpanID != root.ID() {
		t.Errorf("child parent = %q, want %q", childSpan.ParentSpanID, root.ID())
	}
	if childSpan.Status != StatusOK {
		t.Errorf("child status = %s, want ok", childSpan.Status)
	}
}

func TestEndSpanTwice(t *testing.T) {
	r, err := NewRecorder(NewMemorySink())
	if err != nil {
		t.Fatal(err)
	}

	span := r.StartSpan("work", "", nil)
	if err := r.EndSpan(span, nil); err != nil {
		t.Fatal(err)
	}

	err = r.EndSpan(span, nil)
	if !errors.Is(err, core.ErrDoubleClose) {
		t.Errorf("second close: got %v, want ErrDoubleClose", err)
	}
}

func TestSetAttributeAfterCloseIgnored(t *testing.T) {
	r, err := NewRecorder(NewMemorySink())
	if err != nil {
		t.Fatal(err)
	}

	span := r.StartSpan("work", "", nil)
	span.SetAttribute("early", 1)
	if err := r.EndSpan(span, nil); err != nil {
		t.Fatal(err)
	}

	// The span may already be exported; late writes must not reach it.
	span.SetAttribute("late", 2)

	attrs := span.(*Span).Attributes()
	if attrs["early"] != 1 {
		t.Errorf("early attribute lost: %v", attrs)
	}
	if _, ok := attrs["late"]; ok {
		t.Error("attribute written after close must be dropped")
	}
}

func TestSetAttributeAfterForcedCloseIgnored(t *testing.T) {
	r, err := NewRecorder(NewMemorySink())
	if err != nil {
		t.Fatal(err)
	}

	stuck := r.StartSpan("agent.slow.process", "", nil)
	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	// A stuck agent returning after shutdown must not mutate the
	// exported span.
	stuck.SetAttribute("output.message_count", 1)
	if _, ok := stuck.(*Span).Attributes()["output.message_count"]; ok {
		t.Error("attribute written after force-close must be dropped")
	}
}

func TestEndSpanForeignHandle(t *testing.T) {
	r, err := NewRecorder(NewMemorySink())
	if err != nil {
		t.Fatal(err)
	}
	if err := r.EndSpan(nil, nil); err == nil {
		t.Error("nil handle must be rejected")
	}
}

func TestShutdownForceClosesOpenSpans(t *testing.T) {
	sink := NewMemorySink()
	r, err := NewRecorder(sink)
	if err != nil {
		t.Fatal(err)
	}

	stuck := r.StartSpan("agent.slow.process", "", nil)
	if err := r.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	got, ok := sink.Span(stuck.ID())
	if !ok {
		t.Fatal("force-closed span not exported")
	}
	if got.Status != StatusError {
		t.Errorf("status = %s, want error", got.Status)
	}
	if got.StatusMsg != core.ErrIncompleteRun.Error() {
		t.Errorf("status msg = %q", got.StatusMsg)
	}
	if !got.Forced() {
		t.Error("span must be marked as force-closed")
	}

	// A late close from the span's owner is now a no-op, not a bug.
	if err := r.EndSpan(stuck, nil); err != nil {
		t.Errorf("late close after force-close: %v", err)
	}
}

// failingSink fails a configurable number of exports.
type failingSink struct {
	mu       sync.Mutex
	failures int
	batches  [][]*Span
}

func (s *failingSink) Export(ctx context.Context, spans []*Span) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("sink unavailable")
	}
	s.batches = append(s.batches, spans)
	return nil
}

func TestFlushRetriesAfterSinkFailure(t *testing.T) {
	sink := &failingSink{failures: 1}
	r, err := NewRecorder(sink)
	if err != nil {
		t.Fatal(err)
	}

	span := r.StartSpan("work", "", nil)
	if err := r.EndSpan(span, nil); err != nil {
		t.Fatal(err)
	}

	err = r.Flush(context.Background())
	if !errors.Is(err, core.ErrSinkExport) {
		t.Fatalf("first flush: got %v, want ErrSinkExport", err)
	}
	if got := r.PendingExport(); got != 1 {
		t.Errorf("failed export must keep spans, pending = %d", got)
	}

	if err := r.Flush(context.Background()); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if got := r.PendingExport(); got != 0 {
		t.Errorf("pending after retry = %d, want 0", got)
	}
	if len(sink.batches) != 1 || len(sink.batches[0]) != 1 {
		t.Errorf("sink batches = %v", sink.batches)
	}
}

func TestConcurrentStartSpanUniqueIDs(t *testing.T) {
	r, err := NewRecorder(NewMemorySink())
	if err != nil {
		t.Fatal(err)
	}

	const n = 200
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			span := r.StartSpan(fmt.Sprintf("work-%d", i), "", nil)
			ids <- span.ID()
		}(i)
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate span id %s", id)
		}
		seen[id] = true
	}
	if got := r.OpenCount(); got != n {
		t.Errorf("open count = %d, want %d", got, n)
	}
}

func TestStartSpanCopiesAttributes(t *testing.T) {
	r, err := NewRecorder(NewMemorySink())
	if err != nil {
		t.Fatal(err)
	}

	attrs := map[string]interface{}{"key": "original"}
	span := r.StartSpan("work", "", attrs)
	attrs["key"] = "mutated"

	s := span.(*Span)
	if got := s.Attributes()["key"]; got != "original" {
		t.Errorf("attribute = %v, caller mutation leaked in", got)
	}
}
