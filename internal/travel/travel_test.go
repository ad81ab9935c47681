package travel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/traceline/agentbus/core"
	"github.com/traceline/agentbus/telemetry"
)

func runFlow(t *testing.T, cfg *core.Config, opts ...ExpertOption) (*core.RunResult, *Coordinator, *telemetry.MemorySink, error) {
	t.Helper()
	if cfg == nil {
		var err error
		cfg, err = core.NewConfig(core.WithName("travel-planning"), core.WithTimeout(5*time.Second))
		if err != nil {
			t.Fatal(err)
		}
	}

	sink := telemetry.NewMemorySink()
	recorder, err := telemetry.NewRecorder(sink)
	if err != nil {
		t.Fatal(err)
	}

	bus := core.NewBus(cfg, recorder)
	coordinator, err := Setup(bus, nil, append([]ExpertOption{WithPlaceDelay(time.Millisecond)}, opts...)...)
	if err != nil {
		t.Fatal(err)
	}

	orch := core.NewOrchestrator(cfg, bus, recorder)
	seed := core.NewMessage("user", []string{CoordinatorName}, PlanRequest{Destination: "Tokyo", Days: 3})
	result, runErr := orch.Run(context.Background(), seed)
	return result, coordinator, sink, runErr
}

func spanNames(spans []*telemetry.Span) []string {
	names := make([]string, len(spans))
	for i, s := range spans {
		names[i] = s.Name
	}
	return names
}

func findByName(t *testing.T, sink *telemetry.MemorySink, name string) *telemetry.Span {
	t.Helper()
	var found *telemetry.Span
	for _, s := range sink.Spans() {
		if s.Name == name {
			if found != nil {
				t.Fatalf("multiple spans named %s", name)
			}
			found = s
		}
	}
	if found == nil {
		t.Fatalf("no span named %s; have %v", name, spanNames(sink.Spans()))
	}
	return found
}

func TestFlowCompletes(t *testing.T) {
	result, coordinator, sink, err := runFlow(t, nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.State != core.StateCompleted {
		t.Fatalf("state = %s, want completed", result.State)
	}
	if result.Steps != 4 {
		t.Errorf("steps = %d, want 4 (seed, fan-out, two replies)", result.Steps)
	}

	plan, ok := coordinator.Plan()
	if !ok {
		t.Fatal("no plan assembled")
	}
	if plan.Destination != "Tokyo" || plan.Days != 3 {
		t.Errorf("plan = %+v", plan)
	}
	if len(plan.Places) == 0 || len(plan.Order) == 0 {
		t.Errorf("plan missing content: %+v", plan)
	}
	if plan.TotalHours <= 0 {
		t.Errorf("total hours = %f", plan.TotalHours)
	}

	// All spans closed cleanly and exported.
	if sink.Len() != 13 {
		t.Errorf("exported %d spans, want 13: %v", sink.Len(), spanNames(sink.Spans()))
	}
	for _, s := range sink.Spans() {
		if s.Status != telemetry.StatusOK {
			t.Errorf("span %s status = %s (%s)", s.Name, s.Status, s.StatusMsg)
		}
	}
}

func TestFlowSpanTree(t *testing.T) {
	result, _, sink, err := runFlow(t, nil)
	if err != nil {
		t.Fatal(err)
	}

	roots := sink.Roots()
	if len(roots) != 1 {
		t.Fatalf("roots = %v", spanNames(roots))
	}
	root := roots[0]
	if root.Name != "travel-planning" {
		t.Errorf("root name = %s", root.Name)
	}
	if root.TraceID != result.TraceID {
		t.Errorf("root trace id = %s, result trace id = %s", root.TraceID, result.TraceID)
	}

	// Every span belongs to the same trace.
	for _, s := range sink.Spans() {
		if s.TraceID != result.TraceID {
			t.Errorf("span %s carries trace id %s", s.Name, s.TraceID)
		}
	}

	// root -> seed delivery -> coordinator processing.
	seedDelivery := findByName(t, sink, "message: user -> coordinator")
	if seedDelivery.ParentSpanID != root.SpanID {
		t.Error("seed delivery must hang off the root span")
	}
	coordChildren := sink.ChildrenOf(seedDelivery.SpanID)
	if len(coordChildren) != 1 || coordChildren[0].Name != "agent.coordinator.process" {
		t.Fatalf("children of seed delivery = %v", spanNames(coordChildren))
	}
	firstProcess := coordChildren[0]

	// The fan-out deliveries are children of the producing processing span.
	fanOut := sink.ChildrenOf(firstProcess.SpanID)
	if len(fanOut) != 2 {
		t.Fatalf("fan-out children = %v", spanNames(fanOut))
	}
	wantFanOut := map[string]bool{
		"message: coordinator -> place_expert":    false,
		"message: coordinator -> schedule_expert": false,
	}
	for _, s := range fanOut {
		if _, known := wantFanOut[s.Name]; !known {
			t.Errorf("unexpected fan-out span %s", s.Name)
		}
		wantFanOut[s.Name] = true
	}
	for name, seen := range wantFanOut {
		if !seen {
			t.Errorf("missing fan-out span %s", name)
		}
	}

	// Each expert's internal work is a child of its processing span.
	placeProcess := findByName(t, sink, "agent.place_expert.process")
	placeWork := sink.ChildrenOf(placeProcess.SpanID)
	var sawQuery bool
	for _, s := range placeWork {
		if s.Name == "external.place_database.query" {
			sawQuery = true
			if s.Attributes()["db.operation"] != "query" {
				t.Errorf("query span attrs = %v", s.Attributes())
			}
		}
	}
	if !sawQuery {
		t.Errorf("place expert sub-span missing; children = %v", spanNames(placeWork))
	}

	scheduleProcess := findByName(t, sink, "agent.schedule_expert.process")
	var sawRoute bool
	for _, s := range sink.ChildrenOf(scheduleProcess.SpanID) {
		if s.Name == "optimization.route_calculation" {
			sawRoute = true
		}
	}
	if !sawRoute {
		t.Error("schedule expert sub-span missing")
	}

	// Root span summarizes the run.
	if root.Attributes()["result.success"] != true {
		t.Errorf("root attrs = %v", root.Attributes())
	}
}

func TestFlowAbortsOnExpertFailure(t *testing.T) {
	cfg, err := core.NewConfig(
		core.WithName("travel-planning"),
		core.WithTimeout(5*time.Second),
		core.WithOnAgentError(core.OnErrorAbort),
	)
	if err != nil {
		t.Fatal(err)
	}

	result, coordinator, sink, runErr := runFlow(t, cfg, WithScheduleFailures(1))
	if !errors.Is(runErr, core.ErrAgentProcessing) {
		t.Fatalf("got %v, want ErrAgentProcessing", runErr)
	}
	if result.State != core.StateFailed {
		t.Errorf("state = %s, want failed", result.State)
	}
	if _, ok := coordinator.Plan(); ok {
		t.Error("no plan may be assembled after an aborted run")
	}

	// The failing branch is visible in the trace; the root records it.
	scheduleProcess := findByName(t, sink, "agent.schedule_expert.process")
	if scheduleProcess.Status != telemetry.StatusError {
		t.Errorf("schedule processing status = %s", scheduleProcess.Status)
	}
	roots := sink.Roots()
	if len(roots) != 1 || roots[0].Status != telemetry.StatusError {
		t.Error("root span must record the failed run")
	}
}

func TestFlowSkipsFailingExpert(t *testing.T) {
	cfg, err := core.NewConfig(
		core.WithName("travel-planning"),
		core.WithTimeout(5*time.Second),
		core.WithOnAgentError(core.OnErrorSkip),
	)
	if err != nil {
		t.Fatal(err)
	}

	result, coordinator, _, runErr := runFlow(t, cfg, WithScheduleFailures(1))
	if runErr != nil {
		t.Fatalf("skip policy must not fail the run: %v", runErr)
	}
	if result.State != core.StateCompleted {
		t.Errorf("state = %s, want completed", result.State)
	}
	// Half the answers never arrived; the flow drains without a plan.
	if _, ok := coordinator.Plan(); ok {
		t.Error("plan must not assemble from partial answers")
	}
}

func TestFlowRetriesFailedDelivery(t *testing.T) {
	cfg, err := core.NewConfig(
		core.WithName("travel-planning"),
		core.WithTimeout(5*time.Second),
		core.WithRetryPolicy(func(attempt int, err error) bool { return attempt < 2 }),
	)
	if err != nil {
		t.Fatal(err)
	}

	result, coordinator, sink, runErr := runFlow(t, cfg, WithScheduleFailures(1))
	if runErr != nil {
		t.Fatalf("retried run should succeed: %v", runErr)
	}
	if result.State != core.StateCompleted {
		t.Errorf("state = %s, want completed", result.State)
	}
	if _, ok := coordinator.Plan(); !ok {
		t.Error("plan should assemble after a successful retry")
	}

	// Two delivery attempts, each with its own span pair.
	var deliveries, processings int
	for _, s := range sink.Spans() {
		switch s.Name {
		case "message: coordinator -> schedule_expert":
			deliveries++
		case "agent.schedule_expert.process":
			processings++
		}
	}
	if deliveries != 2 || processings != 2 {
		t.Errorf("schedule spans: %d deliveries, %d processings, want 2 and 2", deliveries, processings)
	}
}

func TestFlowStepBudget(t *testing.T) {
	cfg, err := core.NewConfig(
		core.WithName("travel-planning"),
		core.WithTimeout(5*time.Second),
		core.WithMaxSteps(2),
	)
	if err != nil {
		t.Fatal(err)
	}

	result, _, _, runErr := runFlow(t, cfg)
	if !errors.Is(runErr, core.ErrMaxStepsExceeded) {
		t.Fatalf("got %v, want ErrMaxStepsExceeded", runErr)
	}
	if result.State != core.StateTimedOut {
		t.Errorf("state = %s, want timed_out", result.State)
	}
}

func TestUnknownDestinationStillPlans(t *testing.T) {
	cfg, err := core.NewConfig(core.WithName("travel-planning"), core.WithTimeout(5*time.Second))
	if err != nil {
		t.Fatal(err)
	}

	sink := telemetry.NewMemorySink()
	recorder, err := telemetry.NewRecorder(sink)
	if err != nil {
		t.Fatal(err)
	}
	bus := core.NewBus(cfg, recorder)
	coordinator, err := Setup(bus, nil, WithPlaceDelay(time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	orch := core.NewOrchestrator(cfg, bus, recorder)
	seed := core.NewMessage("user", []string{CoordinatorName}, PlanRequest{Destination: "Atlantis", Days: 2})
	result, runErr := orch.Run(context.Background(), seed)
	if runErr != nil {
		t.Fatal(runErr)
	}
	if result.State != core.StateCompleted {
		t.Fatalf("state = %s", result.State)
	}
	plan, ok := coordinator.Plan()
	if !ok {
		t.Fatal("no plan for unknown destination")
	}
	if len(plan.Places) == 0 {
		t.Error("fallback places missing")
	}
}
