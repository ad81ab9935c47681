package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State is the orchestrator lifecycle state.
type State string

const (
	StateNotStarted State = "not_started"
	StateRunning    State = "running"
	StateCompleted  State = "completed"
	StateFailed     State = "failed"
	StateTimedOut   State = "timed_out"
)

// Terminal reports whether the state is one of the terminal states.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateTimedOut
}

// RunState is the snapshot handed to a Scheduler between hops.
type RunState struct {
	Step int
	Last Message
}

// Scheduler decides which agent runs next in a deterministic flow.
// When a scheduler is configured the orchestrator consults it instead
// of pure message-driven branching; returning ok=false terminates the
// run.
type Scheduler interface {
	Next(state *RunState) (agent string, ok bool)
}

// RunResult summarizes a finished run.
type RunResult struct {
	State    State
	TraceID  string
	Steps    int
	Elapsed  time.Duration
	Messages []Message // every message the bus accepted, in order
	Outputs  []Message // follow-ups produced by the final round
}

// Orchestrator drives a run: it owns the root span, seeds the initial
// message, routes rounds of deliveries through the bus and decides
// termination.
type Orchestrator struct {
	bus       *Bus
	recorder  SpanRecorder
	cfg       *Config
	logger    Logger
	registry  AgentRegistry
	scheduler Scheduler

	mu    sync.Mutex
	state State
}

// OrchestratorOption configures an Orchestrator
type OrchestratorOption func(*Orchestrator)

// WithOrchestratorLogger sets the orchestrator logger
func WithOrchestratorLogger(logger Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithScheduler sets a deterministic flow scheduler
func WithScheduler(s Scheduler) OrchestratorOption {
	return func(o *Orchestrator) { o.scheduler = s }
}

// WithAgentRegistry sets an external registry to publish agent
// registrations to
func WithAgentRegistry(r AgentRegistry) OrchestratorOption {
	return func(o *Orchestrator) { o.registry = r }
}

// NewOrchestrator creates an orchestrator over the given bus and recorder.
func NewOrchestrator(cfg *Config, bus *Bus, recorder SpanRecorder, opts ...OrchestratorOption) *Orchestrator {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if recorder == nil {
		recorder = &NoOpRecorder{}
	}
	o := &Orchestrator{
		bus:      bus,
		recorder: recorder,
		cfg:      cfg,
		logger:   &NoOpLogger{},
		state:    StateNotStarted,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	o.state = s
	o.mu.Unlock()
}

// Run executes one end-to-end run from the seed message. It opens the
// root span, seals registration, routes messages breadth-first until
// the graph drains or a budget is exhausted, then closes the root span
// and flushes all spans to the sink.
//
// The returned error is non-nil for Failed and TimedOut runs; the
// RunResult is returned in all terminal states.
func (o *Orchestrator) Run(ctx context.Context, seed Message) (*RunResult, error) {
	if err := seed.Validate(); err != nil {
		return nil, err
	}

	o.mu.Lock()
	if o.state != StateNotStarted {
		o.mu.Unlock()
		return nil, &BusError{Op: "orchestrator.Run", Kind: "lifecycle", Err: ErrAlreadyStarted}
	}
	o.state = StateRunning
	o.mu.Unlock()

	start := time.Now()
	o.bus.Seal()

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	root := o.recorder.StartSpan(o.cfg.Name, "", map[string]interface{}{
		"run.name":        o.cfg.Name,
		"run.agents":      len(o.bus.AgentNames()),
		"run.max_steps":   o.cfg.MaxSteps,
		"run.on_error":    o.cfg.OnAgentError,
		"seed.message_id": seed.ID,
	})

	o.publishRegistrations(runCtx)
	defer o.removeRegistrations()

	o.logger.Info("Run started", map[string]interface{}{
		"run":      o.cfg.Name,
		"trace_id": o.recorder.TraceID(),
		"agents":   o.bus.AgentNames(),
	})

	seed = seed.WithTraceContext(TraceContext{
		TraceID:      o.recorder.TraceID(),
		ParentSpanID: root.ID(),
	})

	var state State
	var steps int
	var outputs []Message
	var runErr error
	if o.scheduler != nil {
		state, steps, outputs, runErr = o.runScheduled(runCtx, seed)
	} else {
		state, steps, outputs, runErr = o.runMessageDriven(runCtx, seed)
	}

	messages := o.bus.MessageLog()
	root.SetAttribute("result.success", state == StateCompleted)
	root.SetAttribute("result.total_messages", len(messages))
	root.SetAttribute("result.steps", steps)

	if err := o.recorder.EndSpan(root, runErr); err != nil {
		// Closing the root span twice is a lifecycle bug.
		panic(err)
	}

	// The run context may already be dead; flushing gets its own budget.
	flushCtx, flushCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer flushCancel()
	if err := o.recorder.Shutdown(flushCtx); err != nil {
		// Sink errors are isolated from the run outcome.
		o.logger.Error("Span export incomplete", map[string]interface{}{
			"error": err.Error(),
		})
	}

	o.setState(state)

	result := &RunResult{
		State:    state,
		TraceID:  o.recorder.TraceID(),
		Steps:    steps,
		Elapsed:  time.Since(start),
		Messages: messages,
		Outputs:  outputs,
	}

	o.logger.Info("Run finished", map[string]interface{}{
		"run":      o.cfg.Name,
		"state":    string(state),
		"steps":    steps,
		"elapsed":  result.Elapsed.String(),
		"messages": len(messages),
	})

	return result, runErr
}

// runMessageDriven routes rounds of messages until the graph drains.
func (o *Orchestrator) runMessageDriven(ctx context.Context, seed Message) (State, int, []Message, error) {
	pending := []Message{seed}
	steps := 0

	for len(pending) > 0 {
		var next []Message
		for _, msg := range pending {
			if ctx.Err() != nil {
				return StateTimedOut, steps, pending, &BusError{Op: "orchestrator.Run", Kind: "lifecycle",
					Err: ErrIncompleteRun, Message: ctx.Err().Error()}
			}
			if steps >= o.cfg.MaxSteps {
				return StateTimedOut, steps, pending, &BusError{Op: "orchestrator.Run", Kind: "lifecycle",
					Err: ErrMaxStepsExceeded, Message: fmt.Sprintf("budget %d", o.cfg.MaxSteps)}
			}
			steps++

			followups, err := o.bus.Dispatch(ctx, msg)
			if err != nil {
				if errors.Is(err, ErrIncompleteRun) {
					return StateTimedOut, steps, pending, err
				}
				if o.cfg.OnAgentError == OnErrorAbort {
					return StateFailed, steps, pending, err
				}
				o.logger.Warn("Delivery failed, skipping recipient", map[string]interface{}{
					"message_id": msg.ID,
					"error":      err.Error(),
				})
			}
			next = append(next, followups...)
		}
		if len(next) == 0 {
			return StateCompleted, steps, pending, nil
		}
		pending = next
	}

	return StateCompleted, steps, nil, nil
}

// runScheduled consults the scheduler for each hop instead of
// following the message graph; the first follow-up of each hop becomes
// the next input.
func (o *Orchestrator) runScheduled(ctx context.Context, seed Message) (State, int, []Message, error) {
	cur := seed
	steps := 0

	for {
		if ctx.Err() != nil {
			return StateTimedOut, steps, []Message{cur}, &BusError{Op: "orchestrator.Run", Kind: "lifecycle",
				Err: ErrIncompleteRun, Message: ctx.Err().Error()}
		}
		if steps >= o.cfg.MaxSteps {
			return StateTimedOut, steps, []Message{cur}, &BusError{Op: "orchestrator.Run", Kind: "lifecycle",
				Err: ErrMaxStepsExceeded, Message: fmt.Sprintf("budget %d", o.cfg.MaxSteps)}
		}

		name, ok := o.scheduler.Next(&RunState{Step: steps, Last: cur})
		if !ok {
			return StateCompleted, steps, []Message{cur}, nil
		}
		steps++

		followups, err := o.bus.Dispatch(ctx, cur.Redirect(name))
		if err != nil {
			if errors.Is(err, ErrIncompleteRun) {
				return StateTimedOut, steps, []Message{cur}, err
			}
			if o.cfg.OnAgentError == OnErrorAbort {
				return StateFailed, steps, []Message{cur}, err
			}
			o.logger.Warn("Delivery failed, skipping recipient", map[string]interface{}{
				"message_id": cur.ID,
				"error":      err.Error(),
			})
		}
		if len(followups) == 0 {
			return StateCompleted, steps, nil, nil
		}
		cur = followups[0]
	}
}

// publishRegistrations writes the agent table to the external registry
// when one is configured. Registry failures are logged and ignored;
// they never affect the run.
func (o *Orchestrator) publishRegistrations(ctx context.Context) {
	if o.registry == nil {
		return
	}
	for _, name := range o.bus.AgentNames() {
		info := &AgentInfo{
			Name:         name,
			Capability:   "process",
			RunID:        o.recorder.TraceID(),
			RegisteredAt: time.Now().UTC(),
		}
		if err := o.registry.Register(ctx, info); err != nil {
			o.logger.Warn("Registry publication failed", map[string]interface{}{
				"agent": name,
				"error": err.Error(),
			})
		}
	}
}

func (o *Orchestrator) removeRegistrations() {
	if o.registry == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for _, name := range o.bus.AgentNames() {
		if err := o.registry.Unregister(ctx, name); err != nil {
			o.logger.Warn("Registry removal failed", map[string]interface{}{
				"agent": name,
				"error": err.Error(),
			})
		}
	}
}
