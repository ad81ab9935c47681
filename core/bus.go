package core

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// Bus is the central router. It accepts a message from a sending
// agent, resolves recipients, delivers concurrently and wraps each
// delivery and each agent invocation in a span pair.
//
// Registration is only allowed before the run starts; after Seal the
// agent table is read-only and delivery paths access it without
// coordination beyond the read lock.
type Bus struct {
	mu     sync.RWMutex
	agents map[string]*registration
	order  []string
	sealed bool

	recorder SpanRecorder
	metrics  Metrics
	logger   Logger
	cfg      *Config

	logMu      sync.Mutex
	messageLog []Message
}

// BusOption configures a Bus
type BusOption func(*Bus)

// WithBusLogger sets the bus logger
func WithBusLogger(logger Logger) BusOption {
	return func(b *Bus) { b.logger = logger }
}

// WithBusMetrics sets the bus metrics recorder
func WithBusMetrics(metrics Metrics) BusOption {
	return func(b *Bus) { b.metrics = metrics }
}

// NewBus creates a bus routing through the given recorder.
func NewBus(cfg *Config, recorder SpanRecorder, opts ...BusOption) *Bus {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if recorder == nil {
		recorder = &NoOpRecorder{}
	}
	b := &Bus{
		agents:   make(map[string]*registration),
		recorder: recorder,
		metrics:  &NoOpMetrics{},
		logger:   &NoOpLogger{},
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Register makes an agent addressable by name. Names are unique within
// a run; registration closes once the run starts.
func (b *Bus) Register(agent Agent) error {
	if agent == nil || agent.Name() == "" {
		return &BusError{Op: "bus.Register", Kind: "config", Err: ErrInvalidConfiguration, Message: "agent must have a name"}
	}
	if agent.Name() == Broadcast {
		return &BusError{Op: "bus.Register", Kind: "config", ID: agent.Name(), Err: ErrInvalidConfiguration, Message: "agent name collides with broadcast sentinel"}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sealed {
		return &BusError{Op: "bus.Register", Kind: "routing", ID: agent.Name(), Err: ErrBusSealed}
	}
	if _, exists := b.agents[agent.Name()]; exists {
		return &BusError{Op: "bus.Register", Kind: "routing", ID: agent.Name(), Err: ErrAlreadyRegistered}
	}

	b.agents[agent.Name()] = &registration{agent: agent, status: AgentIdle}
	b.order = append(b.order, agent.Name())

	b.logger.Info("Agent registered", map[string]interface{}{
		"agent": agent.Name(),
	})
	return nil
}

// Seal closes registration. Called by the orchestrator on the
// NotStarted -> Running transition.
func (b *Bus) Seal() {
	b.mu.Lock()
	b.sealed = true
	b.mu.Unlock()
}

// AgentNames returns the registered agent names in registration order.
func (b *Bus) AgentNames() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.order...)
}

// AgentStatus reports whether the named agent is currently processing.
func (b *Bus) AgentStatus(name string) (AgentStatus, bool) {
	b.mu.RLock()
	reg, ok := b.agents[name]
	b.mu.RUnlock()
	if !ok {
		return "", false
	}
	return reg.Status(), true
}

// MessageLog returns every message accepted during the run, in
// acceptance order. In-memory only; cleared with the bus.
func (b *Bus) MessageLog() []Message {
	b.logMu.Lock()
	defer b.logMu.Unlock()
	return append([]Message(nil), b.messageLog...)
}

// resolve maps the message's recipients to concrete agent names.
// Broadcast resolves to every registered agent except the sender, in a
// stable order so trace timelines stay reproducible across runs.
func (b *Bus) resolve(msg Message) []string {
	if !msg.IsBroadcast() {
		return append([]string(nil), msg.Recipients...)
	}

	names := b.AgentNames()
	if b.cfg.BroadcastOrder == OrderAlphabetical {
		sort.Strings(names)
	}
	resolved := names[:0]
	for _, name := range names {
		if name != msg.Sender {
			resolved = append(resolved, name)
		}
	}
	return resolved
}

func (b *Bus) lookup(name string) (*registration, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	reg, ok := b.agents[name]
	return reg, ok
}

// delivery carries the per-recipient outcome of one Dispatch call.
type delivery struct {
	followups []Message
	err       error
}

// Dispatch routes one message one hop: a delivery span and a processing
// span per resolved recipient, concurrent processing, deterministic
// span-open order. It returns the trace-stamped follow-up messages in
// recipient order and the first agent failure, if any.
//
// Unknown recipients fail their delivery span but are not returned as
// an error; they never halt the rest of the run.
func (b *Bus) Dispatch(ctx context.Context, msg Message) ([]Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	b.logMu.Lock()
	b.messageLog = append(b.messageLog, msg)
	b.logMu.Unlock()

	b.metrics.RecordMetric("agentbus.messages.routed", 1, map[string]string{
		"sender": msg.Sender,
	})

	recipients := b.resolve(msg)
	deliveries := make([]delivery, len(recipients))

	var wg sync.WaitGroup
	var abort atomic.Bool

	for i, name := range recipients {
		if abort.Load() {
			b.logger.Warn("Aborting remaining fan-out", map[string]interface{}{
				"message_id": msg.ID,
				"recipient":  name,
			})
			break
		}

		// Delivery spans open synchronously in recipient order, even
		// though processing runs concurrently.
		dspan := b.startDeliverySpan(msg, name, 1)

		reg, ok := b.lookup(name)
		if !ok {
			err := &BusError{Op: "bus.Dispatch", Kind: "routing", ID: name, Err: ErrUnknownRecipient}
			b.mustEndSpan(dspan, err)
			b.logger.Error("Unknown recipient", map[string]interface{}{
				"message_id": msg.ID,
				"recipient":  name,
			})
			b.metrics.RecordMetric("agentbus.deliveries", 1, map[string]string{
				"recipient": name,
				"status":    "unknown_recipient",
			})
			continue
		}

		wg.Add(1)
		go func(d *delivery, reg *registration, dspan SpanHandle) {
			defer wg.Done()
			b.deliver(ctx, d, reg, msg, dspan, &abort)
		}(&deliveries[i], reg, dspan)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// An unresponsive agent may still be running; its spans stay
		// open and are force-closed as incomplete at shutdown.
		return nil, &BusError{Op: "bus.Dispatch", Kind: "routing", ID: msg.ID,
			Err: ErrIncompleteRun, Message: ctx.Err().Error()}
	}

	var followups []Message
	var firstErr error
	for i := range deliveries {
		followups = append(followups, deliveries[i].followups...)
		if deliveries[i].err != nil && firstErr == nil {
			firstErr = deliveries[i].err
		}
	}
	return followups, firstErr
}

func (b *Bus) startDeliverySpan(msg Message, recipient string, attempt int) SpanHandle {
	attrs := map[string]interface{}{
		"message.id":            msg.ID,
		"message.sender":        msg.Sender,
		"message.recipient":     recipient,
		"message.payload_bytes": msg.PayloadSize(),
	}
	if attempt > 1 {
		attrs["delivery.attempt"] = attempt
	}
	return b.recorder.StartSpan(
		fmt.Sprintf("message: %s -> %s", msg.Sender, recipient),
		msg.Trace.ParentSpanID,
		attrs,
	)
}

// deliver runs the delivery attempts for one recipient. Every attempt
// produces exactly one delivery + processing span pair; the retry hook
// decides whether a failed attempt gets another one.
func (b *Bus) deliver(ctx context.Context, d *delivery, reg *registration, msg Message, dspan SpanHandle, abort *atomic.Bool) {
	name := reg.agent.Name()
	attempt := 1

	for {
		pspan := b.recorder.StartSpan(
			fmt.Sprintf("agent.%s.process", name),
			dspan.ID(),
			map[string]interface{}{
				"agent.name":       name,
				"input.message_id": msg.ID,
			},
		)

		followups, err := b.invoke(ctx, reg, msg, pspan)
		b.mustEndSpan(pspan, err)
		b.mustEndSpan(dspan, err)

		status := "ok"
		if err != nil {
			status = "error"
		}
		b.metrics.RecordMetric("agentbus.deliveries", 1, map[string]string{
			"recipient": name,
			"status":    status,
		})

		if err == nil {
			d.followups = followups
			return
		}

		b.logger.Error("Agent processing failed", map[string]interface{}{
			"message_id": msg.ID,
			"recipient":  name,
			"attempt":    attempt,
			"error":      err.Error(),
		})

		if b.cfg.Retry != nil && ctx.Err() == nil && b.cfg.Retry(attempt, err) {
			attempt++
			dspan = b.startDeliverySpan(msg, name, attempt)
			continue
		}

		d.err = err
		if b.cfg.OnAgentError == OnErrorAbort {
			abort.Store(true)
		}
		return
	}
}

// invoke runs the agent inside the processing span: reentry check,
// panic containment, span scope for agent sub-spans, output validation
// and trace-context stamping.
func (b *Bus) invoke(ctx context.Context, reg *registration, msg Message, pspan SpanHandle) (out []Message, err error) {
	name := reg.agent.Name()

	if b.cfg.SerializeAgents {
		if !reg.mu.TryLock() {
			return nil, &BusError{Op: "bus.invoke", Kind: "routing", ID: name, Err: ErrAgentBusy,
				Message: "concurrent reentry forbidden by run policy"}
		}
		defer reg.mu.Unlock()
	}

	reg.setStatus(AgentBusy)
	defer reg.setStatus(AgentIdle)

	defer func() {
		if r := recover(); r != nil {
			err = &BusError{Op: "bus.invoke", Kind: "agent", ID: name, Err: ErrAgentProcessing,
				Message: fmt.Sprintf("panic: %v", r)}
			out = nil
		}
	}()

	scope := SpanScope{Recorder: b.recorder, ParentID: pspan.ID()}
	followups, perr := reg.agent.Process(WithSpanScope(ctx, scope), msg)
	return b.finish(followups, perr, name, pspan)
}

// finish validates and stamps agent output.
func (b *Bus) finish(followups []Message, perr error, name string, pspan SpanHandle) ([]Message, error) {
	if perr != nil {
		b.metrics.RecordMetric("agentbus.agent.errors", 1, map[string]string{"agent": name})
		return nil, &BusError{Op: "bus.invoke", Kind: "agent", ID: name, Err: ErrAgentProcessing,
			Message: perr.Error()}
	}

	stamped := make([]Message, 0, len(followups))
	for _, f := range followups {
		if f.Sender != name {
			return nil, &BusError{Op: "bus.invoke", Kind: "agent", ID: name, Err: ErrMalformedMessage,
				Message: fmt.Sprintf("follow-up message %s claims sender %q", f.ID, f.Sender)}
		}
		if err := f.Validate(); err != nil {
			return nil, err
		}
		stamped = append(stamped, f.WithTraceContext(TraceContext{
			TraceID:      b.recorder.TraceID(),
			ParentSpanID: pspan.ID(),
		}))
	}

	pspan.SetAttribute("output.message_count", len(stamped))
	if len(stamped) == 1 {
		pspan.SetAttribute("output.message_id", stamped[0].ID)
	}
	return stamped, nil
}

// mustEndSpan closes a span; a DoubleClose here is a bus bug and
// propagates as a panic rather than being swallowed.
func (b *Bus) mustEndSpan(span SpanHandle, err error) {
	if cerr := b.recorder.EndSpan(span, err); cerr != nil {
		panic(cerr)
	}
}
