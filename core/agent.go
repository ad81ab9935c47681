package core

import (
	"context"
	"sync"
)

// Agent is the core interface that all agents must implement. Process
// consumes a message and returns zero or more follow-up messages:
// none for a terminal step, several for a fan-out. Failures are
// reported through the error return, never by returning a malformed
// message.
//
// Implementations must not mutate the message they receive, and must
// treat any private state as exclusively owned; agents share nothing
// except through messages routed by the bus.
type Agent interface {
	Name() string
	Process(ctx context.Context, msg Message) ([]Message, error)
}

// AgentStatus tracks whether an agent is currently handling a message.
type AgentStatus string

const (
	AgentIdle AgentStatus = "idle"
	AgentBusy AgentStatus = "busy"
)

// AgentFunc adapts a plain function into an Agent.
type AgentFunc struct {
	name string
	fn   func(ctx context.Context, msg Message) ([]Message, error)
}

// NewAgentFunc creates an agent backed by fn.
func NewAgentFunc(name string, fn func(ctx context.Context, msg Message) ([]Message, error)) *AgentFunc {
	return &AgentFunc{name: name, fn: fn}
}

func (a *AgentFunc) Name() string { return a.name }

func (a *AgentFunc) Process(ctx context.Context, msg Message) ([]Message, error) {
	return a.fn(ctx, msg)
}

// BaseAgent provides the common plumbing for agent implementations:
// a name, a logger and a private state map that survives across
// invocations. Embed it and implement Process.
type BaseAgent struct {
	name   string
	Logger Logger

	mu    sync.Mutex
	state map[string]interface{}
}

// NewBaseAgent creates a base agent with the given name.
func NewBaseAgent(name string) *BaseAgent {
	return &BaseAgent{
		name:   name,
		Logger: &NoOpLogger{},
		state:  make(map[string]interface{}),
	}
}

// Name returns the agent name.
func (b *BaseAgent) Name() string { return b.name }

// SetState stores a value in the agent's private state.
func (b *BaseAgent) SetState(key string, value interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state[key] = value
}

// State retrieves a value from the agent's private state.
func (b *BaseAgent) State(key string) (interface{}, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.state[key]
	return v, ok
}

// Reply creates a follow-up message from this agent to the given
// recipients. The bus stamps the trace context when the message is
// returned from Process.
func (b *BaseAgent) Reply(recipients []string, payload interface{}) Message {
	return NewMessage(b.name, recipients, payload)
}

// registration is the per-agent record held by the bus: the agent, its
// idle/busy status and a serialization lock used when the run policy
// forbids concurrent reentry.
type registration struct {
	agent Agent

	mu     sync.Mutex // held for the whole Process call when serializing
	status AgentStatus
	stmu   sync.Mutex // guards status
}

func (r *registration) setStatus(s AgentStatus) {
	r.stmu.Lock()
	r.status = s
	r.stmu.Unlock()
}

func (r *registration) Status() AgentStatus {
	r.stmu.Lock()
	defer r.stmu.Unlock()
	return r.status
}
