// Package agentbus provides a lightweight meta-module that re-exports from submodules.
// This is the main entry point for the AgentBus execution core.
// Users should import specific modules based on their needs:
//   - github.com/traceline/agentbus/core - Message bus, agents and orchestration
//   - github.com/traceline/agentbus/telemetry - Span recording and export
package agentbus

import (
	"github.com/traceline/agentbus/core"
	"github.com/traceline/agentbus/telemetry"
)

// Re-export core types
type (
	// Agent types
	Agent     = core.Agent
	AgentFunc = core.AgentFunc
	BaseAgent = core.BaseAgent

	// Messaging types
	Message      = core.Message
	TraceContext = core.TraceContext
	Bus          = core.Bus

	// Orchestration types
	Orchestrator = core.Orchestrator
	RunResult    = core.RunResult
	RunState     = core.RunState
	Scheduler    = core.Scheduler

	// Configuration types
	Config          = core.Config
	Option          = core.Option
	TelemetryConfig = core.TelemetryConfig
	RegistryConfig  = core.RegistryConfig
	LoggingConfig   = core.LoggingConfig
	RetryPolicy     = core.RetryPolicy

	// Interfaces
	Logger        = core.Logger
	Metrics       = core.Metrics
	SpanRecorder  = core.SpanRecorder
	SpanHandle    = core.SpanHandle
	SpanScope     = core.SpanScope
	AgentRegistry = core.AgentRegistry
	AgentInfo     = core.AgentInfo

	// Telemetry types
	Recorder   = telemetry.Recorder
	Span       = telemetry.Span
	Sink       = telemetry.Sink
	MemorySink = telemetry.MemorySink
)

// Re-export constants
const (
	Broadcast = core.Broadcast

	StateNotStarted = core.StateNotStarted
	StateRunning    = core.StateRunning
	StateCompleted  = core.StateCompleted
	StateFailed     = core.StateFailed
	StateTimedOut   = core.StateTimedOut
)

// Re-export core functions
var (
	NewMessage          = core.NewMessage
	NewBroadcast        = core.NewBroadcast
	NewBus              = core.NewBus
	NewOrchestrator     = core.NewOrchestrator
	NewConfig           = core.NewConfig
	DefaultConfig       = core.DefaultConfig
	NewAgentFunc        = core.NewAgentFunc
	NewBaseAgent        = core.NewBaseAgent
	NewProductionLogger = core.NewProductionLogger
	NewRedisRegistry    = core.NewRedisRegistry

	// Configuration options
	WithName             = core.WithName
	WithBroadcastOrder   = core.WithBroadcastOrder
	WithTimeout          = core.WithTimeout
	WithMaxSteps         = core.WithMaxSteps
	WithOnAgentError     = core.WithOnAgentError
	WithSerializedAgents = core.WithSerializedAgents
	WithTelemetry        = core.WithTelemetry
	WithServiceName      = core.WithServiceName
	WithRedisRegistry    = core.WithRedisRegistry
	WithLogLevel         = core.WithLogLevel
	WithLogFormat        = core.WithLogFormat
	WithRetryPolicy      = core.WithRetryPolicy
	WithConfigFile       = core.WithConfigFile

	// Telemetry constructors
	NewRecorder   = telemetry.NewRecorder
	NewMemorySink = telemetry.NewMemorySink
	NewOTLPSink   = telemetry.NewOTLPSink
	NewStdoutSink = telemetry.NewStdoutSink
)
