// Command agentbus runs the reference trip-planning flow and exports
// its trace. Exit codes: 0 for a completed run, 1 for a failed run,
// 2 for a timed-out run.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/traceline/agentbus/core"
	"github.com/traceline/agentbus/internal/travel"
	"github.com/traceline/agentbus/telemetry"
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  = flag.String("config", "", "path to a YAML or JSON config file")
		otlp        = flag.String("otlp", "", "OTLP/gRPC endpoint to export spans to")
		traceStdout = flag.Bool("trace-stdout", false, "print exported spans to stdout")
		destination = flag.String("destination", "Tokyo", "destination to plan a trip for")
		days        = flag.Int("days", 3, "trip length in days")
		failures    = flag.Int("failures", 0, "number of schedule-expert failures to inject")
		retries     = flag.Int("retries", 0, "delivery retry attempts after a failure")
		timeout     = flag.Duration("timeout", 0, "run timeout (overrides config)")
		maxSteps    = flag.Int("max-steps", 0, "delivery step budget (overrides config)")
		onError     = flag.String("on-error", "", "agent-error policy: abort or skip_recipient")
		placeDelay  = flag.Duration("place-delay", 10*time.Millisecond, "simulated place-database latency")
		logLevel    = flag.String("log-level", "info", "log level: debug, info, warn, error")
		logFormat   = flag.String("log-format", "text", "log format: text or json")
	)
	flag.Parse()

	opts := []core.Option{
		core.WithName("travel-planning"),
		core.WithLogLevel(*logLevel),
		core.WithLogFormat(*logFormat),
	}
	if *configPath != "" {
		opts = append(opts, core.WithConfigFile(*configPath))
	}
	if *otlp != "" {
		opts = append(opts, core.WithTelemetry(true, *otlp))
	}
	if *timeout > 0 {
		opts = append(opts, core.WithTimeout(*timeout))
	}
	if *maxSteps > 0 {
		opts = append(opts, core.WithMaxSteps(*maxSteps))
	}
	if *onError != "" {
		opts = append(opts, core.WithOnAgentError(*onError))
	}
	if *retries > 0 {
		budget := *retries
		opts = append(opts, core.WithRetryPolicy(func(attempt int, err error) bool {
			return attempt <= budget
		}))
	}

	cfg, err := core.NewConfig(opts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentbus: invalid configuration: %v\n", err)
		return 1
	}

	logger := core.NewProductionLogger(cfg.Logging.Level, cfg.Logging.Format)

	sink, cleanup, err := buildSink(cfg, *traceStdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentbus: %v\n", err)
		return 1
	}
	defer cleanup()

	recorder, err := telemetry.NewRecorder(sink, telemetry.WithRecorderLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentbus: %v\n", err)
		return 1
	}

	bus := core.NewBus(cfg, recorder,
		core.WithBusLogger(logger),
		core.WithBusMetrics(telemetry.NewOTelMetrics()),
	)
	coordinator, err := travel.Setup(bus, logger,
		travel.WithPlaceDelay(*placeDelay),
		travel.WithScheduleFailures(*failures),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentbus: %v\n", err)
		return 1
	}

	orchOpts := []core.OrchestratorOption{core.WithOrchestratorLogger(logger)}
	if cfg.Registry.Enabled {
		registry, err := core.NewRedisRegistry(cfg.Registry.RedisURL, cfg.Registry.Namespace, cfg.Registry.TTL)
		if err != nil {
			fmt.Fprintf(os.Stderr, "agentbus: registry unavailable: %v\n", err)
			return 1
		}
		defer registry.Close()
		registry.SetLogger(logger)
		orchOpts = append(orchOpts, core.WithAgentRegistry(registry))
	}

	orch := core.NewOrchestrator(cfg, bus, recorder, orchOpts...)

	seed := core.NewMessage("user", []string{travel.CoordinatorName}, travel.PlanRequest{
		Destination: *destination,
		Days:        *days,
	})

	result, runErr := orch.Run(context.Background(), seed)
	if result == nil {
		fmt.Fprintf(os.Stderr, "agentbus: %v\n", runErr)
		return 1
	}

	fmt.Printf("run %s: state=%s steps=%d elapsed=%s messages=%d\n",
		result.TraceID, result.State, result.Steps, result.Elapsed.Round(time.Millisecond), len(result.Messages))

	if plan, ok := coordinator.Plan(); ok {
		data, _ := json.MarshalIndent(plan, "", "  ")
		fmt.Println(string(data))
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "agentbus: %v\n", runErr)
	}

	switch result.State {
	case core.StateCompleted:
		return 0
	case core.StateTimedOut:
		return 2
	default:
		return 1
	}
}

// buildSink picks the span destination: OTLP when telemetry is enabled,
// stdout lines when requested, an in-memory sink otherwise.
func buildSink(cfg *core.Config, traceStdout bool) (telemetry.Sink, func(), error) {
	if cfg.Telemetry.Enabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sink, err := telemetry.NewOTLPSink(ctx, cfg.Telemetry.Endpoint, cfg.Telemetry.ServiceName, cfg.Telemetry.Insecure)
		if err != nil {
			return nil, nil, fmt.Errorf("OTLP sink: %w", err)
		}
		return sink, func() {
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutCancel()
			_ = sink.Shutdown(shutCtx)
		}, nil
	}

	if traceStdout {
		sink, err := telemetry.NewStdoutSink(os.Stdout, cfg.Telemetry.ServiceName, false)
		if err != nil {
			return nil, nil, fmt.Errorf("stdout sink: %w", err)
		}
		return sink, func() {
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutCancel()
			_ = sink.Shutdown(shutCtx)
		}, nil
	}

	return telemetry.NewMemorySink(), func() {}, nil
}
