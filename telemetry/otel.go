package telemetry

import (
	"context"
	"fmt"
	"io"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/instrumentation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	"go.opentelemetry.io/otel/trace"
)

const scopeName = "github.com/traceline/agentbus"

// ExporterSink bridges recorder spans to an OpenTelemetry SDK span
// exporter (implements Sink). Any OTLP-compatible backend such as
// Jaeger or an OTel collector can ingest the result; the stdout
// exporter serves the line-format CLI output.
type ExporterSink struct {
	exporter sdktrace.SpanExporter
	resource *resource.Resource
	scope    instrumentation.Scope
}

// NewOTLPSink creates a sink pushing spans to an OTLP/gRPC endpoint.
func NewOTLPSink(ctx context.Context, endpoint, serviceName string, insecure bool) (*ExporterSink, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(endpoint),
	}
	if insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	exporter, err := otlptracegrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	return NewExporterSink(exporter, serviceName)
}

// NewStdoutSink creates a sink writing spans as lines to w.
func NewStdoutSink(w io.Writer, serviceName string, pretty bool) (*ExporterSink, error) {
	opts := []stdouttrace.Option{stdouttrace.WithWriter(w)}
	if pretty {
		opts = append(opts, stdouttrace.WithPrettyPrint())
	}

	exporter, err := stdouttrace.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
	}
	return NewExporterSink(exporter, serviceName)
}

// NewExporterSink wraps an arbitrary SDK span exporter.
func NewExporterSink(exporter sdktrace.SpanExporter, serviceName string) (*ExporterSink, error) {
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	return &ExporterSink{
		exporter: exporter,
		resource: res,
		scope:    instrumentation.Scope{Name: scopeName},
	}, nil
}

// Export converts the batch to SDK span snapshots and pushes them
// through the exporter.
func (s *ExporterSink) Export(ctx context.Context, spans []*Span) error {
	stubs := make(tracetest.SpanStubs, 0, len(spans))
	for _, span := range spans {
		stub, err := s.convert(span)
		if err != nil {
			return err
		}
		stubs = append(stubs, stub)
	}
	return s.exporter.ExportSpans(ctx, stubs.Snapshots())
}

// Shutdown releases the underlying exporter.
func (s *ExporterSink) Shutdown(ctx context.Context) error {
	return s.exporter.Shutdown(ctx)
}

func (s *ExporterSink) convert(span *Span) (tracetest.SpanStub, error) {
	traceID, err := trace.TraceIDFromHex(span.TraceID)
	if err != nil {
		return tracetest.SpanStub{}, fmt.Errorf("invalid trace id %q: %w", span.TraceID, err)
	}
	spanID, err := trace.SpanIDFromHex(span.SpanID)
	if err != nil {
		return tracetest.SpanStub{}, fmt.Errorf("invalid span id %q: %w", span.SpanID, err)
	}

	stub := tracetest.SpanStub{
		Name: span.Name,
		SpanContext: trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     spanID,
			TraceFlags: trace.FlagsSampled,
		}),
		SpanKind:             trace.SpanKindInternal,
		StartTime:            span.StartTime,
		EndTime:              span.EndTime,
		Attributes:           convertAttributes(span.Attributes()),
		Status:               convertStatus(span),
		Resource:             s.resource,
		InstrumentationScope: s.scope,
	}

	if span.ParentSpanID != "" {
		parentID, err := trace.SpanIDFromHex(span.ParentSpanID)
		if err != nil {
			return tracetest.SpanStub{}, fmt.Errorf("invalid parent span id %q: %w", span.ParentSpanID, err)
		}
		stub.Parent = trace.NewSpanContext(trace.SpanContextConfig{
			TraceID:    traceID,
			SpanID:     parentID,
			TraceFlags: trace.FlagsSampled,
		})
	}

	return stub, nil
}

func convertStatus(span *Span) sdktrace.Status {
	switch span.Status {
	case StatusOK:
		return sdktrace.Status{Code: codes.Ok}
	case StatusError:
		return sdktrace.Status{Code: codes.Error, Description: span.StatusMsg}
	default:
		return sdktrace.Status{Code: codes.Unset}
	}
}

func convertAttributes(attrs map[string]interface{}) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for k, v := range attrs {
		switch val := v.(type) {
		case string:
			out = append(out, attribute.String(k, val))
		case int:
			out = append(out, attribute.Int(k, val))
		case int64:
			out = append(out, attribute.Int64(k, val))
		case float64:
			out = append(out, attribute.Float64(k, val))
		case bool:
			out = append(out, attribute.Bool(k, val))
		default:
			out = append(out, attribute.String(k, fmt.Sprintf("%v", val)))
		}
	}
	return out
}
