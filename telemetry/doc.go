// Package telemetry records and exports spans for agent runs.
//
// A Recorder owns the spans of one run: the bus and agents open and
// close spans through it, and completed spans are pushed to a Sink.
// MemorySink keeps spans locally for inspection and tests;
// ExporterSink forwards them through an OpenTelemetry SDK exporter
// (OTLP/gRPC or stdout) so standard tracing backends can render the
// run's span tree.
package telemetry
