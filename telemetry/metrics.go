package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTelMetrics emits bus counters through the global OTel meter
// provider (implements core.Metrics). Counters are created lazily and
// cached; labels become attributes.
type OTelMetrics struct {
	meter    metric.Meter
	mu       sync.Mutex
	counters map[string]metric.Float64Counter
}

// NewOTelMetrics creates a metrics emitter bound to the global meter
// provider. If no provider is installed the global no-op applies.
func NewOTelMetrics() *OTelMetrics {
	return &OTelMetrics{
		meter:    otel.Meter(scopeName),
		counters: make(map[string]metric.Float64Counter),
	}
}

// RecordMetric increments the named counter.
func (m *OTelMetrics) RecordMetric(name string, value float64, labels map[string]string) {
	counter, err := m.counter(name)
	if err != nil {
		return
	}
	counter.Add(context.Background(), value, metric.WithAttributes(toAttributes(labels)...))
}

func (m *OTelMetrics) counter(name string) (metric.Float64Counter, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.counters[name]; ok {
		return c, nil
	}
	c, err := m.meter.Float64Counter(name)
	if err != nil {
		return nil, err
	}
	m.counters[name] = c
	return c, nil
}

func toAttributes(labels map[string]string) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(labels))
	for k, v := range labels {
		out = append(out, attribute.String(k, v))
	}
	return out
}
