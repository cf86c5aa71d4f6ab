package otel

import (
	"context"
	"sync"
	"testing"

	"github.com/MrEthical07/objperm"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

type fakeSource struct {
	mu       sync.RWMutex
	snapshot objperm.MetricsSnapshot
	dropped  uint64
}

func (f *fakeSource) MetricsSnapshot() objperm.MetricsSnapshot {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := objperm.MetricsSnapshot{
		Counters:   make(map[objperm.MetricID]uint64, len(f.snapshot.Counters)),
		Histograms: make(map[objperm.MetricID][]uint64, len(f.snapshot.Histograms)),
	}
	for k, v := range f.snapshot.Counters {
		out.Counters[k] = v
	}
	for k, buckets := range f.snapshot.Histograms {
		next := make([]uint64, len(buckets))
		copy(next, buckets)
		out.Histograms[k] = next
	}
	return out
}

func (f *fakeSource) AuditDropped() uint64 {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.dropped
}

func TestExporterRegistersAndCollects(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("objperm-test")

	src := &fakeSource{
		snapshot: objperm.MetricsSnapshot{
			Counters: map[objperm.MetricID]uint64{
				objperm.MetricGrant: 3,
			},
			Histograms: map[objperm.MetricID][]uint64{
				objperm.MetricCheckLatency: {1, 1, 1, 1, 1, 1, 1, 1},
			},
		},
		dropped: 1,
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if len(rm.ScopeMetrics) == 0 {
		t.Fatal("expected collected metrics, got none")
	}

	if got := sumValue(t, rm, "objperm_mutations_total", attribute.String("op", "grant")); got != 3 {
		t.Fatalf("expected 3 grants, got %d", got)
	}
	if got := sumValue(t, rm, "objperm_checks_total", attribute.String("result", "denied")); got != 2 {
		t.Fatalf("expected 2 denied checks, got %d", got)
	}
	if got := sumValue(t, rm, "objperm_notifications_total"); got != 6 {
		t.Fatalf("expected 6 notifications, got %d", got)
	}
	if got := gaugeValue(t, rm, "objperm_check_latency_seconds_bucket", attribute.String("le", "0.1")); got != 7 {
		t.Fatalf("expected le=0.1 bucket 7, got %d", got)
	}
	if got := gaugeValue(t, rm, "objperm_check_latency_seconds_count"); got != 8 {
		t.Fatalf("expected 8 samples, got %d", got)
	}
	if got := sumValue(t, rm, "objperm_audit_dropped_total"); got != 1 {
		t.Fatalf("expected audit dropped 1, got %d", got)
	}
}

func findMetric(t *testing.T, rm metricdata.ResourceMetrics, name string) metricdata.Metrics {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m
			}
		}
	}
	t.Fatalf("metric %s not collected", name)
	return metricdata.Metrics{}
}

// sumValue returns the point of the int64 sum name whose attribute set is
// exactly attrs.
func sumValue(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	sum, ok := findMetric(t, rm, name).Data.(metricdata.Sum[int64])
	if !ok {
		t.Fatalf("metric %s is not an int64 sum", name)
	}
	return pointValue(t, name, sum.DataPoints, attrs)
}

func gaugeValue(t *testing.T, rm metricdata.ResourceMetrics, name string, attrs ...attribute.KeyValue) int64 {
	t.Helper()
	gauge, ok := findMetric(t, rm, name).Data.(metricdata.Gauge[int64])
	if !ok {
		t.Fatalf("metric %s is not an int64 gauge", name)
	}
	return pointValue(t, name, gauge.DataPoints, attrs)
}

func pointValue(t *testing.T, name string, points []metricdata.DataPoint[int64], attrs []attribute.KeyValue) int64 {
	t.Helper()
	want := attribute.NewSet(attrs...)
	for _, p := range points {
		if p.Attributes.Equals(&want) {
			return p.Value
		}
	}
	t.Fatalf("metric %s has no point with attributes %v", name, attrs)
	return 0
}

func TestExporterReadsEngine(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	engine, err := objperm.New().WithTypes("flatpage", "view").Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	exp, err := NewOTelExporter(provider.Meter("objperm-test"), engine)
	if err != nil {
		t.Fatalf("NewOTelExporter failed: %v", err)
	}
	defer exp.Close()

	page := objperm.Ref{Type: "flatpage", ID: "1"}
	_, _ = engine.Grant(context.Background(), objperm.Group("g1"), page, "view")
	_, _ = engine.Revoke(context.Background(), objperm.Group("g1"), page, "view")

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect failed: %v", err)
	}
	if got := sumValue(t, rm, "objperm_mutations_total", attribute.String("op", "revoke")); got != 1 {
		t.Fatalf("expected 1 revoke, got %d", got)
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if g, ok := m.Data.(metricdata.Gauge[int64]); ok && m.Name == "objperm_check_latency_seconds_bucket" && len(g.DataPoints) > 0 {
				t.Fatal("latency buckets observed with histograms disabled")
			}
		}
	}
}

func TestExporterRejectsNilSource(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("objperm-test")

	if _, err := NewOTelExporterFromSource(meter, nil); err == nil {
		t.Fatal("expected error for nil source")
	}
}

func TestExporterConcurrentCollectNoPanic(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	meter := provider.Meter("objperm-test")

	src := &fakeSource{
		snapshot: objperm.MetricsSnapshot{
			Counters: map[objperm.MetricID]uint64{
				objperm.MetricGrant: 1,
			},
			Histograms: map[objperm.MetricID][]uint64{
				objperm.MetricCheckLatency: {1, 0, 0, 0, 0, 0, 0, 0},
			},
		},
	}

	exp, err := NewOTelExporterFromSource(meter, src)
	if err != nil {
		t.Fatalf("NewOTelExporterFromSource failed: %v", err)
	}
	defer func() {
		if err := exp.Close(); err != nil {
			t.Fatalf("Close failed: %v", err)
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(v uint64) {
			defer wg.Done()
			src.mu.Lock()
			src.snapshot.Counters[objperm.MetricGrant] = v
			src.mu.Unlock()

			var rm metricdata.ResourceMetrics
			_ = reader.Collect(context.Background(), &rm)
		}(uint64(i + 1))
	}
	wg.Wait()
}
