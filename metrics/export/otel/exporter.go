package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/MrEthical07/objperm"
	"github.com/MrEthical07/objperm/metrics/export/internaldefs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	// ErrNilMeter is returned when no meter is supplied.
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

type metricsSource interface {
	MetricsSnapshot() objperm.MetricsSnapshot
	AuditDropped() uint64
}

// series pairs an engine counter with the attribute set it is observed
// under.
type series struct {
	id    objperm.MetricID
	attrs metric.MeasurementOption
}

type observedFamily struct {
	instrument metric.Int64ObservableCounter
	series     []series
}

// OTelExporter publishes engine counters through asynchronous OTel
// instruments, one counter per family with the family label as an
// attribute. Latency buckets are a single cumulative gauge keyed by le.
type OTelExporter struct {
	source       metricsSource
	registration metric.Registration
	families     []observedFamily
	buckets      metric.Int64ObservableGauge
	bucketAttrs  []metric.MeasurementOption
	count        metric.Int64ObservableGauge
	auditDropped metric.Int64ObservableCounter
}

// NewOTelExporter registers instruments on meter that read engine on every
// collection.
func NewOTelExporter(meter metric.Meter, engine *objperm.Engine) (*OTelExporter, error) {
	return NewOTelExporterFromSource(meter, engine)
}

func NewOTelExporterFromSource(meter metric.Meter, source metricsSource) (*OTelExporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &OTelExporter{source: source}
	observables := make([]metric.Observable, 0, len(internaldefs.Families)+3)

	for _, f := range internaldefs.Families {
		ins, err := meter.Int64ObservableCounter(f.Name, metric.WithDescription(f.Help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", f.Name, err)
		}
		of := observedFamily{instrument: ins}
		for _, s := range f.Series {
			var attrs metric.MeasurementOption
			if f.Label != "" {
				attrs = metric.WithAttributes(attribute.String(f.Label, s.Value))
			}
			of.series = append(of.series, series{id: s.ID, attrs: attrs})
		}
		e.families = append(e.families, of)
		observables = append(observables, ins)
	}

	bucketName := internaldefs.CheckLatency.Name + "_bucket"
	buckets, err := meter.Int64ObservableGauge(bucketName,
		metric.WithDescription("Cumulative check latency bucket count by upper bound."))
	if err != nil {
		return nil, fmt.Errorf("create histogram bucket gauge %s: %w", bucketName, err)
	}
	e.buckets = buckets
	for _, upper := range internaldefs.LatencyBounds {
		e.bucketAttrs = append(e.bucketAttrs, metric.WithAttributes(attribute.String("le", internaldefs.FormatBound(upper))))
	}

	countName := internaldefs.CheckLatency.Name + "_count"
	count, err := meter.Int64ObservableGauge(countName, metric.WithDescription("Check latency sample count."))
	if err != nil {
		return nil, fmt.Errorf("create histogram count gauge %s: %w", countName, err)
	}
	e.count = count

	auditDropped, err := meter.Int64ObservableCounter(internaldefs.AuditDroppedName,
		metric.WithDescription(internaldefs.AuditDroppedHelp))
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	e.auditDropped = auditDropped
	observables = append(observables, buckets, count, auditDropped)

	registration, err := meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	e.registration = registration
	return e, nil
}

func (e *OTelExporter) observe(_ context.Context, observer metric.Observer) error {
	snapshot := e.source.MetricsSnapshot()
	for _, f := range e.families {
		for _, s := range f.series {
			value := int64(snapshot.Counters[s.id])
			if s.attrs == nil {
				observer.ObserveInt64(f.instrument, value)
				continue
			}
			observer.ObserveInt64(f.instrument, value, s.attrs)
		}
	}
	if raw, ok := snapshot.Histograms[internaldefs.CheckLatency.ID]; ok {
		cumulative, count := internaldefs.Cumulative(raw)
		for i, v := range cumulative {
			observer.ObserveInt64(e.buckets, int64(v), e.bucketAttrs[i])
		}
		observer.ObserveInt64(e.count, int64(count))
	}
	observer.ObserveInt64(e.auditDropped, int64(e.source.AuditDropped()))
	return nil
}

// Close unregisters the collection callback.
func (e *OTelExporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
