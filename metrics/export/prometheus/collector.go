package prometheus

import (
	"github.com/MrEthical07/objperm"
	"github.com/MrEthical07/objperm/metrics/export/internaldefs"
	promclient "github.com/prometheus/client_golang/prometheus"
)

type metricsSource interface {
	MetricsSnapshot() objperm.MetricsSnapshot
	AuditDropped() uint64
}

type familyDesc struct {
	family internaldefs.Family
	desc   *promclient.Desc
}

// Collector exposes engine metrics to a client_golang registry. Values are
// read from the engine on every Collect; nothing is cached.
type Collector struct {
	source   metricsSource
	families []familyDesc
	latency  *promclient.Desc
	dropped  *promclient.Desc
	bounds   []float64
}

var _ promclient.Collector = (*Collector)(nil)

// NewCollector reads from engine. Register it with a
// [promclient.Registry] and serve that registry with promhttp.
func NewCollector(engine *objperm.Engine) *Collector {
	return NewCollectorFromSource(engine)
}

func NewCollectorFromSource(source metricsSource) *Collector {
	c := &Collector{
		source:  source,
		latency: promclient.NewDesc(internaldefs.CheckLatency.Name, internaldefs.CheckLatency.Help, nil, nil),
		dropped: promclient.NewDesc(internaldefs.AuditDroppedName, internaldefs.AuditDroppedHelp, nil, nil),
		bounds:  internaldefs.LatencyBounds,
	}
	for _, f := range internaldefs.Families {
		var labels []string
		if f.Label != "" {
			labels = []string{f.Label}
		}
		c.families = append(c.families, familyDesc{
			family: f,
			desc:   promclient.NewDesc(f.Name, f.Help, labels, nil),
		})
	}
	return c
}

func (c *Collector) Describe(ch chan<- *promclient.Desc) {
	for _, f := range c.families {
		ch <- f.desc
	}
	ch <- c.latency
	ch <- c.dropped
}

func (c *Collector) Collect(ch chan<- promclient.Metric) {
	if c.source == nil {
		return
	}
	snapshot := c.source.MetricsSnapshot()

	for _, f := range c.families {
		for _, s := range f.family.Series {
			value := float64(snapshot.Counters[s.ID])
			if f.family.Label == "" {
				ch <- promclient.MustNewConstMetric(f.desc, promclient.CounterValue, value)
				continue
			}
			ch <- promclient.MustNewConstMetric(f.desc, promclient.CounterValue, value, s.Value)
		}
	}

	// Latency is only present when histograms are enabled.
	if raw, ok := snapshot.Histograms[internaldefs.CheckLatency.ID]; ok {
		cumulative, count := internaldefs.Cumulative(raw)
		buckets := make(map[float64]uint64, len(c.bounds))
		for i, upper := range c.bounds {
			buckets[upper] = cumulative[i]
		}
		// Snapshots carry no sum.
		ch <- promclient.MustNewConstHistogram(c.latency, count, 0, buckets)
	}

	ch <- promclient.MustNewConstMetric(c.dropped, promclient.CounterValue, float64(c.source.AuditDropped()))
}
