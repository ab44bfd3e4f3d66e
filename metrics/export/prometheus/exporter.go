package prometheus

import (
	"errors"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codicle/authcore"
	"github.com/codicle/authcore/metrics/export/internaldefs"
)

// ErrNilSource is returned when the exporter has nothing to read from.
var ErrNilSource = errors.New("nil metrics source")

type metricsSource interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

// Exporter is a prometheus.Collector over the Engine counters. Every
// Collect reads one snapshot; nothing is cached between scrapes.
type Exporter struct {
	source     metricsSource
	counters   []*promclient.Desc
	histograms []*promclient.Desc
	dropped    *promclient.Desc
}

// NewExporter returns a collector reading from engine.
func NewExporter(engine *authcore.Engine) (*Exporter, error) {
	if engine == nil {
		return nil, ErrNilSource
	}
	return NewExporterFromSource(engine)
}

// NewExporterFromSource returns a collector reading from source.
func NewExporterFromSource(source metricsSource) (*Exporter, error) {
	if source == nil {
		return nil, ErrNilSource
	}
	e := &Exporter{
		source:     source,
		counters:   make([]*promclient.Desc, len(internaldefs.CounterDefs)),
		histograms: make([]*promclient.Desc, len(internaldefs.HistogramDefs)),
		dropped: promclient.NewDesc(internaldefs.AuditDroppedName,
			"Audit events dropped because the dispatcher queue was full.", nil, nil),
	}
	for i, def := range internaldefs.CounterDefs {
		e.counters[i] = promclient.NewDesc(def.Name, def.Help, nil, nil)
	}
	for i, def := range internaldefs.HistogramDefs {
		e.histograms[i] = promclient.NewDesc(def.Name, def.Help, nil, nil)
	}
	return e, nil
}

// Describe implements prometheus.Collector.
func (e *Exporter) Describe(ch chan<- *promclient.Desc) {
	for _, d := range e.counters {
		ch <- d
	}
	for _, d := range e.histograms {
		ch <- d
	}
	ch <- e.dropped
}

// Collect implements prometheus.Collector.
func (e *Exporter) Collect(ch chan<- promclient.Metric) {
	snapshot := e.source.MetricsSnapshot()

	for i, def := range internaldefs.CounterDefs {
		ch <- promclient.MustNewConstMetric(e.counters[i], promclient.CounterValue, float64(snapshot.Counters[def.ID]))
	}

	for i, def := range internaldefs.HistogramDefs {
		raw, ok := snapshot.Histograms[def.ID]
		if !ok {
			continue
		}
		cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
		buckets := make(map[float64]uint64, len(internaldefs.HistogramBounds))
		for b, bound := range internaldefs.HistogramBounds {
			buckets[bound] = cumulative[b]
		}
		count := cumulative[internaldefs.BucketCount-1]
		sum := snapshot.HistogramSums[def.ID].Seconds()
		ch <- promclient.MustNewConstHistogram(e.histograms[i], count, sum, buckets)
	}

	ch <- promclient.MustNewConstMetric(e.dropped, promclient.CounterValue, float64(e.source.AuditDropped()))
}

// Handler serves the exporter on a private registry, leaving the global
// default registry untouched.
func (e *Exporter) Handler() http.Handler {
	reg := promclient.NewRegistry()
	reg.MustRegister(e)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
