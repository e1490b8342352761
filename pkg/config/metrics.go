package config

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments (SPEC_FULL §11): edges found,
// total executions, corpus size, solutions found, cmplog records, dropped
// cmplog overflow. cmd/simfuzz-host creates them whenever MetricsAddr is
// set; CoverageReporting is not consulted.
type Metrics struct {
	EdgesFound       prometheus.Gauge
	Executions       prometheus.Counter
	CorpusSize       prometheus.Gauge
	SolutionsFound   prometheus.Counter
	CmplogRecords    prometheus.Counter
	CmplogDropped    prometheus.Counter
}

// NewMetrics registers the instruments against reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EdgesFound: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "simfuzz", Name: "edges_found", Help: "Distinct covered edges observed so far.",
		}),
		Executions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "simfuzz", Name: "executions_total", Help: "Total testcase executions.",
		}),
		CorpusSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "simfuzz", Name: "corpus_size", Help: "Current number of corpus entries.",
		}),
		SolutionsFound: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "simfuzz", Name: "solutions_total", Help: "Total solutions recorded.",
		}),
		CmplogRecords: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "simfuzz", Name: "cmplog_records_total", Help: "Total cmplog records captured.",
		}),
		CmplogDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "simfuzz", Name: "cmplog_dropped_total", Help: "Total cmplog records dropped due to overflow.",
		}),
	}
}
