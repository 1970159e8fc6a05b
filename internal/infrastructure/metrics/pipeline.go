// Package metrics exposes the import pipeline's Prometheus collectors.
//
// A nil *Pipeline is valid and records nothing, so components can be built
// without metrics in tests.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "match_import"

// Batch outcomes.
const (
	OutcomeCommitted = "committed"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
)

type Pipeline struct {
	reg *prometheus.Registry

	batches       *prometheus.CounterVec   // match_import_batches_total{outcome}
	rows          *prometheus.CounterVec   // match_import_rows_total{kind}
	batchDuration *prometheus.HistogramVec // match_import_batch_duration_seconds{outcome}
	retries       prometheus.Counter
	inFlight      prometheus.Gauge
	jobs          *prometheus.CounterVec // match_import_jobs_total{status}
}

// New registers the pipeline collectors on a dedicated registry together with
// the Go runtime and process collectors.
func New() (*Pipeline, error) {
	reg := prometheus.NewRegistry()

	p := &Pipeline{
		reg: reg,
		batches: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Bulk write batches by outcome.",
			},
			[]string{"outcome"},
		),
		rows: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rows_total",
				Help:      "Rows by kind (written, failed, skipped).",
			},
			[]string{"kind"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Wall time of a bulk write including retries.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"outcome"},
		),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_retries_total",
			Help:      "Bulk write attempts after the first.",
		}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "batches_in_flight",
			Help:      "Batches dispatched to writers and not yet finished.",
		}),
		jobs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "jobs_total",
				Help:      "Finished import jobs by terminal status.",
			},
			[]string{"status"},
		),
	}

	for _, c := range []prometheus.Collector{
		p.batches, p.rows, p.batchDuration, p.retries, p.inFlight, p.jobs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("metrics: register collector: %w", err)
		}
	}
	return p, nil
}

// Registry is exposed for tests and for callers adding their own collectors.
func (p *Pipeline) Registry() *prometheus.Registry {
	if p == nil {
		return nil
	}
	return p.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (p *Pipeline) Handler() http.Handler {
	if p == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.reg, promhttp.HandlerOpts{Registry: p.reg})
}

// ObserveBatch records one finished bulk write.
func (p *Pipeline) ObserveBatch(outcome string, rows int, d time.Duration) {
	if p == nil {
		return
	}
	p.batches.WithLabelValues(outcome).Inc()
	p.batchDuration.WithLabelValues(outcome).Observe(d.Seconds())
	switch outcome {
	case OutcomeCommitted:
		p.rows.WithLabelValues("written").Add(float64(rows))
	case OutcomeFailed:
		p.rows.WithLabelValues("failed").Add(float64(rows))
	}
}

func (p *Pipeline) IncRetry() {
	if p == nil {
		return
	}
	p.retries.Inc()
}

func (p *Pipeline) AddSkipped(rows int64) {
	if p == nil || rows <= 0 {
		return
	}
	p.rows.WithLabelValues("skipped").Add(float64(rows))
}

// InFlight adjusts the in-flight batch gauge by delta.
func (p *Pipeline) InFlight(delta int) {
	if p == nil {
		return
	}
	p.inFlight.Add(float64(delta))
}

func (p *Pipeline) JobFinished(status string) {
	if p == nil {
		return
	}
	p.jobs.WithLabelValues(status).Inc()
}
