// Package prompush pushes copy metrics to a Prometheus Pushgateway.
//
// A copy run is a short-lived batch job, so metrics are gathered into a
// private registry and pushed on Flush instead of being scraped.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"github.com/faizalrf/scylla-copy/internal/metrics"
)

// Backend is a Pushgateway implementation of metrics.Backend.
type Backend struct {
	gatewayURL string
	jobName    string // Pushgateway grouping key
	reg        *prometheus.Registry

	stepCounter   *prometheus.CounterVec   // step, status
	stepDuration  *prometheus.SummaryVec   // step, status
	rowCounter    *prometheus.CounterVec   // kind
	batchCounter  *prometheus.CounterVec   // status
	batchDuration *prometheus.HistogramVec // status
}

var _ metrics.Backend = (*Backend)(nil)

// NewBackend registers the copy collectors on a fresh registry.
// An empty jobName defaults to "scylla-copy".
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "scylla-copy"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Copy run phases executed, by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StepDuration,
			Help:       "Duration of copy run phases in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"step", "status"}),
		rowCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows by kind (read, copied, failed).",
		}, []string{"kind"}),
		batchCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Batch inserts finished, by status.",
		}, []string{"status"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.BatchDuration,
			Help:    "Wall time of one batch insert in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"status"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"step counter":   b.stepCounter,
		"step summary":   b.stepDuration,
		"row counter":    b.rowCounter,
		"batch counter":  b.batchCounter,
		"batch duration": b.batchDuration,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		if b.stepCounter != nil {
			b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)
		}
	case metrics.RowsTotal:
		if b.rowCounter != nil {
			b.rowCounter.WithLabelValues(labels["kind"]).Add(delta)
		}
	case metrics.BatchesTotal:
		if b.batchCounter != nil {
			b.batchCounter.WithLabelValues(labels["status"]).Add(delta)
		}
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	switch name {
	case metrics.StepDuration:
		if b.stepDuration != nil {
			b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
		}
	case metrics.BatchDuration:
		if b.batchDuration != nil {
			b.batchDuration.WithLabelValues(labels["status"]).Observe(value)
		}
	}
}

// Flush pushes the registry to the Pushgateway, replacing the job's group.
func (b *Backend) Flush() error {
	return push.New(b.gatewayURL, b.jobName).
		Gatherer(b.reg).
		Push()
}
