// Package metrics records copy-run metrics through a pluggable Backend.
//
// The package-level backend defaults to a no-op, so instrumented code can
// call RecordStep, RecordRows and RecordBatch unconditionally. Concrete
// backends live in subpackages (prompush, datadog) and are installed once
// at startup with SetBackend. Backends must be safe for concurrent use:
// batch workers record from many goroutines.
package metrics

import (
	"sync"
	"time"
)

// Metric names shared by every backend.
const (
	StepTotal     = "scylla_copy_step_total"
	StepDuration  = "scylla_copy_step_duration_seconds"
	RowsTotal     = "scylla_copy_rows_total"
	BatchesTotal  = "scylla_copy_batches_total"
	BatchDuration = "scylla_copy_batch_duration_seconds"

	statusSuccess = "success"
	statusFailure = "failure"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal surface a metrics system has to provide.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes buffered metrics, for backends that need it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. A nil b keeps the current backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the installed backend.
func Flush() error {
	return current().Flush()
}

func status(err error) string {
	if err != nil {
		return statusFailure
	}
	return statusSuccess
}

// RecordStep counts one run phase (schema, copy, drain) and its duration.
func RecordStep(job, step string, err error, d time.Duration) {
	lbls := Labels{"job": job, "step": step, "status": status(err)}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRows adds delta rows of the given kind ("read", "copied", "failed").
func RecordRows(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(delta), Labels{"job": job, "kind": kind})
}

// RecordBatch counts one finished batch insert and how long it took.
func RecordBatch(job string, err error, d time.Duration) {
	lbls := Labels{"job": job, "status": status(err)}
	b := current()
	b.IncCounter(BatchesTotal, 1, lbls)
	b.ObserveHistogram(BatchDuration, d.Seconds(), lbls)
}
