package copier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/faizalrf/scylla-copy/internal/cql"
	"github.com/faizalrf/scylla-copy/internal/metrics"
	"github.com/faizalrf/scylla-copy/internal/progress"
)

// ErrBatchFailed is matched by every *BatchError.
var ErrBatchFailed = errors.New("batch insert failed")

// FailurePolicy decides what a failed batch does to the rest of the run.
type FailurePolicy int

const (
	// Continue logs the failure and keeps copying other batches.
	Continue FailurePolicy = iota
	// Abort stops submitting new batches after the first failure and makes
	// the run return an error once in-flight batches finish.
	Abort
)

func (p FailurePolicy) String() string {
	if p == Abort {
		return "abort"
	}
	return "continue"
}

// ParsePolicy accepts "continue" (or "best-effort") and "abort".
func ParsePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "continue", "best-effort":
		return Continue, nil
	case "abort":
		return Abort, nil
	}
	return Continue, fmt.Errorf("copier: unknown failure policy %q", s)
}

// BatchResult is the outcome of one batch insert. A failed batch may still
// have written some rows; Written counts the ones the target acknowledged.
type BatchResult struct {
	Seq      int64
	Rows     int
	Written  int64
	Err      error
	Duration time.Duration
}

// Partial reports a failed batch that left some of its rows written.
func (r BatchResult) Partial() bool { return r.Err != nil && r.Written > 0 }

// BatchError is returned from Wait under the Abort policy.
type BatchError struct {
	Seq     int64
	Rows    int
	Written int64
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("copier: batch %d (%d rows, %d written): %v", e.Seq, e.Rows, e.Written, e.Err)
}

func (e *BatchError) Unwrap() []error { return []error{ErrBatchFailed, e.Err} }

// WriterConfig wires a Writer to its collaborators.
type WriterConfig struct {
	Session cql.Session
	Insert  cql.Prepared
	Counter *progress.Counter

	// Workers bounds the number of batches in flight.
	Workers int
	// RowConcurrency bounds the concurrent row inserts inside one batch.
	RowConcurrency int
	Policy         FailurePolicy

	// OnResult, when set, is called from the worker goroutine after each
	// batch finishes.
	OnResult func(Batch, BatchResult)

	Job     string
	Verbose bool
}

// Stats summarises the batches a Writer processed.
type Stats struct {
	Batches       int64
	FailedBatches int64
	CopiedRows    int64
	FailedRows    int64
	PartialRows   int64 // rows written by batches that failed
}

type writerStats struct {
	batches       atomic.Int64
	failedBatches atomic.Int64
	copiedRows    atomic.Int64
	failedRows    atomic.Int64
	partialRows   atomic.Int64
}

func (s *writerStats) record(r BatchResult) {
	s.batches.Add(1)
	if r.Err != nil {
		s.failedBatches.Add(1)
		s.failedRows.Add(int64(r.Rows))
		s.partialRows.Add(r.Written)
		return
	}
	s.copiedRows.Add(int64(r.Rows))
}

func (s *writerStats) snapshot() Stats {
	return Stats{
		Batches:       s.batches.Load(),
		FailedBatches: s.failedBatches.Load(),
		CopiedRows:    s.copiedRows.Load(),
		FailedRows:    s.failedRows.Load(),
		PartialRows:   s.partialRows.Load(),
	}
}

// Writer inserts batches on a fixed pool of workers. Submit blocks while
// every worker is busy, so at most Workers batches are held in memory
// beyond the one being assembled.
type Writer struct {
	cfg   WriterConfig
	g     *errgroup.Group
	ctx   context.Context
	stats writerStats

	// insertFn is swapped in tests to observe batch-level concurrency.
	insertFn func(ctx context.Context, b Batch) (int64, error)
}

// NewWriter starts an empty pool. The pool context is derived from ctx and
// cancelled by the first failed batch under the Abort policy.
func NewWriter(ctx context.Context, cfg WriterConfig) *Writer {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.RowConcurrency < 1 {
		cfg.RowConcurrency = 1
	}
	if cfg.Counter == nil {
		cfg.Counter = progress.NewCounter()
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	w := &Writer{cfg: cfg, g: g, ctx: gctx}
	w.insertFn = w.insertBatch
	return w
}

// Submit hands b to the pool, blocking until a worker is free. It returns
// the pool context's error once the run has been aborted or cancelled.
func (w *Writer) Submit(b Batch) error {
	if err := w.ctx.Err(); err != nil {
		return err
	}
	w.g.Go(func() error { return w.run(b) })
	return nil
}

func (w *Writer) run(b Batch) error {
	// Submit may have waited for a worker while the pool was being
	// cancelled. Such a batch was never attempted and is not recorded.
	if err := w.ctx.Err(); err != nil {
		if w.cfg.Verbose {
			log.Printf("copier: batch=%d rows=%d skipped: %v", b.Seq, len(b.Rows), err)
		}
		return err
	}
	start := time.Now()
	written, err := w.insertFn(w.ctx, b)
	res := BatchResult{Seq: b.Seq, Rows: len(b.Rows), Written: written, Err: err, Duration: time.Since(start)}

	if err == nil {
		total := w.cfg.Counter.Advance(int64(res.Rows))
		if w.cfg.Verbose {
			log.Printf("copier: batch=%d rows=%d total_rows=%d elapsed=%s", b.Seq, res.Rows, total, res.Duration.Truncate(time.Millisecond))
		}
		metrics.RecordRows(w.cfg.Job, "copied", int64(res.Rows))
	} else {
		log.Printf("copier: batch=%d rows=%d written=%d failed: %v", b.Seq, res.Rows, written, err)
		metrics.RecordRows(w.cfg.Job, "failed", int64(res.Rows))
	}
	metrics.RecordBatch(w.cfg.Job, err, res.Duration)
	w.stats.record(res)
	if w.cfg.OnResult != nil {
		w.cfg.OnResult(b, res)
	}

	if err != nil && w.cfg.Policy == Abort {
		return &BatchError{Seq: b.Seq, Rows: res.Rows, Written: written, Err: err}
	}
	return nil
}

// insertBatch writes every row of b with up to RowConcurrency statements
// in flight. The first failing row stops further rows from being sent.
func (w *Writer) insertBatch(ctx context.Context, b Batch) (int64, error) {
	var written atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.cfg.RowConcurrency)
	for _, row := range b.Rows {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			values, err := w.cfg.Insert.Bind(row)
			if err != nil {
				return err
			}
			if err := w.cfg.Session.Exec(gctx, w.cfg.Insert.Text, values...); err != nil {
				return err
			}
			written.Add(1)
			return nil
		})
	}
	err := g.Wait()
	n := written.Load()
	if err == nil && n < int64(len(b.Rows)) {
		// The loop stopped early on a cancelled parent context.
		err = ctx.Err()
	}
	return n, err
}

// Wait blocks until every submitted batch has finished. Under Abort it
// returns the first *BatchError.
func (w *Writer) Wait() (Stats, error) {
	err := w.g.Wait()
	return w.stats.snapshot(), err
}
