package copier

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/faizalrf/scylla-copy/internal/cql"
	"github.com/faizalrf/scylla-copy/internal/cql/cqltest"
	"github.com/faizalrf/scylla-copy/internal/progress"
)

var insertStmt = cql.Prepared{Text: "INSERT INTO ks.t (id,v) VALUES (?,?) ", Names: []string{"id", "v"}}

func batchesOf(rows, size int) []Batch {
	a := NewAssembler(newSliceSource(rows), size)
	var out []Batch
	for {
		b, ok := a.Next()
		if !ok {
			return out
		}
		out = append(out, b)
	}
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    FailurePolicy
		wantErr bool
	}{
		{in: "", want: Continue},
		{in: "continue", want: Continue},
		{in: "Best-Effort", want: Continue},
		{in: " abort ", want: Abort},
		{in: "retry", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParsePolicy(tt.in)
		if tt.wantErr {
			require.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		require.Equal(t, tt.want, got, tt.in)
	}
	require.Equal(t, "abort", Abort.String())
	require.Equal(t, "continue", Continue.String())
}

func TestWriter_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	const workers = 4
	counter := progress.NewCounter()
	w := NewWriter(context.Background(), WriterConfig{Counter: counter, Workers: workers})

	var inFlight, peak atomic.Int64
	w.insertFn = func(_ context.Context, b Batch) (int64, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return int64(len(b.Rows)), nil
	}

	for _, b := range batchesOf(2500, 50) {
		require.NoError(t, w.Submit(b))
		require.LessOrEqual(t, inFlight.Load(), int64(workers))
	}
	stats, err := w.Wait()
	require.NoError(t, err)

	require.LessOrEqual(t, peak.Load(), int64(workers))
	require.Equal(t, int64(50), stats.Batches)
	require.Equal(t, int64(2500), counter.Total())
}

func TestWriter_InsertsEveryRow(t *testing.T) {
	t.Parallel()

	target := &cqltest.Session{}
	counter := progress.NewCounter()
	var results []BatchResult
	var mu sync.Mutex
	w := NewWriter(context.Background(), WriterConfig{
		Session:        target,
		Insert:         insertStmt,
		Counter:        counter,
		Workers:        4,
		RowConcurrency: 8,
		OnResult: func(_ Batch, r BatchResult) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
		},
	})

	for _, b := range batchesOf(2500, 500) {
		require.NoError(t, w.Submit(b))
	}
	stats, err := w.Wait()
	require.NoError(t, err)

	require.Equal(t, int64(2500), counter.Total())
	require.Len(t, target.Calls(), 2500)
	require.Len(t, results, 5)
	require.Equal(t, Stats{Batches: 5, CopiedRows: 2500}, stats)

	seen := make(map[any]bool)
	for _, c := range target.Calls() {
		require.Equal(t, insertStmt.Text, c.Stmt)
		require.Len(t, c.Values, 2)
		seen[c.Values[0]] = true
	}
	require.Len(t, seen, 2500)
}

func TestWriter_FailedBatchIsIsolated(t *testing.T) {
	t.Parallel()

	boom := errors.New("write timeout")
	target := &cqltest.Session{ExecFn: func(_ context.Context, _ string, values []any) error {
		if values[0] == 1234 {
			return boom
		}
		return nil
	}}
	counter := progress.NewCounter()
	var failed []BatchResult
	var mu sync.Mutex
	w := NewWriter(context.Background(), WriterConfig{
		Session:        target,
		Insert:         insertStmt,
		Counter:        counter,
		Workers:        4,
		RowConcurrency: 1,
		Policy:         Continue,
		OnResult: func(_ Batch, r BatchResult) {
			if r.Err != nil {
				mu.Lock()
				failed = append(failed, r)
				mu.Unlock()
			}
		},
	})

	for _, b := range batchesOf(2500, 500) {
		require.NoError(t, w.Submit(b))
	}
	stats, err := w.Wait()
	require.NoError(t, err, "continue policy never fails the pool")

	require.Equal(t, int64(2000), counter.Total())
	require.Len(t, failed, 1)
	require.Equal(t, int64(3), failed[0].Seq)
	require.ErrorIs(t, failed[0].Err, boom)
	require.Equal(t, int64(234), failed[0].Written, "rows before the failing one were written")
	require.True(t, failed[0].Partial())
	require.Equal(t, int64(1), stats.FailedBatches)
	require.Equal(t, int64(500), stats.FailedRows)
	require.Equal(t, int64(234), stats.PartialRows)
}

func TestWriter_AbortPolicy(t *testing.T) {
	t.Parallel()

	boom := errors.New("unavailable")
	counter := progress.NewCounter()
	w := NewWriter(context.Background(), WriterConfig{Counter: counter, Workers: 2, Policy: Abort})
	w.insertFn = func(ctx context.Context, b Batch) (int64, error) {
		if b.Seq == 2 {
			return 0, boom
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(time.Millisecond):
		}
		return int64(len(b.Rows)), nil
	}

	var submitErr error
	for _, b := range batchesOf(10000, 10) {
		if submitErr = w.Submit(b); submitErr != nil {
			break
		}
	}
	_, err := w.Wait()

	require.Error(t, submitErr, "producer must stop once the pool is aborted")
	require.ErrorIs(t, err, ErrBatchFailed)
	require.ErrorIs(t, err, boom)
	var be *BatchError
	require.ErrorAs(t, err, &be)
	require.Equal(t, int64(2), be.Seq)
	require.Less(t, counter.Total(), int64(10000))
}

// A batch admitted while the pool is being cancelled is dropped without a
// result: only the batch that failed is counted and reported.
func TestWriter_AbortDropsQueuedBatches(t *testing.T) {
	t.Parallel()

	var (
		mu        sync.Mutex
		attempted []int64
		reported  []int64
	)
	release := make(chan struct{})
	w := NewWriter(context.Background(), WriterConfig{
		Workers: 1,
		Policy:  Abort,
		OnResult: func(b Batch, _ BatchResult) {
			mu.Lock()
			reported = append(reported, b.Seq)
			mu.Unlock()
		},
	})
	w.insertFn = func(_ context.Context, b Batch) (int64, error) {
		mu.Lock()
		attempted = append(attempted, b.Seq)
		mu.Unlock()
		<-release
		return 3, errors.New("write timeout")
	}

	batches := batchesOf(30, 10)
	require.NoError(t, w.Submit(batches[0]))

	// Batch 2 normally passes the Submit check and then waits for the only
	// worker, which frees up only after the pool has been cancelled.
	submitted := make(chan error, 1)
	go func() { submitted <- w.Submit(batches[1]) }()
	time.Sleep(20 * time.Millisecond)
	close(release)
	<-submitted

	require.Error(t, w.Submit(batches[2]), "pool is aborted")
	stats, err := w.Wait()

	require.ErrorIs(t, err, ErrBatchFailed)
	require.Equal(t, []int64{1}, attempted)
	require.Equal(t, []int64{1}, reported)
	require.Equal(t, int64(1), stats.Batches)
	require.Equal(t, int64(1), stats.FailedBatches)
	require.Equal(t, int64(3), stats.PartialRows)
}

func TestInsertBatch_BindMismatch(t *testing.T) {
	t.Parallel()

	w := NewWriter(context.Background(), WriterConfig{Session: &cqltest.Session{}, Insert: insertStmt})
	n, err := w.insertBatch(context.Background(), Batch{Seq: 1, Rows: []Row{{1}}})
	require.Error(t, err)
	require.Zero(t, n)
}

func TestInsertBatch_CancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	target := &cqltest.Session{}
	w := NewWriter(context.Background(), WriterConfig{Session: target, Insert: insertStmt})

	n, err := w.insertBatch(ctx, Batch{Seq: 1, Rows: []Row{{1, "a"}, {2, "b"}}})
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, n)
	require.Empty(t, target.Calls())
}
