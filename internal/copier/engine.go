package copier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/faizalrf/scylla-copy/internal/cql"
	"github.com/faizalrf/scylla-copy/internal/ledger"
	"github.com/faizalrf/scylla-copy/internal/metrics"
	"github.com/faizalrf/scylla-copy/internal/progress"
	"github.com/faizalrf/scylla-copy/internal/schema"
)

// State is a phase of a copy run.
type State int

const (
	StateConnecting State = iota
	StateSchemaReady
	StateCopying
	StateDraining
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSchemaReady:
		return "schema_ready"
	case StateCopying:
		return "copying"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions lists the legal moves. SchemaReady goes straight to Draining
// when the source table is empty or only the schema is copied. Failed is
// only reachable before any row has been read.
var transitions = map[State][]State{
	StateConnecting:  {StateSchemaReady, StateFailed},
	StateSchemaReady: {StateCopying, StateDraining, StateFailed},
	StateCopying:     {StateDraining},
	StateDraining:    {StateClosed},
}

func (s State) canMove(to State) bool {
	for _, n := range transitions[s] {
		if n == to {
			return true
		}
	}
	return false
}

// Config is everything one run needs to know.
type Config struct {
	Source   cql.ClusterConfig
	Target   cql.ClusterConfig
	Keyspace string
	Table    string

	BatchSize      int
	Workers        int
	RowConcurrency int
	Policy         FailurePolicy

	// SchemaOnly stops after the target schema is in place.
	SchemaOnly bool

	RunID   string
	Job     string
	Verbose bool
}

// Result is what a run reports once it stops.
type Result struct {
	State   State
	Rows    int64 // final progress counter value
	Read    int64
	Stats   Stats
	Plan    *schema.Plan
	Elapsed time.Duration
}

// Engine runs one table copy: connect, replicate schema, copy rows, drain.
type Engine struct {
	cfg     Config
	counter *progress.Counter
	ledger  ledger.Ledger
	connect func(context.Context, cql.ClusterConfig) (cql.Session, error)
	onState func(from, to State)

	mu     sync.Mutex
	state  State
	keyIdx []int
}

// Option customises an Engine.
type Option func(*Engine)

// WithConnector replaces cql.Connect, mainly for tests.
func WithConnector(fn func(context.Context, cql.ClusterConfig) (cql.Session, error)) Option {
	return func(e *Engine) { e.connect = fn }
}

// WithLedger records every failed batch in l.
func WithLedger(l ledger.Ledger) Option {
	return func(e *Engine) { e.ledger = l }
}

// WithStateHook is called on every state transition.
func WithStateHook(fn func(from, to State)) Option {
	return func(e *Engine) { e.onState = fn }
}

// New builds an engine that advances counter as batches succeed. The
// caller keeps counter to read progress while Run is in flight; Run resets
// it to zero before connecting.
func New(cfg Config, counter *progress.Counter, opts ...Option) *Engine {
	if counter == nil {
		counter = progress.NewCounter()
	}
	e := &Engine{
		cfg:     cfg,
		counter: counter,
		ledger:  ledger.Nop{},
		connect: cql.Connect,
		state:   StateConnecting,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) move(to State) {
	e.mu.Lock()
	from := e.state
	if !from.canMove(to) {
		e.mu.Unlock()
		panic(fmt.Sprintf("copier: illegal transition %s -> %s", from, to))
	}
	e.state = to
	e.mu.Unlock()
	log.Printf("copier: state %s -> %s", from, to)
	if e.onState != nil {
		e.onState(from, to)
	}
}

func (e *Engine) fail(err error, sessions ...cql.Session) error {
	for _, s := range sessions {
		s.Close()
	}
	e.move(StateFailed)
	return err
}

// Run executes the copy. Connection and schema errors end in StateFailed
// before any row is read. Once copying starts the run always drains and
// closes; the returned error then reports an aborted batch or a source
// read failure.
func (e *Engine) Run(ctx context.Context) (res Result, err error) {
	start := time.Now()
	e.counter.Reset()
	defer func() {
		res.State = e.State()
		res.Rows = e.counter.Total()
		res.Elapsed = time.Since(start)
	}()

	src, err := e.connect(ctx, e.cfg.Source)
	if err != nil {
		return res, e.fail(fmt.Errorf("copier: connect source: %w", err))
	}
	tgt, err := e.connect(ctx, e.cfg.Target)
	if err != nil {
		return res, e.fail(fmt.Errorf("copier: connect target: %w", err), src)
	}

	schemaStart := time.Now()
	table, plan, err := schema.Translate(ctx, src, tgt, e.cfg.Keyspace, e.cfg.Table)
	metrics.RecordStep(e.cfg.Job, "schema", err, time.Since(schemaStart))
	res.Plan = plan
	if err != nil {
		return res, e.fail(err, src, tgt)
	}
	e.move(StateSchemaReady)

	if err := ctx.Err(); err != nil {
		return res, e.fail(err, src, tgt)
	}
	if e.cfg.SchemaOnly {
		e.move(StateDraining)
		src.Close()
		tgt.Close()
		e.move(StateClosed)
		return res, nil
	}

	e.keyIdx = table.KeyIndexes()

	copyStart := time.Now()
	source := OpenSource(ctx, src, schema.SelectAll(table), e.cfg.BatchSize)
	asm := NewAssembler(&firstRowHook{src: source, fn: func() { e.move(StateCopying) }}, e.cfg.BatchSize)
	w := NewWriter(ctx, WriterConfig{
		Session:        tgt,
		Insert:         schema.Insert(table),
		Counter:        e.counter,
		Workers:        e.cfg.Workers,
		RowConcurrency: e.cfg.RowConcurrency,
		Policy:         e.cfg.Policy,
		OnResult:       func(b Batch, r BatchResult) { e.recordResult(ctx, b, r) },
		Job:            e.cfg.Job,
		Verbose:        e.cfg.Verbose,
	})

	var submitErr error
	for {
		b, ok := asm.Next()
		if !ok {
			break
		}
		if err := w.Submit(b); err != nil {
			submitErr = err
			break
		}
	}

	e.move(StateDraining)
	stats, waitErr := w.Wait()
	src.Close()
	tgt.Close()
	e.move(StateClosed)

	res.Stats = stats
	res.Read = source.Read()
	metrics.RecordRows(e.cfg.Job, "read", res.Read)

	var errs []error
	if waitErr != nil {
		errs = append(errs, waitErr)
	} else if submitErr != nil {
		errs = append(errs, fmt.Errorf("copier: submit: %w", submitErr))
	}
	if err := source.Err(); err != nil {
		errs = append(errs, fmt.Errorf("copier: source read: %w", err))
	}
	runErr := errors.Join(errs...)
	metrics.RecordStep(e.cfg.Job, "copy", runErr, time.Since(copyStart))
	return res, runErr
}

func (e *Engine) recordResult(ctx context.Context, b Batch, r BatchResult) {
	if r.Err == nil {
		return
	}
	entry := ledger.NewEntry(e.cfg.RunID, e.cfg.Keyspace, e.cfg.Table, b.Seq, b.Rows, e.keyIdx, r.Written, r.Err, time.Now())
	if err := e.ledger.Record(ctx, entry); err != nil {
		log.Printf("copier: ledger batch=%d: %v", b.Seq, err)
	}
}

// firstRowHook calls fn once, when the first row comes out of src.
type firstRowHook struct {
	src  RowSource
	fn   func()
	seen bool
}

func (h *firstRowHook) Next() (Row, bool) {
	row, ok := h.src.Next()
	if ok && !h.seen {
		h.seen = true
		h.fn()
	}
	return row, ok
}

func (h *firstRowHook) Err() error { return h.src.Err() }
