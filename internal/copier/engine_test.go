package copier

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/faizalrf/scylla-copy/internal/cql"
	"github.com/faizalrf/scylla-copy/internal/cql/cqltest"
	"github.com/faizalrf/scylla-copy/internal/ledger"
	"github.com/faizalrf/scylla-copy/internal/progress"
)

// eventsSource serves keyspace "app" with table "events" (id int, payload
// text) holding n rows.
func eventsSource(n int) *cqltest.Session {
	return &cqltest.Session{QueryFn: func(stmt string, _ []any) *cqltest.Iter {
		switch {
		case strings.Contains(stmt, "system_schema.keyspaces"):
			return cqltest.Maps(map[string]any{
				"keyspace_name":  "app",
				"replication":    map[string]string{"class": "SimpleStrategy", "replication_factor": "1"},
				"durable_writes": true,
			})
		case strings.Contains(stmt, "system_schema.tables"):
			return cqltest.Maps(map[string]any{"table_name": "events"})
		case strings.Contains(stmt, "system_schema.columns"):
			return cqltest.Maps(
				map[string]any{"table_name": "events", "column_name": "payload", "type": "text", "kind": "regular", "position": -1},
				map[string]any{"table_name": "events", "column_name": "id", "type": "int", "kind": "partition_key", "position": 0},
			)
		case strings.Contains(stmt, "system_schema."):
			return cqltest.Maps()
		case strings.HasPrefix(stmt, "SELECT id,payload FROM app.events"):
			rows := make([][]any, n)
			for i := range rows {
				rows[i] = []any{i, "payload"}
			}
			return cqltest.Rows(rows...)
		}
		return cqltest.Maps()
	}}
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) hook(_, to State) {
	l.mu.Lock()
	l.states = append(l.states, to)
	l.mu.Unlock()
}

type memLedger struct {
	mu      sync.Mutex
	entries []ledger.Entry
}

func (m *memLedger) Record(_ context.Context, e ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	return nil
}

func (m *memLedger) Close() error { return nil }

func connector(source, target cql.Session) func(context.Context, cql.ClusterConfig) (cql.Session, error) {
	return func(_ context.Context, cfg cql.ClusterConfig) (cql.Session, error) {
		if cfg.Hosts[0] == "source" {
			return source, nil
		}
		return target, nil
	}
}

func baseConfig() Config {
	return Config{
		Source:         cql.ClusterConfig{Hosts: []string{"source"}},
		Target:         cql.ClusterConfig{Hosts: []string{"target"}},
		Keyspace:       "app",
		Table:          "events",
		BatchSize:      500,
		Workers:        4,
		RowConcurrency: 16,
		RunID:          "run-1",
		Job:            "test",
	}
}

func inserts(s *cqltest.Session) int {
	n := 0
	for _, stmt := range s.Statements() {
		if strings.HasPrefix(stmt, "INSERT") {
			n++
		}
	}
	return n
}

func TestEngine_HappyPath(t *testing.T) {
	t.Parallel()

	source, target := eventsSource(2500), &cqltest.Session{}
	counter := progress.NewCounter()
	states := &stateLog{}
	e := New(baseConfig(), counter, WithConnector(connector(source, target)), WithStateHook(states.hook))

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, StateClosed, res.State)
	require.Equal(t, []State{StateSchemaReady, StateCopying, StateDraining, StateClosed}, states.states)
	require.Equal(t, int64(2500), res.Rows)
	require.Equal(t, int64(2500), counter.Total())
	require.Equal(t, int64(2500), res.Read)
	require.Equal(t, int64(5), res.Stats.Batches)
	require.Equal(t, 2500, inserts(target))
	require.True(t, source.Closed())
	require.True(t, target.Closed())

	stmts := target.Statements()
	require.True(t, strings.HasPrefix(stmts[0], "CREATE KEYSPACE IF NOT EXISTS app"))
	require.True(t, strings.HasPrefix(stmts[1], "CREATE TABLE IF NOT EXISTS app.events"))
	require.Contains(t, source.PageSizes(), 500)
}

func TestEngine_OneFailedBatch(t *testing.T) {
	t.Parallel()

	source := eventsSource(2500)
	target := &cqltest.Session{ExecFn: func(_ context.Context, stmt string, values []any) error {
		if strings.HasPrefix(stmt, "INSERT") && values[0] == 777 {
			return errors.New("write timeout")
		}
		return nil
	}}
	led := &memLedger{}
	e := New(baseConfig(), nil, WithConnector(connector(source, target)), WithLedger(led))

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateClosed, res.State)
	require.Equal(t, int64(2000), res.Rows)
	require.Equal(t, int64(1), res.Stats.FailedBatches)

	require.Len(t, led.entries, 1)
	got := led.entries[0]
	require.Equal(t, int64(2), got.Seq)
	require.Equal(t, 500, got.Rows)
	require.Equal(t, "(500)", got.FirstKey)
	require.Equal(t, "(999)", got.LastKey)
	require.Equal(t, "run-1", got.RunID)
	require.Equal(t, "write timeout", got.Err)
}

func TestEngine_AbortPolicy(t *testing.T) {
	t.Parallel()

	source := eventsSource(5000)
	target := &cqltest.Session{ExecFn: func(_ context.Context, stmt string, values []any) error {
		if strings.HasPrefix(stmt, "INSERT") && values[0] == 10 {
			return errors.New("unavailable")
		}
		return nil
	}}
	cfg := baseConfig()
	cfg.Policy = Abort
	cfg.Workers = 1
	l := &memLedger{}
	e := New(cfg, nil, WithConnector(connector(source, target)), WithLedger(l))

	res, err := e.Run(context.Background())
	require.ErrorIs(t, err, ErrBatchFailed)
	require.Equal(t, StateClosed, res.State, "an aborted copy still drains and closes")
	require.Less(t, res.Rows, int64(5000))
	require.True(t, target.Closed())

	// Only the batch that actually failed is reported; batches queued behind
	// it are dropped unattempted.
	require.Equal(t, int64(1), res.Stats.FailedBatches)
	require.Len(t, l.entries, 1)
	require.Equal(t, int64(1), l.entries[0].Seq)
}

func TestEngine_ResetsCounter(t *testing.T) {
	t.Parallel()

	counter := progress.NewCounter()
	counter.Advance(1234)
	e := New(baseConfig(), counter, WithConnector(connector(eventsSource(700), &cqltest.Session{})))

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(700), res.Rows)
	require.Equal(t, int64(700), counter.Total())
}

func TestEngine_SchemaFailure(t *testing.T) {
	t.Parallel()

	source := eventsSource(10)
	target := &cqltest.Session{ExecFn: func(_ context.Context, stmt string, _ []any) error {
		if strings.HasPrefix(stmt, "CREATE TABLE") {
			return errors.New("unauthorized")
		}
		return nil
	}}
	states := &stateLog{}
	e := New(baseConfig(), nil, WithConnector(connector(source, target)), WithStateHook(states.hook))

	res, err := e.Run(context.Background())
	require.ErrorContains(t, err, "unauthorized")
	require.Equal(t, StateFailed, res.State)
	require.Equal(t, []State{StateFailed}, states.states)
	require.Zero(t, inserts(target))
	require.True(t, source.Closed())
	require.True(t, target.Closed())
}

func TestEngine_MissingTable(t *testing.T) {
	t.Parallel()

	source, target := eventsSource(10), &cqltest.Session{}
	cfg := baseConfig()
	cfg.Table = "missing"
	e := New(cfg, nil, WithConnector(connector(source, target)))

	res, err := e.Run(context.Background())
	require.Error(t, err)
	require.Equal(t, StateFailed, res.State)
	require.Empty(t, target.Statements(), "nothing is created on the target")
}

func TestEngine_ConnectFailure(t *testing.T) {
	t.Parallel()

	source := &cqltest.Session{}
	e := New(baseConfig(), nil, WithConnector(func(_ context.Context, cfg cql.ClusterConfig) (cql.Session, error) {
		if cfg.Hosts[0] == "target" {
			return nil, errors.New("no hosts available")
		}
		return source, nil
	}))

	res, err := e.Run(context.Background())
	require.ErrorContains(t, err, "connect target")
	require.Equal(t, StateFailed, res.State)
	require.True(t, source.Closed())
}

func TestEngine_EmptyTable(t *testing.T) {
	t.Parallel()

	source, target := eventsSource(0), &cqltest.Session{}
	states := &stateLog{}
	e := New(baseConfig(), nil, WithConnector(connector(source, target)), WithStateHook(states.hook))

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, []State{StateSchemaReady, StateDraining, StateClosed}, states.states)
	require.Zero(t, res.Rows)
}

func TestEngine_SchemaOnly(t *testing.T) {
	t.Parallel()

	source, target := eventsSource(100), &cqltest.Session{}
	cfg := baseConfig()
	cfg.SchemaOnly = true
	e := New(cfg, nil, WithConnector(connector(source, target)))

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateClosed, res.State)
	require.Len(t, res.Plan.Pending(), 2)
	require.Zero(t, inserts(target))
}

func TestState_Transitions(t *testing.T) {
	t.Parallel()

	require.True(t, StateConnecting.canMove(StateFailed))
	require.True(t, StateSchemaReady.canMove(StateFailed))
	require.False(t, StateCopying.canMove(StateFailed))
	require.False(t, StateDraining.canMove(StateFailed))
	require.False(t, StateClosed.canMove(StateCopying))
	require.Equal(t, "schema_ready", StateSchemaReady.String())

	e := New(baseConfig(), nil)
	require.Panics(t, func() { e.move(StateCopying) })
}
