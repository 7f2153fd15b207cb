package ledger

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func sampleEntry(seq int64) Entry {
	rows := [][]any{{1, "a", nil}, {2, "b", 3.5}}
	return NewEntry("0e4c6f7a-3d2b-4b1e-9a51-6a3c2b1d0e9f", "shop", "orders", seq, rows, []int{0, 1}, 1, errors.New("write timeout"), at)
}

func TestNewEntry(t *testing.T) {
	t.Parallel()

	e := sampleEntry(7)
	require.Equal(t, int64(7), e.Seq)
	require.Equal(t, 2, e.Rows)
	require.Equal(t, int64(1), e.Written)
	require.Equal(t, "(1, a)", e.FirstKey)
	require.Equal(t, "(2, b)", e.LastKey)
	require.Equal(t, "write timeout", e.Err)
	require.NotZero(t, e.Digest)
}

func TestKeyText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		row  []any
		idx  []int
		want string
	}{
		{name: "single", row: []any{"k", 1}, idx: []int{0}, want: "(k)"},
		{name: "composite with null", row: []any{nil, 9, "x"}, idx: []int{0, 1}, want: "(null, 9)"},
		{name: "blob", row: []any{[]byte{0xca, 0xfe}}, idx: []int{0}, want: "(0xcafe)"},
		{name: "time", row: []any{at}, idx: []int{0}, want: "(2024-05-01T12:00:00Z)"},
		{name: "index out of range", row: []any{1}, idx: []int{0, 4}, want: "(1)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, KeyText(tt.row, tt.idx))
		})
	}
}

func TestDigest_OrderSensitive(t *testing.T) {
	t.Parallel()

	a := [][]any{{1}, {2}}
	b := [][]any{{2}, {1}}
	require.Equal(t, Digest(a, []int{0}), Digest([][]any{{1}, {2}}, []int{0}))
	require.NotEqual(t, Digest(a, []int{0}), Digest(b, []int{0}))
}

func TestOpen_Registry(t *testing.T) {
	t.Parallel()

	require.ElementsMatch(t, []string{"csv", "none", "postgres"}, Kinds())

	l, err := Open(context.Background(), Config{})
	require.NoError(t, err)
	require.IsType(t, Nop{}, l)
	require.NoError(t, l.Record(context.Background(), sampleEntry(1)))

	_, err = Open(context.Background(), Config{Kind: "kafka"})
	require.ErrorContains(t, err, `unknown kind "kafka"`)
}

func TestCSVLedger_AppendsWithSingleHeader(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "failed.csv")
	ctx := context.Background()

	l, err := Open(ctx, Config{Kind: "csv", Path: path})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := int64(1); i <= 4; i++ {
		wg.Add(1)
		go func(seq int64) {
			defer wg.Done()
			require.NoError(t, l.Record(ctx, sampleEntry(seq)))
		}(i)
	}
	wg.Wait()
	require.NoError(t, l.Close())

	l2, err := OpenCSV(path)
	require.NoError(t, err)
	require.NoError(t, l2.Record(ctx, sampleEntry(5)))
	require.NoError(t, l2.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	recs, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)

	require.Len(t, recs, 6)
	require.Equal(t, csvHeader, recs[0])
	for _, r := range recs[1:] {
		require.Equal(t, "orders", r[2])
		require.Equal(t, "2", r[4])
		require.Equal(t, "(1, a)", r[6])
		require.Len(t, r[8], 16)
		require.Equal(t, "write timeout", r[9])
	}
}

func TestOpenCSV_RequiresPath(t *testing.T) {
	t.Parallel()

	_, err := OpenCSV("")
	require.Error(t, err)
}

type fakePG struct {
	mu     sync.Mutex
	sqls   []string
	args   [][]any
	closed bool
	err    error
}

func (f *fakePG) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sqls = append(f.sqls, sql)
	f.args = append(f.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), f.err
}

func (f *fakePG) Close() { f.closed = true }

func TestPostgresLedger(t *testing.T) {
	fake := &fakePG{}
	orig := newPoolFn
	newPoolFn = func(context.Context, string) (pgExecer, error) { return fake, nil }
	t.Cleanup(func() { newPoolFn = orig })

	ctx := context.Background()
	l, err := Open(ctx, Config{Kind: "postgres", DSN: "postgres://u:p@localhost/db", Table: "ops.failed_batches"})
	require.NoError(t, err)

	require.NoError(t, l.Record(ctx, sampleEntry(3)))
	require.NoError(t, l.Close())

	require.Len(t, fake.sqls, 2)
	require.True(t, strings.HasPrefix(fake.sqls[0], `CREATE TABLE IF NOT EXISTS "ops"."failed_batches"`), fake.sqls[0])
	require.True(t, strings.HasPrefix(fake.sqls[1], `INSERT INTO "ops"."failed_batches"`), fake.sqls[1])
	require.Len(t, fake.args[1], 11)
	require.Equal(t, int64(3), fake.args[1][3])
	require.True(t, fake.closed)
}

func TestPostgresLedger_CreateFails(t *testing.T) {
	fake := &fakePG{err: errors.New("permission denied")}
	orig := newPoolFn
	newPoolFn = func(context.Context, string) (pgExecer, error) { return fake, nil }
	t.Cleanup(func() { newPoolFn = orig })

	_, err := OpenPostgres(context.Background(), "postgres://localhost/db", "")
	require.ErrorContains(t, err, "create table scylla_copy_failed_batches")
	require.True(t, fake.closed)

	_, err = OpenPostgres(context.Background(), "", "")
	require.Error(t, err)
}
