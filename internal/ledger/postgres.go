package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgExecer is the part of *pgxpool.Pool the ledger uses.
type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// newPoolFn is swapped in tests.
var newPoolFn = func(ctx context.Context, dsn string) (pgExecer, error) {
	return pgxpool.New(ctx, dsn)
}

// PostgresLedger inserts entries into a Postgres table it creates on open.
type PostgresLedger struct {
	db    pgExecer
	table string // sanitized, possibly schema-qualified
}

// OpenPostgres connects to dsn and ensures table exists.
func OpenPostgres(ctx context.Context, dsn, table string) (*PostgresLedger, error) {
	if dsn == "" {
		return nil, fmt.Errorf("ledger: postgres dsn is required")
	}
	if table == "" {
		table = "scylla_copy_failed_batches"
	}
	db, err := newPoolFn(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: connect postgres: %w", err)
	}
	l := &PostgresLedger{db: db, table: pgx.Identifier(strings.Split(table, ".")).Sanitize()}
	if _, err := db.Exec(ctx, l.createSQL()); err != nil {
		db.Close()
		return nil, fmt.Errorf("ledger: create table %s: %w", table, err)
	}
	return l, nil
}

func (l *PostgresLedger) createSQL() string {
	return `CREATE TABLE IF NOT EXISTS ` + l.table + ` (
    run_id      uuid        NOT NULL,
    keyspace    text        NOT NULL,
    table_name  text        NOT NULL,
    batch_seq   bigint      NOT NULL,
    rows        integer     NOT NULL,
    written     bigint      NOT NULL,
    first_key   text,
    last_key    text,
    digest      text        NOT NULL,
    error       text,
    recorded_at timestamptz NOT NULL,
    PRIMARY KEY (run_id, batch_seq)
)`
}

func (l *PostgresLedger) insertSQL() string {
	return `INSERT INTO ` + l.table + ` (run_id, keyspace, table_name, batch_seq, rows, written, first_key, last_key, digest, error, recorded_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (run_id, batch_seq) DO NOTHING`
}

func (l *PostgresLedger) Record(ctx context.Context, e Entry) error {
	_, err := l.db.Exec(ctx, l.insertSQL(),
		e.RunID, e.Keyspace, e.Table, e.Seq, e.Rows, e.Written,
		e.FirstKey, e.LastKey, fmt.Sprintf("%016x", e.Digest), e.Err, e.At)
	if err != nil {
		return fmt.Errorf("ledger: insert batch %d: %w", e.Seq, err)
	}
	return nil
}

func (l *PostgresLedger) Close() error {
	l.db.Close()
	return nil
}

func init() {
	Register("postgres", func(ctx context.Context, cfg Config) (Ledger, error) {
		return OpenPostgres(ctx, cfg.DSN, cfg.Table)
	})
}
