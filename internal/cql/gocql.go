package cql

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/gocql/gocql"
)

// ClusterConfig describes how to reach one cluster.
type ClusterConfig struct {
	Hosts       []string
	Port        int
	Username    string
	Password    string
	LocalDC     string
	Consistency string
	Timeout     time.Duration
}

// newClusterFn is swapped in tests to inspect the built cluster config.
var newClusterFn = gocql.NewCluster

// Connect opens a session against the cluster described by cfg.
func Connect(ctx context.Context, cfg ClusterConfig) (Session, error) {
	cluster, err := buildCluster(cfg)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("cql: connect %s: %w", strings.Join(cfg.Hosts, ","), err)
	}
	return &gocqlSession{s: s}, nil
}

func buildCluster(cfg ClusterConfig) (*gocql.ClusterConfig, error) {
	if len(cfg.Hosts) == 0 {
		return nil, fmt.Errorf("cql: no contact points")
	}
	cluster := newClusterFn(cfg.Hosts...)
	if cfg.Port > 0 {
		cluster.Port = cfg.Port
	}
	if cfg.Username != "" {
		cluster.Authenticator = gocql.PasswordAuthenticator{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}
	if cfg.LocalDC != "" {
		cluster.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(
			gocql.DCAwareRoundRobinPolicy(cfg.LocalDC),
		)
	}
	if cfg.Consistency != "" {
		c, err := gocql.ParseConsistencyWrapper(cfg.Consistency)
		if err != nil {
			return nil, fmt.Errorf("cql: consistency %q: %w", cfg.Consistency, err)
		}
		cluster.Consistency = c
	}
	if cfg.Timeout > 0 {
		cluster.Timeout = cfg.Timeout
	}
	return cluster, nil
}

type gocqlSession struct {
	s *gocql.Session
}

var _ Session = (*gocqlSession)(nil)

func (g *gocqlSession) Exec(ctx context.Context, stmt string, values ...any) error {
	return g.s.Query(stmt, values...).WithContext(ctx).Exec()
}

func (g *gocqlSession) Iter(ctx context.Context, stmt string, pageSize int, values ...any) Iter {
	q := g.s.Query(stmt, values...).WithContext(ctx)
	if pageSize > 0 {
		q = q.PageSize(pageSize)
	}
	return &gocqlIter{it: q.Iter()}
}

func (g *gocqlSession) Close() { g.s.Close() }

type gocqlIter struct {
	it *gocql.Iter
}

// Row scans into pointer-to-pointer destinations so null cells come back as
// nil instead of the zero value of the column type. The driver scans a tuple
// column into one destination per element; those are folded back into a
// single []any so the row lines up with the table's columns again.
func (g *gocqlIter) Row() ([]any, bool) {
	rd, err := g.it.RowData()
	if err != nil {
		return nil, false
	}
	dest := make([]any, len(rd.Values))
	for i, v := range rd.Values {
		dest[i] = reflect.New(reflect.TypeOf(v)).Interface()
	}
	if !g.it.Scan(dest...) {
		return nil, false
	}
	return groupTuples(g.it.Columns(), derefCells(dest)), true
}

// derefCells unwraps **T scan targets, leaving nil for null cells.
func derefCells(dest []any) []any {
	out := make([]any, len(dest))
	for i, d := range dest {
		p := reflect.ValueOf(d).Elem()
		if p.Kind() != reflect.Pointer {
			out[i] = p.Interface()
			continue
		}
		if !p.IsNil() {
			out[i] = p.Elem().Interface()
		}
	}
	return out
}

// groupTuples returns one value per column, collecting the flattened
// elements of each tuple column into a []any. A tuple whose elements are
// all null is a null tuple.
func groupTuples(cols []gocql.ColumnInfo, cells []any) []any {
	out := make([]any, 0, len(cols))
	pos := 0
	for _, c := range cols {
		tuple, ok := c.TypeInfo.(gocql.TupleTypeInfo)
		if !ok {
			if pos < len(cells) {
				out = append(out, cells[pos])
			}
			pos++
			continue
		}
		n := len(tuple.Elems)
		end := min(pos+n, len(cells))
		elems := make([]any, n)
		copy(elems, cells[pos:end])
		if allNil(elems) {
			out = append(out, nil)
		} else {
			out = append(out, elems)
		}
		pos += n
	}
	return out
}

func allNil(vs []any) bool {
	for _, v := range vs {
		if v != nil {
			return false
		}
	}
	return true
}

func (g *gocqlIter) MapRow() (map[string]any, bool) {
	m := make(map[string]any)
	if !g.it.MapScan(m) {
		return nil, false
	}
	return m, true
}

func (g *gocqlIter) Close() error { return g.it.Close() }
