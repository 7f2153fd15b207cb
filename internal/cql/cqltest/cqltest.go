// Package cqltest provides an in-memory cql.Session for tests.
package cqltest

import (
	"context"
	"sync"

	"github.com/faizalrf/scylla-copy/internal/cql"
)

// Call is one recorded Exec.
type Call struct {
	Stmt   string
	Values []any
}

// Session records every Exec and answers Iter through QueryFn.
type Session struct {
	// QueryFn answers Iter calls. A nil QueryFn yields empty results.
	QueryFn func(stmt string, values []any) *Iter
	// ExecFn, when set, decides the outcome of each Exec.
	ExecFn func(ctx context.Context, stmt string, values []any) error

	mu        sync.Mutex
	calls     []Call
	pageSizes []int
	closed    bool
}

var _ cql.Session = (*Session)(nil)

func (s *Session) Exec(ctx context.Context, stmt string, values ...any) error {
	var err error
	if s.ExecFn != nil {
		err = s.ExecFn(ctx, stmt, values)
	}
	if err == nil {
		s.mu.Lock()
		s.calls = append(s.calls, Call{Stmt: stmt, Values: values})
		s.mu.Unlock()
	}
	return err
}

func (s *Session) Iter(_ context.Context, stmt string, pageSize int, values ...any) cql.Iter {
	s.mu.Lock()
	s.pageSizes = append(s.pageSizes, pageSize)
	s.mu.Unlock()
	if s.QueryFn == nil {
		return &Iter{}
	}
	if it := s.QueryFn(stmt, values); it != nil {
		return it
	}
	return &Iter{}
}

func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Calls returns the successful Execs in completion order.
func (s *Session) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// Statements returns the text of every successful Exec.
func (s *Session) Statements() []string {
	calls := s.Calls()
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Stmt
	}
	return out
}

// PageSizes returns the page size requested by each Iter call.
func (s *Session) PageSizes() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.pageSizes...)
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Iter is a canned result set. Err is returned from Close once the rows run out.
type Iter struct {
	rows [][]any
	maps []map[string]any
	pos  int
	Err  error
}

var _ cql.Iter = (*Iter)(nil)

// Rows builds an iterator over positional rows.
func Rows(rows ...[]any) *Iter { return &Iter{rows: rows} }

// Maps builds an iterator over named rows.
func Maps(rows ...map[string]any) *Iter { return &Iter{maps: rows} }

func (it *Iter) Row() ([]any, bool) {
	if it.pos >= len(it.rows) {
		return nil, false
	}
	r := it.rows[it.pos]
	it.pos++
	return r, true
}

func (it *Iter) MapRow() (map[string]any, bool) {
	if it.pos >= len(it.maps) {
		return nil, false
	}
	m := it.maps[it.pos]
	it.pos++
	return m, true
}

func (it *Iter) Close() error { return it.Err }
