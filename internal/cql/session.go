// Package cql wraps the cluster driver behind the small surface the copier
// needs: connecting, executing statements, and iterating paged results.
package cql

import (
	"context"
	"fmt"
)

// Session is an open connection to one cluster.
type Session interface {
	// Exec runs a statement that returns no rows.
	Exec(ctx context.Context, stmt string, values ...any) error
	// Iter runs a query and returns a lazily paged iterator over its rows.
	// pageSize <= 0 leaves paging to the driver default.
	Iter(ctx context.Context, stmt string, pageSize int, values ...any) Iter
	Close()
}

// Iter walks the rows of a query result. Rows are fetched from the
// server page by page as the caller advances.
type Iter interface {
	// Row returns the next row as positional values in selection order.
	Row() ([]any, bool)
	// MapRow returns the next row keyed by column name.
	MapRow() (map[string]any, bool)
	// Close releases the iterator and reports any error seen while paging.
	Close() error
}

// Prepared is a statement text together with the ordered names of its bind
// markers.
type Prepared struct {
	Text  string
	Names []string
}

// Bind checks that values lines up with the statement's bind markers and
// returns them in positional order.
func (p Prepared) Bind(values []any) ([]any, error) {
	if len(values) != len(p.Names) {
		return nil, fmt.Errorf("cql: bind: got %d values for %d markers", len(values), len(p.Names))
	}
	return values, nil
}
