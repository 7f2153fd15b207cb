// Package copier streams rows from a source table into batches and writes
// them to the target through a bounded pool of workers.
package copier

import (
	"context"

	"github.com/faizalrf/scylla-copy/internal/cql"
)

// Row is one source row, positionally aligned with the table's columns.
type Row = []any

// Batch is a run of rows in source read order. Seq starts at 1.
type Batch struct {
	Seq  int64
	Rows []Row
}

// RowSource yields rows until exhausted. Err reports why it stopped.
type RowSource interface {
	Next() (Row, bool)
	Err() error
}

// PagedSource reads a full-table SELECT page by page. It is forward-only
// and must be drained by a single goroutine.
type PagedSource struct {
	it   cql.Iter
	err  error
	done bool
	read int64
}

// OpenSource starts the read. No rows are fetched until Next is called.
func OpenSource(ctx context.Context, s cql.Session, stmt cql.Prepared, pageSize int) *PagedSource {
	return &PagedSource{it: s.Iter(ctx, stmt.Text, pageSize)}
}

// Next returns the next row, skipping rows the driver yields as nil.
func (p *PagedSource) Next() (Row, bool) {
	if p.done {
		return nil, false
	}
	for {
		row, ok := p.it.Row()
		if !ok {
			p.done = true
			p.err = p.it.Close()
			return nil, false
		}
		if row == nil {
			continue
		}
		p.read++
		return row, true
	}
}

func (p *PagedSource) Err() error { return p.err }

// Read is the number of rows returned so far.
func (p *PagedSource) Read() int64 { return p.read }

// Assembler groups a RowSource into batches of size rows; the last batch
// may be shorter.
type Assembler struct {
	src  RowSource
	size int
	buf  []Row
	seq  int64
}

func NewAssembler(src RowSource, size int) *Assembler {
	if size < 1 {
		size = 1
	}
	return &Assembler{src: src, size: size, buf: make([]Row, 0, size)}
}

// Next returns the next batch. The returned Rows slice is a copy owned by
// the caller; the assembler reuses its own buffer for the following batch.
func (a *Assembler) Next() (Batch, bool) {
	for len(a.buf) < a.size {
		row, ok := a.src.Next()
		if !ok {
			break
		}
		a.buf = append(a.buf, row)
	}
	if len(a.buf) == 0 {
		return Batch{}, false
	}
	rows := make([]Row, len(a.buf))
	copy(rows, a.buf)
	clear(a.buf)
	a.buf = a.buf[:0]
	a.seq++
	return Batch{Seq: a.seq, Rows: rows}, true
}
