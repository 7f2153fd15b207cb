package schema

import (
	"context"
	"fmt"
	"log"

	"github.com/faizalrf/scylla-copy/internal/cql"
)

// StepKind names the schema object a Step creates.
type StepKind string

const (
	StepKeyspace StepKind = "keyspace"
	StepTable    StepKind = "table"
	StepIndex    StepKind = "index"
	StepView     StepKind = "view"
)

// Step is one DDL statement in a Plan. Skipped steps are kept so callers
// can report what was already present on the target.
type Step struct {
	Kind    StepKind
	Name    string
	CQL     string
	Skipped bool
}

// Plan is the ordered DDL needed to make a table exist on the target:
// keyspace, table, indexes, then views over the table.
type Plan struct {
	Keyspace string
	Table    string
	Steps    []Step
}

// Pending returns the steps that Apply will execute.
func (p *Plan) Pending() []Step {
	var out []Step
	for _, s := range p.Steps {
		if !s.Skipped {
			out = append(out, s)
		}
	}
	return out
}

// NewPlan builds the DDL plan for table from the source keyspace src.
// Keyspace and table creation are skipped when the target already has
// them; index and view statements are always planned and rely on
// IF NOT EXISTS to be repeatable.
func NewPlan(ctx context.Context, target cql.Session, src *KeyspaceSchema, table string) (*Plan, error) {
	t, err := src.Table(table)
	if err != nil {
		return nil, fmt.Errorf("schema: %s.%s: %w", src.Name, table, err)
	}
	p := &Plan{Keyspace: src.Name, Table: table}

	ksExists, err := KeyspaceExists(ctx, target, src.Name)
	if err != nil {
		return nil, fmt.Errorf("schema: check target keyspace %s: %w", src.Name, err)
	}
	p.Steps = append(p.Steps, Step{Kind: StepKeyspace, Name: src.Name, CQL: CreateKeyspaceCQL(src), Skipped: ksExists})

	tblExists := false
	if ksExists {
		tblExists, err = TableExists(ctx, target, src.Name, table)
		if err != nil {
			return nil, fmt.Errorf("schema: check target table %s.%s: %w", src.Name, table, err)
		}
	}
	p.Steps = append(p.Steps, Step{Kind: StepTable, Name: table, CQL: CreateTableCQL(t), Skipped: tblExists})

	for _, idx := range t.Indexes {
		p.Steps = append(p.Steps, Step{Kind: StepIndex, Name: idx.Name, CQL: CreateIndexCQL(src.Name, idx)})
	}
	for _, v := range src.ViewsOf(table) {
		p.Steps = append(p.Steps, Step{Kind: StepView, Name: v.Name, CQL: CreateViewCQL(src.Name, v)})
	}
	return p, nil
}

// Apply executes the pending steps in order and stops at the first failure.
func (p *Plan) Apply(ctx context.Context, target cql.Session) error {
	for _, s := range p.Steps {
		if s.Skipped {
			log.Printf("schema: %s %s exists on target, skipping", s.Kind, s.Name)
			continue
		}
		log.Printf("schema: creating %s %s", s.Kind, s.Name)
		if err := target.Exec(ctx, s.CQL); err != nil {
			return fmt.Errorf("schema: create %s %s: %w", s.Kind, s.Name, err)
		}
	}
	return nil
}

// Translate reads keyspace from source and creates keyspace.table with its
// indexes and views on target. Source lookups finish before any DDL runs,
// so a missing keyspace or table leaves the target untouched.
func Translate(ctx context.Context, source, target cql.Session, keyspace, table string) (*TableSchema, *Plan, error) {
	src, err := Read(ctx, source, keyspace)
	if err != nil {
		return nil, nil, err
	}
	t, err := src.Table(table)
	if err != nil {
		return nil, nil, fmt.Errorf("schema: %s.%s: %w", keyspace, table, err)
	}
	p, err := NewPlan(ctx, target, src, table)
	if err != nil {
		return nil, nil, err
	}
	if err := p.Apply(ctx, target); err != nil {
		return nil, p, err
	}
	return t, p, nil
}
