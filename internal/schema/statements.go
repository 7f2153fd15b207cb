package schema

import (
	"github.com/scylladb/gocqlx/v2/qb"
	"github.com/scylladb/gocqlx/v2/table"

	"github.com/faizalrf/scylla-copy/internal/cql"
)

func quotedNames(cols []ColumnDefinition) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = QuoteIdentifier(c.Name)
	}
	return out
}

// Metadata describes t for gocqlx, with identifiers already quoted.
func Metadata(t *TableSchema) table.Metadata {
	return table.Metadata{
		Name:    qualified(t.Keyspace, t.Name),
		Columns: quotedNames(t.Columns),
		PartKey: quotedNames(t.PartitionKey()),
		SortKey: quotedNames(t.ClusteringKey()),
	}
}

// SelectAll is the full-scan read of every column in binding order.
func SelectAll(t *TableSchema) cql.Prepared {
	stmt, names := qb.Select(qualified(t.Keyspace, t.Name)).Columns(quotedNames(t.Columns)...).ToCql()
	return cql.Prepared{Text: stmt, Names: names}
}

// Insert writes one row, binding values in the same column order as SelectAll.
func Insert(t *TableSchema) cql.Prepared {
	stmt, names := table.New(Metadata(t)).Insert()
	return cql.Prepared{Text: stmt, Names: names}
}
