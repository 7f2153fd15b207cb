// Package schema reads keyspace and table metadata from a cluster's
// system_schema tables and replays it as DDL against another cluster.
//
// Column types, replication settings and table options are carried as
// opaque text and maps. Nothing here interprets a column value; the copier
// only needs the column order to bind rows positionally.
package schema

import (
	"errors"
	"sort"
)

var (
	// ErrKeyspaceNotFound means the keyspace is absent on the source cluster.
	ErrKeyspaceNotFound = errors.New("keyspace not found")
	// ErrTableNotFound means the table is absent from the source keyspace.
	ErrTableNotFound = errors.New("table not found")
)

// ColumnKind is the role a column plays in the primary key.
type ColumnKind string

const (
	KindPartitionKey ColumnKind = "partition_key"
	KindClustering   ColumnKind = "clustering"
	KindStatic       ColumnKind = "static"
	KindRegular      ColumnKind = "regular"
)

func (k ColumnKind) rank() int {
	switch k {
	case KindPartitionKey:
		return 0
	case KindClustering:
		return 1
	case KindStatic:
		return 2
	default:
		return 3
	}
}

// ColumnDefinition is one column as reported by system_schema.columns.
type ColumnDefinition struct {
	Name            string
	Type            string // CQL type text, e.g. "frozen<map<text, int>>"
	Kind            ColumnKind
	Position        int    // index within the partition or clustering key, -1 otherwise
	ClusteringOrder string // "asc", "desc" or "none"
}

// Replication is the keyspace replication map, passed through unmodified.
type Replication map[string]string

// Options holds table or view options keyed by option name, with values as
// the driver decoded them (strings, numbers, text maps).
type Options map[string]any

// IndexDefinition is a secondary index on a table.
type IndexDefinition struct {
	Name    string
	Table   string
	Kind    string // COMPOSITES, KEYS or CUSTOM
	Options map[string]string
}

// ViewDefinition is a materialized view over a base table.
type ViewDefinition struct {
	Name              string
	BaseTable         string
	WhereClause       string
	IncludeAllColumns bool
	Columns           []ColumnDefinition
	Options           Options
}

// TableSchema is a table with its columns in binding order.
type TableSchema struct {
	Keyspace string
	Name     string
	Columns  []ColumnDefinition
	Indexes  []IndexDefinition
	Options  Options
}

// ColumnNames returns the column names in binding order.
func (t *TableSchema) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// PartitionKey returns the partition key columns ordered by position.
func (t *TableSchema) PartitionKey() []ColumnDefinition {
	return keyColumns(t.Columns, KindPartitionKey)
}

// ClusteringKey returns the clustering columns ordered by position.
func (t *TableSchema) ClusteringKey() []ColumnDefinition {
	return keyColumns(t.Columns, KindClustering)
}

// KeyIndexes returns the positions within Columns of the primary key columns.
func (t *TableSchema) KeyIndexes() []int {
	var out []int
	for _, k := range append(t.PartitionKey(), t.ClusteringKey()...) {
		for i, c := range t.Columns {
			if c.Name == k.Name {
				out = append(out, i)
				break
			}
		}
	}
	return out
}

// KeyspaceSchema is a keyspace with the tables and views read alongside it.
type KeyspaceSchema struct {
	Name          string
	Replication   Replication
	DurableWrites bool
	Tables        map[string]*TableSchema
	Views         map[string]*ViewDefinition
}

// Table looks up a table by its exact (case-sensitive) name.
func (k *KeyspaceSchema) Table(name string) (*TableSchema, error) {
	t, ok := k.Tables[name]
	if !ok {
		return nil, ErrTableNotFound
	}
	return t, nil
}

// ViewsOf returns the views whose base table is table, sorted by name.
func (k *KeyspaceSchema) ViewsOf(table string) []*ViewDefinition {
	var out []*ViewDefinition
	for _, v := range k.Views {
		if v.BaseTable == table {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func keyColumns(cols []ColumnDefinition, kind ColumnKind) []ColumnDefinition {
	var out []ColumnDefinition
	for _, c := range cols {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Position < out[j].Position })
	return out
}

// sortColumns orders columns partition key first, then clustering, static
// and regular columns; key columns by position, the rest by name.
func sortColumns(cols []ColumnDefinition) {
	sort.SliceStable(cols, func(i, j int) bool {
		a, b := cols[i], cols[j]
		if a.Kind.rank() != b.Kind.rank() {
			return a.Kind.rank() < b.Kind.rank()
		}
		if a.Position != b.Position {
			return a.Position < b.Position
		}
		return a.Name < b.Name
	})
}
