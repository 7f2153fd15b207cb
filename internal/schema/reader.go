package schema

import (
	"context"
	"fmt"

	"github.com/faizalrf/scylla-copy/internal/cql"
)

const (
	selectKeyspace = "SELECT keyspace_name, replication, durable_writes FROM system_schema.keyspaces WHERE keyspace_name = ?"
	selectTables   = "SELECT * FROM system_schema.tables WHERE keyspace_name = ?"
	selectTable    = "SELECT table_name FROM system_schema.tables WHERE keyspace_name = ? AND table_name = ?"
	selectColumns  = "SELECT table_name, column_name, type, kind, position, clustering_order FROM system_schema.columns WHERE keyspace_name = ?"
	selectIndexes  = "SELECT table_name, index_name, kind, options FROM system_schema.indexes WHERE keyspace_name = ?"
	selectViews    = "SELECT * FROM system_schema.views WHERE keyspace_name = ?"
)

// Read loads a keyspace with every table, index and view it contains.
// It returns ErrKeyspaceNotFound when the keyspace does not exist.
func Read(ctx context.Context, s cql.Session, keyspace string) (*KeyspaceSchema, error) {
	ks := &KeyspaceSchema{
		Name:   keyspace,
		Tables: make(map[string]*TableSchema),
		Views:  make(map[string]*ViewDefinition),
	}

	found := false
	err := eachMap(s.Iter(ctx, selectKeyspace, 0, keyspace), func(m map[string]any) {
		found = true
		ks.Replication = Replication(asStringMap(m["replication"]))
		ks.DurableWrites = asBool(m["durable_writes"], true)
	})
	if err != nil {
		return nil, fmt.Errorf("schema: read keyspace %s: %w", keyspace, err)
	}
	if !found {
		return nil, fmt.Errorf("schema: %s: %w", keyspace, ErrKeyspaceNotFound)
	}

	err = eachMap(s.Iter(ctx, selectTables, 0, keyspace), func(m map[string]any) {
		name := asString(m["table_name"])
		ks.Tables[name] = &TableSchema{Keyspace: keyspace, Name: name, Options: pickOptions(m)}
	})
	if err != nil {
		return nil, fmt.Errorf("schema: read tables of %s: %w", keyspace, err)
	}

	err = eachMap(s.Iter(ctx, selectViews, 0, keyspace), func(m map[string]any) {
		name := asString(m["view_name"])
		ks.Views[name] = &ViewDefinition{
			Name:              name,
			BaseTable:         asString(m["base_table_name"]),
			WhereClause:       asString(m["where_clause"]),
			IncludeAllColumns: asBool(m["include_all_columns"], false),
			Options:           pickOptions(m),
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schema: read views of %s: %w", keyspace, err)
	}

	err = eachMap(s.Iter(ctx, selectColumns, 0, keyspace), func(m map[string]any) {
		col := ColumnDefinition{
			Name:            asString(m["column_name"]),
			Type:            asString(m["type"]),
			Kind:            ColumnKind(asString(m["kind"])),
			Position:        asInt(m["position"]),
			ClusteringOrder: asString(m["clustering_order"]),
		}
		owner := asString(m["table_name"])
		if t, ok := ks.Tables[owner]; ok {
			t.Columns = append(t.Columns, col)
		} else if v, ok := ks.Views[owner]; ok {
			v.Columns = append(v.Columns, col)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schema: read columns of %s: %w", keyspace, err)
	}

	err = eachMap(s.Iter(ctx, selectIndexes, 0, keyspace), func(m map[string]any) {
		idx := IndexDefinition{
			Name:    asString(m["index_name"]),
			Table:   asString(m["table_name"]),
			Kind:    asString(m["kind"]),
			Options: asStringMap(m["options"]),
		}
		if t, ok := ks.Tables[idx.Table]; ok {
			t.Indexes = append(t.Indexes, idx)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schema: read indexes of %s: %w", keyspace, err)
	}

	for _, t := range ks.Tables {
		sortColumns(t.Columns)
		for _, idx := range t.Indexes {
			// Scylla backs global secondary indexes with a hidden view that
			// the index statement recreates on its own.
			if v, ok := ks.Views[idx.Name+"_index"]; ok && v.BaseTable == t.Name {
				delete(ks.Views, v.Name)
			}
		}
	}
	for _, v := range ks.Views {
		sortColumns(v.Columns)
	}
	return ks, nil
}

// KeyspaceExists reports whether keyspace is defined on the cluster.
func KeyspaceExists(ctx context.Context, s cql.Session, keyspace string) (bool, error) {
	found := false
	err := eachMap(s.Iter(ctx, selectKeyspace, 0, keyspace), func(map[string]any) { found = true })
	return found, err
}

// TableExists reports whether keyspace.table is defined on the cluster.
func TableExists(ctx context.Context, s cql.Session, keyspace, table string) (bool, error) {
	found := false
	err := eachMap(s.Iter(ctx, selectTable, 0, keyspace, table), func(map[string]any) { found = true })
	return found, err
}

func eachMap(it cql.Iter, fn func(map[string]any)) error {
	for {
		m, ok := it.MapRow()
		if !ok {
			break
		}
		fn(m)
	}
	return it.Close()
}

// portableOptions are the table options every supported server version
// accepts in CREATE TABLE and CREATE MATERIALIZED VIEW.
var portableOptions = []string{
	"bloom_filter_fp_chance",
	"caching",
	"comment",
	"compaction",
	"compression",
	"crc_check_chance",
	"default_time_to_live",
	"gc_grace_seconds",
	"max_index_interval",
	"memtable_flush_period_in_ms",
	"min_index_interval",
	"speculative_retry",
}

func pickOptions(m map[string]any) Options {
	out := make(Options)
	for _, k := range portableOptions {
		v, ok := m[k]
		if !ok || v == nil {
			continue
		}
		if s, isStr := v.(string); isStr && s == "" && k != "comment" {
			continue
		}
		out[k] = v
	}
	return out
}

func asString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case nil:
		return ""
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func asInt(v any) int {
	switch x := v.(type) {
	case int:
		return x
	case int32:
		return int(x)
	case int64:
		return int(x)
	default:
		return -1
	}
}

func asBool(v any, def bool) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	return def
}

func asStringMap(v any) map[string]string {
	switch x := v.(type) {
	case map[string]string:
		return x
	case map[string]any:
		out := make(map[string]string, len(x))
		for k, val := range x {
			out[k] = asString(val)
		}
		return out
	default:
		return map[string]string{}
	}
}
