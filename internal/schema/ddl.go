package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// reservedWords must be double-quoted when used as identifiers.
var reservedWords = map[string]bool{
	"add": true, "allow": true, "alter": true, "and": true, "apply": true,
	"asc": true, "authorize": true, "batch": true, "begin": true, "by": true,
	"columnfamily": true, "create": true, "default": true, "delete": true,
	"desc": true, "describe": true, "drop": true, "entries": true,
	"execute": true, "from": true, "full": true, "grant": true, "if": true,
	"in": true, "index": true, "infinity": true, "insert": true, "into": true,
	"is": true, "keyspace": true, "limit": true, "materialized": true,
	"mbean": true, "mbeans": true, "modify": true, "nan": true,
	"norecursive": true, "not": true, "null": true, "of": true, "on": true,
	"or": true, "order": true, "primary": true, "rename": true,
	"replace": true, "revoke": true, "schema": true, "select": true,
	"set": true, "table": true, "to": true, "token": true, "truncate": true,
	"unlogged": true, "unset": true, "update": true, "use": true,
	"using": true, "view": true, "where": true, "with": true,
}

// QuoteIdentifier returns name as it must appear in CQL text so that the
// server resolves it to exactly the same (case-sensitive) identifier.
func QuoteIdentifier(name string) string {
	if name == "" || reservedWords[strings.ToLower(name)] || !plainIdentifier(name) {
		return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
	}
	return name
}

func plainIdentifier(name string) bool {
	for i, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c == '_':
		case c >= '0' && c <= '9':
			if i == 0 {
				return false
			}
		default:
			return false
		}
	}
	return true
}

func qualified(keyspace, name string) string {
	return QuoteIdentifier(keyspace) + "." + QuoteIdentifier(name)
}

// CreateKeyspaceCQL renders the keyspace with its replication map as read
// from the source. The class entry comes first, the rest sorted by key.
func CreateKeyspaceCQL(ks *KeyspaceSchema) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE KEYSPACE IF NOT EXISTS %s WITH replication = %s",
		QuoteIdentifier(ks.Name), replicationLiteral(ks.Replication))
	if !ks.DurableWrites {
		sb.WriteString(" AND durable_writes = false")
	}
	return sb.String()
}

func replicationLiteral(r Replication) string {
	keys := make([]string, 0, len(r))
	for k := range r {
		if k != "class" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := r["class"]; ok {
		keys = append([]string{"class"}, keys...)
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = quoteString(k) + ": " + quoteString(r[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

// CreateTableCQL renders the table with its full column set, primary key,
// clustering order and portable options.
func CreateTableCQL(t *TableSchema) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE TABLE IF NOT EXISTS %s (\n", qualified(t.Keyspace, t.Name))
	for _, c := range t.Columns {
		fmt.Fprintf(&sb, "    %s %s", QuoteIdentifier(c.Name), c.Type)
		if c.Kind == KindStatic {
			sb.WriteString(" STATIC")
		}
		sb.WriteString(",\n")
	}
	fmt.Fprintf(&sb, "    PRIMARY KEY (%s)\n)", primaryKey(t.PartitionKey(), t.ClusteringKey()))
	writeWith(&sb, t.ClusteringKey(), t.Options)
	return sb.String()
}

// CreateIndexCQL renders a secondary index. The target option is used as
// stored, which already carries keys()/values()/entries()/full() wrappers.
func CreateIndexCQL(keyspace string, idx IndexDefinition) string {
	var sb strings.Builder
	sb.WriteString("CREATE ")
	if idx.Kind == "CUSTOM" {
		sb.WriteString("CUSTOM ")
	}
	fmt.Fprintf(&sb, "INDEX IF NOT EXISTS %s ON %s (%s)",
		QuoteIdentifier(idx.Name), qualified(keyspace, idx.Table), indexTarget(idx.Options["target"]))
	if idx.Kind == "CUSTOM" {
		if class := idx.Options["class_name"]; class != "" {
			fmt.Fprintf(&sb, " USING %s", quoteString(class))
		}
		extra := make(map[string]string)
		for k, v := range idx.Options {
			if k != "target" && k != "class_name" {
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			fmt.Fprintf(&sb, " WITH OPTIONS = %s", mapLiteral(extra))
		}
	}
	return sb.String()
}

// indexTarget turns a stored index target into CREATE INDEX syntax. Scylla
// stores local secondary index targets as JSON, {"pk":["id"],"ck":["v"]},
// which becomes (id), v. Anything else is already CQL.
func indexTarget(raw string) string {
	if !strings.HasPrefix(strings.TrimSpace(raw), "{") {
		return raw
	}
	var local struct {
		PK []string `json:"pk"`
		CK []string `json:"ck"`
	}
	if err := json.Unmarshal([]byte(raw), &local); err != nil || len(local.PK) == 0 {
		return raw
	}
	quote := func(names []string) string {
		out := make([]string, len(names))
		for i, n := range names {
			out[i] = QuoteIdentifier(n)
		}
		return strings.Join(out, ", ")
	}
	target := "(" + quote(local.PK) + ")"
	if len(local.CK) > 0 {
		target += ", " + quote(local.CK)
	}
	return target
}

// CreateViewCQL renders a materialized view over its base table.
func CreateViewCQL(keyspace string, v *ViewDefinition) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "CREATE MATERIALIZED VIEW IF NOT EXISTS %s AS\n", qualified(keyspace, v.Name))
	sb.WriteString("    SELECT ")
	if v.IncludeAllColumns || len(v.Columns) == 0 {
		sb.WriteString("*")
	} else {
		names := make([]string, len(v.Columns))
		for i, c := range v.Columns {
			names[i] = QuoteIdentifier(c.Name)
		}
		sb.WriteString(strings.Join(names, ", "))
	}
	fmt.Fprintf(&sb, " FROM %s\n", qualified(keyspace, v.BaseTable))
	if v.WhereClause != "" {
		fmt.Fprintf(&sb, "    WHERE %s\n", v.WhereClause)
	}
	pk := keyColumns(v.Columns, KindPartitionKey)
	ck := keyColumns(v.Columns, KindClustering)
	fmt.Fprintf(&sb, "    PRIMARY KEY (%s)", primaryKey(pk, ck))
	writeWith(&sb, ck, v.Options)
	return sb.String()
}

func primaryKey(pk, ck []ColumnDefinition) string {
	names := func(cols []ColumnDefinition) []string {
		out := make([]string, len(cols))
		for i, c := range cols {
			out[i] = QuoteIdentifier(c.Name)
		}
		return out
	}
	head := strings.Join(names(pk), ", ")
	if len(pk) > 1 {
		head = "(" + head + ")"
	}
	if len(ck) == 0 {
		return head
	}
	return head + ", " + strings.Join(names(ck), ", ")
}

func writeWith(sb *strings.Builder, ck []ColumnDefinition, opts Options) {
	var clauses []string
	if len(ck) > 0 {
		order := make([]string, len(ck))
		for i, c := range ck {
			dir := "ASC"
			if strings.EqualFold(c.ClusteringOrder, "desc") {
				dir = "DESC"
			}
			order[i] = QuoteIdentifier(c.Name) + " " + dir
		}
		clauses = append(clauses, "CLUSTERING ORDER BY ("+strings.Join(order, ", ")+")")
	}
	keys := make([]string, 0, len(opts))
	for k := range opts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		clauses = append(clauses, k+" = "+literal(opts[k]))
	}
	if len(clauses) > 0 {
		sb.WriteString(" WITH ")
		sb.WriteString(strings.Join(clauses, "\n    AND "))
	}
}

func literal(v any) string {
	switch x := v.(type) {
	case string:
		return quoteString(x)
	case map[string]string:
		return mapLiteral(x)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	default:
		return quoteString(fmt.Sprint(x))
	}
}

func mapLiteral(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = quoteString(k) + ": " + quoteString(m[k])
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
