package ledger

import (
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/xxh3"
)

// KeyText renders the primary-key cells of row, e.g. "(42, 2024-01-02)".
func KeyText(row []any, keyIdx []int) string {
	parts := make([]string, 0, len(keyIdx))
	for _, i := range keyIdx {
		if i < 0 || i >= len(row) {
			continue
		}
		parts = append(parts, cellText(row[i]))
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func cellText(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case []byte:
		return fmt.Sprintf("0x%x", x)
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}

// Digest hashes the primary keys of rows in order. Two batches holding the
// same keys in the same order have the same digest.
func Digest(rows [][]any, keyIdx []int) uint64 {
	h := xxh3.New()
	for _, r := range rows {
		_, _ = h.WriteString(KeyText(r, keyIdx))
		_, _ = h.WriteString("\n")
	}
	return h.Sum64()
}

// NewEntry builds the ledger entry for a failed batch.
func NewEntry(runID, keyspace, table string, seq int64, rows [][]any, keyIdx []int, written int64, err error, at time.Time) Entry {
	e := Entry{
		RunID:    runID,
		Keyspace: keyspace,
		Table:    table,
		Seq:      seq,
		Rows:     len(rows),
		Written:  written,
		Digest:   Digest(rows, keyIdx),
		At:       at.UTC(),
	}
	if len(rows) > 0 {
		e.FirstKey = KeyText(rows[0], keyIdx)
		e.LastKey = KeyText(rows[len(rows)-1], keyIdx)
	}
	if err != nil {
		e.Err = err.Error()
	}
	return e
}
