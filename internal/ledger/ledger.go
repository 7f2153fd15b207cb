// Package ledger records batches that failed to insert, so rows lost by a
// best-effort copy can be found and re-copied afterwards.
package ledger

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Entry describes one failed batch.
type Entry struct {
	RunID    string
	Keyspace string
	Table    string
	Seq      int64
	Rows     int
	Written  int64 // rows the driver acknowledged before the batch failed
	FirstKey string
	LastKey  string
	Digest   uint64
	Err      string
	At       time.Time
}

// Ledger stores entries. Record is called concurrently by batch workers.
type Ledger interface {
	Record(ctx context.Context, e Entry) error
	Close() error
}

// Config selects and configures a ledger sink.
type Config struct {
	Kind  string // "none", "csv" or "postgres"
	Path  string // csv
	DSN   string // postgres
	Table string // postgres
}

// Factory opens a ledger of one kind.
type Factory func(ctx context.Context, cfg Config) (Ledger, error)

var (
	regMu    sync.RWMutex
	registry = map[string]Factory{}
)

// Register makes a ledger kind available to Open. Sinks call it from init.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	registry[strings.ToLower(kind)] = f
}

// Kinds lists the registered ledger kinds.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Open returns the ledger for cfg.Kind. An empty kind means "none".
func Open(ctx context.Context, cfg Config) (Ledger, error) {
	kind := strings.ToLower(cfg.Kind)
	if kind == "" {
		kind = "none"
	}
	regMu.RLock()
	f, ok := registry[kind]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("ledger: unknown kind %q (have %s)", cfg.Kind, strings.Join(Kinds(), ", "))
	}
	return f(ctx, cfg)
}

// Nop discards every entry.
type Nop struct{}

func (Nop) Record(context.Context, Entry) error { return nil }
func (Nop) Close() error                        { return nil }

func init() {
	Register("none", func(context.Context, Config) (Ledger, error) { return Nop{}, nil })
}
