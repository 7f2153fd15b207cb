package ledger

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"
)

var csvHeader = []string{
	"run_id", "keyspace", "table", "batch_seq", "rows", "written",
	"first_key", "last_key", "digest", "error", "recorded_at",
}

// CSVLedger appends entries to a CSV file, writing the header only when the
// file is new.
type CSVLedger struct {
	mu sync.Mutex
	f  *os.File
	w  *csv.Writer
}

// OpenCSV opens (or creates) path for appending.
func OpenCSV(path string) (*CSVLedger, error) {
	if path == "" {
		return nil, fmt.Errorf("ledger: csv path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create dir %s: %w", filepath.Dir(path), err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open %s: %w", path, err)
	}
	st, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("ledger: stat %s: %w", path, err)
	}
	l := &CSVLedger{f: f, w: csv.NewWriter(f)}
	if st.Size() == 0 {
		if err := l.write(csvHeader); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return l, nil
}

func (l *CSVLedger) Record(_ context.Context, e Entry) error {
	return l.write([]string{
		e.RunID,
		e.Keyspace,
		e.Table,
		strconv.FormatInt(e.Seq, 10),
		strconv.Itoa(e.Rows),
		strconv.FormatInt(e.Written, 10),
		e.FirstKey,
		e.LastKey,
		fmt.Sprintf("%016x", e.Digest),
		e.Err,
		e.At.Format(time.RFC3339Nano),
	})
}

func (l *CSVLedger) write(rec []string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.w.Write(rec); err != nil {
		return fmt.Errorf("ledger: write csv: %w", err)
	}
	l.w.Flush()
	return l.w.Error()
}

func (l *CSVLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		_ = l.f.Close()
		return err
	}
	return l.f.Close()
}

func init() {
	Register("csv", func(_ context.Context, cfg Config) (Ledger, error) {
		return OpenCSV(cfg.Path)
	})
}
