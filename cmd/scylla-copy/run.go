package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/faizalrf/scylla-copy/internal/config"
	"github.com/faizalrf/scylla-copy/internal/copier"
	"github.com/faizalrf/scylla-copy/internal/cql"
	"github.com/faizalrf/scylla-copy/internal/ledger"
	"github.com/faizalrf/scylla-copy/internal/metrics"
	"github.com/faizalrf/scylla-copy/internal/metrics/datadog"
	"github.com/faizalrf/scylla-copy/internal/metrics/prompush"
	"github.com/faizalrf/scylla-copy/internal/progress"
)

// Function variables used as test seams.
var (
	connectFn          = cql.Connect
	openLedgerFn       = ledger.Open
	newRedisReporterFn = func(ctx context.Context, url, key string) (progress.Reporter, error) {
		return progress.NewRedisReporter(ctx, url, key)
	}
	newRunID = uuid.NewString
)

// run performs one copy end to end and logs a summary line. The returned
// error is non-nil when the schema phase failed, a batch aborted the run,
// or the source stopped with a read error.
func run(ctx context.Context, cfg *config.Config, stderr io.Writer) error {
	flush := setupMetrics(cfg)
	defer flush()

	runID := newRunID()
	ecfg, err := engineConfig(cfg, runID)
	if err != nil {
		return err
	}

	l, err := openLedgerFn(ctx, ledger.Config{
		Kind:  cfg.LedgerKind,
		Path:  cfg.LedgerPath,
		DSN:   cfg.LedgerDSN,
		Table: cfg.LedgerTable,
	})
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	defer func() {
		if err := l.Close(); err != nil {
			log.Printf("ledger: close: %v", err)
		}
	}()

	counter := progress.NewCounter()
	reporters := []progress.Reporter{progress.NewLogReporter()}
	if cfg.ProgressBar && !cfg.SchemaOnly {
		reporters = append(reporters, progress.NewBarReporter(stderr, fmt.Sprintf("%s.%s", cfg.Keyspace, cfg.Table)))
	}
	if cfg.RedisURL != "" {
		r, err := newRedisReporterFn(ctx, cfg.RedisURL, cfg.RedisKey)
		if err != nil {
			log.Printf("progress: redis disabled: %v", err)
		} else {
			reporters = append(reporters, r)
		}
	}

	interval := cfg.ProgressInterval
	if interval <= 0 {
		interval = time.Second
	}

	log.Printf("run: id=%s keyspace=%s table=%s batch_size=%d threads=%d policy=%s",
		runID, cfg.Keyspace, cfg.Table, ecfg.BatchSize, ecfg.Workers, ecfg.Policy)

	tracker := progress.Start(ctx, counter, interval, reporters...)
	engine := copier.New(ecfg, counter,
		copier.WithConnector(connectFn),
		copier.WithLedger(l),
	)
	res, runErr := engine.Run(ctx)
	if err := tracker.Stop(); err != nil {
		log.Printf("progress: %v", err)
	}

	log.Printf("summary: rows=%d batches=%d failed_batches=%d failed_rows=%d elapsed=%s state=%s",
		res.Rows, res.Stats.Batches, res.Stats.FailedBatches, res.Stats.FailedRows,
		res.Elapsed.Truncate(time.Millisecond), res.State)
	return runErr
}

// engineConfig maps the flat CLI configuration onto the copier's.
func engineConfig(cfg *config.Config, runID string) (copier.Config, error) {
	policy, err := copier.ParsePolicy(cfg.FailurePolicy)
	if err != nil {
		return copier.Config{}, err
	}
	cluster := func(c config.Cluster) cql.ClusterConfig {
		return cql.ClusterConfig{
			Hosts:       c.Hosts,
			Port:        c.Port,
			Username:    c.Username,
			Password:    c.Password,
			LocalDC:     c.LocalDC,
			Consistency: cfg.Consistency,
			Timeout:     cfg.Timeout,
		}
	}
	return copier.Config{
		Source:         cluster(cfg.Source),
		Target:         cluster(cfg.Target),
		Keyspace:       cfg.Keyspace,
		Table:          cfg.Table,
		BatchSize:      cfg.BatchSize,
		Workers:        cfg.ParallelThreads,
		RowConcurrency: cfg.InsertConcurrency,
		Policy:         policy,
		SchemaOnly:     cfg.SchemaOnly,
		RunID:          runID,
		Job:            cfg.Job,
		Verbose:        cfg.Verbose,
	}, nil
}

// setupMetrics installs the configured backend and returns the flush to
// defer. A backend that fails to initialise leaves metrics disabled.
func setupMetrics(cfg *config.Config) func() {
	var (
		b   metrics.Backend
		err error
	)
	switch name := strings.ToLower(cfg.MetricsBackend); name {
	case "pushgateway", "prom", "prometheus":
		b, err = prompush.NewBackend(cfg.Job, cfg.PushgatewayURL)
	case "datadog", "dogstatsd":
		b, err = datadog.NewBackend(datadog.Config{
			Addr:       cfg.DatadogAddr,
			GlobalTags: []string{"job:" + cfg.Job},
		})
	case "", "none":
		if cfg.Verbose {
			log.Printf("metrics: disabled")
		}
		return func() {}
	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", cfg.MetricsBackend)
		return func() {}
	}
	if err != nil {
		log.Printf("metrics: init %s backend: %v; metrics disabled", cfg.MetricsBackend, err)
		return func() {}
	}

	log.Printf("metrics: backend=%s job=%s", cfg.MetricsBackend, cfg.Job)
	metrics.SetBackend(b)
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Printf("metrics: flush: %v", err)
		}
	}
}
