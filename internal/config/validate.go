package config

import (
	"fmt"
	"strings"
)

// IssueSeverity is how serious a configuration finding is.
type IssueSeverity string

const (
	// SeverityError blocks the run.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is reported but does not block the run.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is one validation finding. Path names the flag it concerns.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate performs static checks on cfg. It does not contact any cluster.
func Validate(cfg *Config) []Issue {
	var issues []Issue
	errorf := func(path, format string, args ...any) {
		issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, args...)})
	}
	warnf := func(path, format string, args ...any) {
		issues = append(issues, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, args...)})
	}

	for _, side := range []struct {
		name string
		c    Cluster
	}{{"source", cfg.Source}, {"target", cfg.Target}} {
		if len(side.c.Hosts) == 0 {
			errorf(side.name+"-hosts", "at least one contact point is required")
		}
		if side.c.Port < 1 || side.c.Port > 65535 {
			errorf(side.name+"-port", "port %d out of range", side.c.Port)
		}
		if side.c.Password != "" && side.c.Username == "" {
			warnf(side.name+"-password", "password is ignored without a username")
		}
	}

	if strings.TrimSpace(cfg.Keyspace) == "" {
		errorf("keyspace", "keyspace is required")
	}
	if strings.TrimSpace(cfg.Table) == "" {
		errorf("table", "table is required")
	}
	if cfg.BatchSize < 1 {
		errorf("batch-size", "must be positive, got %d", cfg.BatchSize)
	}
	if cfg.ParallelThreads < 1 {
		errorf("parallel-threads", "must be positive, got %d", cfg.ParallelThreads)
	}
	if cfg.InsertConcurrency < 1 {
		errorf("insert-concurrency", "must be positive, got %d", cfg.InsertConcurrency)
	}
	if cfg.BatchSize > 0 && cfg.ParallelThreads > 0 && cfg.BatchSize*cfg.ParallelThreads > 5_000_000 {
		warnf("batch-size", "up to %d rows may be held in memory at once", cfg.BatchSize*cfg.ParallelThreads)
	}

	switch strings.ToLower(cfg.FailurePolicy) {
	case "continue", "best-effort", "abort":
	default:
		errorf("failure-policy", "unknown policy %q (want continue or abort)", cfg.FailurePolicy)
	}
	if cfg.Timeout <= 0 {
		errorf("timeout", "must be positive")
	}

	switch strings.ToLower(cfg.MetricsBackend) {
	case "", "none":
	case "pushgateway", "prom", "prometheus":
		if cfg.PushgatewayURL == "" {
			errorf("pushgateway-url", "required for the pushgateway backend")
		}
	case "datadog", "dogstatsd":
		if cfg.DatadogAddr == "" {
			errorf("datadog-addr", "required for the datadog backend")
		}
	default:
		warnf("metrics-backend", "unknown backend %q; metrics disabled", cfg.MetricsBackend)
	}

	switch strings.ToLower(cfg.LedgerKind) {
	case "", "none":
		if strings.ToLower(cfg.FailurePolicy) != "abort" {
			warnf("ledger", "failed batches are only logged; set --ledger to keep a record")
		}
	case "csv":
		if cfg.LedgerPath == "" {
			errorf("ledger-path", "required for the csv ledger")
		}
	case "postgres":
		if cfg.LedgerDSN == "" {
			errorf("ledger-dsn", "required for the postgres ledger")
		}
	default:
		errorf("ledger", "unknown ledger %q (want none, csv or postgres)", cfg.LedgerKind)
	}

	if cfg.ProgressInterval <= 0 {
		warnf("progress-interval", "non-positive interval; using 1s")
	}
	return issues
}
