// Package config holds the scylla-copy run configuration. Every option is a
// command-line flag whose default is seeded from an environment variable,
// so a .env file, the process environment and explicit flags layer in that
// order of increasing precedence.
//
// For tests, pass a private FlagSet and a map-backed getenv:
//
//	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
//	cfg, err := config.LoadFromArgs(fs, func(k string) string { return env[k] }, args)
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Cluster describes one side of the copy.
type Cluster struct {
	Hosts    []string
	Port     int
	Username string
	Password string
	LocalDC  string
}

// Config is the full set of run options. It is a plain value once parsed.
type Config struct {
	Source Cluster
	Target Cluster

	Keyspace string
	Table    string

	BatchSize         int
	ParallelThreads   int
	InsertConcurrency int
	FailurePolicy     string // "continue" or "abort"
	Consistency       string
	Timeout           time.Duration
	SchemaOnly        bool

	ProgressInterval time.Duration
	ProgressBar      bool
	RedisURL         string
	RedisKey         string

	MetricsBackend string // "none", "pushgateway" or "datadog"
	PushgatewayURL string
	DatadogAddr    string
	Job            string

	LedgerKind  string // "none", "csv" or "postgres"
	LedgerPath  string
	LedgerDSN   string
	LedgerTable string

	Validate bool
	Verbose  bool
}

// LoadDotEnv loads path into the process environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// Bind defines every flag on fs with defaults taken from getenv. The
// returned Config is filled in when fs is parsed.
func Bind(fs *pflag.FlagSet, getenv func(string) string) *Config {
	cfg := &Config{}

	str := func(k, d string) string {
		if v := getenv(k); v != "" {
			return v
		}
		return d
	}
	num := func(k string, d int) int {
		if v := getenv(k); v != "" {
			if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return i
			}
		}
		return d
	}
	boolean := func(k string, d bool) bool {
		switch strings.ToLower(strings.TrimSpace(getenv(k))) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
		return d
	}
	dur := func(k string, d time.Duration) time.Duration {
		if v := getenv(k); v != "" {
			if x, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
				return x
			}
		}
		return d
	}

	bindCluster := func(c *Cluster, side, env string) {
		fs.StringSliceVar(&c.Hosts, side+"-hosts", splitList(str(env+"_CONTACT_POINTS", "127.0.0.1")), side+" contact points, comma separated")
		fs.IntVar(&c.Port, side+"-port", num(env+"_PORT", 9042), side+" CQL port")
		fs.StringVar(&c.Username, side+"-username", getenv(env+"_USERNAME"), side+" username (empty disables authentication)")
		fs.StringVar(&c.Password, side+"-password", getenv(env+"_PASSWORD"), side+" password")
		fs.StringVar(&c.LocalDC, side+"-local-dc", getenv(env+"_LOCAL_DC"), side+" local datacenter for DC-aware routing")
	}
	bindCluster(&cfg.Source, "source", "SOURCE")
	bindCluster(&cfg.Target, "target", "TARGET")

	fs.StringVar(&cfg.Keyspace, "keyspace", getenv("KEYSPACE"), "keyspace of the table to copy")
	fs.StringVar(&cfg.Table, "table", getenv("TABLE_NAME"), "table to copy")

	fs.IntVar(&cfg.BatchSize, "batch-size", num("BATCH_SIZE", 500), "rows per batch and per source page")
	fs.IntVar(&cfg.ParallelThreads, "parallel-threads", num("PARALLEL_THREADS", 4), "batches inserted concurrently")
	fs.IntVar(&cfg.InsertConcurrency, "insert-concurrency", num("INSERT_CONCURRENCY", 100), "row inserts in flight within one batch")
	fs.StringVar(&cfg.FailurePolicy, "failure-policy", str("FAILURE_POLICY", "continue"), "on a failed batch: continue or abort")
	fs.StringVar(&cfg.Consistency, "consistency", str("CQL_CONSISTENCY", "LOCAL_QUORUM"), "consistency level for reads and writes")
	fs.DurationVar(&cfg.Timeout, "timeout", dur("CQL_TIMEOUT", 12*time.Second), "per-request driver timeout")
	fs.BoolVar(&cfg.SchemaOnly, "schema-only", boolean("SCHEMA_ONLY", false), "create the target schema and stop")

	fs.DurationVar(&cfg.ProgressInterval, "progress-interval", dur("PROGRESS_INTERVAL", time.Second), "progress reporting interval")
	fs.BoolVar(&cfg.ProgressBar, "progress-bar", boolean("PROGRESS_BAR", true), "render a console progress bar")
	fs.StringVar(&cfg.RedisURL, "progress-redis-url", getenv("PROGRESS_REDIS_URL"), "publish progress to this Redis URL")
	fs.StringVar(&cfg.RedisKey, "progress-redis-key", str("PROGRESS_REDIS_KEY", "scylla-copy:progress"), "Redis key and channel for progress")

	fs.StringVar(&cfg.MetricsBackend, "metrics-backend", str("METRICS_BACKEND", "none"), "metrics backend: none, pushgateway or datadog")
	fs.StringVar(&cfg.PushgatewayURL, "pushgateway-url", str("PUSHGATEWAY_URL", "http://localhost:9091"), "Prometheus Pushgateway URL")
	fs.StringVar(&cfg.DatadogAddr, "datadog-addr", str("DATADOG_ADDR", "127.0.0.1:8125"), "DogStatsD address")
	fs.StringVar(&cfg.Job, "job", str("JOB_NAME", "scylla-copy"), "job name used in metrics")

	fs.StringVar(&cfg.LedgerKind, "ledger", str("LEDGER_KIND", "none"), "failed-batch ledger: none, csv or postgres")
	fs.StringVar(&cfg.LedgerPath, "ledger-path", str("LEDGER_PATH", "failed_batches.csv"), "csv ledger file")
	fs.StringVar(&cfg.LedgerDSN, "ledger-dsn", getenv("LEDGER_DSN"), "postgres ledger DSN")
	fs.StringVar(&cfg.LedgerTable, "ledger-table", str("LEDGER_TABLE", "scylla_copy_failed_batches"), "postgres ledger table")

	fs.BoolVar(&cfg.Validate, "validate", false, "validate configuration and exit")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", boolean("VERBOSE", false), "log every batch")

	return cfg
}

// LoadFromArgs binds flags on fs and parses args.
func LoadFromArgs(fs *pflag.FlagSet, getenv func(string) string, args []string) (*Config, error) {
	cfg := Bind(fs, getenv)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
