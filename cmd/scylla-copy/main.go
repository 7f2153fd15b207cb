// Command scylla-copy copies one table, schema and rows, from a source
// Scylla/Cassandra cluster to a target cluster.
//
// Options come from flags whose defaults are read from the environment; a
// .env file (ENV_FILE, default ".env") is loaded first when present.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/faizalrf/scylla-copy/internal/config"
)

func main() {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := config.LoadDotEnv(envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := newRootCmd(os.Getenv, os.Stderr).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the CLI. getenv seeds flag defaults; stderr receives
// validation output and the progress bar.
func newRootCmd(getenv func(string) string, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:          "scylla-copy",
		Short:        "Copy a Scylla/Cassandra table between clusters",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
	}
	cfg := config.Bind(cmd.Flags(), getenv)

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		issues := config.Validate(cfg)
		for _, iss := range issues {
			fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
		}
		if config.HasErrors(issues) {
			return fmt.Errorf("configuration is invalid")
		}
		if cfg.Validate {
			log.Printf("configuration is valid: keyspace=%s table=%s", cfg.Keyspace, cfg.Table)
			return nil
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		return run(ctx, cfg, stderr)
	}
	return cmd
}
