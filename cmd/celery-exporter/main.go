// Copyright 2025 The Celery Exporter Authors
// SPDX-License-Identifier: Apache-2.0

// Command celery-exporter exposes Prometheus metrics derived from Celery
// task events pushed to it over HTTP or piped on stdin.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/OvalMoney/celery-exporter/config"
)

func init() {
	// Enable the use of the random pool for UUID generation.
	uuid.EnableRandPool()
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	def := config.Default()

	cmd := &cobra.Command{
		Use:          "celery-exporter",
		Short:        "Prometheus exporter for Celery task events",
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			var events io.Reader
			if stdin, _ := cmd.Flags().GetBool("stdin"); stdin {
				events = cmd.InOrStdin()
			}
			return run(ctx, cfg, logger, events)
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "Path to a YAML configuration file")
	flags.StringP("listen-address", "l", def.ListenAddress, "Address the HTTP server listens on")
	flags.IntP("max-tasks", "m", def.MaxTasks, "Maximum number of in-flight tasks kept in memory")
	flags.StringP("namespace", "n", def.Namespace, "Value of the namespace label on every metric")
	flags.StringP("queue", "q", def.Queue, "Queue assumed for tasks matching no task route")
	flags.Bool("verbose", false, "Enable debug logging")
	flags.String("log-format", def.LogFormat, "Log format: text|json")
	flags.String("event-filter", "", "CEL expression selecting the events to process")
	flags.String("ingest-key", "", "HS256 key required to sign ingest bearer tokens")
	flags.Bool("stdin", false, "Also read newline delimited JSON events from stdin")

	return cmd
}

// loadConfig merges, in increasing precedence, the defaults, the
// configuration file, the environment and explicitly set flags.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	flags := cmd.Flags()

	path, _ := flags.GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := config.FromEnv(&cfg); err != nil {
		return config.Config{}, err
	}

	if flags.Changed("listen-address") {
		cfg.ListenAddress, _ = flags.GetString("listen-address")
	}
	if flags.Changed("max-tasks") {
		cfg.MaxTasks, _ = flags.GetInt("max-tasks")
	}
	if flags.Changed("namespace") {
		cfg.Namespace, _ = flags.GetString("namespace")
	}
	if flags.Changed("queue") {
		cfg.Queue, _ = flags.GetString("queue")
	}
	if flags.Changed("log-format") {
		cfg.LogFormat, _ = flags.GetString("log-format")
	}
	if flags.Changed("event-filter") {
		cfg.EventFilter, _ = flags.GetString("event-filter")
	}
	if flags.Changed("ingest-key") {
		cfg.IngestKey, _ = flags.GetString("ingest-key")
	}
	if verbose, _ := flags.GetBool("verbose"); verbose {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

func newLogger(cfg config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}

	switch cfg.LogFormat {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
}
