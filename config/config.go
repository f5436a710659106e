// Copyright 2025 The Celery Exporter Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the exporter configuration from a YAML file and
// CELERY_EXPORTER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	celery "github.com/OvalMoney/celery-exporter"
	"github.com/OvalMoney/celery-exporter/monitor"
)

// EnvPrefix prefixes every environment variable read by [FromEnv].
const EnvPrefix = "CELERY_EXPORTER_"

// Config is the top-level exporter configuration.
type Config struct {
	ListenAddress string `yaml:"listen_address"`
	MaxTasks      int    `yaml:"max_tasks"`
	Namespace     string `yaml:"namespace"`

	// Queue is the queue assumed for tasks that match no entry of TaskRoutes.
	Queue string `yaml:"queue"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// EventFilter is an optional CEL expression; events for which it
	// evaluates to false are dropped before processing.
	EventFilter string `yaml:"event_filter"`

	// IngestKey enables HS256 bearer token authentication on event ingest.
	IngestKey string `yaml:"ingest_key"`

	Buckets Buckets `yaml:"buckets"`

	// TaskRoutes maps task name patterns ("tasks.add", "tasks.*", "*") to queues.
	TaskRoutes map[string]string `yaml:"task_routes"`

	// RegisteredTasks lists task names whose metric series are created at
	// startup, before any event for them arrives.
	RegisteredTasks []string `yaml:"registered_tasks"`
}

// Buckets holds histogram bucket boundaries in seconds.
type Buckets struct {
	Runtime []float64 `yaml:"runtime"`
	Latency []float64 `yaml:"latency"`
}

// Default returns built-in defaults.
func Default() Config {
	return Config{
		ListenAddress: "0.0.0.0:9540",
		MaxTasks:      10000,
		Namespace:     "celery",
		Queue:         celery.DefaultQueue,
		LogLevel:      "info",
		LogFormat:     "text",
		Buckets: Buckets{
			Runtime: slices.Clone(monitor.DefaultBuckets),
			Latency: slices.Clone(monitor.DefaultBuckets),
		},
	}
}

// Load reads a YAML configuration file over the defaults. If path is empty,
// it returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// FromEnv overlays CELERY_EXPORTER_* environment variables onto cfg.
func FromEnv(cfg *Config) error {
	if v := os.Getenv(EnvPrefix + "LISTEN_ADDRESS"); v != "" {
		cfg.ListenAddress = v
	}
	if v := os.Getenv(EnvPrefix + "MAX_TASKS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sMAX_TASKS: %w", EnvPrefix, err)
		}
		cfg.MaxTasks = n
	}
	if v := os.Getenv(EnvPrefix + "NAMESPACE"); v != "" {
		cfg.Namespace = v
	}
	if v := os.Getenv(EnvPrefix + "QUEUE"); v != "" {
		cfg.Queue = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		cfg.LogFormat = v
	}
	if v := os.Getenv(EnvPrefix + "EVENT_FILTER"); v != "" {
		cfg.EventFilter = v
	}
	if v := os.Getenv(EnvPrefix + "INGEST_KEY"); v != "" {
		cfg.IngestKey = v
	}
	if v := os.Getenv(EnvPrefix + "REGISTERED_TASKS"); v != "" {
		cfg.RegisteredTasks = nil
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				cfg.RegisteredTasks = append(cfg.RegisteredTasks, p)
			}
		}
	}
	return nil
}

// Validate reports the first invalid field of c.
func (c Config) Validate() error {
	if c.MaxTasks <= 0 {
		return celery.NewInvalidConfigurationError("max_tasks", c.MaxTasks)
	}
	if _, _, err := net.SplitHostPort(c.ListenAddress); err != nil {
		return celery.NewInvalidConfigurationError("listen_address", c.ListenAddress)
	}
	if c.Namespace == "" {
		return celery.NewInvalidConfigurationError("namespace", c.Namespace)
	}
	if c.Queue == "" {
		return celery.NewInvalidConfigurationError("queue", c.Queue)
	}
	if _, err := c.Level(); err != nil {
		return celery.NewInvalidConfigurationError("log_level", c.LogLevel)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return celery.NewInvalidConfigurationError("log_format", c.LogFormat)
	}
	if !increasing(c.Buckets.Runtime) {
		return celery.NewInvalidConfigurationError("buckets.runtime", c.Buckets.Runtime)
	}
	if !increasing(c.Buckets.Latency) {
		return celery.NewInvalidConfigurationError("buckets.latency", c.Buckets.Latency)
	}
	return nil
}

// Level parses LogLevel ("debug", "info", "warn", "error").
func (c Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

// Queues resolves the queue of every registered task through TaskRoutes.
func (c Config) Queues() map[string]string {
	return ResolveQueues(c.RegisteredTasks, c.TaskRoutes, c.Queue)
}

func increasing(b []float64) bool {
	for i := 1; i < len(b); i++ {
		if b[i] <= b[i-1] {
			return false
		}
	}
	return true
}
