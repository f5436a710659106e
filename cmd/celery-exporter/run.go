// Copyright 2025 The Celery Exporter Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	celery "github.com/OvalMoney/celery-exporter"
	"github.com/OvalMoney/celery-exporter/config"
	"github.com/OvalMoney/celery-exporter/monitor"
	"github.com/OvalMoney/celery-exporter/state"
	"github.com/OvalMoney/celery-exporter/transport"
)

const (
	metricsPath     = "/metrics"
	shutdownTimeout = 5 * time.Second
)

// run listens on cfg.ListenAddress and serves until ctx is done.
func run(ctx context.Context, cfg config.Config, logger *slog.Logger, events io.Reader) error {
	ln, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.ListenAddress, err)
	}
	return serve(ctx, cfg, logger, ln, events)
}

// serve exposes /metrics and the ingest endpoints on ln. When events is
// non-nil, newline delimited JSON events are also read from it.
func serve(ctx context.Context, cfg config.Config, logger *slog.Logger, ln net.Listener, events io.Reader) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	exporter, err := otelprom.New(otelprom.WithRegisterer(registry), otelprom.WithoutTargetInfo())
	if err != nil {
		return fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Error("failed to shut down meter provider", "error", err)
		}
	}()

	st, err := state.New(cfg.MaxTasks)
	if err != nil {
		return err
	}
	filter, err := monitor.NewFilter(cfg.EventFilter)
	if err != nil {
		return err
	}
	mon, err := monitor.New(st,
		monitor.WithNamespace(cfg.Namespace),
		monitor.WithLogger(logger),
		monitor.WithMeter(provider.Meter("github.com/OvalMoney/celery-exporter")),
		monitor.WithFilter(filter),
		monitor.WithBuckets(cfg.Buckets.Runtime, cfg.Buckets.Latency),
	)
	if err != nil {
		return err
	}
	defer mon.Close()

	mon.Seed(ctx, cfg.Queues())

	ingestOpts := []transport.HandlerOption{transport.WithHandlerLogger(logger)}
	if cfg.IngestKey != "" {
		ingestOpts = append(ingestOpts, transport.WithIngestKey([]byte(cfg.IngestKey)))
	}

	mux := http.NewServeMux()
	mux.Handle("GET "+metricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.Handle("/", transport.NewHandler(mon, ingestOpts...))

	srv := &http.Server{
		Handler:           h2c.NewHandler(mux, &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()
	logger.InfoContext(ctx, "celery exporter listening",
		"address", ln.Addr().String(),
		"max_tasks", cfg.MaxTasks,
		"namespace", cfg.Namespace,
		"filter", filter.String(),
	)

	if events != nil {
		go readEvents(ctx, mon, events, logger)
	}

	select {
	case <-ctx.Done():
	case err := <-errc:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// readEvents processes the event stream r until it ends, fails to decode or
// ctx is done. Malformed events are logged and skipped.
func readEvents(ctx context.Context, mon *monitor.Monitor, r io.Reader, logger *slog.Logger) {
	err := celery.DecodeStream(r, func(evt celery.Event) error {
		if _, err := mon.ProcessEvent(ctx, evt); err != nil {
			logger.DebugContext(ctx, "dropped malformed event", "error", err)
		}
		return ctx.Err()
	})
	switch {
	case err == nil:
		logger.InfoContext(ctx, "event stream ended")
	case errors.Is(err, context.Canceled):
	default:
		logger.ErrorContext(ctx, "failed to read event stream", "error", err)
	}
}
