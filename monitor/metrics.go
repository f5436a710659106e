// Copyright 2025 The Celery Exporter Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Metric names, as exposed by the Prometheus exporter.
const (
	MetricTasksTotal      = "celery_tasks_total"
	MetricTasksRuntime    = "celery_tasks_runtime_seconds"
	MetricTasksLatency    = "celery_tasks_latency_seconds"
	MetricEventsMalformed = "celery_events_malformed_total"
	MetricEventsFiltered  = "celery_events_filtered_total"
	MetricEventsProcessed = "celery_events_processed"
	MetricTasksReceived   = "celery_tasks_received"
	MetricTasksTracked    = "celery_tasks_tracked"
)

type instruments struct {
	tasks     metric.Int64Counter
	runtime   metric.Float64Histogram
	latency   metric.Float64Histogram
	malformed metric.Int64Counter
	filtered  metric.Int64Counter

	processed metric.Int64ObservableCounter
	received  metric.Int64ObservableCounter
	tracked   metric.Int64ObservableGauge
}

// newInstruments creates the monitor's instruments on m. An instrument that
// cannot be created is reported to the global OTel error handler and
// replaced by a no-op.
func newInstruments(m metric.Meter, runtimeBuckets, latencyBuckets []float64) *instruments {
	var (
		ins instruments
		err error
	)

	ins.tasks, err = m.Int64Counter(MetricTasksTotal,
		metric.WithDescription("Number of tasks per state"),
	)
	if err != nil {
		otel.Handle(err)
		ins.tasks = noop.Int64Counter{}
	}

	ins.runtime, err = m.Float64Histogram(MetricTasksRuntime,
		metric.WithDescription("Task runtime"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(runtimeBuckets...),
	)
	if err != nil {
		otel.Handle(err)
		ins.runtime = noop.Float64Histogram{}
	}

	ins.latency, err = m.Float64Histogram(MetricTasksLatency,
		metric.WithDescription("Time between a task being received and started"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	)
	if err != nil {
		otel.Handle(err)
		ins.latency = noop.Float64Histogram{}
	}

	ins.malformed, err = m.Int64Counter(MetricEventsMalformed,
		metric.WithDescription("Number of events rejected as malformed"),
	)
	if err != nil {
		otel.Handle(err)
		ins.malformed = noop.Int64Counter{}
	}

	ins.filtered, err = m.Int64Counter(MetricEventsFiltered,
		metric.WithDescription("Number of events dropped by the event filter"),
	)
	if err != nil {
		otel.Handle(err)
		ins.filtered = noop.Int64Counter{}
	}

	ins.processed, err = m.Int64ObservableCounter(MetricEventsProcessed,
		metric.WithDescription("Number of non-terminal task events processed"),
	)
	if err != nil {
		otel.Handle(err)
		ins.processed = noop.Int64ObservableCounter{}
	}

	ins.received, err = m.Int64ObservableCounter(MetricTasksReceived,
		metric.WithDescription("Number of task-received events processed"),
	)
	if err != nil {
		otel.Handle(err)
		ins.received = noop.Int64ObservableCounter{}
	}

	ins.tracked, err = m.Int64ObservableGauge(MetricTasksTracked,
		metric.WithDescription("Number of in-flight tasks currently tracked"),
	)
	if err != nil {
		otel.Handle(err)
		ins.tracked = noop.Int64ObservableGauge{}
	}

	return &ins
}

// observe registers the callback reporting the monitor's state counters.
func (m *Monitor) observe(meter metric.Meter) (metric.Registration, error) {
	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		m.mu.Lock()
		processed, received, tracked := m.state.EventCount(), m.state.TaskCount(), m.state.Tracked()
		m.mu.Unlock()

		set := metric.WithAttributeSet(m.base)
		o.ObserveInt64(m.ins.processed, int64(processed), set)
		o.ObserveInt64(m.ins.received, int64(received), set)
		o.ObserveInt64(m.ins.tracked, int64(tracked), set)
		return nil
	}, m.ins.processed, m.ins.received, m.ins.tracked)
}
