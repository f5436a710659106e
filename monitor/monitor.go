// Copyright 2025 The Celery Exporter Authors
// SPDX-License-Identifier: Apache-2.0

// Package monitor turns Celery task events into OpenTelemetry metrics.
//
// A [Monitor] owns a [state.State] and serializes access to it, so
// ProcessEvent is safe for concurrent use.
package monitor

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	celery "github.com/OvalMoney/celery-exporter"
	"github.com/OvalMoney/celery-exporter/state"
)

const instrumentationName = "github.com/OvalMoney/celery-exporter/monitor"

// DefaultBuckets are the histogram boundaries used unless [WithBuckets] is given.
var DefaultBuckets = []float64{.005, .01, .025, .05, .075, .1, .25, .5, .75, 1, 2.5, 5, 7.5, 10}

// Attribute keys of the task metrics.
const (
	AttrNamespace = attribute.Key("namespace")
	AttrName      = attribute.Key("name")
	AttrState     = attribute.Key("state")
	AttrQueue     = attribute.Key("queue")
)

// Monitor feeds events through a [state.State] and records the outcomes.
type Monitor struct {
	mu    sync.Mutex
	state *state.State

	namespace      string
	logger         *slog.Logger
	meter          metric.Meter
	tracer         trace.Tracer
	filter         *Filter
	runtimeBuckets []float64
	latencyBuckets []float64

	base attribute.Set
	ins  *instruments
	reg  metric.Registration
}

// Option represents an option for configuring the [Monitor].
type Option func(*Monitor)

// WithNamespace sets the value of the namespace attribute on every metric.
func WithNamespace(namespace string) Option {
	return func(m *Monitor) {
		m.namespace = namespace
	}
}

// WithLogger sets the [*slog.Logger] for the [Monitor].
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		m.logger = logger
	}
}

// WithMeter sets the [metric.Meter] the [Monitor] records to.
func WithMeter(meter metric.Meter) Option {
	return func(m *Monitor) {
		m.meter = meter
	}
}

// WithTracer sets the [trace.Tracer] for the [Monitor].
func WithTracer(tracer trace.Tracer) Option {
	return func(m *Monitor) {
		m.tracer = tracer
	}
}

// WithFilter drops events the filter does not allow. A nil filter allows all events.
func WithFilter(f *Filter) Option {
	return func(m *Monitor) {
		m.filter = f
	}
}

// WithBuckets sets the runtime and latency histogram boundaries, in seconds.
// A nil slice keeps [DefaultBuckets].
func WithBuckets(runtime, latency []float64) Option {
	return func(m *Monitor) {
		if runtime != nil {
			m.runtimeBuckets = slices.Clone(runtime)
		}
		if latency != nil {
			m.latencyBuckets = slices.Clone(latency)
		}
	}
}

// New creates a Monitor over st.
func New(st *state.State, opts ...Option) (*Monitor, error) {
	if st == nil {
		return nil, errors.New("monitor: state is required")
	}

	m := &Monitor{
		state:          st,
		namespace:      "celery",
		logger:         slog.Default(),
		runtimeBuckets: DefaultBuckets,
		latencyBuckets: DefaultBuckets,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.meter == nil {
		m.meter = otel.GetMeterProvider().Meter(instrumentationName)
	}
	if m.tracer == nil {
		m.tracer = otel.Tracer(instrumentationName)
	}

	m.base = attribute.NewSet(AttrNamespace.String(m.namespace))
	m.ins = newInstruments(m.meter, m.runtimeBuckets, m.latencyBuckets)

	reg, err := m.observe(m.meter)
	if err != nil {
		return nil, err
	}
	m.reg = reg

	return m, nil
}

// ProcessEvent runs evt through the state machine and records the resulting
// metrics. It reports false, with a nil error, when the filter drops evt.
// A malformed event is counted and returned as a [*celery.MalformedEventError].
func (m *Monitor) ProcessEvent(ctx context.Context, evt celery.Event) (bool, error) {
	typ, _ := evt.Type()
	ctx, span := m.tracer.Start(ctx, "celery.monitor.ProcessEvent",
		trace.WithAttributes(attribute.String("celery.event_type", typ)))
	defer span.End()

	if !m.filter.Allow(evt) {
		m.ins.filtered.Add(ctx, 1, metric.WithAttributeSet(m.base))
		m.logger.DebugContext(ctx, "event filtered", "type", typ)
		return false, nil
	}

	m.mu.Lock()
	latency, err := m.state.Latency(evt)
	var collected state.CollectOutcome
	if err == nil {
		collected, err = m.state.Collect(evt)
	}
	m.mu.Unlock()

	if err != nil {
		m.ins.malformed.Add(ctx, 1, metric.WithAttributeSet(m.base))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return true, err
	}

	if latency.OK() {
		name, queue, seconds := latency.Tuple()
		m.ins.latency.Record(ctx, *seconds, metric.WithAttributes(
			AttrNamespace.String(m.namespace),
			AttrName.String(name),
			AttrQueue.String(queue),
		))
	}

	name, st, runtime, queue := collected.Tuple()
	if runtime != nil {
		m.ins.runtime.Record(ctx, *runtime, metric.WithAttributes(
			AttrNamespace.String(m.namespace),
			AttrName.String(name),
			AttrQueue.String(queue),
		))
	}
	m.ins.tasks.Add(ctx, 1, metric.WithAttributes(
		AttrNamespace.String(m.namespace),
		AttrName.String(name),
		AttrState.String(st),
		AttrQueue.String(queue),
	))

	span.SetAttributes(attribute.String("celery.task_name", name), attribute.String("celery.task_state", st))
	m.logger.DebugContext(ctx, "event processed", "type", typ, "name", name, "state", st, "queue", queue)
	return true, nil
}

// Seed creates a zero valued task counter series for every task in queues,
// which maps task names to queues, in every state. Series then exist from
// startup instead of appearing with the first event.
func (m *Monitor) Seed(ctx context.Context, queues map[string]string) {
	for name, queue := range queues {
		for _, st := range celery.AllStates {
			m.ins.tasks.Add(ctx, 0, metric.WithAttributes(
				AttrNamespace.String(m.namespace),
				AttrName.String(name),
				AttrState.String(st.String()),
				AttrQueue.String(queue),
			))
		}
	}
	m.logger.InfoContext(ctx, "seeded task metrics", "tasks", len(queues))
}

// Close unregisters the monitor's observable instruments.
func (m *Monitor) Close() error {
	return m.reg.Unregister()
}
