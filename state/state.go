// Copyright 2025 The Celery Exporter Authors
// SPDX-License-Identifier: Apache-2.0

// Package state reconstructs the live state of in-flight Celery tasks from
// their lifecycle events, under a fixed memory ceiling.
//
// A [State] is a synchronous state machine: it performs no I/O and holds no
// locks. Callers feeding one State from several goroutines must serialize
// each Latency/Collect pair themselves.
//
// For every event, call [State.Latency] before [State.Collect]. Collect
// records the event's state on the cached task, so once it has run for a
// task-started event the RECEIVED record Latency needs is gone.
package state

import (
	celery "github.com/OvalMoney/celery-exporter"
)

// CollectOutcome is the result of [State.Collect]. Nil fields are unknown.
type CollectOutcome struct {
	Name    *string
	State   celery.TaskState
	Runtime *float64
	Queue   *string
}

// Tuple renders the outcome for label based sinks, with
// [celery.MissingData] in place of an unknown name or queue.
func (o CollectOutcome) Tuple() (name, state string, runtime *float64, queue string) {
	return orMissing(o.Name), o.State.String(), o.Runtime, orMissing(o.Queue)
}

// LatencyOutcome is the result of [State.Latency]. All fields are nil when
// no queueing latency could be measured.
type LatencyOutcome struct {
	Name    *string
	Queue   *string
	Latency *float64
}

// OK reports whether a latency was measured.
func (o LatencyOutcome) OK() bool {
	return o.Latency != nil
}

// Tuple renders the outcome for label based sinks, with
// [celery.MissingData] in place of an unknown name or queue.
func (o LatencyOutcome) Tuple() (name, queue string, latency *float64) {
	return orMissing(o.Name), orMissing(o.Queue), o.Latency
}

// State tracks in-flight tasks and derives per-event metrics from them.
type State struct {
	store *TaskStore

	eventCount uint64
	taskCount  uint64
}

// New creates a State tracking at most maxTasks in-flight tasks.
// It returns a [*celery.InvalidConfigurationError] when maxTasks is not positive.
func New(maxTasks int) (*State, error) {
	store, err := NewTaskStore(maxTasks)
	if err != nil {
		return nil, err
	}
	return &State{store: store}, nil
}

// Collect processes evt and returns the task's name, state, runtime and queue.
//
// A terminal event (SUCCESS, FAILURE, REVOKED) stops tracking the task and
// reports the runtime carried by the event. Any other event is recorded: the
// task is cached if unseen, its cached state is set to the event's state, and
// a queue carried by the event is attributed to the task's name.
func (s *State) Collect(evt celery.Event) (CollectOutcome, error) {
	task, err := celery.DecodeTask(evt)
	if err != nil {
		return CollectOutcome{}, err
	}

	if task.State.IsTerminal() {
		name := task.Name
		if cached, ok := s.store.Pop(task.UUID); ok {
			name = cached.Name
		}
		return CollectOutcome{
			Name:    present(name),
			State:   task.State,
			Runtime: task.Runtime,
			Queue:   s.queue(name),
		}, nil
	}

	cached := s.event(task)
	cached.State = task.State

	name := cached.Name
	if q, ok := evt.Text(celery.FieldQueue); ok {
		s.store.SetQueue(name, q)
	}

	return CollectOutcome{
		Name:  present(name),
		State: task.State,
		Queue: s.queue(name),
	}, nil
}

// Latency returns the time a task spent between being received by a worker
// and being started, for a task-started event whose task is cached in the
// RECEIVED state. Otherwise it returns an empty outcome.
//
// The result is the difference of the two events' local_received values and
// is not clamped; clock skew can make it negative.
func (s *State) Latency(evt celery.Event) (LatencyOutcome, error) {
	task, err := celery.DecodeTask(evt)
	if err != nil {
		return LatencyOutcome{}, err
	}
	if task.State != celery.TaskStateStarted {
		return LatencyOutcome{}, nil
	}

	prev, ok := s.store.Get(task.UUID)
	if !ok || prev.State != celery.TaskStateReceived {
		return LatencyOutcome{}, nil
	}

	latency := task.LocalReceived - prev.LocalReceived
	return LatencyOutcome{
		Name:    present(prev.Name),
		Queue:   s.queue(prev.Name),
		Latency: &latency,
	}, nil
}

// event does the bookkeeping for a non-terminal event: it counts the event,
// caches the task on first sight only, and counts RECEIVED events. It
// returns the cached record; updating its state is left to the caller.
func (s *State) event(task celery.Task) *celery.Task {
	s.eventCount++

	cached, _ := s.store.InsertIfAbsent(task)

	if task.State == celery.TaskStateReceived {
		s.taskCount++
	}
	return cached
}

// EventCount returns the number of non-terminal events processed.
func (s *State) EventCount() uint64 {
	return s.eventCount
}

// TaskCount returns the number of RECEIVED events processed. A task that is
// received more than once is counted each time.
func (s *State) TaskCount() uint64 {
	return s.taskCount
}

// Tracked returns the number of tasks currently cached.
func (s *State) Tracked() int {
	return s.store.Len()
}

// MaxTasks returns the cache capacity.
func (s *State) MaxTasks() int {
	return s.store.Cap()
}

func (s *State) queue(name string) *string {
	if q, ok := s.store.Queue(name); ok {
		return &q
	}
	return nil
}

func present(s string) *string {
	if s == celery.MissingData {
		return nil
	}
	return &s
}

func orMissing(s *string) string {
	if s == nil {
		return celery.MissingData
	}
	return *s
}
