// Copyright 2025 The Celery Exporter Authors
// SPDX-License-Identifier: Apache-2.0

package celery

// Task is the record kept for one task instance. UUID and Name hold
// MissingData when the events seen so far did not carry them.
type Task struct {
	UUID string
	Name string

	// LocalReceived is the local_received timestamp, in seconds, of the
	// event this record was decoded from.
	LocalReceived float64

	// Runtime is the execution time reported by a SUCCESS or FAILURE event.
	Runtime *float64

	State TaskState
}

// NewTask returns a Task with every field at its default.
func NewTask() Task {
	return Task{
		UUID:  MissingData,
		Name:  MissingData,
		State: TaskStateUndefined,
	}
}

// DecodeTask builds a Task from evt.
//
// The event type is required. For task events local_received is required
// too; uuid, name and runtime are optional. Events of any other category
// decode to a default Task in state UNDEFINED.
func DecodeTask(evt Event) (Task, error) {
	task := NewTask()

	typ, ok := evt.Type()
	if !ok {
		return Task{}, NewMalformedEventError(FieldType, "")
	}
	if evt.Category() != TaskCategory {
		return task, nil
	}

	if id, ok := evt.identity(); ok {
		task.UUID = id
	}
	task.State = StateFromEvent(evt.Subject())

	received, ok := evt.Number(FieldLocalReceived)
	if !ok {
		return Task{}, NewMalformedEventError(FieldLocalReceived, typ)
	}
	task.LocalReceived = received

	if name, ok := evt.Text(FieldName); ok {
		task.Name = name
	}
	if runtime, ok := evt.Number(FieldRuntime); ok {
		task.Runtime = &runtime
	}

	return task, nil
}
