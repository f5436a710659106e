// Copyright 2025 The Celery Exporter Authors
// SPDX-License-Identifier: Apache-2.0

// Package celery provides the Celery task event model used by the exporter:
// task states, the per-task record and the decoded event record.
package celery

// TaskState represents the state of a Celery task as derived from the
// subject of a task event.
type TaskState string

const (
	// TaskStatePending indicates the task was sent by a producer.
	TaskStatePending TaskState = "PENDING"

	// TaskStateReceived indicates a worker received the task.
	TaskStateReceived TaskState = "RECEIVED"

	// TaskStateStarted indicates a worker started executing the task.
	TaskStateStarted TaskState = "STARTED"

	// TaskStateFailure indicates the task raised an exception.
	TaskStateFailure TaskState = "FAILURE"

	// TaskStateRetry indicates the task is being retried.
	TaskStateRetry TaskState = "RETRY"

	// TaskStateSuccess indicates the task finished successfully.
	TaskStateSuccess TaskState = "SUCCESS"

	// TaskStateRevoked indicates the task was revoked.
	TaskStateRevoked TaskState = "REVOKED"

	// TaskStateRejected indicates a worker rejected the task.
	TaskStateRejected TaskState = "REJECTED"

	// TaskStateUndefined is used for unknown subjects and non-task events.
	TaskStateUndefined TaskState = "UNDEFINED"
)

// AllStates lists every TaskState, in lifecycle order.
var AllStates = []TaskState{
	TaskStatePending,
	TaskStateReceived,
	TaskStateStarted,
	TaskStateFailure,
	TaskStateRetry,
	TaskStateSuccess,
	TaskStateRevoked,
	TaskStateRejected,
	TaskStateUndefined,
}

// StateFromEvent maps an event subject (the part of the event type after
// "task-") to a TaskState.
func StateFromEvent(subject string) TaskState {
	switch subject {
	case "sent":
		return TaskStatePending
	case "received":
		return TaskStateReceived
	case "started":
		return TaskStateStarted
	case "failed":
		return TaskStateFailure
	case "retried":
		return TaskStateRetry
	case "succeeded":
		return TaskStateSuccess
	case "revoked":
		return TaskStateRevoked
	case "rejected":
		return TaskStateRejected
	default:
		return TaskStateUndefined
	}
}

// IsTerminal reports whether the state ends active tracking of a task.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskStateSuccess, TaskStateFailure, TaskStateRevoked:
		return true
	default:
		return false
	}
}

// String returns the upper case name of the state.
func (s TaskState) String() string {
	return string(s)
}
