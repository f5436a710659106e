// Copyright 2025 The Celery Exporter Authors
// SPDX-License-Identifier: Apache-2.0

package celery

const (
	// MissingData is the text rendered in place of an absent task name,
	// identity or queue. Internally it is also the cache key shared by
	// events that carry no uuid.
	MissingData = "undefined"

	// DefaultQueue is the queue Celery routes tasks to when no route matches.
	DefaultQueue = "celery"

	// TaskCategory is the event type prefix of task lifecycle events.
	TaskCategory = "task"
)

// Event record field names.
const (
	FieldType          = "type"
	FieldUUID          = "uuid"
	FieldName          = "name"
	FieldQueue         = "queue"
	FieldRuntime       = "runtime"
	FieldLocalReceived = "local_received"
	FieldHostname      = "hostname"
)
