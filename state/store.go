// Copyright 2025 The Celery Exporter Authors
// SPDX-License-Identifier: Apache-2.0

package state

import (
	celery "github.com/OvalMoney/celery-exporter"
	"github.com/OvalMoney/celery-exporter/internal/lru"
)

// TaskStore holds the in-flight tasks under a fixed capacity, plus the last
// queue seen for each task name.
//
// Queue attribution is keyed by task name, not uuid: every in-flight task
// sharing a name reports the queue of the most recent event for that name
// which carried a queue field.
//
// TaskStore is not safe for concurrent use.
type TaskStore struct {
	tasks       *lru.Cache[string, *celery.Task]
	queueByTask map[string]string
}

// NewTaskStore creates a TaskStore tracking at most maxTasks tasks.
// Inserting beyond that silently evicts the least recently used task.
func NewTaskStore(maxTasks int) (*TaskStore, error) {
	if maxTasks <= 0 {
		return nil, celery.NewInvalidConfigurationError("max_tasks", maxTasks)
	}

	tasks, err := lru.New[string, *celery.Task](maxTasks)
	if err != nil {
		return nil, celery.NewInvalidConfigurationError("max_tasks", maxTasks)
	}

	return &TaskStore{
		tasks:       tasks,
		queueByTask: make(map[string]string),
	}, nil
}

// Get returns the task stored for uuid and marks it most recently used.
// The returned pointer aliases the stored record.
func (s *TaskStore) Get(uuid string) (*celery.Task, bool) {
	return s.tasks.Get(uuid)
}

// InsertIfAbsent stores a copy of task under its uuid unless an entry
// already exists. It returns the stored record and whether it was inserted.
// An existing entry is marked most recently used and left unchanged.
func (s *TaskStore) InsertIfAbsent(task celery.Task) (*celery.Task, bool) {
	if cached, ok := s.tasks.Get(task.UUID); ok {
		return cached, false
	}
	s.tasks.Put(task.UUID, &task)
	return &task, true
}

// Pop removes and returns the task stored for uuid.
func (s *TaskStore) Pop(uuid string) (*celery.Task, bool) {
	return s.tasks.Pop(uuid)
}

// Queue returns the queue last attributed to tasks named name.
func (s *TaskStore) Queue(name string) (string, bool) {
	q, ok := s.queueByTask[name]
	return q, ok
}

// SetQueue attributes queue to every task named name.
func (s *TaskStore) SetQueue(name, queue string) {
	s.queueByTask[name] = queue
}

// Len returns the number of tracked tasks.
func (s *TaskStore) Len() int {
	return s.tasks.Len()
}

// Cap returns the maximum number of tracked tasks.
func (s *TaskStore) Cap() int {
	return s.tasks.Cap()
}
