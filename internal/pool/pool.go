// Copyright 2025 The Celery Exporter Authors
// SPDX-License-Identifier: Apache-2.0

// Package pool provides typed object pooling and the request body buffer pool
// used by the event ingest handler.
package pool

import (
	"bytes"
	"sync"
)

// maxPooledBuffer bounds the capacity of buffers returned to [Buffers], so a
// single large batch does not pin memory for the life of the process.
const maxPooledBuffer = 1 << 20

// Pool is a generics wrapper around [sync.Pool] to provide strongly-typed object pooling.
type Pool[T any] struct {
	p    sync.Pool
	keep func(T) bool
}

// Reseter is implemented by pooled values that must be cleared before reuse.
type Reseter interface {
	Reset()
}

// New returns a new [Pool] for T, and will use fn to construct new T's when the pool is empty.
func New[T any](fn func() T) *Pool[T] {
	return &Pool[T]{
		p: sync.Pool{
			New: func() any {
				return fn()
			},
		},
	}
}

// Get gets a T from the pool, or creates a new one if the pool is empty.
func (p *Pool[T]) Get() T {
	return p.p.Get().(T)
}

// Put resets x and returns it into the pool, unless the pool's keep
// predicate rejects it.
func (p *Pool[T]) Put(x T) {
	if p.keep != nil && !p.keep(x) {
		return
	}
	if xx, ok := any(x).(Reseter); ok {
		xx.Reset()
	}
	p.p.Put(x)
}

// Buffers provides the [*bytes.Buffer] pooling objects for request bodies.
var Buffers = &Pool[*bytes.Buffer]{
	p: sync.Pool{
		New: func() any {
			return new(bytes.Buffer)
		},
	},
	keep: func(b *bytes.Buffer) bool {
		return b.Cap() <= maxPooledBuffer
	},
}
