// Copyright 2025 The Celery Exporter Authors
// SPDX-License-Identifier: Apache-2.0

// Package lru provides a fixed capacity least-recently-used cache.
package lru

import (
	"container/list"
	"errors"
)

// ErrInvalidCapacity is returned by [New] for a capacity below one.
var ErrInvalidCapacity = errors.New("lru: capacity must be positive")

// Cache is a fixed capacity map that evicts its least-recently-used entry
// when a new key is inserted while full. Get, Put and Pop run in O(1).
//
// Cache is not safe for concurrent use.
type Cache[K comparable, V any] struct {
	capacity int
	ll       *list.List // front is most recently used
	items    map[K]*list.Element
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// New returns an empty Cache holding at most capacity entries.
func New[K comparable, V any](capacity int) (*Cache[K, V], error) {
	if capacity <= 0 {
		return nil, ErrInvalidCapacity
	}
	return &Cache[K, V]{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[K]*list.Element, capacity),
	}, nil
}

// Get returns the value stored for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.ll.MoveToFront(el)
	return el.Value.(*entry[K, V]).value, true
}

// Peek returns the value stored for key without changing its recency.
func (c *Cache[K, V]) Peek(key K) (V, bool) {
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	return el.Value.(*entry[K, V]).value, true
}

// Contains reports whether key is cached, without changing its recency.
func (c *Cache[K, V]) Contains(key K) bool {
	_, ok := c.items[key]
	return ok
}

// Put stores value for key and marks it most recently used. It reports
// whether another entry was evicted to make room.
func (c *Cache[K, V]) Put(key K, value V) (evicted bool) {
	if el, ok := c.items[key]; ok {
		el.Value.(*entry[K, V]).value = value
		c.ll.MoveToFront(el)
		return false
	}

	if c.ll.Len() >= c.capacity {
		c.removeElement(c.ll.Back())
		evicted = true
	}
	c.items[key] = c.ll.PushFront(&entry[K, V]{key: key, value: value})
	return evicted
}

// Pop removes key and returns its value.
func (c *Cache[K, V]) Pop(key K) (V, bool) {
	el, ok := c.items[key]
	if !ok {
		var zero V
		return zero, false
	}
	c.removeElement(el)
	return el.Value.(*entry[K, V]).value, true
}

// Len returns the number of cached entries.
func (c *Cache[K, V]) Len() int {
	return c.ll.Len()
}

// Cap returns the maximum number of entries.
func (c *Cache[K, V]) Cap() int {
	return c.capacity
}

// Keys returns the cached keys from most to least recently used.
func (c *Cache[K, V]) Keys() []K {
	keys := make([]K, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry[K, V]).key)
	}
	return keys
}

func (c *Cache[K, V]) removeElement(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry[K, V]).key)
}
