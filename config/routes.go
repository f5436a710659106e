// Copyright 2025 The Celery Exporter Authors
// SPDX-License-Identifier: Apache-2.0

package config

import "strings"

// Wildcards returns the route patterns that can match a dotted task name,
// most specific first:
//
//	Wildcards("proj.tasks.add") == []string{"proj.tasks.add", "proj.tasks.*", "proj.*", "*"}
func Wildcards(name string) []string {
	parts := strings.Split(name, ".")
	out := make([]string, 0, len(parts)+1)
	out = append(out, name)
	for i := len(parts) - 1; i >= 0; i-- {
		out = append(out, strings.Join(append(parts[:i:i], "*"), "."))
	}
	return out
}

// ResolveQueues returns the queue of each task: the queue of the most
// specific matching route, or defaultQueue when no route matches.
func ResolveQueues(tasks []string, routes map[string]string, defaultQueue string) map[string]string {
	res := make(map[string]string, len(tasks))
	for _, task := range tasks {
		res[task] = defaultQueue
		for _, pattern := range Wildcards(task) {
			if q, ok := routes[pattern]; ok && q != "" {
				res[task] = q
				break
			}
		}
	}
	return res
}
