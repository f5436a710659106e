// Copyright 2025 The Celery Exporter Authors
// SPDX-License-Identifier: Apache-2.0

package monitor

import (
	"fmt"

	"github.com/google/cel-go/cel"

	celery "github.com/OvalMoney/celery-exporter"
)

// Filter selects events with a CEL expression. The expression sees the
// event as the map "event", its type as "kind" and the type's category
// ("task", "worker") as "category":
//
//	category == "task" && event.hostname.startsWith("billing@")
type Filter struct {
	expr string
	prog cel.Program
}

// NewFilter compiles expr. An empty expression yields a nil *Filter, which
// allows every event.
func NewFilter(expr string) (*Filter, error) {
	if expr == "" {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("event", cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable("kind", cel.StringType),
		cel.Variable("category", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create filter environment: %w", err)
	}

	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return nil, fmt.Errorf("%w: %v", celery.NewInvalidConfigurationError("event_filter", expr), iss.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: expression must return bool, got %v",
			celery.NewInvalidConfigurationError("event_filter", expr), ast.OutputType())
	}

	prog, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", celery.NewInvalidConfigurationError("event_filter", expr), err)
	}
	return &Filter{expr: expr, prog: prog}, nil
}

// Allow reports whether evt passes the filter. Evaluation errors, such as
// a reference to a field the event lacks, reject the event.
func (f *Filter) Allow(evt celery.Event) bool {
	if f == nil {
		return true
	}

	kind, _ := evt.Type()
	out, _, err := f.prog.Eval(map[string]any{
		"event":    map[string]any(evt),
		"kind":     kind,
		"category": evt.Category(),
	})
	if err != nil {
		return false
	}
	ok, _ := out.Value().(bool)
	return ok
}

// String returns the filter expression.
func (f *Filter) String() string {
	if f == nil {
		return ""
	}
	return f.expr
}
