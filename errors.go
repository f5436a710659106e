// Copyright 2025 The Celery Exporter Authors
// SPDX-License-Identifier: Apache-2.0

package celery

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedEvent reports an event missing a required field.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrInvalidConfiguration reports an unusable configuration value.
	ErrInvalidConfiguration = errors.New("invalid configuration")
)

// MalformedEventError represents an event that cannot be decoded because a
// required field is missing or has the wrong type.
type MalformedEventError struct {
	Field string
	Type  string
}

// Error returns the error message.
func (e *MalformedEventError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("malformed event: missing %s", e.Field)
	}
	return fmt.Sprintf("malformed event %s: missing %s", e.Type, e.Field)
}

// Unwrap returns ErrMalformedEvent.
func (e *MalformedEventError) Unwrap() error {
	return ErrMalformedEvent
}

// InvalidConfigurationError represents a rejected configuration value.
type InvalidConfigurationError struct {
	Field string
	Value any
}

// Error returns the error message.
func (e *InvalidConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s = %v", e.Field, e.Value)
}

// Unwrap returns ErrInvalidConfiguration.
func (e *InvalidConfigurationError) Unwrap() error {
	return ErrInvalidConfiguration
}

// NewMalformedEventError creates a new MalformedEventError.
func NewMalformedEventError(field, typ string) *MalformedEventError {
	return &MalformedEventError{
		Field: field,
		Type:  typ,
	}
}

// NewInvalidConfigurationError creates a new InvalidConfigurationError.
func NewInvalidConfigurationError(field string, value any) *InvalidConfigurationError {
	return &InvalidConfigurationError{
		Field: field,
		Value: value,
	}
}
