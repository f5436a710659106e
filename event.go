// Copyright 2025 The Celery Exporter Authors
// SPDX-License-Identifier: Apache-2.0

package celery

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"google.golang.org/protobuf/types/known/structpb"
)

// Event is a decoded Celery event record: a mapping of field names to
// values, as emitted by workers and producers ("type", "uuid", "name",
// "local_received", ...).
type Event map[string]any

// ParseEvent decodes a single JSON encoded event.
func ParseEvent(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("failed to parse event: %w", err)
	}
	return evt, nil
}

// EventFromStruct converts a protobuf Struct into an Event.
func EventFromStruct(s *structpb.Struct) Event {
	if s == nil {
		return nil
	}
	return Event(s.AsMap())
}

// DecodeStream reads a stream of concatenated or newline delimited JSON
// events from r and calls fn for each one, in order. It stops at the first
// error returned by fn.
func DecodeStream(r io.Reader, fn func(Event) error) error {
	dec := jsontext.NewDecoder(r)
	for {
		val, err := dec.ReadValue()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if kind := val.Kind(); kind != '{' {
			return fmt.Errorf("failed to read event: unexpected JSON %v", kind)
		}
		evt, err := ParseEvent(val)
		if err != nil {
			return err
		}
		if err := fn(evt); err != nil {
			return err
		}
	}
}

// Type returns the event type, e.g. "task-started".
func (e Event) Type() (string, bool) {
	return e.Text(FieldType)
}

// Category returns the part of the event type before the first '-'.
func (e Event) Category() string {
	typ, _ := e.Type()
	category, _, _ := strings.Cut(typ, "-")
	return category
}

// Subject returns the part of the event type after the first '-'.
func (e Event) Subject() string {
	typ, _ := e.Type()
	_, subject, _ := strings.Cut(typ, "-")
	return subject
}

// Text returns the string value of the field key.
func (e Event) Text(key string) (string, bool) {
	v, ok := e[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Number returns the numeric value of the field key as a float64.
// Integer values produced by binary codecs are converted.
func (e Event) Number(key string) (float64, bool) {
	v, ok := e[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// identity returns the uuid field rendered as text.
func (e Event) identity() (string, bool) {
	v, ok := e[FieldUUID]
	if !ok || v == nil {
		return "", false
	}
	if s, ok := v.(string); ok {
		return s, true
	}
	return fmt.Sprint(v), true
}
