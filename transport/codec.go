// Copyright 2025 The Celery Exporter Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"errors"
	"fmt"
	"mime"

	"github.com/go-json-experiment/json"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	celery "github.com/OvalMoney/celery-exporter"
)

// Supported request body media types.
const (
	MediaTypeJSON     = "application/json"
	MediaTypeNDJSON   = "application/x-ndjson"
	MediaTypeMsgpack  = "application/msgpack"
	MediaTypeProtobuf = "application/x-protobuf"
)

// ErrUnsupportedMediaType is returned for a Content-Type no codec handles.
var ErrUnsupportedMediaType = errors.New("unsupported media type")

// decodeFunc decodes a request body into a batch of events.
type decodeFunc func(data []byte) ([]celery.Event, error)

var codecs = map[string]decodeFunc{
	MediaTypeJSON:           decodeJSON,
	MediaTypeNDJSON:         decodeNDJSON,
	MediaTypeMsgpack:        decodeMsgpack,
	"application/x-msgpack": decodeMsgpack,
	MediaTypeProtobuf:       decodeProtobuf,
}

// Decode decodes a request body of the given Content-Type into events.
// An empty Content-Type is treated as JSON.
func Decode(contentType string, data []byte) ([]celery.Event, error) {
	mediaType := MediaTypeJSON
	if contentType != "" {
		mt, _, err := mime.ParseMediaType(contentType)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, contentType)
		}
		mediaType = mt
	}

	decode, ok := codecs[mediaType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedMediaType, mediaType)
	}
	return decode(data)
}

// decodeJSON accepts a single event object or an array of them.
func decodeJSON(data []byte) ([]celery.Event, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var events []celery.Event
		if err := json.Unmarshal(trimmed, &events); err != nil {
			return nil, fmt.Errorf("failed to parse event batch: %w", err)
		}
		return events, nil
	}

	evt, err := celery.ParseEvent(trimmed)
	if err != nil {
		return nil, err
	}
	return []celery.Event{evt}, nil
}

func decodeNDJSON(data []byte) ([]celery.Event, error) {
	var events []celery.Event
	err := celery.DecodeStream(bytes.NewReader(data), func(evt celery.Event) error {
		events = append(events, evt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return events, nil
}

// decodeMsgpack accepts a single map or an array of maps.
func decodeMsgpack(data []byte) ([]celery.Event, error) {
	var v any
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("failed to parse msgpack events: %w", err)
	}

	switch v := v.(type) {
	case map[string]any:
		return []celery.Event{v}, nil
	case []any:
		events := make([]celery.Event, 0, len(v))
		for i, elem := range v {
			m, ok := elem.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("failed to parse msgpack events: element %d is %T, not a map", i, elem)
			}
			events = append(events, m)
		}
		return events, nil
	default:
		return nil, fmt.Errorf("failed to parse msgpack events: unexpected %T", v)
	}
}

// decodeProtobuf accepts a serialized [structpb.ListValue] of Struct values.
func decodeProtobuf(data []byte) ([]celery.Event, error) {
	var list structpb.ListValue
	if err := proto.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse protobuf events: %w", err)
	}

	events := make([]celery.Event, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		s := v.GetStructValue()
		if s == nil {
			return nil, fmt.Errorf("failed to parse protobuf events: element %d is not a struct", i)
		}
		events = append(events, celery.EventFromStruct(s))
	}
	return events, nil
}
