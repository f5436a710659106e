// Copyright 2025 The Celery Exporter Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	celery "github.com/OvalMoney/celery-exporter"
)

// recorder accepts task events, filters worker events and rejects events
// without a type.
type recorder struct {
	mu    sync.Mutex
	types []string
}

func (r *recorder) ProcessEvent(_ context.Context, evt celery.Event) (bool, error) {
	typ, ok := evt.Type()
	if !ok {
		return true, celery.NewMalformedEventError(celery.FieldType, "")
	}
	if evt.Category() != celery.TaskCategory {
		return false, nil
	}
	r.mu.Lock()
	r.types = append(r.types, typ)
	r.mu.Unlock()
	return true, nil
}

func newTestHandler(opts ...HandlerOption) (*Handler, *recorder) {
	rec := &recorder{}
	opts = append([]HandlerOption{WithHandlerLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))}, opts...)
	return NewHandler(rec, opts...), rec
}

func post(t *testing.T, h http.Handler, contentType string, body []byte, header ...string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, EventsPath, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) IngestResponse {
	t.Helper()

	var resp IngestResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestIngest_Codecs(t *testing.T) {
	batch := []map[string]any{
		{"type": "task-received", "uuid": "a", "name": "tasks.add", "local_received": 1.0},
		{"type": "worker-heartbeat", "hostname": "w1"},
		{"uuid": "b"},
		{"type": "task-started", "uuid": "a", "local_received": 2.0},
	}

	jsonBatch, err := json.Marshal(batch)
	if err != nil {
		t.Fatal(err)
	}

	var ndjson bytes.Buffer
	for _, evt := range batch {
		line, err := json.Marshal(evt)
		if err != nil {
			t.Fatal(err)
		}
		ndjson.Write(line)
		ndjson.WriteByte('\n')
	}

	msgpackBatch, err := msgpack.Marshal(batch)
	if err != nil {
		t.Fatal(err)
	}

	values := make([]any, len(batch))
	for i, evt := range batch {
		values[i] = evt
	}
	list, err := structpb.NewList(values)
	if err != nil {
		t.Fatal(err)
	}
	protoBatch, err := proto.Marshal(list)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name        string
		contentType string
		body        []byte
	}{
		{name: "json", contentType: MediaTypeJSON, body: jsonBatch},
		{name: "json with charset", contentType: "application/json; charset=utf-8", body: jsonBatch},
		{name: "default content type", contentType: "", body: jsonBatch},
		{name: "ndjson", contentType: MediaTypeNDJSON, body: ndjson.Bytes()},
		{name: "msgpack", contentType: MediaTypeMsgpack, body: msgpackBatch},
		{name: "protobuf", contentType: MediaTypeProtobuf, body: protoBatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, rec := newTestHandler()

			w := post(t, h, tt.contentType, tt.body)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200; body %s", w.Code, w.Body.String())
			}

			want := IngestResponse{Processed: 2, Malformed: 1, Filtered: 1}
			if diff := cmp.Diff(want, decodeResponse(t, w), cmpopts.IgnoreFields(IngestResponse{}, "BatchID")); diff != "" {
				t.Errorf("response mismatch (-want +got):\n%s", diff)
			}
			if diff := cmp.Diff([]string{"task-received", "task-started"}, rec.types); diff != "" {
				t.Errorf("processed events mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestIngest_SingleEvent(t *testing.T) {
	h, rec := newTestHandler()

	w := post(t, h, MediaTypeJSON, []byte(`{"type":"task-sent","uuid":"x","local_received":3}`))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeResponse(t, w)
	if resp.Processed != 1 || resp.BatchID == "" {
		t.Errorf("response = %+v", resp)
	}
	if diff := cmp.Diff([]string{"task-sent"}, rec.types); diff != "" {
		t.Errorf("processed events mismatch (-want +got):\n%s", diff)
	}

	msg, err := msgpack.Marshal(map[string]any{"type": "task-sent", "uuid": "y", "local_received": 4})
	if err != nil {
		t.Fatal(err)
	}
	if w := post(t, h, MediaTypeMsgpack, msg); w.Code != http.StatusOK || decodeResponse(t, w).Processed != 1 {
		t.Errorf("msgpack single event: status %d body %s", w.Code, w.Body.String())
	}
}

func TestIngest_Errors(t *testing.T) {
	tests := []struct {
		name        string
		opts        []HandlerOption
		contentType string
		body        string
		wantStatus  int
	}{
		{name: "unsupported media type", contentType: "text/csv", body: "a,b", wantStatus: http.StatusUnsupportedMediaType},
		{name: "invalid content type", contentType: "/", body: "{}", wantStatus: http.StatusUnsupportedMediaType},
		{name: "invalid json", contentType: MediaTypeJSON, body: `{"type":`, wantStatus: http.StatusBadRequest},
		{name: "ndjson scalar", contentType: MediaTypeNDJSON, body: "{}\n42\n", wantStatus: http.StatusBadRequest},
		{name: "msgpack scalar", contentType: MediaTypeMsgpack, body: "\x2a", wantStatus: http.StatusBadRequest},
		{name: "invalid protobuf", contentType: MediaTypeProtobuf, body: "\xff\xff", wantStatus: http.StatusBadRequest},
		{name: "body too large", opts: []HandlerOption{WithMaxBodySize(8)}, contentType: MediaTypeJSON, body: `{"type":"task-sent"}`, wantStatus: http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, rec := newTestHandler(tt.opts...)

			w := post(t, h, tt.contentType, []byte(tt.body))
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if !strings.Contains(w.Body.String(), `"error"`) {
				t.Errorf("body %q has no error field", w.Body.String())
			}
			if len(rec.types) != 0 {
				t.Errorf("events processed on error: %v", rec.types)
			}
		})
	}
}

func TestIngest_Auth(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")

	sign := func(t *testing.T, key []byte, exp time.Time) string {
		t.Helper()
		tok, err := jwt.NewBuilder().Issuer("worker").IssuedAt(time.Now().Add(-time.Minute)).Expiration(exp).Build()
		if err != nil {
			t.Fatal(err)
		}
		signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256(), key))
		if err != nil {
			t.Fatal(err)
		}
		return string(signed)
	}

	body := []byte(`{"type":"task-sent","uuid":"x","local_received":1}`)
	tests := []struct {
		name       string
		header     []string
		wantStatus int
	}{
		{name: "valid token", header: []string{"Authorization", "Bearer " + sign(t, key, time.Now().Add(time.Hour))}, wantStatus: http.StatusOK},
		{name: "lowercase scheme", header: []string{"Authorization", "bearer " + sign(t, key, time.Now().Add(time.Hour))}, wantStatus: http.StatusOK},
		{name: "missing header", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: []string{"Authorization", "Basic dXNlcjpwYXNz"}, wantStatus: http.StatusUnauthorized},
		{name: "wrong key", header: []string{"Authorization", "Bearer " + sign(t, []byte("another-key-another-key-another-k"), time.Now().Add(time.Hour))}, wantStatus: http.StatusUnauthorized},
		{name: "expired", header: []string{"Authorization", "Bearer " + sign(t, key, time.Now().Add(-time.Second))}, wantStatus: http.StatusUnauthorized},
		{name: "garbage", header: []string{"Authorization", "Bearer not.a.jwt"}, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(WithIngestKey(key))

			w := post(t, h, MediaTypeJSON, body, tt.header...)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d; body %s", w.Code, tt.wantStatus, w.Body.String())
			}
			if tt.wantStatus == http.StatusUnauthorized && w.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(WithIngestKey([]byte("secret")))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, HealthPath, http.NoBody))
	if w.Code != http.StatusOK || w.Body.String() != "ok" {
		t.Errorf("GET %s = %d %q, want 200 ok", HealthPath, w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, EventsPath, http.NoBody))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET %s = %d, want 405", EventsPath, w.Code)
	}
}
