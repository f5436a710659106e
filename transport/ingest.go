// Copyright 2025 The Celery Exporter Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport exposes the HTTP endpoint through which Celery events
// are pushed to the exporter.
package transport

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	celery "github.com/OvalMoney/celery-exporter"
	"github.com/OvalMoney/celery-exporter/internal/pool"
)

// Routes served by [Handler].
const (
	EventsPath = "/api/v1/events"
	HealthPath = "/healthz"
)

// DefaultMaxBodySize bounds the size of an ingest request body.
const DefaultMaxBodySize = 8 << 20

// Processor consumes events, typically a [*monitor.Monitor].
type Processor interface {
	ProcessEvent(ctx context.Context, evt celery.Event) (bool, error)
}

// IngestResponse is the body of a successful ingest request.
type IngestResponse struct {
	BatchID   string `json:"batch_id"`
	Processed int    `json:"processed"`
	Malformed int    `json:"malformed"`
	Filtered  int    `json:"filtered"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Handler serves event ingest and health checks.
type Handler struct {
	mux       *http.ServeMux
	processor Processor
	logger    *slog.Logger
	tracer    trace.Tracer
	key       []byte
	maxBody   int64
}

var _ http.Handler = (*Handler)(nil)

// HandlerOption represents an option for configuring the [Handler].
type HandlerOption func(*Handler)

// WithIngestKey requires ingest requests to carry an HS256 signed JWT
// bearer token verifiable with key.
func WithIngestKey(key []byte) HandlerOption {
	return func(h *Handler) {
		h.key = key
	}
}

// WithHandlerLogger sets the [*slog.Logger] for the [Handler].
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithHandlerTracer sets the [trace.Tracer] for the [Handler].
func WithHandlerTracer(tracer trace.Tracer) HandlerOption {
	return func(h *Handler) {
		h.tracer = tracer
	}
}

// WithMaxBodySize sets the largest accepted request body, in bytes.
func WithMaxBodySize(n int64) HandlerOption {
	return func(h *Handler) {
		h.maxBody = n
	}
}

// NewHandler returns a Handler feeding ingested events to p.
func NewHandler(p Processor, opts ...HandlerOption) *Handler {
	h := &Handler{
		mux:       http.NewServeMux(),
		processor: p,
		logger:    slog.Default(),
		maxBody:   DefaultMaxBodySize,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.tracer == nil {
		h.tracer = otel.Tracer("github.com/OvalMoney/celery-exporter/transport")
	}

	h.mux.HandleFunc("POST "+EventsPath, h.ingest)
	h.mux.HandleFunc("GET "+HealthPath, h.health)
	return h
}

// ServeHTTP implements [http.Handler].
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	batchID := uuid.NewString()
	ctx, span := h.tracer.Start(r.Context(), "celery.transport.Ingest",
		trace.WithAttributes(attribute.String("celery.batch_id", batchID)))
	defer span.End()

	if err := h.authorize(r); err != nil {
		span.SetStatus(codes.Error, "unauthorized")
		h.logger.WarnContext(ctx, "rejected ingest request", "batch_id", batchID, "error", err)
		w.Header().Set("WWW-Authenticate", `Bearer realm="celery-exporter"`)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthorized"})
		return
	}

	buf := pool.Buffers.Get()
	defer pool.Buffers.Put(buf)

	if _, err := buf.ReadFrom(http.MaxBytesReader(w, r.Body, h.maxBody)); err != nil {
		span.RecordError(err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	events, err := Decode(r.Header.Get("Content-Type"), buf.Bytes())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		status := http.StatusBadRequest
		if errors.Is(err, ErrUnsupportedMediaType) {
			status = http.StatusUnsupportedMediaType
		}
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	resp := IngestResponse{BatchID: batchID}
	for _, evt := range events {
		accepted, err := h.processor.ProcessEvent(ctx, evt)
		switch {
		case err != nil:
			resp.Malformed++
			h.logger.DebugContext(ctx, "dropped malformed event", "batch_id", batchID, "error", err)
		case !accepted:
			resp.Filtered++
		default:
			resp.Processed++
		}
	}

	span.SetAttributes(
		attribute.Int("celery.events.processed", resp.Processed),
		attribute.Int("celery.events.malformed", resp.Malformed),
		attribute.Int("celery.events.filtered", resp.Filtered),
	)
	h.logger.DebugContext(ctx, "ingested batch", "batch_id", batchID, "events", len(events), "malformed", resp.Malformed)
	writeJSON(w, http.StatusOK, resp)
}

// authorize checks the bearer token when an ingest key is configured.
func (h *Handler) authorize(r *http.Request) error {
	if len(h.key) == 0 {
		return nil
	}

	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return errors.New("missing bearer token")
	}
	if _, err := jwt.Parse([]byte(token), jwt.WithKey(jwa.HS256(), h.key)); err != nil {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", MediaTypeJSON)
	w.WriteHeader(status)
	_ = json.MarshalWrite(w, v)
}
