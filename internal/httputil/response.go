// Package httputil holds the JSON envelope and middleware shared by the
// HTTP handlers.
package httputil

import (
	"context"
	"encoding/json"
	"net/http"

	"go.opentelemetry.io/otel/trace"

	"github.com/banshee-data/occupancy.report/internal/monitoring"
)

// Meta correlates a response with its trace and request.
type Meta struct {
	TraceID   string `json:"trace_id,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Response is the envelope every API response is wrapped in.
type Response struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
}

// WriteJSON writes data as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		monitoring.Logf("failed to encode json response: %v", err)
	}
}

// ExtractMeta reads the trace ID and request ID from ctx.
func ExtractMeta(ctx context.Context) *Meta {
	meta := &Meta{}
	if sc := trace.SpanFromContext(ctx).SpanContext(); sc.HasTraceID() {
		meta.TraceID = sc.TraceID().String()
	}
	if reqID, ok := ctx.Value(RequestIDKey).(string); ok {
		meta.RequestID = reqID
	}
	return meta
}

// WriteSuccess writes a 200 envelope.
func WriteSuccess(ctx context.Context, w http.ResponseWriter, message string, data any) {
	WriteStatus(ctx, w, http.StatusOK, message, data)
}

// WriteStatus writes a successful envelope with a non-200 code such as 201.
func WriteStatus(ctx context.Context, w http.ResponseWriter, status int, message string, data any) {
	WriteJSON(w, status, Response{
		Success: true,
		Message: message,
		Data:    data,
		Meta:    ExtractMeta(ctx),
	})
}

// WriteError writes a failed envelope.
func WriteError(ctx context.Context, w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, Response{
		Success: false,
		Error:   message,
		Meta:    ExtractMeta(ctx),
	})
}
