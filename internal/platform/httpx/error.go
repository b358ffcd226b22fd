package httpx

import (
	"context"
	"encoding/json"
	"maps"
	"net/http"
	"strings"
	"unicode"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/kbook/checkout/internal/platform/requestctx"
)

const (
	codeLimit    = 80
	messageLimit = 512
	idLimit      = 80
	traceLimit   = 64
)

// Error is the JSON error envelope returned by the checkout API. It also
// satisfies the error interface so handlers can pass it around before writing.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	TraceID   string
	Fields    map[string]string
	Details   map[string]any
}

// NewError constructs an Error. A zero status becomes 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{Code: clip(code, codeLimit), Message: clip(message, messageLimit), Status: status}
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// WithRequestID pins the request id instead of reading it from the context.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = clip(id, idLimit)
	return e
}

// WithTraceID pins the trace id instead of reading it from the context.
func (e Error) WithTraceID(id string) Error {
	e.TraceID = clip(id, traceLimit)
	return e
}

// WithDetails adds top-level keys to the envelope. Keys owned by the envelope
// itself (error, message, status, request_id, trace_id, fields) are ignored.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	merged := maps.Clone(e.Details)
	if merged == nil {
		merged = make(map[string]any, len(details))
	}
	maps.Copy(merged, details)
	e.Details = merged
	return e
}

// WithFields attaches per-field validation messages under "fields".
func (e Error) WithFields(fields map[string]string) Error {
	if len(fields) == 0 {
		return e
	}
	merged := maps.Clone(e.Fields)
	if merged == nil {
		merged = make(map[string]string, len(fields))
	}
	maps.Copy(merged, fields)
	e.Fields = merged
	return e
}

func (e Error) envelope(ctx context.Context) map[string]any {
	out := make(map[string]any, 6+len(e.Details))
	for k, v := range e.Details {
		out[k] = v
	}

	out["error"] = e.Code
	out["message"] = e.Message
	out["status"] = e.Status
	if out["status"] == 0 {
		out["status"] = http.StatusInternalServerError
	}

	delete(out, "request_id")
	if id := firstNonEmpty(e.RequestID, clip(middleware.GetReqID(ctx), idLimit)); id != "" {
		out["request_id"] = id
	}
	delete(out, "trace_id")
	if id := firstNonEmpty(e.TraceID, clip(requestctx.TraceID(ctx), traceLimit)); id != "" {
		out["trace_id"] = id
	}
	delete(out, "fields")
	if len(e.Fields) > 0 {
		out["fields"] = e.Fields
	}
	return out
}

// WriteError writes the envelope as JSON with the error's status code.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(err.envelope(ctx))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// clip flattens control characters to spaces and bounds the value to limit bytes
// without splitting a rune.
func clip(value string, limit int) string {
	value = strings.TrimSpace(strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, value))
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !isRuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
