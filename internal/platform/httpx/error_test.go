package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kbook/checkout/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "trace-1"})
	rec := httptest.NewRecorder()

	WriteError(ctx, rec, NewError("validation_failed", "check the form\n", http.StatusUnprocessableEntity).
		WithRequestID("req-1").
		WithFields(map[string]string{"city": "Este campo es obligatorio"}).
		WithDetails(map[string]any{"step": "shipping", "status": 999}))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("unexpected content type %q", ct)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "validation_failed" || body["message"] != "check the form" {
		t.Fatalf("unexpected envelope %v", body)
	}
	if body["status"].(float64) != http.StatusUnprocessableEntity {
		t.Fatalf("details must not override status: %v", body["status"])
	}
	if body["request_id"] != "req-1" || body["trace_id"] != "trace-1" || body["step"] != "shipping" {
		t.Fatalf("unexpected metadata %v", body)
	}
	fields, ok := body["fields"].(map[string]any)
	if !ok || fields["city"] != "Este campo es obligatorio" {
		t.Fatalf("unexpected fields %v", body["fields"])
	}
}

func TestNewErrorDefaultsAndTruncates(t *testing.T) {
	err := NewError(strings.Repeat("x", 100), "msg", 0)
	if err.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500 default, got %d", err.Status)
	}
	if len(err.Code) != 80 {
		t.Fatalf("expected code truncated to 80, got %d", len(err.Code))
	}
}

func TestNewErrorKeepsRunesWhole(t *testing.T) {
	err := NewError("code", strings.Repeat("é", 300), http.StatusBadRequest)
	if !utf8.ValidString(err.Message) {
		t.Fatalf("message was cut inside a rune")
	}
	if len(err.Message) > messageLimit {
		t.Fatalf("expected message bounded to %d bytes, got %d", messageLimit, len(err.Message))
	}
}
