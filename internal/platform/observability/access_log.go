package observability

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kbook/checkout/internal/platform/requestctx"
)

// RequestLoggerMiddleware scopes a logger to the request and writes one
// "request completed" line per request. 4xx lines are WARN and 5xx or panics are ERROR.
func RequestLoggerMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := requestctx.Logger(r.Context()).With(requestFields(r)...)
			r = r.WithContext(requestctx.WithLogger(r.Context(), logger))

			entry := &accessEntry{
				logger: logger,
				start:  time.Now(),
				writer: &statusWriter{ResponseWriter: w},
			}
			logger.Debug("request started", zap.String("path", SanitizeRoute(r.URL.Path)))

			defer func() {
				if rec := recover(); rec != nil {
					entry.panicked = true
					entry.finish(r)
					panic(rec)
				}
				entry.finish(r)
			}()
			next.ServeHTTP(entry.writer, r)
		})
	}
}

func requestFields(r *http.Request) []zap.Field {
	ctx := r.Context()
	fields := []zap.Field{
		zap.String("request_id", middleware.GetReqID(ctx)),
		zap.String("method", SanitizeMethod(r.Method)),
		zap.String("trace_id", requestctx.TraceID(ctx)),
	}
	if id := sanitizedCustomerID(ctx); id != "" {
		fields = append(fields, zap.String("customer_id", id))
	}
	if ip := remoteIP(r.RemoteAddr); ip != "" {
		fields = append(fields, zap.String("remote_ip", ip))
	}
	return fields
}

type accessEntry struct {
	logger   *zap.Logger
	start    time.Time
	writer   *statusWriter
	panicked bool
}

func (e *accessEntry) finish(r *http.Request) {
	status := e.writer.code()
	if e.panicked && status < http.StatusInternalServerError {
		status = http.StatusInternalServerError
	}
	// chi fills the pattern while routing, so it is only known after the handler ran.
	route := SanitizeRoute(matchedRoute(r))

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(semconv.HTTPRoute(route), semconv.HTTPResponseStatusCode(status))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	} else {
		span.SetStatus(codes.Ok, "")
	}

	level := zapcore.InfoLevel
	switch {
	case e.panicked || status >= http.StatusInternalServerError:
		level = zapcore.ErrorLevel
	case status >= http.StatusBadRequest:
		level = zapcore.WarnLevel
	}
	e.logger.Log(level, "request completed",
		zap.String("route", route),
		zap.Int("status", status),
		zap.Duration("latency", time.Since(e.start)),
		zap.Int64("bytes", e.writer.written),
	)
}

func matchedRoute(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func remoteIP(addr string) string {
	addr = strings.TrimSpace(addr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		addr = host
	}
	return sanitizeString(addr, 64)
}

// statusWriter remembers the status code and body size sent downstream.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written int64
}

func (s *statusWriter) WriteHeader(status int) {
	if s.status != 0 {
		return
	}
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (s *statusWriter) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	n, err := s.ResponseWriter.Write(b)
	s.written += int64(n)
	return n, err
}

func (s *statusWriter) code() int {
	if s.status == 0 {
		return http.StatusOK
	}
	return s.status
}
