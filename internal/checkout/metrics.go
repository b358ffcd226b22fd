package checkout

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const metricNamespace = "github.com/kbook/checkout/internal/checkout"

// Order outcomes counted by checkout.orders.
const (
	orderCreated  = "created"
	orderPaid     = "paid"
	orderFailed   = "failed"
	orderReplaced = "replaced"
)

type submitMetrics struct {
	duration metric.Float64Histogram
	orders   metric.Int64Counter
}

// newSubmitMetrics registers the submission instruments on meter, or on the
// global provider when meter is nil. A failed registration is reported and
// replaced by a no-op instrument.
func newSubmitMetrics(meter metric.Meter, logger func(ctx context.Context, event string, fields map[string]any)) *submitMetrics {
	if meter == nil {
		meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	m := &submitMetrics{}

	var err error
	m.duration, err = meter.Float64Histogram(
		"checkout.submit.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Latency in milliseconds of order submissions"),
	)
	if err != nil {
		logger(context.Background(), "checkout.metric_register_failed", map[string]any{"metric": "checkout.submit.duration", "error": err.Error()})
		m.duration = noop.Float64Histogram{}
	}

	m.orders, err = meter.Int64Counter(
		"checkout.orders",
		metric.WithDescription("Orders created, paid, failed or replaced by checkout submissions"),
	)
	if err != nil {
		logger(context.Background(), "checkout.metric_register_failed", map[string]any{"metric": "checkout.orders", "error": err.Error()})
		m.orders = noop.Int64Counter{}
	}
	return m
}

func (s *submitMetrics) recordSubmit(ctx context.Context, started time.Time, stage string, err error) {
	outcome := "completed"
	if err != nil {
		outcome = "failed"
	}
	s.duration.Record(ctx, float64(time.Since(started))/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("stage", stage),
	))
}

func (s *submitMetrics) countOrder(ctx context.Context, result string) {
	s.orders.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
