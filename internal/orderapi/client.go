// Package orderapi talks to the remote Order API: create an order, then confirm its payment.
package orderapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/kbook/checkout/internal/domain"
	"github.com/kbook/checkout/internal/platform/auth"
)

const (
	defaultTimeout         = 10 * time.Second
	defaultBreakerFailures = 5
	defaultBreakerCooldown = 30 * time.Second
	idempotencyHeader      = "Idempotency-Key"
	maxResponseBytes       = 1 << 20
	breakerName            = "order-api"
	metricNamespace        = "github.com/kbook/checkout/internal/orderapi"
)

var tracer = otel.Tracer("github.com/kbook/checkout/internal/orderapi")

var (
	// ErrMissingOrderID is returned when confirming without an order id.
	ErrMissingOrderID = errors.New("orderapi: missing order id")
	// ErrMalformedResponse indicates a 2xx body that could not be decoded into an order.
	ErrMalformedResponse = errors.New("orderapi: malformed response")
	// ErrOrderNotFound is returned by the local fake for unknown ids.
	ErrOrderNotFound = errors.New("orderapi: order not found")
)

// APIError is a non-2xx answer from the Order API.
type APIError struct {
	Op     string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("orderapi: %s status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("orderapi: %s status %d: %s", e.Op, e.Status, e.Body)
}

// Option customises the client.
type Option func(*Client)

// WithHTTPClient replaces the instrumented default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.http = c
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) {
		if d > 0 {
			cl.timeout = d
		}
	}
}

// WithBreaker tunes the circuit breaker: it opens after failures consecutive
// server-side failures and probes again after cooldown.
func WithBreaker(failures uint32, cooldown time.Duration) Option {
	return func(cl *Client) {
		if failures > 0 {
			cl.breakerFailures = failures
		}
		if cooldown > 0 {
			cl.breakerCooldown = cooldown
		}
	}
}

// WithLogger receives breaker state changes.
func WithLogger(logger func(ctx context.Context, event string, fields map[string]any)) Option {
	return func(cl *Client) {
		if logger != nil {
			cl.logger = logger
		}
	}
}

// WithMeter injects the meter used for breaker metrics.
func WithMeter(m metric.Meter) Option {
	return func(cl *Client) {
		cl.meter = m
	}
}

// WithIdempotencyKeys overrides the key generator.
func WithIdempotencyKeys(gen func() string) Option {
	return func(cl *Client) {
		if gen != nil {
			cl.newKey = gen
		}
	}
}

// Client issues order calls against the Order API. With an empty base URL it
// serves orders from an in-process fake.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker[[]byte]
	fake    *Fake
	newKey  func() string
	logger  func(ctx context.Context, event string, fields map[string]any)
	meter   metric.Meter

	breakerTransitions metric.Int64Counter

	breakerFailures uint32
	breakerCooldown time.Duration
}

// NewClient constructs an Order API client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:         strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		timeout:         defaultTimeout,
		newKey:          uuid.NewString,
		logger:          func(context.Context, string, map[string]any) {},
		breakerFailures: defaultBreakerFailures,
		breakerCooldown: defaultBreakerCooldown,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.http == nil {
		c.http = &http.Client{
			Timeout:   c.timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	if c.baseURL == "" {
		c.fake = NewFake()
	}
	if c.meter == nil {
		c.meter = otel.GetMeterProvider().Meter(metricNamespace)
	}
	transitions, err := c.meter.Int64Counter(
		"orderapi.breaker.transitions",
		metric.WithDescription("Order API circuit breaker state changes"),
	)
	if err != nil {
		c.logger(context.Background(), "orderapi.metric_register_failed", map[string]any{"error": err.Error()})
		transitions = noop.Int64Counter{}
	}
	c.breakerTransitions = transitions

	failures := c.breakerFailures
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Timeout:     c.breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			if errors.As(err, &apiErr) {
				return apiErr.Status < http.StatusInternalServerError
			}
			return err == nil
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.breakerTransitions.Add(context.Background(), 1, metric.WithAttributes(
				attribute.String("breaker", name),
				attribute.String("from", from.String()),
				attribute.String("to", to.String()),
			))
			c.logger(context.Background(), "orderapi.breaker_state_changed", map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})
	return c
}

// Fake exposes the in-process fake when the client runs without a base URL.
func (c *Client) Fake() *Fake { return c.fake }

// CreateOrder opens a pending order for the shipping address and payment label.
func (c *Client) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	ctx, span := tracer.Start(ctx, "orderapi.create_order")
	defer span.End()

	if c.fake != nil {
		return c.fake.CreateOrder(ctx, req)
	}

	body, err := json.Marshal(createOrderPayload{
		ShippingAddress: fromAddress(req.ShippingAddress),
		PaymentMethod:   strings.TrimSpace(req.PaymentMethod),
	})
	if err != nil {
		return domain.Order{}, err
	}
	endpoint, err := url.JoinPath(c.baseURL, "orders")
	if err != nil {
		return domain.Order{}, err
	}

	order, err := c.post(ctx, "create order", endpoint, c.keyFor(req.IdempotencyKey), body)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "create order failed")
		return domain.Order{}, err
	}
	span.SetAttributes(attribute.String("order.id", order.ID))
	return order, nil
}

// ConfirmPayment moves the order to paid.
func (c *Client) ConfirmPayment(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, ErrMissingOrderID
	}
	ctx, span := tracer.Start(ctx, "orderapi.confirm_payment")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID))

	if c.fake != nil {
		return c.fake.ConfirmPayment(ctx, orderID)
	}

	endpoint, err := url.JoinPath(c.baseURL, "orders", orderID, "pay")
	if err != nil {
		return domain.Order{}, err
	}
	order, err := c.post(ctx, "confirm payment", endpoint, c.newKey(), []byte("{}"))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "confirm payment failed")
		return domain.Order{}, err
	}
	if order.ID == "" {
		order.ID = orderID
	}
	return order, nil
}

// keyFor keeps a caller-derived key so a retried create is deduplicated upstream.
func (c *Client) keyFor(key string) string {
	if key = strings.TrimSpace(key); key != "" {
		return key
	}
	return c.newKey()
}

func (c *Client) post(ctx context.Context, op, endpoint, key string, payload []byte) (domain.Order, error) {
	raw, err := c.breaker.Execute(func() ([]byte, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/json")
		httpReq.Header.Set(idempotencyHeader, key)
		if token := auth.BearerToken(ctx); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}

		resp, err := c.http.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return nil, &APIError{Op: op, Status: resp.StatusCode, Body: drainError(resp.Body)}
		}
		return io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return domain.Order{}, fmt.Errorf("orderapi: %s: %w", op, err)
		}
		return domain.Order{}, err
	}
	return decodeOrder(raw)
}

func drainError(r io.Reader) string {
	if r == nil {
		return ""
	}
	b, _ := io.ReadAll(io.LimitReader(r, 256))
	return strings.TrimSpace(string(b))
}
