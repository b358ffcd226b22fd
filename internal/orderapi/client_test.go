package orderapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/kbook/checkout/internal/domain"
	"github.com/kbook/checkout/internal/platform/auth"
)

type recordedRequest struct {
	method      string
	path        string
	auth        string
	idempotency string
	body        map[string]any
}

type orderServer struct {
	t        *testing.T
	mu       sync.Mutex
	requests []recordedRequest
	handle   func(w http.ResponseWriter, r *http.Request)
}

func newOrderServer(t *testing.T, handle func(w http.ResponseWriter, r *http.Request)) (*orderServer, *httptest.Server) {
	t.Helper()
	s := &orderServer{t: t, handle: handle}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		rec := recordedRequest{
			method:      r.Method,
			path:        r.URL.Path,
			auth:        r.Header.Get("Authorization"),
			idempotency: r.Header.Get("Idempotency-Key"),
		}
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &rec.body)
		}
		s.mu.Lock()
		s.requests = append(s.requests, rec)
		s.mu.Unlock()
		s.handle(w, r)
	}))
	t.Cleanup(srv.Close)
	return s, srv
}

func sampleRequest() domain.CreateOrderRequest {
	return domain.CreateOrderRequest{
		ShippingAddress: domain.Address{
			FullName:   " Ana Pérez ",
			Address:    "Calle Mayor 1",
			City:       "Madrid",
			PostalCode: "28013",
			Country:    "España",
		},
		PaymentMethod: "Tarjeta •••• 1111",
	}
}

func TestCreateOrderAndConfirmPayment(t *testing.T) {
	server, srv := newOrderServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/orders":
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"_id":"665f","status":"pending","totalPrice":"29.99",
				"shippingAddress":{"fullName":"Ana Pérez","city":"Madrid"},
				"paymentMethod":"Tarjeta •••• 1111",
				"items":[{"book":{"_id":"b1","title":"Rayuela"},"format":"Tapa dura","price":10,"quantity":2},
				         {"book":"b2","title":"Ficciones","unitPrice":"5.00","quantity":1}],
				"createdAt":"2025-03-07T10:00:00.000Z"}`)
		case "/api/orders/665f/pay":
			_, _ = io.WriteString(w, `{"order":{"id":"665f","status":"PAID"}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	keys := 0
	client := NewClient(srv.URL+"/api/", WithIdempotencyKeys(func() string {
		keys++
		return "key-" + string(rune('0'+keys))
	}))
	ctx := auth.WithIdentity(context.Background(), auth.NewIdentity("cust-1", "tok-123"))

	created, err := client.CreateOrder(ctx, sampleRequest())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if created.ID != "665f" || created.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected order %+v", created)
	}
	if created.TotalPrice.StringFixed(2) != "29.99" || len(created.Items) != 2 {
		t.Fatalf("unexpected totals/items %+v", created)
	}
	if created.Items[0].BookID != "b1" || created.Items[0].Title != "Rayuela" || created.Items[0].UnitPrice.StringFixed(2) != "10.00" {
		t.Fatalf("unexpected populated item %+v", created.Items[0])
	}
	if created.Items[1].BookID != "b2" || created.Items[1].UnitPrice.StringFixed(2) != "5.00" {
		t.Fatalf("unexpected reference item %+v", created.Items[1])
	}
	if created.CreatedAt.IsZero() {
		t.Fatalf("expected createdAt to be parsed")
	}

	paid, err := client.ConfirmPayment(ctx, created.ID)
	if err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	if paid.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid, got %q", paid.Status)
	}

	if len(server.requests) != 2 {
		t.Fatalf("expected two requests, got %d", len(server.requests))
	}
	create := server.requests[0]
	if create.method != http.MethodPost || create.auth != "Bearer tok-123" || create.idempotency != "key-1" {
		t.Fatalf("unexpected create request %+v", create)
	}
	addr := create.body["shippingAddress"].(map[string]any)
	if addr["fullName"] != "Ana Pérez" || create.body["paymentMethod"] != "Tarjeta •••• 1111" {
		t.Fatalf("unexpected create body %v", create.body)
	}
	if server.requests[1].idempotency != "key-2" {
		t.Fatalf("expected a fresh idempotency key per call")
	}
}

func TestCreateOrderSurfacesAPIError(t *testing.T) {
	_, srv := newOrderServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = io.WriteString(w, `{"message":"cart is empty"}`)
	})
	client := NewClient(srv.URL)

	_, err := client.CreateOrder(context.Background(), sampleRequest())

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusUnprocessableEntity || !strings.Contains(apiErr.Body, "cart is empty") {
		t.Fatalf("unexpected api error %+v", apiErr)
	}
}

func TestMalformedBodyIsReported(t *testing.T) {
	_, srv := newOrderServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `<html>oops</html>`)
	})
	client := NewClient(srv.URL)

	if _, err := client.CreateOrder(context.Background(), sampleRequest()); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("expected ErrMalformedResponse, got %v", err)
	}
}

func TestBreakerOpensAfterServerFailures(t *testing.T) {
	server, srv := newOrderServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	var events []string
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	client := NewClient(srv.URL,
		WithBreaker(2, time.Minute),
		WithLogger(func(_ context.Context, event string, _ map[string]any) { events = append(events, event) }),
		WithMeter(provider.Meter("test")),
	)

	for i := 0; i < 2; i++ {
		if _, err := client.CreateOrder(context.Background(), sampleRequest()); err == nil {
			t.Fatalf("expected failure %d", i)
		}
	}
	_, err := client.CreateOrder(context.Background(), sampleRequest())
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Fatalf("expected open breaker, got %v", err)
	}
	if len(server.requests) != 2 {
		t.Fatalf("open breaker must not reach the server, got %d requests", len(server.requests))
	}
	if len(events) == 0 || events[0] != "orderapi.breaker_state_changed" {
		t.Fatalf("expected breaker state change to be logged, got %v", events)
	}

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect metrics: %v", err)
	}
	var opened int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "orderapi.breaker.transitions" {
				continue
			}
			for _, dp := range m.Data.(metricdata.Sum[int64]).DataPoints {
				if to, _ := dp.Attributes.Value("to"); to.AsString() == gobreaker.StateOpen.String() {
					opened += dp.Value
				}
			}
		}
	}
	if opened != 1 {
		t.Fatalf("expected one transition to open, got %d", opened)
	}
}

func TestCreateOrderSendsCallerKey(t *testing.T) {
	server, srv := newOrderServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"id":"665f","status":"PENDING"}`)
	})
	client := NewClient(srv.URL, WithIdempotencyKeys(func() string { return "random" }))

	req := sampleRequest()
	req.IdempotencyKey = "checkout-abc"
	for i := 0; i < 2; i++ {
		if _, err := client.CreateOrder(context.Background(), req); err != nil {
			t.Fatalf("CreateOrder: %v", err)
		}
	}

	for _, got := range server.requests {
		if got.idempotency != "checkout-abc" {
			t.Fatalf("expected the caller key on every attempt, got %q", got.idempotency)
		}
	}
}

func TestFakeDeduplicatesCreateByKey(t *testing.T) {
	fake := NewFake()
	req := sampleRequest()
	req.IdempotencyKey = "checkout-abc"

	first, err := fake.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	again, err := fake.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if again.ID != first.ID {
		t.Fatalf("expected the same order for a repeated key, got %s and %s", first.ID, again.ID)
	}

	req.IdempotencyKey = "checkout-def"
	other, err := fake.CreateOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("third create: %v", err)
	}
	if other.ID == first.ID {
		t.Fatalf("expected a new order for a new key")
	}
}

func TestClientErrorsDoNotTripBreaker(t *testing.T) {
	server, srv := newOrderServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})
	client := NewClient(srv.URL, WithBreaker(1, time.Minute))

	for i := 0; i < 3; i++ {
		var apiErr *APIError
		if _, err := client.CreateOrder(context.Background(), sampleRequest()); !errors.As(err, &apiErr) {
			t.Fatalf("expected APIError, got %v", err)
		}
	}
	if len(server.requests) != 3 {
		t.Fatalf("expected every call to reach the server, got %d", len(server.requests))
	}
}

func TestConfirmPaymentRequiresID(t *testing.T) {
	if _, err := NewClient("").ConfirmPayment(context.Background(), " "); !errors.Is(err, ErrMissingOrderID) {
		t.Fatalf("expected ErrMissingOrderID, got %v", err)
	}
}

func TestEmptyBaseURLUsesFake(t *testing.T) {
	client := NewClient("")
	if client.Fake() == nil {
		t.Fatalf("expected fake without base url")
	}

	created, err := client.CreateOrder(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if !strings.HasPrefix(created.ID, "ord_") || created.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected fake order %+v", created)
	}
	if created.ShippingAddress.FullName != "Ana Pérez" {
		t.Fatalf("expected normalised address, got %q", created.ShippingAddress.FullName)
	}
	paid, err := client.ConfirmPayment(context.Background(), created.ID)
	if err != nil || paid.Status != domain.OrderStatusPaid {
		t.Fatalf("unexpected confirm result %+v %v", paid, err)
	}
	if _, err := client.ConfirmPayment(context.Background(), "ord_missing"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
	if creates, confirms := client.Fake().Calls(); creates != 1 || confirms != 2 {
		t.Fatalf("unexpected fake calls %d/%d", creates, confirms)
	}
}
