package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbook/checkout/internal/cart"
	"github.com/kbook/checkout/internal/checkout"
	"github.com/kbook/checkout/internal/confirmation"
	"github.com/kbook/checkout/internal/domain"
	"github.com/kbook/checkout/internal/orderapi"
	"github.com/kbook/checkout/internal/platform/auth"
	"github.com/kbook/checkout/internal/platform/idempotency"
	"github.com/kbook/checkout/internal/pricing"
	"github.com/kbook/checkout/internal/session"
)

const handlerSecret = "handler-secret"

type stubCheckoutService struct {
	startErr   error
	getErr     error
	abandonErr error
	machine    *checkout.Machine
	abandoned  []string
}

func (s *stubCheckoutService) Start(context.Context, string) (*checkout.Machine, error) {
	return s.machine, s.startErr
}

func (s *stubCheckoutService) Get(string, string) (*checkout.Machine, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	return s.machine, nil
}

func (s *stubCheckoutService) RefreshProfile(context.Context, string, string) (*checkout.Machine, error) {
	return s.Get("", "")
}

func (s *stubCheckoutService) Abandon(_ context.Context, _ string, id string) error {
	if s.abandonErr != nil {
		return s.abandonErr
	}
	s.abandoned = append(s.abandoned, id)
	return nil
}

type noopOrders struct{}

func (noopOrders) CreateOrder(context.Context, domain.CreateOrderRequest) (domain.Order, error) {
	return domain.Order{}, errors.New("not used")
}

func (noopOrders) ConfirmPayment(context.Context, string) (domain.Order, error) {
	return domain.Order{}, errors.New("not used")
}

func sampleItems() []domain.CartItem {
	return []domain.CartItem{{
		BookID:    "book-1",
		Title:     "Rayuela",
		Format:    "paperback",
		UnitPrice: decimal.RequireFromString("18.50"),
		Quantity:  2,
	}}
}

func newStubMachine(t *testing.T) *checkout.Machine {
	t.Helper()
	m, err := checkout.NewMachine("chk-1", "cust-1", checkout.Seed{
		Cart: domain.CartSnapshot{CustomerID: "cust-1", Items: sampleItems()},
	}, checkout.MachineDeps{Orders: noopOrders{}, Carts: cart.NewMemoryStore(), Catalog: pricing.DefaultCatalog()})
	if err != nil {
		t.Fatalf("NewMachine: %v", err)
	}
	return m
}

func newStubRouter(t *testing.T, svc CheckoutService) http.Handler {
	t.Helper()
	renderer, err := confirmation.NewRenderer(nil)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	h := NewCheckoutHandlers(svc, renderer)
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func customerRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return req.WithContext(auth.WithIdentity(req.Context(), auth.NewIdentity("cust-1", "tok")))
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rr.Body.String())
	}
	return body.Error
}

func TestCheckoutHandlers_RequiresIdentity(t *testing.T) {
	router := newStubRouter(t, &stubCheckoutService{})

	req := httptest.NewRequest(http.MethodPost, "/checkouts", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "unauthenticated" {
		t.Fatalf("expected unauthenticated, got %s", code)
	}
}

func TestCheckoutHandlers_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"not found", checkout.ErrNotFound, http.StatusNotFound, "checkout_not_found"},
		{"empty cart", checkout.ErrEmptyCart, http.StatusConflict, "cart_empty"},
		{"invalid input", checkout.ErrInvalidInput, http.StatusBadRequest, "invalid_request"},
		{"unavailable", fmt.Errorf("%w: load cart: boom", checkout.ErrUnavailable), http.StatusServiceUnavailable, "checkout_unavailable"},
		{"locked", checkout.ErrStepLocked, http.StatusConflict, "invalid_state"},
		{"unexpected", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newStubRouter(t, &stubCheckoutService{startErr: tc.err})
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, customerRequest(http.MethodPost, "/checkouts", ""))
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if code := decodeErrorCode(t, rr); code != tc.code {
				t.Fatalf("expected code %s, got %s", tc.code, code)
			}
		})
	}
}

func TestCheckoutHandlers_AdvanceReportsFieldErrors(t *testing.T) {
	router := newStubRouter(t, &stubCheckoutService{machine: newStubMachine(t)})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, customerRequest(http.MethodPost, "/checkouts/chk-1/advance", ""))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", rr.Code, rr.Body.String())
	}
	var body struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Error != "validation_failed" {
		t.Fatalf("expected validation_failed, got %s", body.Error)
	}
	for _, field := range []string{domain.FieldFullName, domain.FieldAddress, domain.FieldCity, domain.FieldPostalCode, domain.FieldCountry} {
		if _, ok := body.Fields[field]; !ok {
			t.Fatalf("expected field error for %s, got %v", field, body.Fields)
		}
	}
}

func TestCheckoutHandlers_ShippingOverrideIsSanitised(t *testing.T) {
	m := newStubMachine(t)
	router := newStubRouter(t, &stubCheckoutService{machine: m})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, customerRequest(http.MethodPut, "/checkouts/chk-1/shipping",
		`{"useOverride":true,"override":{"fullName":"<b>Ana</b> Gómez","address":"Calle 1","city":"Madrid","postalCode":"28001","country":"ES"}}`))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var view viewResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &view); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if view.Shipping.Values.FullName != "Ana Gómez" {
		t.Fatalf("expected markup to be stripped, got %q", view.Shipping.Values.FullName)
	}
	if view.Shipping.Source != "override" {
		t.Fatalf("expected override source, got %s", view.Shipping.Source)
	}
}

func TestCheckoutHandlers_PaymentLockedOutsideStep(t *testing.T) {
	router := newStubRouter(t, &stubCheckoutService{machine: newStubMachine(t)})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, customerRequest(http.MethodPut, "/checkouts/chk-1/payment",
		`{"useOverride":true,"override":{"holderName":"Ana","cardNumber":"4242424242424242","expiry":"12/40","cvc":"123"}}`))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestCheckoutHandlers_UnknownShippingOption(t *testing.T) {
	router := newStubRouter(t, &stubCheckoutService{machine: newStubMachine(t)})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, customerRequest(http.MethodPut, "/checkouts/chk-1/shipping-option", `{"option":"teleport"}`))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != "unknown_shipping_option" {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestCheckoutHandlers_InvalidBody(t *testing.T) {
	router := newStubRouter(t, &stubCheckoutService{machine: newStubMachine(t)})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, customerRequest(http.MethodPut, "/checkouts/chk-1/shipping", `{"useOverride":`))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, customerRequest(http.MethodPut, "/checkouts/chk-1/shipping", `{"option":"`+strings.Repeat("x", maxRequestBody)+`"}`))
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestCheckoutHandlers_ConfirmationBeforeCompletion(t *testing.T) {
	router := newStubRouter(t, &stubCheckoutService{machine: newStubMachine(t)})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, customerRequest(http.MethodGet, "/checkouts/chk-1/confirmation", ""))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
}

func TestCheckoutHandlers_Abandon(t *testing.T) {
	svc := &stubCheckoutService{}
	router := newStubRouter(t, svc)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, customerRequest(http.MethodDelete, "/checkouts/chk-9", ""))

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rr.Code)
	}
	if len(svc.abandoned) != 1 || svc.abandoned[0] != "chk-9" {
		t.Fatalf("expected chk-9 to be abandoned, got %v", svc.abandoned)
	}
}

type checkoutAPI struct {
	t      *testing.T
	server *httptest.Server
	token  string
}

func (a *checkoutAPI) do(method, path, body string, headers map[string]string) *http.Response {
	a.t.Helper()
	req, err := http.NewRequest(method, a.server.URL+"/api/v1"+path, strings.NewReader(body))
	require.NoError(a.t, err)
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := a.server.Client().Do(req)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeInto(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(dst))
}

func TestCheckoutFlowOverHTTP(t *testing.T) {
	ctx := context.Background()
	carts := cart.NewMemoryStore()
	require.NoError(t, carts.Put(ctx, "cust-1", sampleItems()))
	orders := orderapi.NewFake()
	options := session.NewMemoryStore(time.Hour)

	svc, err := checkout.NewService(checkout.ServiceDeps{
		Orders:  orders,
		Carts:   carts,
		Options: options,
	})
	require.NoError(t, err)
	renderer, err := confirmation.NewRenderer(svc.Catalog())
	require.NoError(t, err)

	verifier, err := auth.NewHS256Verifier(handlerSecret)
	require.NoError(t, err)
	handlers := NewCheckoutHandlers(svc, renderer,
		WithOptionTaker(options),
		WithConfirmMiddlewares(idempotency.Middleware(idempotency.NewMemoryStore())),
	)
	router := NewRouter(
		WithCustomerMiddlewares(auth.NewAuthenticator(verifier).RequireAuth()),
		WithCheckoutRoutes(handlers.Routes),
	)
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	token, err := auth.SignHS256(handlerSecret, auth.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   "cust-1",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}})
	require.NoError(t, err)
	api := &checkoutAPI{t: t, server: server, token: token}

	resp := api.do(http.MethodPost, "/checkouts", "", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var view viewResponse
	decodeInto(t, resp, &view)
	require.NotEmpty(t, view.ID)
	assert.Equal(t, "shipping", view.State)
	assert.Equal(t, "37.00", view.Quote.Subtotal)
	base := "/checkouts/" + view.ID

	resp = api.do(http.MethodPut, base+"/shipping",
		`{"useOverride":true,"override":{"fullName":"Ana Gómez","address":"Calle Mayor 1","city":"Madrid","postalCode":"28013","country":"ES"}}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(http.MethodPost, base+"/advance", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(http.MethodPut, base+"/payment",
		`{"useOverride":true,"override":{"holderName":"Ana Gómez","cardNumber":"4242 4242 4242 4242","expiry":"12/40","cvc":"123"}}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &view)
	assert.Equal(t, "•••• 4242", view.Payment.MaskedNumber)
	assert.NotContains(t, view.Payment.MaskedNumber, "4242 4242")

	resp = api.do(http.MethodPost, base+"/advance", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = api.do(http.MethodPut, base+"/shipping-option", `{"option":"fast"}`, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &view)
	assert.Equal(t, "review", view.State)
	assert.Equal(t, "fast", view.Option.ID)

	key := map[string]string{"Idempotency-Key": "confirm-1"}
	resp = api.do(http.MethodPost, base+"/confirm", "", key)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var summary confirmation.Summary
	decodeInto(t, resp, &summary)
	assert.NotEmpty(t, summary.OrderID)
	assert.Equal(t, domain.OrderStatusPaid, summary.Status)
	assert.Equal(t, domain.ShippingFast, summary.ShippingOption)

	replay := api.do(http.MethodPost, base+"/confirm", "", key)
	require.Equal(t, http.StatusCreated, replay.StatusCode)
	assert.Equal(t, "true", replay.Header.Get("X-Idempotent-Replay"))

	creates, confirms := orders.Calls()
	assert.Equal(t, 1, creates)
	assert.Equal(t, 1, confirms)

	snapshot, err := carts.Snapshot(ctx, "cust-1")
	require.NoError(t, err)
	assert.True(t, snapshot.Empty(), "cart should be cleared after a paid order")

	resp = api.do(http.MethodGet, base+"/confirmation?format=html", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")

	resp = api.do(http.MethodGet, base, "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	decodeInto(t, resp, &view)
	assert.Equal(t, "completed", view.State)
	require.NotNil(t, view.Completion)
	assert.Equal(t, summary.OrderID, view.Completion.OrderID)

	resp = api.do(http.MethodGet, base+"/confirmation?format=pdf", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCheckoutFlowRejectsOtherCustomers(t *testing.T) {
	carts := cart.NewMemoryStore()
	require.NoError(t, carts.Put(context.Background(), "cust-1", sampleItems()))
	svc, err := checkout.NewService(checkout.ServiceDeps{Orders: orderapi.NewFake(), Carts: carts})
	require.NoError(t, err)
	m, err := svc.Start(context.Background(), "cust-1")
	require.NoError(t, err)

	renderer, err := confirmation.NewRenderer(nil)
	require.NoError(t, err)
	r := chi.NewRouter()
	NewCheckoutHandlers(svc, renderer).Routes(r)

	req := httptest.NewRequest(http.MethodGet, "/checkouts/"+m.ID(), nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.NewIdentity("cust-2", "tok")))
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNotFound, rr.Code)
}
