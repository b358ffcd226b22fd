package orderapi

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kbook/checkout/internal/domain"
)

// Fake is an in-process Order API used for local development and tests.
type Fake struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	byKey  map[string]string
	now    func() time.Time

	creates  int
	confirms int
}

// NewFake constructs an empty fake.
func NewFake() *Fake {
	return &Fake{orders: make(map[string]domain.Order), byKey: make(map[string]string), now: time.Now}
}

// CreateOrder stores a pending order. A repeated idempotency key returns the
// order created for it the first time.
func (f *Fake) CreateOrder(_ context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if id, ok := f.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return f.orders[id], nil
	}
	order := domain.Order{
		ID:              "ord_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12],
		ShippingAddress: req.ShippingAddress.Normalised(),
		PaymentMethod:   req.PaymentMethod,
		Status:          domain.OrderStatusPending,
		CreatedAt:       f.now().UTC(),
	}
	f.orders[order.ID] = order
	if req.IdempotencyKey != "" {
		f.byKey[req.IdempotencyKey] = order.ID
	}
	return order, nil
}

// ConfirmPayment marks a stored order as paid.
func (f *Fake) ConfirmPayment(_ context.Context, orderID string) (domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.confirms++
	order, ok := f.orders[orderID]
	if !ok {
		return domain.Order{}, ErrOrderNotFound
	}
	order.Status = domain.OrderStatusPaid
	f.orders[orderID] = order
	return order, nil
}

// Calls reports how many create and confirm calls the fake has served.
func (f *Fake) Calls() (creates, confirms int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.confirms
}
