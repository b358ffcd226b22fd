// Package checkout drives the Shipping -> Payment -> Review wizard and the
// two-phase order submission.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/kbook/checkout/internal/domain"
	"github.com/kbook/checkout/internal/pricing"
	"github.com/kbook/checkout/internal/reconcile"
)

const defaultSubmitTimeout = 30 * time.Second

var tracer = otel.Tracer("github.com/kbook/checkout/internal/checkout")

var (
	// ErrStepLocked indicates an edit outside the step that owns the fields.
	ErrStepLocked = errors.New("checkout: fields are not editable in the current step")
	// ErrUnknownOption indicates a shipping option id outside the catalog.
	ErrUnknownOption = errors.New("checkout: unknown shipping option")
	// ErrSubmissionFailed wraps any Order API failure during submission.
	ErrSubmissionFailed = errors.New("checkout: submission failed")
)

// OrderGateway is the Order API as seen by checkout.
type OrderGateway interface {
	CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error)
	ConfirmPayment(ctx context.Context, orderID string) (domain.Order, error)
}

// CartClearer empties the customer's cart after a paid order.
type CartClearer interface {
	Clear(ctx context.Context, customerID string) error
}

// OptionSaver keeps the chosen shipping option for the confirmation page.
type OptionSaver interface {
	Save(ctx context.Context, key string, option domain.ShippingOption) error
}

// Completion is the typed result handed to the confirmation page.
type Completion struct {
	CheckoutID  string
	Order       domain.Order
	Option      domain.ShippingOption
	Items       []domain.CartItem
	Quote       pricing.Quote
	SubmittedAt time.Time
}

// MachineDeps wires the collaborators of a Machine.
type MachineDeps struct {
	Orders        OrderGateway
	Carts         CartClearer
	Options       OptionSaver
	Catalog       *pricing.Catalog
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
	SubmitTimeout time.Duration
	// Meter receives submission metrics. Nil uses the global meter provider.
	Meter metric.Meter

	metrics *submitMetrics
}

// Seed is the data a fresh machine starts from.
type Seed struct {
	Profile domain.CustomerProfile
	Cart    domain.CartSnapshot
}

// ShippingInput edits the shipping group. Nil fields are left unchanged.
type ShippingInput struct {
	UseOverride *bool
	Override    *domain.Address
}

// PaymentInput edits the payment group. Nil fields are left unchanged.
type PaymentInput struct {
	UseOverride *bool
	Override    *domain.PaymentOverride
}

// Machine is the state of a single checkout attempt. All methods are safe for concurrent use.
type Machine struct {
	id         string
	customerID string

	orders        OrderGateway
	carts         CartClearer
	options       OptionSaver
	catalog       *pricing.Catalog
	now           func() time.Time
	logger        func(ctx context.Context, event string, fields map[string]any)
	submitTimeout time.Duration
	metrics       *submitMetrics

	flight singleflight.Group

	mu           sync.Mutex
	state        State
	rec          *reconcile.Reconciler
	option       domain.ShippingOption
	items        []domain.CartItem
	fieldErrors  domain.FieldErrors
	lastError    string
	completion   *Completion

	// pendingOrder was created but not paid. It is reused only while the
	// request built from the current values still equals pendingRequest.
	pendingOrder   *domain.Order
	pendingRequest domain.CreateOrderRequest

	submittedAt  time.Time
	attempt      int
	touchedAt    time.Time
}

// NewMachine builds a machine in the shipping state.
func NewMachine(id, customerID string, seed Seed, deps MachineDeps) (*Machine, error) {
	if id == "" {
		return nil, errors.New("checkout machine: id is required")
	}
	if deps.Orders == nil {
		return nil, errors.New("checkout machine: order gateway is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("checkout machine: cart store is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("checkout machine: shipping catalog is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	timeout := deps.SubmitTimeout
	if timeout <= 0 {
		timeout = defaultSubmitTimeout
	}
	metrics := deps.metrics
	if metrics == nil {
		metrics = newSubmitMetrics(deps.Meter, logger)
	}

	m := &Machine{
		id:            id,
		customerID:    customerID,
		orders:        deps.Orders,
		carts:         deps.Carts,
		options:       deps.Options,
		catalog:       deps.Catalog,
		now:           clock,
		logger:        logger,
		submitTimeout: timeout,
		metrics:       metrics,
		state:         StateShipping,
		rec:           reconcile.New(seed.Profile.Shipping, seed.Profile.Payment),
		option:        deps.Catalog.Default(),
		items:         cloneItems(seed.Cart.Items),
	}
	m.touchedAt = m.now()
	return m, nil
}

// ID returns the checkout identifier.
func (m *Machine) ID() string { return m.id }

// CustomerID returns the owner of the checkout.
func (m *Machine) CustomerID() string { return m.customerID }

// State returns the current wizard state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Touch records activity for idle expiry.
func (m *Machine) Touch() {
	m.mu.Lock()
	m.touchedAt = m.now()
	m.mu.Unlock()
}

// IdleSince reports the last recorded activity.
func (m *Machine) IdleSince() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.touchedAt
}

// UpdateShipping edits the shipping group while on the shipping step.
func (m *Machine) UpdateShipping(in ShippingInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateShipping {
		return fmt.Errorf("%w: shipping fields in %s", ErrStepLocked, m.state)
	}
	if in.Override != nil {
		m.rec.Shipping.SetOverride(*in.Override)
	}
	if in.UseOverride != nil {
		m.rec.Shipping.UseOverride(*in.UseOverride)
	}
	m.fieldErrors = nil
	return nil
}

// UpdatePayment edits the payment group while on the payment step. Raw card
// input is normalised to digits and MM/YY before it is stored.
func (m *Machine) UpdatePayment(in PaymentInput) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StatePayment {
		return fmt.Errorf("%w: payment fields in %s", ErrStepLocked, m.state)
	}
	if in.Override != nil {
		m.rec.Payment.SetOverride(normaliseOverride(*in.Override))
	}
	if in.UseOverride != nil {
		m.rec.Payment.UseOverride(*in.UseOverride)
	}
	m.fieldErrors = nil
	return nil
}

// SelectShippingOption changes the tier before submission.
func (m *Machine) SelectShippingOption(id domain.ShippingOptionID) error {
	opt, ok := m.catalog.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownOption, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.acceptsOptionChange() {
		return fmt.Errorf("%w: shipping option in %s", ErrStepLocked, m.state)
	}
	m.option = opt
	return nil
}

// RefreshProfile replaces the stored profiles. Groups in profile mode follow the
// new data, so steps already passed are validated again and the first one that
// fails becomes current with its field errors.
func (m *Machine) RefreshProfile(profile domain.CustomerProfile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateSubmitting || m.state.Terminal() {
		return fmt.Errorf("%w: profile refresh in %s", ErrStepLocked, m.state)
	}
	m.rec.SetProfiles(profile.Shipping, profile.Payment)
	m.regate()
	return nil
}

// regate re-runs the gates of the steps behind the current one. Callers hold m.mu.
func (m *Machine) regate() *ValidationError {
	if m.state != StatePayment && m.state != StateReview {
		return nil
	}
	if errs := validateShipping(m.rec.EffectiveAddress()); len(errs) > 0 {
		return m.rewind(StateShipping, errs)
	}
	if m.state == StateReview {
		if errs := validatePayment(m.rec.Payment.Selection()); len(errs) > 0 {
			return m.rewind(StatePayment, errs)
		}
	}
	return nil
}

func (m *Machine) rewind(to State, errs domain.FieldErrors) *ValidationError {
	for m.state != to {
		prev, err := Transition(m.state, EventBack)
		if err != nil {
			break
		}
		m.state = prev
	}
	m.fieldErrors = errs
	return &ValidationError{Step: m.state, Fields: errs.Clone()}
}

// Advance moves forward one step when the current step validates. On failure
// the state is unchanged and a *ValidationError lists the offending fields.
func (m *Machine) Advance(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next, err := Transition(m.state, EventAdvance)
	if err != nil {
		return err
	}

	var errs domain.FieldErrors
	switch m.state {
	case StateShipping:
		errs = validateShipping(m.rec.EffectiveAddress())
	case StatePayment:
		errs = validatePayment(m.rec.Payment.Selection())
	}
	if len(errs) > 0 {
		m.fieldErrors = errs
		m.logger(ctx, "checkout.advance_blocked", map[string]any{
			"checkout_id": m.id,
			"state":       string(m.state),
			"fields":      len(errs),
		})
		return &ValidationError{Step: m.state, Fields: errs.Clone()}
	}

	m.fieldErrors = nil
	m.state = next
	return nil
}

// Back moves to the previous step without validating or clearing data.
func (m *Machine) Back() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	next, err := Transition(m.state, EventBack)
	if err != nil {
		return err
	}
	m.fieldErrors = nil
	m.state = next
	return nil
}

// Completion returns the result of a successful submission.
func (m *Machine) Completion() (Completion, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completion == nil {
		return Completion{}, false
	}
	return cloneCompletion(*m.completion), true
}

// Confirm submits the order from the review step. Concurrent calls join the
// in-flight submission and observe its outcome, so at most one order is
// created per attempt. A completed checkout returns its existing result.
func (m *Machine) Confirm(ctx context.Context) (Completion, error) {
	m.mu.Lock()
	switch m.state {
	case StateCompleted:
		c := cloneCompletion(*m.completion)
		m.mu.Unlock()
		return c, nil
	case StateReview:
		if verr := m.regate(); verr != nil {
			m.mu.Unlock()
			return Completion{}, verr
		}
		next, err := Transition(m.state, EventConfirm)
		if err != nil {
			m.mu.Unlock()
			return Completion{}, err
		}
		m.state = next
		m.attempt++
		m.lastError = ""
		m.submittedAt = m.now()
	case StateSubmitting:
	default:
		state := m.state
		m.mu.Unlock()
		return Completion{}, fmt.Errorf("%w: %s from %s", ErrTransitionRejected, EventConfirm, state)
	}
	// Registered under the lock so a concurrent caller in StateSubmitting always finds it.
	ch := m.flight.DoChan(strconv.Itoa(m.attempt), func() (any, error) {
		return m.submit(ctx)
	})
	m.mu.Unlock()

	select {
	case res := <-ch:
		if res.Err != nil {
			return Completion{}, res.Err
		}
		return cloneCompletion(res.Val.(Completion)), nil
	case <-ctx.Done():
		return Completion{}, ctx.Err()
	}
}

func (m *Machine) submit(parent context.Context) (Completion, error) {
	// The two calls must not be abandoned halfway because the caller went away.
	started := time.Now()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), m.submitTimeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "checkout.submit", trace.WithAttributes(
		attribute.String("checkout.id", m.id),
	))
	defer span.End()

	m.mu.Lock()
	req := m.orderRequest()
	option := m.option
	items := cloneItems(m.items)
	submittedAt := m.submittedAt
	var (
		created domain.Order
		resume  bool
		stale   string
	)
	if m.pendingOrder != nil {
		if m.pendingRequest == req {
			created, resume = *m.pendingOrder, true
		} else {
			stale = m.pendingOrder.ID
			m.pendingOrder = nil
		}
	}
	m.mu.Unlock()

	if stale != "" {
		m.metrics.countOrder(ctx, orderReplaced)
		m.logger(ctx, "checkout.pending_order_replaced", map[string]any{
			"checkout_id": m.id,
			"order_id":    stale,
		})
	}
	m.logger(ctx, "checkout.submit_started", map[string]any{
		"checkout_id": m.id,
		"option":      string(option.ID),
		"resume":      resume,
	})

	if !resume {
		order, err := m.orders.CreateOrder(ctx, req)
		if err != nil {
			return m.fail(ctx, span, started, "create_order", err)
		}
		if order.ID == "" {
			return m.fail(ctx, span, started, "create_order", errors.New("order api returned an order without id"))
		}
		created = order
		m.mu.Lock()
		pending := order
		m.pendingOrder = &pending
		m.pendingRequest = req
		m.mu.Unlock()
		m.metrics.countOrder(ctx, orderCreated)
		m.logger(ctx, "checkout.order_created", map[string]any{"checkout_id": m.id, "order_id": order.ID})
	}
	span.SetAttributes(attribute.String("order.id", created.ID))

	paid, err := m.orders.ConfirmPayment(ctx, created.ID)
	if err != nil {
		return m.fail(ctx, span, started, "confirm_payment", err)
	}
	order := mergeOrder(created, paid)

	if err := m.carts.Clear(ctx, m.customerID); err != nil {
		m.logger(ctx, "checkout.cart_clear_failed", map[string]any{
			"checkout_id": m.id,
			"order_id":    order.ID,
			"error":       err.Error(),
		})
	}
	if m.options != nil {
		if err := m.options.Save(ctx, m.id, option); err != nil {
			m.logger(ctx, "checkout.option_save_failed", map[string]any{
				"checkout_id": m.id,
				"error":       err.Error(),
			})
		}
	}

	completion := Completion{
		CheckoutID:  m.id,
		Order:       order,
		Option:      option,
		Items:       items,
		Quote:       pricing.QuoteCart(items, option),
		SubmittedAt: submittedAt,
	}

	m.mu.Lock()
	next, err := Transition(m.state, EventSubmitSucceeded)
	if err == nil {
		m.state = next
	}
	m.completion = &completion
	m.pendingOrder = nil
	m.fieldErrors = nil
	m.rec.Discard()
	m.items = nil
	m.mu.Unlock()

	span.SetStatus(codes.Ok, "")
	m.metrics.countOrder(ctx, orderPaid)
	m.metrics.recordSubmit(ctx, started, "complete", nil)
	m.logger(ctx, "checkout.completed", map[string]any{
		"checkout_id": m.id,
		"order_id":    order.ID,
		"total":       completion.Quote.Total.StringFixed(2),
	})
	return completion, nil
}

// orderRequest builds the create-order payload from the effective values. The
// idempotency key is derived from the checkout and the payload, so a retry of
// the same data is deduplicated by the Order API and edited data opens a new
// order. Callers hold m.mu.
func (m *Machine) orderRequest() domain.CreateOrderRequest {
	req := domain.CreateOrderRequest{
		ShippingAddress: m.rec.EffectiveAddress(),
		PaymentMethod:   paymentLabel(m.rec.Payment.Selection()),
	}
	a := req.ShippingAddress
	seed := strings.Join([]string{m.id, a.FullName, a.Address, a.City, a.PostalCode, a.Country, req.PaymentMethod}, "\x1f")
	req.IdempotencyKey = "checkout-" + uuid.NewSHA1(uuid.NameSpaceURL, []byte(seed)).String()
	return req
}

// fail runs Submitting -> Failed -> Review and normalises err.
func (m *Machine) fail(ctx context.Context, span trace.Span, started time.Time, stage string, err error) (Completion, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, stage)
	m.metrics.countOrder(ctx, orderFailed)
	m.metrics.recordSubmit(ctx, started, stage, err)
	m.logger(ctx, "checkout.submit_failed", map[string]any{
		"checkout_id": m.id,
		"stage":       stage,
		"error":       err.Error(),
	})

	m.mu.Lock()
	if failed, terr := Transition(m.state, EventSubmitFailed); terr == nil {
		m.state = failed
		if recovered, rerr := Transition(failed, EventRecover); rerr == nil {
			m.state = recovered
		}
	}
	m.lastError = SubmissionFailedMessage
	m.mu.Unlock()

	return Completion{}, fmt.Errorf("%w at %s: %w", ErrSubmissionFailed, stage, err)
}

// mergeOrder fills gaps in the confirm-payment response from the created order.
func mergeOrder(created, paid domain.Order) domain.Order {
	out := paid
	if out.ID == "" {
		out.ID = created.ID
	}
	if len(out.Items) == 0 {
		out.Items = created.Items
	}
	if out.ShippingAddress.IsZero() {
		out.ShippingAddress = created.ShippingAddress
	}
	if out.PaymentMethod == "" {
		out.PaymentMethod = created.PaymentMethod
	}
	if out.TotalPrice.IsZero() {
		out.TotalPrice = created.TotalPrice
	}
	if out.Status == "" {
		out.Status = domain.OrderStatusPaid
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = created.CreatedAt
	}
	return out
}

func cloneItems(items []domain.CartItem) []domain.CartItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]domain.CartItem, len(items))
	copy(out, items)
	return out
}

func cloneCompletion(c Completion) Completion {
	c.Items = cloneItems(c.Items)
	c.Order.Items = cloneItems(c.Order.Items)
	return c
}
