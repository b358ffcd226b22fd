package handlers

import (
	"context"
	"errors"
	"html"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"

	"github.com/kbook/checkout/internal/checkout"
	"github.com/kbook/checkout/internal/confirmation"
	"github.com/kbook/checkout/internal/domain"
	"github.com/kbook/checkout/internal/platform/httpx"
)

// CheckoutService is the registry of live checkouts.
type CheckoutService interface {
	Start(ctx context.Context, customerID string) (*checkout.Machine, error)
	Get(customerID, id string) (*checkout.Machine, error)
	RefreshProfile(ctx context.Context, customerID, id string) (*checkout.Machine, error)
	Abandon(ctx context.Context, customerID, id string) error
}

// OptionTaker reads the shipping option parked at completion. The value is consumed.
type OptionTaker interface {
	Take(ctx context.Context, key string) (domain.ShippingOption, bool, error)
}

// CheckoutHandlers exposes the checkout wizard over HTTP.
type CheckoutHandlers struct {
	service  CheckoutService
	renderer *confirmation.Renderer
	options  OptionTaker
	confirm  []func(http.Handler) http.Handler
	logger   func(ctx context.Context, event string, fields map[string]any)
	policy   *bluemonday.Policy
}

// CheckoutOption customises CheckoutHandlers.
type CheckoutOption func(*CheckoutHandlers)

// WithOptionTaker sets the session fallback for the confirmation page.
func WithOptionTaker(taker OptionTaker) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.options = taker
	}
}

// WithConfirmMiddlewares wraps POST /confirm, typically with idempotency replay.
func WithConfirmMiddlewares(mw ...func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.confirm = append(h.confirm, mw...)
	}
}

// WithCheckoutLogger sets the event hook.
func WithCheckoutLogger(logger func(ctx context.Context, event string, fields map[string]any)) CheckoutOption {
	return func(h *CheckoutHandlers) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewCheckoutHandlers constructs the checkout handlers.
func NewCheckoutHandlers(service CheckoutService, renderer *confirmation.Renderer, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{
		service:  service,
		renderer: renderer,
		logger:   func(context.Context, string, map[string]any) {},
		policy:   bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the checkout endpoints under the provided router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	r.Post("/checkouts", h.start)
	r.Route("/checkouts/{checkoutID}", func(cr chi.Router) {
		cr.Get("/", h.get)
		cr.Delete("/", h.abandon)
		cr.Put("/shipping", h.updateShipping)
		cr.Put("/payment", h.updatePayment)
		cr.Put("/shipping-option", h.selectShippingOption)
		cr.Post("/profile/refresh", h.refreshProfile)
		cr.Post("/advance", h.advance)
		cr.Post("/back", h.back)
		cr.With(h.confirm...).Post("/confirm", h.confirmCheckout)
		cr.Get("/confirmation", h.getConfirmation)
	})
}

func (h *CheckoutHandlers) start(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	customer, ok := customerID(r)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	m, err := h.service.Start(ctx, customer)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, newViewResponse(m.Snapshot()))
}

func (h *CheckoutHandlers) get(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	writeJSONResponse(w, http.StatusOK, newViewResponse(m.Snapshot()))
}

func (h *CheckoutHandlers) abandon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	customer, ok := customerID(r)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	if err := h.service.Abandon(ctx, customer, chi.URLParam(r, "checkoutID")); err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CheckoutHandlers) updateShipping(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	var req shippingRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	in := checkout.ShippingInput{UseOverride: req.UseOverride}
	if req.Override != nil {
		addr := domain.Address{
			FullName:   h.sanitize(req.Override.FullName),
			Address:    h.sanitize(req.Override.Address),
			City:       h.sanitize(req.Override.City),
			PostalCode: h.sanitize(req.Override.PostalCode),
			Country:    h.sanitize(req.Override.Country),
		}
		in.Override = &addr
	}
	if err := m.UpdateShipping(in); err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newViewResponse(m.Snapshot()))
}

func (h *CheckoutHandlers) updatePayment(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	var req paymentRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	in := checkout.PaymentInput{UseOverride: req.UseOverride}
	if req.Override != nil {
		// Card number, expiry and CVC are reduced to digits by the machine.
		override := domain.PaymentOverride{
			HolderName: h.sanitize(req.Override.HolderName),
			CardNumber: req.Override.CardNumber,
			Expiry:     req.Override.Expiry,
			CVC:        req.Override.CVC,
		}
		in.Override = &override
	}
	if err := m.UpdatePayment(in); err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newViewResponse(m.Snapshot()))
}

func (h *CheckoutHandlers) selectShippingOption(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	var req shippingOptionRequest
	if err := decodeJSONBody(r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	option := domain.ShippingOptionID(strings.ToLower(strings.TrimSpace(req.Option)))
	if err := m.SelectShippingOption(option); err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newViewResponse(m.Snapshot()))
}

func (h *CheckoutHandlers) refreshProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	customer, ok := customerID(r)
	if !ok {
		writeUnauthenticated(ctx, w)
		return
	}
	m, err := h.service.RefreshProfile(ctx, customer, chi.URLParam(r, "checkoutID"))
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newViewResponse(m.Snapshot()))
}

func (h *CheckoutHandlers) advance(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	if err := m.Advance(r.Context()); err != nil {
		h.writeCheckoutError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newViewResponse(m.Snapshot()))
}

func (h *CheckoutHandlers) back(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	if err := m.Back(); err != nil {
		h.writeCheckoutError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newViewResponse(m.Snapshot()))
}

func (h *CheckoutHandlers) confirmCheckout(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	completion, err := m.Confirm(ctx)
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return
	}
	summary := h.renderer.Render(confirmation.Input{
		Order:       completion.Order,
		Option:      completion.Option.ID,
		Items:       completion.Items,
		SubmittedAt: completion.SubmittedAt,
	})
	writeJSONResponse(w, http.StatusCreated, summary)
}

func (h *CheckoutHandlers) getConfirmation(w http.ResponseWriter, r *http.Request) {
	m, ok := h.machine(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	completion, done := m.Completion()
	if !done {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_not_completed", "checkout has not been completed", http.StatusConflict))
		return
	}

	option := completion.Option.ID
	if h.options != nil {
		parked, found, err := h.options.Take(ctx, m.ID())
		if err != nil {
			h.logger(ctx, "checkout.option_take_failed", map[string]any{"checkout_id": m.ID(), "error": err.Error()})
		}
		if option == "" && found {
			option = parked.ID
		}
	}

	summary := h.renderer.Render(confirmation.Input{
		Order:       completion.Order,
		Option:      option,
		Items:       completion.Items,
		SubmittedAt: completion.SubmittedAt,
	})

	switch strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format"))) {
	case "", "json":
		writeJSONResponse(w, http.StatusOK, summary)
	case "html":
		page, err := h.renderer.HTML(summary)
		if err != nil {
			h.logger(ctx, "checkout.confirmation_render_failed", map[string]any{"checkout_id": m.ID(), "error": err.Error()})
			httpx.WriteError(ctx, w, httpx.NewError("render_failed", "unable to render confirmation", http.StatusInternalServerError))
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(page))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_format", "format must be json or html", http.StatusBadRequest))
	}
}

func (h *CheckoutHandlers) machine(w http.ResponseWriter, r *http.Request) (*checkout.Machine, bool) {
	ctx := r.Context()
	customer, ok := customerID(r)
	if !ok {
		writeUnauthenticated(ctx, w)
		return nil, false
	}
	m, err := h.service.Get(customer, chi.URLParam(r, "checkoutID"))
	if err != nil {
		h.writeCheckoutError(ctx, w, err)
		return nil, false
	}
	return m, true
}

// sanitize strips markup from free text. Entities are decoded again so names
// like O'Brien survive as typed.
func (h *CheckoutHandlers) sanitize(value string) string {
	return strings.TrimSpace(html.UnescapeString(h.policy.Sanitize(value)))
}

func (h *CheckoutHandlers) writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	var validation *checkout.ValidationError
	switch {
	case errors.As(err, &validation):
		httpx.WriteError(ctx, w, httpx.NewError("validation_failed", "some fields need attention", http.StatusUnprocessableEntity).
			WithFields(validation.Fields))
	case errors.Is(err, checkout.ErrSubmissionFailed):
		httpx.WriteError(ctx, w, httpx.NewError("submission_failed", checkout.SubmissionFailedMessage, http.StatusBadGateway))
	case errors.Is(err, checkout.ErrNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_not_found", "checkout not found", http.StatusNotFound))
	case errors.Is(err, checkout.ErrEmptyCart):
		httpx.WriteError(ctx, w, httpx.NewError("cart_empty", "cart is empty", http.StatusConflict))
	case errors.Is(err, checkout.ErrUnknownOption):
		httpx.WriteError(ctx, w, httpx.NewError("unknown_shipping_option", "unknown shipping option", http.StatusUnprocessableEntity).
			WithFields(map[string]string{"option": "Opción de envío no válida"}))
	case errors.Is(err, checkout.ErrStepLocked), errors.Is(err, checkout.ErrTransitionRejected):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", err.Error(), http.StatusConflict))
	case errors.Is(err, checkout.ErrInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid checkout request", http.StatusBadRequest))
	case errors.Is(err, checkout.ErrUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_unavailable", "checkout is temporarily unavailable", http.StatusServiceUnavailable))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		httpx.WriteError(ctx, w, httpx.NewError("request_timeout", "request cancelled or timed out", http.StatusGatewayTimeout))
	default:
		h.logger(ctx, "checkout.request_failed", map[string]any{"error": err.Error()})
		httpx.WriteError(ctx, w, httpx.NewError("internal_error", "internal server error", http.StatusInternalServerError))
	}
}

func writeUnauthenticated(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, errBodyTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), status))
}
