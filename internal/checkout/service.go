package checkout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"go.opentelemetry.io/otel/metric"

	"github.com/kbook/checkout/internal/domain"
	"github.com/kbook/checkout/internal/pricing"
)

const defaultIdleTTL = 30 * time.Minute

var (
	// ErrNotFound indicates no live checkout exists for the id and customer.
	ErrNotFound = errors.New("checkout: not found")
	// ErrEmptyCart indicates the customer has nothing to check out.
	ErrEmptyCart = errors.New("checkout: cart is empty")
	// ErrInvalidInput indicates missing identifiers.
	ErrInvalidInput = errors.New("checkout: invalid input")
	// ErrUnavailable indicates a required collaborator failed.
	ErrUnavailable = errors.New("checkout: unavailable")
)

// ProfileSource loads the customer record projection.
type ProfileSource interface {
	Fetch(ctx context.Context, customerID string) (domain.CustomerProfile, error)
}

// CartSource reads and clears the customer's cart.
type CartSource interface {
	Snapshot(ctx context.Context, customerID string) (domain.CartSnapshot, error)
	Clear(ctx context.Context, customerID string) error
}

// ServiceDeps wires the dependencies required by the checkout service.
type ServiceDeps struct {
	Orders        OrderGateway
	Profiles      ProfileSource
	Carts         CartSource
	Options       OptionSaver
	Catalog       *pricing.Catalog
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
	IdleTTL       time.Duration
	SubmitTimeout time.Duration
	NewID         func() string
	Meter         metric.Meter
}

// Service keeps the live checkout attempts in memory, keyed by id.
type Service struct {
	deps    MachineDeps
	profile ProfileSource
	carts   CartSource
	now     func() time.Time
	logger  func(ctx context.Context, event string, fields map[string]any)
	idleTTL time.Duration
	newID   func() string

	mu       sync.RWMutex
	machines map[string]*Machine
}

// NewService constructs a Service validating required dependencies.
func NewService(deps ServiceDeps) (*Service, error) {
	if deps.Orders == nil {
		return nil, errors.New("checkout service: order gateway is required")
	}
	if deps.Carts == nil {
		return nil, errors.New("checkout service: cart store is required")
	}
	catalog := deps.Catalog
	if catalog == nil {
		catalog = pricing.DefaultCatalog()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	ttl := deps.IdleTTL
	if ttl <= 0 {
		ttl = defaultIdleTTL
	}
	newID := deps.NewID
	if newID == nil {
		newID = func() string { return ulid.Make().String() }
	}

	return &Service{
		deps: MachineDeps{
			Orders:        deps.Orders,
			Carts:         deps.Carts,
			Options:       deps.Options,
			Catalog:       catalog,
			Clock:         clock,
			Logger:        logger,
			SubmitTimeout: deps.SubmitTimeout,
			metrics:       newSubmitMetrics(deps.Meter, logger),
		},
		profile:  deps.Profiles,
		carts:    deps.Carts,
		now:      clock,
		logger:   logger,
		idleTTL:  ttl,
		newID:    newID,
		machines: make(map[string]*Machine),
	}, nil
}

// Catalog exposes the shipping catalog shared by all machines.
func (s *Service) Catalog() *pricing.Catalog {
	return s.deps.Catalog
}

// Start creates a fresh checkout seeded from the current profile and cart.
// A profile failure degrades to "no profile"; a cart failure is fatal.
func (s *Service) Start(ctx context.Context, customerID string) (*Machine, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return nil, ErrInvalidInput
	}

	snapshot, err := s.carts.Snapshot(ctx, customerID)
	if err != nil {
		s.logger(ctx, "checkout.cart_load_failed", map[string]any{"customer_id": customerID, "error": err.Error()})
		return nil, fmt.Errorf("%w: load cart: %w", ErrUnavailable, err)
	}
	if snapshot.Empty() {
		return nil, ErrEmptyCart
	}

	profile := s.fetchProfile(ctx, customerID)

	id := s.newID()
	m, err := NewMachine(id, customerID, Seed{Profile: profile, Cart: snapshot}, s.deps)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.machines[id] = m
	s.mu.Unlock()

	s.logger(ctx, "checkout.started", map[string]any{
		"checkout_id":      id,
		"customer_id":      customerID,
		"items":            len(snapshot.Items),
		"shipping_profile": profile.Shipping != nil,
		"payment_profile":  profile.Payment != nil,
	})
	return m, nil
}

// Get returns the customer's checkout and records activity on it.
func (s *Service) Get(customerID, id string) (*Machine, error) {
	s.mu.RLock()
	m, ok := s.machines[strings.TrimSpace(id)]
	s.mu.RUnlock()
	if !ok || m.CustomerID() != customerID {
		return nil, ErrNotFound
	}
	m.Touch()
	return m, nil
}

// RefreshProfile re-fetches the profile and projects it into the checkout.
func (s *Service) RefreshProfile(ctx context.Context, customerID, id string) (*Machine, error) {
	m, err := s.Get(customerID, id)
	if err != nil {
		return nil, err
	}
	before := m.State()
	if err := m.RefreshProfile(s.fetchProfile(ctx, customerID)); err != nil {
		return nil, err
	}
	if after := m.State(); after != before {
		s.logger(ctx, "checkout.profile_refresh_rewound", map[string]any{
			"checkout_id": m.ID(),
			"from":        string(before),
			"to":          string(after),
		})
	}
	return m, nil
}

// Abandon drops a checkout. Nothing is sent to the Order API.
func (s *Service) Abandon(ctx context.Context, customerID, id string) error {
	m, err := s.Get(customerID, id)
	if err != nil {
		return err
	}
	if m.State() == StateSubmitting {
		return fmt.Errorf("%w: abandon while submitting", ErrStepLocked)
	}
	s.mu.Lock()
	delete(s.machines, m.ID())
	s.mu.Unlock()
	s.logger(ctx, "checkout.abandoned", map[string]any{"checkout_id": m.ID()})
	return nil
}

// Sweep evicts checkouts idle for longer than the TTL. Submitting checkouts are kept.
func (s *Service) Sweep(ctx context.Context) int {
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, m := range s.machines {
		if m.IdleSince().After(cutoff) || m.State() == StateSubmitting {
			continue
		}
		delete(s.machines, id)
		removed++
	}
	if removed > 0 {
		s.logger(ctx, "checkout.swept", map[string]any{"count": removed})
	}
	return removed
}

// Len reports the number of live checkouts.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.machines)
}

func (s *Service) fetchProfile(ctx context.Context, customerID string) domain.CustomerProfile {
	if s.profile == nil {
		return domain.CustomerProfile{}
	}
	profile, err := s.profile.Fetch(ctx, customerID)
	if err != nil {
		s.logger(ctx, "checkout.profile_fetch_failed", map[string]any{
			"customer_id": customerID,
			"error":       err.Error(),
		})
		return domain.CustomerProfile{}
	}
	return profile
}
