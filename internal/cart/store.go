// Package cart holds the customer's cart lines until an order is paid.
package cart

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/kbook/checkout/internal/domain"
)

// ErrInvalidCustomer is returned for a blank customer id.
var ErrInvalidCustomer = errors.New("cart: missing customer id")

// Store reads and mutates carts.
type Store interface {
	Snapshot(ctx context.Context, customerID string) (domain.CartSnapshot, error)
	Put(ctx context.Context, customerID string, items []domain.CartItem) error
	Clear(ctx context.Context, customerID string) error
}

// MemoryStore keeps carts in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	carts map[string][]domain.CartItem
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty in-memory cart store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[string][]domain.CartItem)}
}

// Snapshot returns a copy of the customer's cart. Unknown customers have an empty cart.
func (s *MemoryStore) Snapshot(_ context.Context, customerID string) (domain.CartSnapshot, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return domain.CartSnapshot{}, ErrInvalidCustomer
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.CartSnapshot{CustomerID: customerID, Items: cloneItems(s.carts[customerID])}, nil
}

// Put replaces the customer's cart.
func (s *MemoryStore) Put(_ context.Context, customerID string, items []domain.CartItem) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return ErrInvalidCustomer
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[customerID] = cloneItems(items)
	return nil
}

// Clear empties the customer's cart.
func (s *MemoryStore) Clear(_ context.Context, customerID string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return ErrInvalidCustomer
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.carts, customerID)
	return nil
}

// RemoveItem drops the line matching book and format, if any.
func (s *MemoryStore) RemoveItem(_ context.Context, customerID, bookID, format string) error {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" {
		return ErrInvalidCustomer
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[customerID] = removeLine(s.carts[customerID], bookID, format)
	return nil
}

func removeLine(items []domain.CartItem, bookID, format string) []domain.CartItem {
	out := make([]domain.CartItem, 0, len(items))
	for _, item := range items {
		if item.BookID == bookID && strings.EqualFold(item.Format, format) {
			continue
		}
		out = append(out, item)
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
