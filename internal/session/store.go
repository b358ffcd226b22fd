// Package session keeps the shipping option chosen at submission so the
// confirmation page can read it back once after a hard reload.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kbook/checkout/internal/domain"
)

const defaultTTL = 30 * time.Minute

// ErrInvalidKey is returned for a blank key.
var ErrInvalidKey = errors.New("session: missing key")

// OptionStore saves a shipping option under a key and hands it back exactly once.
type OptionStore interface {
	Save(ctx context.Context, key string, option domain.ShippingOption) error
	Take(ctx context.Context, key string) (domain.ShippingOption, bool, error)
}

type optionRecord struct {
	ID      domain.ShippingOptionID `json:"id"`
	Label   string                  `json:"label"`
	Extra   decimal.Decimal         `json:"extra"`
	MinDays int                     `json:"minDays"`
	MaxDays int                     `json:"maxDays"`
}

func encodeOption(o domain.ShippingOption) ([]byte, error) {
	raw, err := json.Marshal(optionRecord{ID: o.ID, Label: o.Label, Extra: o.Extra, MinDays: o.MinDays, MaxDays: o.MaxDays})
	if err != nil {
		return nil, fmt.Errorf("session: encode option: %w", err)
	}
	return raw, nil
}

func decodeOption(raw []byte) (domain.ShippingOption, error) {
	var rec optionRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return domain.ShippingOption{}, fmt.Errorf("session: decode option: %w", err)
	}
	return domain.ShippingOption{ID: rec.ID, Label: rec.Label, Extra: rec.Extra, MinDays: rec.MinDays, MaxDays: rec.MaxDays}, nil
}

type memoryEntry struct {
	raw       []byte
	expiresAt time.Time
}

// MemoryStore is an in-process OptionStore with expiry.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

var _ OptionStore = (*MemoryStore)(nil)

// NewMemoryStore constructs a MemoryStore. A non-positive ttl uses the default.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &MemoryStore{entries: make(map[string]memoryEntry), ttl: ttl, now: time.Now}
}

// Save stores the option, replacing any previous value.
func (s *MemoryStore) Save(_ context.Context, key string, option domain.ShippingOption) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidKey
	}
	raw, err := encodeOption(option)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = memoryEntry{raw: raw, expiresAt: s.now().Add(s.ttl)}
	return nil
}

// Take returns and deletes the option.
func (s *MemoryStore) Take(_ context.Context, key string) (domain.ShippingOption, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ShippingOption{}, false, ErrInvalidKey
	}
	s.mu.Lock()
	entry, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()
	if !ok || !s.now().Before(entry.expiresAt) {
		return domain.ShippingOption{}, false, nil
	}
	option, err := decodeOption(entry.raw)
	if err != nil {
		return domain.ShippingOption{}, false, err
	}
	return option, true, nil
}

// Cleanup drops expired entries and reports how many were removed.
func (s *MemoryStore) Cleanup(_ context.Context) int {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, entry := range s.entries {
		if !now.Before(entry.expiresAt) {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}
