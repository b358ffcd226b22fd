package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps records in process. It suits a single replica and tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]Record)}
}

// live returns the unexpired record under id. Callers hold s.mu.
func (s *MemoryStore) live(id string, now time.Time) (Record, bool) {
	record, ok := s.records[id]
	if !ok || !now.Before(record.ExpiresAt) {
		return Record{}, false
	}
	return record, true
}

// Reserve implements Store.
func (s *MemoryStore) Reserve(_ context.Context, key, fingerprint string, now time.Time, ttl time.Duration) (Reservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	id := storageKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.live(id, now); ok {
		return classify(existing, fingerprint)
	}
	pending := pendingRecord(key, fingerprint, now, ttl)
	s.records[id] = pending
	return Reservation{State: ReservationStateNew, Record: pending}, nil
}

// SaveResponse implements Store.
func (s *MemoryStore) SaveResponse(_ context.Context, key, fingerprint string, resp Response, now time.Time, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	now = now.UTC()
	id := storageKey(key)

	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.live(id, now); ok && existing.Fingerprint != fingerprint {
		return ErrFingerprintMismatch
	}
	s.records[id] = completedRecord(key, fingerprint, resp, now, ttl)
	return nil
}

// Release implements Store. A key held for another fingerprint is left alone.
func (s *MemoryStore) Release(_ context.Context, key, fingerprint string) error {
	id := storageKey(key)
	s.mu.Lock()
	if existing, ok := s.records[id]; ok && existing.Fingerprint == fingerprint {
		delete(s.records, id)
	}
	s.mu.Unlock()
	return nil
}

// CleanupExpired implements Store.
func (s *MemoryStore) CleanupExpired(_ context.Context, now time.Time) (int, error) {
	now = now.UTC()
	s.mu.Lock()
	defer s.mu.Unlock()

	before := len(s.records)
	for id := range s.records {
		if _, ok := s.live(id, now); !ok {
			delete(s.records, id)
		}
	}
	return before - len(s.records), nil
}
