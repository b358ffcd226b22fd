package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kbook/checkout/internal/domain"
)

func fastOption() domain.ShippingOption {
	return domain.ShippingOption{
		ID:      domain.ShippingFast,
		Label:   "Envío rápido",
		Extra:   decimal.RequireFromString("4.99"),
		MinDays: 2,
		MaxDays: 2,
	}
}

func setupRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisStore(client, 10*time.Minute), mr
}

func TestRedisStoreSaveAndTakeOnce(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "chk-1", fastOption()))
	assert.True(t, mr.Exists(defaultKeyPrefix+"chk-1"))
	assert.Equal(t, 10*time.Minute, mr.TTL(defaultKeyPrefix+"chk-1"))

	got, ok, err := store.Take(ctx, "chk-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.ShippingFast, got.ID)
	assert.True(t, got.Extra.Equal(decimal.RequireFromString("4.99")))
	assert.Equal(t, 2, got.MaxDays)

	_, ok, err = store.Take(ctx, "chk-1")
	require.NoError(t, err)
	assert.False(t, ok, "option must be readable only once")
}

func TestRedisStoreExpiry(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "chk-1", fastOption()))
	mr.FastForward(11 * time.Minute)

	_, ok, err := store.Take(ctx, "chk-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStoreErrors(t *testing.T) {
	store, mr := setupRedisStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.Save(ctx, " ", fastOption()), ErrInvalidKey)

	require.NoError(t, mr.Set(defaultKeyPrefix+"broken", "not json"))
	_, _, err := store.Take(ctx, "broken")
	assert.Error(t, err)

	mr.Close()
	assert.Error(t, store.Save(ctx, "chk-2", fastOption()))
}

func TestMemoryStoreSaveTakeAndExpiry(t *testing.T) {
	now := time.Date(2025, time.March, 7, 10, 0, 0, 0, time.UTC)
	store := NewMemoryStore(time.Minute)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "chk-1", fastOption()))
	got, ok, err := store.Take(ctx, "chk-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Envío rápido", got.Label)

	_, ok, _ = store.Take(ctx, "chk-1")
	assert.False(t, ok)

	require.NoError(t, store.Save(ctx, "chk-2", fastOption()))
	require.NoError(t, store.Save(ctx, "chk-3", fastOption()))
	now = now.Add(2 * time.Minute)
	_, ok, _ = store.Take(ctx, "chk-2")
	assert.False(t, ok, "expired options are not returned")
	assert.Equal(t, 1, store.Cleanup(ctx))

	_, _, err = store.Take(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}
