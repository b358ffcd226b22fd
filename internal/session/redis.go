package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kbook/checkout/internal/domain"
)

const defaultKeyPrefix = "checkout:option:"

// RedisStore keeps options in Redis with SET EX and reads them with GETDEL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

var _ OptionStore = (*RedisStore)(nil)

// NewRedisStore wraps a connected client. A non-positive ttl uses the default.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl, prefix: defaultKeyPrefix}
}

// Save stores the option under key with the configured expiry.
func (s *RedisStore) Save(ctx context.Context, key string, option domain.ShippingOption) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrInvalidKey
	}
	raw, err := encodeOption(option)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.prefix+key, raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("session: redis set failed: %w", err)
	}
	return nil
}

// Take atomically reads and deletes the option.
func (s *RedisStore) Take(ctx context.Context, key string) (domain.ShippingOption, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.ShippingOption{}, false, ErrInvalidKey
	}
	raw, err := s.client.GetDel(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.ShippingOption{}, false, nil
	}
	if err != nil {
		return domain.ShippingOption{}, false, fmt.Errorf("session: redis getdel failed: %w", err)
	}
	option, err := decodeOption(raw)
	if err != nil {
		return domain.ShippingOption{}, false, err
	}
	return option, true, nil
}
