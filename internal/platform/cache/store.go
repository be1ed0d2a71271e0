package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStoreUnavailable is returned when the store has no client configured.
var ErrStoreUnavailable = errors.New("platform/cache: store not configured")

// TTLStore is a namespaced key/value store whose entries expire. Each
// consumer builds its own instance so keys never collide across features
// and tests can run against isolated redis instances.
type TTLStore struct {
	client    redis.UniversalClient
	namespace string
	ttl       time.Duration
}

// NewTTLStore constructs a store scoped to namespace.
func NewTTLStore(client redis.UniversalClient, namespace string, ttl time.Duration) *TTLStore {
	return &TTLStore{client: client, namespace: strings.Trim(namespace, ":"), ttl: ttl}
}

func (s *TTLStore) key(k string) string {
	return s.namespace + ":" + k
}

// Get returns the stored value and whether it existed.
func (s *TTLStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if s == nil || s.client == nil {
		return nil, false, ErrStoreUnavailable
	}
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Reserve claims key with a placeholder value. It returns false when another
// caller already holds the key.
func (s *TTLStore) Reserve(ctx context.Context, key string, placeholder []byte) (bool, error) {
	if s == nil || s.client == nil {
		return false, ErrStoreUnavailable
	}
	return s.client.SetNX(ctx, s.key(key), placeholder, s.ttl).Result()
}

// Set stores value under key, refreshing the TTL.
func (s *TTLStore) Set(ctx context.Context, key string, value []byte) error {
	if s == nil || s.client == nil {
		return ErrStoreUnavailable
	}
	return s.client.Set(ctx, s.key(key), value, s.ttl).Err()
}

// Delete removes key.
func (s *TTLStore) Delete(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return ErrStoreUnavailable
	}
	return s.client.Del(ctx, s.key(key)).Err()
}
