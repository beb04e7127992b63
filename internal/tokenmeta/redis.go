package tokenmeta

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Defaults for RedisStore.
const (
	DefaultKeyPrefix = "cftmail:tokenmeta"
	DefaultTTL       = 30 * 24 * time.Hour
)

// RedisStore keeps records as JSON strings, one key per user.
type RedisStore struct {
	rdb    redis.UniversalClient
	prefix string
	// ttl bounds how long an abandoned record survives. Zero keeps it forever.
	ttl time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the key prefix. Surrounding colons are trimmed.
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.prefix = strings.Trim(prefix, ":") }
}

// WithTTL sets the key expiry.
func WithTTL(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.ttl = d }
}

// NewRedisStore wraps rdb.
func NewRedisStore(rdb redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		rdb:    rdb,
		prefix: DefaultKeyPrefix,
		ttl:    DefaultTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewRedisClient builds a client from a redis:// URL.
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

func (s *RedisStore) key(userID string) string {
	return s.prefix + ":" + userID
}

func (s *RedisStore) Get(ctx context.Context, userID string) (Meta, error) {
	raw, err := s.rdb.Get(ctx, s.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Meta{}, ErrNotFound
	}
	if err != nil {
		return Meta{}, fmt.Errorf("failed to get token meta: %w", err)
	}

	var m Meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return Meta{}, fmt.Errorf("failed to decode token meta: %w", err)
	}
	return m, nil
}

func (s *RedisStore) Put(ctx context.Context, m Meta) error {
	if err := m.Validate(); err != nil {
		return err
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode token meta: %w", err)
	}
	if err := s.rdb.Set(ctx, s.key(m.UserID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to put token meta: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("failed to delete token meta: %w", err)
	}
	return nil
}

// Ping checks the connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

var _ Store = (*RedisStore)(nil)
