package preview

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/mammo-check/internal/retry"
	"github.com/example/mammo-check/internal/upload"
)

// DefaultTTL bounds how long an unreleased preview survives.
const DefaultTTL = 30 * time.Minute

const keyPrefix = "preview:"

// Cache abstracts the Redis operations used by RedisStore to make testing easier.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Del(ctx context.Context, key string) error
}

// RedisCache is a concrete implementation backed by go-redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a new Redis-backed cache adapter.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	return c.client.Get(ctx, key).Bytes()
}

func (c *RedisCache) Del(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// Ping checks connectivity.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// RedisStore keeps previews in Redis with a TTL so that previews of crashed
// sessions expire on their own.
type RedisStore struct {
	cache  Cache
	ttl    time.Duration
	logger *zap.Logger
	policy retry.Policy
	now    func() time.Time
}

// NewRedisStore wraps cache. A non-positive ttl uses DefaultTTL.
func NewRedisStore(cache Cache, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{
		cache:  cache,
		ttl:    ttl,
		logger: logger.Named("preview_store"),
		policy: missingKeyPolicy(retry.DefaultPolicy()),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// missingKeyPolicy treats redis.Nil as an ordinary miss.
func missingKeyPolicy(p retry.Policy) retry.Policy {
	p.Expected = func(err error) bool { return errors.Is(err, redis.Nil) }
	return p
}

func (s *RedisStore) Put(ctx context.Context, sessionID string, file *upload.File) (Handle, error) {
	h := newHandle(uuid.NewString(), sessionID, file, s.now())
	payload, err := json.Marshal(Preview{Handle: h, Data: file.Data})
	if err != nil {
		return Handle{}, fmt.Errorf("encode preview: %w", err)
	}

	if err := retry.Do(ctx, s.policy, s.logger, "preview.put", sessionID, func() error {
		return s.cache.Set(ctx, keyPrefix+h.ID, payload, s.ttl)
	}); err != nil {
		return Handle{}, err
	}
	return h, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Preview, error) {
	var payload []byte
	err := retry.Do(ctx, s.policy, s.logger, "preview.get", "", func() error {
		value, err := s.cache.Get(ctx, keyPrefix+id)
		if err != nil {
			return err
		}
		payload = value
		return nil
	})
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var p Preview
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode preview %s: %w", id, err)
	}
	return &p, nil
}

func (s *RedisStore) Release(ctx context.Context, id string) error {
	return retry.Do(ctx, s.policy, s.logger, "preview.release", "", func() error {
		return s.cache.Del(ctx, keyPrefix+id)
	})
}
