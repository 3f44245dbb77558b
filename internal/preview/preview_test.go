package preview

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/mammo-check/internal/logging"
	"github.com/example/mammo-check/internal/retry"
	"github.com/example/mammo-check/internal/upload"
)

type stubCache struct {
	mu      sync.Mutex
	values  map[string][]byte
	ttls    map[string]time.Duration
	setErrs []error
	dels    int
}

func newStubCache() *stubCache {
	return &stubCache{values: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (s *stubCache) Set(_ context.Context, key string, value []byte, expiration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.setErrs) > 0 {
		err := s.setErrs[0]
		s.setErrs = s.setErrs[1:]
		return err
	}
	s.values[key] = value
	s.ttls[key] = expiration
	return nil
}

func (s *stubCache) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	if !ok {
		return nil, redis.Nil
	}
	return v, nil
}

func (s *stubCache) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dels++
	delete(s.values, key)
	return nil
}

type transientRedisError struct{}

func (transientRedisError) Error() string   { return "redis transient" }
func (transientRedisError) Timeout() bool   { return true }
func (transientRedisError) Temporary() bool { return true }

func testFile() *upload.File {
	return upload.NewFile("scan.png", "image/png", []byte("\x89PNG\r\n\x1a\n"))
}

func TestMemoryStoreLifecycle(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	h, err := store.Put(ctx, "sess-1", testFile())
	require.NoError(t, err)
	assert.NotEmpty(t, h.ID)
	assert.Equal(t, "sess-1", h.SessionID)
	assert.Equal(t, "image/png", h.ContentType)
	assert.Equal(t, int64(8), h.Size)
	assert.Equal(t, 1, store.Len())

	p, err := store.Get(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, testFile().Data, p.Data)

	require.NoError(t, store.Release(ctx, h.ID))
	require.NoError(t, store.Release(ctx, h.ID))
	assert.Equal(t, 0, store.Len())

	_, err = store.Get(ctx, h.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreCopiesData(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	file := testFile()

	h, err := store.Put(ctx, "sess", file)
	require.NoError(t, err)
	file.Data[0] = 0

	p, err := store.Get(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, byte(0x89), p.Data[0])
}

func TestRedisStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	cache := newStubCache()
	store := NewRedisStore(cache, 5*time.Minute, zap.NewNop())

	h, err := store.Put(ctx, "sess-1", testFile())
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cache.ttls[keyPrefix+h.ID])

	p, err := store.Get(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, h.ID, p.ID)
	assert.Equal(t, "scan.png", p.FileName)
	assert.Equal(t, testFile().Data, p.Data)

	require.NoError(t, store.Release(ctx, h.ID))
	_, err = store.Get(ctx, h.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreDefaultTTL(t *testing.T) {
	store := NewRedisStore(newStubCache(), 0, zap.NewNop())
	assert.Equal(t, DefaultTTL, store.ttl)
}

func TestRedisStoreRetriesTransientSet(t *testing.T) {
	cache := newStubCache()
	cache.setErrs = []error{transientRedisError{}}
	store := NewRedisStore(cache, time.Minute, zap.NewNop())
	store.policy = retry.Policy{Attempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	h, err := store.Put(context.Background(), "sess", testFile())
	require.NoError(t, err)
	assert.Contains(t, cache.values, keyPrefix+h.ID)
}

func TestRedisStoreReturnsOperationErrorOnFailure(t *testing.T) {
	cache := newStubCache()
	cache.setErrs = []error{errors.New("boom")}
	store := NewRedisStore(cache, time.Minute, zap.NewNop())

	_, err := store.Put(context.Background(), "sess-9", testFile())
	require.Error(t, err)

	var opErr *logging.OperationError
	require.ErrorAs(t, err, &opErr)
	assert.Equal(t, "preview.put", opErr.Operation)
	assert.Equal(t, "sess-9", opErr.SessionID)
}

func TestRedisStoreMissIsNotLoggedAsFailure(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	store := NewRedisStore(newStubCache(), time.Minute, zap.New(core))

	_, err := store.Get(context.Background(), "expired")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, logs.Len())
}
