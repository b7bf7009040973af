package docstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/redis"
	"github.com/Adithya-Monish-Kumar-K/fts-coordinator/pkg/resilience"
)

// HashClient is the subset of the Redis client the store uses.
type HashClient interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	KeyType(ctx context.Context, key string) (string, error)
}

var _ HashClient = (*redis.Client)(nil)

// RedisStore keeps objects as Redis hashes behind an LRU read cache.
// Concurrent loads of one key share a single round trip, and a circuit
// breaker stops hammering an unreachable server.
type RedisStore struct {
	client  HashClient
	cache   *lru.Cache[string, map[string]string]
	loads   singleflight.Group
	breaker *resilience.CircuitBreaker
	metrics *metrics.Metrics
	cfg     config.RedisConfig
	logger  *slog.Logger
}

func NewRedisStore(client HashClient, cfg config.RedisConfig, m *metrics.Metrics) (*RedisStore, error) {
	size := cfg.CacheSize
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, map[string]string](size)
	if err != nil {
		return nil, fmt.Errorf("creating object cache: %w", err)
	}
	if m == nil {
		m = metrics.NewNop()
	}
	s := &RedisStore{
		client:  client,
		cache:   cache,
		metrics: m,
		cfg:     cfg,
		logger:  logger.WithComponent("docstore-redis"),
	}
	s.breaker = resilience.NewCircuitBreaker("redis-docstore", resilience.CircuitBreakerConfig{
		FailureThreshold: cfg.FailureLimit,
		OnStateChange: func(name string, _, to resilience.State) {
			m.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
		},
		IsFailure: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	})
	return s, nil
}

// call runs fn through the breaker with the per-object deadline.
func call[T any](s *RedisStore, ctx context.Context, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := s.breaker.Execute(func() error {
		v, err := resilience.CallWithTimeout(ctx, s.cfg.ObjectDeadline, name, fn)
		out = v
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return out, fmt.Errorf("%s: %w: %v", name, apperrors.ErrUnavailable, err)
	}
	return out, err
}

func (s *RedisStore) Put(ctx context.Context, key string, fields map[string]string) error {
	_, err := call(s, ctx, "redis hset", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.client.HSet(ctx, key, fields)
	})
	// The merged object is only known to Redis; reload on next read.
	s.cache.Remove(key)
	if err != nil {
		return fmt.Errorf("storing object %q: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (map[string]string, bool, error) {
	if obj, ok := s.cache.Get(key); ok {
		s.metrics.DocCacheHitsTotal.Inc()
		return maps.Clone(obj), true, nil
	}
	s.metrics.DocCacheMissesTotal.Inc()
	v, err, _ := s.loads.Do(key, func() (any, error) {
		obj, err := call(s, ctx, "redis hgetall", func(ctx context.Context) (map[string]string, error) {
			return s.client.HGetAll(ctx, key)
		})
		if err != nil {
			return nil, err
		}
		if len(obj) > 0 {
			s.cache.Add(key, obj)
		}
		return obj, nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("loading object %q: %w", key, err)
	}
	obj := v.(map[string]string)
	if len(obj) == 0 {
		return nil, false, nil
	}
	return maps.Clone(obj), true, nil
}

// Delete removes the object only when key holds a hash. Keys of any other
// type are left alone and reported as absent.
func (s *RedisStore) Delete(ctx context.Context, key string) (bool, error) {
	typ, err := call(s, ctx, "redis type", func(ctx context.Context) (string, error) {
		return s.client.KeyType(ctx, key)
	})
	if err != nil {
		return false, fmt.Errorf("checking object %q: %w", key, err)
	}
	if typ != "hash" {
		s.cache.Remove(key)
		if typ != "none" {
			s.logger.Warn("key is not a document object, not deleting", "key", key, "type", typ)
		}
		return false, nil
	}
	n, err := call(s, ctx, "redis del", func(ctx context.Context) (int64, error) {
		return s.client.Del(ctx, key)
	})
	s.cache.Remove(key)
	if err != nil {
		return false, fmt.Errorf("deleting object %q: %w", key, err)
	}
	return n > 0, nil
}

// Invalidate drops key from the read cache after an out-of-band change.
func (s *RedisStore) Invalidate(key string) {
	s.cache.Remove(key)
}
