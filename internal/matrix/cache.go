package matrix

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"vrpsolver/internal/metrics"
)

// Cache stores matrices by key. A miss is (Matrix{}, false, nil).
type Cache interface {
	Get(ctx context.Context, key string) (Matrix, bool, error)
	Set(ctx context.Context, key string, m Matrix, ttl time.Duration) error
}

// Cached serves repeated coordinate sets from a Cache. Cache failures are
// logged and fall through to the wrapped provider.
type Cached struct {
	Provider  Provider
	Cache     Cache
	TTL       time.Duration
	Namespace string // e.g. the routing profile
	Logger    *zap.Logger
}

func (c *Cached) Table(ctx context.Context, coords []Coordinate) (Matrix, error) {
	log := c.Logger
	if log == nil {
		log = zap.NewNop()
	}
	key := CacheKey(c.Namespace, coords)
	m, ok, err := c.Cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.MatrixCache.WithLabelValues("error").Inc()
		log.Warn("matrix cache get", zap.Error(err))
	case ok:
		metrics.MatrixCache.WithLabelValues("hit").Inc()
		return m, nil
	default:
		metrics.MatrixCache.WithLabelValues("miss").Inc()
	}

	m, err = c.Provider.Table(ctx, coords)
	if err != nil {
		return Matrix{}, err
	}
	if err := c.Cache.Set(ctx, key, m, c.TTL); err != nil {
		log.Warn("matrix cache set", zap.Error(err))
	}
	return m, nil
}

// CacheKey hashes the namespace and the exact coordinate sequence.
func CacheKey(namespace string, coords []Coordinate) string {
	h := sha256.New()
	h.Write([]byte(namespace))
	for _, c := range coords {
		h.Write([]byte{';'})
		h.Write(strconv.AppendFloat(nil, c.Lon, 'g', -1, 64))
		h.Write([]byte{','})
		h.Write(strconv.AppendFloat(nil, c.Lat, 'g', -1, 64))
	}
	return "matrix:" + hex.EncodeToString(h.Sum(nil))
}

type memEntry struct {
	m       Matrix
	expires time.Time
}

// MemoryCache is a process-local Cache. Expired entries are dropped on read.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: map[string]memEntry{}, now: time.Now}
}

func (c *MemoryCache) Get(_ context.Context, key string) (Matrix, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Matrix{}, false, nil
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		delete(c.entries, key)
		return Matrix{}, false, nil
	}
	return e.m, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, m Matrix, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := memEntry{m: m}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

// RedisCache stores matrices as JSON values in Redis.
type RedisCache struct {
	rdb *redis.Client
}

func NewRedisCache(rdb *redis.Client) *RedisCache { return &RedisCache{rdb: rdb} }

func (c *RedisCache) Get(ctx context.Context, key string) (Matrix, bool, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Matrix{}, false, nil
	}
	if err != nil {
		return Matrix{}, false, err
	}
	var m Matrix
	if err := json.Unmarshal(data, &m); err != nil {
		return Matrix{}, false, err
	}
	return m, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, m Matrix, ttl time.Duration) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, key, data, ttl).Err()
}
