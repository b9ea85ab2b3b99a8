package pdfcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"pagepress/internal/infra/logging"
)

const (
	keyPrefix  = "pdfcache:"
	opTimeout  = time.Second
	defaultTTL = time.Minute
)

// Cache stores rendered PDFs in Redis. A nil *Cache is a valid, always-missing cache.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New returns a cache over rdb, or nil when rdb is nil.
func New(rdb *redis.Client, ttl time.Duration) *Cache {
	if rdb == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Cache{rdb: rdb, ttl: ttl}
}

// Key derives a cache key from everything that changes the printed output.
// options is encoded as JSON, which sorts map keys.
func Key(url, wait string, options map[string]any) string {
	h := sha256.New()
	h.Write([]byte(url))
	h.Write([]byte{0})
	h.Write([]byte(wait))
	h.Write([]byte{0})
	raw, _ := json.Marshal(options)
	h.Write(raw)
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached PDF, or nil on a miss or any Redis error.
func (c *Cache) Get(ctx context.Context, key string) []byte {
	if c == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cached, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		logging.Warn("Redis read failed", "error", err)
		return nil
	}
	logging.Info("PDF cache hit", "key", key)
	return cached
}

// Set stores pdf under key. Failures are logged and otherwise ignored.
func (c *Cache) Set(ctx context.Context, key string, pdf []byte) {
	if c == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if err := c.rdb.Set(ctx, key, pdf, c.ttl).Err(); err != nil {
		logging.Warn("Redis write failed", "error", err)
	}
}
