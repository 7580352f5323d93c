package matching

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"jobmate/matching-service/internal/logger"
)

const indexKeyPrefix = "matching:index:"

// DefaultIndexTTL bounds how long a cached Document lives in Redis.
const DefaultIndexTTL = 7 * 24 * time.Hour

// RedisIndexCache shares posting Documents between service instances. A nil
// client makes every call a miss.
type RedisIndexCache struct {
	client *redis.Client
	ttl    time.Duration
	log    *zap.Logger

	warnedUnavailable atomic.Bool
}

// NewRedisIndexCache returns a cache storing Documents as JSON under
// matching:index:<posting id>.
func NewRedisIndexCache(client *redis.Client, ttl time.Duration, log *zap.Logger) *RedisIndexCache {
	if ttl <= 0 {
		ttl = DefaultIndexTTL
	}
	return &RedisIndexCache{
		client: client,
		ttl:    ttl,
		log:    logger.WithFields(log, zap.String("component", "index-cache")),
	}
}

func indexKey(postingID int64) string {
	return indexKeyPrefix + strconv.FormatInt(postingID, 10)
}

func (c *RedisIndexCache) warnUnavailableOnce(err error) {
	if c.warnedUnavailable.CompareAndSwap(false, true) {
		c.log.Warn("redis unavailable, index cache degraded", zap.Error(err))
	}
}

func (c *RedisIndexCache) Get(ctx context.Context, postingID int64) (Document, bool, error) {
	if c.client == nil {
		return Document{}, false, nil
	}
	b, err := c.client.Get(ctx, indexKey(postingID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Document{}, false, nil
		}
		c.warnUnavailableOnce(err)
		return Document{}, false, err
	}
	var doc Document
	if err := json.Unmarshal(b, &doc); err != nil {
		return Document{}, false, err
	}
	return doc, true, nil
}

func (c *RedisIndexCache) Put(ctx context.Context, doc Document) error {
	if c.client == nil {
		return nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, indexKey(doc.PostingID), b, c.ttl).Err(); err != nil {
		c.warnUnavailableOnce(err)
		return err
	}
	return nil
}

// Invalidate drops the cached Document of a posting.
func (c *RedisIndexCache) Invalidate(ctx context.Context, postingID int64) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, indexKey(postingID)).Err()
}
