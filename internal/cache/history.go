package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/soaringjerry/Mindwell/internal/metrics"
	"github.com/soaringjerry/Mindwell/internal/services"
)

const (
	DefaultHistoryTTL = 10 * time.Minute
	keyPrefix         = "mindwell:history:"
	allVariants       = "_all"
)

// NewClient builds a Redis client. The connection is checked lazily.
func NewClient(addr, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

// RedisHistoryCache keeps each user's report history per variant as JSON.
// Redis failures count as misses so reads fall through to the store.
type RedisHistoryCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisHistoryCache(client *redis.Client, ttl time.Duration) *RedisHistoryCache {
	if ttl <= 0 {
		ttl = DefaultHistoryTTL
	}
	return &RedisHistoryCache{client: client, ttl: ttl}
}

func historyKey(userID, variant string) string {
	if variant == "" {
		variant = allVariants
	}
	return keyPrefix + userID + ":" + variant
}

func (c *RedisHistoryCache) GetReports(ctx context.Context, userID, variant string) ([]*services.Report, bool) {
	raw, err := c.client.Get(ctx, historyKey(userID, variant)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Printf("history cache: get: %v", err)
		}
		metrics.HistoryCacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	var reports []*services.Report
	if err := json.Unmarshal(raw, &reports); err != nil {
		log.Printf("history cache: decode: %v", err)
		metrics.HistoryCacheLookups.WithLabelValues("miss").Inc()
		return nil, false
	}
	metrics.HistoryCacheLookups.WithLabelValues("hit").Inc()
	return reports, true
}

func (c *RedisHistoryCache) SetReports(ctx context.Context, userID, variant string, reports []*services.Report) {
	val, err := json.Marshal(reports)
	if err != nil {
		log.Printf("history cache: encode: %v", err)
		return
	}
	if err := c.client.Set(ctx, historyKey(userID, variant), val, c.ttl).Err(); err != nil {
		log.Printf("history cache: set: %v", err)
	}
}

// InvalidateReports drops the cached history for the given variants and the
// cross-variant listing.
func (c *RedisHistoryCache) InvalidateReports(ctx context.Context, userID string, variants ...string) {
	keys := []string{historyKey(userID, "")}
	for _, v := range variants {
		if v != "" {
			keys = append(keys, historyKey(userID, v))
		}
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		log.Printf("history cache: invalidate: %v", err)
	}
}

func (c *RedisHistoryCache) Close() error { return c.client.Close() }

var _ services.ReportCache = (*RedisHistoryCache)(nil)
