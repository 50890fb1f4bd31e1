package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xavierca1/lead-marketplace/internal/entity"
	"github.com/xavierca1/lead-marketplace/internal/geo"
)

const (
	geocodeKeyPrefix = "geo:v1:"
	notFoundMarker   = "-"
)

// KV is the part of the Redis client the cache uses.
type KV interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// CachedGeocoder remembers geocoding answers, including misses, so repeated
// listing searches do not hit the rate-limited backend. Redis failures fall
// through to the backend.
type CachedGeocoder struct {
	kv          KV
	next        geo.Geocoder
	ttl         time.Duration
	negativeTTL time.Duration
	logger      *zap.Logger
}

func NewCachedGeocoder(kv KV, next geo.Geocoder, ttl, negativeTTL time.Duration, logger *zap.Logger) *CachedGeocoder {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if negativeTTL <= 0 {
		negativeTTL = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedGeocoder{kv: kv, next: next, ttl: ttl, negativeTTL: negativeTTL, logger: logger}
}

func (c *CachedGeocoder) Geocode(ctx context.Context, query string) (entity.Coordinates, error) {
	key := geocodeKeyPrefix + strings.ToLower(query)

	raw, err := c.kv.Get(ctx, key).Result()
	switch {
	case err == nil && raw == notFoundMarker:
		return entity.Coordinates{}, entity.ErrNotFound
	case err == nil:
		var coords entity.Coordinates
		if jsonErr := json.Unmarshal([]byte(raw), &coords); jsonErr == nil {
			return coords, nil
		}
		c.logger.Warn("dropping unreadable geocode cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		c.logger.Warn("geocode cache read failed", zap.String("key", key), zap.Error(err))
	}

	coords, err := c.next.Geocode(ctx, query)
	switch {
	case errors.Is(err, entity.ErrNotFound):
		c.store(ctx, key, notFoundMarker, c.negativeTTL)
		return entity.Coordinates{}, err
	case err != nil:
		return entity.Coordinates{}, err
	}

	if b, err := json.Marshal(coords); err == nil {
		c.store(ctx, key, string(b), c.ttl)
	}
	return coords, nil
}

func (c *CachedGeocoder) store(ctx context.Context, key, value string, ttl time.Duration) {
	if err := c.kv.Set(ctx, key, value, ttl).Err(); err != nil {
		c.logger.Warn("geocode cache write failed", zap.String("key", key), zap.Error(err))
	}
}
