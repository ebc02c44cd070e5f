package redis

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"campusmarket/internal/domain/catalog"
)

const keyPrefix = "campusmarket:catalog:"

// CatalogCache is a read-through cache in front of a catalog.Reader. Cache
// failures fall through to the underlying reader; not-found results are not cached.
type CatalogCache struct {
	next   catalog.Reader
	client goredis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

func NewCatalogCache(next catalog.Reader, client goredis.Cmdable, ttl time.Duration, logger *slog.Logger) *CatalogCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CatalogCache{next: next, client: client, ttl: ttl, logger: logger}
}

// NewClient opens a client and verifies connectivity.
func NewClient(ctx context.Context, addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{Addr: addr, Password: password, DB: db})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (c *CatalogCache) Profile(ctx context.Context, userID string) (catalog.Profile, error) {
	return readThrough(ctx, c, "profile:"+userID, func(ctx context.Context) (catalog.Profile, error) {
		return c.next.Profile(ctx, userID)
	})
}

func (c *CatalogCache) Listing(ctx context.Context, listingID string) (catalog.Listing, error) {
	return readThrough(ctx, c, "listing:"+listingID, func(ctx context.Context) (catalog.Listing, error) {
		return c.next.Listing(ctx, listingID)
	})
}

// Invalidate drops a cached profile.
func (c *CatalogCache) Invalidate(ctx context.Context, userID string) error {
	return c.client.Del(ctx, keyPrefix+"profile:"+userID).Err()
}

func readThrough[T any](ctx context.Context, c *CatalogCache, key string, load func(context.Context) (T, error)) (T, error) {
	key = keyPrefix + key
	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var v T
		if jsonErr := json.Unmarshal(raw, &v); jsonErr == nil {
			return v, nil
		}
		c.logger.WarnContext(ctx, "discarding undecodable cache entry", "key", key)
	case !errors.Is(err, goredis.Nil):
		c.logger.WarnContext(ctx, "catalog cache read failed", "key", key, "err", err)
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if payload, err := json.Marshal(v); err == nil {
		if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
			c.logger.WarnContext(ctx, "catalog cache write failed", "key", key, "err", err)
		}
	}
	return v, nil
}

var _ catalog.Reader = (*CatalogCache)(nil)
