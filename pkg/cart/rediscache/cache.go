// Package rediscache caches cart lines in Redis.
//
// Each owner has one hash. Fields are product filters ("*" for the whole
// cart), so invalidating an owner is a single DEL. Only lines are stored;
// product data is joined by the reader.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"cartflow/pkg/cart"
)

const allProducts = "*"

// Cache implements cart.Cache.
type Cache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

var _ cart.Cache = (*Cache)(nil)

// New returns a cache whose entries expire ttl after the last write.
func New(rdb redis.Cmdable, ttl time.Duration) *Cache {
	return &Cache{rdb: rdb, ttl: ttl}
}

// Key returns the hash key holding the owner's cached reads.
func Key(owner string) string {
	return "cart:" + owner
}

func field(productID string) string {
	if productID == "" {
		return allProducts
	}
	return productID
}

// Get returns the cached lines for the owner and product filter.
func (c *Cache) Get(ctx context.Context, owner, productID string) ([]cart.Line, bool, error) {
	raw, err := c.rdb.HGet(ctx, Key(owner), field(productID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var lines []cart.Line
	if err := json.Unmarshal(raw, &lines); err != nil {
		return nil, false, err
	}
	return lines, true, nil
}

// Set stores lines for the owner and product filter and refreshes the TTL.
func (c *Cache) Set(ctx context.Context, owner, productID string, lines []cart.Line) error {
	raw, err := json.Marshal(lines)
	if err != nil {
		return err
	}
	key := Key(owner)
	_, err = c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, field(productID), raw)
		if c.ttl > 0 {
			pipe.Expire(ctx, key, c.ttl)
		}
		return nil
	})
	return err
}

// Invalidate drops every cached read of the owner's cart.
func (c *Cache) Invalidate(ctx context.Context, owner string) error {
	return c.rdb.Del(ctx, Key(owner)).Err()
}
