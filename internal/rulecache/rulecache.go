// Package rulecache keeps a short-lived snapshot of the valid discount rules
// so that cart evaluation does not hit the database on every request.
//
// The snapshot may lag behind the database by up to the TTL. Usage limits
// stay correct regardless: sale commits re-check them atomically.
package rulecache

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	goCache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/printshop-discounts/internal/domain/discount"
)

const snapshotKey = "discount_rules:valid"

// Cache is a discount.RuleSource that serves rules from an in-memory
// snapshot refreshed at most once per TTL.
type Cache struct {
	src   discount.RuleSource
	items *goCache.Cache
	group singleflight.Group
}

var _ discount.RuleSource = (*Cache)(nil)

// New wraps src. A non-positive ttl disables caching.
func New(src discount.RuleSource, ttl time.Duration) *Cache {
	c := &Cache{src: src}
	if ttl > 0 {
		c.items = goCache.New(ttl, 2*ttl)
	}
	return c
}

// ListValid returns the cached snapshot or loads a fresh one. Concurrent
// misses share a single load.
func (c *Cache) ListValid(ctx context.Context, now time.Time) ([]discount.Rule, error) {
	if c.items == nil {
		return c.src.ListValid(ctx, now)
	}
	if v, ok := c.items.Get(snapshotKey); ok {
		return slices.Clone(v.([]discount.Rule)), nil
	}

	v, err, _ := c.group.Do(snapshotKey, func() (any, error) {
		if v, ok := c.items.Get(snapshotKey); ok {
			return v, nil
		}
		// The load is shared, so one caller giving up must not fail the rest.
		rules, err := c.src.ListValid(context.WithoutCancel(ctx), now)
		if err != nil {
			return nil, err
		}
		c.items.SetDefault(snapshotKey, rules)
		return rules, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "load rules")
	}
	return slices.Clone(v.([]discount.Rule)), nil
}

// Invalidate drops the snapshot so the next call reloads it.
func (c *Cache) Invalidate() {
	if c.items != nil {
		c.items.Delete(snapshotKey)
	}
}
