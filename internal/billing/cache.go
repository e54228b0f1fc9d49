package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// TotalsCache keeps computed monthly aggregates in Redis. Keys embed a
// per-customer version so a single bump invalidates every month, plus a
// catalog version bumped when product master data changes.
type TotalsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewTotalsCache instantiates the cache helper.
func NewTotalsCache(client *redis.Client, ttl time.Duration) *TotalsCache {
	return &TotalsCache{client: client, ttl: ttl}
}

const catalogVersionKey = "billing:totals:catalog:version"

func versionKey(customerID int64) string {
	return fmt.Sprintf("billing:totals:%d:version", customerID)
}

// Key composes the cache key for one customer-month total.
func (c *TotalsCache) Key(ctx context.Context, customerID int64, period Period, rounding bool) (string, error) {
	var ver, catalog int64
	if c != nil && c.client != nil {
		vals, err := c.client.MGet(ctx, versionKey(customerID), catalogVersionKey).Result()
		if err != nil {
			return "", err
		}
		if ver, err = parseVersion(vals[0]); err != nil {
			return "", err
		}
		if catalog, err = parseVersion(vals[1]); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("billing:totals:%d:%s:%t:%d:%d", customerID, period, rounding, ver, catalog), nil
}

func parseVersion(val any) (int64, error) {
	raw, ok := val.(string)
	if !ok {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// Fetch loads a cached aggregate or fills it using loader. hit reports
// whether Redis served the value.
func (c *TotalsCache) Fetch(ctx context.Context, key string, loader func(context.Context) (Aggregate, error)) (Aggregate, bool, error) {
	if loader == nil {
		return Aggregate{}, false, errors.New("billing: cache loader required")
	}
	if c == nil || c.client == nil {
		agg, err := loader(ctx)
		return agg, false, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var agg Aggregate
		if err := json.Unmarshal(payload, &agg); err == nil {
			return agg, true, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return Aggregate{}, false, err
	}
	agg, err := loader(ctx)
	if err != nil {
		return Aggregate{}, false, err
	}
	raw, err := json.Marshal(agg)
	if err != nil {
		return Aggregate{}, false, err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return Aggregate{}, false, err
	}
	return agg, false, nil
}

// Bump invalidates every cached total of the customer.
func (c *TotalsCache) Bump(ctx context.Context, customerID int64) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, versionKey(customerID)).Err()
}

// BumpCatalog invalidates the cached totals of every customer.
func (c *TotalsCache) BumpCatalog(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, catalogVersionKey).Err()
}
