package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTotalsCacheFetchAndBump(t *testing.T) {
	cache := NewTotalsCache(newRedis(t), time.Minute)
	ctx := context.Background()
	period := Period{Year: 2024, Month: time.January}

	key, err := cache.Key(ctx, customerID, period, true)
	require.NoError(t, err)
	assert.Equal(t, "billing:totals:7:2024-01:true:0:0", key)

	loads := 0
	loader := func(context.Context) (Aggregate, error) {
		loads++
		return Aggregate{RawTotal: dec(3755), Total: dec(3750), RoundingEnabled: true}, nil
	}
	agg, hit, err := cache.Fetch(ctx, key, loader)
	require.NoError(t, err)
	assert.False(t, hit)
	agg, hit, err = cache.Fetch(ctx, key, loader)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.True(t, agg.Total.Equal(dec(3750)))
	assert.Equal(t, 1, loads)

	require.NoError(t, cache.Bump(ctx, customerID))
	next, err := cache.Key(ctx, customerID, period, true)
	require.NoError(t, err)
	assert.NotEqual(t, key, next)
	_, hit, err = cache.Fetch(ctx, next, loader)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, loads)
}

func TestTotalsCacheCatalogBumpInvalidatesEveryCustomer(t *testing.T) {
	cache := NewTotalsCache(newRedis(t), time.Minute)
	ctx := context.Background()
	period := Period{Year: 2024, Month: time.January}

	first, err := cache.Key(ctx, customerID, period, false)
	require.NoError(t, err)
	other, err := cache.Key(ctx, customerID+1, period, false)
	require.NoError(t, err)

	require.NoError(t, cache.BumpCatalog(ctx))

	firstNext, err := cache.Key(ctx, customerID, period, false)
	require.NoError(t, err)
	otherNext, err := cache.Key(ctx, customerID+1, period, false)
	require.NoError(t, err)
	assert.NotEqual(t, first, firstNext)
	assert.NotEqual(t, other, otherNext)
	assert.Equal(t, "billing:totals:8:2024-01:false:0:1", otherNext)
}

func TestTotalsCacheWithoutRedis(t *testing.T) {
	var cache *TotalsCache
	ctx := context.Background()
	key, err := cache.Key(ctx, customerID, Period{Year: 2024, Month: time.January}, false)
	require.NoError(t, err)
	require.NoError(t, cache.Bump(ctx, customerID))
	require.NoError(t, cache.BumpCatalog(ctx))

	boom := errors.New("boom")
	_, hit, err := cache.Fetch(ctx, key, func(context.Context) (Aggregate, error) { return Aggregate{}, boom })
	assert.False(t, hit)
	assert.ErrorIs(t, err, boom)
}
