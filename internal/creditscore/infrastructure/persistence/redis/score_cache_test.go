package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wyfcoding/creditledger/pkg/cache"
)

func newTestCache(t *testing.T) (*scoreCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := cache.NewFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = rc.Close() })
	return NewScoreCache(rc).(*scoreCache), mr
}

func TestScoreCache(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, hit, err := c.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, hit)

	stored, err := c.Set(ctx, "u-1", -4, 0, time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)
	assert.True(t, mr.Exists("credit:score:u-1"))

	score, hit, err := c.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, int64(-4), score)

	require.NoError(t, c.Invalidate(ctx, "u-1"))
	_, hit, err = c.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestScoreCacheRejectsOlderVersion(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	stored, err := c.Set(ctx, "u-1", 72, 2, time.Minute)
	require.NoError(t, err)
	require.True(t, stored)

	stored, err = c.Set(ctx, "u-1", 42, 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, stored)

	stored, err = c.Set(ctx, "u-1", 42, 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, stored)

	score, hit, err := c.Get(ctx, "u-1")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, int64(72), score)

	stored, err = c.Set(ctx, "u-1", 80, 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)
	score, _, err = c.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.Equal(t, int64(80), score)
}

func TestScoreCacheExpires(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, err := c.Set(ctx, "u-1", 10, 1, time.Minute)
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	_, hit, err := c.Get(ctx, "u-1")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestScoreCacheUnavailable(t *testing.T) {
	c, mr := newTestCache(t)

	mr.SetError("server unavailable")
	_, hit, err := c.Get(context.Background(), "u-1")
	assert.Error(t, err)
	assert.False(t, hit)

	_, err = c.Set(context.Background(), "u-1", 1, 1, time.Minute)
	assert.Error(t, err)
}
