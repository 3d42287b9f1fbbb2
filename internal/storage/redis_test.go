package storage

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*RedisClient, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisFromClient(client, "test:"), mr
}

func TestRedis_IncrWithExpirySetsTTLOnFirstIncrement(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	count, ttl, err := r.IncrWithExpiry(ctx, "user:1:API", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Equal(t, time.Minute, ttl)
	assert.Equal(t, time.Minute, mr.TTL("test:user:1:API"))

	mr.FastForward(20 * time.Second)

	count, ttl, err = r.IncrWithExpiry(ctx, "user:1:API", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.Equal(t, 40*time.Second, ttl, "later increments must not extend the window")
}

func TestRedis_IncrWithExpiryWindowRollsOver(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, _, err := r.IncrWithExpiry(ctx, "ip:10.0.0.1:AUTH", 10*time.Second)
		require.NoError(t, err)
	}

	mr.FastForward(11 * time.Second)

	count, _, err := r.IncrWithExpiry(ctx, "ip:10.0.0.1:AUTH", 10*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRedis_IncrWithExpiryRepairsMissingTTL(t *testing.T) {
	r, mr := newTestRedis(t)
	require.NoError(t, mr.Set("test:stale", "4"))

	count, ttl, err := r.IncrWithExpiry(context.Background(), "stale", 30*time.Second)
	require.NoError(t, err)
	assert.Equal(t, int64(5), count)
	assert.Equal(t, 30*time.Second, ttl)
	assert.Equal(t, 30*time.Second, mr.TTL("test:stale"))
}

func TestRedis_ConcurrentIncrementsAreAtomic(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	const n = 50
	seen := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, _, err := r.IncrWithExpiry(ctx, "burst", time.Minute)
			assert.NoError(t, err)
			seen[i] = c
		}(i)
	}
	wg.Wait()

	unique := make(map[int64]bool, n)
	for _, c := range seen {
		unique[c] = true
	}
	assert.Len(t, unique, n, "every caller must observe a distinct count")
}

func TestRedis_SetNXGetDelete(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	ok, err := r.SetNX(ctx, "lock", "a", time.Hour)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.SetNX(ctx, "lock", "b", time.Hour)
	require.NoError(t, err)
	assert.False(t, ok)

	val, found, err := r.Get(ctx, "lock")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "a", val)
	assert.Equal(t, time.Hour, mr.TTL("test:lock"))

	require.NoError(t, r.Set(ctx, "lock", "c", time.Minute))
	val, _, _ = r.Get(ctx, "lock")
	assert.Equal(t, "c", val)

	require.NoError(t, r.Delete(ctx, "lock"))
	_, found, err = r.Get(ctx, "lock")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedis_ErrorsWhenServerGone(t *testing.T) {
	r, mr := newTestRedis(t)
	mr.Close()

	_, _, err := r.IncrWithExpiry(context.Background(), "k", time.Second)
	assert.Error(t, err)
	assert.Error(t, r.Ping(context.Background()))
}
