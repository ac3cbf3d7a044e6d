package cache

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rexlx/volboard/forum"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingLoader struct {
	mu    sync.Mutex
	posts map[int64]forum.Post
	asked [][]int64
}

func (l *countingLoader) PostsByIDs(_ context.Context, ids []int64) (map[int64]forum.Post, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.asked = append(l.asked, append([]int64(nil), ids...))
	out := make(map[int64]forum.Post)
	for _, id := range ids {
		if p, ok := l.posts[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func openRedis(t *testing.T) redis.UniversalClient {
	t.Helper()
	addr := os.Getenv("VOLBOARD_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("VOLBOARD_TEST_REDIS_ADDR not set")
	}
	r, err := Connect(context.Background(), addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func TestPostCacheReadThrough(t *testing.T) {
	r := openRedis(t)
	ctx := context.Background()
	created := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	loader := &countingLoader{posts: map[int64]forum.Post{
		9101: {ID: 9101, TopicID: 1, Body: "first", Created: created},
		9102: {ID: 9102, TopicID: 1, Body: "second", Created: created.Add(time.Minute)},
	}}
	c := NewPostCache(r, loader, time.Minute, zerolog.Nop())
	t.Cleanup(func() { _ = c.Forget(ctx, 9101, 9102, 9103) })
	require.NoError(t, c.Forget(ctx, 9101, 9102, 9103))

	got, err := c.PostsByIDs(ctx, []int64{9101, 9102, 9103})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Equal(t, "second", got[9102].Body)
	assert.True(t, created.Equal(got[9101].Created))

	got, err = c.PostsByIDs(ctx, []int64{9101, 9102})
	require.NoError(t, err)
	assert.Len(t, got, 2)
	assert.Len(t, loader.asked, 1, "second lookup is served from redis")

	require.NoError(t, c.Forget(ctx, 9101))
	_, err = c.PostsByIDs(ctx, []int64{9101, 9102})
	require.NoError(t, err)
	require.Len(t, loader.asked, 2)
	assert.Equal(t, []int64{9101}, loader.asked[1])
}

func TestPostCacheFallsBackWhenRedisIsDown(t *testing.T) {
	r := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 50 * time.Millisecond})
	t.Cleanup(func() { _ = r.Close() })
	loader := &countingLoader{posts: map[int64]forum.Post{1: {ID: 1, Body: "x"}}}
	c := NewPostCache(r, loader, time.Minute, zerolog.Nop())

	got, err := c.PostsByIDs(context.Background(), []int64{1})
	require.NoError(t, err)
	assert.Equal(t, "x", got[1].Body)
	assert.Error(t, c.Forget(context.Background(), 1))
}
