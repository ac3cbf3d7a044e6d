// Package cache keeps recently listed posts in Redis so list pages can
// resolve their last posts without touching the database.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rexlx/volboard/forum"
	"github.com/rs/zerolog"
)

const keyPrefix = "volboard:post:"

// PostCache is a read-through forum.PostLoader. Redis failures are logged
// and the lookup falls through to the backing loader.
type PostCache struct {
	r    redis.UniversalClient
	next forum.PostLoader
	ttl  time.Duration
	log  zerolog.Logger
}

var (
	_ forum.PostLoader      = (*PostCache)(nil)
	_ forum.PostInvalidator = (*PostCache)(nil)
)

// Connect dials Redis and verifies the connection.
func Connect(ctx context.Context, addr, password string, db int) (redis.UniversalClient, error) {
	r := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := r.Ping(ctx).Err(); err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return r, nil
}

func NewPostCache(r redis.UniversalClient, next forum.PostLoader, ttl time.Duration, log zerolog.Logger) *PostCache {
	return &PostCache{
		r:    r,
		next: next,
		ttl:  ttl,
		log:  log.With().Str("component", "post_cache").Logger(),
	}
}

func postKey(id int64) string {
	return keyPrefix + strconv.FormatInt(id, 10)
}

func (c *PostCache) PostsByIDs(ctx context.Context, ids []int64) (map[int64]forum.Post, error) {
	out := make(map[int64]forum.Post, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = postKey(id)
	}

	missing := ids
	vals, err := c.r.MGet(ctx, keys...).Result()
	if err != nil {
		c.log.Warn().Err(err).Msg("cache read failed, falling back to store")
	} else {
		missing = missing[:0:0]
		for i, v := range vals {
			raw, ok := v.(string)
			if !ok {
				missing = append(missing, ids[i])
				continue
			}
			var p forum.Post
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				c.log.Warn().Err(err).Int64("post_id", ids[i]).Msg("dropping undecodable cache entry")
				missing = append(missing, ids[i])
				continue
			}
			out[p.ID] = p
		}
	}
	if len(missing) == 0 {
		return out, nil
	}

	loaded, err := c.next.PostsByIDs(ctx, missing)
	if err != nil {
		return nil, err
	}
	pipe := c.r.Pipeline()
	for id, p := range loaded {
		out[id] = p
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode post %d: %w", id, err)
		}
		pipe.Set(ctx, postKey(id), raw, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.log.Warn().Err(err).Int("posts", len(loaded)).Msg("cache fill failed")
	}
	return out, nil
}

// Forget drops cached copies of the given posts.
func (c *PostCache) Forget(ctx context.Context, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = postKey(id)
	}
	if err := c.r.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("forget posts: %w", err)
	}
	return nil
}
