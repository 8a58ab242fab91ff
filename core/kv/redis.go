// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package kv

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a store backed by a redis server
type Redis struct {
	client *redis.Client
}

var _ Store = (*Redis)(nil)

// NewRedisFromURL connects to the redis server at url and checks that it is reachable
func NewRedisFromURL(url string) (*Redis, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &Redis{client: client}, nil
}

// NewRedisWithClient creates a store with an existing redis client
func NewRedisWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

// Client returns the underlying redis client
func (r *Redis) Client() *redis.Client {
	return r.client
}

func redisError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, redis.Nil):
		return ErrNotFound
	case strings.HasPrefix(err.Error(), "WRONGTYPE"):
		return ErrWrongType
	case strings.HasPrefix(err.Error(), "ERR hash value is not an integer"):
		return ErrWrongType
	}
	return err
}

// Get implements Store
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	value, err := r.client.Get(ctx, key).Result()
	return value, redisError(err)
}

// Set implements Store
func (r *Redis) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	return redisError(r.client.Set(ctx, key, value, ttl).Err())
}

// Delete implements Store
func (r *Redis) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return redisError(r.client.Del(ctx, keys...).Err())
}

// HGet implements Store
func (r *Redis) HGet(ctx context.Context, key, field string) (string, error) {
	value, err := r.client.HGet(ctx, key, field).Result()
	return value, redisError(err)
}

// HSet implements Store
func (r *Redis) HSet(ctx context.Context, key, field, value string) error {
	return redisError(r.client.HSet(ctx, key, field, value).Err())
}

// HGetAll implements Store
func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	values, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, redisError(err)
	}
	return values, nil
}

// HDel implements Store
func (r *Redis) HDel(ctx context.Context, key string, fields ...string) (int64, error) {
	if len(fields) == 0 {
		return 0, nil
	}
	removed, err := r.client.HDel(ctx, key, fields...).Result()
	return removed, redisError(err)
}

// HIncrBy implements Store
func (r *Redis) HIncrBy(ctx context.Context, key, field string, increment int64) (int64, error) {
	value, err := r.client.HIncrBy(ctx, key, field, increment).Result()
	return value, redisError(err)
}

// LPush implements Store
func (r *Redis) LPush(ctx context.Context, key string, values ...string) error {
	if len(values) == 0 {
		return nil
	}
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return redisError(r.client.LPush(ctx, key, args...).Err())
}

// LRange implements Store
func (r *Redis) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	values, err := r.client.LRange(ctx, key, start, stop).Result()
	if err != nil {
		return nil, redisError(err)
	}
	return values, nil
}

// LTrim implements Store
func (r *Redis) LTrim(ctx context.Context, key string, start, stop int64) error {
	return redisError(r.client.LTrim(ctx, key, start, stop).Err())
}

// Keys implements Store. It iterates with SCAN so that large databases do not block the server.
func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	pattern := redisEscapeGlob(prefix) + "*"
	var keys []string
	iter := r.client.Scan(ctx, 0, pattern, 500).Iterator()
	seen := make(map[string]bool)
	for iter.Next(ctx) {
		// SCAN may return a key more than once
		if key := iter.Val(); !seen[key] {
			seen[key] = true
			keys = append(keys, key)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, redisError(err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Type implements Store
func (r *Redis) Type(ctx context.Context, key string) (Type, error) {
	t, err := r.client.Type(ctx, key).Result()
	if err != nil {
		return TypeNone, redisError(err)
	}
	switch t {
	case "string":
		return TypeString, nil
	case "hash":
		return TypeHash, nil
	case "list":
		return TypeList, nil
	case "none":
		return TypeNone, nil
	}
	return TypeNone, fmt.Errorf("unsupported redis type '%s' for key %s", t, key)
}

// Ping implements Store
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close implements Store
func (r *Redis) Close() error {
	return r.client.Close()
}

func redisEscapeGlob(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(c)
	}
	return b.String()
}
