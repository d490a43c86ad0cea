package redisipc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheOptions configures a Cache instance.
type CacheOptions struct {
	// Name is the Redis hash key. Peers sharing a cache use the same name.
	Name string
	// TTL applies to every entry at write time; 0 disables expiry.
	TTL time.Duration
	// Codec used for entry envelopes (default: json).
	Codec Codec
	// PollInterval overrides the client's poll interval for GetBlocking.
	PollInterval time.Duration
}

func (o CacheOptions) validate() error {
	if o.Name == "" {
		return fmt.Errorf("cache: name required")
	}
	if o.TTL < 0 {
		return fmt.Errorf("cache: ttl must be >= 0, got %v", o.TTL)
	}
	return nil
}

// Entry is a cache value together with the time its writer stored it.
type Entry[T any] struct {
	Content  T
	StoredAt time.Time
}

// cacheEnvelope is the wire form of an entry. Timestamp is unix milliseconds.
type cacheEnvelope[T any] struct {
	Timestamp int64 `json:"timestamp" msgpack:"timestamp"`
	Content   T     `json:"content" msgpack:"content"`
}

// Cache is a named key-value namespace with per-entry TTL, backed by a Redis
// hash. TTL bookkeeping is server side; every read and write is a round trip.
type Cache[T any] struct {
	c            *Client
	name         string
	ttl          time.Duration
	codec        Codec
	pollInterval time.Duration
}

// NewCache builds a Cache over an existing client.
func NewCache[T any](c *Client, opts CacheOptions) (*Cache[T], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	codec := opts.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = c.pollInterval
	}
	return &Cache[T]{
		c:            c,
		name:         opts.Name,
		ttl:          opts.TTL,
		codec:        codec,
		pollInterval: interval,
	}, nil
}

// Name returns the cache name.
func (ca *Cache[T]) Name() string { return ca.name }

// Set writes content under field, re-establishing the TTL if configured.
func (ca *Cache[T]) Set(ctx context.Context, field string, content T) error {
	if err := ca.c.checkOpen(); err != nil {
		return err
	}
	env := cacheEnvelope[T]{
		Timestamp: ca.c.clock.Now().UnixMilli(),
		Content:   content,
	}
	data, err := ca.codec.Marshal(env)
	if err != nil {
		return &EncodeError{Err: err}
	}
	if err := ca.c.rdb.HSet(ctx, ca.name, field, data).Err(); err != nil {
		return storeErr("cache set", err)
	}
	if ca.ttl > 0 {
		if err := ca.c.rdb.HPExpire(ctx, ca.name, ca.ttl, field).Err(); err != nil {
			return storeErr("cache expire", err)
		}
	}
	return nil
}

// Get returns the entry under field, or ok=false when absent or expired.
func (ca *Cache[T]) Get(ctx context.Context, field string) (Entry[T], bool, error) {
	var zero Entry[T]
	if err := ca.c.checkOpen(); err != nil {
		return zero, false, err
	}
	data, err := ca.c.rdb.HGet(ctx, ca.name, field).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, storeErr("cache get", err)
	}
	var env cacheEnvelope[T]
	if err := ca.codec.Unmarshal(data, &env); err != nil {
		return zero, false, &DecodeError{Err: err}
	}
	return Entry[T]{
		Content:  env.Content,
		StoredAt: time.UnixMilli(env.Timestamp),
	}, true, nil
}

// GetBlocking waits until field holds a value or timeout elapses. A zero
// timeout probes exactly once. Store and decode errors fail fast.
func (ca *Cache[T]) GetBlocking(ctx context.Context, field string, timeout time.Duration) (Entry[T], error) {
	return pollUntil(ctx, ca.c.clock, ca.c.sleep, ca.pollInterval, timeout,
		func(ctx context.Context) (Entry[T], bool, error) {
			return ca.Get(ctx, field)
		})
}

// Exists reports whether field currently holds a value.
func (ca *Cache[T]) Exists(ctx context.Context, field string) (bool, error) {
	if err := ca.c.checkOpen(); err != nil {
		return false, err
	}
	ok, err := ca.c.rdb.HExists(ctx, ca.name, field).Result()
	if err != nil {
		return false, storeErr("cache exists", err)
	}
	return ok, nil
}

// Delete removes field. Deleting an absent field is not an error.
func (ca *Cache[T]) Delete(ctx context.Context, field string) error {
	if err := ca.c.checkOpen(); err != nil {
		return err
	}
	if err := ca.c.rdb.HDel(ctx, ca.name, field).Err(); err != nil {
		return storeErr("cache delete", err)
	}
	return nil
}
