package redisipc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// QueueOptions configures a WriteQueue or ReadQueue instance.
type QueueOptions struct {
	// Name is the Redis list key. Producers and consumers pair up by name.
	Name string
	// Identity tags produced messages and excludes them from this client's
	// own pops. Empty disables self-exclusion; consumers without an identity
	// see every message and may use the store's native blocking pop.
	Identity string
	// Codec used for message envelopes (default: json).
	Codec Codec
	// PollInterval overrides the client's poll interval for the
	// self-exclusion blocking path.
	PollInterval time.Duration
	// BlockSlice bounds how long a native blocking pop holds one pooled
	// connection per round trip (default 1s). The store's blocking pop has
	// one second timeout resolution, so values below 1s are raised to 1s.
	BlockSlice time.Duration
}

func (o QueueOptions) validate() error {
	if o.Name == "" {
		return fmt.Errorf("queue: name required")
	}
	return nil
}

// Message is a delivered queue item. ID is assigned by the producer;
// Producer is its identity tag, empty when the producer had none.
type Message[T any] struct {
	ID       string
	Producer string
	Content  T
}

// queueEnvelope is the wire form of a queue message.
type queueEnvelope[T any] struct {
	UUID     string `json:"uuid" msgpack:"uuid"`
	Producer string `json:"producer,omitempty" msgpack:"producer,omitempty"`
	Content  T      `json:"content" msgpack:"content"`
}

// WriteQueue is the producer half of a FIFO work queue over a Redis list.
type WriteQueue[T any] struct {
	c        *Client
	name     string
	identity string
	codec    Codec
}

// NewWriteQueue builds the producer half over an existing client.
func NewWriteQueue[T any](c *Client, opts QueueOptions) (*WriteQueue[T], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	codec := opts.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	return &WriteQueue[T]{
		c:        c,
		name:     opts.Name,
		identity: opts.Identity,
		codec:    codec,
	}, nil
}

// Name returns the queue name.
func (q *WriteQueue[T]) Name() string { return q.name }

// Push appends content to the queue tail and returns the assigned message id.
func (q *WriteQueue[T]) Push(ctx context.Context, content T) (string, error) {
	if err := q.c.checkOpen(); err != nil {
		return "", err
	}
	env := queueEnvelope[T]{
		UUID:     uuid.NewString(),
		Producer: q.identity,
		Content:  content,
	}
	data, err := q.codec.Marshal(env)
	if err != nil {
		return "", &EncodeError{Err: err}
	}
	if err := q.c.rdb.LPush(ctx, q.name, data).Err(); err != nil {
		return "", storeErr("queue push", err)
	}
	return env.UUID, nil
}

// ReadQueue is the consumer half of a FIFO work queue. Delivery is at most
// once: a popped message is removed from the list and never redelivered.
//
// When Identity is set, messages tagged with the same identity are skipped by
// requeueing them to the tail, so this consumer's own messages stay available
// to other consumers but lose their position relative to each other. Under
// heavy self-traffic the skip loop can starve; it is bounded by the list
// length per pop and by the timeout for blocking pops.
type ReadQueue[T any] struct {
	c            *Client
	name         string
	identity     string
	codec        Codec
	pollInterval time.Duration
	blockSlice   time.Duration
}

// NewReadQueue builds the consumer half over an existing client.
func NewReadQueue[T any](c *Client, opts QueueOptions) (*ReadQueue[T], error) {
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
	slice := opts.BlockSlice
	if slice < time.Second {
		slice = defaultBlockSlice
	}
	return &ReadQueue[T]{
		c:            c,
		name:         opts.Name,
		identity:     opts.Identity,
		codec:        codec,
		pollInterval: interval,
		blockSlice:   slice,
	}, nil
}

// Name returns the queue name.
func (q *ReadQueue[T]) Name() string { return q.name }

// Len returns the number of messages currently queued, own messages included.
func (q *ReadQueue[T]) Len(ctx context.Context) (int64, error) {
	if err := q.c.checkOpen(); err != nil {
		return 0, err
	}
	n, err := q.c.rdb.LLen(ctx, q.name).Result()
	if err != nil {
		return 0, storeErr("queue len", err)
	}
	return n, nil
}

// Pop atomically removes and returns the head message, or ok=false when the
// queue holds no message eligible for this consumer.
func (q *ReadQueue[T]) Pop(ctx context.Context) (Message[T], bool, error) {
	var zero Message[T]
	if err := q.c.checkOpen(); err != nil {
		return zero, false, err
	}

	// Bound the skip loop by the current length so a queue full of our own
	// messages terminates instead of spinning.
	attempts := int64(1)
	if q.identity != "" {
		n, err := q.c.rdb.LLen(ctx, q.name).Result()
		if err != nil {
			return zero, false, storeErr("queue len", err)
		}
		attempts = n + 1
	}

	for ; attempts > 0; attempts-- {
		data, err := q.c.rdb.RPop(ctx, q.name).Bytes()
		if errors.Is(err, redis.Nil) {
			return zero, false, nil
		}
		if err != nil {
			return zero, false, storeErr("queue pop", err)
		}

		var env queueEnvelope[T]
		if err := q.codec.Unmarshal(data, &env); err != nil {
			return zero, false, &DecodeError{Err: err}
		}
		if q.identity != "" && env.Producer == q.identity {
			// Own message: put it back at the tail for other consumers.
			if err := q.c.rdb.LPush(ctx, q.name, data).Err(); err != nil {
				return zero, false, storeErr("queue requeue", err)
			}
			continue
		}
		return Message[T]{ID: env.UUID, Producer: env.Producer, Content: env.Content}, true, nil
	}
	return zero, false, nil
}

// PopBlocking waits for an eligible message until timeout elapses. A zero
// timeout probes exactly once. Without self-exclusion it uses the store's
// native blocking pop in bounded slices; with it, it polls Pop.
func (q *ReadQueue[T]) PopBlocking(ctx context.Context, timeout time.Duration) (Message[T], error) {
	var zero Message[T]
	if err := q.c.checkOpen(); err != nil {
		return zero, err
	}

	if q.identity != "" || timeout == 0 {
		return pollUntil(ctx, q.c.clock, q.c.sleep, q.pollInterval, timeout,
			func(ctx context.Context) (Message[T], bool, error) {
				return q.Pop(ctx)
			})
	}

	start := q.c.clock.Now()
	for {
		remaining := timeout - q.c.clock.Since(start)
		if remaining <= 0 {
			return zero, ErrTimeout
		}
		// Sub-second remainders are below the blocking pop's timeout
		// resolution; spend them polling so the deadline holds.
		if remaining < time.Second {
			return pollUntil(ctx, q.c.clock, q.c.sleep, q.pollInterval, remaining,
				func(ctx context.Context) (Message[T], bool, error) {
					return q.Pop(ctx)
				})
		}
		slice := q.blockSlice
		if remaining < slice {
			slice = remaining
		}

		res, err := q.c.rdb.BRPop(ctx, slice, q.name).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return zero, storeErr("queue blocking pop", err)
		}
		// BRPOP replies [key, value].
		if len(res) < 2 {
			return zero, &DecodeError{Err: fmt.Errorf("unexpected BRPOP reply of %d elements", len(res))}
		}

		var env queueEnvelope[T]
		if err := q.codec.Unmarshal([]byte(res[1]), &env); err != nil {
			return zero, &DecodeError{Err: err}
		}
		return Message[T]{ID: env.UUID, Producer: env.Producer, Content: env.Content}, nil
	}
}
