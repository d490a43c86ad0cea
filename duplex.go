package redisipc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Status marks a duplex response as a success or an application error.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// DuplexOptions configures a Duplex instance.
type DuplexOptions struct {
	// Name prefixes the two underlying lists: "{name}:request" and
	// "{name}:response".
	Name string
	// Codec used for message envelopes (default: json).
	Codec Codec
	// PollInterval overrides the client's poll interval for Await.
	PollInterval time.Duration
	// BlockSlice bounds how long the native blocking request pop holds one
	// pooled connection per round trip (default 1s). The store's blocking
	// pop has one second timeout resolution, so values below 1s are raised
	// to 1s.
	BlockSlice time.Duration
}

func (o DuplexOptions) validate() error {
	if o.Name == "" {
		return fmt.Errorf("duplex: name required")
	}
	return nil
}

// DuplexMessage is a correlated request or response. ID ties a response back
// to the request it answers.
type DuplexMessage[T any] struct {
	ID      string
	Status  Status
	Content T
}

// duplexEnvelope is the wire form of a duplex message.
type duplexEnvelope[T any] struct {
	UUID    string `json:"uuid" msgpack:"uuid"`
	Status  Status `json:"status,omitempty" msgpack:"status,omitempty"`
	Content T      `json:"content" msgpack:"content"`
}

// Duplex is a simple request/response channel over a pair of Redis lists.
// Requests and responses are correlated by uuid. It is meant for simple
// single-responder setups: a response popped by a reader waiting for a
// different uuid is requeued, and a response nobody awaits stays on the
// response list until trimmed externally.
type Duplex[Req, Resp any] struct {
	c            *Client
	name         string
	codec        Codec
	pollInterval time.Duration
	blockSlice   time.Duration
}

// NewDuplex builds a duplex channel over an existing client.
func NewDuplex[Req, Resp any](c *Client, opts DuplexOptions) (*Duplex[Req, Resp], error) {
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
	return &Duplex[Req, Resp]{
		c:            c,
		name:         opts.Name,
		codec:        codec,
		pollInterval: interval,
		blockSlice:   slice,
	}, nil
}

// Name returns the channel name.
func (d *Duplex[Req, Resp]) Name() string { return d.name }

func (d *Duplex[Req, Resp]) requestKey() string  { return d.name + ":request" }
func (d *Duplex[Req, Resp]) responseKey() string { return d.name + ":response" }

// Send enqueues a request and returns its uuid for a later Await.
func (d *Duplex[Req, Resp]) Send(ctx context.Context, req Req) (string, error) {
	if err := d.c.checkOpen(); err != nil {
		return "", err
	}
	env := duplexEnvelope[Req]{UUID: uuid.NewString(), Content: req}
	data, err := d.codec.Marshal(env)
	if err != nil {
		return "", &EncodeError{Err: err}
	}
	if err := d.c.rdb.LPush(ctx, d.requestKey(), data).Err(); err != nil {
		return "", storeErr("duplex send", err)
	}
	return env.UUID, nil
}

// NextRequest pops the oldest pending request, or ok=false when none is
// queued.
func (d *Duplex[Req, Resp]) NextRequest(ctx context.Context) (DuplexMessage[Req], bool, error) {
	var zero DuplexMessage[Req]
	if err := d.c.checkOpen(); err != nil {
		return zero, false, err
	}
	data, err := d.c.rdb.RPop(ctx, d.requestKey()).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, false, nil
	}
	if err != nil {
		return zero, false, storeErr("duplex next", err)
	}
	return d.decodeRequest(data)
}

// NextRequestBlocking waits for the oldest pending request until timeout
// elapses. A zero timeout probes exactly once.
func (d *Duplex[Req, Resp]) NextRequestBlocking(ctx context.Context, timeout time.Duration) (DuplexMessage[Req], error) {
	var zero DuplexMessage[Req]
	if err := d.c.checkOpen(); err != nil {
		return zero, err
	}
	if timeout == 0 {
		msg, ok, err := d.NextRequest(ctx)
		if err != nil {
			return zero, err
		}
		if !ok {
			return zero, ErrTimeout
		}
		return msg, nil
	}

	start := d.c.clock.Now()
	for {
		remaining := timeout - d.c.clock.Since(start)
		if remaining <= 0 {
			return zero, ErrTimeout
		}
		// Sub-second remainders are below the blocking pop's timeout
		// resolution; spend them polling so the deadline holds.
		if remaining < time.Second {
			return pollUntil(ctx, d.c.clock, d.c.sleep, d.pollInterval, remaining,
				func(ctx context.Context) (DuplexMessage[Req], bool, error) {
					return d.NextRequest(ctx)
				})
		}
		slice := d.blockSlice
		if remaining < slice {
			slice = remaining
		}

		res, err := d.c.rdb.BRPop(ctx, slice, d.requestKey()).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return zero, storeErr("duplex blocking next", err)
		}
		if len(res) < 2 {
			return zero, &DecodeError{Err: fmt.Errorf("unexpected BRPOP reply of %d elements", len(res))}
		}
		msg, _, err := d.decodeRequest([]byte(res[1]))
		return msg, err
	}
}

// Respond enqueues a response correlated to the request with the given id.
func (d *Duplex[Req, Resp]) Respond(ctx context.Context, id string, status Status, content Resp) error {
	if err := d.c.checkOpen(); err != nil {
		return err
	}
	if id == "" {
		return fmt.Errorf("duplex: response id required")
	}
	if status == "" {
		status = StatusSuccess
	}
	env := duplexEnvelope[Resp]{UUID: id, Status: status, Content: content}
	data, err := d.codec.Marshal(env)
	if err != nil {
		return &EncodeError{Err: err}
	}
	if err := d.c.rdb.LPush(ctx, d.responseKey(), data).Err(); err != nil {
		return storeErr("duplex respond", err)
	}
	return nil
}

// Await polls the response list for the response matching id until timeout
// elapses. Responses for other ids are requeued for their own waiters. A
// zero timeout probes exactly once.
func (d *Duplex[Req, Resp]) Await(ctx context.Context, id string, timeout time.Duration) (DuplexMessage[Resp], error) {
	return pollUntil(ctx, d.c.clock, d.c.sleep, d.pollInterval, timeout,
		func(ctx context.Context) (DuplexMessage[Resp], bool, error) {
			var zero DuplexMessage[Resp]
			if err := d.c.checkOpen(); err != nil {
				return zero, false, err
			}

			// One pass over the current list length, requeueing responses
			// that belong to other waiters.
			n, err := d.c.rdb.LLen(ctx, d.responseKey()).Result()
			if err != nil {
				return zero, false, storeErr("duplex len", err)
			}
			for ; n >= 0; n-- {
				data, err := d.c.rdb.RPop(ctx, d.responseKey()).Bytes()
				if errors.Is(err, redis.Nil) {
					return zero, false, nil
				}
				if err != nil {
					return zero, false, storeErr("duplex await", err)
				}
				var env duplexEnvelope[Resp]
				if err := d.codec.Unmarshal(data, &env); err != nil {
					// The uuid may still decode even when the content does
					// not; keep undecodable foreign responses queued for
					// their own waiter instead of consuming them here.
					var tag struct {
						UUID string `json:"uuid" msgpack:"uuid"`
					}
					if tagErr := d.codec.Unmarshal(data, &tag); tagErr == nil && tag.UUID != "" && tag.UUID != id {
						if err := d.c.rdb.LPush(ctx, d.responseKey(), data).Err(); err != nil {
							return zero, false, storeErr("duplex requeue", err)
						}
						continue
					}
					return zero, false, &DecodeError{Err: err}
				}
				if env.UUID != id {
					if err := d.c.rdb.LPush(ctx, d.responseKey(), data).Err(); err != nil {
						return zero, false, storeErr("duplex requeue", err)
					}
					continue
				}
				return DuplexMessage[Resp]{ID: env.UUID, Status: env.Status, Content: env.Content}, true, nil
			}
			return zero, false, nil
		})
}

// Call sends a request and waits for its response: Send followed by Await
// under a single timeout.
func (d *Duplex[Req, Resp]) Call(ctx context.Context, req Req, timeout time.Duration) (DuplexMessage[Resp], error) {
	var zero DuplexMessage[Resp]
	id, err := d.Send(ctx, req)
	if err != nil {
		return zero, err
	}
	return d.Await(ctx, id, timeout)
}

func (d *Duplex[Req, Resp]) decodeRequest(data []byte) (DuplexMessage[Req], bool, error) {
	var zero DuplexMessage[Req]
	var env duplexEnvelope[Req]
	if err := d.codec.Unmarshal(data, &env); err != nil {
		return zero, false, &DecodeError{Err: err}
	}
	return DuplexMessage[Req]{ID: env.UUID, Status: env.Status, Content: env.Content}, true, nil
}
