package redisipc

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Field constants for stream entries (avoid typos/allocs).
const (
	fieldPayload    = "payload"    // raw payload bytes
	fieldProducedAt = "producedAt" // int64 ns
)

// initialCursor is the position before every entry. It never expires.
const initialCursor = "0"

// StartPosition selects where a ReadStream without an explicit cursor begins.
type StartPosition int

const (
	// StartOldest reads from the beginning of the retained window.
	StartOldest StartPosition = iota
	// StartLatest reads only entries appended after the first read.
	StartLatest
)

// StreamOptions configures a WriteStream or ReadStream instance.
type StreamOptions struct {
	// Name is the Redis stream key.
	Name string
	// MaxLen trims the stream to at most this many entries on append,
	// oldest first; 0 disables trimming. The bound is applied by whichever
	// writer appends, so with several writers the last writer's bound wins.
	MaxLen int64
	// Approx trades an exact MaxLen bound for cheaper trimming (XADD MAXLEN ~).
	// Leave false when readers rely on a deterministic retention window.
	Approx bool
	// Start selects the initial read position (default: StartOldest).
	Start StartPosition
	// ReadCount caps entries fetched per range round trip (default: 128).
	ReadCount int64
	// Codec used for entry payloads (default: json).
	Codec Codec
	// BlockSlice bounds how long a native blocking read holds one pooled
	// connection per round trip (default: 1s).
	BlockSlice time.Duration
}

func (o StreamOptions) validate() error {
	if o.Name == "" {
		return fmt.Errorf("stream: name required")
	}
	if o.MaxLen < 0 {
		return fmt.Errorf("stream: max_len must be >= 0, got %d", o.MaxLen)
	}
	return nil
}

// StreamEvent is a delivered stream entry. ID doubles as the cursor value to
// resume from after this entry.
type StreamEvent[T any] struct {
	ID         string
	Content    T
	ProducedAt time.Time
}

// WriteStream is the producer half of a bounded append-only event stream.
type WriteStream[T any] struct {
	c      *Client
	name   string
	maxLen int64
	approx bool
	codec  Codec
}

// NewWriteStream builds the producer half over an existing client.
func NewWriteStream[T any](c *Client, opts StreamOptions) (*WriteStream[T], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	codec := opts.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	return &WriteStream[T]{
		c:      c,
		name:   opts.Name,
		maxLen: opts.MaxLen,
		approx: opts.Approx,
		codec:  codec,
	}, nil
}

// Name returns the stream name.
func (s *WriteStream[T]) Name() string { return s.name }

// Append adds content to the stream, trimming to MaxLen when configured, and
// returns the id assigned by the store.
func (s *WriteStream[T]) Append(ctx context.Context, content T) (string, error) {
	if err := s.c.checkOpen(); err != nil {
		return "", err
	}
	data, err := s.codec.Marshal(content)
	if err != nil {
		return "", &EncodeError{Err: err}
	}
	args := &redis.XAddArgs{
		Stream: s.name,
		ID:     "*",
		Values: map[string]any{
			fieldPayload:    data,
			fieldProducedAt: s.c.clock.Now().UnixNano(),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = s.approx
	}
	id, err := s.c.rdb.XAdd(ctx, args).Result()
	if err != nil {
		return "", storeErr("stream append", err)
	}
	return id, nil
}

// Len returns the number of entries currently retained.
func (s *WriteStream[T]) Len(ctx context.Context) (int64, error) {
	if err := s.c.checkOpen(); err != nil {
		return 0, err
	}
	n, err := s.c.rdb.XLen(ctx, s.name).Result()
	if err != nil {
		return 0, storeErr("stream len", err)
	}
	return n, nil
}

// ReadStream is the consumer half of an event stream. It holds a cursor (the
// id of the last entry it returned) and reads strictly after it. The cursor
// lives only in this process; persist it with Cursor and Seek if reads must
// survive a restart.
//
// A ReadStream is not safe for concurrent use; give each consumer its own.
type ReadStream[T any] struct {
	c          *Client
	name       string
	start      StartPosition
	readCount  int64
	codec      Codec
	blockSlice time.Duration

	cursor   string
	resolved bool
}

// NewReadStream builds the consumer half over an existing client.
func NewReadStream[T any](c *Client, opts StreamOptions) (*ReadStream[T], error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	codec := opts.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	count := opts.ReadCount
	if count <= 0 {
		count = 128
	}
	slice := opts.BlockSlice
	if slice <= 0 {
		slice = defaultBlockSlice
	}
	return &ReadStream[T]{
		c:          c,
		name:       opts.Name,
		start:      opts.Start,
		readCount:  count,
		codec:      codec,
		blockSlice: slice,
		cursor:     initialCursor,
	}, nil
}

// Name returns the stream name.
func (s *ReadStream[T]) Name() string { return s.name }

// Cursor returns the current position: the id of the last entry read, or the
// initial position when nothing has been read yet.
func (s *ReadStream[T]) Cursor() string { return s.cursor }

// Seek repositions the stream at an explicit cursor, typically one persisted
// from a previous Cursor call. Seeking to an entry that has since been
// trimmed makes the next read fail with ErrCursorExpired.
func (s *ReadStream[T]) Seek(cursor string) {
	if cursor == "" {
		cursor = initialCursor
	}
	s.cursor = cursor
	s.resolved = true
}

// resolveStart pins a StartLatest stream to the current tail on first use.
func (s *ReadStream[T]) resolveStart(ctx context.Context) error {
	if s.resolved {
		return nil
	}
	if s.start == StartLatest {
		last, err := s.c.rdb.XRevRangeN(ctx, s.name, "+", "-", 1).Result()
		if err != nil {
			// Not resolved: the next call retries instead of silently
			// falling back to the initial cursor and replaying history.
			return storeErr("stream resolve start", err)
		}
		if len(last) > 0 {
			s.cursor = last[0].ID
		}
	}
	s.resolved = true
	return nil
}

// checkCursor verifies that the entry the cursor points at still exists.
// Every non-initial cursor names an entry this consumer (or the caller via
// Seek) actually observed, so its absence means the retention window moved
// past it and data was missed.
func (s *ReadStream[T]) checkCursor(ctx context.Context) error {
	if s.cursor == initialCursor {
		return nil
	}
	res, err := s.c.rdb.XRange(ctx, s.name, s.cursor, s.cursor).Result()
	if err != nil {
		return storeErr("stream check cursor", err)
	}
	if len(res) == 0 {
		return fmt.Errorf("%w: no entry at %s in stream %q", ErrCursorExpired, s.cursor, s.name)
	}
	return nil
}

// Read returns every entry strictly after the cursor, in append order, and
// advances the cursor past them. An empty slice means no new entries; a
// missed retention window is reported as ErrCursorExpired instead. On a
// decode failure the decoded prefix is returned together with the error and
// the cursor stops at the undecodable entry.
func (s *ReadStream[T]) Read(ctx context.Context) ([]StreamEvent[T], error) {
	if err := s.c.checkOpen(); err != nil {
		return nil, err
	}
	if err := s.resolveStart(ctx); err != nil {
		return nil, err
	}
	if err := s.checkCursor(ctx); err != nil {
		return nil, err
	}

	var events []StreamEvent[T]
	for {
		batch, err := s.c.rdb.XRangeN(ctx, s.name, "("+s.cursor, "+", s.readCount).Result()
		if err != nil {
			return events, storeErr("stream read", err)
		}
		for i := range batch {
			ev, err := s.decodeEntry(batch[i])
			if err != nil {
				return events, err
			}
			events = append(events, ev)
			s.cursor = batch[i].ID
		}
		if int64(len(batch)) < s.readCount {
			return events, nil
		}
	}
}

// NextBlocking waits for the next entry after the cursor until timeout
// elapses, advancing the cursor past it. A zero timeout probes exactly once.
func (s *ReadStream[T]) NextBlocking(ctx context.Context, timeout time.Duration) (StreamEvent[T], error) {
	var zero StreamEvent[T]
	if err := s.c.checkOpen(); err != nil {
		return zero, err
	}
	if err := s.resolveStart(ctx); err != nil {
		return zero, err
	}

	start := s.c.clock.Now()
	for first := true; ; first = false {
		if err := s.checkCursor(ctx); err != nil {
			return zero, err
		}

		remaining := timeout - s.c.clock.Since(start)
		if !first && remaining <= 0 {
			return zero, ErrTimeout
		}

		if timeout == 0 {
			// Non-blocking probe: one range read, then give up.
			batch, err := s.c.rdb.XRangeN(ctx, s.name, "("+s.cursor, "+", 1).Result()
			if err != nil {
				return zero, storeErr("stream read", err)
			}
			if len(batch) == 0 {
				return zero, ErrTimeout
			}
			ev, err := s.decodeEntry(batch[0])
			if err != nil {
				return zero, err
			}
			s.cursor = batch[0].ID
			return ev, nil
		}

		slice := s.blockSlice
		if remaining < slice {
			slice = remaining
		}
		if slice < time.Millisecond {
			slice = time.Millisecond
		}

		res, err := s.c.rdb.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.name, s.cursor},
			Count:   1,
			Block:   slice,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return zero, storeErr("stream blocking read", err)
		}
		for i := range res {
			msgs := res[i].Messages
			if len(msgs) == 0 {
				continue
			}
			ev, err := s.decodeEntry(msgs[0])
			if err != nil {
				return zero, err
			}
			s.cursor = msgs[0].ID
			return ev, nil
		}
	}
}

// Last peeks at the newest entry without moving the cursor, or ok=false when
// the stream is empty.
func (s *ReadStream[T]) Last(ctx context.Context) (StreamEvent[T], bool, error) {
	var zero StreamEvent[T]
	if err := s.c.checkOpen(); err != nil {
		return zero, false, err
	}
	res, err := s.c.rdb.XRevRangeN(ctx, s.name, "+", "-", 1).Result()
	if err != nil {
		return zero, false, storeErr("stream last", err)
	}
	if len(res) == 0 {
		return zero, false, nil
	}
	ev, err := s.decodeEntry(res[0])
	if err != nil {
		return zero, false, err
	}
	return ev, true, nil
}

func (s *ReadStream[T]) decodeEntry(m redis.XMessage) (StreamEvent[T], error) {
	var zero StreamEvent[T]
	raw, ok := m.Values[fieldPayload]
	if !ok {
		return zero, &DecodeError{Err: fmt.Errorf("stream entry %s has no %s field", m.ID, fieldPayload)}
	}
	var content T
	if err := s.codec.Unmarshal(asBytes(raw), &content); err != nil {
		return zero, &DecodeError{Err: err}
	}
	ev := StreamEvent[T]{ID: m.ID, Content: content}
	if ns, ok := toInt64(m.Values[fieldProducedAt]); ok && ns > 0 {
		ev.ProducedAt = time.Unix(0, ns)
	}
	return ev, nil
}

func asBytes(v any) []byte {
	switch b := v.(type) {
	case []byte:
		return b
	case string:
		return []byte(b)
	default:
		return []byte(fmt.Sprintf("%v", b))
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int32:
		return int64(n), true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		if n == "" {
			return 0, false
		}
		if i, err := strconv.ParseInt(n, 10, 64); err == nil {
			return i, true
		}
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return int64(f), true
		}
	case []byte:
		return toInt64(string(n))
	}
	return 0, false
}
