package redisipc

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrTimeout is returned by blocking operations when the deadline
	// elapsed with no data. Recoverable; the caller decides to retry.
	ErrTimeout = errors.New("redisipc: timed out waiting for data")

	// ErrPoolExhausted is returned when no pooled connection became
	// available within the pool's wait bound.
	ErrPoolExhausted = errors.New("redisipc: connection pool exhausted")

	// ErrCursorExpired is returned when a stream cursor points before the
	// current retention window. The caller must re-synchronize; the skipped
	// entries are lost.
	ErrCursorExpired = errors.New("redisipc: stream cursor expired")

	// ErrClientClosed is returned by operations on a closed client.
	ErrClientClosed = errors.New("redisipc: client closed")
)

// StoreError wraps a transport or remote command failure. It is surfaced
// immediately and never retried by this package.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("redisipc: %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// EncodeError wraps a codec failure while encoding a payload. Fatal for the
// single operation only; shared state is untouched.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string { return fmt.Sprintf("redisipc: encode payload: %v", e.Err) }
func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError wraps a codec failure while decoding a payload.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("redisipc: decode payload: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// storeErr classifies a remote command failure. Pool wait timeouts map onto
// ErrPoolExhausted so callers can match them without importing go-redis.
func storeErr(op string, err error) error {
	if errors.Is(err, redis.ErrPoolTimeout) {
		return fmt.Errorf("redisipc: %s: %w", op, ErrPoolExhausted)
	}
	return &StoreError{Op: op, Err: err}
}
