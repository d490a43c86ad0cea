// Package redisipc provides lightweight inter-process communication
// primitives backed by a shared Redis deployment: a shared cache, a
// producer/consumer work queue, a bounded event stream and a request/response
// duplex channel.
//
// All structures of the same kind that must interoperate share a name, which
// is used as the Redis key (or key prefix). Structures hold no local state
// besides configuration and a read cursor; every operation is one or a few
// remote round trips, and data-level atomicity (pop, trim) is delegated
// entirely to Redis.
//
// Connections are pooled by the underlying go-redis client. A connection is
// checked out per command and returned when the command completes, so a
// blocking poll loop never holds a connection across its sleep interval.
// Native blocking commands (BRPOP, XREAD BLOCK) hold one connection for at
// most the configured block slice per round trip.
//
// Known limitations, accepted by design:
//
//   - Queue delivery is at most once. A message popped by a consumer that
//     crashes before finishing its work is lost; there is no acknowledgment
//     or redelivery.
//   - A blocking call can only be abandoned by its timeout elapsing or its
//     context being canceled; there is no other out-of-band cancellation.
//   - Stream trimming and cache expiry happen server side; a reader whose
//     cursor falls out of the retention window gets ErrCursorExpired and must
//     re-synchronize, explicitly losing the skipped entries.
package redisipc
