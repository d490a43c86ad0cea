package redisipc

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type job struct {
	Task string `json:"task" msgpack:"task"`
}

func TestQueue_OptionsValidation(t *testing.T) {
	c := testClient(t)

	_, err := NewWriteQueue[job](c, QueueOptions{})
	assert.Error(t, err)

	_, err = NewReadQueue[job](c, QueueOptions{})
	assert.Error(t, err)
}

func TestQueue_PushPopFIFO(t *testing.T) {
	c := testClient(t)
	name := randomName(t, "queue")
	cleanupKeys(t, c, name)
	ctx := context.Background()

	wq, err := NewWriteQueue[job](c, QueueOptions{Name: name, Identity: "p1"})
	require.NoError(t, err)
	rq, err := NewReadQueue[job](c, QueueOptions{Name: name, Identity: "p2"})
	require.NoError(t, err)

	idA, err := wq.Push(ctx, job{Task: "A"})
	require.NoError(t, err)
	require.NotEmpty(t, idA)
	_, err = wq.Push(ctx, job{Task: "B"})
	require.NoError(t, err)

	msg, ok, err := rq.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "A", msg.Content.Task)
	assert.Equal(t, idA, msg.ID)
	assert.Equal(t, "p1", msg.Producer)

	msg, ok, err = rq.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "B", msg.Content.Task)

	_, ok, err = rq.Pop(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "drained queue pops nothing")
}

func TestQueue_SelfExclusion(t *testing.T) {
	c := testClient(t)
	name := randomName(t, "queue")
	cleanupKeys(t, c, name)
	ctx := context.Background()

	wq, err := NewWriteQueue[job](c, QueueOptions{Name: name, Identity: "me"})
	require.NoError(t, err)
	self, err := NewReadQueue[job](c, QueueOptions{Name: name, Identity: "me"})
	require.NoError(t, err)
	other, err := NewReadQueue[job](c, QueueOptions{Name: name, Identity: "other"})
	require.NoError(t, err)

	_, err = wq.Push(ctx, job{Task: "mine"})
	require.NoError(t, err)

	_, ok, err := self.Pop(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "a consumer never pops its own message")

	n, err := self.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "skipped message stays queued")

	msg, ok, err := other.Pop(ctx)
	require.NoError(t, err)
	require.True(t, ok, "other consumers still receive the message")
	assert.Equal(t, "mine", msg.Content.Task)
}

func TestQueue_MutuallyExclusivePops(t *testing.T) {
	c := testClient(t)
	name := randomName(t, "queue")
	cleanupKeys(t, c, name)
	ctx := context.Background()

	wq, err := NewWriteQueue[job](c, QueueOptions{Name: name})
	require.NoError(t, err)

	const total = 50
	for i := 0; i < total; i++ {
		_, err := wq.Push(ctx, job{Task: "t"})
		require.NoError(t, err)
	}

	consume := func(rq *ReadQueue[job], got map[string]int) error {
		for {
			msg, ok, err := rq.Pop(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			got[msg.ID]++
		}
	}

	rq1, err := NewReadQueue[job](c, QueueOptions{Name: name})
	require.NoError(t, err)
	rq2, err := NewReadQueue[job](c, QueueOptions{Name: name})
	require.NoError(t, err)

	got1 := map[string]int{}
	got2 := map[string]int{}
	var wg sync.WaitGroup
	wg.Add(2)
	var err1, err2 error
	go func() { defer wg.Done(); err1 = consume(rq1, got1) }()
	go func() { defer wg.Done(); err2 = consume(rq2, got2) }()
	wg.Wait()
	require.NoError(t, err1)
	require.NoError(t, err2)

	assert.Equal(t, total, len(got1)+len(got2), "every message popped exactly once")
	for id := range got1 {
		assert.NotContains(t, got2, id, "no message delivered to both consumers")
	}
}

func TestQueue_PopBlockingNative(t *testing.T) {
	c := testClient(t)
	name := randomName(t, "queue")
	cleanupKeys(t, c, name)
	ctx := context.Background()

	wq, err := NewWriteQueue[job](c, QueueOptions{Name: name})
	require.NoError(t, err)
	rq, err := NewReadQueue[job](c, QueueOptions{Name: name})
	require.NoError(t, err)

	go func() {
		time.Sleep(300 * time.Millisecond)
		_, _ = wq.Push(ctx, job{Task: "late"})
	}()

	msg, err := rq.PopBlocking(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "late", msg.Content.Task)
}

func TestQueue_PopBlockingWithExclusion(t *testing.T) {
	c := testClient(t)
	name := randomName(t, "queue")
	cleanupKeys(t, c, name)
	ctx := context.Background()

	mine, err := NewWriteQueue[job](c, QueueOptions{Name: name, Identity: "me"})
	require.NoError(t, err)
	theirs, err := NewWriteQueue[job](c, QueueOptions{Name: name, Identity: "peer"})
	require.NoError(t, err)
	rq, err := NewReadQueue[job](c, QueueOptions{Name: name, Identity: "me"})
	require.NoError(t, err)

	_, err = mine.Push(ctx, job{Task: "own"})
	require.NoError(t, err)
	go func() {
		time.Sleep(300 * time.Millisecond)
		_, _ = theirs.Push(ctx, job{Task: "peer"})
	}()

	msg, err := rq.PopBlocking(ctx, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "peer", msg.Content.Task, "own message is skipped even on the blocking path")
}

func TestQueue_PopBlockingTimesOut(t *testing.T) {
	c := testClient(t)
	name := randomName(t, "queue")
	cleanupKeys(t, c, name)

	rq, err := NewReadQueue[job](c, QueueOptions{Name: name, BlockSlice: 100 * time.Millisecond})
	require.NoError(t, err)

	// A sub-second timeout stays below the blocking pop's one second
	// resolution, so it must be served by polling, not rounded up.
	const timeout = 300 * time.Millisecond
	start := time.Now()
	_, err = rq.PopBlocking(context.Background(), timeout)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+200*time.Millisecond)
}

func TestQueue_PopBlockingDeadlineAcrossSlices(t *testing.T) {
	c := testClient(t)
	name := randomName(t, "queue")
	cleanupKeys(t, c, name)

	rq, err := NewReadQueue[job](c, QueueOptions{Name: name})
	require.NoError(t, err)

	// One full blocking slice plus a sub-second remainder. The remainder is
	// polled, so the deadline holds instead of rounding up to a second slice.
	const timeout = 1500 * time.Millisecond
	start := time.Now()
	_, err = rq.PopBlocking(context.Background(), timeout)
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout)
	assert.Less(t, elapsed, timeout+200*time.Millisecond)
}

func TestQueue_PopBlockingZeroTimeoutProbesOnce(t *testing.T) {
	c := testClient(t)
	name := randomName(t, "queue")
	cleanupKeys(t, c, name)

	rq, err := NewReadQueue[job](c, QueueOptions{Name: name})
	require.NoError(t, err)

	start := time.Now()
	_, err = rq.PopBlocking(context.Background(), 0)

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 200*time.Millisecond)
}
