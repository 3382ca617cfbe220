package chatqueue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/handoffhq/handoff/internal/obslog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	calls     atomic.Int32
	failUntil int32
}

func (f *fakeSender) Send(ctx context.Context, msg OutboundMessage) error {
	n := f.calls.Add(1)
	if n <= f.failUntil {
		return assertErr
	}
	return nil
}

var assertErr = errTransient{}

type errTransient struct{}

func (errTransient) Error() string { return "transient send failure" }

func TestQueue_DeliversInOrder(t *testing.T) {
	sender := &fakeSender{}
	q := New(sender, Config{RatePerSecond: 1000, Burst: 10}, obslog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	result := make(chan SendResult, 1)
	require.NoError(t, q.Enqueue(ctx, OutboundMessage{Channel: "C1", Text: "hi", Result: result}))

	select {
	case r := <-result:
		require.NoError(t, r.Err)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	assert.Equal(t, int32(1), sender.calls.Load())
}

func TestQueue_RetriesTransientFailure(t *testing.T) {
	sender := &fakeSender{failUntil: 2}
	q := New(sender, Config{RatePerSecond: 1000, Burst: 10, MaxRetries: 5}, obslog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	result := make(chan SendResult, 1)
	require.NoError(t, q.Enqueue(ctx, OutboundMessage{Channel: "C1", Text: "hi", Result: result}))

	select {
	case r := <-result:
		require.NoError(t, r.Err)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
	assert.GreaterOrEqual(t, sender.calls.Load(), int32(3))
}

func TestQueue_DrainFlushesBufferedMessages(t *testing.T) {
	sender := &fakeSender{}
	q := New(sender, Config{RatePerSecond: 1000, Burst: 10, BufferSize: 4}, obslog.Default())

	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, OutboundMessage{Channel: "C1", Text: "one"}))
	require.NoError(t, q.Enqueue(ctx, OutboundMessage{Channel: "C1", Text: "two"}))

	sent := q.Drain(ctx)
	assert.Equal(t, 2, sent)
	assert.Equal(t, int32(2), sender.calls.Load())
	assert.Equal(t, 0, q.Drain(ctx))
}
